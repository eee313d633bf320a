// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batchiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/blockqueue"
	"github.com/EXCCoin/exccidx/internal/model"
)

type countingExecutor struct {
	calls   int
	failNext bool
	lastBatch Batch
}

func (e *countingExecutor) HandleBatch(ctx context.Context, b Batch) error {
	e.calls++
	e.lastBatch = b
	if e.failNext {
		e.failNext = false
		return errors.New("boom")
	}
	return nil
}

func cfg() Config {
	return Config{
		InitialInterval:   time.Millisecond,
		BackoffMultiplier: 2,
		MaxInterval:       5 * time.Millisecond,
		BudgetBytes:       1000,
	}
}

func TestTickDispatchesNonEmptyBatch(t *testing.T) {
	t.Parallel()

	q := blockqueue.New(-1, 100_000, 0)
	q.Enqueue(model.Block{Height: 0, Hash: "h0", Size: 10})
	exec := &countingExecutor{}
	it := New(cfg(), q, exec, slog.Disabled)

	progressed := it.tick(context.Background())
	if !progressed {
		t.Fatalf("expected progressed=true for a non-empty batch")
	}
	if exec.calls != 1 {
		t.Fatalf("expected executor called once, got %d", exec.calls)
	}
	if exec.lastBatch.RequestID == "" {
		t.Fatalf("expected a non-empty request id")
	}
}

func TestTickEmptyQueueDoesNothing(t *testing.T) {
	t.Parallel()

	q := blockqueue.New(-1, 100_000, 0)
	exec := &countingExecutor{}
	it := New(cfg(), q, exec, slog.Disabled)

	if it.tick(context.Background()) {
		t.Fatalf("expected no progress on empty queue")
	}
	if exec.calls != 0 {
		t.Fatalf("expected executor not called")
	}
}

func TestTickWaitsForPriorAck(t *testing.T) {
	t.Parallel()

	q := blockqueue.New(-1, 100_000, 0)
	q.Enqueue(model.Block{Height: 0, Hash: "h0", Size: 10})
	exec := &countingExecutor{}
	it := New(cfg(), q, exec, slog.Disabled)

	// Simulate an outstanding unresolved signal from a previous batch.
	it.mu.Lock()
	it.sig = newSignal()
	it.mu.Unlock()

	done := make(chan bool, 1)
	go func() { done <- it.tick(context.Background()) }()

	select {
	case <-done:
		t.Fatalf("tick should block until the prior signal resolves")
	case <-time.After(20 * time.Millisecond):
	}

	it.AckCurrentBatch()
	select {
	case progressed := <-done:
		if !progressed {
			t.Fatalf("expected progress after ack unblocked the tick")
		}
	case <-time.After(time.Second):
		t.Fatalf("tick did not unblock after ack")
	}
}

func TestTickFailureResolvesSignalForRetry(t *testing.T) {
	t.Parallel()

	q := blockqueue.New(-1, 100_000, 0)
	q.Enqueue(model.Block{Height: 0, Hash: "h0", Size: 10})
	exec := &countingExecutor{failNext: true}
	it := New(cfg(), q, exec, slog.Disabled)

	if it.tick(context.Background()) {
		t.Fatalf("expected progressed=false on executor failure")
	}
	// Same batch should be retried since it was never dequeued.
	if it.tick(context.Background()) != true {
		t.Fatalf("expected retry to succeed and dispatch the same batch")
	}
	if exec.calls != 2 {
		t.Fatalf("expected two HandleBatch calls (fail then retry), got %d", exec.calls)
	}
}
