// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package batchiter hands byte-bounded batches pulled from a BlockQueue
// to a domain executor and waits for its completion signal before
// advancing.
package batchiter

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/blockqueue"
	"github.com/EXCCoin/exccidx/internal/model"
)

// Batch is handed to the Executor for processing.
type Batch struct {
	Blocks    []model.Block
	RequestID string
}

// Executor applies a batch of blocks to the domain model (aggregates +
// persistence). The CQRS command/event dispatch framework and
// per-aggregate business rules beyond this interface are external
// collaborators, out of this core's scope.
type Executor interface {
	HandleBatch(ctx context.Context, b Batch) error
}

// Config bounds the iterator's timing and batch sizing.
type Config struct {
	InitialInterval   time.Duration
	BackoffMultiplier float64
	MaxInterval       time.Duration
	BudgetBytes       int64
}

// signal is a one-shot, externally resolvable completion gate: a
// "batchProcessedSignal" exposed so downstream machinery (the executor,
// or code that dequeues blocks only after event persistence) can
// acknowledge batch completion.
type signal struct {
	done chan struct{}
	once sync.Once
}

func newSignal() *signal { return &signal{done: make(chan struct{})} }

func (s *signal) resolve() { s.once.Do(func() { close(s.done) }) }

func resolvedSignal() *signal {
	s := newSignal()
	s.resolve()
	return s
}

// BatchIterator drives Executor.HandleBatch against successive
// byte-bounded batches pulled from a BlockQueue.
type BatchIterator struct {
	cfg      Config
	queue    *blockqueue.BlockQueue
	executor Executor
	log      slog.Logger

	mu     sync.Mutex
	sig    *signal
	active bool
}

// New constructs a BatchIterator. The queue is considered empty of work
// initially, so the first signal starts pre-resolved.
func New(cfg Config, queue *blockqueue.BlockQueue, executor Executor, log slog.Logger) *BatchIterator {
	return &BatchIterator{
		cfg:      cfg,
		queue:    queue,
		executor: executor,
		log:      log,
		sig:      resolvedSignal(),
	}
}

// AckCurrentBatch resolves the signal for the in-flight batch, letting
// the next tick proceed. It is exposed so the executor (or the
// downstream dequeue step after event persistence) can acknowledge
// completion independently of HandleBatch's return value.
func (it *BatchIterator) AckCurrentBatch() {
	it.mu.Lock()
	sig := it.sig
	it.mu.Unlock()
	sig.resolve()
}

// Run drives the tick loop until ctx is canceled.
func (it *BatchIterator) Run(ctx context.Context) {
	it.mu.Lock()
	it.active = true
	it.mu.Unlock()

	interval := it.cfg.InitialInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	defer it.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		progressed := it.tick(ctx)
		if progressed {
			interval = it.cfg.InitialInterval
		} else {
			interval = nextInterval(interval, it.cfg.BackoffMultiplier, it.cfg.MaxInterval)
		}
		timer.Reset(interval)
	}
}

func nextInterval(cur time.Duration, mult float64, cap time.Duration) time.Duration {
	next := time.Duration(float64(cur) * mult)
	if next > cap {
		next = cap
	}
	if next <= 0 {
		next = cap
	}
	return next
}

// tick runs one iteration; it returns true when a non-empty batch was
// dispatched (signaling the caller to fast-follow rather than back off).
func (it *BatchIterator) tick(ctx context.Context) bool {
	it.mu.Lock()
	prevSig := it.sig
	it.mu.Unlock()

	select {
	case <-prevSig.done:
	case <-ctx.Done():
		return false
	}

	batch := it.queue.GetBatchUpToSize(it.cfg.BudgetBytes)
	if len(batch) == 0 {
		return false
	}

	next := newSignal()
	it.mu.Lock()
	it.sig = next
	it.mu.Unlock()

	b := Batch{Blocks: batch, RequestID: uuid.New().String()}
	if err := it.executor.HandleBatch(ctx, b); err != nil {
		it.log.Errorf("batch %s failed, will retry next tick: %v", b.RequestID, err)
		next.resolve()
		return false
	}
	return true
}

// shutdown resolves any outstanding signal so no caller blocks forever
// past cancellation, and marks the iterator inactive.
func (it *BatchIterator) shutdown() {
	it.mu.Lock()
	sig := it.sig
	it.active = false
	it.mu.Unlock()
	sig.resolve()
}
