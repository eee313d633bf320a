// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

type fakeOutboxSource struct {
	rows       []model.WireEvent
	lastSeenID int64
	nextID     int64
}

func (f *fakeOutboxSource) FetchDeliverAckChunk(ctx context.Context, lastSeenID, budgetBytes int64, publish func([]model.WireEvent) error) (int64, int, error) {
	if len(f.rows) == 0 {
		return lastSeenID, 0, nil
	}
	chunk := f.rows
	if err := publish(chunk); err != nil {
		return lastSeenID, 0, err
	}
	f.rows = nil
	return f.nextID, len(chunk), nil
}

type fakeStreamTarget struct {
	online  bool
	ack     model.AckResult
	ackErr  error
	onlineErr error
}

func (f *fakeStreamTarget) WaitForOnline(ctx context.Context, timeout time.Duration) error {
	if !f.online {
		if f.onlineErr != nil {
			return f.onlineErr
		}
		return errors.New("offline")
	}
	return nil
}

func (f *fakeStreamTarget) StreamWireWithAck(ctx context.Context, events []model.WireEvent) (model.AckResult, error) {
	if f.ackErr != nil {
		return model.AckResult{}, f.ackErr
	}
	return f.ack, nil
}

type fakeTarget struct {
	target StreamTarget
	ok     bool
}

func (f *fakeTarget) Streaming() (StreamTarget, bool) { return f.target, f.ok }

func testConfig() Config {
	return Config{
		InitialInterval:   time.Millisecond,
		BackoffMultiplier: 2,
		MaxInterval:       10 * time.Millisecond,
		BudgetBytes:       1 << 20,
	}
}

func TestTickNoOpWithoutStreamingProducer(t *testing.T) {
	t.Parallel()
	store := &fakeOutboxSource{rows: []model.WireEvent{{ModelName: "network"}}}
	loop := New(testConfig(), store, &fakeTarget{ok: false}, slog.Disabled)
	if loop.Tick(context.Background()) {
		t.Fatalf("expected no progress without a streaming producer")
	}
	if loop.Watermark() != 0 {
		t.Fatalf("watermark must not advance without delivery")
	}
}

func TestTickDeliversAndAdvancesWatermark(t *testing.T) {
	t.Parallel()
	store := &fakeOutboxSource{rows: []model.WireEvent{{ModelName: "network"}}, nextID: 5}
	target := &fakeStreamTarget{online: true, ack: model.AckResult{AllOk: true}}
	loop := New(testConfig(), store, &fakeTarget{target: target, ok: true}, slog.Disabled)

	if !loop.Tick(context.Background()) {
		t.Fatalf("expected progress on successful delivery")
	}
	if loop.Watermark() != 5 {
		t.Fatalf("expected watermark 5, got %d", loop.Watermark())
	}
}

func TestTickRetainsChunkOnAckFailure(t *testing.T) {
	t.Parallel()
	store := &fakeOutboxSource{rows: []model.WireEvent{{ModelName: "network"}}, nextID: 5}
	target := &fakeStreamTarget{online: true, ackErr: errors.New("ack timeout")}
	loop := New(testConfig(), store, &fakeTarget{target: target, ok: true}, slog.Disabled)

	if loop.Tick(context.Background()) {
		t.Fatalf("expected no progress when ack fails")
	}
	if loop.Watermark() != 0 {
		t.Fatalf("watermark must not advance on ack failure, got %d", loop.Watermark())
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected chunk retained in store after publish failure")
	}
}

func TestTickDefersWhenProducerOffline(t *testing.T) {
	t.Parallel()
	store := &fakeOutboxSource{rows: []model.WireEvent{{ModelName: "network"}}}
	target := &fakeStreamTarget{online: false}
	loop := New(testConfig(), store, &fakeTarget{target: target, ok: true}, slog.Disabled)

	if loop.Tick(context.Background()) {
		t.Fatalf("expected no progress while producer offline")
	}
}
