// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

type fakeRaw struct {
	connected atomic.Bool
	sent      atomic.Int64
	sendErr   error
}

func newFakeRaw(connected bool) *fakeRaw {
	r := &fakeRaw{}
	r.connected.Store(connected)
	return r
}

func (r *fakeRaw) Send(ctx context.Context, frame []byte) error {
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent.Add(1)
	return nil
}

func (r *fakeRaw) Connected() bool { return r.connected.Load() }
func (r *fakeRaw) Close() error    { r.connected.Store(false); return nil }

func testProducerConfig() Config {
	return Config{
		MaxMessageBytes: 4096,
		AckTimeout:      50 * time.Millisecond,
		Heartbeat: HeartbeatConfig{
			Interval:    5 * time.Millisecond,
			Multiplier:  2,
			MaxInterval: 20 * time.Millisecond,
			Timeout:     100 * time.Millisecond,
		},
	}
}

func TestSendMessageRejectsOversizedEnvelope(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	cfg := testProducerConfig()
	cfg.MaxMessageBytes = 10
	p := NewProducer("p1", cfg, raw, slog.Disabled)

	err := p.SendMessage(context.Background(), model.Envelope{Action: model.ActionPing})
	if !errors.Is(err, model.ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
	if raw.sent.Load() != 0 {
		t.Fatalf("raw transport must not be invoked when size check fails")
	}
}

func TestSendMessageSizeCapUsesByteLengthNotRuneCount(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	env := model.Envelope{Action: model.ActionPing, RequestID: strings.Repeat("世", 50)}

	frame, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	runeLen := utf8.RuneCountInString(string(frame))
	byteLen := len(frame)
	if byteLen <= runeLen {
		t.Fatalf("test payload must exercise multi-byte UTF-8: byteLen=%d runeLen=%d", byteLen, runeLen)
	}

	// Sized to pass a rune-count check but fail the correct byte-count one.
	cfg := testProducerConfig()
	cfg.MaxMessageBytes = runeLen + model.EnvelopeOverheadBytes
	p := NewProducer("p1", cfg, raw, slog.Disabled)

	if err := p.SendMessage(context.Background(), env); !errors.Is(err, model.ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded for multi-byte payload exceeding the byte cap, got %v", err)
	}
}

func TestSendMessageRequiresConnectivity(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(false)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)

	err := p.SendMessage(context.Background(), model.Envelope{Action: model.ActionPing})
	if !errors.Is(err, model.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestWaitForAckRejectsConcurrentCalls(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)

	started := make(chan struct{})
	go func() {
		p.WaitForAck(context.Background(), func() error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			return nil
		})
	}()
	<-started

	_, err := p.WaitForAck(context.Background(), func() error { return nil })
	if !errors.Is(err, model.ErrACKAlreadyPending) {
		t.Fatalf("expected ErrACKAlreadyPending, got %v", err)
	}
}

func TestWaitForAckResolvesOnAck(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)

	go func() {
		time.Sleep(5 * time.Millisecond)
		p.ResolveAck(model.AckResult{AllOk: true})
	}()

	result, err := p.WaitForAck(context.Background(), func() error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.AllOk {
		t.Fatalf("expected AllOk result")
	}
}

func TestWaitForAckTimesOut(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	cfg := testProducerConfig()
	cfg.AckTimeout = 10 * time.Millisecond
	p := NewProducer("p1", cfg, raw, slog.Disabled)

	_, err := p.WaitForAck(context.Background(), func() error { return nil })
	if !errors.Is(err, model.ErrDelivery) {
		t.Fatalf("expected ErrDelivery-wrapped timeout, got %v", err)
	}
}

func TestIsConnectedWarmBeforeFirstPong(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)
	if !p.IsConnected() {
		t.Fatalf("expected warm connected=true before any pong")
	}
}

func TestIsConnectedFalseAfterStalePong(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	cfg := testProducerConfig()
	cfg.Heartbeat.Timeout = 5 * time.Millisecond
	p := NewProducer("p1", cfg, raw, slog.Disabled)

	p.OnPong()
	time.Sleep(15 * time.Millisecond)
	if p.IsConnected() {
		t.Fatalf("expected connected=false once pong is stale")
	}
}

func TestDestroyRejectsPendingAck(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.WaitForAck(context.Background(), func() error { return nil })
		errCh <- err
	}()
	time.Sleep(5 * time.Millisecond)
	p.Destroy()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected destroyed error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForAck did not unblock after Destroy")
	}
}
