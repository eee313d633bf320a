// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

type fakeBus struct {
	resp model.QueryResponsePayload
}

func (b *fakeBus) Dispatch(ctx context.Context, req model.QueryRequestPayload) model.QueryResponsePayload {
	b.resp.Name = req.Name
	return b.resp
}

func TestHandleEnvelopePingRepliesWithPong(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)
	c := NewConsumer(p, &fakeBus{}, nil, slog.Disabled)

	var got model.Envelope
	reply := func(ctx context.Context, env model.Envelope) error {
		got = env
		return nil
	}
	if err := c.HandleEnvelope(context.Background(), model.Envelope{Action: model.ActionPing, RequestID: "r1"}, reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != model.ActionPong || got.RequestID != "r1" {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestHandleEnvelopePongUpdatesProducer(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)
	c := NewConsumer(p, &fakeBus{}, nil, slog.Disabled)

	payload, _ := json.Marshal(model.PongPayload{Timestamp: 123})
	if err := c.HandleEnvelope(context.Background(), model.Envelope{Action: model.ActionPong, Payload: payload}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsConnected() {
		t.Fatalf("expected connected after pong")
	}
}

func TestHandleEnvelopeQueryRequestDispatches(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)
	bus := &fakeBus{resp: model.QueryResponsePayload{Data: json.RawMessage(`{"ok":true}`)}}
	c := NewConsumer(p, bus, nil, slog.Disabled)

	dto, _ := json.Marshal(model.QueryRequestPayload{Name: "getchaintip"})
	var got model.Envelope
	reply := func(ctx context.Context, env model.Envelope) error {
		got = env
		return nil
	}
	if err := c.HandleEnvelope(context.Background(), model.Envelope{Action: model.ActionQueryRequest, Payload: dto}, reply); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Action != model.ActionQueryResponse {
		t.Fatalf("expected QueryResponse, got %s", got.Action)
	}
}

func TestHandleEnvelopeAckResolvesProducer(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)
	c := NewConsumer(p, &fakeBus{}, nil, slog.Disabled)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.WaitForAck(context.Background(), func() error { return nil })
		errCh <- err
	}()

	payload, _ := json.Marshal(model.OutboxStreamAckPayload{AllOk: true})
	// Give WaitForAck a moment to install its pending slot.
	time.Sleep(5 * time.Millisecond)
	if err := c.HandleEnvelope(context.Background(), model.Envelope{Action: model.ActionOutboxStreamAck, Payload: payload}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected WaitForAck error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForAck did not resolve after ack envelope")
	}
}

func TestHandleEnvelopeBusinessFallback(t *testing.T) {
	t.Parallel()
	raw := newFakeRaw(true)
	p := NewProducer("p1", testProducerConfig(), raw, slog.Disabled)

	called := false
	business := func(ctx context.Context, env model.Envelope, reply ReplyFunc) error {
		called = true
		return nil
	}
	c := NewConsumer(p, &fakeBus{}, business, slog.Disabled)
	if err := c.HandleEnvelope(context.Background(), model.Envelope{Action: "custom.thing"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected business handler invoked")
	}
}
