// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// ReplyFunc sends a framed envelope back on the channel an incoming
// envelope arrived on (the reply channel, passed as context).
type ReplyFunc func(ctx context.Context, env model.Envelope) error

// QueryDispatcher executes a named query and frames its response.
type QueryDispatcher interface {
	Dispatch(ctx context.Context, req model.QueryRequestPayload) model.QueryResponsePayload
}

// BusinessHandler processes any envelope action outside the closed
// transport-level set: the "handleBusinessMessage" hook.
type BusinessHandler func(ctx context.Context, env model.Envelope, reply ReplyFunc) error

// Consumer demultiplexes incoming envelopes for one producer.
type Consumer struct {
	producer  *Producer
	bus       QueryDispatcher
	business  BusinessHandler
	log       slog.Logger
	verifyPong func(proof string) bool
}

// NewConsumer builds a Consumer bound to producer for Pong/Ack
// correlation. business may be nil, in which case unrecognized actions
// are logged and dropped. No pong verifier is installed, so every pong
// is accepted until SetPongVerifier is called.
func NewConsumer(producer *Producer, bus QueryDispatcher, business BusinessHandler, log slog.Logger) *Consumer {
	return &Consumer{producer: producer, bus: bus, business: business, log: log}
}

// SetPongVerifier installs a proof check for incoming pongs; a pong whose
// proof f rejects is ignored. Passing nil accepts every pong again.
func (c *Consumer) SetPongVerifier(f func(proof string) bool) { c.verifyPong = f }

// HandleEnvelope dispatches one incoming envelope.
func (c *Consumer) HandleEnvelope(ctx context.Context, env model.Envelope, reply ReplyFunc) error {
	switch env.Action {
	case model.ActionPing:
		return c.handlePing(ctx, env, reply)
	case model.ActionPong:
		return c.handlePong(env)
	case model.ActionQueryRequest:
		return c.handleQueryRequest(ctx, env, reply)
	case model.ActionOutboxStreamAck:
		return c.handleAck(env)
	default:
		if c.business == nil {
			c.log.Debugf("consumer: no business handler for action %q, dropping", env.Action)
			return nil
		}
		return c.business(ctx, env, reply)
	}
}

func (c *Consumer) handlePing(ctx context.Context, env model.Envelope, reply ReplyFunc) error {
	payload, err := json.Marshal(model.PongPayload{Timestamp: time.Now().UnixMicro()})
	if err != nil {
		return fmt.Errorf("marshaling pong: %w", err)
	}
	out := model.Envelope{
		Action:        model.ActionPong,
		Payload:       payload,
		RequestID:     env.RequestID,
		CorrelationID: env.CorrelationID,
		Timestamp:     time.Now().UnixMicro(),
	}
	return reply(ctx, out)
}

func (c *Consumer) handlePong(env model.Envelope) error {
	var pong model.PongPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &pong); err != nil {
			return fmt.Errorf("decoding pong payload: %w", err)
		}
	}
	if c.verifyPong != nil && !c.verifyPong(pong.Proof) {
		c.log.Warnf("consumer: pong proof verification failed, ignoring")
		return nil
	}
	c.producer.OnPong()
	return nil
}

func (c *Consumer) handleQueryRequest(ctx context.Context, env model.Envelope, reply ReplyFunc) error {
	var req model.QueryRequestPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("decoding query request: %w", err)
	}
	resp := c.bus.Dispatch(ctx, req)
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling query response: %w", err)
	}
	out := model.Envelope{
		Action:        model.ActionQueryResponse,
		Payload:       payload,
		RequestID:     env.RequestID,
		CorrelationID: env.CorrelationID,
		Timestamp:     time.Now().UnixMicro(),
	}
	return reply(ctx, out)
}

func (c *Consumer) handleAck(env model.Envelope) error {
	var ack model.OutboxStreamAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		return fmt.Errorf("decoding ack payload: %w", err)
	}
	c.producer.ResolveAck(model.AckResult{AllOk: ack.AllOk, OkIndices: ack.OkIndices})
	return nil
}
