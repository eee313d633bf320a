// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package delivery drives outbox rows to a selected wire transport with
// at-least-once delivery and a single in-flight ACK.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// connectivityWait bounds how long a DeliveryLoop iteration waits for its
// producer to come online before giving up for this tick.
const connectivityWait = 5 * time.Second

// StreamTarget is the minimal surface DeliveryLoop needs from whatever
// ProducerManager selected as the streaming producer. It is defined here,
// not imported from package transport, so delivery has no import-time
// dependency on the concrete transport stack (mirrors how eventstore
// decouples from aggregate via AggregateEventSource).
type StreamTarget interface {
	WaitForOnline(ctx context.Context, timeout time.Duration) error
	StreamWireWithAck(ctx context.Context, events []model.WireEvent) (model.AckResult, error)
}

// OutboxSource is the subset of *eventstore.Store the loop needs.
type OutboxSource interface {
	FetchDeliverAckChunk(ctx context.Context, lastSeenID, budgetBytes int64, publish func([]model.WireEvent) error) (newWatermark int64, delivered int, err error)
}

// Config bounds the loop's timing and batch sizing.
type Config struct {
	InitialInterval   time.Duration
	BackoffMultiplier float64
	MaxInterval       time.Duration
	BudgetBytes       int64
}

// Target resolves the currently-selected streaming producer, if any. It
// mirrors ProducerManager.GetStreaming without requiring
// package transport's concrete type.
type Target interface {
	Streaming() (StreamTarget, bool)
}

// DeliveryLoop drains an outbox source to a Target with at-least-once
// semantics and strict ascending outbox-id ordering.
type DeliveryLoop struct {
	cfg    Config
	store  OutboxSource
	target Target
	log    slog.Logger

	lastSeenID int64
}

// New constructs a DeliveryLoop starting from watermark 0.
func New(cfg Config, store OutboxSource, target Target, log slog.Logger) *DeliveryLoop {
	return &DeliveryLoop{cfg: cfg, store: store, target: target, log: log}
}

// Watermark reports the last delivered outbox id.
func (d *DeliveryLoop) Watermark() int64 { return d.lastSeenID }

// Run drives the tick loop until ctx is canceled.
func (d *DeliveryLoop) Run(ctx context.Context) {
	interval := d.cfg.InitialInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		progressed := d.tick(ctx)
		if progressed {
			interval = d.cfg.InitialInterval
		} else {
			interval = nextInterval(interval, d.cfg.BackoffMultiplier, d.cfg.MaxInterval)
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

// Tick runs one delivery iteration and reports whether it made progress
// (delivered a non-empty chunk), so Run can decide whether to back off.
// Exported so a caller can drive delivery off an event-arrival signal
// instead of (or in addition to) the periodic sweep.
func (d *DeliveryLoop) Tick(ctx context.Context) bool { return d.tick(ctx) }

func (d *DeliveryLoop) tick(ctx context.Context) bool {
	target, ok := d.target.Streaming()
	if !ok {
		// No streaming producer: deliver nothing and wait for one.
		// There is nothing to retry against, so this is not "progress"
		// but also not an error worth logging every tick.
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, connectivityWait)
	err := target.WaitForOnline(waitCtx, connectivityWait)
	cancel()
	if err != nil {
		d.log.Debugf("delivery: producer offline, deferring chunk: %v", err)
		return false
	}

	var ackErr error
	newWatermark, delivered, err := d.store.FetchDeliverAckChunk(ctx, d.lastSeenID, d.cfg.BudgetBytes, func(events []model.WireEvent) error {
		ack, err := target.StreamWireWithAck(ctx, events)
		if err != nil {
			ackErr = err
			return err
		}
		if !ack.AllOk {
			ackErr = errors.New("partial ack: not all events accepted")
			return ackErr
		}
		return nil
	})
	if err != nil {
		if ackErr != nil {
			d.log.Warnf("delivery: publish rejected, chunk retained at watermark %d: %v", d.lastSeenID, err)
		} else {
			d.log.Errorf("delivery: fetch/ack failed: %v", err)
		}
		return false
	}
	if delivered == 0 {
		return false
	}

	d.lastSeenID = newWatermark
	d.log.Debugf("delivery: advanced watermark to %d (%d events)", newWatermark, delivered)
	return true
}
