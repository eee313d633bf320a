// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transport owns wire connections, envelope framing, and ACK
// correlation for the producer/consumer fabric. The single-outstanding-
// ACK future is grounded on the rpcclient "Future*Result chan *response"
// pattern exccd's own RPC client uses throughout: a single-slot channel
// stands in for a deferred, and WaitForAck/ResolveAck are the two ends
// of it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// RawTransport is the connection-specific send/connected surface a
// concrete transport (WebSocket, IPC, HTTP stream) supplies to Producer.
type RawTransport interface {
	// Send writes one already-framed envelope. Implementations must be
	// safe for concurrent use with Connected and Close.
	Send(ctx context.Context, frame []byte) error
	Connected() bool
	Close() error
}

// HeartbeatConfig bounds the producer's liveness probing.
type HeartbeatConfig struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	Timeout     time.Duration
}

// Config bounds a producer's framing and ACK behavior.
type Config struct {
	MaxMessageBytes int
	AckTimeout      time.Duration
	Heartbeat       HeartbeatConfig
}

// errAckTimeout and errDestroyed are local to the ACK-future life cycle;
// everything else funnels through the model error sentinels so callers
// across packages can use a single errors.Is vocabulary.
var (
	errAckTimeout = errors.New("ack timeout")
	errDestroyed  = errors.New("destroyed")
)

// ackOutcome is what an ackFuture ultimately delivers: either a result or
// a terminal error (e.g. destroyed while pending).
type ackOutcome struct {
	result model.AckResult
	err    error
}

// ackFuture is a single-slot deferred: exactly one resolve completes it,
// mirroring rpcclient's "chan *response" future.
type ackFuture struct {
	done chan ackOutcome
	once sync.Once
}

func newAckFuture() *ackFuture { return &ackFuture{done: make(chan ackOutcome, 1)} }

func (f *ackFuture) resolve(v model.AckResult) {
	f.once.Do(func() { f.done <- ackOutcome{result: v} })
}

func (f *ackFuture) reject(err error) {
	f.once.Do(func() { f.done <- ackOutcome{err: err} })
}

// Producer owns one wire connection: liveness, framing, and a single
// outstanding ACK slot.
type Producer struct {
	name string
	cfg  Config
	raw  RawTransport
	log  slog.Logger

	mu      sync.Mutex
	pending *ackFuture

	lastPongAt atomic.Int64 // unix nanos; 0 means "never"
	stopHB     chan struct{}
	hbOnce     sync.Once
	destroyed  atomic.Bool
}

// NewProducer wraps raw with ACK correlation, size enforcement, and
// heartbeat liveness.
func NewProducer(name string, cfg Config, raw RawTransport, log slog.Logger) *Producer {
	return &Producer{name: name, cfg: cfg, raw: raw, log: log}
}

// Name returns the producer's registration name.
func (p *Producer) Name() string { return p.name }

// SendMessage serializes env once, enforces the size cap, and requires
// connectivity before delegating to the raw transport.
func (p *Producer) SendMessage(ctx context.Context, env model.Envelope) error {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMicro()
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if len(frame)+model.EnvelopeOverheadBytes > p.cfg.MaxMessageBytes {
		return fmt.Errorf("%w: %d bytes", model.ErrSizeExceeded, len(frame)+model.EnvelopeOverheadBytes)
	}
	if !p.IsConnected() {
		return model.ErrNotConnected
	}
	return p.raw.Send(ctx, frame)
}

// WaitForAck installs a fresh ACK slot, invokes send (which must deliver
// the correlated batch), and blocks until ResolveAck, ctx cancellation,
// or the configured ACK timeout — whichever comes first. A second
// concurrent call fails immediately with ErrACKAlreadyPending.
func (p *Producer) WaitForAck(ctx context.Context, send func() error) (model.AckResult, error) {
	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return model.AckResult{}, model.ErrACKAlreadyPending
	}
	fut := newAckFuture()
	p.pending = fut
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending == fut {
			p.pending = nil
		}
		p.mu.Unlock()
	}()

	if err := send(); err != nil {
		return model.AckResult{}, err
	}

	timer := time.NewTimer(p.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case out := <-fut.done:
		return out.result, out.err
	case <-timer.C:
		return model.AckResult{}, fmt.Errorf("%w: %v", model.ErrDelivery, errAckTimeout)
	case <-ctx.Done():
		return model.AckResult{}, ctx.Err()
	}
}

// ResolveAck completes the outstanding ACK future, if any. Called by the
// Consumer upon receiving an OutboxStreamAck envelope.
func (p *Producer) ResolveAck(v model.AckResult) {
	p.mu.Lock()
	fut := p.pending
	p.mu.Unlock()
	if fut != nil {
		fut.resolve(v)
	}
}

// OnPong timestamps the most recent pong and implicitly resets heartbeat
// backoff (the next tick recomputes its interval from lastPongAt).
func (p *Producer) OnPong() {
	p.lastPongAt.Store(time.Now().UnixNano())
}

// IsConnected reports transport connectivity AND liveness: true if the
// raw transport is connected and either no pong has ever arrived (warm
// startup grace) or the last pong is within Heartbeat.Timeout.
func (p *Producer) IsConnected() bool {
	if !p.raw.Connected() {
		return false
	}
	last := p.lastPongAt.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) < p.cfg.Heartbeat.Timeout
}

// WaitForOnline short-polls IsConnected at ~25ms granularity until
// timeout or connectivity.
func (p *Producer) WaitForOnline(ctx context.Context, timeout time.Duration) error {
	if p.IsConnected() {
		return nil
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.IsConnected() {
				return nil
			}
			if time.Now().After(deadline) {
				return model.ErrNotConnected
			}
		}
	}
}

// StartHeartbeat runs an exponential-backoff ping loop until ctx is
// canceled or StopHeartbeat/Destroy is called.
func (p *Producer) StartHeartbeat(ctx context.Context) {
	p.stopHB = make(chan struct{})
	go p.heartbeatLoop(ctx)
}

func (p *Producer) heartbeatLoop(ctx context.Context) {
	interval := p.cfg.Heartbeat.Interval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopHB:
			return
		case <-timer.C:
		}

		if p.raw.Connected() {
			env := model.Envelope{Action: model.ActionPing, Timestamp: time.Now().UnixMicro()}
			if err := p.SendMessage(ctx, env); err != nil {
				p.log.Debugf("producer %s: heartbeat ping failed: %v", p.name, err)
			}
		}

		if p.IsConnected() {
			interval = p.cfg.Heartbeat.Interval
		} else {
			interval = time.Duration(float64(interval) * p.cfg.Heartbeat.Multiplier)
			cap := p.cfg.Heartbeat.MaxInterval
			if cap <= 0 || cap > p.cfg.Heartbeat.Timeout {
				cap = p.cfg.Heartbeat.Timeout
			}
			if interval > cap {
				interval = cap
			}
		}
		timer.Reset(interval)
	}
}

// StopHeartbeat stops the heartbeat loop without destroying the producer.
func (p *Producer) StopHeartbeat() {
	p.hbOnce.Do(func() {
		if p.stopHB != nil {
			close(p.stopHB)
		}
	})
}

// Destroy stops the heartbeat and rejects any pending ACK.
func (p *Producer) Destroy() {
	if !p.destroyed.CompareAndSwap(false, true) {
		return
	}
	p.StopHeartbeat()
	p.mu.Lock()
	fut := p.pending
	p.pending = nil
	p.mu.Unlock()
	if fut != nil {
		fut.reject(errDestroyed)
	}
	p.raw.Close()
}

// StreamWireWithAck frames events as an OutboxStreamBatch and delegates
// to WaitForAck, matching ProducerManager.StreamWireWithAck for a single
// producer used directly (e.g. by tests or a single-producer deployment).
func (p *Producer) StreamWireWithAck(ctx context.Context, events []model.WireEvent) (model.AckResult, error) {
	payload, err := json.Marshal(model.OutboxStreamBatchPayload{Events: events})
	if err != nil {
		return model.AckResult{}, fmt.Errorf("marshaling batch payload: %w", err)
	}
	env := model.Envelope{Action: model.ActionOutboxStreamBatch, Payload: payload, Timestamp: time.Now().UnixMicro()}
	return p.WaitForAck(ctx, func() error { return p.SendMessage(ctx, env) })
}
