// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/model"
)

// connectivityWait bounds how long StreamWireWithAck waits for the
// streaming producer to come online.
const connectivityWait = 5 * time.Second

// ProducerManager is the registry and selection logic for producers:
// one registered connection per remote peer, with at most one selected
// for outbox streaming at a time.
type ProducerManager struct {
	mu        sync.RWMutex
	producers map[string]*Producer
	streaming string // name of the selected streaming producer, "" if none
	log       slog.Logger
}

// NewProducerManager returns an empty registry.
func NewProducerManager(log slog.Logger) *ProducerManager {
	return &ProducerManager{producers: make(map[string]*Producer), log: log}
}

// Register installs p under name, replacing any prior producer of the
// same name (the caller is responsible for destroying the replaced one).
func (m *ProducerManager) Register(name string, p *Producer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.producers[name] = p
}

// Unregister removes name from the registry, clearing the streaming
// selection if it pointed at name.
func (m *ProducerManager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.producers, name)
	if m.streaming == name {
		m.streaming = ""
	}
}

// SetStreamingProducer selects name as the streaming producer, or clears
// the selection when name is "".
func (m *ProducerManager) SetStreamingProducer(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		m.streaming = ""
		return nil
	}
	if _, ok := m.producers[name]; !ok {
		return fmt.Errorf("%w: no producer named %q", model.ErrNoStreamingProducer, name)
	}
	m.streaming = name
	return nil
}

// GetStreaming returns the currently-selected streaming producer, if any.
func (m *ProducerManager) GetStreaming() (*Producer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.streaming == "" {
		return nil, false
	}
	p, ok := m.producers[m.streaming]
	return p, ok
}

// Streaming adapts GetStreaming to delivery.Target/delivery.StreamTarget,
// so a *ProducerManager can be handed directly to delivery.New without
// package transport importing package delivery.
func (m *ProducerManager) Streaming() (streamTarget, bool) {
	p, ok := m.GetStreaming()
	if !ok {
		return streamTarget{}, false
	}
	return streamTarget{p: p}, true
}

// streamTarget adapts *Producer to the (WaitForOnline, StreamWireWithAck)
// shape delivery.StreamTarget expects.
type streamTarget struct{ p *Producer }

func (s streamTarget) WaitForOnline(ctx context.Context, timeout time.Duration) error {
	return s.p.WaitForOnline(ctx, timeout)
}

func (s streamTarget) StreamWireWithAck(ctx context.Context, events []model.WireEvent) (model.AckResult, error) {
	return s.p.StreamWireWithAck(ctx, events)
}

// StreamWireWithAck delegates to the selected streaming producer, or
// returns the neutral ACK if none is selected.
func (m *ProducerManager) StreamWireWithAck(ctx context.Context, events []model.WireEvent) (model.AckResult, error) {
	p, ok := m.GetStreaming()
	if !ok {
		return model.AckResult{AllOk: true}, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, connectivityWait)
	defer cancel()
	if err := p.WaitForOnline(waitCtx, connectivityWait); err != nil {
		return model.AckResult{}, err
	}
	return p.StreamWireWithAck(ctx, events)
}

// Broadcast sends env to every connected producer, logging (not failing
// on) individual send errors.
func (m *ProducerManager) Broadcast(ctx context.Context, env model.Envelope) {
	m.mu.RLock()
	targets := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		if p.IsConnected() {
			targets = append(targets, p)
		}
	}
	m.mu.RUnlock()

	for _, p := range targets {
		if err := p.SendMessage(ctx, env); err != nil {
			m.log.Warnf("broadcast to %s failed: %v", p.Name(), err)
		}
	}
}
