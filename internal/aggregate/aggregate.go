// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package aggregate implements the Network and Mempool aggregate roots:
// entities owning a consistent event stream, mutated only through
// apply(event), which both records the event in unsaved-events and
// dispatches it to a type-specific idempotent handler. Handler selection
// uses an apply-indirection design: rather than runtime type/class name
// dispatch, each event carries a closed-set Type tag and a switch picks
// the handler, matching how exccutil/stdaddr's "address type switch"
// idiom dispatches on a closed tag rather than reflection.
package aggregate

import (
	"fmt"
	"sync"

	"github.com/EXCCoin/exccidx/internal/model"
)

// base holds the bookkeeping every aggregate root shares: identity,
// monotonic version, and the pending unsaved-events list eventstore
// drains on persist. External code never mutates these fields directly;
// only apply() (and ApplyReplay, for the pure replay path) touch them.
type base struct {
	mu         sync.Mutex
	id         string
	typeName   string
	version    uint64
	lastHeight int64
	unsaved    []model.Event
}

// AggregateID satisfies eventstore.AggregateEventSource.
func (b *base) AggregateID() string { return b.id }

// TypeName satisfies eventstore.AggregateEventSource; it names the SQL
// table the aggregate's events live in.
func (b *base) TypeName() string { return b.typeName }

// Version reports the current (highest applied) event version.
func (b *base) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// LastBlockHeight reports the height of the last block folded into
// state, or -1 if none yet.
func (b *base) LastBlockHeight() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastHeight
}

// UnsavedEvents satisfies eventstore.AggregateEventSource.
func (b *base) UnsavedEvents() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Event, len(b.unsaved))
	copy(out, b.unsaved)
	return out
}

// ClearUnsavedEvents satisfies eventstore.AggregateEventSource; the
// EventStore calls this after a successful commit.
func (b *base) ClearUnsavedEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsaved = nil
}

// record assigns the next dense version number, appends ev to the
// unsaved list, and returns the stamped event. Must be called with the
// per-aggregate state mutation already in progress (the aggregate's own
// lock, not b.mu, guards the handler itself).
func (b *base) record(blockHeight int64, requestID, typ string, payload []byte) model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version++
	ev := model.Event{
		AggregateID: b.id,
		Version:     b.version,
		RequestID:   requestID,
		BlockHeight: blockHeight,
		Type:        typ,
		Payload:     payload,
	}
	b.unsaved = append(b.unsaved, ev)
	if blockHeight >= 0 {
		b.lastHeight = blockHeight
	}
	return ev
}

// bumpReplayVersion advances the version counter during a pure replay
// (ApplyReplay), without touching unsaved-events.
func (b *base) bumpReplayVersion(v uint64, blockHeight int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = v
	if blockHeight >= 0 {
		b.lastHeight = blockHeight
	}
}

// resetTo restores version/lastHeight, discarding unsaved events; used
// by FromSnapshot.
func (b *base) resetTo(version uint64, blockHeight int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = version
	b.lastHeight = blockHeight
	b.unsaved = nil
}

// unknownEventType is the handler-dispatch failure for an event type
// outside an aggregate's closed set.
func unknownEventType(typeName, eventType string) error {
	return fmt.Errorf("%w: %s aggregate has no handler for event type %q", model.ErrValidation, typeName, eventType)
}
