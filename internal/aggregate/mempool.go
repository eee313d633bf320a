// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package aggregate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EXCCoin/exccidx/internal/model"
)

// Mempool event types. The hash-map-backed variant is the one
// implemented here; it conforms only to the generic apply-based
// aggregate contract, since the storage design for pending-transaction
// tracking is left open by design.
const (
	EventMempoolTxAdded   = "MempoolTxAdded"
	EventMempoolTxRemoved = "MempoolTxRemoved"
	EventMempoolCleared   = "MempoolCleared"
)

// MempoolEntry is one pending transaction tracked by the Mempool
// aggregate, deliberately minimal: the fields needed to account for
// queue occupancy and relay, not full transaction interpretation (out
// of this core's scope).
type MempoolEntry struct {
	TxID    string `json:"txId"`
	Size    int64  `json:"size"`
	Fee     int64  `json:"fee"`
	AddedAt int64  `json:"addedAt"`
}

// MempoolTxAddedPayload is the MempoolTxAdded event payload.
type MempoolTxAddedPayload struct {
	Entry MempoolEntry `json:"entry"`
}

// MempoolTxRemovedPayload is the MempoolTxRemoved event payload.
type MempoolTxRemovedPayload struct {
	TxID string `json:"txId"`
}

// MempoolClearedPayload is the (empty) MempoolCleared event payload.
type MempoolClearedPayload struct{}

// mempoolSnapshotState is what CreateSnapshot/FromSnapshot serialize.
type mempoolSnapshotState struct {
	Entries []MempoolEntry `json:"entries"`
	Version uint64         `json:"version"`
}

// Mempool is the Mempool aggregate root: a hash-map of pending
// transactions keyed by txid, mutated only through AddTx / RemoveTx /
// Clear, each of which records and applies an idempotent event.
type Mempool struct {
	base
	mu      sync.Mutex
	entries map[string]MempoolEntry
}

// NewMempool constructs an empty Mempool aggregate.
func NewMempool(id string) *Mempool {
	m := &Mempool{entries: make(map[string]MempoolEntry)}
	m.id = id
	m.typeName = "mempool"
	m.lastHeight = genesisSentinel
	return m
}

// Size reports the current number of tracked entries.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Get returns the entry for txid, if tracked.
func (m *Mempool) Get(txID string) (MempoolEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[txID]
	return e, ok
}

// AddTx records and applies a MempoolTxAdded event for entry. Adding a
// txid already tracked is a no-op (idempotent replay safety).
func (m *Mempool) AddTx(entry MempoolEntry, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[entry.TxID]; exists {
		return nil
	}
	payload, err := json.Marshal(MempoolTxAddedPayload{Entry: entry})
	if err != nil {
		return fmt.Errorf("%w: marshaling MempoolTxAdded payload: %v", model.ErrValidation, err)
	}
	m.entries[entry.TxID] = entry
	m.base.record(genesisSentinel, requestID, EventMempoolTxAdded, payload)
	return nil
}

// RemoveTx records and applies a MempoolTxRemoved event for txID.
// Removing an untracked txid is a no-op.
func (m *Mempool) RemoveTx(txID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[txID]; !exists {
		return nil
	}
	payload, err := json.Marshal(MempoolTxRemovedPayload{TxID: txID})
	if err != nil {
		return fmt.Errorf("%w: marshaling MempoolTxRemoved payload: %v", model.ErrValidation, err)
	}
	delete(m.entries, txID)
	m.base.record(genesisSentinel, requestID, EventMempoolTxRemoved, payload)
	return nil
}

// Clear records and applies a MempoolCleared event, emptying the map.
func (m *Mempool) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return nil
	}
	payload, err := json.Marshal(MempoolClearedPayload{})
	if err != nil {
		return fmt.Errorf("%w: marshaling MempoolCleared payload: %v", model.ErrValidation, err)
	}
	m.entries = make(map[string]MempoolEntry)
	m.base.record(genesisSentinel, "", EventMempoolCleared, payload)
	return nil
}

func (m *Mempool) handleReplay(e model.Event) error {
	switch e.Type {
	case EventMempoolTxAdded:
		var p MempoolTxAddedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("%w: decoding MempoolTxAdded: %v", model.ErrValidation, err)
		}
		if _, exists := m.entries[p.Entry.TxID]; !exists {
			m.entries[p.Entry.TxID] = p.Entry
		}
		return nil
	case EventMempoolTxRemoved:
		var p MempoolTxRemovedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("%w: decoding MempoolTxRemoved: %v", model.ErrValidation, err)
		}
		delete(m.entries, p.TxID)
		return nil
	case EventMempoolCleared:
		m.entries = make(map[string]MempoolEntry)
		return nil
	default:
		return unknownEventType(m.typeName, e.Type)
	}
}

// ApplyReplay satisfies eventstore.Rehydratable.
func (m *Mempool) ApplyReplay(e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.handleReplay(e); err != nil {
		return err
	}
	m.base.bumpReplayVersion(e.Version, e.BlockHeight)
	return nil
}

// SnapshotPayload serializes the current entry set for CreateSnapshot.
func (m *Mempool) SnapshotPayload() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]MempoolEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	return json.Marshal(mempoolSnapshotState{Entries: entries, Version: m.base.Version()})
}

// FromSnapshot satisfies eventstore.Rehydratable.
func (m *Mempool) FromSnapshot(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s mempoolSnapshotState
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("%w: decoding mempool snapshot: %v", model.ErrValidation, err)
	}
	m.entries = make(map[string]MempoolEntry, len(s.Entries))
	for _, e := range s.Entries {
		m.entries[e.TxID] = e
	}
	m.base.resetTo(s.Version, genesisSentinel)
	return nil
}
