// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package model

// Event is an aggregate state-transition record. For a fixed
// AggregateID, Version is strictly increasing and dense (no gaps):
// version 1, 2, 3, ... with no version ever skipped or repeated.
type Event struct {
	AggregateID string
	Version     uint64
	RequestID   string
	// BlockHeight is -1 when the event is not associated with a block
	// (e.g. a Mempool event observed between blocks).
	BlockHeight int64
	// Timestamp is wall-clock microseconds since the Unix epoch, assigned
	// at persistence time.
	Timestamp int64
	Type       string
	Payload    []byte
	Compressed bool
}

// Snapshot is a point-in-time serialized aggregate state. At most one
// snapshot exists per (AggregateID, BlockHeight).
type Snapshot struct {
	ID          int64
	AggregateID string
	BlockHeight int64
	Version     uint64
	Payload     []byte
	Compressed  bool
}

// OutboxRow is a pending wire delivery. IDs assigned within one
// persistence transaction form a contiguous ascending range; two
// successive transactions produce disjoint, strictly greater ranges.
type OutboxRow struct {
	ID                int64
	AggregateID       string
	EventType         string
	EventVersion      uint64
	RequestID         string
	BlockHeight       int64
	Payload           []byte
	IsCompressed      bool
	Timestamp         int64
	UncompressedLength int64
}

// FetchOptions parameterizes EventStore range reads.
type FetchOptions struct {
	VersionGte int64 // -1 means unset
	VersionLte int64 // -1 means unset
	Limit      int
	Offset     int
	// OrderDesc requests descending version order; ascending otherwise.
	OrderDesc bool
}

// SnapshotRetention bounds how many snapshots to keep when pruning.
type SnapshotRetention struct {
	MinKeep    int
	KeepWindow int64 // in blocks
}
