// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package model holds the wire- and storage-agnostic types shared across
// the indexer: blocks, events, snapshots, outbox rows and envelopes.
package model

// Block is an immutable, fully-hydrated block as fetched from the
// upstream Bitcoin-compatible node. Once constructed it is never
// mutated; downstream components pass it by value copy of the struct
// (the TxIDs slice is treated as read-only).
type Block struct {
	Height       int64
	Hash         string
	PreviousHash string
	MerkleRoot   string
	Size         int64
	TxIDs        []string

	// RawTxHex optionally carries per-tx hex payloads as delivered by the
	// upstream node. BlockQueue strips this field on enqueue to reclaim
	// memory; see ToLightBlock.
	RawTxHex []string

	// Payload carries any additional opaque fields the upstream node
	// attaches (e.g. version, bits, nonce, timestamp) that the indexer
	// does not interpret itself.
	Payload map[string]any
}

// LightBlock is a Block shorn of full transaction bodies: only the txids
// survive. This is what the in-memory ChainIndex holds and what gets
// serialized into aggregate event payloads.
type LightBlock struct {
	Height       int64    `json:"height"`
	Hash         string   `json:"hash"`
	PreviousHash string   `json:"previousHash"`
	MerkleRoot   string   `json:"merkleRoot"`
	Size         int64    `json:"size"`
	TxIDs        []string `json:"txIds"`
}

// ToLightBlock strips transaction hex bodies and returns the LightBlock
// form, reclaiming the memory held by RawTxHex.
func (b *Block) ToLightBlock() LightBlock {
	return LightBlock{
		Height:       b.Height,
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Size:         b.Size,
		TxIDs:        b.TxIDs,
	}
}

// ExtendsLight reports whether b is the immediate successor of prev
// under the adjacency invariant: height == prev.height+1 and
// previousHash == prev.hash. A nil prev means "empty chain", which any
// block is allowed to seed.
func (b LightBlock) ExtendsLight(prev *LightBlock) bool {
	if prev == nil {
		return true
	}
	return b.Height == prev.Height+1 && b.PreviousHash == prev.Hash
}

// BlockMetadata is the preload unit PullLoader fetches ahead of the full
// block body: just enough to size and order the next fetch batch.
type BlockMetadata struct {
	Height int64
	Hash   string
	Size   int64
}
