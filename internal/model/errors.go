// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package model

import "errors"

// Error kinds returned across package boundaries. Callers should use
// errors.Is against these sentinels rather than matching on message text.
var (
	// ErrValidation signals a rejected input: an out-of-sequence block, a
	// max-height ceiling, a malformed metadata entry, or a query DTO that
	// cannot be decoded or matched. Never retried automatically by the
	// caller's own loop.
	ErrValidation = errors.New("validation failure")

	// ErrTransientFetch signals a network/RPC error while loading blocks.
	// Retried a bounded number of times before propagating.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrOverload signals that an operation was skipped because the
	// target would overload (queue full, batch budget exceeded). Not an
	// error the caller needs to log loudly; it retries next tick.
	ErrOverload = errors.New("overload, skipped")

	// ErrPersistence signals a SQL or disk error during a write. The
	// surrounding transaction is aborted and unsaved events remain on
	// the aggregate.
	ErrPersistence = errors.New("persistence failure")

	// ErrDelivery signals a send error, ACK timeout, or offline producer.
	// Outbox rows are never deleted and the watermark never advances for
	// deliveries tagged with this error.
	ErrDelivery = errors.New("delivery failure")

	// ErrSizeExceeded signals an envelope larger than maxMessageBytes.
	ErrSizeExceeded = errors.New("envelope too large")

	// ErrGenesisReached is the terminal condition for reorg descent: no
	// fork point was found before the genesis sentinel.
	ErrGenesisReached = errors.New("genesis reached without finding fork point")

	// ErrACKAlreadyPending signals a second waitForAck call while one is
	// already outstanding on the same producer.
	ErrACKAlreadyPending = errors.New("ack already pending")

	// ErrNotConnected signals an operation attempted against an offline
	// transport.
	ErrNotConnected = errors.New("producer not connected")

	// ErrNoStreamingProducer signals that no producer is selected for
	// streaming delivery.
	ErrNoStreamingProducer = errors.New("no streaming producer selected")
)

// ReorganizationSignal is returned by Network.AddBlocks when a batch does
// not extend the current tip. Its ForkHeight is the genesis sentinel
// (-1), not the fork point; Network.Reorganize locates the fork point
// afterwards by comparing local and remote hashes.
type ReorganizationSignal struct {
	ForkHeight int64
}

func (e *ReorganizationSignal) Error() string {
	return "reorganization required at fork height"
}
