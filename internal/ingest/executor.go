// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ingest wires the block ingestion pipeline's domain executor:
// the glue between BatchIterator, the Network aggregate, and
// EventStore/Outbox that carries out the dataflow "BatchIterator ->
// domain executor -> aggregates apply events -> EventStore persists
// events+outbox atomically". The general CQRS command/event dispatch
// framework is out of core scope; what's implemented here is exactly
// that narrow wiring, not a general command bus.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/aggregate"
	"github.com/EXCCoin/exccidx/internal/batchiter"
	"github.com/EXCCoin/exccidx/internal/blockqueue"
	"github.com/EXCCoin/exccidx/internal/eventstore"
	"github.com/EXCCoin/exccidx/internal/model"
)

// Acker is the narrow surface HandleBatch needs back onto the
// BatchIterator: resolving the batchProcessedSignal once a batch's
// blocks have actually been dequeued, so downstream machinery that
// dequeues blocks only after event persistence can acknowledge
// completion.
type Acker interface {
	AckCurrentBatch()
}

// RemoteHasher is the narrow external-node surface reorg descent needs:
// the current remote tip height and the remote hash at a given height.
// The Bitcoin-compatible node client itself is out of this core's scope;
// only this interface is consumed.
type RemoteHasher interface {
	TipHeight(ctx context.Context) (int64, error)
	HashAt(ctx context.Context, height int64) (string, error)
}

// Executor is the domain command executor batchiter.BatchIterator
// drives. For each batch it folds blocks into the Network aggregate
// (retrying once through a reorg descent if the batch doesn't extend
// the tip), persists the resulting events to the outbox atomically,
// dequeues the now-processed blocks from the BlockQueue, and
// acknowledges the batch so the iterator can advance.
type Executor struct {
	network *aggregate.Network
	store   *eventstore.Store
	queue   *blockqueue.BlockQueue
	remote  RemoteHasher
	log     slog.Logger

	acker Acker
}

// New constructs an Executor.
func New(network *aggregate.Network, store *eventstore.Store, queue *blockqueue.BlockQueue, remote RemoteHasher, log slog.Logger) *Executor {
	return &Executor{network: network, store: store, queue: queue, remote: remote, log: log}
}

// SetAcker installs the BatchIterator this executor acknowledges
// batches against. Separate from New to break the construction cycle:
// the iterator itself needs an Executor at construction time.
func (e *Executor) SetAcker(a Acker) { e.acker = a }

// HandleBatch satisfies batchiter.Executor.
func (e *Executor) HandleBatch(ctx context.Context, b batchiter.Batch) error {
	lights := make([]model.LightBlock, len(b.Blocks))
	for i, blk := range b.Blocks {
		lights[i] = blk.ToLightBlock()
	}

	if err := e.network.AddBlocks(lights, b.RequestID); err != nil {
		var sig *model.ReorganizationSignal
		if !errors.As(err, &sig) {
			return err
		}
		if err := e.reorganize(ctx); err != nil {
			return err
		}
		if err := e.network.AddBlocks(lights, b.RequestID); err != nil {
			return fmt.Errorf("retrying AddBlocks after reorg: %w", err)
		}
	}

	if _, err := e.store.PersistAggregatesAndOutbox(ctx, []eventstore.AggregateEventSource{e.network}); err != nil {
		return err
	}

	hashes := make([]string, len(b.Blocks))
	for i, blk := range b.Blocks {
		hashes[i] = blk.Hash
	}
	if err := e.queue.DequeueMany(hashes); err != nil {
		e.log.Warnf("dequeueing processed batch %s: %v", b.RequestID, err)
	}

	if e.acker != nil {
		e.acker.AckCurrentBatch()
	}
	return nil
}

func (e *Executor) reorganize(ctx context.Context) error {
	tip, err := e.remote.TipHeight(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetching remote tip for reorg: %v", model.ErrTransientFetch, err)
	}
	return e.network.Reorganize(ctx, tip, e.remote.HashAt)
}
