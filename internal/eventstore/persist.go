// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package eventstore

import (
	"context"
	"fmt"

	"github.com/EXCCoin/exccidx/internal/model"
)

// PersistAggregatesAndOutbox appends every aggregate's unsaved events to
// its per-type event table and a shared outbox row per event, within a
// single transaction. On success the aggregates'
// unsaved-event lists are cleared and a PersistResult describing the
// reserved outbox id range is returned. On any error the transaction is
// rolled back and unsaved events are left untouched.
func (s *Store) PersistAggregatesAndOutbox(ctx context.Context, aggregates []AggregateEventSource) (PersistResult, error) {
	type pending struct {
		table string
		agg   AggregateEventSource
		ev    model.Event
	}

	var all []pending
	for _, agg := range aggregates {
		for _, ev := range agg.UnsavedEvents() {
			all = append(all, pending{table: agg.TypeName(), agg: agg, ev: ev})
		}
	}
	if len(all) == 0 {
		return PersistResult{}, nil
	}

	first, last := s.idgen.Reserve(len(all))

	tx, err := s.dialect.BeginWriteTx(ctx, s.db)
	if err != nil {
		return PersistResult{}, fmt.Errorf("%w: beginning transaction: %v", model.ErrPersistence, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	ids := make([]int64, len(all))
	rawEvents := make([]model.Event, len(all))
	ts := nowMicro()

	for i, p := range all {
		id := first + int64(i)
		ids[i] = id

		stored, compressed, ulen := maybeCompress(p.ev.Payload)
		ev := p.ev
		ev.Compressed = compressed
		ev.Payload = stored
		if ev.Timestamp == 0 {
			ev.Timestamp = ts
		}
		rawEvents[i] = p.ev // caller-facing copy keeps the original, uncompressed payload

		eventSQL := s.dialect.InsertIgnoreEventSQL(p.table)
		if _, err := tx.ExecContext(ctx, eventSQL,
			p.agg.AggregateID(), ev.Version, ev.RequestID, nullableHeight(ev.BlockHeight),
			ev.Payload, boolToInt(ev.Compressed), ev.Timestamp, ev.Type,
		); err != nil {
			return PersistResult{}, fmt.Errorf("%w: inserting event (agg=%s v=%d): %v",
				model.ErrPersistence, p.agg.AggregateID(), ev.Version, err)
		}

		if _, err := tx.ExecContext(ctx, s.dialect.InsertOutboxSQL(),
			id, p.agg.AggregateID(), ev.Type, ev.Version, ev.RequestID, nullableHeight(ev.BlockHeight),
			ev.Payload, boolToInt(ev.Compressed), ev.Timestamp, ulen,
		); err != nil {
			return PersistResult{}, fmt.Errorf("%w: inserting outbox row id=%d: %v", model.ErrPersistence, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return PersistResult{}, fmt.Errorf("%w: committing: %v", model.ErrPersistence, err)
	}

	for _, agg := range aggregates {
		agg.ClearUnsavedEvents()
	}

	return PersistResult{
		InsertedOutboxIDs: ids,
		FirstID:           first,
		LastID:            last,
		RawEvents:         rawEvents,
	}, nil
}

func nullableHeight(h int64) any {
	if h < 0 {
		return nil
	}
	return h
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
