// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package eventstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/EXCCoin/exccidx/internal/model"
)

// HasBacklogBefore reports whether any outbox row exists with
// timestamp < ts and id < id.
func (s *Store) HasBacklogBefore(ctx context.Context, ts, id int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM outbox WHERE timestamp < ? AND id < ?)`, ts, id)
	var exists int
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: checking backlog: %v", model.ErrPersistence, err)
	}
	return exists != 0, nil
}

// HasAnyPendingAfterWatermark reports whether any outbox row exists
// above lastSeenID.
func (s *Store) HasAnyPendingAfterWatermark(ctx context.Context, lastSeenID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM outbox WHERE id > ?)`, lastSeenID)
	var exists int
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: checking pending backlog: %v", model.ErrPersistence, err)
	}
	return exists != 0, nil
}

// FetchDeliverAckChunk selects outbox rows above lastSeenID ordered
// ascending by id, stopping once cumulative uncompressed payload size
// would exceed budgetBytes (always including at least one row if any
// exist), invokes publish with the framed events, and — only on publish
// success — deletes the delivered rows and returns the new watermark.
// On publish failure the transaction is never opened, no rows are
// deleted, and the previous watermark is returned unchanged.
func (s *Store) FetchDeliverAckChunk(ctx context.Context, lastSeenID, budgetBytes int64, publish func([]model.WireEvent) error) (newWatermark int64, delivered int, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregateId, eventType, eventVersion, requestId, blockHeight, payload, isCompressed, timestamp, ulen
		FROM outbox WHERE id > ? ORDER BY id ASC
	`, lastSeenID)
	if err != nil {
		return lastSeenID, 0, fmt.Errorf("%w: querying outbox: %v", model.ErrPersistence, err)
	}

	type row struct {
		model.OutboxRow
	}
	var all []row
	for rows.Next() {
		var r row
		var requestID, blockHeight any
		if err := rows.Scan(&r.ID, &r.AggregateID, &r.EventType, &r.EventVersion, &requestID, &blockHeight,
			&r.Payload, &r.IsCompressed, &r.Timestamp, &r.UncompressedLength); err != nil {
			rows.Close()
			return lastSeenID, 0, fmt.Errorf("%w: scanning outbox row: %v", model.ErrPersistence, err)
		}
		if s, ok := requestID.(string); ok {
			r.RequestID = s
		}
		if h, ok := blockHeight.(int64); ok {
			r.BlockHeight = h
		} else {
			r.BlockHeight = -1
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return lastSeenID, 0, err
	}
	if len(all) == 0 {
		return lastSeenID, 0, nil
	}

	var (
		chunk []row
		sum   int64
	)
	for i, r := range all {
		if i > 0 && sum+r.UncompressedLength > budgetBytes {
			break
		}
		chunk = append(chunk, r)
		sum += r.UncompressedLength
	}

	wire := make([]model.WireEvent, 0, len(chunk))
	ids := make([]int64, 0, len(chunk))
	for _, r := range chunk {
		payload, derr := decompress(r.Payload, r.IsCompressed)
		if derr != nil {
			return lastSeenID, 0, fmt.Errorf("%w: decompressing outbox payload id=%d: %v", model.ErrPersistence, r.ID, derr)
		}
		wire = append(wire, model.WireEvent{
			ModelName:    r.AggregateID,
			EventType:    r.EventType,
			EventVersion: r.EventVersion,
			RequestID:    r.RequestID,
			BlockHeight:  r.BlockHeight,
			Payload:      string(payload),
			Timestamp:    r.Timestamp,
		})
		ids = append(ids, r.ID)
	}

	if err := publish(wire); err != nil {
		return lastSeenID, 0, fmt.Errorf("%w: publishing batch: %v", model.ErrDelivery, err)
	}

	if err := s.DeleteOutboxByIDs(ctx, ids); err != nil {
		return lastSeenID, 0, err
	}

	return ids[len(ids)-1], len(ids), nil
}

// DeleteOutboxByIDs deletes the given outbox rows in chunks bounded by
// deleteChunkSize, all within one transaction.
func (s *Store) DeleteOutboxByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning delete transaction: %v", model.ErrPersistence, err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, chunk := range chunkIDs(ids, deleteChunkSize) {
		q, args := buildInClauseDeleteTx("outbox", chunk)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%w: deleting outbox rows: %v", model.ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing delete: %v", model.ErrPersistence, err)
	}
	return nil
}

// chunkIDs splits ids into consecutive slices of at most size each.
func chunkIDs(ids []int64, size int) [][]int64 {
	var out [][]int64
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

func buildInClauseDelete(table string, ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("DELETE FROM %q WHERE id IN (%s)", table, strings.Join(placeholders, ","))
	return q, args
}

func buildInClauseDeleteTx(table string, ids []int64) (string, []any) {
	return buildInClauseDelete(table, ids)
}
