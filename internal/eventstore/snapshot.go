// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package eventstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/EXCCoin/exccidx/internal/model"
)

// CreateSnapshot persists a snapshot at the aggregate's current block
// height. At most one snapshot exists per (aggregateId, blockHeight); a
// second call for the same pair replaces the first.
func (s *Store) CreateSnapshot(ctx context.Context, aggregateID string, version uint64, blockHeight int64, payload []byte) error {
	return s.CreateSnapshotAtHeight(ctx, aggregateID, version, blockHeight, payload)
}

// CreateSnapshotAtHeight is the explicit form taking blockHeight, kept
// as a distinct entry point from CreateSnapshot.
func (s *Store) CreateSnapshotAtHeight(ctx context.Context, aggregateID string, version uint64, blockHeight int64, payload []byte) error {
	stored, compressed, _ := maybeCompress(payload)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregateId, blockHeight, version, payload, isCompressed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(aggregateId, blockHeight) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			isCompressed = excluded.isCompressed
	`, aggregateID, blockHeight, version, stored, boolToInt(compressed))
	if err != nil {
		return fmt.Errorf("%w: creating snapshot: %v", model.ErrPersistence, err)
	}
	return nil
}

// FindLatestSnapshot returns the most recent snapshot with
// blockHeight <= maxHeight, if any.
func (s *Store) FindLatestSnapshot(ctx context.Context, aggregateID string, maxHeight int64) (model.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, aggregateId, blockHeight, version, payload, isCompressed
		FROM snapshots
		WHERE aggregateId = ? AND blockHeight <= ?
		ORDER BY blockHeight DESC
		LIMIT 1
	`, aggregateID, maxHeight)

	var (
		snap         model.Snapshot
		isCompressed int
	)
	if err := row.Scan(&snap.ID, &snap.AggregateID, &snap.BlockHeight, &snap.Version, &snap.Payload, &isCompressed); err != nil {
		if err == sql.ErrNoRows {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("%w: finding snapshot: %v", model.ErrPersistence, err)
	}
	snap.Compressed = isCompressed != 0
	return snap, true, nil
}

// PruneOldSnapshots keeps at least retention.MinKeep snapshots and any
// within retention.KeepWindow blocks of currentHeight, deleting the
// rest.
func (s *Store) PruneOldSnapshots(ctx context.Context, aggregateID string, retention model.SnapshotRetention, currentHeight int64) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, blockHeight FROM snapshots
		WHERE aggregateId = ?
		ORDER BY blockHeight DESC
	`, aggregateID)
	if err != nil {
		return fmt.Errorf("%w: listing snapshots: %v", model.ErrPersistence, err)
	}
	type row struct {
		id     int64
		height int64
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.height); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scanning snapshot row: %v", model.ErrPersistence, err)
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var toDelete []int64
	for i, r := range all {
		withinWindow := currentHeight-r.height <= retention.KeepWindow
		withinMinKeep := i < retention.MinKeep
		if !withinWindow && !withinMinKeep {
			toDelete = append(toDelete, r.id)
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	for _, chunk := range chunkIDs(toDelete, deleteChunkSize) {
		if err := s.deleteSnapshotsByIDs(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteSnapshotsByIDs(ctx context.Context, ids []int64) error {
	q, args := buildInClauseDelete("snapshots", ids)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: deleting snapshots: %v", model.ErrPersistence, err)
	}
	return nil
}
