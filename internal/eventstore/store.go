// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package eventstore persists aggregate event streams and a shared
// outbox table atomically, and serves the read/prune/delivery queries
// the rest of the indexer needs. The embedded-file SQL engine is
// modernc.org/sqlite (pure Go, no cgo), mirroring exccd's own
// embedded-store instinct (its database/v3 package wraps an embedded
// engine the same way). A server engine would differ only in its
// BEGIN/COMMIT framing and conflict-ignore syntax, which is why those
// fragments are captured by the Dialect abstraction below: a second
// dialect can be added without touching callers.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/EXCCoin/exccidx/internal/model"
)

// AggregateEventSource is the minimal view the store needs of an
// aggregate root to persist its pending events. The full Aggregate
// contract (apply, idempotent handlers) lives in the aggregate package;
// this interface exists so eventstore has no import-time dependency on
// it.
type AggregateEventSource interface {
	AggregateID() string
	TypeName() string
	UnsavedEvents() []model.Event
	ClearUnsavedEvents()
}

// PersistResult summarizes one PersistAggregatesAndOutbox call.
type PersistResult struct {
	InsertedOutboxIDs []int64
	FirstID           int64
	LastID            int64
	RawEvents         []model.Event
}

// deleteChunkSize bounds how many ids a single DELETE statement covers,
// staying under SQLite's per-statement bound variable cap.
const deleteChunkSize = 65535

// compressionThreshold is the uncompressed payload size above which
// events are zlib-compressed before storage.
const compressionThreshold = 1024

// Dialect isolates the handful of SQL fragments that differ between the
// embedded-file engine and a server engine.
type Dialect interface {
	BeginWriteTx(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	InsertIgnoreEventSQL(table string) string
	InsertOutboxSQL() string
	Placeholder(n int) string
}

// SQLiteDialect implements Dialect for the embedded-file engine using
// modernc.org/sqlite: BEGIN IMMEDIATE and INSERT OR IGNORE.
type SQLiteDialect struct{}

func (SQLiteDialect) BeginWriteTx(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	if _, err := db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (SQLiteDialect) InsertIgnoreEventSQL(table string) string {
	return fmt.Sprintf(`INSERT OR IGNORE INTO %q
		(aggregateId, version, requestId, blockHeight, payload, isCompressed, timestamp, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
}

func (SQLiteDialect) InsertOutboxSQL() string {
	return `INSERT OR IGNORE INTO outbox
		(id, aggregateId, eventType, eventVersion, requestId, blockHeight, payload, isCompressed, timestamp, ulen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

func (SQLiteDialect) Placeholder(n int) string { return "?" }

// Store is the EventStore/Outbox implementation.
type Store struct {
	db      *sql.DB
	dialect Dialect
	idgen   *IDGenerator
}

// Open opens (or creates) a sqlite database at path, applies the
// spec-mandated pragmas, and ensures schema exists for the given
// aggregate type names.
func Open(ctx context.Context, path string, aggregateTypes []string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite: %v", model.ErrPersistence, err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer, matches the exclusive-locking pragma below

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: applying %q: %v", model.ErrPersistence, p, err)
		}
	}

	s := &Store{db: db, dialect: SQLiteDialect{}, idgen: NewIDGenerator()}
	if err := s.ensureSchema(ctx, aggregateTypes); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema(ctx context.Context, aggregateTypes []string) error {
	for _, t := range aggregateTypes {
		if strings.ContainsAny(t, "\"'; ") {
			return fmt.Errorf("%w: invalid aggregate type name %q", model.ErrValidation, t)
		}
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			aggregateId TEXT NOT NULL,
			version INTEGER NOT NULL,
			requestId TEXT,
			blockHeight INTEGER,
			payload BLOB,
			isCompressed INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL,
			type TEXT NOT NULL,
			PRIMARY KEY (aggregateId, version)
		)`, t)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: creating table %s: %v", model.ErrPersistence, t, err)
		}
	}

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY,
			aggregateId TEXT NOT NULL,
			eventType TEXT NOT NULL,
			eventVersion INTEGER NOT NULL,
			requestId TEXT,
			blockHeight INTEGER,
			payload BLOB,
			isCompressed INTEGER NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL,
			ulen INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			aggregateId TEXT NOT NULL,
			blockHeight INTEGER NOT NULL,
			version INTEGER NOT NULL,
			payload BLOB,
			isCompressed INTEGER NOT NULL DEFAULT 0,
			UNIQUE(aggregateId, blockHeight)
		)`,
	}
	for _, ddl := range schemas {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: creating shared tables: %v", model.ErrPersistence, err)
		}
	}
	return nil
}

func nowMicro() int64 { return time.Now().UnixMicro() }
