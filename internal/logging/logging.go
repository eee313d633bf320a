// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logging builds exccidxd's slog.Backend and the per-subsystem
// loggers every other package obtains a tagged Logger from, the same
// two-step (Backend, then Logger(tag) per subsystem) exccd uses
// throughout. Writing to a log file is backed by
// github.com/jrick/logrotate, exccd's own rotating-writer
// dependency, instead of a bare os.File.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate"

	"github.com/decred/slog"
)

// Subsystem tags, one per package that logs, matching SPEC_FULL.md §2.
const (
	TagChainIndex = "CHAN"
	TagQueue      = "QUEU"
	TagLoader     = "LOAD"
	TagIterator   = "ITER"
	TagStore      = "STOR"
	TagDelivery   = "DLVR"
	TagTransport  = "XPRT"
	TagAggregate  = "AGGR"
	TagRPC        = "RPCS"
)

// Loggers holds the one Logger per subsystem the daemon wires into its
// components.
type Loggers struct {
	ChainIndex slog.Logger
	Queue      slog.Logger
	Loader     slog.Logger
	Iterator   slog.Logger
	Store      slog.Logger
	Delivery   slog.Logger
	Transport  slog.Logger
	Aggregate  slog.Logger
	RPC        slog.Logger

	backend *slog.Backend
	rotator io.Closer
}

// New builds a Backend writing to stdout and, unless logFilePath is
// empty, to a rotating file via jrick/logrotate, then obtains one
// tagged Logger per subsystem, all set to level.
func New(logFilePath, level string) (*Loggers, error) {
	writers := []io.Writer{os.Stdout}
	var rotator io.Closer

	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o700); err != nil {
			return nil, err
		}
		r, err := logrotate.New(logFilePath)
		if err != nil {
			return nil, err
		}
		writers = append(writers, r)
		rotator = r
	}

	backend := slog.NewBackend(io.MultiWriter(writers...))

	lvl, ok := slog.LevelFromString(level)
	if !ok {
		lvl = slog.LevelInfo
	}

	mk := func(tag string) slog.Logger {
		l := backend.Logger(tag)
		l.SetLevel(lvl)
		return l
	}

	return &Loggers{
		ChainIndex: mk(TagChainIndex),
		Queue:      mk(TagQueue),
		Loader:     mk(TagLoader),
		Iterator:   mk(TagIterator),
		Store:      mk(TagStore),
		Delivery:   mk(TagDelivery),
		Transport:  mk(TagTransport),
		Aggregate:  mk(TagAggregate),
		RPC:        mk(TagRPC),
		backend:    backend,
		rotator:    rotator,
	}, nil
}

// SetLevel updates every subsystem logger's level at once, for a
// SIGHUP-style live reconfiguration.
func (l *Loggers) SetLevel(level string) {
	lvl, ok := slog.LevelFromString(level)
	if !ok {
		return
	}
	for _, logger := range []slog.Logger{
		l.ChainIndex, l.Queue, l.Loader, l.Iterator,
		l.Store, l.Delivery, l.Transport, l.Aggregate, l.RPC,
	} {
		logger.SetLevel(lvl)
	}
}

// Close releases the rotating log file, if one was opened.
func (l *Loggers) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}
