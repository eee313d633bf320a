// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/decred/slog"
)

func TestNewWithoutFileLoggingSetsRequestedLevel(t *testing.T) {
	t.Parallel()
	l, err := New("", "debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	if l.ChainIndex.Level() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", l.ChainIndex.Level())
	}
	if l.RPC.Level() != slog.LevelDebug {
		t.Fatalf("expected debug level on RPC logger, got %v", l.RPC.Level())
	}
}

func TestNewFallsBackToInfoOnUnknownLevel(t *testing.T) {
	t.Parallel()
	l, err := New("", "not-a-level")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	if l.Store.Level() != slog.LevelInfo {
		t.Fatalf("expected info fallback level, got %v", l.Store.Level())
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "exccidxd.log")
	l, err := New(path, "info")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.Delivery.Info("hello")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestSetLevelUpdatesAllSubsystems(t *testing.T) {
	t.Parallel()
	l, err := New("", "info")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.SetLevel("critical")

	for name, logger := range map[string]slog.Logger{
		"chainindex": l.ChainIndex,
		"queue":      l.Queue,
		"loader":     l.Loader,
		"iterator":   l.Iterator,
		"store":      l.Store,
		"delivery":   l.Delivery,
		"transport":  l.Transport,
		"aggregate":  l.Aggregate,
		"rpc":        l.RPC,
	} {
		if logger.Level() != slog.LevelCritical {
			t.Fatalf("subsystem %s: expected critical level, got %v", name, logger.Level())
		}
	}
}

func TestSetLevelIgnoresUnknownLevel(t *testing.T) {
	t.Parallel()
	l, err := New("", "warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	l.SetLevel("not-a-level")

	if l.Queue.Level() != slog.LevelWarn {
		t.Fatalf("expected level to remain warn, got %v", l.Queue.Level())
	}
}
