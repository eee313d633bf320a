// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package loadercache gives the PullLoader a small on-disk resume point
// so a process restart does not have to re-request preload metadata it
// already fetched. It is backed by goleveldb, exccd's own embedded
// key/value store dependency, repurposed here from chain-block storage
// to a narrow preload-state cache.
package loadercache

import (
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/EXCCoin/exccidx/internal/model"
)

const stateKey = "pullloader/state/v1"

// State is the portion of PullLoader state worth surviving a restart.
type State struct {
	LastHeight      int64                 `json:"lastHeight"`
	MaxPreloadCount int                   `json:"maxPreloadCount"`
	Pending         []model.BlockMetadata `json:"pending"`
}

// Cache wraps a goleveldb handle storing a single serialized State
// record. It is intentionally tiny: one key, replaced wholesale on every
// Save, which is cheap at the cadence PullLoader ticks.
type Cache struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the leveldb database at dir.
func Open(dir string) (*Cache, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Load returns the last saved state, or ok=false if none exists yet.
func (c *Cache) Load() (State, bool, error) {
	raw, err := c.db.Get([]byte(stateKey), nil)
	if err == leveldb.ErrNotFound {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// Save persists st, replacing any previously saved state.
func (c *Cache) Save(st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.db.Put([]byte(stateKey), raw, nil)
}
