// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package querybus dispatches named QueryRequest envelopes to registered
// handlers: a closed registry of query types, each name mapped to a
// handler closure in a string-keyed table. The query names themselves
// follow the Cmd/NewXxxCmd convention of rpc/jsonrpc/types (see Method
// there).
package querybus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EXCCoin/exccidx/internal/model"
	"github.com/EXCCoin/exccidx/rpc/jsonrpc/types"
)

// Handler executes one named query against a raw DTO and returns a
// JSON-serializable result.
type Handler func(ctx context.Context, dto json.RawMessage) (any, error)

// Bus is a string-keyed table of query handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[types.Method]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[types.Method]Handler)}
}

// Register installs handler for name, overwriting any prior registration.
func (b *Bus) Register(name types.Method, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// Dispatch executes req against the registry and frames the result (or
// error) as a QueryResponsePayload.
func (b *Bus) Dispatch(ctx context.Context, req model.QueryRequestPayload) model.QueryResponsePayload {
	b.mu.RLock()
	h, ok := b.handlers[types.Method(req.Name)]
	b.mu.RUnlock()
	if !ok {
		return model.QueryResponsePayload{Name: req.Name, Err: fmt.Sprintf("unknown query %q", req.Name)}
	}

	result, err := h(ctx, req.DTO)
	if err != nil {
		return model.QueryResponsePayload{Name: req.Name, Err: err.Error()}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return model.QueryResponsePayload{Name: req.Name, Err: fmt.Sprintf("marshaling result: %v", err)}
	}
	return model.QueryResponsePayload{Name: req.Name, Data: data}
}
