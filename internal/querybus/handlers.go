// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package querybus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/EXCCoin/exccidx/internal/aggregate"
	"github.com/EXCCoin/exccidx/internal/chainidx"
	"github.com/EXCCoin/exccidx/internal/eventstore"
	"github.com/EXCCoin/exccidx/internal/model"
	"github.com/EXCCoin/exccidx/rpc/jsonrpc/types"
)

// RegisterChainQueries installs the chain-index-backed handlers
// (getchaintip, getblockbyheight).
func RegisterChainQueries(b *Bus, index *chainidx.ChainIndex) {
	b.Register(types.MethodGetChainTip, func(ctx context.Context, dto json.RawMessage) (any, error) {
		return struct {
			Height int64  `json:"height"`
			Hash   string `json:"hash"`
		}{Height: index.TipHeight(), Hash: index.TipHash()}, nil
	})

	b.Register(types.MethodGetBlockByHeight, func(ctx context.Context, dto json.RawMessage) (any, error) {
		var cmd types.GetBlockByHeightCmd
		if err := json.Unmarshal(dto, &cmd); err != nil {
			return nil, fmt.Errorf("%w: decoding getblockbyheight dto: %v", model.ErrValidation, err)
		}
		blk, ok := index.FindByHeight(cmd.Height)
		if !ok {
			return nil, fmt.Errorf("%w: no block at height %d", model.ErrValidation, cmd.Height)
		}
		return blk, nil
	})
}

// RegisterEventQueries installs the EventStore-backed handlers
// (fetchaggregateevents).
func RegisterEventQueries(b *Bus, store *eventstore.Store, table string) {
	b.Register(types.MethodFetchAggregateEvents, func(ctx context.Context, dto json.RawMessage) (any, error) {
		var cmd types.FetchAggregateEventsCmd
		if err := json.Unmarshal(dto, &cmd); err != nil {
			return nil, fmt.Errorf("%w: decoding fetchaggregateevents dto: %v", model.ErrValidation, err)
		}
		return store.FetchEventsForOneAggregate(ctx, table, cmd.AggregateID, model.FetchOptions{
			VersionGte: cmd.VersionGte,
			VersionLte: cmd.VersionLte,
			Limit:      cmd.Limit,
			Offset:     cmd.Offset,
		})
	})
}

// RegisterMempoolQueries installs the Mempool-aggregate-backed handlers
// (getmempoolentry, getmempoolsize).
func RegisterMempoolQueries(b *Bus, pool *aggregate.Mempool) {
	b.Register(types.MethodGetMempoolEntry, func(ctx context.Context, dto json.RawMessage) (any, error) {
		var cmd types.GetMempoolEntryCmd
		if err := json.Unmarshal(dto, &cmd); err != nil {
			return nil, fmt.Errorf("%w: decoding getmempoolentry dto: %v", model.ErrValidation, err)
		}
		entry, ok := pool.Get(cmd.TxID)
		if !ok {
			return nil, fmt.Errorf("%w: no mempool entry for txid %s", model.ErrValidation, cmd.TxID)
		}
		return entry, nil
	})

	b.Register(types.MethodGetMempoolSize, func(ctx context.Context, dto json.RawMessage) (any, error) {
		return struct {
			Size int `json:"size"`
		}{Size: pool.Size()}, nil
	})
}

// WatermarkSource reports the DeliveryLoop's current watermark.
type WatermarkSource interface {
	Watermark() int64
}

// RegisterDeliveryQueries installs the DeliveryLoop-backed handler
// (getoutboxwatermark).
func RegisterDeliveryQueries(b *Bus, loop WatermarkSource) {
	b.Register(types.MethodGetOutboxWatermark, func(ctx context.Context, dto json.RawMessage) (any, error) {
		return struct {
			Watermark int64 `json:"watermark"`
		}{Watermark: loop.Watermark()}, nil
	})
}
