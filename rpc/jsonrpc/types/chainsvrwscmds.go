// Copyright (c) 2014-2015 The btcsuite developers
// Copyright (c) 2015-2021 The Decred developers
// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// NOTE: This file houses the query commands the indexer exposes over its
// query-by-name bus: a closed registry of query types, each mapped to a
// handler. It keeps the Cmd / NewXxxCmd shape chainsvrwscmds.go always
// used for the chain server's websocket-only commands, applied to
// indexer queries instead.
package types

// Method names the closed set of queries the bus accepts. The wire
// QueryRequestPayload.Name is compared against these verbatim.
type Method string

const (
	MethodGetChainTip        Method = "getchaintip"
	MethodGetBlockByHeight   Method = "getblockbyheight"
	MethodFetchAggregateEvents Method = "fetchaggregateevents"
	MethodGetOutboxWatermark Method = "getoutboxwatermark"
	MethodGetMempoolEntry    Method = "getmempoolentry"
	MethodGetMempoolSize     Method = "getmempoolsize"
)

// GetChainTipCmd requests the current chain index tip.
type GetChainTipCmd struct{}

// NewGetChainTipCmd returns a new instance which can be used to issue a
// getchaintip query.
func NewGetChainTipCmd() *GetChainTipCmd { return &GetChainTipCmd{} }

// GetBlockByHeightCmd requests the light block at a given height.
type GetBlockByHeightCmd struct {
	Height int64
}

// NewGetBlockByHeightCmd returns a new instance which can be used to
// issue a getblockbyheight query.
func NewGetBlockByHeightCmd(height int64) *GetBlockByHeightCmd {
	return &GetBlockByHeightCmd{Height: height}
}

// FetchAggregateEventsCmd requests a version-bounded event range for one
// aggregate.
type FetchAggregateEventsCmd struct {
	AggregateID string
	VersionGte  int64
	VersionLte  int64
	Limit       int
	Offset      int
}

// NewFetchAggregateEventsCmd returns a new instance which can be used to
// issue a fetchaggregateevents query.
func NewFetchAggregateEventsCmd(aggregateID string, versionGte, versionLte int64, limit, offset int) *FetchAggregateEventsCmd {
	return &FetchAggregateEventsCmd{
		AggregateID: aggregateID,
		VersionGte:  versionGte,
		VersionLte:  versionLte,
		Limit:       limit,
		Offset:      offset,
	}
}

// GetOutboxWatermarkCmd requests the DeliveryLoop's current watermark.
type GetOutboxWatermarkCmd struct{}

// NewGetOutboxWatermarkCmd returns a new instance which can be used to
// issue a getoutboxwatermark query.
func NewGetOutboxWatermarkCmd() *GetOutboxWatermarkCmd { return &GetOutboxWatermarkCmd{} }

// GetMempoolEntryCmd requests a single mempool entry by transaction id.
type GetMempoolEntryCmd struct {
	TxID string
}

// NewGetMempoolEntryCmd returns a new instance which can be used to issue
// a getmempoolentry query.
func NewGetMempoolEntryCmd(txID string) *GetMempoolEntryCmd {
	return &GetMempoolEntryCmd{TxID: txID}
}

// GetMempoolSizeCmd requests the current mempool entry count.
type GetMempoolSizeCmd struct{}

// NewGetMempoolSizeCmd returns a new instance which can be used to issue
// a getmempoolsize query.
func NewGetMempoolSizeCmd() *GetMempoolSizeCmd { return &GetMempoolSizeCmd{} }
