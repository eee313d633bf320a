// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package nodeclient is the thinnest possible bridge from the pull
// loader's and the ingest executor's narrow collaborator interfaces
// (TipHeight/FetchMetadataRange/FetchBlock/HashAt) to a Bitcoin-compatible
// node's JSON-RPC endpoint. The node's full RPC/P2P client (exccd's
// own rpcclient package) is explicitly out of this indexer's
// scope; this package does not reimplement it, it only issues the
// handful of JSON-RPC calls the pipeline actually needs, over stdlib
// net/http, the same way exccd's own rpcclient frames its HTTP
// POST requests before json-rpc dispatch.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/EXCCoin/exccidx/internal/model"
)

// Client is a minimal JSON-RPC client for the subset of node calls the
// indexing pipeline consumes.
type Client struct {
	endpoint string
	user     string
	pass     string
	http     *http.Client
}

// New constructs a Client targeting endpoint (e.g. "http://127.0.0.1:9666")
// with basic auth credentials.
func New(endpoint, user, pass string) *Client {
	return &Client{
		endpoint: endpoint,
		user:     user,
		pass:     pass,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "1.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: rpc call %s: %v", model.ErrTransientFetch, method, err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%w: decoding rpc response for %s: %v", model.ErrTransientFetch, method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%w: rpc %s: %s", model.ErrTransientFetch, method, rr.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

// TipHeight satisfies pullloader.NetworkProvider and ingest.RemoteHasher.
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := c.call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// HashAt satisfies ingest.RemoteHasher.
func (c *Client) HashAt(ctx context.Context, height int64) (string, error) {
	var hash string
	if err := c.call(ctx, "getblockhash", []any{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

type blockMetaResult struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
	Size   int64  `json:"size"`
}

// FetchMetadataRange satisfies pullloader.NetworkProvider.
func (c *Client) FetchMetadataRange(ctx context.Context, from, to int64) ([]model.BlockMetadata, error) {
	metas := make([]model.BlockMetadata, 0, to-from+1)
	for h := from; h <= to; h++ {
		var m blockMetaResult
		if err := c.call(ctx, "getblockmetadata", []any{h}, &m); err != nil {
			return nil, err
		}
		metas = append(metas, model.BlockMetadata{Height: m.Height, Hash: m.Hash, Size: m.Size})
	}
	return metas, nil
}

type blockResult struct {
	Height       int64    `json:"height"`
	Hash         string   `json:"hash"`
	PreviousHash string   `json:"previousblockhash"`
	MerkleRoot   string   `json:"merkleroot"`
	Size         int64    `json:"size"`
	Tx           []string `json:"tx"`
}

// FetchBlock satisfies pullloader.NetworkProvider.
func (c *Client) FetchBlock(ctx context.Context, height int64) (model.Block, error) {
	hash, err := c.HashAt(ctx, height)
	if err != nil {
		return model.Block{}, err
	}
	var b blockResult
	if err := c.call(ctx, "getblock", []any{hash}, &b); err != nil {
		return model.Block{}, err
	}
	return model.Block{
		Height:       b.Height,
		Hash:         b.Hash,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		Size:         b.Size,
		TxIDs:        b.Tx,
	}, nil
}
