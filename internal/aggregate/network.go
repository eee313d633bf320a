// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EXCCoin/exccidx/internal/chainidx"
	"github.com/EXCCoin/exccidx/internal/model"
)

// Network event types, the closed set the aggregate's apply indirection
// dispatches on.
const (
	EventNetworkBlocksAdded = "NetworkBlocksAdded"
	EventNetworkReorganized = "NetworkReorganized"
	EventNetworkCleared     = "NetworkCleared"
)

// genesisSentinel is the height below which no block can exist; reaching
// it during reorg descent without finding a fork point is the
// "genesis-reached" terminal condition.
const genesisSentinel int64 = -1

// NetworkBlocksAddedPayload is the NetworkBlocksAdded event payload: the
// LightBlocks appended to the chain in this event, in ascending height
// order.
type NetworkBlocksAddedPayload struct {
	Blocks []model.LightBlock `json:"blocks"`
}

// NetworkReorganizedPayload is the NetworkReorganized event payload: the
// height at which local and remote hashes last agreed, i.e. the height
// the chain is truncated to.
type NetworkReorganizedPayload struct {
	ForkHeight int64 `json:"forkHeight"`
}

// NetworkClearedPayload is the (empty) NetworkCleared event payload.
type NetworkClearedPayload struct{}

// networkSnapshotState is what CreateSnapshot/FromSnapshot serialize:
// enough of the in-memory ChainIndex to resume without replaying every
// historical event.
type networkSnapshotState struct {
	Blocks          []model.LightBlock `json:"blocks"`
	Version         uint64             `json:"version"`
	LastBlockHeight int64              `json:"lastBlockHeight"`
}

// RemoteHashAt fetches the remote chain's block hash at height, the
// external collaborator Reorganize descends against. The Bitcoin-
// compatible node client itself is out of this core's scope; only this
// narrow interface is consumed.
type RemoteHashAt func(ctx context.Context, height int64) (hash string, err error)

// Network is the Network aggregate root: it owns an in-memory ChainIndex
// and emits NetworkBlocksAdded / NetworkReorganized / NetworkCleared
// events as the tip advances or reorgs. All mutation happens through
// apply(event) (AddBlocks / Reorganize / Clear here), which both records
// the event in unsaved-events and dispatches to an idempotent handler;
// external code never reaches into the chain directly.
type Network struct {
	base
	mu    sync.Mutex
	chain *chainidx.ChainIndex
}

// NewNetwork constructs an empty Network aggregate backed by a
// ChainIndex bounded to maxChainSize nodes.
func NewNetwork(id string, maxChainSize int) *Network {
	n := &Network{chain: chainidx.New(maxChainSize)}
	n.id = id
	n.typeName = "network"
	n.lastHeight = genesisSentinel
	return n
}

// Chain exposes the ChainIndex for the query surface (FindByHeight,
// TipHeight, GetLastN, ToArray) other components (the query bus, the
// batch executor) use. The returned pointer is the live index, so its
// mutating methods are reachable through it as well.
func (n *Network) Chain() *chainidx.ChainIndex { return n.chain }

// AddBlocks attempts to extend the chain with blocks (ascending height,
// internally consecutive). On success it records and applies a
// NetworkBlocksAdded event. If blocks cannot extend the current tip, it
// returns a *model.ReorganizationSignal without mutating any state or
// recording an event; the caller is expected to invoke Reorganize and
// retry.
//
// Applying a batch whose last block's hash already equals the current
// tip hash is a no-op (idempotent replay safety).
func (n *Network) AddBlocks(blocks []model.LightBlock, requestID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(blocks) == 0 {
		return nil
	}
	if last := blocks[len(blocks)-1]; n.chain.TipHash() == last.Hash {
		return nil
	}
	if !n.chain.ValidateNextBlock(blocks[0]) {
		return &model.ReorganizationSignal{ForkHeight: genesisSentinel}
	}
	// Validate internal consecutiveness before touching the chain; the
	// batch form of ChainIndex.AddBlocks already does this atomically.
	if !n.chain.AddBlocks(blocks) {
		return &model.ReorganizationSignal{ForkHeight: genesisSentinel}
	}

	payload, err := json.Marshal(NetworkBlocksAddedPayload{Blocks: blocks})
	if err != nil {
		return fmt.Errorf("%w: marshaling NetworkBlocksAdded payload: %v", model.ErrValidation, err)
	}
	height := blocks[len(blocks)-1].Height
	n.base.record(height, requestID, EventNetworkBlocksAdded, payload)
	return nil
}

// Reorganize walks back from the lower of the local tip and
// remoteTipHeight, comparing local and remote hashes height by height,
// until it finds the height at which they agree (the fork point). It
// truncates the chain to that height and records a NetworkReorganized
// event. If it reaches the genesis sentinel without a match, it returns
// model.ErrGenesisReached and mutates nothing.
func (n *Network) Reorganize(ctx context.Context, remoteTipHeight int64, remoteHashAt RemoteHashAt) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	h := n.chain.TipHeight()
	if remoteTipHeight < h {
		h = remoteTipHeight
	}

	for h > genesisSentinel {
		localBlk, haveLocal := n.chain.FindByHeight(h)
		remoteHash, err := remoteHashAt(ctx, h)
		if err != nil {
			return fmt.Errorf("%w: fetching remote hash at height %d: %v", model.ErrTransientFetch, h, err)
		}
		if haveLocal && localBlk.Hash == remoteHash {
			payload, err := json.Marshal(NetworkReorganizedPayload{ForkHeight: h})
			if err != nil {
				return fmt.Errorf("%w: marshaling NetworkReorganized payload: %v", model.ErrValidation, err)
			}
			if !n.chain.TruncateTo(h) {
				return fmt.Errorf("%w: truncating chain to fork height %d", model.ErrValidation, h)
			}
			n.base.record(h, "", EventNetworkReorganized, payload)
			return nil
		}
		h--
	}
	return model.ErrGenesisReached
}

// Clear empties the chain entirely and records a NetworkCleared event.
func (n *Network) Clear() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	payload, err := json.Marshal(NetworkClearedPayload{})
	if err != nil {
		return fmt.Errorf("%w: marshaling NetworkCleared payload: %v", model.ErrValidation, err)
	}
	n.chain.TruncateTo(genesisSentinel)
	n.base.record(genesisSentinel, "", EventNetworkCleared, payload)
	return nil
}

// handleReplay applies a single historical event's effect on the chain
// without touching unsaved-events, per the Rehydratable contract
// eventstore.RehydrateAtHeight drives.
func (n *Network) handleReplay(e model.Event) error {
	switch e.Type {
	case EventNetworkBlocksAdded:
		var p NetworkBlocksAddedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("%w: decoding NetworkBlocksAdded: %v", model.ErrValidation, err)
		}
		if len(p.Blocks) > 0 && n.chain.TipHash() == p.Blocks[len(p.Blocks)-1].Hash {
			return nil // already applied; idempotent
		}
		n.chain.AddBlocks(p.Blocks)
		return nil
	case EventNetworkReorganized:
		var p NetworkReorganizedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("%w: decoding NetworkReorganized: %v", model.ErrValidation, err)
		}
		n.chain.TruncateTo(p.ForkHeight)
		return nil
	case EventNetworkCleared:
		n.chain.TruncateTo(genesisSentinel)
		return nil
	default:
		return unknownEventType(n.typeName, e.Type)
	}
}

// ApplyReplay satisfies eventstore.Rehydratable: apply e's effect on the
// chain and advance the version counter, without recording it again as
// unsaved.
func (n *Network) ApplyReplay(e model.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.handleReplay(e); err != nil {
		return err
	}
	n.base.bumpReplayVersion(e.Version, e.BlockHeight)
	return nil
}

// SnapshotPayload serializes the current chain contents, version, and
// last-block height for CreateSnapshot.
func (n *Network) SnapshotPayload() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return json.Marshal(networkSnapshotState{
		Blocks:          n.chain.ToArray(),
		Version:         n.base.Version(),
		LastBlockHeight: n.base.LastBlockHeight(),
	})
}

// FromSnapshot satisfies eventstore.Rehydratable: restore chain contents
// and counters from a previously captured SnapshotPayload.
func (n *Network) FromSnapshot(payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var s networkSnapshotState
	if err := json.Unmarshal(payload, &s); err != nil {
		return fmt.Errorf("%w: decoding network snapshot: %v", model.ErrValidation, err)
	}
	n.chain.FromArray(s.Blocks)
	n.base.resetTo(s.Version, s.LastBlockHeight)
	return nil
}
