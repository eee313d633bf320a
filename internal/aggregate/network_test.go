// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/EXCCoin/exccidx/internal/model"
)

func lb(height int64, hash, prev string) model.LightBlock {
	return model.LightBlock{Height: height, Hash: hash, PreviousHash: prev}
}

func TestNetworkAddBlocksRecordsEvent(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	if err := n.AddBlocks([]model.LightBlock{lb(0, "h0", "")}, "req-1"); err != nil {
		t.Fatalf("AddBlocks genesis: %v", err)
	}
	if err := n.AddBlocks([]model.LightBlock{lb(1, "h1", "h0"), lb(2, "h2", "h1")}, "req-2"); err != nil {
		t.Fatalf("AddBlocks batch: %v", err)
	}

	unsaved := n.UnsavedEvents()
	if len(unsaved) != 2 {
		t.Fatalf("expected 2 unsaved events, got %d", len(unsaved))
	}
	if unsaved[0].Version != 1 || unsaved[1].Version != 2 {
		t.Fatalf("expected dense ascending versions, got %v %v", unsaved[0].Version, unsaved[1].Version)
	}
	if unsaved[1].RequestID != "req-2" {
		t.Fatalf("expected requestId carried through, got %q", unsaved[1].RequestID)
	}
	if n.Chain().TipHeight() != 2 || n.Chain().TipHash() != "h2" {
		t.Fatalf("expected chain tip at h2, got %d/%s", n.Chain().TipHeight(), n.Chain().TipHash())
	}
}

func TestNetworkAddBlocksNoOpWhenAlreadyApplied(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	batch := []model.LightBlock{lb(0, "h0", ""), lb(1, "h1", "h0")}
	if err := n.AddBlocks(batch, "req-1"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if len(n.UnsavedEvents()) != 1 {
		t.Fatalf("expected 1 event after first apply")
	}

	// Re-applying a batch whose last block matches the current tip hash
	// must be a no-op: no new event, no error.
	if err := n.AddBlocks(batch, "req-1-retry"); err != nil {
		t.Fatalf("replayed apply should be a no-op, got error: %v", err)
	}
	if len(n.UnsavedEvents()) != 1 {
		t.Fatalf("expected no additional unsaved events from replay no-op")
	}
}

func TestNetworkAddBlocksSignalsReorg(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	if err := n.AddBlocks([]model.LightBlock{lb(0, "h0", ""), lb(1, "h1", "h0")}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := n.AddBlocks([]model.LightBlock{lb(2, "h2-fork", "wrong-prev")}, "")
	var sig *model.ReorganizationSignal
	if !errors.As(err, &sig) {
		t.Fatalf("expected ReorganizationSignal, got %v", err)
	}
	if n.Chain().TipHeight() != 1 || n.Chain().TipHash() != "h1" {
		t.Fatalf("rejected block must not mutate chain state, got tip=%d/%s", n.Chain().TipHeight(), n.Chain().TipHash())
	}
}

// TestNetworkReorganizeDescendsToForkPoint exercises the fork-descent
// scenario: local chain ends at height 100 with hash H100. Remote
// height 100 has a different hash, but remote height 99 matches local
// H99. Reorganize must descend to 99, emit NetworkReorganized{99}, and
// truncate the chain to height 99.
func TestNetworkReorganizeDescendsToForkPoint(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	blocks := make([]model.LightBlock, 0, 101)
	prevHash := ""
	for h := int64(0); h <= 100; h++ {
		hash := "h" + strconv.FormatInt(h, 10)
		blocks = append(blocks, lb(h, hash, prevHash))
		prevHash = hash
	}
	if err := n.AddBlocks(blocks, ""); err != nil {
		t.Fatalf("seeding chain: %v", err)
	}

	remoteHashes := map[int64]string{
		100: "h100-forked",
		99:  "h99",
	}
	remoteHashAt := func(ctx context.Context, height int64) (string, error) {
		if h, ok := remoteHashes[height]; ok {
			return h, nil
		}
		blk, _ := n.Chain().FindByHeight(height)
		return blk.Hash, nil
	}

	if err := n.Reorganize(context.Background(), 100, remoteHashAt); err != nil {
		t.Fatalf("Reorganize: %v", err)
	}
	if n.Chain().TipHeight() != 99 {
		t.Fatalf("expected truncation to height 99, got %d", n.Chain().TipHeight())
	}

	unsaved := n.UnsavedEvents()
	last := unsaved[len(unsaved)-1]
	if last.Type != EventNetworkReorganized {
		t.Fatalf("expected last event to be %s, got %s", EventNetworkReorganized, last.Type)
	}
	var payload NetworkReorganizedPayload
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.ForkHeight != 99 {
		t.Fatalf("expected fork height 99, got %d", payload.ForkHeight)
	}
}

func TestNetworkReorganizeGenesisReached(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	if err := n.AddBlocks([]model.LightBlock{lb(0, "h0", ""), lb(1, "h1", "h0")}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	neverMatches := func(ctx context.Context, height int64) (string, error) {
		return "no-such-hash", nil
	}
	err := n.Reorganize(context.Background(), 1, neverMatches)
	if !errors.Is(err, model.ErrGenesisReached) {
		t.Fatalf("expected ErrGenesisReached, got %v", err)
	}
	if n.Chain().TipHeight() != 1 {
		t.Fatalf("expected no mutation on genesis-reached failure")
	}
}

func TestNetworkSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	if err := n.AddBlocks([]model.LightBlock{lb(0, "h0", ""), lb(1, "h1", "h0")}, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	payload, err := n.SnapshotPayload()
	if err != nil {
		t.Fatalf("SnapshotPayload: %v", err)
	}

	restored := NewNetwork("net-1", 1000)
	if err := restored.FromSnapshot(payload); err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	if restored.Chain().TipHeight() != n.Chain().TipHeight() || restored.Chain().TipHash() != n.Chain().TipHash() {
		t.Fatalf("restored chain tip mismatch - got %v, want %v",
			spew.Sdump(restored.Chain()), spew.Sdump(n.Chain()))
	}
	if restored.Version() != n.Version() {
		t.Fatalf("expected version %d, got %d", n.Version(), restored.Version())
	}
}

func TestNetworkApplyReplayIdempotent(t *testing.T) {
	t.Parallel()

	n := NewNetwork("net-1", 1000)
	payload, err := json.Marshal(NetworkBlocksAddedPayload{Blocks: []model.LightBlock{lb(0, "h0", "")}})
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	ev := model.Event{
		Version:     1,
		BlockHeight: 0,
		Type:        EventNetworkBlocksAdded,
		Payload:     payload,
	}
	if err := n.ApplyReplay(ev); err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if err := n.ApplyReplay(ev); err != nil {
		t.Fatalf("replaying same event twice must be idempotent, got: %v", err)
	}
	if n.Chain().TipHeight() != 0 || n.Chain().TipHash() != "h0" {
		t.Fatalf("unexpected chain state after duplicate replay")
	}
}
