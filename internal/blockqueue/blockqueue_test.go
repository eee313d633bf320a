// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockqueue

import (
	"errors"
	"testing"

	"github.com/EXCCoin/exccidx/internal/model"
)

func blk(h, size int64, hash string) model.Block {
	return model.Block{Height: h, Hash: hash, Size: size}
}

// TestQueueOrderingScenario mirrors spec.md §8 scenario 1 verbatim.
func TestQueueOrderingScenario(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 0)
	if err := q.Enqueue(blk(0, 100, "h0")); err != nil {
		t.Fatalf("enqueue h0: %v", err)
	}
	if err := q.Enqueue(blk(1, 150, "h1")); err != nil {
		t.Fatalf("enqueue h1: %v", err)
	}
	if err := q.Enqueue(blk(2, 200, "h2")); err != nil {
		t.Fatalf("enqueue h2: %v", err)
	}

	if q.CurrentSize() != 450 {
		t.Fatalf("expected currentSize 450, got %d", q.CurrentSize())
	}
	if q.LastHeight() != 2 {
		t.Fatalf("expected lastHeight 2, got %d", q.LastHeight())
	}

	batch := q.GetBatchUpToSize(300)
	if len(batch) != 2 || batch[0].Height != 0 || batch[1].Height != 1 {
		t.Fatalf("unexpected first batch: %+v", batch)
	}

	if err := q.Dequeue("h0"); err != nil {
		t.Fatalf("dequeue h0: %v", err)
	}

	batch2 := q.GetBatchUpToSize(300)
	if len(batch2) != 1 || batch2[0].Height != 1 {
		t.Fatalf("unexpected second batch (150+200>300 must yield only h1): %+v", batch2)
	}
}

func TestEnqueueRejectsOutOfSequence(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 0)
	if err := q.Enqueue(blk(0, 10, "h0")); err != nil {
		t.Fatalf("enqueue h0: %v", err)
	}
	err := q.Enqueue(blk(2, 10, "h2"))
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation for height gap, got %v", err)
	}
}

func TestEnqueueRejectsOverload(t *testing.T) {
	t.Parallel()

	q := New(-1, 150, 0)
	if err := q.Enqueue(blk(0, 100, "h0")); err != nil {
		t.Fatalf("enqueue h0: %v", err)
	}
	err := q.Enqueue(blk(1, 100, "h1"))
	if !errors.Is(err, model.ErrOverload) {
		t.Fatalf("expected ErrOverload, got %v", err)
	}
}

func TestEnqueueRejectsMaxHeight(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 1)
	if err := q.Enqueue(blk(0, 10, "h0")); err != nil {
		t.Fatalf("enqueue h0: %v", err)
	}
	if err := q.Enqueue(blk(1, 10, "h1")); err != nil {
		t.Fatalf("enqueue h1 at max height: %v", err)
	}
	err := q.Enqueue(blk(2, 10, "h2"))
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation past max height, got %v", err)
	}
}

func TestGetBatchUpToSizeAlwaysReturnsOne(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 0)
	if err := q.Enqueue(blk(0, 5_000, "h0")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	batch := q.GetBatchUpToSize(100)
	if len(batch) != 1 {
		t.Fatalf("expected exactly one oversized block returned, got %d", len(batch))
	}
}

func TestDequeueWrongHashFails(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 0)
	q.Enqueue(blk(0, 10, "h0"))
	if err := q.Dequeue("wrong"); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected ErrValidation on hash mismatch, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("failed dequeue must not mutate state")
	}
}

func TestReorganizeClears(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 0)
	q.Enqueue(blk(0, 10, "h0"))
	q.Enqueue(blk(1, 10, "h1"))
	q.Reorganize(5)
	if q.Len() != 0 || q.CurrentSize() != 0 {
		t.Fatalf("expected empty queue after reorganize")
	}
	if q.LastHeight() != 5 {
		t.Fatalf("expected lastHeight 5, got %d", q.LastHeight())
	}
}

func TestFindByHeightAndHashes(t *testing.T) {
	t.Parallel()

	q := New(-1, 10_000, 0)
	q.Enqueue(blk(0, 10, "h0"))
	q.Enqueue(blk(1, 10, "h1"))
	q.Enqueue(blk(2, 10, "h2"))

	if _, ok := q.FindByHeight(1); !ok {
		t.Fatalf("expected height 1 present")
	}
	if _, ok := q.FindByHeight(99); ok {
		t.Fatalf("expected height 99 absent")
	}

	found := q.FindByHashes(map[string]struct{}{"h0": {}, "h2": {}})
	if len(found) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(found))
	}
}
