// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockqueue implements a bounded, byte-sized FIFO buffer of
// fetched blocks awaiting processing. It follows the "Mutexed FIFO +
// O(1) lookup" design note: a ring buffer plus a hash->height map,
// exploiting the invariant that heights held in the queue are always
// strictly consecutive so height lookups need no extra index.
package blockqueue

import (
	"sync"
	"sync/atomic"

	"github.com/EXCCoin/exccidx/internal/model"
)

// entry is a Block plus its byte size, as held by the ring.
type entry struct {
	block model.Block
	size  int64
}

// BlockQueue is a bounded FIFO of model.Block, keyed by height and hash.
// Mutating operations are serialized by mu. Length/LastHeight/CurrentSize
// are additionally mirrored into atomics so lock-free scalar reads are
// possible; batch operations (GetBatchUpToSize, Reorganize) still take
// the lock.
type BlockQueue struct {
	mu sync.Mutex

	buf  []entry
	head int // index of the oldest element in buf
	n    int // number of valid elements

	byHash map[string]int64 // hash -> height of every held block, kept in step with the ring

	maxQueueSize   int64
	maxBlockHeight int64

	length      atomic.Int64
	lastHeight  atomic.Int64 // -1 means empty / not yet seeded
	currentSize atomic.Int64
}

// New returns an empty BlockQueue. startHeight seeds lastHeight (pass -1
// for a fresh queue starting from genesis). maxQueueSize bounds the
// cumulative byte size of held blocks; maxBlockHeight is a hard ceiling
// on the highest height the queue will ever accept (0 means unbounded).
func New(startHeight int64, maxQueueSize, maxBlockHeight int64) *BlockQueue {
	q := &BlockQueue{
		buf:            make([]entry, 16),
		byHash:         make(map[string]int64),
		maxQueueSize:   maxQueueSize,
		maxBlockHeight: maxBlockHeight,
	}
	q.lastHeight.Store(startHeight)
	return q
}

// Len returns the number of blocks currently queued. Lock-free.
func (q *BlockQueue) Len() int { return int(q.length.Load()) }

// LastHeight returns the height of the most recently enqueued block, or
// the seeded startHeight if nothing has been enqueued yet. Lock-free.
func (q *BlockQueue) LastHeight() int64 { return q.lastHeight.Load() }

// CurrentSize returns the sum of held blocks' sizes in bytes. Lock-free.
func (q *BlockQueue) CurrentSize() int64 { return q.currentSize.Load() }

// Enqueue appends b to the tail. It fails with model.ErrValidation if b's
// height does not immediately follow LastHeight, with model.ErrOverload
// if admitting it would exceed maxQueueSize, or with model.ErrValidation
// if LastHeight has already reached maxBlockHeight. Transaction hex
// bodies are stripped before storage.
func (q *BlockQueue) Enqueue(b model.Block) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	last := q.lastHeight.Load()
	if q.maxBlockHeight > 0 && last >= q.maxBlockHeight {
		return model.ErrValidation
	}
	if b.Height != last+1 {
		return model.ErrValidation
	}
	if q.maxQueueSize > 0 && q.currentSize.Load()+b.Size > q.maxQueueSize {
		return model.ErrOverload
	}

	// Strip hex bodies to reclaim memory; only txids are retained.
	stripped := b
	stripped.RawTxHex = nil

	q.pushLocked(entry{block: stripped, size: b.Size})
	q.byHash[b.Hash] = b.Height
	q.lastHeight.Store(b.Height)
	q.currentSize.Add(b.Size)
	return nil
}

func (q *BlockQueue) pushLocked(e entry) {
	if q.n == len(q.buf) {
		q.growLocked()
	}
	idx := (q.head + q.n) % len(q.buf)
	q.buf[idx] = e
	q.n++
	q.length.Store(int64(q.n))
}

func (q *BlockQueue) growLocked() {
	newBuf := make([]entry, len(q.buf)*2)
	for i := 0; i < q.n; i++ {
		newBuf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = newBuf
	q.head = 0
}

// FirstBlock peeks the head of the queue without removing it.
func (q *BlockQueue) FirstBlock() (model.Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return model.Block{}, false
	}
	return q.buf[q.head].block, true
}

// Dequeue removes the head entry if its hash matches, failing with
// model.ErrValidation otherwise.
func (q *BlockQueue) Dequeue(hash string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueOneLocked(hash)
}

func (q *BlockQueue) dequeueOneLocked(hash string) error {
	if q.n == 0 {
		return model.ErrValidation
	}
	head := q.buf[q.head]
	if head.block.Hash != hash {
		return model.ErrValidation
	}
	delete(q.byHash, head.block.Hash)
	q.buf[q.head] = entry{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	q.length.Store(int64(q.n))
	q.currentSize.Add(-head.size)
	return nil
}

// DequeueMany removes a run of entries from the head, matching hashes in
// order. On the first mismatch, no further entries are removed and
// model.ErrValidation is returned for the remainder.
func (q *BlockQueue) DequeueMany(hashes []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range hashes {
		if err := q.dequeueOneLocked(h); err != nil {
			return err
		}
	}
	return nil
}

// FindByHeight looks up a held block by height in O(1), exploiting
// queue-internal height consecutiveness.
func (q *BlockQueue) FindByHeight(h int64) (model.Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return model.Block{}, false
	}
	first := q.buf[q.head].block.Height
	offset := h - first
	if offset < 0 || offset >= int64(q.n) {
		return model.Block{}, false
	}
	idx := (q.head + int(offset)) % len(q.buf)
	return q.buf[idx].block, true
}

// FindByHashes returns the subset of held blocks matching hashes.
func (q *BlockQueue) FindByHashes(hashes map[string]struct{}) []model.Block {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Block, 0, len(hashes))
	for i := 0; i < q.n; i++ {
		idx := (q.head + i) % len(q.buf)
		if _, ok := hashes[q.buf[idx].block.Hash]; ok {
			out = append(out, q.buf[idx].block)
		}
	}
	return out
}

// GetBatchUpToSize returns a prefix of the queue whose cumulative byte
// size does not exceed maxBytes. It always returns at least one block
// when the queue is non-empty, even if that block alone exceeds the
// budget.
func (q *BlockQueue) GetBatchUpToSize(maxBytes int64) []model.Block {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil
	}
	var (
		out  []model.Block
		sum  int64
	)
	for i := 0; i < q.n; i++ {
		idx := (q.head + i) % len(q.buf)
		e := q.buf[idx]
		if len(out) > 0 && sum+e.size > maxBytes {
			break
		}
		out = append(out, e.block)
		sum += e.size
	}
	return out
}

// Reorganize clears all contents and resets LastHeight to newLastHeight.
func (q *BlockQueue) Reorganize(newLastHeight int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = make([]entry, 16)
	q.head = 0
	q.n = 0
	q.byHash = make(map[string]int64)
	q.length.Store(0)
	q.currentSize.Store(0)
	q.lastHeight.Store(newLastHeight)
}
