// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainidx maintains the tail of the blockchain as a doubly
// linked sequence of LightBlocks with O(1) lookup by height and FIFO
// eviction at a configurable maxSize. It is modeled on exccd's own
// blockNode (see blockchain/difficulty.go): parent-linked nodes keyed
// by height, generalized here from a PoW-retarget chain to a bounded,
// height-indexed linked list the indexer can reorg.
package chainidx

import (
	"sync"

	"github.com/EXCCoin/exccidx/internal/model"
)

// baseBlockHeight is the sentinel height representing "before the first
// block this index ever held". truncateTo(baseBlockHeight) clears the
// chain entirely.
const baseBlockHeight int64 = -1

// node is a LightBlock plus ownership links to its neighbors. A node is
// owned exclusively by the ChainIndex that created it; its lifetime ends
// on eviction (maxSize overflow from head) or truncation.
type node struct {
	block model.LightBlock
	prev  *node
	next  *node
}

// ChainIndex is a bounded, in-memory doubly linked blockchain segment.
// All exported methods are safe for concurrent use.
type ChainIndex struct {
	mu sync.RWMutex

	maxSize int

	head *node // lowest height currently held
	tail *node // highest height currently held (the chain tip)
	size int

	byHeight map[int64]*node
}

// New returns an empty ChainIndex bounded to maxSize nodes.
func New(maxSize int) *ChainIndex {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ChainIndex{
		maxSize:  maxSize,
		byHeight: make(map[int64]*node, maxSize),
	}
}

// Len returns the number of nodes currently held.
func (c *ChainIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// TipHeight returns the height of the chain tip, or baseBlockHeight if
// the chain is empty.
func (c *ChainIndex) TipHeight() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tail == nil {
		return baseBlockHeight
	}
	return c.tail.block.Height
}

// TipHash returns the hash of the chain tip, or "" if the chain is empty.
func (c *ChainIndex) TipHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tail == nil {
		return ""
	}
	return c.tail.block.Hash
}

// ValidateNextBlock reports whether b may legally extend the current
// tip, without mutating any state.
func (c *ChainIndex) ValidateNextBlock(b model.LightBlock) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validateLocked(b)
}

func (c *ChainIndex) validateLocked(b model.LightBlock) bool {
	if c.tail == nil {
		return true
	}
	return b.ExtendsLight(&c.tail.block)
}

// AddBlock appends b if it legally extends the tip. It returns false
// (without mutating state) on any adjacency violation.
func (c *ChainIndex) AddBlock(b model.LightBlock) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlockLocked(b)
}

func (c *ChainIndex) addBlockLocked(b model.LightBlock) bool {
	if !c.validateLocked(b) {
		return false
	}
	n := &node{block: b}
	if c.tail == nil {
		c.head = n
		c.tail = n
	} else {
		n.prev = c.tail
		c.tail.next = n
		c.tail = n
	}
	c.byHeight[b.Height] = n
	c.size++
	c.evictOverflowLocked()
	return true
}

// AddBlocks validates the entire batch for internal consecutiveness
// (and adjacency to the current tip) before inserting any of it. On any
// violation, nothing is inserted and false is returned.
func (c *ChainIndex) AddBlocks(bs []model.LightBlock) bool {
	if len(bs) == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := (*model.LightBlock)(nil)
	if c.tail != nil {
		t := c.tail.block
		prev = &t
	}
	for _, b := range bs {
		if !b.ExtendsLight(prev) {
			return false
		}
		cp := b
		prev = &cp
	}
	for _, b := range bs {
		c.addBlockLocked(b)
	}
	return true
}

// evictOverflowLocked removes nodes from the head until size <= maxSize.
// Must be called with the write lock held.
func (c *ChainIndex) evictOverflowLocked() {
	for c.size > c.maxSize && c.head != nil {
		old := c.head
		c.head = old.next
		if c.head != nil {
			c.head.prev = nil
		} else {
			c.tail = nil
		}
		delete(c.byHeight, old.block.Height)
		c.size--
	}
}

// FindByHeight returns the block at height h in O(1), if held.
func (c *ChainIndex) FindByHeight(h int64) (model.LightBlock, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.byHeight[h]
	if !ok {
		return model.LightBlock{}, false
	}
	return n.block, true
}

// TruncateTo removes all nodes with height > h. If h is below the
// current head's height, or equals baseBlockHeight, the chain is
// cleared. It fails (returns false, no mutation) only if h is below
// baseBlockHeight.
func (c *ChainIndex) TruncateTo(h int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h < baseBlockHeight {
		return false
	}
	if h == baseBlockHeight {
		c.clearLocked()
		return true
	}
	if c.head == nil {
		return true
	}
	if h < c.head.block.Height {
		c.clearLocked()
		return true
	}
	n := c.tail
	for n != nil && n.block.Height > h {
		prev := n.prev
		delete(c.byHeight, n.block.Height)
		c.size--
		n = prev
	}
	c.tail = n
	if n == nil {
		c.head = nil
	} else {
		n.next = nil
	}
	return true
}

func (c *ChainIndex) clearLocked() {
	c.head = nil
	c.tail = nil
	c.size = 0
	c.byHeight = make(map[int64]*node, c.maxSize)
}

// GetLastN returns up to n most recent blocks, oldest first.
func (c *ChainIndex) GetLastN(n int) []model.LightBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || c.tail == nil {
		return nil
	}
	out := make([]model.LightBlock, 0, n)
	cur := c.tail
	for cur != nil && len(out) < n {
		out = append(out, cur.block)
		cur = cur.prev
	}
	// reverse into ascending-height order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ToArray returns every held block, ascending by height.
func (c *ChainIndex) ToArray() []model.LightBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.LightBlock, 0, c.size)
	for n := c.head; n != nil; n = n.next {
		out = append(out, n.block)
	}
	return out
}

// FromArray restores the index from a previously captured array,
// replacing any current contents. The array must already be internally
// consecutive; callers coming from a validated store read satisfy this.
func (c *ChainIndex) FromArray(bs []model.LightBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	for _, b := range bs {
		c.addBlockLocked(b)
	}
}
