// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package eventstore

import (
	"sync/atomic"
	"time"
)

// IDGenerator produces globally-unique, strictly-increasing 64-bit
// outbox ids. It is seeded from a high-resolution timestamp so that
// restarting the process never reuses ids already committed by a prior
// run (clock moves forward), and serves ranges atomically so concurrent
// persistAggregatesAndOutbox calls produce disjoint, strictly increasing
// id ranges, preserving the ordering guarantees delivery relies on.
type IDGenerator struct {
	next atomic.Int64
}

// NewIDGenerator seeds the counter from the current time in
// microseconds. Using microsecond resolution rather than a bare
// per-process counter starting at zero means a restarted process still
// produces ids above whatever the previous run reached, as long as that
// run reserved fewer ids than microseconds elapsed between its start and
// the restart (about one million ids per second of run time).
func NewIDGenerator() *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(time.Now().UnixMicro())
	return g
}

// Reserve atomically reserves a contiguous block of n ids and returns
// the inclusive [first, last] range. n must be >= 1.
func (g *IDGenerator) Reserve(n int) (first, last int64) {
	if n < 1 {
		n = 1
	}
	end := g.next.Add(int64(n))
	last = end - 1
	first = last - int64(n) + 1
	return first, last
}
