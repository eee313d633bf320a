// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pullloader implements the adaptive, self-tuning pull strategy
// that drives a BlockQueue toward the current network tip: preload
// metadata ahead of full fetches, fan out parallel block fetches bounded
// by an errgroup, and retarget how far ahead it looks based on observed
// end-to-end latency — the same "sample two windows, retarget the
// lookahead" shape as exccd's own PoW difficulty retarget in
// blockchain/difficulty.go, applied here to preload depth instead of
// mining difficulty.
package pullloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/decred/slog"

	"github.com/EXCCoin/exccidx/internal/blockqueue"
	"github.com/EXCCoin/exccidx/internal/model"
	"github.com/EXCCoin/exccidx/internal/pullloader/loadercache"
)

// NetworkProvider is the external blockchain node collaborator. It is
// intentionally minimal: the Bitcoin-compatible RPC/P2P client itself is
// out of this core's scope; only this interface is consumed.
type NetworkProvider interface {
	// TipHeight returns the current height of the remote network.
	TipHeight(ctx context.Context) (int64, error)
	// FetchMetadataRange returns metadata (hash, size, height) for every
	// height in [from, to] inclusive, in ascending height order.
	FetchMetadataRange(ctx context.Context, from, to int64) ([]model.BlockMetadata, error)
	// FetchBlock fetches the full block body at height.
	FetchBlock(ctx context.Context, height int64) (model.Block, error)
}

// Config bounds the loader's adaptive behavior.
type Config struct {
	InitialBackoff             time.Duration // starting tick interval, e.g. 1s
	BackoffMultiplier          float64       // e.g. 2
	MaxBackoff                 time.Duration // hard cap, e.g. 30s
	BlockTime                  time.Duration // chain block time; half of this, if larger, raises the cap
	InitialMaxPreloadCount      int
	MaxRequestBlocksBatchBytes int64
	FetchRetries               int
	FetchRetryDelay            time.Duration
	ParallelFetchLimit         int
}

func (c Config) effectiveMaxBackoff() time.Duration {
	half := c.BlockTime / 2
	if half > c.MaxBackoff {
		return half
	}
	return c.MaxBackoff
}

// PullLoader drives queue toward the network tip using provider.
type PullLoader struct {
	cfg      Config
	queue    *blockqueue.BlockQueue
	provider NetworkProvider
	cache    *loadercache.Cache // optional; nil disables restart-resume
	log      slog.Logger

	pending         []model.BlockMetadata
	maxPreloadCount int
	lastDuration    time.Duration
	previousDuration time.Duration
}

// New constructs a PullLoader. cache may be nil to disable the on-disk
// resume point.
func New(cfg Config, queue *blockqueue.BlockQueue, provider NetworkProvider, cache *loadercache.Cache, log slog.Logger) *PullLoader {
	pl := &PullLoader{
		cfg:             cfg,
		queue:           queue,
		provider:        provider,
		cache:           cache,
		log:             log,
		maxPreloadCount: cfg.InitialMaxPreloadCount,
	}
	if pl.maxPreloadCount <= 0 {
		pl.maxPreloadCount = 1
	}
	if pl.cache != nil {
		if st, ok, err := pl.cache.Load(); err == nil && ok {
			pl.pending = st.Pending
			if st.MaxPreloadCount > 0 {
				pl.maxPreloadCount = st.MaxPreloadCount
			}
		}
	}
	return pl
}

// Run drives the tick loop until ctx is canceled.
func (pl *PullLoader) Run(ctx context.Context) {
	backoff := pl.cfg.InitialBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		atTip, err := pl.tick(ctx)
		switch {
		case err != nil:
			pl.log.Errorf("pull tick failed: %v", err)
			pl.pending = nil
			backoff = pl.cfg.InitialBackoff
		case atTip:
			backoff = nextBackoff(backoff, pl.cfg.BackoffMultiplier, pl.cfg.effectiveMaxBackoff())
		default:
			backoff = pl.cfg.InitialBackoff
		}
		timer.Reset(backoff)
	}
}

func nextBackoff(cur time.Duration, mult float64, cap time.Duration) time.Duration {
	next := time.Duration(float64(cur) * mult)
	if next > cap {
		next = cap
	}
	if next <= 0 {
		next = cap
	}
	return next
}

// tick runs one iteration of the preload/fetch/retarget algorithm. It returns
// atTip=true when the queue has already caught up to the remote network
// and nothing was done this tick.
func (pl *PullLoader) tick(ctx context.Context) (atTip bool, err error) {
	tip, err := pl.provider.TipHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: fetching tip height: %v", model.ErrTransientFetch, err)
	}

	last := pl.queue.LastHeight()
	if last >= tip {
		return true, nil
	}

	if len(pl.pending) == 0 {
		count := pl.maxPreloadCount
		if remaining := tip - last; remaining < int64(count) {
			count = int(remaining)
		}
		if count < 1 {
			count = 1
		}
		meta, err := pl.provider.FetchMetadataRange(ctx, last+1, last+int64(count))
		if err != nil {
			return false, fmt.Errorf("%w: fetching metadata: %v", model.ErrTransientFetch, err)
		}
		for _, m := range meta {
			if m.Hash == "" || m.Height < 0 {
				return false, fmt.Errorf("%w: metadata entry missing hash/height", model.ErrValidation)
			}
		}
		pl.pending = append(pl.pending, meta...)
		pl.persistState()
	}

	if len(pl.pending) == 0 {
		return false, nil
	}

	// Step 3: wouldAdd estimates one batch's bytes from the pending
	// metadata, but it is not compared against the queue: the queue's
	// byte cap is not visible here, so fetching is never skipped up
	// front. Overflow is caught per block below, where the first
	// ErrOverload from BlockQueue.Enqueue stops enqueueing the rest of
	// this batch.
	if pl.cfg.MaxRequestBlocksBatchBytes > 0 {
		var wouldAdd int64
		for _, m := range pl.pending {
			wouldAdd += m.Size
			if wouldAdd >= pl.cfg.MaxRequestBlocksBatchBytes {
				break
			}
		}
		_ = wouldAdd
	}

	toFetch, remainder := takeByBudget(pl.pending, pl.cfg.MaxRequestBlocksBatchBytes)
	pl.pending = remainder

	start := time.Now()
	blocks, err := pl.fetchParallel(ctx, toFetch)
	if err != nil {
		return false, err
	}
	elapsed := time.Since(start)

	for _, b := range blocks {
		if b.Height <= pl.queue.LastHeight() {
			continue
		}
		if enqErr := pl.queue.Enqueue(b); enqErr != nil {
			if errors.Is(enqErr, model.ErrOverload) {
				break
			}
			return false, fmt.Errorf("enqueue height %d: %w", b.Height, enqErr)
		}
	}

	pl.previousDuration = pl.lastDuration
	pl.lastDuration = elapsed
	pl.retarget()
	pl.persistState()

	return false, nil
}

// takeByBudget drains entries from pending greedily while cumulative
// size stays within maxBytes, always including at least one entry.
func takeByBudget(pending []model.BlockMetadata, maxBytes int64) (taken, remainder []model.BlockMetadata) {
	if len(pending) == 0 {
		return nil, nil
	}
	var sum int64
	i := 0
	for i < len(pending) {
		if i > 0 && maxBytes > 0 && sum+pending[i].Size > maxBytes {
			break
		}
		sum += pending[i].Size
		i++
	}
	if i == 0 {
		i = 1
	}
	taken = append([]model.BlockMetadata(nil), pending[:i]...)
	remainder = append([]model.BlockMetadata(nil), pending[i:]...)
	return taken, remainder
}

// fetchParallel fetches every metadata entry's block body concurrently,
// retrying transient failures, then returns them sorted ascending by
// height.
func (pl *PullLoader) fetchParallel(ctx context.Context, metas []model.BlockMetadata) ([]model.Block, error) {
	results := make([]model.Block, len(metas))

	limit := pl.cfg.ParallelFetchLimit
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, m := range metas {
		i, m := i, m
		g.Go(func() error {
			var lastErr error
			retries := pl.cfg.FetchRetries
			if retries <= 0 {
				retries = 3
			}
			for attempt := 0; attempt <= retries; attempt++ {
				b, err := pl.provider.FetchBlock(gctx, m.Height)
				if err == nil {
					results[i] = b
					return nil
				}
				lastErr = err
				if attempt < retries {
					select {
					case <-time.After(pl.cfg.FetchRetryDelay):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
			return fmt.Errorf("%w: height %d: %v", model.ErrTransientFetch, m.Height, lastErr)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// ascending height order
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Height < results[j-1].Height; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	return results, nil
}

// retarget adjusts maxPreloadCount by the ratio of the last two fetch
// durations.
func (pl *PullLoader) retarget() {
	if pl.previousDuration <= 0 || pl.lastDuration <= 0 {
		return
	}
	ratio := float64(pl.lastDuration) / float64(pl.previousDuration)
	switch {
	case ratio > 1.2:
		pl.maxPreloadCount = int(float64(pl.maxPreloadCount) * 1.25)
	case ratio < 0.8:
		pl.maxPreloadCount = int(float64(pl.maxPreloadCount) * 0.75)
		if pl.maxPreloadCount < 1 {
			pl.maxPreloadCount = 1
		}
	}
}

func (pl *PullLoader) persistState() {
	if pl.cache == nil {
		return
	}
	st := loadercache.State{
		LastHeight:      pl.queue.LastHeight(),
		MaxPreloadCount: pl.maxPreloadCount,
		Pending:         pl.pending,
	}
	if err := pl.cache.Save(st); err != nil {
		pl.log.Warnf("failed to persist pull loader resume state: %v", err)
	}
}
