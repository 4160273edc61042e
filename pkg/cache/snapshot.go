package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/void-labs/void-supply/pkg/types"
)

type StatsComputer interface {
	ComputeStats(ctx context.Context) (*types.SupplySnapshot, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, maxReturn int) ([]types.BurnEvent, error)
}

type Options struct {
	// TTL is how long a stats snapshot counts as fresh. Default 60s.
	TTL time.Duration
	// Interval is the refresher cadence. Defaults to TTL.
	Interval time.Duration
	Logger   *slog.Logger
}

// SnapshotCache holds the latest stats snapshot and reconciled history so readers
// never wait on the ledger.
type SnapshotCache struct {
	mu        sync.RWMutex
	snap      *types.SupplySnapshot
	history   []types.BurnEvent
	historyAt time.Time

	ttl      time.Duration
	interval time.Duration
	comp     StatsComputer
	rec      Reconciler
	logger   *slog.Logger
	now      func() time.Time
}

func NewSnapshotCache(comp StatsComputer, rec Reconciler, opt Options) *SnapshotCache {
	if opt.TTL <= 0 {
		opt.TTL = 60 * time.Second
	}
	if opt.Interval <= 0 {
		opt.Interval = opt.TTL
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &SnapshotCache{
		ttl:      opt.TTL,
		interval: opt.Interval,
		comp:     comp,
		rec:      rec,
		logger:   opt.Logger,
		now:      time.Now,
	}
}

// Stats returns the cached snapshot and whether it is still fresh.
func (c *SnapshotCache) Stats() (*types.SupplySnapshot, bool) {
	c.mu.RLock()
	s := c.snap
	c.mu.RUnlock()
	if s == nil {
		return nil, false
	}
	if c.now().Sub(s.UpdatedAt) > c.ttl {
		return s, false
	}
	return s, true
}

// UpdateStats recomputes the snapshot. On failure the previous snapshot is kept but
// goes stale at its normal TTL.
func (c *SnapshotCache) UpdateStats(ctx context.Context) (*types.SupplySnapshot, error) {
	s, err := c.comp.ComputeStats(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
	return s, nil
}

// History returns a copy of the cached history, newest first, and when it was last
// reconciled. The time is zero before the first pass.
func (c *SnapshotCache) History() ([]types.BurnEvent, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.BurnEvent(nil), c.history...), c.historyAt
}

// UpdateHistory runs a reconciliation pass and caches the full retained history.
func (c *SnapshotCache) UpdateHistory(ctx context.Context) ([]types.BurnEvent, error) {
	h, err := c.rec.Reconcile(ctx, 0)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.history = h
	c.historyAt = c.now().UTC()
	c.mu.Unlock()
	return append([]types.BurnEvent(nil), h...), nil
}

// Refresh updates stats and history. Failures are logged; neither blocks the other.
func (c *SnapshotCache) Refresh(ctx context.Context) {
	if _, err := c.UpdateStats(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("stats refresh failed", "err", err)
	}
	if _, err := c.UpdateHistory(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("history refresh failed", "err", err)
	}
}

// RunRefresher refreshes immediately and then every Interval until ctx is done.
func (c *SnapshotCache) RunRefresher(ctx context.Context) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
