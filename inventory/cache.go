package inventory

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// =============================================================================
// CACHED CHECKPOINTS - Memoized LatestBefore lookups
// =============================================================================

// CachedCheckpoints memoizes LatestBefore and LatestBeforeForItem. Every
// successful AppendSnapshot purges the whole cache: a stale entry here would
// let an old snapshot shadow a newer one.
//
// A lookup that raced with an append is not cached. The generation counter
// is bumped by every append and checked before a result is stored.
type CachedCheckpoints struct {
	CheckpointLog

	mu    sync.Mutex
	gen   uint64
	cache *lru.Cache
}

type checkpointKey struct {
	scoped bool // LatestBeforeForItem
	item   ItemID
	at     time.Time // UTC, no monotonic reading
}

// NewCachedCheckpoints wraps log with an LRU of the given size.
func NewCachedCheckpoints(log CheckpointLog, size int) (*CachedCheckpoints, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedCheckpoints{CheckpointLog: log, cache: c}, nil
}

func (c *CachedCheckpoints) AppendSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error) {
	stored, err := c.CheckpointLog.AppendSnapshot(ctx, snap)
	if err != nil {
		return stored, err
	}
	c.invalidate()
	return stored, nil
}

func (c *CachedCheckpoints) LatestBefore(ctx context.Context, at time.Time) (*Snapshot, error) {
	return c.lookup(checkpointKey{at: at.UTC()}, func() (*Snapshot, error) {
		return c.CheckpointLog.LatestBefore(ctx, at)
	})
}

func (c *CachedCheckpoints) LatestBeforeForItem(ctx context.Context, item ItemID, at time.Time) (*Snapshot, error) {
	return c.lookup(checkpointKey{scoped: true, item: item, at: at.UTC()}, func() (*Snapshot, error) {
		return c.CheckpointLog.LatestBeforeForItem(ctx, item, at)
	})
}

// Len reports the number of cached lookups.
func (c *CachedCheckpoints) Len() int { return c.cache.Len() }

func (c *CachedCheckpoints) lookup(key checkpointKey, load func() (*Snapshot, error)) (*Snapshot, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(*Snapshot), nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	snap, err := load()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.cache.Add(key, snap)
	}
	c.mu.Unlock()
	return snap, nil
}

func (c *CachedCheckpoints) invalidate() {
	c.mu.Lock()
	c.gen++
	c.cache.Purge()
	c.mu.Unlock()
}
