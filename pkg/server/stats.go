package server

import (
	"context"
	"sync"

	"github.com/microbiomedata/funcagg/pkg/storage"
)

// StatsSource is the part of storage.Store the cache reads.
type StatsSource interface {
	Stats(ctx context.Context) (*storage.Stats, error)
}

// StatsCache holds aggregation store statistics. The scheduler refreshes it
// after every cycle so health checks never scan the collection.
type StatsCache struct {
	source StatsSource

	mu    sync.RWMutex
	stats *storage.Stats
}

// NewStatsCache creates an empty cache over source.
func NewStatsCache(source StatsSource) *StatsCache {
	return &StatsCache{source: source}
}

// Refresh reads fresh statistics. The previous value is kept on error.
func (c *StatsCache) Refresh(ctx context.Context) error {
	stats, err := c.source.Stats(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return nil
}

// Get returns a copy of the last statistics, or nil before the first refresh.
func (c *StatsCache) Get() *storage.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stats == nil {
		return nil
	}
	s := *c.stats
	return &s
}
