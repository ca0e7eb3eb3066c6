package repository

import (
	"context"
	"sync"
	"time"

	"MarketPipe/internal/domain/models"
	domrepo "MarketPipe/internal/domain/repository"
)

type memoryEntry struct {
	candle *models.Candle
	exp    time.Time
}

// MemoryLatestCache is the in-process fallback for the latest-candle cache
// when Redis is not configured. Same freshness rule as the Redis variant: a
// newer cached bucket is never replaced by an older one.
type MemoryLatestCache struct {
	mu  sync.RWMutex
	m   map[string]memoryEntry
	ttl time.Duration
}

// NewMemoryLatestCache creates an in-memory latest-candle cache.
func NewMemoryLatestCache(ttl time.Duration) domrepo.LatestCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryLatestCache{m: make(map[string]memoryEntry), ttl: ttl}
}

func (c *MemoryLatestCache) SetLatest(_ context.Context, candle *models.Candle) error {
	if candle == nil {
		return nil
	}
	key := candle.Symbol + "|" + string(candle.Timeframe)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.m[key]; ok && cur.candle.Bucket.After(candle.Bucket) && time.Now().Before(cur.exp) {
		return nil
	}
	c.m[key] = memoryEntry{candle: candle, exp: time.Now().Add(c.ttl)}
	return nil
}

func (c *MemoryLatestCache) GetLatest(_ context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	key := symbol + "|" + string(tf)
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return e.candle, nil
}
