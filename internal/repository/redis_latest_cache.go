package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketPipe/internal/domain/models"
	domrepo "MarketPipe/internal/domain/repository"
)

// ErrCacheMiss is returned when no latest candle is cached for the key.
var ErrCacheMiss = errors.New("latest cache miss")

// RedisLatestCache keeps the most recent candle per (symbol, timeframe) so
// the /latest endpoint can skip Postgres on the hot path.
type RedisLatestCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLatestCache creates a latest-candle cache.
func NewRedisLatestCache(client *redis.Client, prefix string, ttl time.Duration) domrepo.LatestCache {
	if prefix == "" {
		prefix = "marketpipe"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLatestCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisLatestCache) key(symbol string, tf models.Timeframe) string {
	return fmt.Sprintf("%s:latest:%s:%s", c.prefix, symbol, tf)
}

// SetLatest stores the candle only if it is not older than the cached one.
func (c *RedisLatestCache) SetLatest(ctx context.Context, candle *models.Candle) error {
	if candle == nil {
		return nil
	}
	cur, err := c.GetLatest(ctx, candle.Symbol, candle.Timeframe)
	if err == nil && cur.Bucket.After(candle.Bucket) {
		return nil
	}
	b, err := json.Marshal(candle)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}
	if err := c.client.Set(ctx, c.key(candle.Symbol, candle.Timeframe), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisLatestCache) GetLatest(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	b, err := c.client.Get(ctx, c.key(symbol, tf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var candle models.Candle
	if err := json.Unmarshal(b, &candle); err != nil {
		return nil, fmt.Errorf("unmarshal candle: %w", err)
	}
	return &candle, nil
}
