package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketPipe/internal/domain/models"
)

func cachedCandle(symbol string, bucket time.Time) *models.Candle {
	p := 1.1
	return &models.Candle{
		Symbol:    symbol,
		Timeframe: models.TFM1,
		Bucket:    bucket,
		Close:     &p,
	}
}

func TestMemoryLatestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryLatestCache(time.Minute)
	bucket := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	if _, err := cache.GetLatest(ctx, "EURUSD", models.TFM1); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	if err := cache.SetLatest(ctx, cachedCandle("EURUSD", bucket)); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := cache.GetLatest(ctx, "EURUSD", models.TFM1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Bucket.Equal(bucket) {
		t.Fatalf("bucket = %s, want %s", got.Bucket, bucket)
	}

	// a different timeframe is a separate key
	if _, err := cache.GetLatest(ctx, "EURUSD", models.TFM5); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss for M5, got %v", err)
	}
}

func TestMemoryLatestCacheKeepsNewerBucket(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryLatestCache(time.Minute)
	newer := time.Date(2026, 2, 10, 10, 5, 0, 0, time.UTC)
	older := newer.Add(-3 * time.Minute)

	if err := cache.SetLatest(ctx, cachedCandle("EURUSD", newer)); err != nil {
		t.Fatalf("set newer: %v", err)
	}
	// late indicator backfill for an older bucket must not win
	if err := cache.SetLatest(ctx, cachedCandle("EURUSD", older)); err != nil {
		t.Fatalf("set older: %v", err)
	}

	got, err := cache.GetLatest(ctx, "EURUSD", models.TFM1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Bucket.Equal(newer) {
		t.Fatalf("bucket = %s, want newer %s", got.Bucket, newer)
	}
}

func TestMemoryLatestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryLatestCache(10 * time.Millisecond)
	bucket := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	if err := cache.SetLatest(ctx, cachedCandle("EURUSD", bucket)); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := cache.GetLatest(ctx, "EURUSD", models.TFM1); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after expiry, got %v", err)
	}
}
