package repository

import (
	"context"
	"time"

	"MarketPipe/internal/domain/models"
)

// TickStore persists raw ticks and serves them back by arrival-time window.
type TickStore interface {
	StoreBatch(ctx context.Context, ticks []*models.RawTick) error
	// FetchWindow returns ticks with received_at in (from, to], ordered by
	// arrival then event time; the ordering is stable across repeated reads
	// of the same window.
	FetchWindow(ctx context.Context, from, to time.Time) ([]*models.RawTick, error)
	Health(ctx context.Context) error
	Close() error
}

// CandleStore persists candles with field-wise coalesce upsert semantics
// keyed by (symbol, timeframe, bucket start).
type CandleStore interface {
	Upsert(ctx context.Context, candles []*models.Candle) error
	RecentCandles(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) ([]*models.Candle, error)
	Latest(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error)
	Candles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.Candle, error)
	Health(ctx context.Context) error
	Close() error
}

// WatermarkStore persists the aggregator cursor. Values are monotonically
// non-decreasing; Advance is only called after the candle upsert of the same
// window succeeded.
type WatermarkStore interface {
	Last(ctx context.Context, key string) (time.Time, error)
	Advance(ctx context.Context, key string, to time.Time) error
}

// CandlePublisher pushes completed candles to downstream consumers.
type CandlePublisher interface {
	PublishBatch(ctx context.Context, candles []*models.Candle) error
	Close() error
}

// LatestCache caches the most recent candle per (symbol, timeframe).
type LatestCache interface {
	SetLatest(ctx context.Context, c *models.Candle) error
	GetLatest(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error)
}

// MarketStream is a live tick feed.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.RawTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Metrics is a fire-and-forget observer; implementations must never block
// the pipeline.
type Metrics interface {
	RecordBatch(size int)
	RecordFailure(kind string)
	RecordQueueDepth(n int)
	RecordWalRecords(n int)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordWatermarkLag(seconds float64)
}
