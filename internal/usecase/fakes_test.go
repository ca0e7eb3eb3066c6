package usecase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketPipe/internal/domain/models"
	applogger "MarketPipe/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fakeWal struct {
	mu      sync.Mutex
	batches [][]any
	err     error
}

func (f *fakeWal) Append(records []any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.batches = append(f.batches, records)
	return fmt.Sprintf("ingest_%04d.jsonl", len(f.batches)), nil
}

func (f *fakeWal) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeWal) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeTickStore struct {
	mu       sync.Mutex
	stored   [][]*models.RawTick
	window   []*models.RawTick
	storeErr error
	fetchErr error
	fetched  [][2]time.Time
}

func (f *fakeTickStore) StoreBatch(_ context.Context, ticks []*models.RawTick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, ticks)
	return nil
}

func (f *fakeTickStore) FetchWindow(_ context.Context, from, to time.Time) ([]*models.RawTick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.fetched = append(f.fetched, [2]time.Time{from, to})
	return f.window, nil
}

func (f *fakeTickStore) Health(context.Context) error { return nil }
func (f *fakeTickStore) Close() error                 { return nil }

func (f *fakeTickStore) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.stored {
		n += len(b)
	}
	return n
}

type fakeCandleStore struct {
	mu        sync.Mutex
	upserts   [][]*models.Candle
	recent    []*models.Candle
	upsertErr error
	recentErr error
	latest    *models.Candle
	latestErr error
	candles   []*models.Candle
	gotLimit  int
}

func (f *fakeCandleStore) Upsert(_ context.Context, candles []*models.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, candles)
	return nil
}

func (f *fakeCandleStore) RecentCandles(_ context.Context, _ string, _ models.Timeframe, _ time.Time) ([]*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.recent, nil
}

func (f *fakeCandleStore) Latest(context.Context, string, models.Timeframe) (*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	if f.latest == nil {
		return nil, sql.ErrNoRows
	}
	return f.latest, nil
}

func (f *fakeCandleStore) Candles(_ context.Context, _ string, _ models.Timeframe, _, _ time.Time, limit int) ([]*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotLimit = limit
	return f.candles, nil
}

func (f *fakeCandleStore) Health(context.Context) error { return nil }
func (f *fakeCandleStore) Close() error                 { return nil }

func (f *fakeCandleStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeCandleStore) lastUpsert() []*models.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.upserts) == 0 {
		return nil
	}
	return f.upserts[len(f.upserts)-1]
}

type fakeWatermarkStore struct {
	mu         sync.Mutex
	last       time.Time
	advanced   []time.Time
	advanceErr error
}

func (f *fakeWatermarkStore) Last(context.Context, string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeWatermarkStore) Advance(_ context.Context, _ string, to time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.advanced = append(f.advanced, to)
	f.last = to
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]*models.Candle
	err     error
}

func (f *fakePublisher) PublishBatch(_ context.Context, candles []*models.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, candles)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeLatestCache struct {
	mu     sync.Mutex
	set    []*models.Candle
	latest *models.Candle
}

func (f *fakeLatestCache) SetLatest(_ context.Context, c *models.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, c)
	return nil
}

func (f *fakeLatestCache) GetLatest(context.Context, string, models.Timeframe) (*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest != nil {
		return f.latest, nil
	}
	return nil, errors.New("miss")
}

func (f *fakeLatestCache) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set)
}

type nopMetrics struct{}

func (nopMetrics) RecordBatch(int)                 {}
func (nopMetrics) RecordFailure(string)            {}
func (nopMetrics) RecordQueueDepth(int)            {}
func (nopMetrics) RecordWalRecords(int)            {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) RecordLatency(string, float64)   {}
func (nopMetrics) RecordWatermarkLag(float64)      {}

func almost(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
