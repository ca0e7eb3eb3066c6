package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketPipe/internal/domain/models"
)

func windowTick(symbol string, ts time.Time, bid, ask, volume float64) *models.RawTick {
	return &models.RawTick{
		Symbol:     symbol,
		TS:         ts,
		Bid:        ptr(bid),
		Ask:        ptr(ask),
		Volume:     ptr(volume),
		ReceivedAt: ts,
	}
}

func TestAggregateTicksOHLCV(t *testing.T) {
	minute := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	ticks := []*models.RawTick{
		windowTick("EURUSD", minute.Add(5*time.Second), 1.1000, 1.1002, 1.0),
		windowTick("EURUSD", minute.Add(30*time.Second), 1.1005, 1.1007, 2.0),
		windowTick("EURUSD", minute.Add(55*time.Second), 1.0998, 1.1000, 1.5),
	}

	candles := AggregateTicks(ticks)
	if len(candles) != 1 {
		t.Fatalf("candles = %d, want 1", len(candles))
	}
	c := candles[0]
	if c.Symbol != "EURUSD" || c.Timeframe != models.TFM1 {
		t.Fatalf("key = %s/%s", c.Symbol, c.Timeframe)
	}
	if !c.Bucket.Equal(minute) {
		t.Fatalf("bucket = %s, want %s", c.Bucket, minute)
	}
	if !almost(*c.Open, 1.1001) {
		t.Errorf("open = %v, want 1.1001", *c.Open)
	}
	if !almost(*c.High, 1.1006) {
		t.Errorf("high = %v, want 1.1006", *c.High)
	}
	if !almost(*c.Low, 1.0999) {
		t.Errorf("low = %v, want 1.0999", *c.Low)
	}
	if !almost(*c.Close, 1.0999) {
		t.Errorf("close = %v, want 1.0999", *c.Close)
	}
	if !almost(*c.Volume, 4.5) {
		t.Errorf("volume = %v, want 4.5", *c.Volume)
	}
	if !almost(*c.Spread, 0.0002) {
		t.Errorf("spread = %v, want 0.0002", *c.Spread)
	}
}

func TestAggregateTicksGroupsBySymbolAndMinute(t *testing.T) {
	m0 := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	m1 := m0.Add(time.Minute)
	ticks := []*models.RawTick{
		windowTick("EURUSD", m0.Add(10*time.Second), 1.1, 1.1, 1),
		windowTick("GBPUSD", m0.Add(20*time.Second), 1.3, 1.3, 1),
		windowTick("EURUSD", m1.Add(5*time.Second), 1.2, 1.2, 1),
		windowTick("EURUSD", m0.Add(50*time.Second), 1.1, 1.1, 1),
	}

	candles := AggregateTicks(ticks)
	if len(candles) != 3 {
		t.Fatalf("candles = %d, want 3", len(candles))
	}
	// groups come out in first-seen order
	want := []struct {
		symbol string
		bucket time.Time
	}{
		{"EURUSD", m0},
		{"GBPUSD", m0},
		{"EURUSD", m1},
	}
	for i, w := range want {
		if candles[i].Symbol != w.symbol || !candles[i].Bucket.Equal(w.bucket) {
			t.Errorf("candle %d = %s@%s, want %s@%s", i, candles[i].Symbol, candles[i].Bucket, w.symbol, w.bucket)
		}
	}
}

func TestAggregateTicksTimestampTieBreak(t *testing.T) {
	ts := time.Date(2026, 2, 10, 10, 0, 30, 0, time.UTC)
	ticks := []*models.RawTick{
		windowTick("EURUSD", ts, 1.10, 1.10, 0),
		windowTick("EURUSD", ts, 1.20, 1.20, 0),
	}

	candles := AggregateTicks(ticks)
	if len(candles) != 1 {
		t.Fatalf("candles = %d, want 1", len(candles))
	}
	// first seen wins for open, last seen wins for close
	if !almost(*candles[0].Open, 1.10) {
		t.Errorf("open = %v, want 1.10", *candles[0].Open)
	}
	if !almost(*candles[0].Close, 1.20) {
		t.Errorf("close = %v, want 1.20", *candles[0].Close)
	}
}

func TestAggregateTicksSkipsUnusable(t *testing.T) {
	ts := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	ticks := []*models.RawTick{
		nil,
		{Symbol: "", TS: ts, Bid: ptr(1.0)},
		{Symbol: "EURUSD", Bid: ptr(1.0)},
		{Symbol: "EURUSD", TS: ts},
	}
	if candles := AggregateTicks(ticks); len(candles) != 0 {
		t.Fatalf("candles = %d, want 0", len(candles))
	}
}

func TestAggregateTicksLastPriceOnly(t *testing.T) {
	ts := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	ticks := []*models.RawTick{
		{Symbol: "BTCUSD", TS: ts, Last: ptr(43000.0), Volume: ptr(0.5)},
	}

	candles := AggregateTicks(ticks)
	if len(candles) != 1 {
		t.Fatalf("candles = %d, want 1", len(candles))
	}
	c := candles[0]
	if !almost(*c.Open, 43000.0) || !almost(*c.Close, 43000.0) {
		t.Fatalf("open/close = %v/%v, want 43000", *c.Open, *c.Close)
	}
	if c.Spread != nil {
		t.Fatalf("spread = %v, want nil without both sides", *c.Spread)
	}
}

func TestCycleAggregatesAndAdvancesWatermark(t *testing.T) {
	now := time.Date(2026, 2, 10, 10, 1, 0, 0, time.UTC)
	last := now.Add(-time.Minute)
	minute := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	ticks := &fakeTickStore{window: []*models.RawTick{
		windowTick("EURUSD", minute.Add(5*time.Second), 1.1000, 1.1002, 1.0),
		windowTick("EURUSD", minute.Add(30*time.Second), 1.1005, 1.1007, 2.0),
	}}
	candles := &fakeCandleStore{}
	marks := &fakeWatermarkStore{last: last}
	pub := &fakePublisher{}
	cache := &fakeLatestCache{}

	agg := NewTickAggregator(ticks, candles, marks, nopMetrics{}, testLogger(t),
		WithClock(func() time.Time { return now }),
		WithPublisher(pub),
		WithLatestCache(cache),
	)

	summary, err := agg.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Ticks != 2 || summary.Candles != 1 {
		t.Fatalf("summary = %d ticks / %d candles", summary.Ticks, summary.Candles)
	}
	if !summary.From.Equal(last) || !summary.To.Equal(now) {
		t.Fatalf("window = (%s, %s], want (%s, %s]", summary.From, summary.To, last, now)
	}

	if len(ticks.fetched) != 1 || !ticks.fetched[0][0].Equal(last) || !ticks.fetched[0][1].Equal(now) {
		t.Fatalf("fetched windows = %v", ticks.fetched)
	}
	if got := candles.upsertCount(); got != 1 {
		t.Fatalf("upserts = %d, want 1", got)
	}
	if len(marks.advanced) != 1 || !marks.advanced[0].Equal(now) {
		t.Fatalf("advanced = %v, want [%s]", marks.advanced, now)
	}
	if len(pub.batches) != 1 || len(pub.batches[0]) != 1 {
		t.Fatalf("published batches = %v", pub.batches)
	}
	if len(cache.set) != 1 || cache.set[0].Symbol != "EURUSD" {
		t.Fatalf("cached candles = %v", cache.set)
	}
}

func TestCycleUpsertFailureLeavesWatermark(t *testing.T) {
	now := time.Date(2026, 2, 10, 10, 1, 0, 0, time.UTC)
	last := now.Add(-time.Minute)
	minute := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	ticks := &fakeTickStore{window: []*models.RawTick{
		windowTick("EURUSD", minute.Add(5*time.Second), 1.1000, 1.1002, 1.0),
	}}
	candles := &fakeCandleStore{upsertErr: errors.New("db down")}
	marks := &fakeWatermarkStore{last: last}

	agg := NewTickAggregator(ticks, candles, marks, nopMetrics{}, testLogger(t),
		WithClock(func() time.Time { return now }))

	if _, err := agg.Cycle(context.Background()); err == nil {
		t.Fatal("expected cycle error")
	}
	if len(marks.advanced) != 0 {
		t.Fatalf("watermark advanced after failed upsert: %v", marks.advanced)
	}

	// next cycle re-reads the same window and succeeds
	candles.upsertErr = nil
	if _, err := agg.Cycle(context.Background()); err != nil {
		t.Fatalf("retry cycle: %v", err)
	}
	if len(ticks.fetched) != 2 || !ticks.fetched[1][0].Equal(last) {
		t.Fatalf("retry window = %v, want from=%s", ticks.fetched, last)
	}
	if len(marks.advanced) != 1 || !marks.advanced[0].Equal(now) {
		t.Fatalf("advanced = %v, want [%s]", marks.advanced, now)
	}
}

func TestCycleEmptyWindowStillAdvances(t *testing.T) {
	now := time.Date(2026, 2, 10, 10, 1, 0, 0, time.UTC)
	candles := &fakeCandleStore{}
	marks := &fakeWatermarkStore{last: now.Add(-time.Minute)}

	agg := NewTickAggregator(&fakeTickStore{}, candles, marks, nopMetrics{}, testLogger(t),
		WithClock(func() time.Time { return now }))

	summary, err := agg.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Candles != 0 {
		t.Fatalf("candles = %d, want 0", summary.Candles)
	}
	if got := candles.upsertCount(); got != 0 {
		t.Fatalf("upserts = %d, want 0", got)
	}
	if len(marks.advanced) != 1 || !marks.advanced[0].Equal(now) {
		t.Fatalf("advanced = %v, want [%s]", marks.advanced, now)
	}
}

func TestCyclePublishFailureDoesNotFailCycle(t *testing.T) {
	now := time.Date(2026, 2, 10, 10, 1, 0, 0, time.UTC)
	minute := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)

	ticks := &fakeTickStore{window: []*models.RawTick{
		windowTick("EURUSD", minute.Add(5*time.Second), 1.1000, 1.1002, 1.0),
	}}
	marks := &fakeWatermarkStore{last: now.Add(-time.Minute)}
	pub := &fakePublisher{err: errors.New("broker unreachable")}

	agg := NewTickAggregator(ticks, &fakeCandleStore{}, marks, nopMetrics{}, testLogger(t),
		WithClock(func() time.Time { return now }),
		WithPublisher(pub),
	)

	if _, err := agg.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle must not fail on publish error: %v", err)
	}
	if len(marks.advanced) != 1 {
		t.Fatalf("advanced = %v, want one entry", marks.advanced)
	}
}
