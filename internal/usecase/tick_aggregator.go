package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketPipe/internal/domain/models"
	drepo "MarketPipe/internal/domain/repository"
	applogger "MarketPipe/pkg/logger"
)

// WatermarkKey is the aggregator_state row holding the last processed
// arrival time.
const WatermarkKey = "tick_agg_last_received_at"

// TickAggregator periodically folds raw ticks into M1 candles. Each cycle
// reads the window (watermark, now] by arrival time, groups ticks by symbol
// and minute bucket, upserts the resulting candles and only then advances
// the watermark, so a failed cycle is retried in full on the next run.
// Single-instance assumption: two concurrent aggregators would double-count.
type TickAggregator struct {
	ticks   drepo.TickStore
	candles drepo.CandleStore
	marks   drepo.WatermarkStore
	pub     drepo.CandlePublisher
	cache   drepo.LatestCache
	indic   *IndicatorCalculator
	metrics drepo.Metrics
	log     *applogger.Logger

	interval time.Duration
	now      func() time.Time
}

// AggregatorOption configures TickAggregator.
type AggregatorOption func(*TickAggregator)

// WithInterval sets the cycle interval.
func WithInterval(d time.Duration) AggregatorOption {
	return func(a *TickAggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithPublisher attaches a downstream candle publisher.
func WithPublisher(p drepo.CandlePublisher) AggregatorOption {
	return func(a *TickAggregator) { a.pub = p }
}

// WithLatestCache attaches a latest-candle cache.
func WithLatestCache(c drepo.LatestCache) AggregatorOption {
	return func(a *TickAggregator) { a.cache = c }
}

// WithIndicators runs indicator recomputation after each cycle.
func WithIndicators(ic *IndicatorCalculator) AggregatorOption {
	return func(a *TickAggregator) { a.indic = ic }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *TickAggregator) { a.now = now }
}

// NewTickAggregator creates a TickAggregator.
func NewTickAggregator(
	ticks drepo.TickStore,
	candles drepo.CandleStore,
	marks drepo.WatermarkStore,
	metrics drepo.Metrics,
	log *applogger.Logger,
	opts ...AggregatorOption,
) *TickAggregator {
	a := &TickAggregator{
		ticks:    ticks,
		candles:  candles,
		marks:    marks,
		metrics:  metrics,
		log:      log,
		interval: 5 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes cycles on a fixed interval until ctx is cancelled. Cycle
// errors are logged and retried next tick; they never stop the loop.
func (a *TickAggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.log.Info("tick aggregator started", applogger.Duration("interval", a.interval))
	for {
		select {
		case <-ctx.Done():
			a.log.Info("tick aggregator stopped")
			return
		case <-ticker.C:
			summary, err := a.Cycle(ctx)
			if err != nil {
				a.metrics.RecordFailure("aggregation")
				a.log.Error("aggregation cycle failed, window will be retried", applogger.Error(err))
				continue
			}
			if summary.Candles > 0 {
				a.log.Info("aggregated ticks",
					applogger.Int("ticks", summary.Ticks),
					applogger.Int("candles", summary.Candles),
					applogger.String("from", summary.From.Format(time.RFC3339)),
					applogger.String("to", summary.To.Format(time.RFC3339)),
				)
			}
		}
	}
}

// AggregationSummary describes one completed cycle.
type AggregationSummary struct {
	Ticks   int
	Candles int
	From    time.Time
	To      time.Time
}

// Cycle runs one fetch-group-upsert-advance pass. The watermark moves only
// after the upsert succeeded; repeated runs over the same window are
// idempotent because grouping is deterministic and the upsert overwrites the
// same keys with the same values.
func (a *TickAggregator) Cycle(ctx context.Context) (*AggregationSummary, error) {
	now := a.now().UTC()
	last, err := a.marks.Last(ctx, WatermarkKey)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	raw, err := a.ticks.FetchWindow(ctx, last, now)
	if err != nil {
		return nil, fmt.Errorf("fetch ticks: %w", err)
	}

	candles := AggregateTicks(raw)
	if len(candles) > 0 {
		if err := a.candles.Upsert(ctx, candles); err != nil {
			return nil, fmt.Errorf("upsert candles: %w", err)
		}
	}
	if err := a.marks.Advance(ctx, WatermarkKey, now); err != nil {
		return nil, fmt.Errorf("advance watermark: %w", err)
	}
	a.metrics.RecordWatermarkLag(a.now().UTC().Sub(now).Seconds())

	// side effects after the window is committed; failures here are logged
	// but never fail the cycle
	a.fanOut(ctx, candles)
	if a.indic != nil {
		for _, sym := range symbolsOf(candles) {
			if _, err := a.indic.ComputeIndicators(ctx, sym); err != nil {
				a.metrics.RecordFailure("indicators")
				a.log.Error("indicator recompute failed", applogger.String("symbol", sym), applogger.Error(err))
			}
		}
	}

	return &AggregationSummary{Ticks: len(raw), Candles: len(candles), From: last, To: now}, nil
}

func (a *TickAggregator) fanOut(ctx context.Context, candles []*models.Candle) {
	if len(candles) == 0 {
		return
	}
	if a.pub != nil {
		if err := a.pub.PublishBatch(ctx, candles); err != nil {
			a.metrics.RecordFailure("publish")
			a.log.Error("candle publish failed", applogger.Error(err))
		}
	}
	if a.cache != nil {
		for _, c := range candles {
			if err := a.cache.SetLatest(ctx, c); err != nil {
				a.metrics.RecordFailure("cache")
				a.log.Warn("latest cache update failed", applogger.String("symbol", c.Symbol), applogger.Error(err))
			}
			if c.Close != nil {
				a.metrics.RecordLastPrice(c.Symbol, *c.Close)
			}
		}
	}
}

// AggregateTicks groups ticks by (symbol, minute bucket) and computes OHLCV
// plus average spread per group. Open and close come from the earliest and
// latest tick of the group; equal timestamps are broken by input order
// (first seen wins for open, last seen wins for close), which keeps repeated
// runs over the same window byte-identical.
func AggregateTicks(ticks []*models.RawTick) []*models.Candle {
	type acc struct {
		candle      *models.Candle
		openTS      time.Time
		closeTS     time.Time
		high, low   float64
		volume      float64
		spreadSum   float64
		spreadCount int
	}

	groups := make(map[string]*acc)
	var order []string

	for _, t := range ticks {
		if t == nil || t.Symbol == "" || t.TS.IsZero() {
			continue
		}
		mid, ok := t.MidPrice()
		if !ok {
			continue
		}
		bucket := models.BucketStart(t.TS.UTC(), models.TFM1)
		key := t.Symbol + "|" + bucket.Format(time.RFC3339)

		g, seen := groups[key]
		if !seen {
			g = &acc{
				candle: &models.Candle{
					Symbol:    t.Symbol,
					Timeframe: models.TFM1,
					Bucket:    bucket,
				},
				openTS:  t.TS,
				closeTS: t.TS,
				high:    mid,
				low:     mid,
			}
			g.candle.Open = ptr(mid)
			g.candle.Close = ptr(mid)
			groups[key] = g
			order = append(order, key)
		} else {
			if t.TS.Before(g.openTS) {
				g.openTS = t.TS
				g.candle.Open = ptr(mid)
			}
			if !t.TS.Before(g.closeTS) {
				g.closeTS = t.TS
				g.candle.Close = ptr(mid)
			}
			if mid > g.high {
				g.high = mid
			}
			if mid < g.low {
				g.low = mid
			}
		}

		if t.Volume != nil {
			g.volume += *t.Volume
		}
		if s, ok := t.SpreadValue(); ok {
			g.spreadSum += s
			g.spreadCount++
		}
	}

	out := make([]*models.Candle, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.candle.High = ptr(g.high)
		g.candle.Low = ptr(g.low)
		g.candle.Volume = ptr(g.volume)
		if g.spreadCount > 0 {
			g.candle.Spread = ptr(g.spreadSum / float64(g.spreadCount))
		}
		out = append(out, g.candle)
	}
	return out
}

func symbolsOf(candles []*models.Candle) []string {
	seen := make(map[string]struct{}, len(candles))
	var out []string
	for _, c := range candles {
		if _, ok := seen[c.Symbol]; ok {
			continue
		}
		seen[c.Symbol] = struct{}{}
		out = append(out, c.Symbol)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
