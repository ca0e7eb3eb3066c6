package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"MarketPipe/internal/domain/models"
	drepo "MarketPipe/internal/domain/repository"
	applogger "MarketPipe/pkg/logger"
)

const (
	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignalSpan  = 9
	atrPeriod       = 14
	bollingerPeriod = 20
	bollingerStdK   = 2.0

	// minimum history for stable rolling windows; fewer rows is a no-op
	minIndicatorRows = 30
)

// IndicatorCalculator recomputes rolling technical indicators over recent M1
// candles and writes them back onto the same rows. Rows are only written
// when every indicator group is defined, so downstream feature vectors see
// indicator columns either fully populated or fully null.
type IndicatorCalculator struct {
	candles  drepo.CandleStore
	metrics  drepo.Metrics
	log      *applogger.Logger
	lookback time.Duration
	now      func() time.Time
}

// IndicatorOption configures IndicatorCalculator.
type IndicatorOption func(*IndicatorCalculator)

// WithLookback sets the history window pulled per recompute.
func WithLookback(d time.Duration) IndicatorOption {
	return func(c *IndicatorCalculator) {
		if d > 0 {
			c.lookback = d
		}
	}
}

// WithIndicatorClock overrides the wall clock, for tests.
func WithIndicatorClock(now func() time.Time) IndicatorOption {
	return func(c *IndicatorCalculator) { c.now = now }
}

// NewIndicatorCalculator creates an IndicatorCalculator.
func NewIndicatorCalculator(candles drepo.CandleStore, metrics drepo.Metrics, log *applogger.Logger, opts ...IndicatorOption) *IndicatorCalculator {
	c := &IndicatorCalculator{
		candles:  candles,
		metrics:  metrics,
		log:      log,
		lookback: 200 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ComputeIndicators recomputes indicators for one symbol and returns the
// number of rows written back. Less than minIndicatorRows of history is a
// valid no-op, not an error.
func (c *IndicatorCalculator) ComputeIndicators(ctx context.Context, symbol string) (int, error) {
	start := time.Now()
	cutoff := c.now().UTC().Add(-c.lookback)

	rows, err := c.candles.RecentCandles(ctx, symbol, models.TFM1, cutoff)
	if err != nil {
		return 0, fmt.Errorf("recent candles: %w", err)
	}

	// indicator math needs a complete price row
	complete := rows[:0]
	for _, r := range rows {
		if r.Open != nil && r.High != nil && r.Low != nil && r.Close != nil {
			complete = append(complete, r)
		}
	}
	if len(complete) < minIndicatorRows {
		return 0, nil
	}

	n := len(complete)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, r := range complete {
		closes[i] = *r.Close
		highs[i] = *r.High
		lows[i] = *r.Low
	}

	rsi := computeRSI(closes, rsiPeriod)
	macd, macdSig, macdHist := computeMACD(closes, macdFast, macdSlow, macdSignalSpan)
	atr := computeATR(highs, lows, closes, atrPeriod)
	bbUpper, bbMiddle, bbLower := computeBollinger(closes, bollingerPeriod, bollingerStdK)

	updates := make([]*models.Candle, 0, n)
	for i, r := range complete {
		if math.IsNaN(rsi[i]) || math.IsNaN(macd[i]) || math.IsNaN(atr[i]) || math.IsNaN(bbUpper[i]) {
			continue
		}
		updates = append(updates, &models.Candle{
			Symbol:     r.Symbol,
			Timeframe:  models.TFM1,
			Bucket:     r.Bucket,
			RSI:        ptr(rsi[i]),
			MACD:       ptr(macd[i]),
			MACDSignal: ptr(macdSig[i]),
			MACDHist:   ptr(macdHist[i]),
			ATR:        ptr(atr[i]),
			BBUpper:    ptr(bbUpper[i]),
			BBMiddle:   ptr(bbMiddle[i]),
			BBLower:    ptr(bbLower[i]),
		})
	}
	if len(updates) == 0 {
		return 0, nil
	}

	if err := c.candles.Upsert(ctx, updates); err != nil {
		return 0, fmt.Errorf("write indicators: %w", err)
	}
	c.metrics.RecordLatency("indicators", time.Since(start).Seconds())
	return len(updates), nil
}

// computeRSI is the rolling-mean variant: average gain and loss over the
// trailing period, rs = avg_gain/avg_loss, rsi = 100 - 100/(1+rs). The first
// period entries are NaN by construction.
func computeRSI(closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < period+1 {
		return out
	}

	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	for i := period; i < n; i++ {
		var g, l float64
		for j := i - period + 1; j <= i; j++ {
			g += gains[j]
			l += losses[j]
		}
		avgGain := g / float64(period)
		avgLoss := l / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = math.NaN()
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// computeEMA uses the standard recurrence ema[t] = x[t]*k + ema[t-1]*(1-k)
// with k = 2/(span+1), seeded with the first value.
func computeEMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func computeMACD(closes []float64, fast, slow, signalSpan int) (macd, signal, hist []float64) {
	emaFast := computeEMA(closes, fast)
	emaSlow := computeEMA(closes, slow)
	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	signal = computeEMA(macd, signalSpan)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - signal[i]
	}
	return macd, signal, hist
}

// computeATR: true range = max(high-low, |high-prev_close|, |low-prev_close|),
// ATR = rolling mean over the period. The first row has no previous close, so
// its true range degrades to high-low.
func computeATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n == 0 {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	for i := period - 1; i < n; i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += tr[j]
		}
		out[i] = sum / float64(period)
	}
	return out
}

// computeBollinger: middle = SMA(period), upper/lower = middle +/- k * sample
// standard deviation over the same window.
func computeBollinger(closes []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = nanSlice(n)
	middle = nanSlice(n)
	lower = nanSlice(n)

	for i := period - 1; i < n; i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += closes[j]
		}
		mean := sum / float64(period)

		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(period-1))

		middle[i] = mean
		upper[i] = mean + k*std
		lower[i] = mean - k*std
	}
	return upper, middle, lower
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
