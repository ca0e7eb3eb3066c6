package models

import "time"

// Candle is an OHLCV row keyed by (symbol, timeframe, bucket start). Nil
// fields mean "unknown"; the storage upsert never overwrites a present column
// with a nil one, so partial records (indicator-only updates, OHLCV-only
// aggregates) can share the same row.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Bucket    time.Time `json:"ts"`

	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Close  *float64 `json:"close,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Spread *float64 `json:"spread,omitempty"`

	RSI        *float64 `json:"rsi,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	MACDHist   *float64 `json:"macd_hist,omitempty"`
	ATR        *float64 `json:"atr,omitempty"`
	BBUpper    *float64 `json:"bb_upper,omitempty"`
	BBMiddle   *float64 `json:"bb_middle,omitempty"`
	BBLower    *float64 `json:"bb_lower,omitempty"`
}

// Key identifies the candle row.
func (c *Candle) Key() string {
	return c.Symbol + "|" + string(c.Timeframe) + "|" + c.Bucket.UTC().Format(time.RFC3339)
}

// HasIndicators reports whether every indicator group is populated.
func (c *Candle) HasIndicators() bool {
	return c.RSI != nil && c.MACD != nil && c.MACDSignal != nil && c.MACDHist != nil &&
		c.ATR != nil && c.BBUpper != nil && c.BBMiddle != nil && c.BBLower != nil
}
