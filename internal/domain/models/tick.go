package models

import "time"

// RawTick is a single validated market tick as received from a feed or the
// ingest API. Immutable once created; consumed by the aggregator exactly once
// via the persisted watermark.
type RawTick struct {
	Symbol     string    `json:"symbol"`
	TS         time.Time `json:"ts"`
	Bid        *float64  `json:"bid,omitempty"`
	Ask        *float64  `json:"ask,omitempty"`
	Last       *float64  `json:"last,omitempty"`
	Volume     *float64  `json:"volume,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// MidPrice returns the effective trade price of the tick: (bid+ask)/2 when
// both sides are present, otherwise whichever side exists, otherwise the last
// traded price. The second return is false when no price can be derived.
func (t *RawTick) MidPrice() (float64, bool) {
	switch {
	case t.Bid != nil && t.Ask != nil:
		return (*t.Bid + *t.Ask) / 2.0, true
	case t.Bid != nil:
		return *t.Bid, true
	case t.Ask != nil:
		return *t.Ask, true
	case t.Last != nil:
		return *t.Last, true
	default:
		return 0, false
	}
}

// SpreadValue returns ask-bid when both sides are present.
func (t *RawTick) SpreadValue() (float64, bool) {
	if t.Bid != nil && t.Ask != nil {
		return *t.Ask - *t.Bid, true
	}
	return 0, false
}
