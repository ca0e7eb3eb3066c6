package models

import "time"

// TickPayload is the wire form of a raw tick on the ingest API.
type TickPayload struct {
	Symbol string    `json:"symbol" validate:"required,min=1,max=32"`
	TS     time.Time `json:"ts" validate:"required"`
	Bid    *float64  `json:"bid,omitempty" validate:"omitempty,gt=0"`
	Ask    *float64  `json:"ask,omitempty" validate:"omitempty,gt=0"`
	Last   *float64  `json:"last,omitempty" validate:"omitempty,gt=0"`
	Volume *float64  `json:"volume,omitempty" validate:"omitempty,gte=0"`
}

// CandlePayload is the wire form of a pre-built candle on the ingest API.
type CandlePayload struct {
	Symbol    string    `json:"symbol" validate:"required,min=1,max=32"`
	Timeframe string    `json:"timeframe" default:"M1" validate:"omitempty,oneof=M1 M5 M15 M30 H1 H4 D1"`
	TS        time.Time `json:"ts" validate:"required"`
	Open      *float64  `json:"open,omitempty" validate:"omitempty,gt=0"`
	High      *float64  `json:"high,omitempty" validate:"omitempty,gt=0"`
	Low       *float64  `json:"low,omitempty" validate:"omitempty,gt=0"`
	Close     *float64  `json:"close,omitempty" validate:"omitempty,gt=0"`
	Volume    *float64  `json:"volume,omitempty" validate:"omitempty,gte=0"`
	Spread    *float64  `json:"spread,omitempty" validate:"omitempty,gte=0"`
}

// IngestRecordRequest carries exactly one of a tick or a candle.
type IngestRecordRequest struct {
	Tick   *TickPayload   `json:"tick,omitempty" validate:"required_without=Candle,excluded_with=Candle"`
	Candle *CandlePayload `json:"candle,omitempty" validate:"required_without=Tick"`
}

// IngestBatchRequest carries multiple records in submission order.
type IngestBatchRequest struct {
	Records []IngestRecordRequest `json:"records" validate:"required,min=1,max=5000,dive"`
}

// LatestRequest selects a symbol and timeframe for the latest candle.
type LatestRequest struct {
	Symbol    string `query:"symbol" validate:"required,min=1,max=32"`
	Timeframe string `query:"timeframe" default:"M1" validate:"omitempty,oneof=M1 M5 M15 M30 H1 H4 D1"`
}

// ToTick converts the payload to a domain tick, stamping arrival time.
func (p *TickPayload) ToTick(receivedAt time.Time) *RawTick {
	return &RawTick{
		Symbol:     p.Symbol,
		TS:         p.TS.UTC(),
		Bid:        p.Bid,
		Ask:        p.Ask,
		Last:       p.Last,
		Volume:     p.Volume,
		ReceivedAt: receivedAt.UTC(),
	}
}

// ToCandle converts the payload to a domain candle, normalizing the timestamp
// to its bucket start.
func (p *CandlePayload) ToCandle() *Candle {
	tf := NormalizeTimeframe(p.Timeframe)
	return &Candle{
		Symbol:    p.Symbol,
		Timeframe: tf,
		Bucket:    BucketStart(p.TS.UTC(), tf),
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		Volume:    p.Volume,
		Spread:    p.Spread,
	}
}
