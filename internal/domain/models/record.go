package models

// Record is the unit carried through the ingest queue and the WAL. Exactly
// one of Tick or Candle is set.
type Record struct {
	Tick   *RawTick `json:"tick,omitempty"`
	Candle *Candle  `json:"candle,omitempty"`
}

// TickRecord wraps a tick for the ingest path.
func TickRecord(t *RawTick) *Record { return &Record{Tick: t} }

// CandleRecord wraps a candle for the ingest path.
func CandleRecord(c *Candle) *Record { return &Record{Candle: c} }
