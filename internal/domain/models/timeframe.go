package models

import "time"

// Timeframe identifies the fixed interval a candle covers.
type Timeframe string

const (
	TFM1  Timeframe = "M1"
	TFM5  Timeframe = "M5"
	TFM15 Timeframe = "M15"
	TFM30 Timeframe = "M30"
	TFH1  Timeframe = "H1"
	TFH4  Timeframe = "H4"
	TFD1  Timeframe = "D1"
)

// Timeframes lists every supported timeframe in ascending step order.
func Timeframes() []Timeframe {
	return []Timeframe{TFM1, TFM5, TFM15, TFM30, TFH1, TFH4, TFD1}
}

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TFM1, TFM5, TFM15, TFM30, TFH1, TFH4, TFD1:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TFM1 }

// NormalizeTimeframe converts a raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// Step returns the bucket width of tf. Unknown timeframes report one second,
// mirroring the BucketStart fallback.
func (tf Timeframe) Step() time.Duration {
	switch tf {
	case TFM1:
		return time.Minute
	case TFM5:
		return 5 * time.Minute
	case TFM15:
		return 15 * time.Minute
	case TFM30:
		return 30 * time.Minute
	case TFH1:
		return time.Hour
	case TFH4:
		return 4 * time.Hour
	case TFD1:
		return 24 * time.Hour
	default:
		return time.Second
	}
}

// BucketStart maps ts to the start of its containing tf interval. The result
// keeps the location of ts; callers are expected to pass UTC-normalized times.
// Unknown timeframes truncate to the second; the ingest boundary rejects them
// before they reach the pipeline, so this only acts as a defensive default.
func BucketStart(ts time.Time, tf Timeframe) time.Time {
	loc := ts.Location()
	switch tf {
	case TFM1, TFM5, TFM15, TFM30:
		step := int(tf.Step() / time.Minute)
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute()-ts.Minute()%step, 0, 0, loc)
	case TFH1:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), 0, 0, 0, loc)
	case TFH4:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour()-ts.Hour()%4, 0, 0, 0, loc)
	case TFD1:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
	default:
		return ts.Truncate(time.Second)
	}
}
