package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"MarketPipe/internal/domain/models"
)

func TestBuildCandleUpsert(t *testing.T) {
	q := buildCandleUpsert("market_data", 2)

	if !strings.HasPrefix(q, "INSERT INTO market_data (ts, symbol, timeframe,") {
		t.Fatalf("unexpected prefix: %s", q)
	}
	if got := strings.Count(q, "$"); got != 2*len(candleColumns) {
		t.Fatalf("placeholders = %d, want %d", got, 2*len(candleColumns))
	}
	if !strings.Contains(q, "($1, ") || !strings.Contains(q, fmt.Sprintf("($%d, ", len(candleColumns)+1)) {
		t.Fatalf("row placeholder numbering broken: %s", q)
	}
	if !strings.Contains(q, "ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET") {
		t.Fatalf("missing conflict clause: %s", q)
	}

	// every value column coalesces, so a nil incoming field keeps the stored one
	for _, col := range coalesceColumns {
		want := fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, market_data.%s)", col, col, col)
		if !strings.Contains(q, want) {
			t.Errorf("missing coalesce for %s", col)
		}
	}
	// key columns are never rewritten
	for _, col := range []string{"ts =", "symbol =", "timeframe ="} {
		if strings.Contains(q, " "+col+" COALESCE") {
			t.Errorf("key column updated: %s", col)
		}
	}
}

func TestCandleArgsOrder(t *testing.T) {
	bucket := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	open := 1.1
	c := &models.Candle{
		Symbol:    "EURUSD",
		Timeframe: models.TFM1,
		Bucket:    bucket,
		Open:      &open,
	}

	args := candleArgs(c)
	if len(args) != len(candleColumns) {
		t.Fatalf("args = %d, want %d", len(args), len(candleColumns))
	}
	if ts, ok := args[0].(time.Time); !ok || !ts.Equal(bucket) {
		t.Fatalf("args[0] = %v, want bucket time", args[0])
	}
	if args[1] != "EURUSD" || args[2] != "M1" {
		t.Fatalf("key args = %v %v", args[1], args[2])
	}
	if got := args[3].(*float64); got == nil || *got != open {
		t.Fatalf("open arg = %v", args[3])
	}
	// absent fields bind as nil pointers so COALESCE keeps stored values
	if v := args[6].(*float64); v != nil {
		t.Fatalf("close arg = %v, want nil", v)
	}
}
