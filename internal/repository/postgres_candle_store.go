package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketPipe/internal/domain/models"
	domrepo "MarketPipe/internal/domain/repository"
	applogger "MarketPipe/pkg/logger"
	pkgpg "MarketPipe/pkg/postgres"
)

// candleColumns is the full market_data column set in statement order.
var candleColumns = []string{
	"ts", "symbol", "timeframe",
	"open", "high", "low", "close", "volume", "spread",
	"rsi", "macd", "macd_signal", "macd_hist", "atr",
	"bb_upper", "bb_middle", "bb_lower",
}

// coalesceColumns are updated field-wise on conflict; a nil incoming value
// never clears a stored one.
var coalesceColumns = candleColumns[3:]

// PostgresCandleStore implements CandleStore and WatermarkStore on Postgres.
// The upsert is a single bulk statement per chunk with column-wise COALESCE,
// so OHLCV-only and indicator-only writes compose onto the same row.
type PostgresCandleStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewPostgresCandleStore creates a candle store over the given table.
func NewPostgresCandleStore(pg *pkgpg.Client, table string) *PostgresCandleStore {
	return &PostgresCandleStore{db: pg.DB(), table: table}
}

// SetLogger injects a structured logger.
func (s *PostgresCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

// candleChunkSize keeps the bind-parameter count well under the wire limit
// (17 columns per row).
const candleChunkSize = 500

func (s *PostgresCandleStore) Upsert(ctx context.Context, candles []*models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	start := time.Now()
	for off := 0; off < len(candles); off += candleChunkSize {
		end := off + candleChunkSize
		if end > len(candles) {
			end = len(candles)
		}
		chunk := candles[off:end]

		q := buildCandleUpsert(s.table, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(candleColumns))
		for _, c := range chunk {
			args = append(args, candleArgs(c)...)
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("candle upsert failed",
					applogger.Int("rows", len(chunk)),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("upsert candles: %w", err)
		}
	}
	if s.l != nil {
		s.l.Debug("candle upsert ok",
			applogger.Int("rows", len(candles)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

// buildCandleUpsert renders the bulk insert-or-coalesce statement for n rows.
func buildCandleUpsert(table string, n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(candleColumns, ", "))
	b.WriteString(") VALUES ")

	cols := len(candleColumns)
	for row := 0; row < n; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for col := 0; col < cols; col++ {
			if col > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", row*cols+col+1)
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET ")
	for i, col := range coalesceColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = COALESCE(EXCLUDED.%s, %s.%s)", col, col, table, col)
	}
	return b.String()
}

func candleArgs(c *models.Candle) []interface{} {
	return []interface{}{
		c.Bucket.UTC(), c.Symbol, string(c.Timeframe),
		c.Open, c.High, c.Low, c.Close, c.Volume, c.Spread,
		c.RSI, c.MACD, c.MACDSignal, c.MACDHist, c.ATR,
		c.BBUpper, c.BBMiddle, c.BBLower,
	}
}

func (s *PostgresCandleStore) RecentCandles(ctx context.Context, symbol string, tf models.Timeframe, since time.Time) ([]*models.Candle, error) {
	q := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE symbol = $1 AND timeframe = $2 AND ts >= $3
        ORDER BY ts ASC
    `, strings.Join(candleColumns, ", "), s.table)

	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("recent candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func (s *PostgresCandleStore) Candles(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.Candle, error) {
	if limit <= 0 {
		limit = 10000
	}
	q := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
        ORDER BY ts ASC
        LIMIT $5
    `, strings.Join(candleColumns, ", "), s.table)

	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf), from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func (s *PostgresCandleStore) Latest(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	q := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE symbol = $1 AND timeframe = $2
        ORDER BY ts DESC
        LIMIT 1
    `, strings.Join(candleColumns, ", "), s.table)

	rows, err := s.db.QueryContext(ctx, q, symbol, string(tf))
	if err != nil {
		return nil, fmt.Errorf("latest candle: %w", err)
	}
	defer rows.Close()

	out, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, sql.ErrNoRows
	}
	return out[0], nil
}

func scanCandles(rows *sql.Rows) ([]*models.Candle, error) {
	out := make([]*models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		var tf string
		var open, high, low, closeP, volume, spread sql.NullFloat64
		var rsi, macd, macdSig, macdHist, atr sql.NullFloat64
		var bbU, bbM, bbL sql.NullFloat64
		if err := rows.Scan(
			&c.Bucket, &c.Symbol, &tf,
			&open, &high, &low, &closeP, &volume, &spread,
			&rsi, &macd, &macdSig, &macdHist, &atr,
			&bbU, &bbM, &bbL,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Timeframe = models.Timeframe(tf)
		c.Open = nullableFloat(open)
		c.High = nullableFloat(high)
		c.Low = nullableFloat(low)
		c.Close = nullableFloat(closeP)
		c.Volume = nullableFloat(volume)
		c.Spread = nullableFloat(spread)
		c.RSI = nullableFloat(rsi)
		c.MACD = nullableFloat(macd)
		c.MACDSignal = nullableFloat(macdSig)
		c.MACDHist = nullableFloat(macdHist)
		c.ATR = nullableFloat(atr)
		c.BBUpper = nullableFloat(bbU)
		c.BBMiddle = nullableFloat(bbM)
		c.BBLower = nullableFloat(bbL)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *PostgresCandleStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresCandleStore) Close() error {
	return nil // connection pool owned by pkg client
}

var _ domrepo.CandleStore = (*PostgresCandleStore)(nil)
