package usecase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MarketPipe/internal/domain/models"
	domrepo "MarketPipe/internal/domain/repository"
	xhttp "MarketPipe/pkg/http"
	applogger "MarketPipe/pkg/logger"
)

// MarketQuery provides read access to stored candles, consulting the latest
// cache before the store when one is configured.
type MarketQuery struct {
	candles domrepo.CandleStore
	cache   domrepo.LatestCache
	log     *applogger.Logger
}

func NewMarketQuery(candles domrepo.CandleStore, cache domrepo.LatestCache, log *applogger.Logger) *MarketQuery {
	return &MarketQuery{candles: candles, cache: cache, log: log}
}

type GetCandlesParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe models.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string           `json:"symbol"`
	Timeframe string           `json:"timeframe"`
	From      time.Time        `json:"from"`
	To        time.Time        `json:"to"`
	Count     int              `json:"count"`
	Candles   []*models.Candle `json:"candles"`
}

func (q *MarketQuery) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, xhttp.BadRequestError("symbol is required")
	}
	if p.From.After(p.To) {
		return nil, xhttp.BadRequestError("from must not be after to")
	}
	if p.Limit <= 0 {
		p.Limit = 10000
	}
	if p.Limit > 50000 {
		p.Limit = 50000
	}

	candles, err := q.candles.Candles(ctx, p.Symbol, p.Timeframe, p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}

	return &GetCandlesResult{
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		From:      p.From,
		To:        p.To,
		Count:     len(candles),
		Candles:   candles,
	}, nil
}

// Latest returns the most recent candle for a symbol and timeframe. The cache
// is consulted first; a miss or a cache error falls through to the store. An
// empty store is a not-found AppError, not a server fault.
func (q *MarketQuery) Latest(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	if symbol == "" {
		return nil, xhttp.BadRequestError("symbol is required")
	}

	if q.cache != nil {
		if c, err := q.cache.GetLatest(ctx, symbol, tf); err == nil && c != nil {
			return c, nil
		}
	}

	c, err := q.candles.Latest(ctx, symbol, tf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, xhttp.NotFoundErrorf("no candle for %s %s", symbol, tf)
	}
	if err != nil {
		return nil, fmt.Errorf("latest candle: %w", err)
	}

	if c != nil && q.cache != nil {
		if err := q.cache.SetLatest(ctx, c); err != nil {
			q.log.Debug("latest cache backfill failed",
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
	}
	return c, nil
}
