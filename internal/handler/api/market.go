package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"MarketPipe/internal/domain/models"
	domrepo "MarketPipe/internal/domain/repository"
	"MarketPipe/internal/service/ratelimit"
	"MarketPipe/internal/usecase"
	xhttp "MarketPipe/pkg/http"
	applogger "MarketPipe/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ingest rate limit per client IP
const (
	ingestBurst     = 200.0
	ingestPerSecond = 100.0
)

// MarketHandler exposes the ingest and query surface of the pipeline.
type MarketHandler struct {
	logger  *applogger.Logger
	worker  *usecase.IngestWorker
	query   *usecase.MarketQuery
	marks   domrepo.WatermarkStore
	ticks   domrepo.TickStore
	store   domrepo.CandleStore
	limiter *ratelimit.Limiter
}

func NewMarketHandler(
	logger *applogger.Logger,
	worker *usecase.IngestWorker,
	query *usecase.MarketQuery,
	marks domrepo.WatermarkStore,
	ticks domrepo.TickStore,
	store domrepo.CandleStore,
) *MarketHandler {
	return &MarketHandler{
		logger:  logger,
		worker:  worker,
		query:   query,
		marks:   marks,
		ticks:   ticks,
		store:   store,
		limiter: ratelimit.New(),
	}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.POST("/ingest", h.Ingest)
	g.POST("/ingest/batch", h.IngestBatch)
	g.GET("/latest", h.Latest)
	g.GET("/candles", h.Candles)
	g.GET("/status/pipeline", h.PipelineStatus)
}

// Ingest accepts a single tick or candle and enqueues it for batched flush.
func (h *MarketHandler) Ingest(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP(), ingestBurst, ingestPerSecond) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
	}
	req := &models.IngestRecordRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rec, err := toRecord(req, time.Now())
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	if err := h.worker.Enqueue(rec); err != nil {
		if errors.Is(err, usecase.ErrQueueFull) {
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, "ingest queue full")
		}
		return xhttp.BadRequestResponse(c, err.Error())
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]int{"accepted": 1})
}

// IngestBatch accepts up to 5000 records in submission order. Enqueueing stops
// at the first queue-full rejection; the response reports how many were taken.
func (h *MarketHandler) IngestBatch(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP(), ingestBurst, ingestPerSecond) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
	}
	req := &models.IngestBatchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := time.Now()
	accepted := 0
	for i := range req.Records {
		rec, err := toRecord(&req.Records[i], now)
		if err != nil {
			return xhttp.BadRequestResponse(c, err.Error())
		}
		if err := h.worker.Enqueue(rec); err != nil {
			if errors.Is(err, usecase.ErrQueueFull) {
				h.logger.Warn("ingest batch truncated, queue full",
					applogger.Int("accepted", accepted),
					applogger.Int("total", len(req.Records)),
				)
				return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]int{
					"accepted": accepted,
					"rejected": len(req.Records) - accepted,
				})
			}
			return xhttp.BadRequestResponse(c, err.Error())
		}
		accepted++
	}
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]int{"accepted": accepted})
}

// Latest returns the most recent candle for a symbol and timeframe.
func (h *MarketHandler) Latest(c echo.Context) error {
	req := &models.LatestRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := models.NormalizeTimeframe(req.Timeframe)

	candle, err := h.query.Latest(c.Request().Context(), req.Symbol, tf)
	if err != nil {
		var appErr *xhttp.AppError
		if !errors.As(err, &appErr) {
			h.logger.Error("latest query error", applogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, candle)
}

// Candles returns candles for a symbol within [from, to].
func (h *MarketHandler) Candles(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol is required")
	}
	tfRaw := c.QueryParam("timeframe")
	if tfRaw != "" && !models.IsValidTimeframe(models.Timeframe(tfRaw)) {
		return xhttp.BadRequestResponse(c, "unknown timeframe "+tfRaw)
	}
	tf := models.NormalizeTimeframe(tfRaw)

	now := time.Now().UTC()
	from := xhttp.ParseTimeDefault(c.QueryParam("from"), now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(c.QueryParam("to"), now)
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 10000)

	res, err := h.query.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    symbol,
		From:      from,
		To:        to,
		Timeframe: tf,
		Limit:     limit,
	})
	if err != nil {
		var appErr *xhttp.AppError
		if !errors.As(err, &appErr) {
			h.logger.Error("candles query error", applogger.Error(err))
		}
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// PipelineStatus reports queue depth, flush counters, and the aggregation
// watermark.
func (h *MarketHandler) PipelineStatus(c echo.Context) error {
	stats := h.worker.Stats()

	resp := map[string]interface{}{
		"queue": stats,
	}
	if h.marks != nil {
		last, err := h.marks.Last(c.Request().Context(), usecase.WatermarkKey)
		if err != nil {
			h.logger.Error("watermark read error", applogger.Error(err))
		} else {
			resp["watermark"] = last.UTC().Format(time.RFC3339Nano)
			resp["watermark_lag_seconds"] = time.Since(last).Seconds()
		}
	}
	return xhttp.SuccessResponse(c, resp)
}

// Health checks both stores.
func (h *MarketHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if h.ticks != nil {
		if err := h.ticks.Health(ctx); err != nil {
			status["ticks"] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if h.store != nil {
		if err := h.store.Health(ctx); err != nil {
			status["candles"] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, status)
}

func toRecord(req *models.IngestRecordRequest, now time.Time) (*models.Record, error) {
	switch {
	case req.Tick != nil:
		return models.TickRecord(req.Tick.ToTick(now)), nil
	case req.Candle != nil:
		return models.CandleRecord(req.Candle.ToCandle()), nil
	default:
		return nil, errors.New("record must contain a tick or a candle")
	}
}
