package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"MarketPipe/internal/domain/models"
	drepo "MarketPipe/internal/domain/repository"
	applogger "MarketPipe/pkg/logger"
)

// ErrQueueFull is returned by Enqueue when the ingest queue is at capacity.
// Producers must treat it as a reject, not a retry signal.
var ErrQueueFull = errors.New("ingest queue full")

// WalAppender is the durability sink consulted before any storage attempt.
type WalAppender interface {
	Append(records []any) (segment string, err error)
}

// IngestWorker decouples ingest producers from storage: records are enqueued
// without blocking, drained by a single consumer into batches bounded by
// count or elapsed time, persisted to the WAL first, then upserted.
type IngestWorker struct {
	queue   chan *models.Record
	wal     WalAppender
	ticks   drepo.TickStore
	candles drepo.CandleStore
	metrics drepo.Metrics
	log     *applogger.Logger

	batchMax   int
	batchDelay time.Duration

	enqueued   atomic.Int64
	flushed    atomic.Int64
	walLost    atomic.Int64
	dropped    atomic.Int64
	consecFail atomic.Int64
}

// WorkerOption configures IngestWorker.
type WorkerOption func(*IngestWorker)

// WithBatchMax sets the count trigger.
func WithBatchMax(n int) WorkerOption {
	return func(w *IngestWorker) {
		if n > 0 {
			w.batchMax = n
		}
	}
}

// WithBatchDelay sets the time trigger.
func WithBatchDelay(d time.Duration) WorkerOption {
	return func(w *IngestWorker) {
		if d > 0 {
			w.batchDelay = d
		}
	}
}

// WithQueueSize bounds the ingest queue.
func WithQueueSize(n int) WorkerOption {
	return func(w *IngestWorker) {
		if n > 0 {
			w.queue = make(chan *models.Record, n)
		}
	}
}

// NewIngestWorker creates an IngestWorker.
func NewIngestWorker(
	wal WalAppender,
	ticks drepo.TickStore,
	candles drepo.CandleStore,
	metrics drepo.Metrics,
	log *applogger.Logger,
	opts ...WorkerOption,
) *IngestWorker {
	w := &IngestWorker{
		queue:      make(chan *models.Record, 10000),
		wal:        wal,
		ticks:      ticks,
		candles:    candles,
		metrics:    metrics,
		log:        log,
		batchMax:   1000,
		batchDelay: 150 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue appends a record without blocking on downstream storage. A full
// queue rejects the record with ErrQueueFull.
func (w *IngestWorker) Enqueue(r *models.Record) error {
	if r == nil || (r.Tick == nil && r.Candle == nil) {
		return errors.New("empty record")
	}
	select {
	case w.queue <- r:
		w.enqueued.Add(1)
		w.metrics.RecordQueueDepth(len(w.queue))
		return nil
	default:
		w.dropped.Add(1)
		w.metrics.RecordFailure("queue_full")
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is cancelled. A count trigger (batch at
// capacity) or a time trigger (batchDelay elapsed since the last deadline
// reset), whichever fires first, causes a flush. On shutdown the in-flight
// batch is flushed before returning.
func (w *IngestWorker) Run(ctx context.Context) {
	batch := make([]*models.Record, 0, w.batchMax)
	timer := time.NewTimer(w.batchDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// drain whatever producers managed to enqueue before the stop
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					continue
				default:
				}
				break
			}
			w.flush(context.Background(), batch)
			w.log.Info("ingest worker stopped", applogger.Int("final_batch", len(batch)))
			return

		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= w.batchMax {
				w.flush(ctx, batch)
				batch = batch[:0]
				resetTimer(timer, w.batchDelay)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.batchDelay)
		}
	}
}

// flush writes the batch to the WAL unconditionally, then attempts the
// storage writes. Storage failure is recoverable (the WAL is the recovery
// path); WAL failure is fatal for the batch and logged at error severity.
func (w *IngestWorker) flush(ctx context.Context, batch []*models.Record) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()

	recs := make([]any, len(batch))
	for i, r := range batch {
		recs[i] = r
	}
	seg, err := w.wal.Append(recs)
	if err != nil {
		w.walLost.Add(int64(len(batch)))
		w.metrics.RecordFailure("wal_write")
		w.log.Error("wal append failed, batch lost",
			applogger.Int("records", len(batch)),
			applogger.Error(err),
		)
		return
	}
	w.metrics.RecordWalRecords(len(batch))

	ticks, candles := splitRecords(batch)
	storeErr := w.storeBatch(ctx, ticks, candles)
	if storeErr != nil {
		n := w.consecFail.Add(1)
		w.metrics.RecordFailure("storage")
		w.log.Error("storage flush failed, batch recoverable via wal",
			applogger.Int("records", len(batch)),
			applogger.Int64("consecutive_failures", n),
			applogger.String("wal_segment", seg),
			applogger.Error(storeErr),
		)
	} else {
		w.consecFail.Store(0)
		w.flushed.Add(int64(len(batch)))
	}

	w.metrics.RecordBatch(len(batch))
	w.metrics.RecordQueueDepth(len(w.queue))
	w.metrics.RecordLatency("ingest_flush", time.Since(start).Seconds())
}

func (w *IngestWorker) storeBatch(ctx context.Context, ticks []*models.RawTick, candles []*models.Candle) error {
	var firstErr error
	if len(ticks) > 0 {
		if err := w.ticks.StoreBatch(ctx, ticks); err != nil {
			firstErr = err
		}
	}
	if len(candles) > 0 {
		if err := w.candles.Upsert(ctx, candles); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func splitRecords(batch []*models.Record) ([]*models.RawTick, []*models.Candle) {
	var ticks []*models.RawTick
	var candles []*models.Candle
	for _, r := range batch {
		switch {
		case r.Tick != nil:
			ticks = append(ticks, r.Tick)
		case r.Candle != nil:
			candles = append(candles, r.Candle)
		}
	}
	return ticks, candles
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// PipelineStats is a point-in-time snapshot for the status endpoint.
type PipelineStats struct {
	QueueDepth          int   `json:"queue_depth"`
	QueueCapacity       int   `json:"queue_capacity"`
	Enqueued            int64 `json:"enqueued"`
	Flushed             int64 `json:"flushed"`
	Rejected            int64 `json:"rejected"`
	WalLost             int64 `json:"wal_lost"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
}

// Stats reports current pipeline counters.
func (w *IngestWorker) Stats() PipelineStats {
	return PipelineStats{
		QueueDepth:          len(w.queue),
		QueueCapacity:       cap(w.queue),
		Enqueued:            w.enqueued.Load(),
		Flushed:             w.flushed.Load(),
		Rejected:            w.dropped.Load(),
		WalLost:             w.walLost.Load(),
		ConsecutiveFailures: w.consecFail.Load(),
	}
}
