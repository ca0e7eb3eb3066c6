package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketPipe/internal/domain/models"
)

func tick(symbol string, ts time.Time, bid, ask float64) *models.RawTick {
	return &models.RawTick{
		Symbol:     symbol,
		TS:         ts,
		Bid:        ptr(bid),
		Ask:        ptr(ask),
		ReceivedAt: ts,
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	w := NewIngestWorker(&fakeWal{}, &fakeTickStore{}, &fakeCandleStore{}, nopMetrics{}, testLogger(t),
		WithQueueSize(2))

	ts := time.Now().UTC()
	if err := w.Enqueue(models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := w.Enqueue(models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if err := w.Enqueue(models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	st := w.Stats()
	if st.Rejected != 1 {
		t.Fatalf("rejected = %d, want 1", st.Rejected)
	}
	if st.Enqueued != 2 {
		t.Fatalf("enqueued = %d, want 2", st.Enqueued)
	}
}

func TestEnqueueRejectsEmptyRecord(t *testing.T) {
	w := NewIngestWorker(&fakeWal{}, &fakeTickStore{}, &fakeCandleStore{}, nopMetrics{}, testLogger(t))

	if err := w.Enqueue(nil); err == nil {
		t.Fatal("expected error for nil record")
	}
	if err := w.Enqueue(&models.Record{}); err == nil {
		t.Fatal("expected error for record with no payload")
	}
}

func TestFlushOnCountTrigger(t *testing.T) {
	wal := &fakeWal{}
	ticks := &fakeTickStore{}
	w := NewIngestWorker(wal, ticks, &fakeCandleStore{}, nopMetrics{}, testLogger(t),
		WithBatchMax(3), WithBatchDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	ts := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := w.Enqueue(models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return wal.batchCount() == 1 })
	cancel()
	<-done

	if got := wal.recordCount(); got != 3 {
		t.Fatalf("wal records = %d, want 3", got)
	}
	if got := ticks.storedCount(); got != 3 {
		t.Fatalf("stored ticks = %d, want 3", got)
	}
	if st := w.Stats(); st.Flushed != 3 {
		t.Fatalf("flushed = %d, want 3", st.Flushed)
	}
}

func TestFlushOnTimeTrigger(t *testing.T) {
	wal := &fakeWal{}
	ticks := &fakeTickStore{}
	w := NewIngestWorker(wal, ticks, &fakeCandleStore{}, nopMetrics{}, testLogger(t),
		WithBatchMax(1000), WithBatchDelay(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	ts := time.Now().UTC()
	if err := w.Enqueue(models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := w.Enqueue(models.TickRecord(tick("GBPUSD", ts, 1.3, 1.4))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return ticks.storedCount() == 2 })
	cancel()
	<-done

	if got := wal.batchCount(); got != 1 {
		t.Fatalf("wal batches = %d, want 1", got)
	}
}

func TestShutdownFlushesPending(t *testing.T) {
	wal := &fakeWal{}
	ticks := &fakeTickStore{}
	w := NewIngestWorker(wal, ticks, &fakeCandleStore{}, nopMetrics{}, testLogger(t),
		WithBatchMax(1000), WithBatchDelay(time.Hour))

	ts := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := w.Enqueue(models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if got := ticks.storedCount(); got != 5 {
		t.Fatalf("stored ticks after shutdown = %d, want 5", got)
	}
}

func TestWalFailureDropsBatch(t *testing.T) {
	wal := &fakeWal{err: errors.New("disk full")}
	ticks := &fakeTickStore{}
	w := NewIngestWorker(wal, ticks, &fakeCandleStore{}, nopMetrics{}, testLogger(t))

	ts := time.Now().UTC()
	batch := []*models.Record{
		models.TickRecord(tick("EURUSD", ts, 1.1, 1.2)),
		models.TickRecord(tick("GBPUSD", ts, 1.3, 1.4)),
	}
	w.flush(context.Background(), batch)

	if got := ticks.storedCount(); got != 0 {
		t.Fatalf("storage must not be attempted after wal failure, stored %d", got)
	}
	st := w.Stats()
	if st.WalLost != 2 {
		t.Fatalf("wal_lost = %d, want 2", st.WalLost)
	}
	if st.Flushed != 0 {
		t.Fatalf("flushed = %d, want 0", st.Flushed)
	}
}

func TestStorageFailureIsRecoverable(t *testing.T) {
	wal := &fakeWal{}
	ticks := &fakeTickStore{storeErr: errors.New("connection refused")}
	w := NewIngestWorker(wal, ticks, &fakeCandleStore{}, nopMetrics{}, testLogger(t))

	ts := time.Now().UTC()
	batch := []*models.Record{models.TickRecord(tick("EURUSD", ts, 1.1, 1.2))}

	w.flush(context.Background(), batch)
	if st := w.Stats(); st.ConsecutiveFailures != 1 || st.Flushed != 0 {
		t.Fatalf("after failed flush: consec=%d flushed=%d", st.ConsecutiveFailures, st.Flushed)
	}
	w.flush(context.Background(), batch)
	if st := w.Stats(); st.ConsecutiveFailures != 2 {
		t.Fatalf("consec = %d, want 2", st.ConsecutiveFailures)
	}
	// wal got every attempt even though storage kept failing
	if got := wal.batchCount(); got != 2 {
		t.Fatalf("wal batches = %d, want 2", got)
	}

	ticks.storeErr = nil
	w.flush(context.Background(), batch)
	st := w.Stats()
	if st.ConsecutiveFailures != 0 {
		t.Fatalf("consec after recovery = %d, want 0", st.ConsecutiveFailures)
	}
	if st.Flushed != 1 {
		t.Fatalf("flushed after recovery = %d, want 1", st.Flushed)
	}
}

func TestFlushSplitsTicksAndCandles(t *testing.T) {
	wal := &fakeWal{}
	ticks := &fakeTickStore{}
	candles := &fakeCandleStore{}
	w := NewIngestWorker(wal, ticks, candles, nopMetrics{}, testLogger(t))

	ts := time.Now().UTC()
	batch := []*models.Record{
		models.TickRecord(tick("EURUSD", ts, 1.1, 1.2)),
		models.CandleRecord(&models.Candle{
			Symbol:    "EURUSD",
			Timeframe: models.TFM1,
			Bucket:    models.BucketStart(ts, models.TFM1),
			Close:     ptr(1.15),
		}),
		models.TickRecord(tick("GBPUSD", ts, 1.3, 1.4)),
	}
	w.flush(context.Background(), batch)

	if got := ticks.storedCount(); got != 2 {
		t.Fatalf("stored ticks = %d, want 2", got)
	}
	if got := candles.upsertCount(); got != 1 {
		t.Fatalf("candle upserts = %d, want 1", got)
	}
	if got := len(candles.lastUpsert()); got != 1 {
		t.Fatalf("upserted candles = %d, want 1", got)
	}
}
