package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	batchesFlushed prometheus.Counter
	recordsFlushed prometheus.Counter
	failuresTotal  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	walRecords     prometheus.Counter
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	watermarkLag   prometheus.Gauge
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		batchesFlushed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpipe_batches_flushed_total",
				Help: "Total number of batches flushed to storage",
			},
		),
		recordsFlushed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpipe_records_flushed_total",
				Help: "Total number of records flushed to storage",
			},
		),
		failuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpipe_failures_total",
				Help: "Total number of failures encountered",
			},
			[]string{"type"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpipe_queue_depth",
				Help: "Number of records waiting in the ingest queue",
			},
		),
		walRecords: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "marketpipe_wal_records_total",
				Help: "Total number of records appended to the write-ahead log",
			},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpipe_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpipe_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		watermarkLag: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketpipe_watermark_lag_seconds",
				Help: "Seconds between now and the aggregation watermark",
			},
		),
	}
}

// RecordBatch records a flushed batch and its size.
func (r *Recorder) RecordBatch(size int) {
	r.batchesFlushed.Inc()
	r.recordsFlushed.Add(float64(size))
}

// RecordFailure records a failure occurrence.
func (r *Recorder) RecordFailure(kind string) {
	r.failuresTotal.WithLabelValues(kind).Inc()
}

// RecordQueueDepth records the current ingest queue depth.
func (r *Recorder) RecordQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// RecordWalRecords records records durably appended to the WAL.
func (r *Recorder) RecordWalRecords(n int) {
	r.walRecords.Add(float64(n))
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordWatermarkLag records the aggregation watermark lag.
func (r *Recorder) RecordWatermarkLag(seconds float64) {
	r.watermarkLag.Set(seconds)
}
