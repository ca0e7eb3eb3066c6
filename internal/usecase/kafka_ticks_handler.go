package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketPipe/internal/domain/models"
	drepo "MarketPipe/internal/domain/repository"
	pkgkafka "MarketPipe/pkg/kafka"
)

// KafkaTicksHandler consumes tick messages from a Kafka topic and enqueues
// them on the ingest worker, so broker-sourced ticks share the same WAL and
// batching path as HTTP and WebSocket ones.
type KafkaTicksHandler struct {
	topic   string
	worker  *IngestWorker
	metrics drepo.Metrics
}

func NewKafkaTicksHandler(topic string, worker *IngestWorker, metrics drepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, worker: worker, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, ts, bid, ask, last, volume}
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string   `json:"symbol"`
		TS     int64    `json:"ts"`
		Bid    *float64 `json:"bid"`
		Ask    *float64 `json:"ask"`
		Last   *float64 `json:"last"`
		Volume *float64 `json:"volume"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordFailure("consumer_unmarshal")
		return err
	}
	if m.Symbol == "" {
		h.metrics.RecordFailure("consumer_invalid")
		return fmt.Errorf("tick message missing symbol")
	}

	ts := m.TS
	if ts > 1e11 { // ms
		ts = ts / 1000
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(ts, 0)).Seconds())

	tick := &models.RawTick{
		Symbol:     m.Symbol,
		TS:         time.Unix(ts, 0).UTC(),
		Bid:        m.Bid,
		Ask:        m.Ask,
		Last:       m.Last,
		Volume:     m.Volume,
		ReceivedAt: time.Now().UTC(),
	}

	if err := h.worker.Enqueue(models.TickRecord(tick)); err != nil {
		h.metrics.RecordFailure("consumer_enqueue")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
