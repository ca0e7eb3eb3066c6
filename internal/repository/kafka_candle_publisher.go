package repository

import (
	"context"

	"MarketPipe/internal/domain/models"
	domrepo "MarketPipe/internal/domain/repository"
	pkgkafka "MarketPipe/pkg/kafka"
)

// KafkaCandlePublisher pushes completed candles to a Kafka topic for
// downstream consumers (prediction services, monitoring).
type KafkaCandlePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaCandlePublisher creates a candle publisher.
func NewKafkaCandlePublisher(producer *pkgkafka.Producer, topic string) domrepo.CandlePublisher {
	return &KafkaCandlePublisher{producer: producer, topic: topic}
}

func (p *KafkaCandlePublisher) PublishBatch(ctx context.Context, candles []*models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(candles))
	for i, c := range candles {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(c.Symbol),
			Value: c,
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaCandlePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
