package usecase

import (
	"context"
	"errors"
	"time"

	"MarketPipe/internal/domain/models"
	drepo "MarketPipe/internal/domain/repository"
	applogger "MarketPipe/pkg/logger"
)

// FeedCollector pulls ticks from a live market stream into the ingest worker.
type FeedCollector struct {
	stream     drepo.MarketStream
	worker     *IngestWorker
	metrics    drepo.Metrics
	log        *applogger.Logger
	retryDelay time.Duration
}

// CollectorOption configures FeedCollector.
type CollectorOption func(*FeedCollector)

// WithRetryDelay sets the pause between failed reconnect attempts.
func WithRetryDelay(d time.Duration) CollectorOption {
	return func(c *FeedCollector) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// NewFeedCollector creates a new FeedCollector instance.
func NewFeedCollector(stream drepo.MarketStream, worker *IngestWorker, metrics drepo.Metrics, log *applogger.Logger, opts ...CollectorOption) *FeedCollector {
	c := &FeedCollector{
		stream:     stream,
		worker:     worker,
		metrics:    metrics,
		log:        log,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected returns true if the market stream is connected.
func (c *FeedCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *FeedCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	go c.consume(ctx)
	return nil
}

func (c *FeedCollector) consume(ctx context.Context) {
	tickCh, errCh := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err == nil {
				continue
			}
			// a stream error or a closed error channel both mean the read
			// loop is gone; its channels are dead from here on
			c.metrics.RecordFailure("stream")
			if err != nil {
				c.log.Warn("feed stream error, reconnecting", applogger.Error(err))
			}
			tickCh, errCh = c.reconnect(ctx)
			if errCh == nil {
				return
			}
		case t, ok := <-tickCh:
			if !ok {
				// stop selecting the closed channel; the error channel
				// drives the reconnect
				tickCh = nil
				continue
			}
			if t == nil {
				continue
			}
			if err := c.worker.Enqueue(models.TickRecord(t)); err != nil {
				if errors.Is(err, ErrQueueFull) {
					c.log.Warn("feed tick rejected, queue full", applogger.String("symbol", t.Symbol))
				}
				continue
			}
			if price, ok := t.MidPrice(); ok {
				c.metrics.RecordLastPrice(t.Symbol, price)
			}
		}
	}
}

// reconnect retries until the stream is back or ctx is cancelled, returning
// the fresh read channels, or nils on cancellation.
func (c *FeedCollector) reconnect(ctx context.Context) (<-chan *models.RawTick, <-chan error) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}
		if err := c.stream.Reconnect(ctx); err != nil {
			c.metrics.RecordFailure("reconnect")
			c.log.Error("feed reconnect failed, retrying", applogger.Error(err))
			select {
			case <-ctx.Done():
				return nil, nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		return c.stream.Read(ctx)
	}
}

// Stop closes the stream.
func (c *FeedCollector) Stop() error { return c.stream.Close() }
