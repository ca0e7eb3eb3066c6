package kafka

import (
	"context"
	"testing"
	"time"
)

func TestNewConsumerRequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(); err == nil {
		t.Fatal("expected error without brokers")
	}
}

// Stop must quiesce the reader goroutines before closing msgChan; a reader
// mid-send on msgChan would otherwise panic on the closed channel.
func TestConsumerStopQuiescesReadersBeforeClosingChannel(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	// stand-in reader loop: keeps offering messages until told to stop,
	// the same send/stop select consumeMessages runs
	c.readerWg.Add(1)
	go func() {
		defer c.readerWg.Done()
		for {
			select {
			case c.msgChan <- &message{topic: "ticks"}:
			case <-c.stopChan:
				return
			}
		}
	}()

	c.workerWg.Add(1)
	go func() {
		defer c.workerWg.Done()
		for range c.msgChan {
		}
	}()

	// let the reader fill the buffer so Stop races a pending send
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestConsumerStopIsIdempotent(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
