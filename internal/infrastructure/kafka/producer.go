package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

const defaultBatchTimeout = 100 * time.Millisecond

// MessageWriter is the part of *kafkago.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes keyed records to one topic. Writes are asynchronous:
// Publish queues the record and delivery failures reach OnError.
type Producer struct {
	writer MessageWriter
	topic  string

	mu      sync.RWMutex
	closed  bool
	onError func(err error)

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect builds an async writer for cfg. Kafka-go dials lazily, so no
// broker is contacted until the first batch.
func Connect(cfg config.KafkaConfig) (*Producer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	batchTimeout := time.Duration(cfg.BatchTimeout) * time.Millisecond
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	p := &Producer{topic: cfg.Topic}
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
		Completion:   p.complete,
	}
	return p, nil
}

// NewWithWriter wraps an existing writer. The caller reports delivery
// results through Complete when the writer is asynchronous.
func NewWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

// SetOnError sets the callback for failed deliveries.
func (p *Producer) SetOnError(callback func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = callback
}

// Publish queues one record keyed by key. Records with the same key land
// on the same partition, preserving per-key order.
func (p *Producer) Publish(ctx context.Context, key string, value []byte, at time.Time) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Time:  at,
	})
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// complete is the async writer's Completion callback.
func (p *Producer) complete(messages []kafkago.Message, err error) {
	if err == nil {
		p.published.Add(uint64(len(messages)))
		return
	}
	p.failed.Add(uint64(len(messages)))

	p.mu.RLock()
	callback := p.onError
	p.mu.RUnlock()
	if callback != nil {
		callback(fmt.Errorf("%w: %d records to %s: %w", ErrWriteFailed, len(messages), p.topic, err))
	}
}

// Published returns the number of records the brokers acknowledged.
func (p *Producer) Published() uint64 {
	return p.published.Load()
}

// Failed returns the number of records that could not be delivered.
func (p *Producer) Failed() uint64 {
	return p.failed.Load()
}

// Topic returns the destination topic.
func (p *Producer) Topic() string {
	return p.topic
}

// Close flushes pending records and closes the writer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}
