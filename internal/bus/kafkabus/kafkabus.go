// Package kafkabus implements bus.Consumer on a Kafka consumer group.
package kafkabus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/steward/internal/bus"
)

// Consumer reads from a set of topics as one consumer group member.
// Offsets are committed explicitly after each handled message.
type Consumer struct {
	reader *kafka.Reader

	mu      sync.Mutex
	pending map[*bus.Delivery]kafka.Message
}

// New creates a Kafka consumer for the given brokers, group ID, and topics.
func New(brokers []string, groupID string, topics []string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			GroupTopics:    topics,
			StartOffset:    kafka.FirstOffset,
			MinBytes:       1,
			MaxBytes:       1 << 20, // 1MB
			CommitInterval: 0,       // synchronous commits
			MaxWait:        time.Second,
		}),
		pending: make(map[*bus.Delivery]kafka.Message),
	}
}

// Fetch blocks for the next message without committing its offset.
func (c *Consumer) Fetch(ctx context.Context) (*bus.Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("kafka fetch: %w", err)
	}

	d := &bus.Delivery{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	c.mu.Lock()
	c.pending[d] = msg
	c.mu.Unlock()

	return d, nil
}

// Commit commits the offset of a previously fetched delivery.
func (c *Consumer) Commit(ctx context.Context, d *bus.Delivery) error {
	c.mu.Lock()
	msg, ok := c.pending[d]
	delete(c.pending, d)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("kafka commit: delivery not pending")
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

// Close closes the underlying reader and leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
