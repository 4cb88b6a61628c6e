// Package redisbus implements bus.Consumer on Redis Streams consumer
// groups. Each topic maps to one stream; the event envelope JSON is
// carried in the "value" field of each stream entry.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/steward/internal/bus"
)

const blockTimeout = time.Second

// Consumer reads from a set of streams as one consumer-group member.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string

	// entry IDs keyed by delivery, for XAck on commit
	ids map[*bus.Delivery]string
}

// New creates the consumer groups (idempotently) and returns a consumer.
func New(ctx context.Context, addr, group, consumerName string, streams []string) (*Consumer, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	for _, stream := range streams {
		err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			_ = client.Close()
			return nil, fmt.Errorf("create group %s on %s: %w", group, stream, err)
		}
	}

	return &Consumer{
		client:   client,
		group:    group,
		consumer: consumerName,
		streams:  streams,
		ids:      make(map[*bus.Delivery]string),
	}, nil
}

// isBusyGroup reports whether err is the BUSYGROUP reply returned when the
// consumer group already exists.
func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Fetch blocks for the next entry on any subscribed stream.
func (c *Consumer) Fetch(ctx context.Context) (*bus.Delivery, error) {
	// XREADGROUP wants streams followed by one ">" cursor per stream.
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    1,
			Block:    blockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue // block timeout, poll again
		}
		if err != nil {
			return nil, fmt.Errorf("redis xreadgroup: %w", err)
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				d := &bus.Delivery{Topic: stream.Stream}
				if key, ok := msg.Values["key"].(string); ok {
					d.Key = key
				}
				if value, ok := msg.Values["value"].(string); ok {
					d.Value = []byte(value)
				}
				c.ids[d] = msg.ID
				return d, nil
			}
		}
	}
}

// Commit acknowledges the entry with XACK.
func (c *Consumer) Commit(ctx context.Context, d *bus.Delivery) error {
	id, ok := c.ids[d]
	if !ok {
		return fmt.Errorf("redis commit: delivery not pending")
	}
	delete(c.ids, d)

	if err := c.client.XAck(ctx, d.Topic, c.group, id).Err(); err != nil {
		return fmt.Errorf("redis xack: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Consumer) Close() error {
	return c.client.Close()
}
