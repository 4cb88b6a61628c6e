// Package bus defines the narrow broker-consumer interface the worker
// depends on. Connection, partitioning, and offset mechanics belong to the
// implementations under bus/kafkabus, bus/redisbus, and bus/membus.
package bus

import "context"

// Delivery is one raw message read from the broker.
type Delivery struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
}

// Consumer yields deliveries one at a time. The worker processes strictly
// sequentially: each Fetch is followed by exactly one Commit before the
// next Fetch.
type Consumer interface {
	// Fetch blocks until a message is available or ctx is done.
	Fetch(ctx context.Context) (*Delivery, error)

	// Commit acknowledges the given delivery with the broker.
	Commit(ctx context.Context, d *Delivery) error

	// Close releases the broker connection.
	Close() error
}
