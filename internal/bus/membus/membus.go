// Package membus provides an in-memory bus.Consumer. Suitable for
// dev/testing; deliveries are acknowledged implicitly.
package membus

import (
	"context"
	"errors"
	"sync"

	"github.com/linnemanlabs/steward/internal/bus"
)

// ErrClosed is returned by Fetch after the bus is closed and drained.
var ErrClosed = errors.New("membus closed")

// Bus is a bounded in-memory queue of deliveries. The delivery channel is
// never closed; closure is signaled separately so a Publish racing Close
// cannot panic.
type Bus struct {
	ch   chan *bus.Delivery
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates a bus with the given buffer size.
func New(buffer int) *Bus {
	return &Bus{
		ch:   make(chan *bus.Delivery, buffer),
		done: make(chan struct{}),
	}
}

// Publish enqueues a delivery. Returns ErrClosed after Close.
func (b *Bus) Publish(ctx context.Context, d *bus.Delivery) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.ch <- d:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch blocks until a delivery is available, the bus is closed and empty,
// or ctx is done.
func (b *Bus) Fetch(ctx context.Context) (*bus.Delivery, error) {
	// drain pending deliveries before honoring closure
	select {
	case d := <-b.ch:
		return d, nil
	default:
	}

	select {
	case d := <-b.ch:
		return d, nil
	case <-b.done:
		select {
		case d := <-b.ch:
			return d, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Commit is a no-op; in-memory deliveries are at-most-once.
func (b *Bus) Commit(context.Context, *bus.Delivery) error { return nil }

// Close stops the bus. Pending deliveries may still be fetched.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
