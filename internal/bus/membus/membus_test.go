package membus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/steward/internal/bus"
)

func TestPublishFetch(t *testing.T) {
	t.Parallel()

	b := New(2)
	t.Cleanup(func() { _ = b.Close() })

	want := &bus.Delivery{Topic: "ticket.created", Value: []byte(`{}`)}
	if err := b.Publish(context.Background(), want); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err := b.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got != want {
		t.Error("fetched delivery is not the published one")
	}
	if err := b.Commit(context.Background(), got); err != nil {
		t.Errorf("Commit() error = %v", err)
	}
}

func TestFetch_ContextCancel(t *testing.T) {
	t.Parallel()

	b := New(1)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Fetch(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Fetch() error = %v, want deadline exceeded", err)
	}
}

func TestClose_DrainsThenErrClosed(t *testing.T) {
	t.Parallel()

	b := New(2)
	if err := b.Publish(context.Background(), &bus.Delivery{Topic: "t"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// pending delivery still fetchable after close
	if _, err := b.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v, want pending delivery", err)
	}

	if _, err := b.Fetch(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Fetch() error = %v, want ErrClosed", err)
	}
	if err := b.Publish(context.Background(), &bus.Delivery{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish() error = %v, want ErrClosed", err)
	}
}

func TestPublish_ConcurrentClose(t *testing.T) {
	t.Parallel()

	b := New(1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := b.Publish(context.Background(), &bus.Delivery{Topic: "t"}); err != nil {
					if !errors.Is(err, ErrClosed) {
						t.Errorf("Publish() error = %v, want ErrClosed", err)
					}
					return
				}
				// keep the buffer draining so publishers stay active
				_, _ = b.Fetch(context.Background())
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	wg.Wait()
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	b := New(1)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
