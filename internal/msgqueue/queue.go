// Package msgqueue provides a FIFO, single-flight processing queue.
// Items are processed strictly in arrival order, one at a time; a
// failure rejects only that item and never stops the drain loop.
package msgqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skaldbot/skald/internal/events"
)

// ItemProcessingError wraps a failure from the per-item processing
// function. It is local to the failed item.
type ItemProcessingError struct {
	ID  int64
	Err error
}

func (e *ItemProcessingError) Error() string {
	return fmt.Sprintf("queue item %d failed: %v", e.ID, e.Err)
}

func (e *ItemProcessingError) Unwrap() error { return e.Err }

// Item is one enqueued unit of work. Its completion handle settles
// exactly once, when the processing function returns.
type Item struct {
	// ID is a monotonically increasing request id.
	ID int64
	// Payload is the opaque processing context handed to the
	// processing function.
	Payload any

	// ctx is the enqueuer's context. Each item is processed under its
	// own ctx so one caller going away never fails another caller's
	// item.
	ctx context.Context

	enqueued time.Time
	done     chan struct{}
	err      error
}

// Wait blocks until the item settles or ctx is cancelled. It returns
// the processing error, if any.
func (i *Item) Wait(ctx context.Context) error {
	select {
	case <-i.done:
		return i.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the item settles.
func (i *Item) Done() <-chan struct{} { return i.done }

// Err returns the processing error after the item has settled.
func (i *Item) Err() error {
	select {
	case <-i.done:
		return i.err
	default:
		return nil
	}
}

func (i *Item) settle(err error) {
	i.err = err
	close(i.done)
}

// Config holds dependencies for a Queue.
type Config struct {
	// Process handles one item. Called from the drain goroutine,
	// strictly in arrival order, with the context the item was
	// enqueued under.
	Process func(ctx context.Context, item *Item) error
	// Logger for item failures. Defaults to slog.Default().
	Logger *slog.Logger
	// Bus receives enqueue/processed events. May be nil.
	Bus *events.Bus
}

// Queue is a FIFO work queue with a single drain loop. Enqueue is safe
// for concurrent use; at most one item is being processed at any time.
type Queue struct {
	process func(context.Context, *Item) error
	logger  *slog.Logger
	bus     *events.Bus

	mu       sync.Mutex
	items    []*Item
	nextID   int64
	draining bool
}

// New creates a queue. cfg.Process must be non-nil.
func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		process: cfg.Process,
		logger:  logger,
		bus:     cfg.Bus,
	}
}

// Enqueue appends payload to the queue and starts the drain loop if it
// is not already running. The returned item's completion handle
// settles when processing finishes.
func (q *Queue) Enqueue(ctx context.Context, payload any) *Item {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	q.nextID++
	item := &Item{
		ID:       q.nextID,
		Payload:  payload,
		ctx:      ctx,
		enqueued: time.Now(),
		done:     make(chan struct{}),
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	q.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceQueue,
		Kind:      events.KindEnqueued,
		Data:      map[string]any{"item_id": item.ID, "depth": depth},
	})

	if start {
		go q.drain()
	}
	return item
}

// Depth returns the number of items waiting (not counting one mid-flight).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain processes items until the queue is observed empty. New items
// may arrive while an item is mid-flight, so emptiness is re-checked
// under the lock before the loop exits; the flag flip and the final
// check are atomic, which is what keeps a concurrent Enqueue from
// racing a second drain loop into existence. Each item runs under the
// context it was enqueued with, never under an earlier caller's.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		start := time.Now()
		err := q.process(item.ctx, item)
		if err != nil {
			err = &ItemProcessingError{ID: item.ID, Err: err}
			q.logger.Warn("queue item failed", "item_id", item.ID, "error", err)
		}
		item.settle(err)

		q.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceQueue,
			Kind:      events.KindProcessed,
			Data: map[string]any{
				"item_id":     item.ID,
				"ok":          err == nil,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		})
	}
}
