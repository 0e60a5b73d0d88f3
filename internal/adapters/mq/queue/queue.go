// Package queue holds accepted detections between the monitor loop and the
// delivery worker.
//
// The queue is an unbounded FIFO: Put never blocks the producer, and Get
// waits with a timeout so the consumer can notice shutdown.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/metrics"
)

// Item is the payload type flowing through the queue.
type Item = model.QueuedDetection

// Queue provides non-blocking enqueue and timed dequeue semantics.
type Queue interface {
	// Put appends an item. Returns false only when the queue is closed.
	Put(ctx context.Context, item Item) bool

	// Get removes the oldest item, waiting up to timeout for one to arrive.
	// Returns false on timeout, context cancellation, or when the queue is
	// closed and empty. Items put before Close are still returned.
	Get(ctx context.Context, timeout time.Duration) (Item, bool)

	// Len returns the current number of queued items.
	Len(ctx context.Context) int

	// Close stops accepting items and wakes waiting consumers.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue with a slice guarded by a mutex.
type InMemoryQueue struct {
	mu     sync.Mutex
	items  []Item
	closed bool

	// notify holds at most one wake-up token for waiting consumers.
	notify chan struct{}
	done   chan struct{}
}

// NewInMemoryQueue creates a new unbounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	metrics.UpdateQueueSize(0)

	return q
}

func (q *InMemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Put appends an item to the tail of the queue.
func (q *InMemoryQueue) Put(_ context.Context, item Item) bool { //nolint:gocritic // hugeParam: items are copied into the queue by value
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		metrics.RecordQueueRejected()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.items = append(q.items, item)
	size := len(q.items)
	q.mu.Unlock()

	q.signal()
	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueSize(size)
	return true
}

// Get removes the head of the queue, waiting up to timeout.
func (q *InMemoryQueue) Get(ctx context.Context, timeout time.Duration) (Item, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok, closed := q.pop(); ok {
			return item, true
		} else if closed {
			return Item{}, false
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-timer.C:
			item, ok, _ := q.pop()
			return item, ok
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

// pop returns the head item if any, and whether the queue is closed.
func (q *InMemoryQueue) pop() (Item, bool, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		closed := q.closed
		q.mu.Unlock()
		return Item{}, false, closed
	}

	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	size := len(q.items)
	q.mu.Unlock()

	if size > 0 {
		// Pass the wake-up on so another waiting consumer sees the rest.
		q.signal()
	}
	metrics.RecordQueueDequeue(float64(time.Since(item.EnqueuedAt).Milliseconds()))
	metrics.UpdateQueueSize(size)
	return item, true, false
}

// Len returns the current number of queued items.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Queued items remain available to Get.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
