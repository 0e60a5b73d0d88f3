// Package worker delivers queued detections to the backend.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/posebridge/internal/adapters/http/client"
	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
	"github.com/okian/posebridge/pkg/metrics"
)

// Default worker configuration constants.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = time.Second
	DefaultPollTimeout   = time.Second
	DefaultPanicPause    = time.Second
)

// Item is what the worker reads off the queue.
type Item = model.QueuedDetection

// Sender performs a single delivery attempt.
type Sender interface {
	Send(ctx context.Context, item *model.QueuedDetection) error
}

// Queue defines how the worker receives detections.
type Queue interface {
	Get(ctx context.Context, timeout time.Duration) (Item, bool)
	IsClosed() bool
	Len(ctx context.Context) int
}

// Worker drains the queue until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown signals the loop to stop and waits for it to return.
	// An in-flight request is allowed to complete or time out.
	Shutdown(ctx context.Context) error

	// Stats returns a snapshot of the delivery counters.
	Stats() Stats
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Sent         int64
	Errors       int64
	Attempts     int64
	LastSendTime time.Time
}

// DeliveryWorker sends one item at a time with bounded retries.
type DeliveryWorker struct {
	queue  Queue
	sender Sender
	name   string

	retryAttempts int
	retryBackoff  time.Duration
	pollTimeout   time.Duration
	panicPause    time.Duration

	sent     atomic.Int64
	errors   atomic.Int64
	attempts atomic.Int64

	mu       sync.RWMutex
	lastSend time.Time

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewDeliveryWorker creates a worker reading from q and delivering through s.
func NewDeliveryWorker(q Queue, s Sender, opts ...Option) *DeliveryWorker {
	w := &DeliveryWorker{
		queue:         q,
		sender:        s,
		name:          "worker",
		retryAttempts: DefaultRetryAttempts,
		retryBackoff:  DefaultRetryBackoff,
		pollTimeout:   DefaultPollTimeout,
		panicPause:    DefaultPanicPause,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *DeliveryWorker) Run(ctx context.Context) {
	defer close(w.done)

	w.logger.Info(ctx, "delivery worker started",
		logger.Int("retry_attempts", w.retryAttempts),
		logger.Duration("retry_backoff", w.retryBackoff),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		default:
		}

		item, ok := w.queue.Get(ctx, w.pollTimeout)
		if !ok {
			if w.queue.IsClosed() && w.queue.Len(ctx) == 0 {
				w.logger.Info(ctx, "queue closed and drained, worker exiting")
				return
			}
			continue
		}

		if !w.handle(ctx, &item) {
			return
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *DeliveryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the delivery counters.
func (w *DeliveryWorker) Stats() Stats {
	w.mu.RLock()
	last := w.lastSend
	w.mu.RUnlock()

	return Stats{
		Sent:         w.sent.Load(),
		Errors:       w.errors.Load(),
		Attempts:     w.attempts.Load(),
		LastSendTime: last,
	}
}

// handle delivers one item, recovering from panics in the sender.
// Returns false when the loop should stop.
func (w *DeliveryWorker) handle(ctx context.Context, item *Item) (keepRunning bool) {
	defer func() {
		if r := recover(); r != nil {
			w.errors.Add(1)
			metrics.RecordWorkerPanic()
			metrics.RecordErrorByComponent("worker", "panic")
			w.logger.Error(ctx, "panic while delivering detection",
				logger.String("id", item.ID),
				logger.Any("panic", r),
			)
			keepRunning = w.pause(ctx, w.panicPause)
		}
	}()

	return w.deliver(ctx, item)
}

func (w *DeliveryWorker) deliver(ctx context.Context, item *Item) bool {
	var lastErr error
	for attempt := 1; attempt <= w.retryAttempts; attempt++ {
		w.attempts.Add(1)

		err := w.sender.Send(ctx, item)
		if err == nil {
			w.sent.Add(1)
			now := time.Now()
			w.mu.Lock()
			w.lastSend = now
			w.mu.Unlock()
			metrics.RecordDeliverySent()
			w.logger.Debug(ctx, "detection delivered",
				logger.String("id", item.ID),
				logger.Uint32("person_id", item.Detection.PersonID),
				logger.String("pose", item.Detection.PoseClass.String()),
				logger.Int("attempt", attempt),
			)
			return true
		}

		lastErr = err
		w.logger.Warn(ctx, "delivery attempt failed",
			logger.String("id", item.ID),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", w.retryAttempts),
			logger.Error(err),
		)

		if attempt == w.retryAttempts || !client.Retryable(err) {
			break
		}
		if !w.pause(ctx, w.retryBackoff) {
			w.fail(ctx, item, fmt.Errorf("retry interrupted: %w", err))
			return false
		}
	}

	w.fail(ctx, item, lastErr)
	return true
}

func (w *DeliveryWorker) fail(ctx context.Context, item *Item, err error) {
	w.errors.Add(1)
	kind := client.Kind(err)
	metrics.RecordDeliveryError(kind)
	metrics.RecordErrorByComponent("worker", kind)
	w.logger.Error(ctx, "dropping detection after failed delivery",
		logger.String("id", item.ID),
		logger.Uint32("person_id", item.Detection.PersonID),
		logger.Error(err),
	)
}

// pause sleeps for d. Returns false if ctx or Shutdown interrupted it.
func (w *DeliveryWorker) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.shutdown:
		return false
	}
}
