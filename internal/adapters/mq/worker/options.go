package worker

import (
	"time"

	"github.com/okian/posebridge/pkg/logger"
)

// Option applies a configuration option to the DeliveryWorker.
type Option func(*DeliveryWorker)

// WithName sets the worker name used for logging.
func WithName(name string) Option {
	return func(w *DeliveryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *DeliveryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithRetryAttempts sets how many times an item is tried before it is dropped.
func WithRetryAttempts(n int) Option {
	return func(w *DeliveryWorker) {
		if n > 0 {
			w.retryAttempts = n
		}
	}
}

// WithRetryBackoff sets the pause between failed attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *DeliveryWorker) {
		if d >= 0 {
			w.retryBackoff = d
		}
	}
}

// WithPollTimeout sets how long a single queue read waits.
func WithPollTimeout(d time.Duration) Option {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithPanicPause sets the pause after a recovered panic.
func WithPanicPause(d time.Duration) Option {
	return func(w *DeliveryWorker) {
		if d >= 0 {
			w.panicPause = d
		}
	}
}
