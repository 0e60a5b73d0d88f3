package service

import (
	"io"
	"time"

	"github.com/okian/posebridge/internal/adapters/mq/queue"
	"github.com/okian/posebridge/internal/adapters/mq/worker"
	"github.com/okian/posebridge/internal/config"
	"github.com/okian/posebridge/internal/domain/cooldown"
	"github.com/okian/posebridge/pkg/logger"
)

// Option applies a configuration option to the Monitor.
type Option func(*Monitor)

// WithLogger sets a custom logger for the monitor.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFilter sets the cooldown filter.
func WithFilter(f cooldown.Filter) Option {
	return func(m *Monitor) {
		if f != nil {
			m.filter = f
		}
	}
}

// WithQueue sets the queue accepted detections are put on.
func WithQueue(q queue.Queue) Option {
	return func(m *Monitor) {
		if q != nil {
			m.queue = q
		}
	}
}

// WithWorker sets the delivery worker started by Start. It must read from
// the queue given to WithQueue.
func WithWorker(w worker.Worker) Option {
	return func(m *Monitor) {
		if w != nil {
			m.worker = w
		}
	}
}

// WithThumbnails enables thumbnails and sets how they are encoded.
func WithThumbnails(e ThumbnailEncoder) Option {
	return func(m *Monitor) {
		m.thumbs = e
	}
}

// WithUnit sets the unit identity copied into every queued detection.
func WithUnit(id, name string, rtspURIs []string) Option {
	return func(m *Monitor) {
		m.unitID = id
		m.unitName = name
		m.rtspURIs = append([]string{}, rtspURIs...)
	}
}

// WithPollInterval sets the sleep between polls.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithErrorBackoff sets the sleep after a failed iteration.
func WithErrorBackoff(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.errorBackoff = d
		}
	}
}

// WithSummaryRate sets how many summaries per second are printed. Zero disables them.
func WithSummaryRate(hz float64) Option {
	return func(m *Monitor) {
		if hz >= 0 {
			m.summaryEvery = rateToInterval(hz)
		}
	}
}

// WithSummaryWriter sets where summaries are printed.
func WithSummaryWriter(w io.Writer) Option {
	return func(m *Monitor) {
		if w != nil {
			m.out = w
		}
	}
}

// WithDetailed adds the first person's visible joints to each summary.
func WithDetailed(detailed bool) Option {
	return func(m *Monitor) {
		m.detailed = detailed
	}
}

// WithClock sets the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCooldownClock selects wall time or detection timestamps for the filter.
func WithCooldownClock(mode string) Option {
	return func(m *Monitor) {
		if mode == config.ClockWall || mode == config.ClockDetection {
			m.cooldownClock = mode
		}
	}
}

// WithIDGenerator sets how queued detection ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(m *Monitor) {
		if gen != nil {
			m.newID = gen
		}
	}
}
