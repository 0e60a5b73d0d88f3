// Package service wires the shared-memory source, the cooldown filter, the
// detection queue and the delivery worker into the monitor loop.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/posebridge/internal/adapters/mq/queue"
	"github.com/okian/posebridge/internal/adapters/mq/worker"
	"github.com/okian/posebridge/internal/adapters/shm"
	"github.com/okian/posebridge/internal/config"
	"github.com/okian/posebridge/internal/domain/cooldown"
	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
	"github.com/okian/posebridge/pkg/metrics"
)

// Default loop timings.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultErrorBackoff = time.Second
	DefaultSummaryRate  = 2.0
	workerStopTimeout   = 10 * time.Second
)

// Errors returned by the monitor.
var (
	ErrConnect        = errors.New("failed to connect to detection source")
	ErrRead           = errors.New("failed to read snapshot")
	ErrAlreadyStarted = errors.New("monitor already started")
	ErrStopped        = errors.New("monitor stopped")
)

// State is the monitor lifecycle state.
type State int32

// Monitor states.
const (
	StateNotConnected State = iota
	StateConnected
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnected:
		return "connected"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source yields frame snapshots. shm.Reader implements it.
type Source interface {
	Connect(ctx context.Context) error
	ReadSnapshot(ctx context.Context) (*model.FrameSnapshot, error)
	Close() error
}

// ThumbnailEncoder turns a copied ring slot into the string sent upstream.
type ThumbnailEncoder interface {
	Encode(t *model.Thumbnail) (string, error)
}

// Monitor polls the source and feeds accepted detections to the queue.
type Monitor struct {
	source  Source
	filter  cooldown.Filter
	queue   queue.Queue
	worker  worker.Worker
	thumbs  ThumbnailEncoder
	logger  logger.Logger
	out     io.Writer
	now     func() time.Time
	newID   func() string
	stateMu sync.Mutex
	state   State

	unitID   string
	unitName string
	rtspURIs []string

	pollInterval  time.Duration
	errorBackoff  time.Duration
	summaryEvery  time.Duration
	detailed      bool
	cooldownClock string

	// Only the Run goroutine touches these.
	lastSeq     uint32
	lastSummary time.Time
	lastEvicted int64

	frames   atomic.Int64
	queued   atomic.Int64
	filtered atomic.Int64
	restarts atomic.Int64
	readErrs atomic.Int64

	snapMu   sync.RWMutex
	lastSnap *model.FrameSnapshot

	workerDone chan struct{}
	stopOnce   sync.Once
}

// New creates a monitor reading from source.
func New(source Source, opts ...Option) *Monitor {
	m := &Monitor{
		source:        source,
		out:           os.Stdout,
		now:           time.Now,
		newID:         uuid.NewString,
		pollInterval:  DefaultPollInterval,
		errorBackoff:  DefaultErrorBackoff,
		summaryEvery:  rateToInterval(DefaultSummaryRate),
		cooldownClock: config.ClockWall,
		rtspURIs:      []string{},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = logger.Get().Named("monitor")
	}
	if m.filter == nil {
		m.filter = cooldown.NewInMemoryFilter()
	}
	if m.queue == nil {
		m.queue = queue.NewInMemoryQueue()
	}

	return m
}

func rateToInterval(hz float64) time.Duration {
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Monitor) setState(s State) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state == StateStopped {
		return
	}
	if m.state != s {
		m.logger.Debug(context.Background(), "monitor state changed",
			logger.String("from", m.state.String()),
			logger.String("to", s.String()))
	}
	m.state = s
}

// Start connects the source and launches the delivery worker. A connect
// failure leaves the monitor NotConnected and is returned to the caller.
func (m *Monitor) Start(ctx context.Context) error {
	switch m.State() {
	case StateStopped:
		return ErrStopped
	case StateConnected, StatePolling:
		return ErrAlreadyStarted
	}

	if err := m.source.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	m.setState(StateConnected)

	if m.worker != nil {
		m.workerDone = make(chan struct{})
		// The worker outlives ctx so Stop can drain it in order.
		workerCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(m.workerDone)
			m.worker.Run(workerCtx)
		}()
	}

	m.logger.Info(ctx, "monitor started",
		logger.String("unit_id", m.unitID),
		logger.Duration("poll_interval", m.pollInterval),
		logger.String("cooldown_clock", m.cooldownClock),
		logger.Bool("thumbnails", m.thumbs != nil),
	)
	return nil
}

// Run polls until ctx is done. Errors and panics inside one iteration are
// logged and followed by the error backoff; they never end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := m.pollInterval
		if err := m.safePoll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error(ctx, "poll failed", logger.Error(err))
			metrics.RecordErrorByComponent("monitor", "poll")
			if errors.Is(err, shm.ErrNotConnected) {
				m.reconnect(ctx)
			}
			wait = m.errorBackoff
		}

		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (m *Monitor) safePoll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordErrorByComponent("monitor", "panic")
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()
	return m.Poll(ctx)
}

func (m *Monitor) reconnect(ctx context.Context) {
	if err := m.source.Connect(ctx); err != nil {
		m.logger.Warn(ctx, "reconnect failed", logger.Error(err))
		return
	}
	m.setState(StateConnected)
}

// Poll performs one iteration: read a snapshot and, if its sequence id
// changed, run every person through the filter and enqueue the accepted ones.
func (m *Monitor) Poll(ctx context.Context) error {
	snap, err := m.source.ReadSnapshot(ctx)
	if err != nil {
		m.readErrs.Add(1)
		metrics.RecordShmReadError(readErrorKind(err))
		m.setState(StateConnected)
		return fmt.Errorf("%w: %w", ErrRead, err)
	}
	m.setState(StatePolling)

	if snap.SequenceID == m.lastSeq {
		metrics.RecordFrameSkipped()
		return nil
	}
	if snap.SequenceID < m.lastSeq {
		m.restarts.Add(1)
		metrics.RecordPipelineRestart()
		m.logger.Warn(ctx, "sequence id went backwards; pipeline restarted",
			logger.Uint32("previous", m.lastSeq),
			logger.Uint32("current", snap.SequenceID))
	}
	m.lastSeq = snap.SequenceID
	m.frames.Add(1)
	metrics.RecordFrameRead()

	m.snapMu.Lock()
	m.lastSnap = snap
	m.snapMu.Unlock()

	metrics.UpdatePipeline(snap.PipelineActive, snap.FPS)
	metrics.RecordPersonsSeen(len(snap.Persons))

	m.process(ctx, snap)

	now := m.now()
	if m.summaryEvery > 0 && now.Sub(m.lastSummary) >= m.summaryEvery {
		m.lastSummary = now
		m.printSummary(snap)
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, snap *model.FrameSnapshot) {
	var (
		thumb       *string
		thumbLoaded bool
	)

	for i := range snap.Persons {
		p := &snap.Persons[i]
		pose := p.PoseClass.String()

		if !m.filter.ShouldSend(ctx, p.PersonID, p.PoseClass, m.filterTime(p)) {
			m.filtered.Add(1)
			metrics.RecordDetectionFiltered(pose)
			continue
		}
		metrics.RecordDetectionAccepted(pose)

		if !thumbLoaded {
			thumb = m.encodeThumbnail(ctx, snap)
			thumbLoaded = true
		}

		item := model.QueuedDetection{
			ID:             m.newID(),
			UnitID:         m.unitID,
			UnitName:       m.unitName,
			RTSPURIs:       m.rtspURIs,
			Detection:      *p,
			NormalizedBBox: model.Normalize(p.BBox, snap.FrameWidth, snap.FrameHeight),
			Thumbnail:      thumb,
			EnqueuedAt:     m.now(),
		}
		if !m.queue.Put(ctx, item) {
			m.logger.Warn(ctx, "queue closed, dropping detection",
				logger.Uint32("person_id", p.PersonID),
				logger.String("pose", pose))
			continue
		}
		m.queued.Add(1)

		m.logger.Info(ctx, "queued detection",
			logger.String("unit_id", m.unitID),
			logger.Uint32("person_id", p.PersonID),
			logger.String("pose", pose),
			logger.Float64("confidence", float64(p.PoseConfidence)),
			logger.Duration("cooldown", m.filter.Cooldown(p.PoseClass)),
		)
	}

	st := m.filter.Stats()
	metrics.UpdateTrackedPersons(st.TrackedPersons)
	if delta := st.Evicted - m.lastEvicted; delta > 0 {
		metrics.RecordCooldownEvictions(int(delta))
		m.logger.Debug(ctx, "evicted stale persons", logger.Int64("count", delta))
	}
	m.lastEvicted = st.Evicted
}

// filterTime is the clock the cooldown filter compares against.
func (m *Monitor) filterTime(p *model.PersonDetection) time.Time {
	if m.cooldownClock == config.ClockDetection && p.TimestampUS != 0 {
		return p.Timestamp()
	}
	return m.now()
}

func (m *Monitor) encodeThumbnail(ctx context.Context, snap *model.FrameSnapshot) *string {
	if m.thumbs == nil || snap.Thumbnail == nil {
		return nil
	}
	s, err := m.thumbs.Encode(snap.Thumbnail)
	if err != nil {
		metrics.RecordErrorByComponent("thumbnail", "encode")
		m.logger.Warn(ctx, "thumbnail encode failed", logger.Error(err))
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

// Stop shuts the worker down, closes the queue and detaches the source.
// Items still queued are dropped and counted in the log.
func (m *Monitor) Stop(ctx context.Context) {
	m.stopOnce.Do(func() {
		m.logger.Info(ctx, "stopping monitor")

		if m.worker != nil && m.workerDone != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), workerStopTimeout)
			if err := m.worker.Shutdown(stopCtx); err != nil {
				m.logger.Warn(ctx, "worker shutdown", logger.Error(err))
			}
			cancel()
		}

		if left := m.queue.Len(ctx); left > 0 {
			m.logger.Warn(ctx, "dropping undelivered detections", logger.Int("count", left))
		}
		if err := m.queue.Close(); err != nil {
			m.logger.Warn(ctx, "queue close", logger.Error(err))
		}
		if err := m.source.Close(); err != nil {
			m.logger.Warn(ctx, "source close", logger.Error(err))
		}

		m.stateMu.Lock()
		m.state = StateStopped
		m.stateMu.Unlock()

		stats := m.GetStats()
		m.logger.Info(ctx, "monitor stopped",
			logger.Any("total_detections", stats["total_detections"]),
			logger.Any("filtered_duplicates", stats["filtered_duplicates"]),
			logger.Any("sent_packages", stats["sent_packages"]),
			logger.Any("send_errors", stats["send_errors"]),
			logger.Any("tracked_persons", stats["tracked_persons"]),
		)
	})
}

// GetStats returns monitor statistics for the status endpoint.
func (m *Monitor) GetStats() map[string]any {
	fs := m.filter.Stats()
	stats := map[string]any{
		"state":               m.State().String(),
		"unit_id":             m.unitID,
		"frames_processed":    m.frames.Load(),
		"total_detections":    m.queued.Load(),
		"filtered_duplicates": m.filtered.Load(),
		"pipeline_restarts":   m.restarts.Load(),
		"read_errors":         m.readErrs.Load(),
		"queue_length":        m.queue.Len(context.Background()),
		"tracked_persons":     fs.TrackedPersons,
		"evicted_persons":     fs.Evicted,
		"sent_packages":       int64(0),
		"send_errors":         int64(0),
		"send_attempts":       int64(0),
		"last_send_time":      nil,
	}

	if m.worker != nil {
		ws := m.worker.Stats()
		stats["sent_packages"] = ws.Sent
		stats["send_errors"] = ws.Errors
		stats["send_attempts"] = ws.Attempts
		if !ws.LastSendTime.IsZero() {
			stats["last_send_time"] = ws.LastSendTime.UTC().Format(time.RFC3339Nano)
		}
	}

	m.snapMu.RLock()
	if s := m.lastSnap; s != nil {
		stats["sequence_id"] = s.SequenceID
		stats["frame_number"] = s.FrameNumber
		stats["pipeline_active"] = s.PipelineActive
		stats["fps"] = s.FPS
		stats["persons"] = len(s.Persons)
	}
	m.snapMu.RUnlock()

	return stats
}

func readErrorKind(err error) string {
	switch {
	case errors.Is(err, shm.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, shm.ErrImplausibleRecord):
		return "implausible"
	case errors.Is(err, shm.ErrDecode):
		return "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// sleep waits for d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
