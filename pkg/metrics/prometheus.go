package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery attempt outcomes used as the "outcome" label.
const (
	OutcomeSuccess           = "success"
	OutcomeStatus            = "status"
	OutcomeTimeout           = "timeout"
	OutcomeConnection        = "connection"
	OutcomeMalformedResponse = "malformed_response"
	OutcomeEncode            = "encode"
)

// Manager manages all Prometheus metrics for the pose bridge.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Shared memory reads
	framesRead      prometheus.Counter
	framesSkipped   prometheus.Counter
	readErrors      *prometheus.CounterVec
	personsSeen     prometheus.Counter
	pipelineActive  prometheus.Gauge
	pipelineFPS     prometheus.Gauge
	sequenceRestart prometheus.Counter

	// Cooldown filter
	detectionsAccepted *prometheus.CounterVec
	detectionsFiltered *prometheus.CounterVec
	trackedPersons     prometheus.Gauge
	cooldownEvictions  prometheus.Counter

	// Queue
	queueSize     prometheus.Gauge
	queueEnqueued prometheus.Counter
	queueDequeued prometheus.Counter
	queueRejected prometheus.Counter
	queueWait     prometheus.Histogram

	// Delivery
	deliveryAttempts *prometheus.CounterVec
	deliveryLatency  prometheus.Histogram
	deliveriesSent   prometheus.Counter
	deliveryErrors   *prometheus.CounterVec
	workerPanics     prometheus.Counter

	// Status server
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "posebridge",
		subsystem:        "monitor",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
		Buckets:     buckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	auto := promauto.With(m.registry)

	m.framesRead = auto.NewCounter(m.counterOpts("frames_read_total",
		"Total number of snapshots with a new sequence id"))
	m.framesSkipped = auto.NewCounter(m.counterOpts("frames_skipped_total",
		"Total number of polls that found an unchanged sequence id"))
	m.readErrors = auto.NewCounterVec(m.counterOpts("shm_read_errors_total",
		"Total number of failed shared memory reads by kind"), []string{"kind"})
	m.personsSeen = auto.NewCounter(m.counterOpts("persons_seen_total",
		"Total number of person records examined"))
	m.pipelineActive = auto.NewGauge(m.gaugeOpts("pipeline_active",
		"Whether the inference pipeline reports itself active (1) or not (0)"))
	m.pipelineFPS = auto.NewGauge(m.gaugeOpts("pipeline_fps",
		"Frames per second reported by the inference pipeline"))
	m.sequenceRestart = auto.NewCounter(m.counterOpts("pipeline_restarts_total",
		"Total number of times the sequence id went backwards"))

	m.detectionsAccepted = auto.NewCounterVec(m.counterOpts("detections_accepted_total",
		"Detections accepted by the cooldown filter"), []string{"pose"})
	m.detectionsFiltered = auto.NewCounterVec(m.counterOpts("detections_filtered_total",
		"Detections rejected by the cooldown filter"), []string{"pose"})
	m.trackedPersons = auto.NewGauge(m.gaugeOpts("tracked_persons",
		"Number of persons held in the cooldown table"))
	m.cooldownEvictions = auto.NewCounter(m.counterOpts("cooldown_evictions_total",
		"Persons evicted from the cooldown table"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Current number of detections waiting for delivery"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total",
		"Total number of detections put on the queue"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total",
		"Total number of detections taken from the queue"))
	m.queueRejected = auto.NewCounter(m.counterOpts("queue_rejected_total",
		"Total number of puts rejected because the queue was closed"))
	m.queueWait = auto.NewHistogram(m.histogramOpts("queue_wait_milliseconds",
		"Time a detection spent queued before delivery started", m.histogramBuckets))

	m.deliveryAttempts = auto.NewCounterVec(m.counterOpts("delivery_attempts_total",
		"HTTP delivery attempts by outcome"), []string{"outcome"})
	m.deliveryLatency = auto.NewHistogram(m.histogramOpts("delivery_latency_milliseconds",
		"Latency of HTTP delivery attempts in milliseconds", m.histogramBuckets))
	m.deliveriesSent = auto.NewCounter(m.counterOpts("deliveries_sent_total",
		"Detections delivered to the remote service"))
	m.deliveryErrors = auto.NewCounterVec(m.counterOpts("delivery_errors_total",
		"Detections dropped after exhausting retries, by last error kind"), []string{"kind"})
	m.workerPanics = auto.NewCounter(m.counterOpts("worker_panics_total",
		"Panics recovered in the delivery worker"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Status server requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"Status server request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Errors by component and type"), []string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"Status server errors by endpoint"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RecordFrameRead counts a snapshot with a new sequence id.
func (m *Manager) RecordFrameRead() { m.framesRead.Inc() }

// RecordFrameSkipped counts a poll with an unchanged sequence id.
func (m *Manager) RecordFrameSkipped() { m.framesSkipped.Inc() }

// RecordShmReadError counts a failed shared memory read.
func (m *Manager) RecordShmReadError(kind string) { m.readErrors.WithLabelValues(kind).Inc() }

// RecordPersonsSeen adds n examined person records.
func (m *Manager) RecordPersonsSeen(n int) {
	if n > 0 {
		m.personsSeen.Add(float64(n))
	}
}

// UpdatePipeline sets the pipeline state gauges.
func (m *Manager) UpdatePipeline(active bool, fps uint32) {
	m.pipelineActive.Set(boolGauge(active))
	m.pipelineFPS.Set(float64(fps))
}

// RecordPipelineRestart counts a backwards sequence id.
func (m *Manager) RecordPipelineRestart() { m.sequenceRestart.Inc() }

// RecordDetectionAccepted counts a detection that passed the cooldown filter.
func (m *Manager) RecordDetectionAccepted(pose string) {
	m.detectionsAccepted.WithLabelValues(pose).Inc()
}

// RecordDetectionFiltered counts a detection rejected by the cooldown filter.
func (m *Manager) RecordDetectionFiltered(pose string) {
	m.detectionsFiltered.WithLabelValues(pose).Inc()
}

// UpdateTrackedPersons sets the number of persons in the cooldown table.
func (m *Manager) UpdateTrackedPersons(n int) { m.trackedPersons.Set(float64(n)) }

// RecordCooldownEvictions adds n evicted persons.
func (m *Manager) RecordCooldownEvictions(n int) {
	if n > 0 {
		m.cooldownEvictions.Add(float64(n))
	}
}

// UpdateQueueSize sets the queue depth gauge.
func (m *Manager) UpdateQueueSize(size int) { m.queueSize.Set(float64(size)) }

// RecordQueueEnqueue counts a put.
func (m *Manager) RecordQueueEnqueue() { m.queueEnqueued.Inc() }

// RecordQueueDequeue counts a get and the time the item waited.
func (m *Manager) RecordQueueDequeue(waitMs float64) {
	m.queueDequeued.Inc()
	if waitMs >= 0 {
		m.queueWait.Observe(waitMs)
	}
}

// RecordQueueRejected counts a put on a closed queue.
func (m *Manager) RecordQueueRejected() { m.queueRejected.Inc() }

// RecordDeliveryAttempt records one HTTP attempt.
func (m *Manager) RecordDeliveryAttempt(outcome string, latencyMs float64) {
	m.deliveryAttempts.WithLabelValues(outcome).Inc()
	m.deliveryLatency.Observe(latencyMs)
}

// RecordDeliverySent counts a delivered detection.
func (m *Manager) RecordDeliverySent() { m.deliveriesSent.Inc() }

// RecordDeliveryError counts a dropped detection.
func (m *Manager) RecordDeliveryError(kind string) { m.deliveryErrors.WithLabelValues(kind).Inc() }

// RecordWorkerPanic counts a recovered panic.
func (m *Manager) RecordWorkerPanic() { m.workerPanics.Inc() }

// RecordHTTPRequest records a status server request.
func (m *Manager) RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error for a component.
func (m *Manager) RecordErrorByComponent(component, errorType string) {
	m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records a status server error.
func (m *Manager) RecordErrorByEndpoint(endpoint, method, errorType string) {
	m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystem sets the memory and goroutine gauges.
func (m *Manager) UpdateSystem(memBytes uint64, goroutines int) {
	m.systemMemoryUsage.Set(float64(memBytes))
	m.systemGoroutineCount.Set(float64(goroutines))
}

// RecordSystemGCPauseTime records a GC pause in milliseconds.
func (m *Manager) RecordSystemGCPauseTime(pauseMs float64) { m.systemGCPauseTime.Observe(pauseMs) }

// Package-level helpers record on the global manager.

func RecordFrameRead()                        { globalManager.RecordFrameRead() }
func RecordFrameSkipped()                     { globalManager.RecordFrameSkipped() }
func RecordShmReadError(kind string)          { globalManager.RecordShmReadError(kind) }
func RecordPersonsSeen(n int)                 { globalManager.RecordPersonsSeen(n) }
func UpdatePipeline(active bool, fps uint32)  { globalManager.UpdatePipeline(active, fps) }
func RecordPipelineRestart()                  { globalManager.RecordPipelineRestart() }
func RecordDetectionAccepted(pose string)     { globalManager.RecordDetectionAccepted(pose) }
func RecordDetectionFiltered(pose string)     { globalManager.RecordDetectionFiltered(pose) }
func UpdateTrackedPersons(n int)              { globalManager.UpdateTrackedPersons(n) }
func RecordCooldownEvictions(n int)           { globalManager.RecordCooldownEvictions(n) }
func UpdateQueueSize(size int)                { globalManager.UpdateQueueSize(size) }
func RecordQueueEnqueue()                     { globalManager.RecordQueueEnqueue() }
func RecordQueueDequeue(waitMs float64)       { globalManager.RecordQueueDequeue(waitMs) }
func RecordQueueRejected()                    { globalManager.RecordQueueRejected() }
func RecordDeliverySent()                     { globalManager.RecordDeliverySent() }
func RecordDeliveryError(kind string)         { globalManager.RecordDeliveryError(kind) }
func RecordWorkerPanic()                      { globalManager.RecordWorkerPanic() }
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.RecordSystemGCPauseTime(pauseMs) }
func UpdateSystem(memBytes uint64, goroutines int) {
	globalManager.UpdateSystem(memBytes, goroutines)
}
func RecordDeliveryAttempt(outcome string, latencyMs float64) {
	globalManager.RecordDeliveryAttempt(outcome, latencyMs)
}
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.RecordHTTPRequest(endpoint, method, statusCode, durationMs)
}
func RecordErrorByComponent(component, errorType string) {
	globalManager.RecordErrorByComponent(component, errorType)
}
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.RecordErrorByEndpoint(endpoint, method, errorType)
}

// GetRegistry returns the custom registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
