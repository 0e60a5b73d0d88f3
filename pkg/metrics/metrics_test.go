package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

// gatheredValue returns the value of the first sample of the named family
// whose labels match, or -1 when no such sample exists.
func gatheredValue(reg *prometheus.Registry, name string, labels map[string]string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched != len(labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return -1
}

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with default options", func() {
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then metrics use the posebridge namespace", func() {
				manager.RecordFrameRead()
				So(gatheredValue(registry, "posebridge_monitor_frames_read_total", nil), ShouldEqual, 1)
			})
		})

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("bridge"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"unit_id": "jetson_unit_01"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and constant labels follow the options", func() {
				manager.RecordDeliverySent()
				v := gatheredValue(registry, "test_bridge_deliveries_sent_total",
					map[string]string{"unit_id": "jetson_unit_01"})
				So(v, ShouldEqual, 1)
			})
		})

		Convey("When options carry empty values", func() {
			manager := NewManager(
				WithNamespace(""),
				WithSubsystem(""),
				WithHistogramBuckets(nil),
				WithConstLabels(nil),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults are kept", func() {
				manager.RecordFrameSkipped()
				So(gatheredValue(registry, "posebridge_monitor_frames_skipped_total", nil), ShouldEqual, 1)
			})
		})
	})
}

func TestPipelineMetrics(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry))

		Convey("When recording reads and filter decisions", func() {
			m.RecordFrameRead()
			m.RecordFrameRead()
			m.RecordShmReadError("decode")
			m.RecordPersonsSeen(3)
			m.RecordPersonsSeen(0)
			m.UpdatePipeline(true, 30)
			m.RecordPipelineRestart()
			m.RecordDetectionAccepted("sitting")
			m.RecordDetectionFiltered("sitting")
			m.RecordDetectionFiltered("sitting")
			m.UpdateTrackedPersons(4)
			m.RecordCooldownEvictions(2)
			m.RecordCooldownEvictions(-1)

			Convey("Then the counters and gauges reflect them", func() {
				So(gatheredValue(registry, "posebridge_monitor_frames_read_total", nil), ShouldEqual, 2)
				So(gatheredValue(registry, "posebridge_monitor_shm_read_errors_total",
					map[string]string{"kind": "decode"}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_persons_seen_total", nil), ShouldEqual, 3)
				So(gatheredValue(registry, "posebridge_monitor_pipeline_active", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_pipeline_fps", nil), ShouldEqual, 30)
				So(gatheredValue(registry, "posebridge_monitor_pipeline_restarts_total", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_detections_accepted_total",
					map[string]string{"pose": "sitting"}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_detections_filtered_total",
					map[string]string{"pose": "sitting"}), ShouldEqual, 2)
				So(gatheredValue(registry, "posebridge_monitor_tracked_persons", nil), ShouldEqual, 4)
				So(gatheredValue(registry, "posebridge_monitor_cooldown_evictions_total", nil), ShouldEqual, 2)
			})
		})

		Convey("When recording queue and delivery activity", func() {
			m.UpdateQueueSize(5)
			m.RecordQueueEnqueue()
			m.RecordQueueDequeue(12)
			m.RecordQueueRejected()
			m.RecordDeliveryAttempt(OutcomeStatus, 40)
			m.RecordDeliveryAttempt(OutcomeSuccess, 20)
			m.RecordDeliverySent()
			m.RecordDeliveryError(OutcomeTimeout)
			m.RecordWorkerPanic()

			Convey("Then the queue and delivery metrics reflect them", func() {
				So(gatheredValue(registry, "posebridge_monitor_queue_size", nil), ShouldEqual, 5)
				So(gatheredValue(registry, "posebridge_monitor_queue_enqueued_total", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_queue_dequeued_total", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_queue_wait_milliseconds", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_queue_rejected_total", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_delivery_attempts_total",
					map[string]string{"outcome": OutcomeStatus}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_delivery_latency_milliseconds", nil), ShouldEqual, 2)
				So(gatheredValue(registry, "posebridge_monitor_deliveries_sent_total", nil), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_delivery_errors_total",
					map[string]string{"kind": OutcomeTimeout}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_worker_panics_total", nil), ShouldEqual, 1)
			})
		})

		Convey("When recording status server and system metrics", func() {
			m.RecordHTTPRequest("/stats", "GET", "200", 1.5)
			m.RecordErrorByComponent("shm", "decode")
			m.RecordErrorByEndpoint("/stats", "GET", "encode")
			m.UpdateSystem(1024, 12)
			m.RecordSystemGCPauseTime(0.3)

			Convey("Then they are exported", func() {
				So(gatheredValue(registry, "posebridge_monitor_http_requests_total",
					map[string]string{"endpoint": "/stats", "status_code": "200"}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_http_request_duration_milliseconds",
					map[string]string{"endpoint": "/stats"}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_errors_by_component_total",
					map[string]string{"component": "shm"}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_errors_by_endpoint_total",
					map[string]string{"endpoint": "/stats"}), ShouldEqual, 1)
				So(gatheredValue(registry, "posebridge_monitor_system_memory_usage_bytes", nil), ShouldEqual, 1024)
				So(gatheredValue(registry, "posebridge_monitor_system_goroutine_count", nil), ShouldEqual, 12)
				So(gatheredValue(registry, "posebridge_monitor_system_gc_pause_time_milliseconds", nil), ShouldEqual, 1)
			})
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording through package-level helpers", func() {
			before := gatheredValue(GetRegistry(), "posebridge_monitor_frames_read_total", nil)
			if before < 0 {
				before = 0
			}
			RecordFrameRead()
			RecordFrameSkipped()
			UpdateQueueSize(0)
			RecordDeliveryAttempt(OutcomeConnection, 3)

			Convey("Then the custom registry exposes them", func() {
				So(GetRegistry(), ShouldNotBeNil)
				So(gatheredValue(GetRegistry(), "posebridge_monitor_frames_read_total", nil), ShouldEqual, before+1)
				So(gatheredValue(GetRegistry(), "posebridge_monitor_delivery_attempts_total",
					map[string]string{"outcome": OutcomeConnection}), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}
