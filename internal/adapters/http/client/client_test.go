package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/posebridge/internal/adapters/http/client"
	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func queued() *model.QueuedDetection {
	thumb := "AAEC"
	d := model.PersonDetection{
		PersonID:       7,
		TimestampUS:    uint64(time.Date(2025, 2, 3, 4, 5, 6, 789_000_000, time.UTC).UnixMicro()),
		FrameNumber:    1234,
		PoseClass:      model.Sitting,
		PoseConfidence: 0.5,
		IsTracked:      true,
		TrackingAge:    12,
	}
	d.PoseScores[model.Sitting] = 0.5
	d.PoseScores[model.Standing] = 0.25
	return &model.QueuedDetection{
		ID:             "req-1",
		UnitID:         "jetson_unit_01",
		UnitName:       "Jetson Pose Detection Unit",
		Detection:      d,
		NormalizedBBox: model.NormalizedBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4, Confidence: 0.5},
		Thumbnail:      &thumb,
	}
}

func TestNewPayload(t *testing.T) {
	Convey("Given a queued detection", t, func() {
		item := queued()
		now := time.Date(2025, 2, 3, 4, 5, 7, 0, time.FixedZone("CET", 3600))

		Convey("When the payload is built and marshaled", func() {
			raw, err := json.Marshal(client.NewPayload(item, now))
			So(err, ShouldBeNil)
			var doc map[string]any
			So(json.Unmarshal(raw, &doc), ShouldBeNil)
			det := doc["detections"].([]any)[0].(map[string]any)

			Convey("Then the envelope carries unit info and UTC timestamps", func() {
				So(doc["unit_id"], ShouldEqual, "jetson_unit_01")
				So(doc["unit_name"], ShouldEqual, "Jetson Pose Detection Unit")
				So(doc["rtsp_uris"], ShouldResemble, []any{})
				So(doc["timestamp"], ShouldEqual, "2025-02-03T03:05:07Z")
				So(det["timestamp"], ShouldEqual, "2025-02-03T04:05:06.789Z")
			})

			Convey("And the detection fields follow the wire format", func() {
				So(det["action_type"], ShouldEqual, "sitting")
				So(det["confidence"], ShouldEqual, 0.5)
				So(det["person_id"], ShouldEqual, 7)
				So(det["frame_number"], ShouldEqual, 1234)
				So(det["thumbnail"], ShouldEqual, "AAEC")
				So(det["normalized_bbox"].(map[string]any)["width"], ShouldEqual, 0.3)
				So(det["tracking_info"], ShouldResemble, map[string]any{"is_tracked": true, "tracking_age": float64(12)})
				scores := det["pose_scores"].(map[string]any)
				So(scores, ShouldHaveLength, model.NumPoseClasses)
				So(scores["standing"], ShouldEqual, 0.25)
				So(scores["jumping"], ShouldEqual, 0)
			})
		})

		Convey("When the scores and box carry non-finite floats", func() {
			item.Detection.PoseScores[model.Standing] = float32(math.NaN())
			item.Detection.PoseConfidence = float32(math.Inf(1))
			item.NormalizedBBox.X = math.Inf(-1)
			raw, err := json.Marshal(client.NewPayload(item, now))

			Convey("Then they are written as zero", func() {
				So(err, ShouldBeNil)
				var doc map[string]any
				So(json.Unmarshal(raw, &doc), ShouldBeNil)
				det := doc["detections"].([]any)[0].(map[string]any)
				So(det["pose_scores"].(map[string]any)["standing"], ShouldEqual, 0)
				So(det["pose_scores"].(map[string]any)["sitting"], ShouldEqual, 0.5)
				So(det["confidence"], ShouldEqual, 0)
				So(det["normalized_bbox"].(map[string]any)["x"], ShouldEqual, 0)
				So(det["normalized_bbox"].(map[string]any)["width"], ShouldEqual, 0.3)
			})
		})

		Convey("When there is no thumbnail and the class is unknown", func() {
			item.Thumbnail = nil
			item.Detection.PoseClass = model.PoseClass(77)
			raw, err := json.Marshal(client.NewPayload(item, now))
			So(err, ShouldBeNil)
			var doc map[string]any
			So(json.Unmarshal(raw, &doc), ShouldBeNil)
			det := doc["detections"].([]any)[0].(map[string]any)

			Convey("Then thumbnail is null and action_type is unknown", func() {
				v, present := det["thumbnail"]
				So(present, ShouldBeTrue)
				So(v, ShouldBeNil)
				So(det["action_type"], ShouldEqual, "unknown")
			})
		})
	})
}

func TestClientSend(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatalf("logger init: %v", err)
	}
	ctx := context.Background()

	Convey("Given a detection service", t, func() {
		var got *http.Request
		var gotBody []byte
		status := http.StatusCreated
		respond := `{"success":true,"message":"stored","data":{"unit_id":"jetson_unit_01","processed_detections":1,"total_detections":1}}`

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r
			gotBody, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, respond)
		}))
		defer srv.Close()

		c := client.New(srv.URL, client.WithTimeout(time.Second))

		Convey("When the service answers 201", func() {
			err := c.Send(ctx, queued())

			Convey("Then the send succeeds with the expected request", func() {
				So(err, ShouldBeNil)
				So(got.Method, ShouldEqual, http.MethodPost)
				So(got.Header.Get("Content-Type"), ShouldEqual, "application/json")
				So(got.Header.Get("User-Agent"), ShouldStartWith, "posebridge/")
				So(got.Header.Get("X-Request-ID"), ShouldEqual, "req-1")
				var p client.Payload
				So(json.Unmarshal(gotBody, &p), ShouldBeNil)
				So(p.Detections, ShouldHaveLength, 1)
				So(p.Detections[0].PersonID, ShouldEqual, 7)
				So(c.URL(), ShouldEqual, srv.URL)
			})
		})

		Convey("When a pose score is NaN", func() {
			it := queued()
			it.Detection.PoseScores[model.Jumping] = float32(math.NaN())
			err := c.Send(ctx, it)

			Convey("Then the detection is still delivered", func() {
				So(err, ShouldBeNil)
				So(got, ShouldNotBeNil)
				var p client.Payload
				So(json.Unmarshal(gotBody, &p), ShouldBeNil)
				So(p.Detections[0].PoseScores["jumping"], ShouldEqual, 0)
			})
		})

		Convey("When the service answers 200 with a malformed body", func() {
			status = http.StatusOK
			respond = `<html>ok</html>`
			err := c.Send(ctx, queued())

			Convey("Then the status is authoritative", func() {
				So(err, ShouldBeNil)
			})
		})

		Convey("When the service answers 503", func() {
			status = http.StatusServiceUnavailable
			respond = `{"success":false,"message":"down"}`
			err := c.Send(ctx, queued())

			Convey("Then a status error carries the code and body", func() {
				So(errors.Is(err, client.ErrStatus), ShouldBeTrue)
				var se *client.StatusError
				So(errors.As(err, &se), ShouldBeTrue)
				So(se.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(se.Body, ShouldContainSubstring, "down")
				So(client.Kind(err), ShouldEqual, "status")
			})
		})

		Convey("When the caller's context is already canceled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			err := c.Send(cctx, queued())

			Convey("Then the request still completes", func() {
				So(err, ShouldBeNil)
			})
		})
	})

	Convey("Given a service slower than the timeout", t, func() {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c := client.New(srv.URL, client.WithTimeout(50*time.Millisecond))
		err := c.Send(ctx, queued())

		Convey("Then the attempt fails as a timeout", func() {
			So(errors.Is(err, client.ErrTimeout), ShouldBeTrue)
			So(client.Kind(err), ShouldEqual, "timeout")
		})
	})

	Convey("Given an unreachable service", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c := client.New(url, client.WithTimeout(time.Second))
		err := c.Send(ctx, queued())

		Convey("Then the attempt fails as a connection error", func() {
			So(errors.Is(err, client.ErrConnection), ShouldBeTrue)
			So(client.Kind(err), ShouldEqual, "connection")
			So(client.Kind(nil), ShouldEqual, "success")
			So(client.Retryable(err), ShouldBeTrue)
			So(client.Retryable(fmt.Errorf("%w: bad float", client.ErrEncode)), ShouldBeFalse)
		})
	})
}
