package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/posebridge/internal/adapters/mq/queue"
	"github.com/okian/posebridge/internal/adapters/mq/worker"
	"github.com/okian/posebridge/internal/adapters/shm"
	service "github.com/okian/posebridge/internal/app"
	"github.com/okian/posebridge/internal/config"
	"github.com/okian/posebridge/internal/domain/cooldown"
	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fakeSource returns the current snapshot or error on every read.
type fakeSource struct {
	mu         sync.Mutex
	snap       *model.FrameSnapshot
	readErr    error
	connectErr error
	panicOnce  bool
	reads      int
	connects   int
	closed     int
}

func (s *fakeSource) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.connectErr
}

func (s *fakeSource) ReadSnapshot(context.Context) (*model.FrameSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.panicOnce {
		s.panicOnce = false
		panic("torn read")
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	cp := *s.snap
	cp.Persons = append([]model.PersonDetection(nil), s.snap.Persons...)
	return &cp, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) set(snap *model.FrameSnapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.readErr = snap, err
}

func (s *fakeSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// countingFilter wraps the real filter and counts ShouldSend calls.
type countingFilter struct {
	cooldown.Filter
	calls int
	times []time.Time
}

func (f *countingFilter) ShouldSend(ctx context.Context, id uint32, c model.PoseClass, now time.Time) bool {
	f.calls++
	f.times = append(f.times, now)
	return f.Filter.ShouldSend(ctx, id, c, now)
}

type countingEncoder struct{ calls int }

func (e *countingEncoder) Encode(t *model.Thumbnail) (string, error) {
	e.calls++
	return fmt.Sprintf("thumb-%dx%d", t.Width, t.Height), nil
}

type stubWorker struct {
	ran      chan struct{}
	shutdown chan struct{}
	once     sync.Once
}

func newStubWorker() *stubWorker {
	return &stubWorker{ran: make(chan struct{}), shutdown: make(chan struct{})}
}

func (w *stubWorker) Run(context.Context) {
	close(w.ran)
	<-w.shutdown
}

func (w *stubWorker) Shutdown(context.Context) error {
	w.once.Do(func() { close(w.shutdown) })
	return nil
}

func (w *stubWorker) Stats() worker.Stats {
	return worker.Stats{Sent: 2, Errors: 1, Attempts: 4, LastSendTime: time.Unix(1700000000, 0)}
}

func person(id uint32, class model.PoseClass) model.PersonDetection {
	p := model.PersonDetection{
		PersonID:          id,
		TimestampUS:       1_700_000_000_000_000 + uint64(id),
		BBox:              model.BoundingBox{Left: 320, Top: 120, Width: 160, Height: 240, Confidence: 0.9},
		PoseClass:         class,
		PoseConfidence:    0.8,
		IsTracked:         true,
		TrackingAge:       12,
		HasClassification: true,
	}
	p.PoseScores[class] = 0.8
	p.PoseScores[model.Walking] = 0.005
	p.Joints2D[0] = model.Joint2D{X: 100, Y: 200, Confidence: 0.9, Visible: true}
	p.Joints2D[1] = model.Joint2D{X: 1, Y: 2, Confidence: 0.05, Visible: true}
	return p
}

func frame(seq uint32, persons ...model.PersonDetection) *model.FrameSnapshot {
	return &model.FrameSnapshot{
		SequenceID:     seq,
		FrameNumber:    seq * 10,
		PipelineActive: true,
		FPS:            30,
		FrameWidth:     640,
		FrameHeight:    480,
		Persons:        persons,
		HasThumbnail:   true,
		Thumbnail:      &model.Thumbnail{Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6}},
	}
}

type fixture struct {
	src     *fakeSource
	filter  *countingFilter
	queue   *queue.InMemoryQueue
	encoder *countingEncoder
	out     *bytes.Buffer
	clock   time.Time
	mon     *service.Monitor
}

func newFixture(opts ...service.Option) *fixture {
	f := &fixture{
		src:     &fakeSource{snap: frame(0)},
		filter:  &countingFilter{Filter: cooldown.NewInMemoryFilter()},
		queue:   queue.NewInMemoryQueue(),
		encoder: &countingEncoder{},
		out:     &bytes.Buffer{},
		clock:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ids := 0
	base := []service.Option{
		service.WithFilter(f.filter),
		service.WithQueue(f.queue),
		service.WithThumbnails(f.encoder),
		service.WithUnit("jetson_unit_01", "Jetson Pose Detection Unit", []string{"rtsp://cam/1"}),
		service.WithSummaryWriter(f.out),
		service.WithClock(func() time.Time { return f.clock }),
		service.WithIDGenerator(func() string { ids++; return fmt.Sprintf("id-%d", ids) }),
		service.WithPollInterval(time.Millisecond),
		service.WithErrorBackoff(time.Millisecond),
	}
	f.mon = service.New(f.src, append(base, opts...)...)
	return f
}

func drain(q *queue.InMemoryQueue) []model.QueuedDetection {
	var out []model.QueuedDetection
	for {
		item, ok := q.Get(context.Background(), time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, item)
	}
}

func TestMonitorPoll(t *testing.T) {
	Convey("Given a monitor over a fake source", t, func() {
		ctx := context.Background()
		f := newFixture()
		So(f.mon.Start(ctx), ShouldBeNil)
		So(f.mon.State(), ShouldEqual, service.StateConnected)

		Convey("When the segment has never been written", func() {
			So(f.mon.Poll(ctx), ShouldBeNil)

			Convey("Then nothing is filtered or queued", func() {
				So(f.filter.calls, ShouldEqual, 0)
				So(f.queue.Len(ctx), ShouldEqual, 0)
				So(f.mon.State(), ShouldEqual, service.StatePolling)
			})
		})

		Convey("When a new frame with three persons arrives", func() {
			f.src.set(frame(1,
				person(1, model.Sitting),
				person(2, model.Standing),
				person(3, model.Walking),
			), nil)
			So(f.mon.Poll(ctx), ShouldBeNil)
			items := drain(f.queue)

			Convey("Then each person is queued in array order with shared context", func() {
				So(items, ShouldHaveLength, 3)
				So(items[0].ID, ShouldEqual, "id-1")
				So(items[0].Detection.PersonID, ShouldEqual, 1)
				So(items[2].Detection.PersonID, ShouldEqual, 3)
				So(items[1].UnitID, ShouldEqual, "jetson_unit_01")
				So(items[1].RTSPURIs, ShouldResemble, []string{"rtsp://cam/1"})
				So(items[0].NormalizedBBox.X, ShouldAlmostEqual, 0.5)
				So(items[0].NormalizedBBox.Height, ShouldAlmostEqual, 0.5)
				So(items[0].EnqueuedAt, ShouldEqual, f.clock)
			})

			Convey("Then the thumbnail is encoded once and shared", func() {
				So(f.encoder.calls, ShouldEqual, 1)
				So(*items[0].Thumbnail, ShouldEqual, "thumb-2x1")
				So(items[0].Thumbnail, ShouldEqual, items[2].Thumbnail)
			})

			Convey("And when the same frame is read again", func() {
				for i := 0; i < 5; i++ {
					So(f.mon.Poll(ctx), ShouldBeNil)
				}

				Convey("Then it is not reprocessed", func() {
					So(f.filter.calls, ShouldEqual, 3)
					So(f.queue.Len(ctx), ShouldEqual, 0)
					So(f.encoder.calls, ShouldEqual, 1)
					So(f.mon.GetStats()["frames_processed"], ShouldEqual, int64(1))
				})
			})

			Convey("And when the next frame repeats the poses within their cooldowns", func() {
				f.clock = f.clock.Add(10 * time.Second)
				f.src.set(frame(2,
					person(1, model.Sitting),
					person(2, model.Standing),
					person(3, model.Walking),
				), nil)
				So(f.mon.Poll(ctx), ShouldBeNil)

				Convey("Then all are filtered and no thumbnail is encoded", func() {
					So(f.queue.Len(ctx), ShouldEqual, 0)
					So(f.encoder.calls, ShouldEqual, 1)
					stats := f.mon.GetStats()
					So(stats["filtered_duplicates"], ShouldEqual, int64(3))
					So(stats["total_detections"], ShouldEqual, int64(3))
					So(stats["tracked_persons"], ShouldEqual, 3)
				})
			})

			Convey("And when the sequence id goes backwards", func() {
				f.src.set(frame(5), nil)
				So(f.mon.Poll(ctx), ShouldBeNil)
				f.src.set(frame(2, person(9, model.Jumping)), nil)
				So(f.mon.Poll(ctx), ShouldBeNil)

				Convey("Then the frame is processed and a restart recorded", func() {
					So(f.queue.Len(ctx), ShouldEqual, 1)
					So(f.mon.GetStats()["pipeline_restarts"], ShouldEqual, int64(1))
				})
			})
		})

		Convey("When thumbnails are missing from the frame", func() {
			snap := frame(1, person(1, model.Sitting))
			snap.Thumbnail = nil
			f.src.set(snap, nil)
			So(f.mon.Poll(ctx), ShouldBeNil)

			Convey("Then the detection carries no thumbnail", func() {
				items := drain(f.queue)
				So(items, ShouldHaveLength, 1)
				So(items[0].Thumbnail, ShouldBeNil)
				So(f.encoder.calls, ShouldEqual, 0)
			})
		})

		Convey("When the source fails to read", func() {
			f.src.set(nil, fmt.Errorf("%w: short read", shm.ErrDecode))
			err := f.mon.Poll(ctx)

			Convey("Then the error is wrapped and the monitor falls back to connected", func() {
				So(errors.Is(err, service.ErrRead), ShouldBeTrue)
				So(errors.Is(err, shm.ErrDecode), ShouldBeTrue)
				So(f.mon.State(), ShouldEqual, service.StateConnected)
				So(f.mon.GetStats()["read_errors"], ShouldEqual, int64(1))
			})
		})
	})
}

func TestMonitorCooldownClock(t *testing.T) {
	Convey("Given a monitor using detection timestamps", t, func() {
		ctx := context.Background()
		f := newFixture(service.WithCooldownClock(config.ClockDetection))
		So(f.mon.Start(ctx), ShouldBeNil)

		p := person(4, model.Sitting)
		f.src.set(frame(1, p), nil)
		So(f.mon.Poll(ctx), ShouldBeNil)

		Convey("Then the filter sees the detection time", func() {
			So(f.filter.times, ShouldHaveLength, 1)
			So(f.filter.times[0].Equal(p.Timestamp()), ShouldBeTrue)
		})
	})
}

func TestMonitorSummary(t *testing.T) {
	Convey("Given a monitor in detailed mode", t, func() {
		ctx := context.Background()
		f := newFixture(service.WithDetailed(true), service.WithWorker(newStubWorker()))
		So(f.mon.Start(ctx), ShouldBeNil)
		defer f.mon.Stop(ctx)

		f.src.set(frame(7, person(1, model.Sitting)), nil)
		So(f.mon.Poll(ctx), ShouldBeNil)
		out := f.out.String()

		Convey("Then the frame block is printed", func() {
			So(out, ShouldContainSubstring, "=== Frame 70 (Seq: 7) ===")
			So(out, ShouldContainSubstring, "Persons detected: 1")
			So(out, ShouldContainSubstring, "Frame size: 640x480")
			So(out, ShouldContainSubstring, "1 queued, 0 filtered, 2 sent, 1 errors, 1 tracked persons")
			So(out, ShouldContainSubstring, "Pose: sitting (confidence: 0.800)")
		})

		Convey("Then only significant scores are listed", func() {
			So(out, ShouldContainSubstring, "sitting: 0.800")
			So(out, ShouldNotContainSubstring, "walking: 0.005")
		})

		Convey("Then only confident visible joints are listed", func() {
			So(out, ShouldContainSubstring, "pelvis: (100.0, 200.0) conf: 0.900")
			So(out, ShouldNotContainSubstring, "left_hip:")
		})

		Convey("And when another frame arrives before the summary interval", func() {
			f.out.Reset()
			f.src.set(frame(8, person(2, model.Sitting)), nil)
			So(f.mon.Poll(ctx), ShouldBeNil)

			Convey("Then nothing is printed", func() {
				So(f.out.Len(), ShouldEqual, 0)
			})
		})
	})
}

func TestMonitorLifecycle(t *testing.T) {
	Convey("Given a monitor whose source cannot connect", t, func() {
		f := newFixture()
		f.src.connectErr = shm.ErrSegmentNotFound

		Convey("Then Start fails and the monitor stays not connected", func() {
			err := f.mon.Start(context.Background())
			So(errors.Is(err, service.ErrConnect), ShouldBeTrue)
			So(errors.Is(err, shm.ErrSegmentNotFound), ShouldBeTrue)
			So(f.mon.State(), ShouldEqual, service.StateNotConnected)
		})
	})

	Convey("Given a started monitor with a worker", t, func() {
		ctx := context.Background()
		w := newStubWorker()
		f := newFixture(service.WithWorker(w))
		So(f.mon.Start(ctx), ShouldBeNil)
		<-w.ran

		Convey("When it is started twice", func() {
			So(errors.Is(f.mon.Start(ctx), service.ErrAlreadyStarted), ShouldBeTrue)
		})

		Convey("When it is stopped", func() {
			f.mon.Stop(ctx)
			f.mon.Stop(ctx)

			Convey("Then the worker, queue and source are released once", func() {
				So(f.mon.State(), ShouldEqual, service.StateStopped)
				So(f.queue.IsClosed(), ShouldBeTrue)
				So(f.src.closed, ShouldEqual, 1)
				stats := f.mon.GetStats()
				So(stats["sent_packages"], ShouldEqual, int64(2))
				So(stats["send_errors"], ShouldEqual, int64(1))
				So(stats["last_send_time"], ShouldNotBeNil)
				So(errors.Is(f.mon.Start(ctx), service.ErrStopped), ShouldBeTrue)
			})
		})
	})
}

func TestMonitorRun(t *testing.T) {
	Convey("Given a running monitor whose source misbehaves", t, func() {
		f := newFixture()
		So(f.mon.Start(context.Background()), ShouldBeNil)
		f.src.panicOnce = true
		f.src.set(frame(1, person(1, model.Sitting)), nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- f.mon.Run(ctx) }()

		Convey("Then a panic does not end the loop and the frame is still queued", func() {
			deadline := time.Now().Add(2 * time.Second)
			for f.queue.Len(context.Background()) == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			So(f.queue.Len(context.Background()), ShouldEqual, 1)
			So(f.src.Reads(), ShouldBeGreaterThan, 1)

			cancel()
			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(2 * time.Second):
				So("run did not exit", ShouldBeEmpty)
			}
		})

		Reset(cancel)
	})

	Convey("Given a running monitor whose source is detached", t, func() {
		f := newFixture()
		So(f.mon.Start(context.Background()), ShouldBeNil)
		f.src.set(nil, shm.ErrNotConnected)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = f.mon.Run(ctx) }()

		Convey("Then it tries to reconnect", func() {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				f.src.mu.Lock()
				n := f.src.connects
				f.src.mu.Unlock()
				if n > 1 {
					break
				}
				time.Sleep(time.Millisecond)
			}
			f.src.mu.Lock()
			So(f.src.connects, ShouldBeGreaterThan, 1)
			f.src.mu.Unlock()
		})
	})
}
