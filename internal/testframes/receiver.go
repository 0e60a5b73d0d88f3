package testframes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/posebridge/internal/adapters/http/client"
	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
)

// HTTP server timeout constants.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	maxBodyBytes      = 8 << 20
)

// Receiver mimics the detection service: it validates posted payloads and
// answers with the {success, message, data} envelope.
type Receiver struct {
	mu        sync.Mutex
	failFirst int
	stats     ReceiverStats
	logger    logger.Logger
}

// NewReceiver creates a receiver that fails the first failFirst requests with 503.
func NewReceiver(failFirst int) *Receiver {
	return &Receiver{
		failFirst: failFirst,
		stats: ReceiverStats{
			ByAction: make(map[string]int),
			Units:    make(map[string]int),
		},
		logger: logger.Get().Named("test-frames-receiver"),
	}
}

// ServeHTTP handles POST requests carrying a detection payload.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAck(w, http.StatusMethodNotAllowed, client.Ack{Success: false, Message: "method not allowed"})
		return
	}

	rc.mu.Lock()
	rc.stats.Requests++
	if rc.failFirst > 0 {
		rc.failFirst--
		rc.stats.Failed++
		rc.mu.Unlock()
		writeAck(w, http.StatusServiceUnavailable, client.Ack{Success: false, Message: "service warming up"})
		return
	}
	rc.mu.Unlock()

	var p client.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		rc.reject(r.Context(), w, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	accepted, err := validatePayload(&p)
	if err != nil {
		rc.reject(r.Context(), w, err)
		return
	}

	rc.mu.Lock()
	rc.stats.Accepted++
	rc.stats.Detections += len(accepted)
	rc.stats.Units[p.UnitID] += len(accepted)
	for _, d := range accepted {
		rc.stats.ByAction[d.ActionType]++
	}
	total := rc.stats.Units[p.UnitID]
	rc.mu.Unlock()

	rc.logger.Info(r.Context(), "detections received",
		logger.String("unit_id", p.UnitID),
		logger.Int("count", len(accepted)),
		logger.String("request_id", r.Header.Get("X-Request-ID")),
	)

	writeAck(w, http.StatusCreated, client.Ack{
		Success:   true,
		Message:   "Detections received successfully",
		Timestamp: client.FormatTime(time.Now()),
		Data: &client.AckData{
			UnitID:              p.UnitID,
			UnitName:            p.UnitName,
			ProcessedDetections: len(accepted),
			TotalDetections:     total,
			Stats:               map[string]any{"batch_id": uuid.NewString()},
		},
	})
}

func (rc *Receiver) reject(ctx context.Context, w http.ResponseWriter, err error) {
	rc.mu.Lock()
	rc.stats.Rejected++
	rc.mu.Unlock()
	rc.logger.Warn(ctx, "rejected payload", logger.Error(err))
	writeAck(w, http.StatusBadRequest, client.Ack{Success: false, Message: err.Error()})
}

// Stats returns a copy of the receiver statistics.
func (rc *Receiver) Stats() ReceiverStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	out := rc.stats
	out.ByAction = make(map[string]int, len(rc.stats.ByAction))
	for k, v := range rc.stats.ByAction {
		out.ByAction[k] = v
	}
	out.Units = make(map[string]int, len(rc.stats.Units))
	for k, v := range rc.stats.Units {
		out.Units[k] = v
	}
	return out
}

var validActions = func() map[string]bool { //nolint:gochecknoglobals // immutable lookup table
	m := map[string]bool{model.UnknownPose: true}
	for _, c := range model.Classes() {
		m[c.String()] = true
	}
	return m
}()

// validatePayload applies the service's acceptance rules: the envelope
// needs unit fields and a non-empty detection list; invalid detections are
// skipped rather than failing the batch.
func validatePayload(p *client.Payload) ([]client.Detection, error) {
	if p.UnitID == "" || p.UnitName == "" || p.Detections == nil {
		return nil, errors.New("missing required fields: unit_id, unit_name, detections")
	}
	if len(p.Detections) == 0 {
		return nil, errors.New("detections must be a non-empty array")
	}
	if p.RTSPURIs == nil {
		return nil, errors.New("rtsp_uris must be an array")
	}
	if _, err := time.Parse(time.RFC3339Nano, p.Timestamp); err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	accepted := make([]client.Detection, 0, len(p.Detections))
	for _, d := range p.Detections {
		if _, err := time.Parse(time.RFC3339Nano, d.Timestamp); err != nil {
			continue
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			continue
		}
		b := d.NormalizedBBox
		if !unit(b.X) || !unit(b.Y) || !unit(b.Width) || !unit(b.Height) {
			continue
		}
		if !validActions[d.ActionType] {
			d.ActionType = model.UnknownPose
		}
		accepted = append(accepted, d)
	}
	return accepted, nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func writeAck(w http.ResponseWriter, status int, ack client.Ack) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}

// RunReceiver serves rc on addr until ctx is done.
func RunReceiver(ctx context.Context, addr string, rc *Receiver) error {
	mux := http.NewServeMux()
	mux.Handle("/api/detections", rc)
	mux.Handle("/api/robots/detections", rc)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		rc.logger.Info(ctx, "mock detection service listening", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("receiver failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
