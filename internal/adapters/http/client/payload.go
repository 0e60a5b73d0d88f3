package client

import (
	"math"
	"time"

	"github.com/okian/posebridge/internal/domain/model"
)

// Payload is the JSON document POSTed for one detection.
type Payload struct {
	UnitID     string      `json:"unit_id"`
	UnitName   string      `json:"unit_name"`
	RTSPURIs   []string    `json:"rtsp_uris"`
	Timestamp  string      `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// Detection is one entry of Payload.Detections.
type Detection struct {
	Timestamp      string              `json:"timestamp"`
	ActionType     string              `json:"action_type"`
	Confidence     float64             `json:"confidence"`
	PersonID       uint32              `json:"person_id"`
	FrameNumber    uint32              `json:"frame_number"`
	NormalizedBBox model.NormalizedBox `json:"normalized_bbox"`
	Thumbnail      *string             `json:"thumbnail"`
	TrackingInfo   TrackingInfo        `json:"tracking_info"`
	PoseScores     map[string]float64  `json:"pose_scores"`
}

// TrackingInfo carries tracker state for a detection.
type TrackingInfo struct {
	IsTracked   bool   `json:"is_tracked"`
	TrackingAge uint32 `json:"tracking_age"`
}

// Ack is the envelope the detection service answers with.
type Ack struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp,omitempty"`
	Data      *AckData `json:"data,omitempty"`
}

// AckData reports what the service stored.
type AckData struct {
	UnitID              string         `json:"unit_id"`
	UnitName            string         `json:"unit_name"`
	ProcessedDetections int            `json:"processed_detections"`
	TotalDetections     int            `json:"total_detections"`
	Stats               map[string]any `json:"stats,omitempty"`
}

// FormatTime renders t as RFC 3339 in UTC with sub-second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NewPayload builds the wire document for item, stamped with the send time now.
func NewPayload(item *model.QueuedDetection, now time.Time) Payload {
	uris := make([]string, len(item.RTSPURIs))
	copy(uris, item.RTSPURIs)

	d := &item.Detection
	scores := make(map[string]float64, model.NumPoseClasses)
	for i, s := range d.PoseScores {
		scores[model.PoseClass(i).String()] = finite(float64(s))
	}

	return Payload{
		UnitID:    item.UnitID,
		UnitName:  item.UnitName,
		RTSPURIs:  uris,
		Timestamp: FormatTime(now),
		Detections: []Detection{{
			Timestamp:      FormatTime(d.Timestamp()),
			ActionType:     d.PoseClass.String(),
			Confidence:     finite(float64(d.PoseConfidence)),
			PersonID:       d.PersonID,
			FrameNumber:    d.FrameNumber,
			NormalizedBBox: finiteBox(item.NormalizedBBox),
			Thumbnail:      item.Thumbnail,
			TrackingInfo: TrackingInfo{
				IsTracked:   d.IsTracked,
				TrackingAge: d.TrackingAge,
			},
			PoseScores: scores,
		}},
	}
}

// finite maps NaN and ±Inf to 0; JSON has no encoding for them.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func finiteBox(b model.NormalizedBox) model.NormalizedBox {
	return model.NormalizedBox{
		X:          finite(b.X),
		Y:          finite(b.Y),
		Width:      finite(b.Width),
		Height:     finite(b.Height),
		Confidence: finite(b.Confidence),
	}
}
