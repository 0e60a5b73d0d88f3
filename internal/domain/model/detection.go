package model

import (
	"math"
	"time"
)

// BoundingBox is a detection box in source frame pixels.
type BoundingBox struct {
	Left, Top, Width, Height float32
	Confidence               float32
}

// Joint2D is one image-space keypoint.
type Joint2D struct {
	X, Y       float32
	Confidence float32
	Visible    bool
}

// Joint3D is one camera-space keypoint.
type Joint3D struct {
	X, Y, Z    float32
	Confidence float32
	Visible    bool
}

// PersonDetection is one person record copied out of a frame.
type PersonDetection struct {
	PersonID          uint32
	TimestampUS       uint64
	FrameNumber       uint32
	BBox              BoundingBox
	Joints2D          [MaxJoints]Joint2D
	Joints3D          [MaxJoints]Joint3D
	PoseClass         PoseClass
	PoseConfidence    float32
	PoseScores        [NumPoseClasses]float32
	IsTracked         bool
	TrackingAge       uint32
	Has2DPose         bool
	Has3DPose         bool
	HasClassification bool
}

// Timestamp converts the microsecond epoch timestamp.
func (p *PersonDetection) Timestamp() time.Time {
	return time.UnixMicro(int64(p.TimestampUS)) //nolint:gosec // microsecond epoch fits int64
}

// Thumbnail is one copied ring slot of packed RGB pixels.
type Thumbnail struct {
	Width, Height int
	Data          []byte
}

// FrameSnapshot is a consistent-enough copy of the shared segment at one instant.
// It never aliases shared memory.
type FrameSnapshot struct {
	TimestampUS    uint64
	FrameNumber    uint32
	SequenceID     uint32
	PipelineActive bool
	FPS            uint32
	FrameWidth     uint32
	FrameHeight    uint32
	Persons        []PersonDetection

	HasThumbnail   bool
	ThumbnailIndex uint32
	Thumbnail      *Thumbnail

	TotalFramesProcessed uint64
	TotalPersonsDetected uint32
}

// Timestamp converts the frame's microsecond epoch timestamp.
func (s *FrameSnapshot) Timestamp() time.Time {
	return time.UnixMicro(int64(s.TimestampUS)) //nolint:gosec // microsecond epoch fits int64
}

// NormalizedBox is a bounding box expressed as fractions of the frame size.
type NormalizedBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Normalize clips the box to the frame and divides it by the frame size, so
// the result always lies within the unit square. When either dimension is zero
// the pixel values are returned unchanged.
func Normalize(b BoundingBox, frameWidth, frameHeight uint32) NormalizedBox {
	if frameWidth == 0 || frameHeight == 0 {
		return NormalizedBox{
			X:          float64(b.Left),
			Y:          float64(b.Top),
			Width:      float64(b.Width),
			Height:     float64(b.Height),
			Confidence: float64(b.Confidence),
		}
	}
	w, h := float64(frameWidth), float64(frameHeight)
	x0, x1 := clipSpan(float64(b.Left), float64(b.Width), w)
	y0, y1 := clipSpan(float64(b.Top), float64(b.Height), h)
	return NormalizedBox{
		X:          x0 / w,
		Y:          y0 / h,
		Width:      (x1 - x0) / w,
		Height:     (y1 - y0) / h,
		Confidence: clamp01(float64(b.Confidence)),
	}
}

// clipSpan intersects [start, start+length) with [0, limit). An empty
// intersection collapses to a zero-length span at the nearest edge.
func clipSpan(start, length, limit float64) (float64, float64) {
	if math.IsNaN(start) || math.IsInf(start, 0) {
		start = 0
	}
	if math.IsNaN(length) || math.IsInf(length, 0) || length < 0 {
		length = 0
	}
	lo := min(max(start, 0), limit)
	hi := min(max(start+length, lo), limit)
	return lo, hi
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// QueuedDetection is a self-contained work item for the delivery worker.
type QueuedDetection struct {
	ID             string
	UnitID         string
	UnitName       string
	RTSPURIs       []string
	Detection      PersonDetection
	NormalizedBBox NormalizedBox
	Thumbnail      *string
	EnqueuedAt     time.Time
}
