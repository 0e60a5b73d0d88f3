// Package shm reads pose detection frames from the fixed-layout SysV shared
// memory segment written by the inference pipeline.
//
// The segment is a C struct with natural alignment, little-endian:
//
//	header (56 bytes) | thumbnail ring | person records | trailer counters | reserved
//
// The writer never locks; readers copy out what they need and validate every
// count against the layout before trusting it.
package shm

// DefaultKey is the SysV key the inference pipeline publishes under.
const DefaultKey = 12345

// Header field offsets.
const (
	offTimestamp      = 0
	offFrameNumber    = 8
	offSequenceID     = 12
	offNumPersons     = 16
	offPipelineActive = 20
	offFPS            = 24
	offFrameWidth     = 28
	offFrameHeight    = 32
	offHasThumbnail   = 36
	offThumbWidth     = 40
	offThumbHeight    = 44
	offThumbSize      = 48
	offThumbIndex     = 52

	// HeaderSize is where the thumbnail ring starts.
	HeaderSize = 56
)

// Person record field offsets.
const (
	offPersonID       = 0
	offPersonTS       = 8
	offPersonFrame    = 16
	offBBox           = 20
	offJoints2D       = 40
	offJoints3D       = 584
	offPoseClass      = 1264
	offPoseConfidence = 1268
	offPoseScores     = 1272
	offIsTracked      = 1296
	offTrackingAge    = 1300
	offHas2D          = 1304
	offHas3D          = 1305
	offHasClass       = 1306

	joint2DSize = 16
	joint3DSize = 20

	// PersonRecordSize is the padded size of one person record.
	PersonRecordSize = 1376
)

// trailer: total_frames_processed u64, total_persons_detected u32, reserved[256].
const (
	trailerFrames   = 0
	trailerPersons  = 8
	trailerReserved = 256
	trailerSize     = 12
	structAlign     = 8
)

// Layout describes the capacities that shape the segment.
type Layout struct {
	MaxPersons        int
	ThumbnailSlots    int
	ThumbnailMaxBytes int
}

// DefaultLayout matches the pipeline's build: 10 persons, 100 thumbnails of 320x240 RGB.
func DefaultLayout() Layout {
	return Layout{
		MaxPersons:        10,
		ThumbnailSlots:    100,
		ThumbnailMaxBytes: 320 * 240 * 3,
	}
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}

// RingOffset is the offset of thumbnail slot 0.
func (l Layout) RingOffset() int { return HeaderSize }

// SlotOffset is the offset of thumbnail slot i.
func (l Layout) SlotOffset(i int) int { return HeaderSize + i*l.ThumbnailMaxBytes }

// PersonsOffset is the offset of person record 0.
func (l Layout) PersonsOffset() int {
	return align(l.SlotOffset(l.ThumbnailSlots), structAlign)
}

// PersonOffset is the offset of person record i.
func (l Layout) PersonOffset(i int) int { return l.PersonsOffset() + i*PersonRecordSize }

// TrailerOffset is the offset of total_frames_processed.
func (l Layout) TrailerOffset() int {
	return align(l.PersonOffset(l.MaxPersons), structAlign)
}

// Size is the total segment size including trailing padding.
func (l Layout) Size() int {
	return align(l.TrailerOffset()+trailerSize+trailerReserved, structAlign)
}

// LatestSlot returns the ring slot written before index, i.e. (index-1) mod slots.
// The writer may be overwriting that slot while it is read; callers accept the race.
func (l Layout) LatestSlot(index uint32) int {
	n := uint32(l.ThumbnailSlots) //nolint:gosec // slot count is small and positive
	if n == 0 {
		return 0
	}
	return int((index%n + n - 1) % n)
}

func (l Layout) valid() bool {
	return l.MaxPersons > 0 && l.ThumbnailSlots > 0 && l.ThumbnailMaxBytes > 0
}
