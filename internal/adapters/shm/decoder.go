package shm

import (
	"fmt"
	"io"

	"github.com/okian/posebridge/internal/domain/model"
)

// DecodeOptions selects the optional parts of a snapshot.
type DecodeOptions struct {
	// Thumbnail copies the most recent ring slot when the header announces one.
	Thumbnail bool
}

// Decode copies the header, the person records with the trailer and,
// optionally, the latest thumbnail slot out of src and decodes them.
func Decode(src io.ReaderAt, layout Layout, opts DecodeOptions) (*model.FrameSnapshot, error) {
	if !layout.valid() {
		return nil, fmt.Errorf("%w: invalid layout %+v", ErrDecode, layout)
	}

	header := make([]byte, HeaderSize)
	if err := readFull(src, header, 0); err != nil {
		return nil, err
	}
	h := &cursor{buf: header}

	snap := &model.FrameSnapshot{
		TimestampUS:    h.u64(offTimestamp),
		FrameNumber:    h.u32(offFrameNumber),
		SequenceID:     h.u32(offSequenceID),
		PipelineActive: h.boolean(offPipelineActive),
		FPS:            h.u32(offFPS),
		FrameWidth:     h.u32(offFrameWidth),
		FrameHeight:    h.u32(offFrameHeight),
		HasThumbnail:   h.boolean(offHasThumbnail),
		ThumbnailIndex: h.u32(offThumbIndex),
	}
	numPersons := h.u32(offNumPersons)
	thumbW, thumbH, thumbSize := h.u32(offThumbWidth), h.u32(offThumbHeight), h.u32(offThumbSize)
	if h.err != nil {
		return nil, h.err
	}

	if numPersons > uint32(layout.MaxPersons) { //nolint:gosec // capacity is small and positive
		return nil, fmt.Errorf("%w: num_persons %d exceeds capacity %d", ErrImplausibleRecord, numPersons, layout.MaxPersons)
	}

	body := make([]byte, layout.TrailerOffset()+trailerSize-layout.PersonsOffset())
	if err := readFull(src, body, int64(layout.PersonsOffset())); err != nil {
		return nil, err
	}
	b := &cursor{buf: body}

	snap.Persons = make([]model.PersonDetection, numPersons)
	for i := range snap.Persons {
		pc := b.at(i * PersonRecordSize)
		decodePerson(pc, &snap.Persons[i])
		if pc.err != nil {
			return nil, pc.err
		}
	}

	tc := b.at(layout.TrailerOffset() - layout.PersonsOffset())
	snap.TotalFramesProcessed = tc.u64(trailerFrames)
	snap.TotalPersonsDetected = tc.u32(trailerPersons)
	if tc.err != nil {
		return nil, tc.err
	}

	if opts.Thumbnail && snap.HasThumbnail && thumbSize > 0 && int64(thumbSize) <= int64(layout.ThumbnailMaxBytes) {
		slot := layout.LatestSlot(snap.ThumbnailIndex)
		data := make([]byte, thumbSize)
		if err := readFull(src, data, int64(layout.SlotOffset(slot))); err != nil {
			return nil, err
		}
		snap.Thumbnail = &model.Thumbnail{Width: int(thumbW), Height: int(thumbH), Data: data}
	}

	return snap, nil
}

func decodePerson(c *cursor, p *model.PersonDetection) {
	p.PersonID = c.u32(offPersonID)
	p.TimestampUS = c.u64(offPersonTS)
	p.FrameNumber = c.u32(offPersonFrame)
	p.BBox = model.BoundingBox{
		Left:       c.f32(offBBox),
		Top:        c.f32(offBBox + 4),
		Width:      c.f32(offBBox + 8),
		Height:     c.f32(offBBox + 12),
		Confidence: c.f32(offBBox + 16),
	}
	for j := range p.Joints2D {
		jc := c.at(c.base + offJoints2D + j*joint2DSize)
		p.Joints2D[j] = model.Joint2D{
			X:          jc.f32(0),
			Y:          jc.f32(4),
			Confidence: jc.f32(8),
			Visible:    jc.boolean(12),
		}
		if jc.err != nil {
			c.err = jc.err
			return
		}
	}
	for j := range p.Joints3D {
		jc := c.at(c.base + offJoints3D + j*joint3DSize)
		p.Joints3D[j] = model.Joint3D{
			X:          jc.f32(0),
			Y:          jc.f32(4),
			Z:          jc.f32(8),
			Confidence: jc.f32(12),
			Visible:    jc.boolean(16),
		}
		if jc.err != nil {
			c.err = jc.err
			return
		}
	}
	p.PoseClass = model.PoseClass(c.u32(offPoseClass))
	p.PoseConfidence = c.f32(offPoseConfidence)
	for k := range p.PoseScores {
		p.PoseScores[k] = c.f32(offPoseScores + 4*k)
	}
	p.IsTracked = c.boolean(offIsTracked)
	p.TrackingAge = c.u32(offTrackingAge)
	p.Has2DPose = c.boolean(offHas2D)
	p.Has3DPose = c.boolean(offHas3D)
	p.HasClassification = c.boolean(offHasClass)
}

// readFull copies len(dst) bytes at off; anything short is a decode error.
func readFull(src io.ReaderAt, dst []byte, off int64) error {
	n, err := src.ReadAt(dst, off)
	if n == len(dst) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: read %d of %d bytes at offset %d: %w", ErrDecode, n, len(dst), off, err)
}
