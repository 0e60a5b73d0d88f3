package shm

import (
	"fmt"

	"github.com/okian/posebridge/internal/domain/model"
)

// Encode writes snap into dst using layout. When snap.Thumbnail is set its
// bytes go to the slot before ThumbnailIndex, which is where readers look.
// The sequence id is written last so a concurrent reader sees a new sequence
// only after the rest of the frame.
func Encode(dst []byte, layout Layout, snap *model.FrameSnapshot) error {
	if !layout.valid() {
		return fmt.Errorf("shm encode: invalid layout %+v", layout)
	}
	if len(dst) < layout.Size() {
		return fmt.Errorf("shm encode: buffer of %d bytes, layout needs %d", len(dst), layout.Size())
	}
	if len(snap.Persons) > layout.MaxPersons {
		return fmt.Errorf("shm encode: %d persons exceed capacity %d", len(snap.Persons), layout.MaxPersons)
	}

	h := &putter{buf: dst}
	h.u64(offTimestamp, snap.TimestampUS)
	h.u32(offFrameNumber, snap.FrameNumber)
	h.u32(offNumPersons, uint32(len(snap.Persons))) //nolint:gosec // bounded by MaxPersons
	h.boolean(offPipelineActive, snap.PipelineActive)
	h.u32(offFPS, snap.FPS)
	h.u32(offFrameWidth, snap.FrameWidth)
	h.u32(offFrameHeight, snap.FrameHeight)
	h.boolean(offHasThumbnail, snap.HasThumbnail)
	h.u32(offThumbIndex, snap.ThumbnailIndex)

	if t := snap.Thumbnail; t != nil {
		if err := WriteThumbnail(dst, layout, layout.LatestSlot(snap.ThumbnailIndex), t.Data); err != nil {
			return err
		}
		h.u32(offThumbWidth, uint32(t.Width))    //nolint:gosec // thumbnail dimensions are small
		h.u32(offThumbHeight, uint32(t.Height))  //nolint:gosec // thumbnail dimensions are small
		h.u32(offThumbSize, uint32(len(t.Data))) //nolint:gosec // bounded by ThumbnailMaxBytes
	}

	for i := range snap.Persons {
		p := &putter{buf: dst, base: layout.PersonOffset(i)}
		encodePerson(p, &snap.Persons[i])
		if p.err != nil {
			return p.err
		}
	}

	t := &putter{buf: dst, base: layout.TrailerOffset()}
	t.u64(trailerFrames, snap.TotalFramesProcessed)
	t.u32(trailerPersons, snap.TotalPersonsDetected)
	if t.err != nil {
		return t.err
	}

	h.u32(offSequenceID, snap.SequenceID)
	return h.err
}

// WriteThumbnail copies data into ring slot.
func WriteThumbnail(dst []byte, layout Layout, slot int, data []byte) error {
	if slot < 0 || slot >= layout.ThumbnailSlots {
		return fmt.Errorf("shm encode: thumbnail slot %d outside ring of %d", slot, layout.ThumbnailSlots)
	}
	if len(data) > layout.ThumbnailMaxBytes {
		return fmt.Errorf("shm encode: thumbnail of %d bytes exceeds slot size %d", len(data), layout.ThumbnailMaxBytes)
	}
	off := layout.SlotOffset(slot)
	if off+len(data) > len(dst) {
		return fmt.Errorf("shm encode: thumbnail slot %d outside buffer", slot)
	}
	copy(dst[off:], data)
	return nil
}

func encodePerson(p *putter, d *model.PersonDetection) {
	p.u32(offPersonID, d.PersonID)
	p.u64(offPersonTS, d.TimestampUS)
	p.u32(offPersonFrame, d.FrameNumber)
	p.f32(offBBox, d.BBox.Left)
	p.f32(offBBox+4, d.BBox.Top)
	p.f32(offBBox+8, d.BBox.Width)
	p.f32(offBBox+12, d.BBox.Height)
	p.f32(offBBox+16, d.BBox.Confidence)
	for j, jt := range d.Joints2D {
		off := offJoints2D + j*joint2DSize
		p.f32(off, jt.X)
		p.f32(off+4, jt.Y)
		p.f32(off+8, jt.Confidence)
		p.boolean(off+12, jt.Visible)
	}
	for j, jt := range d.Joints3D {
		off := offJoints3D + j*joint3DSize
		p.f32(off, jt.X)
		p.f32(off+4, jt.Y)
		p.f32(off+8, jt.Z)
		p.f32(off+12, jt.Confidence)
		p.boolean(off+16, jt.Visible)
	}
	p.u32(offPoseClass, uint32(d.PoseClass))
	p.f32(offPoseConfidence, d.PoseConfidence)
	for k, s := range d.PoseScores {
		p.f32(offPoseScores+4*k, s)
	}
	p.boolean(offIsTracked, d.IsTracked)
	p.u32(offTrackingAge, d.TrackingAge)
	p.boolean(offHas2D, d.Has2DPose)
	p.boolean(offHas3D, d.Has3DPose)
	p.boolean(offHasClass, d.HasClassification)
}
