package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/okian/posebridge/internal/domain/model"
)

const (
	significantScore = 0.01
	jointMinConf     = 0.1
)

// printSummary writes the human-readable block for one frame.
func (m *Monitor) printSummary(snap *model.FrameSnapshot) {
	var b strings.Builder

	fmt.Fprintf(&b, "\n=== Frame %d (Seq: %d) ===\n", snap.FrameNumber, snap.SequenceID)
	fmt.Fprintf(&b, "Timestamp: %d us\n", snap.TimestampUS)
	fmt.Fprintf(&b, "Persons detected: %d\n", len(snap.Persons))
	fmt.Fprintf(&b, "Pipeline active: %t\n", snap.PipelineActive)
	fmt.Fprintf(&b, "FPS: %d\n", snap.FPS)
	fmt.Fprintf(&b, "Frame size: %dx%d\n", snap.FrameWidth, snap.FrameHeight)
	fmt.Fprintf(&b, "Total frames processed: %d\n", snap.TotalFramesProcessed)

	var sent, errs int64
	if m.worker != nil {
		ws := m.worker.Stats()
		sent, errs = ws.Sent, ws.Errors
	}
	fmt.Fprintf(&b, "Server Stats: %d queued, %d filtered, %d sent, %d errors, %d tracked persons\n",
		m.queued.Load(), m.filtered.Load(), sent, errs, m.filter.Stats().TrackedPersons)

	for i := range snap.Persons {
		writePerson(&b, i, &snap.Persons[i])
	}

	if m.detailed && len(snap.Persons) > 0 {
		writeJoints(&b, &snap.Persons[0])
	}

	_, _ = io.WriteString(m.out, b.String())
}

func writePerson(b *strings.Builder, i int, p *model.PersonDetection) {
	fmt.Fprintf(b, "  Person %d:\n", i+1)
	fmt.Fprintf(b, "    ID: %d\n", p.PersonID)
	fmt.Fprintf(b, "    Pose: %s (confidence: %.3f)\n", p.PoseClass, p.PoseConfidence)
	fmt.Fprintf(b, "    Bbox: (%.1f, %.1f) %.1fx%.1f (conf: %.3f)\n",
		p.BBox.Left, p.BBox.Top, p.BBox.Width, p.BBox.Height, p.BBox.Confidence)
	fmt.Fprintf(b, "    Tracked: %t (age: %d)\n", p.IsTracked, p.TrackingAge)
	fmt.Fprintf(b, "    Has 2D pose: %t, 3D pose: %t, classification: %t\n",
		p.Has2DPose, p.Has3DPose, p.HasClassification)

	if !p.HasClassification {
		return
	}
	b.WriteString("    Pose scores:\n")
	for j, score := range p.PoseScores {
		if score > significantScore {
			fmt.Fprintf(b, "      %s: %.3f\n", model.PoseClass(j), score) //nolint:gosec // j < NumPoseClasses
		}
	}
}

func writeJoints(b *strings.Builder, p *model.PersonDetection) {
	b.WriteString("    2D Joints:\n")
	for i, j := range p.Joints2D {
		if j.Visible && j.Confidence > jointMinConf {
			fmt.Fprintf(b, "      %s: (%.1f, %.1f) conf: %.3f\n", model.JointNames[i], j.X, j.Y, j.Confidence)
		}
	}
	b.WriteString("    3D Joints:\n")
	for i, j := range p.Joints3D {
		if j.Visible && j.Confidence > jointMinConf {
			fmt.Fprintf(b, "      %s: (%.3f, %.3f, %.3f) conf: %.3f\n", model.JointNames[i], j.X, j.Y, j.Z, j.Confidence)
		}
	}
}
