// Package testframes produces synthetic pose frames and a stand-in detection
// service so the bridge can be exercised without the inference pipeline.
package testframes

import (
	"math/rand/v2"
	"time"

	"github.com/okian/posebridge/internal/adapters/shm"
	"github.com/okian/posebridge/internal/domain/model"
)

// Constants for synthetic motion.
const (
	bboxWidth     = 180
	bboxHeight    = 420
	walkStep      = 6
	jointConf     = 0.85
	trackedAfter  = 3
	dominantScore = 0.7
)

type actor struct {
	id    uint32
	x, y  float32
	dx    float32
	class model.PoseClass
	held  int
	age   uint32
}

// Generator produces a deterministic stream of frames for a fixed cast of persons.
type Generator struct {
	cfg    *Config
	layout shm.Layout
	rng    *rand.Rand
	actors []*actor

	seq        uint32
	frame      uint32
	thumbIndex uint32
	totalFrame uint64
	totalSeen  uint32
}

// NewGenerator creates a generator for cfg. Persons beyond the layout capacity are dropped.
func NewGenerator(cfg *Config, layout shm.Layout) *Generator {
	g := &Generator{
		cfg:    cfg,
		layout: layout,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)), //nolint:gosec // synthetic data
	}

	n := min(cfg.Persons, layout.MaxPersons)
	for i := 0; i < n; i++ {
		g.actors = append(g.actors, &actor{
			id:    uint32(i + 1), //nolint:gosec // bounded by MaxPersons
			x:     float32(g.rng.IntN(max(int(cfg.FrameWidth)-bboxWidth, 1))),
			y:     float32(g.rng.IntN(max(int(cfg.FrameHeight)-bboxHeight, 1))),
			dx:    walkStep,
			class: model.PoseClass(g.rng.IntN(model.NumPoseClasses)), //nolint:gosec // < NumPoseClasses
		})
	}
	return g
}

// Next advances the cast by one frame and returns it.
func (g *Generator) Next(now time.Time) *model.FrameSnapshot {
	g.seq++
	g.frame++
	g.totalFrame++

	ts := uint64(now.UnixMicro()) //nolint:gosec // current epoch is positive
	snap := &model.FrameSnapshot{
		TimestampUS:    ts,
		FrameNumber:    g.frame,
		SequenceID:     g.seq,
		PipelineActive: true,
		FPS:            uint32(g.cfg.FPS),
		FrameWidth:     g.cfg.FrameWidth,
		FrameHeight:    g.cfg.FrameHeight,
		Persons:        make([]model.PersonDetection, 0, len(g.actors)),
	}

	for _, a := range g.actors {
		g.step(a)
		snap.Persons = append(snap.Persons, g.detection(a, ts))
	}
	g.totalSeen += uint32(len(g.actors)) //nolint:gosec // bounded by MaxPersons
	snap.TotalFramesProcessed = g.totalFrame
	snap.TotalPersonsDetected = g.totalSeen

	if g.cfg.Thumbnails && g.layout.ThumbnailSlots > 0 {
		// The index names the next slot to be written; the frame's thumbnail
		// lands in the slot before it.
		g.thumbIndex = (g.thumbIndex + 1) % uint32(g.layout.ThumbnailSlots) //nolint:gosec // small ring
		snap.ThumbnailIndex = g.thumbIndex
		snap.Thumbnail = g.thumbnail()
		snap.HasThumbnail = snap.Thumbnail != nil
	}
	return snap
}

func (g *Generator) step(a *actor) {
	a.age++
	a.held++
	if g.cfg.PoseHold > 0 && a.held >= g.cfg.PoseHold {
		a.held = 0
		a.class = model.PoseClass(g.rng.IntN(model.NumPoseClasses)) //nolint:gosec // < NumPoseClasses
	}
	if a.class != model.Walking {
		return
	}
	a.x += a.dx
	if a.x < 0 || a.x > float32(g.cfg.FrameWidth)-bboxWidth {
		a.dx = -a.dx
		a.x += 2 * a.dx
	}
}

func (g *Generator) detection(a *actor, ts uint64) model.PersonDetection {
	d := model.PersonDetection{
		PersonID:    a.id,
		TimestampUS: ts,
		FrameNumber: g.frame,
		BBox: model.BoundingBox{
			Left: a.x, Top: a.y, Width: bboxWidth, Height: bboxHeight,
			Confidence: 0.8 + 0.2*g.rng.Float32(),
		},
		PoseClass:         a.class,
		PoseConfidence:    dominantScore + 0.3*g.rng.Float32(),
		IsTracked:         a.age >= trackedAfter,
		TrackingAge:       a.age,
		Has2DPose:         true,
		Has3DPose:         true,
		HasClassification: true,
	}

	rest := (1 - d.PoseConfidence) / (model.NumPoseClasses - 1)
	for c := range d.PoseScores {
		d.PoseScores[c] = rest
	}
	d.PoseScores[a.class] = d.PoseConfidence

	for j := range d.Joints2D {
		fx := float32(j%6) / 5
		fy := float32(j) / model.MaxJoints
		d.Joints2D[j] = model.Joint2D{
			X: a.x + fx*bboxWidth, Y: a.y + fy*bboxHeight,
			Confidence: jointConf, Visible: true,
		}
		d.Joints3D[j] = model.Joint3D{
			X: fx - 0.5, Y: 1 - fy, Z: 2.5,
			Confidence: jointConf, Visible: true,
		}
	}
	return d
}

// thumbnail renders a small packed-RGB gradient that fits one ring slot.
func (g *Generator) thumbnail() *model.Thumbnail {
	w, h := 64, 48
	for w*h*3 > g.layout.ThumbnailMaxBytes && w > 1 {
		w, h = w/2, max(h/2, 1)
	}
	if w*h*3 > g.layout.ThumbnailMaxBytes {
		return nil
	}

	data := make([]byte, w*h*3)
	shade := byte(g.frame)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			data[i] = byte(x * 255 / max(w-1, 1))
			data[i+1] = byte(y * 255 / max(h-1, 1))
			data[i+2] = shade
		}
	}
	return &model.Thumbnail{Width: w, Height: h, Data: data}
}
