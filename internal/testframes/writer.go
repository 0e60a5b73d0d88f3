package testframes

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/posebridge/internal/adapters/shm"
	"github.com/okian/posebridge/pkg/logger"
)

// Writer encodes generated frames into a byte region laid out like the
// pipeline's shared segment.
type Writer struct {
	dst    []byte
	layout shm.Layout
	gen    *Generator
	stats  WriterStats
}

// NewWriter creates a writer over dst, which must be at least layout.Size() bytes.
func NewWriter(dst []byte, layout shm.Layout, gen *Generator) (*Writer, error) {
	if len(dst) < layout.Size() {
		return nil, fmt.Errorf("%w: %d bytes, need %d", shm.ErrSegmentTooSmall, len(dst), layout.Size())
	}
	return &Writer{dst: dst, layout: layout, gen: gen}, nil
}

// WriteFrame generates the next frame and encodes it.
func (w *Writer) WriteFrame(now time.Time) error {
	snap := w.gen.Next(now)
	if err := shm.Encode(w.dst, w.layout, snap); err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", snap.FrameNumber, err)
	}
	w.stats.FramesWritten++
	w.stats.PersonsWritten += len(snap.Persons)
	return nil
}

// Stats returns the writer statistics.
func (w *Writer) Stats() WriterStats { return w.stats }

// RunWriter creates the segment for config.Key and writes frames at
// config.FPS until ctx is done or config.Frames frames have been written.
func RunWriter(ctx context.Context, config *Config) (WriterStats, error) {
	log := logger.Get().Named("test-frames-writer")
	layout := shm.DefaultLayout()

	seg, err := shm.CreateSegment(config.Key, layout, !config.KeepSegment)
	if err != nil {
		return WriterStats{}, fmt.Errorf("failed to create segment: %w", err)
	}
	defer func() {
		if err := seg.Close(); err != nil {
			log.Warn(ctx, "failed to release segment", logger.Error(err))
		}
	}()

	w, err := NewWriter(seg.Bytes(), layout, NewGenerator(config, layout))
	if err != nil {
		return WriterStats{}, err
	}
	w.stats.StartTime = time.Now()

	log.Info(ctx, "writing synthetic frames",
		logger.Int("key", config.Key),
		logger.Float64("fps", config.FPS),
		logger.Int("persons", config.Persons),
		logger.Bool("thumbnails", config.Thumbnails))

	interval := time.Second
	if config.FPS > 0 {
		interval = time.Duration(float64(time.Second) / config.FPS)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for config.Frames == 0 || w.stats.FramesWritten < config.Frames {
		select {
		case <-ctx.Done():
			w.stats.EndTime = time.Now()
			return w.stats, nil
		case now := <-ticker.C:
			if err := w.WriteFrame(now); err != nil {
				return w.stats, err
			}
			log.Debug(ctx, "frame written", logger.Int("frames", w.stats.FramesWritten))
		}
	}

	w.stats.EndTime = time.Now()
	log.Info(ctx, "writer finished", logger.Int("frames", w.stats.FramesWritten))
	return w.stats, nil
}
