package shm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
)

// AttachFunc maps the segment identified by key and returns its bytes and a detach hook.
type AttachFunc func(key int) (data []byte, detach func() error, err error)

// Reader attaches read-only to the detection segment and decodes snapshots from it.
// It never locks against the writer; torn reads surface as decode errors.
type Reader struct {
	key        int
	layout     Layout
	thumbnails bool
	logger     logger.Logger
	attach     AttachFunc

	mu     sync.Mutex
	data   []byte
	src    *bytes.Reader
	detach func() error
}

// NewReader creates a reader for the default key and layout adjusted by opts.
func NewReader(opts ...Option) *Reader {
	r := &Reader{
		key:    DefaultKey,
		layout: DefaultLayout(),
		attach: attachSysV,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = logger.Get().Named("shm")
	}

	return r
}

// Connect attaches to an existing segment. A missing segment is reported as
// ErrSegmentNotFound; the caller decides whether that is fatal.
func (r *Reader) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data != nil {
		return nil
	}

	data, detach, err := r.attach(r.key)
	if err != nil {
		if errors.Is(err, ErrSegmentNotFound) {
			r.logger.Error(ctx, "shared memory segment not found; is the pose pipeline running?",
				logger.Int("key", r.key))
		}
		return err
	}

	if len(data) < r.layout.Size() {
		if detach != nil {
			_ = detach()
		}
		return fmt.Errorf("%w: %d bytes, need %d", ErrSegmentTooSmall, len(data), r.layout.Size())
	}

	r.data = data
	r.src = bytes.NewReader(data)
	r.detach = detach

	r.logger.Info(ctx, "attached to shared memory",
		logger.Int("key", r.key),
		logger.Int("size", len(data)),
		logger.Bool("thumbnails", r.thumbnails))
	return nil
}

// ReadSnapshot decodes the current contents of the segment into a private copy.
func (r *Reader) ReadSnapshot(ctx context.Context) (*model.FrameSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	src := r.src
	r.mu.Unlock()

	if src == nil {
		return nil, ErrNotConnected
	}
	return Decode(src, r.layout, DecodeOptions{Thumbnail: r.thumbnails})
}

// Connected reports whether the reader is attached.
func (r *Reader) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data != nil
}

// Layout returns the layout the reader decodes with.
func (r *Reader) Layout() Layout { return r.layout }

// Close detaches from the segment. It is safe to call more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return nil
	}
	detach := r.detach
	r.data, r.src, r.detach = nil, nil, nil

	if detach == nil {
		return nil
	}
	if err := detach(); err != nil {
		return fmt.Errorf("detach shared memory: %w", err)
	}
	return nil
}
