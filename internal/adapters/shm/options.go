package shm

import "github.com/okian/posebridge/pkg/logger"

// Option applies a configuration option to the Reader.
type Option func(*Reader)

// WithKey sets the SysV key to attach to.
func WithKey(key int) Option {
	return func(r *Reader) {
		r.key = key
	}
}

// WithLayout overrides the segment layout.
func WithLayout(l Layout) Option {
	return func(r *Reader) {
		if l.valid() {
			r.layout = l
		}
	}
}

// WithThumbnails enables copying the latest thumbnail slot on every read.
func WithThumbnails(enabled bool) Option {
	return func(r *Reader) {
		r.thumbnails = enabled
	}
}

// WithLogger sets the reader's logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAttach replaces the SysV attach, e.g. with a file-backed or in-memory segment.
func WithAttach(fn AttachFunc) Option {
	return func(r *Reader) {
		if fn != nil {
			r.attach = fn
		}
	}
}
