//go:build !linux

package shm

func attachSysV(int) ([]byte, func() error, error) {
	return nil, nil, ErrUnsupported
}

// Segment is a writable SysV segment created for a synthetic writer.
type Segment struct{}

// CreateSegment is only available on linux.
func CreateSegment(int, Layout, bool) (*Segment, error) {
	return nil, ErrUnsupported
}

// Bytes exposes the mapped segment.
func (s *Segment) Bytes() []byte { return nil }

// Close is a no-op on unsupported platforms.
func (s *Segment) Close() error { return nil }
