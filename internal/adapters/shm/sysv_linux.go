//go:build linux

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func attachSysV(key int) ([]byte, func() error, error) {
	id, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, nil, fmt.Errorf("%w: key %d", ErrSegmentNotFound, key)
		}
		return nil, nil, fmt.Errorf("shmget key %d: %w", key, err)
	}

	data, err := unix.SysvShmAttach(id, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, nil, fmt.Errorf("shmat id %d: %w", id, err)
	}
	return data, func() error { return unix.SysvShmDetach(data) }, nil
}

// Segment is a writable SysV segment created for a synthetic writer.
type Segment struct {
	id     int
	data   []byte
	remove bool
}

// CreateSegment creates (or opens) the segment for key sized for layout and
// attaches it read-write. When remove is set Close marks it for deletion.
func CreateSegment(key int, layout Layout, remove bool) (*Segment, error) {
	id, err := unix.SysvShmGet(key, layout.Size(), unix.IPC_CREAT|0o666)
	if err != nil {
		return nil, fmt.Errorf("shmget key %d size %d: %w", key, layout.Size(), err)
	}
	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat id %d: %w", id, err)
	}
	if len(data) < layout.Size() {
		_ = unix.SysvShmDetach(data)
		return nil, fmt.Errorf("%w: existing segment has %d bytes, need %d", ErrSegmentTooSmall, len(data), layout.Size())
	}
	return &Segment{id: id, data: data, remove: remove}, nil
}

// Bytes exposes the mapped segment.
func (s *Segment) Bytes() []byte { return s.data }

// Close detaches and, if requested, removes the segment.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.data)
	s.data = nil
	if s.remove {
		if _, rmErr := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}
