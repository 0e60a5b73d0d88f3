package shm

import "errors"

// Sentinel error kinds for shared memory access.
var (
	ErrSegmentNotFound   = errors.New("shared memory segment not found")
	ErrSegmentTooSmall   = errors.New("shared memory segment smaller than layout")
	ErrNotConnected      = errors.New("shared memory reader not connected")
	ErrDecode            = errors.New("shared memory decode failed")
	ErrImplausibleRecord = errors.New("implausible shared memory record")
	ErrUnsupported       = errors.New("shared memory not supported on this platform")
)
