package shm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// cursor reads little-endian fields at offsets relative to base. The first
// out-of-range access is remembered in err and every later read returns zero.
type cursor struct {
	buf  []byte
	base int
	err  error
}

func (c *cursor) at(base int) *cursor {
	return &cursor{buf: c.buf, base: base, err: c.err}
}

func (c *cursor) field(off, n int) []byte {
	if c.err != nil {
		return nil
	}
	start := c.base + off
	if off < 0 || start < 0 || start+n > len(c.buf) {
		c.err = fmt.Errorf("%w: %d bytes at offset %d exceed buffer of %d", ErrDecode, n, start, len(c.buf))
		return nil
	}
	return c.buf[start : start+n]
}

func (c *cursor) u8(off int) uint8 {
	if b := c.field(off, 1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) boolean(off int) bool { return c.u8(off) != 0 }

func (c *cursor) u32(off int) uint32 {
	if b := c.field(off, 4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64(off int) uint64 {
	if b := c.field(off, 8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) f32(off int) float32 { return math.Float32frombits(c.u32(off)) }

// putter is the writing counterpart of cursor.
type putter struct {
	buf  []byte
	base int
	err  error
}

func (p *putter) field(off, n int) []byte {
	if p.err != nil {
		return nil
	}
	start := p.base + off
	if off < 0 || start < 0 || start+n > len(p.buf) {
		p.err = fmt.Errorf("shm encode: %d bytes at offset %d exceed buffer of %d", n, start, len(p.buf))
		return nil
	}
	return p.buf[start : start+n]
}

func (p *putter) u8(off int, v uint8) {
	if b := p.field(off, 1); b != nil {
		b[0] = v
	}
}

func (p *putter) boolean(off int, v bool) {
	if v {
		p.u8(off, 1)
		return
	}
	p.u8(off, 0)
}

func (p *putter) u32(off int, v uint32) {
	if b := p.field(off, 4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (p *putter) u64(off int, v uint64) {
	if b := p.field(off, 8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (p *putter) f32(off int, v float32) { p.u32(off, math.Float32bits(v)) }
