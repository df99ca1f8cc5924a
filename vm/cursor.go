package vm

import (
	"github.com/ccoveille/go-safecast"
)

// Cursor is a positioned reader over one method body's code. All position
// arithmetic for branches lives here.
type Cursor struct {
	code []byte
	pos  int
}

// NewCursor creates a cursor at offset 0.
func NewCursor(code []byte) *Cursor {
	return &Cursor{code: code}
}

// Tell returns the current offset.
func (c *Cursor) Tell() int { return c.pos }

// Len returns the length of the code.
func (c *Cursor) Len() int { return len(c.code) }

// AtEnd reports whether the cursor sits exactly at the end of the code.
func (c *Cursor) AtEnd() bool { return c.pos >= len(c.code) }

// Seek moves to an absolute offset. The end of the code is a valid target;
// anything outside [0, len] is not.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.code) {
		return faultf(FaultBranch, "target %d outside body (0..%d)", pos, len(c.code))
	}
	c.pos = pos
	return nil
}

// Branch moves by offset relative to the current position, which for a jump
// is the first byte after its operand.
func (c *Cursor) Branch(offset int32) error {
	return c.Seek(c.pos + int(offset))
}

func (c *Cursor) need(n int, what string) error {
	if c.pos+n > len(c.code) {
		return faultf(FaultTruncated, "reading %s at %d past end of body (%d bytes)", what, c.pos, len(c.code))
	}
	return nil
}

// ReadOpcode reads one instruction byte.
func (c *Cursor) ReadOpcode() (Opcode, error) {
	b, err := c.ReadU8()
	return Opcode(b), err
}

// ReadU8 reads an unsigned byte.
func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.need(1, "u8"); err != nil {
		return 0, err
	}
	b := c.code[c.pos]
	c.pos++
	return b, nil
}

// ReadS8 reads a signed byte.
func (c *Cursor) ReadS8() (int8, error) {
	b, err := c.ReadU8()
	return int8(b), err
}

// ReadU32 reads a variable-length unsigned integer of at most five bytes.
func (c *Cursor) ReadU32() (uint32, error) {
	var result uint64
	for shift := uint(0); ; shift += 7 {
		if shift >= 35 {
			return 0, faultf(FaultMalformed, "varint at %d longer than 5 bytes", c.pos)
		}
		b, err := c.ReadU8()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
	}
	v, err := safecast.Convert[uint32](result)
	if err != nil {
		return 0, faultf(FaultMalformed, "varint overflows 32 bits: %v", err)
	}
	return v, nil
}

// ReadU30 reads a u30. The encoding is the u32 one; the two high bits must be
// clear.
func (c *Cursor) ReadU30() (uint32, error) {
	v, err := c.ReadU32()
	if err != nil {
		return 0, err
	}
	if v>>30 != 0 {
		return 0, faultf(FaultMalformed, "u30 operand %d out of range", v)
	}
	return v, nil
}

// ReadS32 reads a variable-length signed integer, sign-extended from the
// last encoded bit.
func (c *Cursor) ReadS32() (int32, error) {
	start := c.pos
	v, err := c.ReadU32()
	if err != nil {
		return 0, err
	}
	n := c.pos - start
	if bits := 7 * n; bits < 32 && v&(1<<(bits-1)) != 0 {
		v |= ^uint32(0) << bits
	}
	return int32(v), nil
}

// ReadS24 reads a 3-byte little-endian signed offset.
func (c *Cursor) ReadS24() (int32, error) {
	if err := c.need(3, "s24"); err != nil {
		return 0, err
	}
	b := c.code[c.pos : c.pos+3]
	c.pos += 3
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v, nil
}
