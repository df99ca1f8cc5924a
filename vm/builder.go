package vm

import (
	"fmt"

	"github.com/ccoveille/go-safecast"
)

// ---------------------------------------------------------------------------
// BytecodeBuilder: emits method body code
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles instruction bytes with label patching. The
// assembler in package unit and the tests use it to produce method bodies.
type BytecodeBuilder struct {
	bytes []byte
	err   error
}

// NewBytecodeBuilder creates an empty builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the assembled code, or the first encoding error.
func (b *BytecodeBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.bytes, nil
}

// MustBytes is Bytes for code known to be well formed, such as test fixtures.
func (b *BytecodeBuilder) MustBytes() []byte {
	code, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return code
}

// Len returns the current code length, the offset of the next instruction.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

func (b *BytecodeBuilder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// Emit emits an instruction without operands.
func (b *BytecodeBuilder) Emit(op Opcode) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	return b
}

// EmitRaw appends raw bytes, for malformed-code tests and debug payloads.
func (b *BytecodeBuilder) EmitRaw(data ...byte) *BytecodeBuilder {
	b.bytes = append(b.bytes, data...)
	return b
}

// EmitU8 emits an instruction with a single byte operand.
func (b *BytecodeBuilder) EmitU8(op Opcode, operand uint8) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), operand)
	return b
}

// EmitS8 emits an instruction with a signed byte operand (pushbyte).
func (b *BytecodeBuilder) EmitS8(op Opcode, operand int8) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), byte(operand))
	return b
}

// EmitU30 emits an instruction with one u30 operand.
func (b *BytecodeBuilder) EmitU30(op Opcode, operand uint32) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	b.appendU30(operand)
	return b
}

// EmitU30U30 emits an instruction with two u30 operands, e.g. callproperty
// index and argc.
func (b *BytecodeBuilder) EmitU30U30(op Opcode, first, second uint32) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	b.appendU30(first)
	b.appendU30(second)
	return b
}

// EmitPushShort emits pushshort. The operand travels as the u30 encoding of
// its 16-bit pattern.
func (b *BytecodeBuilder) EmitPushShort(v int16) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpPushShort))
	b.appendU30(uint32(uint16(v)))
	return b
}

// EmitDebug emits a debug instruction.
func (b *BytecodeBuilder) EmitDebug(kind uint8, name uint32, reg uint8, extra uint32) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpDebug), kind)
	b.appendU30(name)
	b.bytes = append(b.bytes, reg)
	b.appendU30(extra)
	return b
}

func (b *BytecodeBuilder) appendU30(v uint32) {
	if v>>30 != 0 {
		b.fail("u30 operand %d out of range", v)
	}
	b.bytes = AppendU32(b.bytes, v)
}

// AppendU32 appends the variable-length encoding of v.
func AppendU32(dst []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

func (b *BytecodeBuilder) putS24(at int, offset int) {
	v, err := safecast.Convert[int32](offset)
	if err != nil || v < -(1<<23) || v >= 1<<23 {
		b.fail("branch offset %d does not fit s24", offset)
		return
	}
	b.bytes[at] = byte(v)
	b.bytes[at+1] = byte(v >> 8)
	b.bytes[at+2] = byte(v >> 16)
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// labelRef is one operand waiting for a label. base is the offset the branch
// is relative to.
type labelRef struct {
	at   int
	base int
}

// Label represents a branch target, possibly not yet placed.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position and patches every pending
// reference to it.
func (b *BytecodeBuilder) Mark(label *Label) *BytecodeBuilder {
	if label.resolved {
		b.fail("label already resolved at %d", label.position)
		return b
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		b.putS24(ref.at, label.position-ref.base)
	}
	label.refs = nil
	return b
}

func (b *BytecodeBuilder) refer(label *Label, base int) {
	at := len(b.bytes)
	b.bytes = append(b.bytes, 0, 0, 0)
	if label.resolved {
		b.putS24(at, label.position-base)
		return
	}
	label.refs = append(label.refs, labelRef{at: at, base: base})
}

// EmitJump emits a jump or conditional branch to label. The offset is
// relative to the end of the instruction.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	b.refer(label, len(b.bytes)+3)
	return b
}

// EmitBranch emits a branch with a literal offset.
func (b *BytecodeBuilder) EmitBranch(op Opcode, offset int) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), 0, 0, 0)
	b.putS24(len(b.bytes)-3, offset)
	return b
}

// EmitLookupSwitch emits a lookupswitch. Its offsets are relative to the
// first byte of the instruction itself, unlike plain jumps.
func (b *BytecodeBuilder) EmitLookupSwitch(def *Label, cases ...*Label) *BytecodeBuilder {
	if len(cases) == 0 {
		b.fail("lookupswitch needs at least one case")
		return b
	}
	base := len(b.bytes)
	b.bytes = append(b.bytes, byte(OpLookupSwitch))
	b.refer(def, base)
	n, err := safecast.Convert[uint32](len(cases) - 1)
	if err != nil {
		b.fail("lookupswitch case count: %v", err)
		return b
	}
	b.appendU30(n)
	for _, c := range cases {
		b.refer(c, base)
	}
	return b
}

// Pending reports whether any label still has unpatched references.
func (l *Label) Pending() bool {
	return !l.resolved && len(l.refs) > 0
}

// Position returns the offset a label was marked at.
func (l *Label) Position() (int, bool) {
	return l.position, l.resolved
}
