package vm

// ---------------------------------------------------------------------------
// OperandStack
// ---------------------------------------------------------------------------

// OperandStack is the per-invocation value stack. It grows on demand up to
// limit; a zero limit means unbounded.
type OperandStack struct {
	vals  []Value
	limit int
}

// NewOperandStack creates a stack with room for capacity values.
func NewOperandStack(capacity, limit int) *OperandStack {
	return &OperandStack{vals: make([]Value, 0, capacity), limit: limit}
}

// Depth returns the number of values on the stack.
func (s *OperandStack) Depth() int { return len(s.vals) }

// Grow appends n Undefined slots.
func (s *OperandStack) Grow(n int) error {
	if s.limit > 0 && len(s.vals)+n > s.limit {
		return faultf(FaultOverflow, "operand stack exceeds %d values", s.limit)
	}
	for range n {
		s.vals = append(s.vals, Undefined)
	}
	return nil
}

// Drop removes the top n values.
func (s *OperandStack) Drop(n int) error {
	if n > len(s.vals) {
		return faultf(FaultUnderflow, "drop %d with depth %d", n, len(s.vals))
	}
	clear(s.vals[len(s.vals)-n:])
	s.vals = s.vals[:len(s.vals)-n]
	return nil
}

// Top returns a reference to the value k slots below the top; k=0 is the top.
func (s *OperandStack) Top(k int) (*Value, error) {
	if k < 0 || k >= len(s.vals) {
		return nil, faultf(FaultUnderflow, "top(%d) with depth %d", k, len(s.vals))
	}
	return &s.vals[len(s.vals)-1-k], nil
}

// Push appends v.
func (s *OperandStack) Push(v Value) error {
	if s.limit > 0 && len(s.vals) >= s.limit {
		return faultf(FaultOverflow, "operand stack exceeds %d values", s.limit)
	}
	s.vals = append(s.vals, v)
	return nil
}

// Pop removes and returns the top value.
func (s *OperandStack) Pop() (Value, error) {
	if len(s.vals) == 0 {
		return Undefined, faultf(FaultUnderflow, "pop from empty stack")
	}
	v := s.vals[len(s.vals)-1]
	s.vals[len(s.vals)-1] = Value{}
	s.vals = s.vals[:len(s.vals)-1]
	return v, nil
}

// PopN removes the top n values and returns them bottom-first. The returned
// slice is a copy.
func (s *OperandStack) PopN(n int) ([]Value, error) {
	if n > len(s.vals) {
		return nil, faultf(FaultUnderflow, "pop %d with depth %d", n, len(s.vals))
	}
	out := make([]Value, n)
	copy(out, s.vals[len(s.vals)-n:])
	return out, s.Drop(n)
}

// Clear empties the stack, as entering an exception handler does.
func (s *OperandStack) Clear() {
	clear(s.vals)
	s.vals = s.vals[:0]
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Frame is the fixed-size register file of one invocation. Register 0 holds
// the receiver, registers 1..n the declared parameters.
type Frame struct {
	regs []Value
}

// NewFrame creates a frame of size registers, all Undefined.
func NewFrame(size int) *Frame {
	return &Frame{regs: make([]Value, size)}
}

// Size returns the number of registers.
func (f *Frame) Size() int { return len(f.regs) }

// Value returns a reference to register i.
func (f *Frame) Value(i uint32) (*Value, error) {
	if int(i) >= len(f.regs) {
		return nil, faultf(FaultRegister, "register %d outside frame of %d", i, len(f.regs))
	}
	return &f.regs[i], nil
}

// Kill resets register i to Undefined.
func (f *Frame) Kill(i uint32) error {
	r, err := f.Value(i)
	if err != nil {
		return err
	}
	*r = Undefined
	return nil
}
