package vm

// ScopeEntry is one scope object plus whether it was pushed by pushwith.
type ScopeEntry struct {
	Object *Object
	With   bool
}

// ScopeStack holds the scopes pushed by the running method. The captured
// outer chain a closure was created under is kept separately (outer) and is
// never popped.
//
// base marks the first scope this invocation pushed. It is set by the first
// push and cleared when that entry is popped again, so a balanced sequence of
// pushes and pops always leaves it where it started.
type ScopeStack struct {
	outer   []ScopeEntry
	entries []ScopeEntry
	base    int
	limit   int
}

// NewScopeStack creates a scope stack over a captured outer chain. A zero
// limit means unbounded.
func NewScopeStack(outer []ScopeEntry, limit int) *ScopeStack {
	return &ScopeStack{outer: outer, base: -1, limit: limit}
}

// Depth returns the number of locally pushed scopes.
func (s *ScopeStack) Depth() int { return len(s.entries) }

// Base returns the base index, or -1 when unset.
func (s *ScopeStack) Base() int { return s.base }

// Push appends a scope.
func (s *ScopeStack) Push(obj *Object, with bool) error {
	if s.limit > 0 && len(s.entries) >= s.limit {
		return faultf(FaultOverflow, "scope stack exceeds %d entries", s.limit)
	}
	s.entries = append(s.entries, ScopeEntry{Object: obj, With: with})
	if s.base < 0 {
		s.base = len(s.entries) - 1
	}
	return nil
}

// Pop removes the top scope.
func (s *ScopeStack) Pop() error {
	if len(s.entries) == 0 {
		return faultf(FaultUnderflow, "popscope with empty scope stack")
	}
	s.entries[len(s.entries)-1] = ScopeEntry{}
	s.entries = s.entries[:len(s.entries)-1]
	if len(s.entries) <= s.base {
		s.base = -1
	}
	return nil
}

// Truncate pops scopes until depth entries remain.
func (s *ScopeStack) Truncate(depth int) error {
	if depth > len(s.entries) {
		return faultf(FaultUnderflow, "handler scope depth %d above current depth %d", depth, len(s.entries))
	}
	for len(s.entries) > depth {
		if err := s.Pop(); err != nil {
			return err
		}
	}
	return nil
}

// Current returns the top local scope, or nil.
func (s *ScopeStack) Current() *Object {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[len(s.entries)-1].Object
}

// BaseScope returns the base scope, or nil when no base is set.
func (s *ScopeStack) BaseScope() *Object {
	if s.base < 0 {
		return nil
	}
	return s.entries[s.base].Object
}

// At returns local scope i counted from the bottom.
func (s *ScopeStack) At(i int) (*Object, error) {
	if i < 0 || i >= len(s.entries) {
		return nil, faultf(FaultRegister, "scope index %d outside depth %d", i, len(s.entries))
	}
	return s.entries[i].Object, nil
}

// Global returns the outermost scope: the first captured entry, else the
// first local one.
func (s *ScopeStack) Global() *Object {
	if len(s.outer) > 0 {
		return s.outer[0].Object
	}
	if len(s.entries) > 0 {
		return s.entries[0].Object
	}
	return nil
}

// Walk yields every scope from the innermost local entry down to the
// outermost captured one.
func (s *ScopeStack) Walk(yield func(ScopeEntry) bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !yield(s.entries[i]) {
			return
		}
	}
	for i := len(s.outer) - 1; i >= 0; i-- {
		if !yield(s.outer[i]) {
			return
		}
	}
}

// Capture snapshots the full chain for a closure or class created here.
func (s *ScopeStack) Capture() []ScopeEntry {
	out := make([]ScopeEntry, 0, len(s.outer)+len(s.entries))
	out = append(out, s.outer...)
	return append(out, s.entries...)
}
