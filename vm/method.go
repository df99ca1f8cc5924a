package vm

// NativeFunc implements a builtin method in Go. this is the receiver as
// passed by the caller, which may be a primitive.
type NativeFunc func(in *Interpreter, this Value, args []Value) (Value, error)

// Method is executable code: either a bytecode body from a unit or a native
// function.
type Method struct {
	Name     string
	Unit     *Unit
	Index    uint32
	Info     *MethodInfo
	Body     *MethodBody
	Native   NativeFunc
	Declarer *Class
	DispID   uint32 // 1-based method trait id, 0 when unassigned

	// scope is the chain the method runs under when invoked through a
	// binding rather than a closure.
	scope []ScopeEntry
}

// NativeMethod wraps a Go function as a method.
func NativeMethod(name string, fn NativeFunc) *Method {
	return &Method{Name: name, Native: fn}
}

// newMethod builds the method for index m of unit u.
func newMethod(u *Unit, m uint32, declarer *Class) (*Method, error) {
	info, err := u.Pool.Method(m)
	if err != nil {
		return nil, err
	}
	body, ok := u.Body(m)
	if !ok {
		return nil, faultf(FaultMalformed, "method %d (%s) has no body", m, u.MethodName(m))
	}
	name := u.MethodName(m)
	if declarer != nil {
		name = declarer.Name.Local + "/" + name
	}
	return &Method{Name: name, Unit: u, Index: m, Info: info, Body: body, Declarer: declarer}, nil
}

// scopeChain returns the chain the method runs under when called through a
// trait binding.
func (m *Method) scopeChain() []ScopeEntry {
	if m.Declarer != nil && m.Declarer.Scope != nil {
		return m.Declarer.Scope
	}
	return m.scope
}

func (m *Method) String() string {
	if m == nil {
		return "<nil method>"
	}
	return m.Name
}

// Function is a closure: a method plus the scope chain it was created in.
// Method closures taken from an object carry their receiver in This.
type Function struct {
	Method *Method
	Scope  []ScopeEntry
	This   Value
	Bound  bool
}
