package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Faults: malformed units and exhausted budgets
// ---------------------------------------------------------------------------

// FaultCode classifies a Fault.
type FaultCode uint8

const (
	FaultMalformed FaultCode = iota + 1
	FaultBadOpcode
	FaultPoolIndex
	FaultUnderflow
	FaultOverflow
	FaultBranch
	FaultRegister
	FaultTruncated
	FaultLimit
)

var faultNames = map[FaultCode]string{
	FaultMalformed: "malformed",
	FaultBadOpcode: "bad opcode",
	FaultPoolIndex: "pool index",
	FaultUnderflow: "stack underflow",
	FaultOverflow:  "overflow",
	FaultBranch:    "branch target",
	FaultRegister:  "register index",
	FaultTruncated: "truncated",
	FaultLimit:     "execution limit",
}

func (c FaultCode) String() string {
	if s, ok := faultNames[c]; ok {
		return s
	}
	return fmt.Sprintf("fault(%d)", uint8(c))
}

// Fault reports bytecode the interpreter refuses to execute, or an exhausted
// execution budget. Faults are never catchable by script handlers; they
// abort the whole top-level invocation.
type Fault struct {
	Code   FaultCode
	Msg    string
	Method string // method name, when known
	Offset int    // instruction offset, -1 when unknown
}

func (f *Fault) Error() string {
	switch {
	case f.Method != "" && f.Offset >= 0:
		return fmt.Sprintf("%s fault in %s at %04d: %s", f.Code, f.Method, f.Offset, f.Msg)
	case f.Offset >= 0:
		return fmt.Sprintf("%s fault at %04d: %s", f.Code, f.Offset, f.Msg)
	default:
		return fmt.Sprintf("%s fault: %s", f.Code, f.Msg)
	}
}

func faultf(code FaultCode, format string, args ...any) *Fault {
	return &Fault{Code: code, Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// IsFault reports whether err is or wraps a Fault with the given code. A zero
// code matches any fault.
func IsFault(err error, code FaultCode) bool {
	var f *Fault
	if !errors.As(err, &f) {
		return false
	}
	return code == 0 || f.Code == code
}

// ---------------------------------------------------------------------------
// Script exceptions
// ---------------------------------------------------------------------------

// ErrorKind names one of the builtin error classes the interpreter raises.
type ErrorKind string

const (
	KindError          ErrorKind = "Error"
	KindTypeError      ErrorKind = "TypeError"
	KindReferenceError ErrorKind = "ReferenceError"
	KindRangeError     ErrorKind = "RangeError"
	KindArgumentError  ErrorKind = "ArgumentError"
	KindVerifyError    ErrorKind = "VerifyError"
	KindEvalError      ErrorKind = "EvalError"
	KindURIError       ErrorKind = "URIError"
	KindSecurityError  ErrorKind = "SecurityError"
)

var errorKinds = []ErrorKind{
	KindError, KindTypeError, KindReferenceError, KindRangeError, KindArgumentError,
	KindVerifyError, KindEvalError, KindURIError, KindSecurityError,
}

// thrown carries a script exception through Go returns while the dispatch
// loop unwinds. It never escapes the package; top-level entry points turn it
// into a ScriptError.
type thrown struct {
	value  Value
	origin int
	line   int
	method string
}

func (t *thrown) Error() string {
	return "uncaught exception: " + describeException(t.value)
}

// ScriptError is an exception that no handler caught.
type ScriptError struct {
	Value   Value
	Class   string // class name of the thrown object, or the primitive kind
	Message string
	Offset  int // offset of the throwing instruction in the outermost method
	Line    int // last debugline seen, 0 when unknown
	Method  string
}

// Kind returns the class name of the thrown value, e.g. "ReferenceError".
func (e *ScriptError) Kind() string { return e.Class }

func (e *ScriptError) Error() string {
	where := ""
	if e.Method != "" {
		where = " in " + e.Method
	}
	if e.Line > 0 {
		where += fmt.Sprintf(" (line %d)", e.Line)
	}
	if e.Message == "" {
		return fmt.Sprintf("uncaught %s%s at %04d", e.Class, where, e.Offset)
	}
	return fmt.Sprintf("uncaught %s%s at %04d: %s", e.Class, where, e.Offset, e.Message)
}

func newScriptError(t *thrown, method string) *ScriptError {
	se := &ScriptError{
		Value:  t.value,
		Class:  exceptionClassName(t.value),
		Offset: t.origin,
		Line:   t.line,
		Method: method,
	}
	if o := t.value.AsObject(); o != nil {
		if msg, ok := o.Get("message"); ok {
			se.Message = ToString(msg)
		}
	} else {
		se.Message = ToString(t.value)
	}
	return se
}

func exceptionClassName(v Value) string {
	if o := v.AsObject(); o != nil && o.class != nil {
		return o.class.Name.Local
	}
	return v.Kind().String()
}

func describeException(v Value) string {
	if o := v.AsObject(); o != nil {
		if msg, ok := o.Get("message"); ok {
			return exceptionClassName(v) + ": " + ToString(msg)
		}
	}
	return exceptionClassName(v)
}

// throwValue wraps an arbitrary script value as a propagating exception.
func throwValue(v Value) error {
	return &thrown{value: v, origin: -1}
}

// throwError constructs an instance of a builtin error class and wraps it as
// a propagating exception.
func (in *Interpreter) throwError(kind ErrorKind, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return throwValue(ObjectValue(in.domain.newError(kind, msg)))
}

// asThrown maps any error returned by a nested operation into the exception
// the dispatch loop can catch. Faults pass through untouched. Uncaught
// exceptions from a re-entrant top-level call keep their original value.
// Everything else came from the host and surfaces as a ReferenceError.
func (in *Interpreter) asThrown(err error) error {
	if err == nil {
		return nil
	}
	var t *thrown
	if errors.As(err, &t) {
		return t
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return throwValue(se.Value)
	}
	return in.throwError(KindReferenceError, "%v", err)
}

// ---------------------------------------------------------------------------
// Handler search
// ---------------------------------------------------------------------------

// findHandler returns the first exception-table entry covering pc whose type
// matches the exception value.
func (inv *invocation) findHandler(pc int, exc Value) (*ExceptionInfo, error) {
	for i := range inv.body.Exceptions {
		h := &inv.body.Exceptions[i]
		if pc < int(h.From) || pc >= int(h.To) {
			continue
		}
		if h.ExcType == 0 {
			return h, nil
		}
		q, err := inv.pool.QName(h.ExcType)
		if err != nil {
			return nil, err
		}
		c, ok := inv.in.domain.ClassByName(q)
		if !ok {
			// Handlers for classes the domain never defined cannot match.
			continue
		}
		if inv.in.isType(exc, c) {
			return h, nil
		}
	}
	return nil, nil
}
