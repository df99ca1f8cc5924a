package vm

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("abcvm.vm")

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Options configures an Interpreter.
type Options struct {
	Domain   *Domain   // nil creates a fresh domain
	Limits   Limits    // zero fields are unlimited
	Metrics  *Metrics  // nil disables metrics
	Output   io.Writer // trace() output; nil routes it to the logger
	TraceOps bool      // log every executed instruction at debug level
}

// DefaultOptions returns options with DefaultLimits.
func DefaultOptions() Options {
	return Options{Limits: DefaultLimits}
}

// Interpreter executes method bodies against one domain. It is not safe for
// concurrent use; hosts running several movies create one per movie.
type Interpreter struct {
	domain   *Domain
	limits   Limits
	metrics  *Metrics
	out      io.Writer
	traceOps bool

	budget budget
	depth  int // nested method invocations
	active int // nested top-level entries
}

// NewInterpreter creates an interpreter.
func NewInterpreter(opts Options) *Interpreter {
	d := opts.Domain
	if d == nil {
		d = NewDomain()
	}
	return &Interpreter{
		domain:   d,
		limits:   opts.Limits,
		metrics:  opts.Metrics,
		out:      opts.Output,
		traceOps: opts.TraceOps,
	}
}

// Domain returns the interpreter's domain.
func (in *Interpreter) Domain() *Domain { return in.domain }

// Executed returns the instruction count of the current or last top-level
// invocation.
func (in *Interpreter) Executed() uint64 { return in.budget.count }

func (in *Interpreter) begin(ctx context.Context) {
	if in.active == 0 {
		in.budget.reset(ctx, in.limits)
	}
	in.active++
}

// finish closes a top-level entry: faults raised anywhere below are
// recovered into the error, uncaught exceptions become ScriptErrors.
func (in *Interpreter) finish(err *error) {
	in.active--
	if r := recover(); r != nil {
		f, ok := r.(*Fault)
		if !ok {
			panic(r)
		}
		*err = f
	}
	var t *thrown
	if errors.As(*err, &t) {
		*err = newScriptError(t, t.method)
	}
	if in.active > 0 {
		return
	}
	outcome := OutcomeReturned
	switch {
	case IsFault(*err, 0):
		outcome = OutcomeFault
		log.Errorf("invocation aborted: %v", *err)
	case *err != nil:
		outcome = OutcomeThrown
		log.Debugf("invocation threw: %v", *err)
	}
	if in.metrics != nil {
		in.metrics.finished(outcome, in.budget.count)
	}
}

// Invoke runs one method body of u to completion with the given receiver and
// arguments.
func (in *Interpreter) Invoke(ctx context.Context, u *Unit, body *MethodBody, this Value, args []Value) (result Value, err error) {
	in.begin(ctx)
	defer in.finish(&err)
	if err := in.LoadUnit(u); err != nil {
		return Undefined, err
	}
	info, err := u.Pool.Method(body.Method)
	if err != nil {
		return Undefined, err
	}
	m := &Method{Name: u.MethodName(body.Method), Unit: u, Index: body.Method, Info: info, Body: body}
	return in.invokeMethod(m, nil, this, args)
}

// Call invokes a function or class value, as an event dispatcher does with a
// registered handler.
func (in *Interpreter) Call(ctx context.Context, fn, this Value, args []Value) (result Value, err error) {
	in.begin(ctx)
	defer in.finish(&err)
	return in.callValue(fn, this, args)
}

// Construct instantiates a class or constructor function value.
func (in *Interpreter) Construct(ctx context.Context, ctor Value, args []Value) (result Value, err error) {
	in.begin(ctx)
	defer in.finish(&err)
	return in.construct(ctor, args)
}

// RunScript runs the initializer of script index of u, loading u first. A
// script runs at most once per domain.
func (in *Interpreter) RunScript(ctx context.Context, u *Unit, index int) (result Value, err error) {
	in.begin(ctx)
	defer in.finish(&err)
	if err := in.LoadUnit(u); err != nil {
		return Undefined, err
	}
	scripts := in.domain.scriptsOf(u)
	if index < 0 || index >= len(scripts) {
		return Undefined, errors.Errorf("script index %d out of range (0..%d)", index, len(scripts)-1)
	}
	return in.ensureScript(scripts[index])
}

// Run runs the entry script of u, which is its last one.
func (in *Interpreter) Run(ctx context.Context, u *Unit) (Value, error) {
	return in.RunScript(ctx, u, len(u.Scripts)-1)
}

// trace writes a line produced by the global trace function.
func (in *Interpreter) trace(line string) {
	if in.out != nil {
		fmt.Fprintln(in.out, line)
		return
	}
	log.Infof("trace: %s", line)
}

// ---------------------------------------------------------------------------
// Method invocation
// ---------------------------------------------------------------------------

// State is the state of one invocation's dispatch loop.
type State uint8

const (
	StateRunning State = iota
	StateReturned
	StateThrown
	StateFault
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReturned:
		return "returned"
	case StateThrown:
		return "thrown"
	case StateFault:
		return "fault"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// invocation is the activation record of one bytecode method call. It owns
// its operand stack, frame and scope stack.
type invocation struct {
	in     *Interpreter
	method *Method
	unit   *Unit
	pool   *ConstantPool
	body   *MethodBody
	code   *Cursor
	frame  *Frame
	stack  *OperandStack
	scope  *ScopeStack

	state  State
	result Value
	pc     int
	line   int
	file   string
	dxns   string
}

// callMethod invokes m under the scope chain its binding provides.
func (in *Interpreter) callMethod(m *Method, this Value, args []Value) (Value, error) {
	return in.invokeMethod(m, m.scopeChain(), this, args)
}

func (in *Interpreter) invokeMethod(m *Method, scope []ScopeEntry, this Value, args []Value) (Value, error) {
	if m.Native != nil {
		v, err := m.Native(in, this, args)
		return v, in.asThrown(err)
	}
	if m.Body == nil {
		return Undefined, faultf(FaultMalformed, "method %s has no body", m)
	}
	if in.limits.MaxCallDepth > 0 && in.depth >= in.limits.MaxCallDepth {
		return Undefined, faultf(FaultOverflow, "call depth exceeds %d entering %s", in.limits.MaxCallDepth, m)
	}
	in.depth++
	defer func() { in.depth-- }()

	inv, err := in.newInvocation(m, scope, this, args)
	if err != nil {
		return Undefined, err
	}
	if in.traceOps {
		log.Debugf("enter %s (depth %d, %d args)", m, in.depth, len(args))
	}
	v, err := inv.run()
	if in.traceOps {
		log.Debugf("leave %s: %s", m, inv.state)
	}
	return v, err
}

func (in *Interpreter) newInvocation(m *Method, scope []ScopeEntry, this Value, args []Value) (*invocation, error) {
	info, body := m.Info, m.Body
	nparams := len(info.ParamTypes)
	required := nparams - len(info.Optional)
	variadic := info.Flags&(MethodNeedRest|MethodNeedArguments) != 0
	if len(args) < required || (len(args) > nparams && !variadic) {
		return nil, in.throwError(KindArgumentError, "Argument count mismatch on %s. Expected %d, got %d.", m, nparams, len(args))
	}

	size := 1 + nparams
	if variadic {
		size++
	}
	size = max(size, int(body.LocalCount))
	if limit := in.limits.MaxFrameSize; limit > 0 && size > limit {
		return nil, faultf(FaultOverflow, "%s needs %d registers, limit is %d", m, size, limit)
	}
	frame := NewFrame(size)
	frame.regs[0] = this
	for i := range nparams {
		var v Value
		if i < len(args) {
			v = args[i]
		} else {
			opt := info.Optional[i-required]
			var err error
			if v, err = m.Unit.Pool.Constant(opt.Kind, opt.Index); err != nil {
				return nil, err
			}
		}
		if t := info.ParamTypes[i]; t != 0 {
			c, err := in.resolveType(m.Unit, t)
			if err != nil {
				return nil, err
			}
			if v, err = in.coerce(v, c); err != nil {
				return nil, err
			}
		}
		frame.regs[i+1] = v
	}
	switch {
	case info.Flags&MethodNeedRest != 0:
		var rest []Value
		if len(args) > nparams {
			rest = args[nparams:]
		}
		frame.regs[nparams+1] = ObjectValue(in.domain.NewArray(rest))
	case info.Flags&MethodNeedArguments != 0:
		frame.regs[nparams+1] = ObjectValue(in.domain.NewArray(args))
	}

	return &invocation{
		in:     in,
		method: m,
		unit:   m.Unit,
		pool:   &m.Unit.Pool,
		body:   body,
		code:   NewCursor(body.Code),
		frame:  frame,
		stack:  NewOperandStack(stackCapacity(body.MaxStack, in.limits.MaxStackDepth), in.limits.MaxStackDepth),
		scope:  NewScopeStack(scope, in.limits.MaxScopeDepth),
	}, nil
}

// stackCapacity is the capacity reserved for an operand stack: the declared
// MaxStack, bounded by the depth limit and by stackReserve.
func stackCapacity(declared uint32, limit int) int {
	c := min(int(declared), stackReserve)
	if limit > 0 {
		c = min(c, limit)
	}
	return c
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (inv *invocation) run() (Value, error) {
	in := inv.in
	for {
		if inv.code.AtEnd() {
			// Falling off the end of the body returns void.
			return Undefined, nil
		}
		inv.pc = inv.code.Tell()
		if err := in.budget.tick(); err != nil {
			inv.fail(err)
		}
		op, err := inv.code.ReadOpcode()
		if err != nil {
			inv.fail(err)
		}
		if in.metrics != nil {
			in.metrics.opcode(op)
		}
		if in.traceOps {
			log.Debugf("%s %04d %-14s stack=%d scope=%d", inv.method, inv.pc, op, inv.stack.Depth(), inv.scope.Depth())
		}
		if err := inv.step(op); err != nil {
			if err := inv.handle(err); err != nil {
				return Undefined, err
			}
			continue
		}
		if inv.state == StateReturned {
			return inv.result, nil
		}
	}
}

// handle routes an error raised by an instruction. Faults abort; script
// exceptions go to the first matching handler in this body, or propagate.
func (inv *invocation) handle(err error) error {
	err = inv.in.asThrown(err)
	var t *thrown
	if !errors.As(err, &t) {
		inv.fail(err)
	}
	if t.origin < 0 {
		t.origin, t.line, t.method = inv.pc, inv.line, inv.method.Name
	}
	inv.state = StateThrown
	h, herr := inv.findHandler(inv.pc, t.value)
	if herr != nil {
		inv.fail(herr)
	}
	if h == nil {
		return t
	}
	inv.stack.Clear()
	if err := inv.scope.Truncate(int(h.ScopeDepth)); err != nil {
		inv.fail(err)
	}
	inv.push(t.value)
	inv.seek(int(h.Target))
	inv.state = StateRunning
	if inv.in.metrics != nil {
		inv.in.metrics.caughtException()
	}
	log.Debugf("%s: caught %s at %04d, resuming at %04d", inv.method, describeException(t.value), inv.pc, h.Target)
	return nil
}

// fail aborts the invocation with a fault located at the current
// instruction. It never returns.
func (inv *invocation) fail(err error) {
	inv.state = StateFault
	var f *Fault
	if !errors.As(err, &f) {
		f = &Fault{Code: FaultMalformed, Msg: err.Error(), Offset: -1}
	}
	if f.Offset < 0 {
		f.Offset = inv.pc
	}
	if f.Method == "" {
		f.Method = inv.method.Name
	}
	panic(f)
}

func (inv *invocation) ret(v Value) {
	inv.state = StateReturned
	inv.result = v
}

// ---------------------------------------------------------------------------
// Operand and stack helpers. Malformed bytecode faults immediately.
// ---------------------------------------------------------------------------

func (inv *invocation) u8() uint8 {
	v, err := inv.code.ReadU8()
	if err != nil {
		inv.fail(err)
	}
	return v
}

func (inv *invocation) s8() int8 {
	v, err := inv.code.ReadS8()
	if err != nil {
		inv.fail(err)
	}
	return v
}

func (inv *invocation) u30() uint32 {
	v, err := inv.code.ReadU30()
	if err != nil {
		inv.fail(err)
	}
	return v
}

func (inv *invocation) s24() int32 {
	v, err := inv.code.ReadS24()
	if err != nil {
		inv.fail(err)
	}
	return v
}

func (inv *invocation) jump(offset int32) {
	if err := inv.code.Branch(offset); err != nil {
		inv.fail(err)
	}
}

func (inv *invocation) seek(pos int) {
	if err := inv.code.Seek(pos); err != nil {
		inv.fail(err)
	}
}

func (inv *invocation) push(v Value) {
	if err := inv.stack.Push(v); err != nil {
		inv.fail(err)
	}
}

func (inv *invocation) pop() Value {
	v, err := inv.stack.Pop()
	if err != nil {
		inv.fail(err)
	}
	return v
}

func (inv *invocation) popN(n uint32) []Value {
	vals, err := inv.stack.PopN(int(n))
	if err != nil {
		inv.fail(err)
	}
	return vals
}

func (inv *invocation) drop(n int) {
	if err := inv.stack.Drop(n); err != nil {
		inv.fail(err)
	}
}

func (inv *invocation) peek(k int) *Value {
	v, err := inv.stack.Top(k)
	if err != nil {
		inv.fail(err)
	}
	return v
}

func (inv *invocation) reg(i uint32) *Value {
	r, err := inv.frame.Value(i)
	if err != nil {
		inv.fail(err)
	}
	return r
}

func (inv *invocation) binary() (a, b Value) {
	b = inv.pop()
	a = inv.pop()
	return a, b
}

// takeName completes a multiname whose runtime parts sit directly on top of
// the stack, and removes them.
func (inv *invocation) takeName(index uint32) (Name, error) {
	name, n, err := inv.completeName(index, 0)
	if err != nil {
		return Name{}, err
	}
	inv.drop(n)
	return name, nil
}

// takeCall pops argc arguments, the runtime name parts beneath them and the
// receiver beneath those.
func (inv *invocation) takeCall(index, argc uint32) (Name, Value, []Value, error) {
	name, n, err := inv.completeName(index, int(argc))
	if err != nil {
		return Name{}, Undefined, nil, err
	}
	args := inv.popN(argc)
	inv.drop(n)
	return name, inv.pop(), args, nil
}

func isDomainMemory(op Opcode) bool {
	return (op >= 0x35 && op <= 0x3E) || (op >= 0x50 && op <= 0x52)
}
