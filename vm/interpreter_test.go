package vm

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// invokeCode adds code as a method of ub, finishes the unit and invokes the
// method with no receiver.
func invokeCode(t *testing.T, in *Interpreter, ub *UnitBuilder, code []byte, exceptions ...ExceptionInfo) (Value, error) {
	t.Helper()
	return invokeMethod(t, in, ub, MethodInfo{}, code, nil, exceptions...)
}

func invokeMethod(t *testing.T, in *Interpreter, ub *UnitBuilder, info MethodInfo, code []byte, args []Value, exceptions ...ExceptionInfo) (Value, error) {
	t.Helper()
	m := ub.Method("test", info, MethodBody{
		MaxStack:      8,
		LocalCount:    4,
		MaxScopeDepth: 4,
		Code:          code,
		Exceptions:    exceptions,
	})
	u, err := ub.Unit()
	require.NoError(t, err)
	body, ok := u.Body(m)
	require.True(t, ok)
	if in == nil {
		in = NewInterpreter(DefaultOptions())
	}
	return in.Invoke(context.Background(), u, body, Undefined, args)
}

func run(t *testing.T, code []byte) (Value, error) {
	t.Helper()
	return invokeCode(t, nil, NewUnitBuilder("test"), code)
}

func requireScriptError(t *testing.T, err error, kind string) *ScriptError {
	t.Helper()
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, kind, se.Kind())
	return se
}

// ---------------------------------------------------------------------------
// Basic execution
// ---------------------------------------------------------------------------

func TestInvokeAdd(t *testing.T) {
	in := NewInterpreter(DefaultOptions())
	v, err := invokeCode(t, in, NewUnitBuilder("add"), []byte{0x24, 2, 0x24, 3, 0xA0, 0x48})
	require.NoError(t, err)
	assert.Equal(t, Int(5), v)
	assert.Equal(t, uint64(4), in.Executed())
}

func TestInvokeStringConcat(t *testing.T) {
	ub := NewUnitBuilder("concat")
	b := NewBytecodeBuilder()
	b.EmitU30(OpPushString, ub.String("a"))
	b.EmitS8(OpPushByte, 1)
	b.Emit(OpAdd).Emit(OpReturnValue)
	v, err := invokeCode(t, nil, ub, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, String("a1"), v)
}

func TestFallingOffTheEndReturnsVoid(t *testing.T) {
	v, err := run(t, []byte{0x24, 1})
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())
}

func TestPushShortSignExtends(t *testing.T) {
	b := NewBytecodeBuilder().EmitPushShort(-2).Emit(OpReturnValue)
	v, err := run(t, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, Int(-2), v)
}

func TestCoerceStringOfNull(t *testing.T) {
	v, err := run(t, []byte{byte(OpPushNull), byte(OpCoerceS), byte(OpReturnValue)})
	require.NoError(t, err)
	assert.Equal(t, String(""), v)

	v, err = run(t, []byte{byte(OpPushNull), byte(OpConvertS), byte(OpReturnValue)})
	require.NoError(t, err)
	assert.Equal(t, String("null"), v)
}

func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		name string
		a, b int8
		op   Opcode
		want Value
	}{
		{"subtract", 2, 5, OpSubtract, Int(-3)},
		{"divide", 1, 2, OpDivide, Double(0.5)},
		{"modulo", -7, 3, OpModulo, Int(-1)},
		{"multiply_i", -4, 3, OpMultiplyI, Int(-12)},
		{"rshift", -8, 1, OpRShift, Int(-4)},
		{"urshift", -1, 28, OpURShift, Uint(15)},
		{"lshift masks count", 1, 33, OpLShift, Int(2)},
		{"bitxor", 6, 3, OpBitXor, Int(5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBytecodeBuilder()
			b.EmitS8(OpPushByte, tt.a).EmitS8(OpPushByte, tt.b).Emit(tt.op).Emit(OpReturnValue)
			v, err := run(t, b.MustBytes())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestComparisonsWithNaN(t *testing.T) {
	for _, op := range []Opcode{OpLessThan, OpLessEquals, OpGreaterThan, OpGreaterEquals} {
		b := NewBytecodeBuilder()
		b.Emit(OpPushNaN).EmitS8(OpPushByte, 1).Emit(op).Emit(OpReturnValue)
		v, err := run(t, b.MustBytes())
		require.NoError(t, err)
		assert.Equal(t, False, v, op.Name())
	}

	// ifnlt is taken exactly when lessthan is false, NaN included.
	b := NewBytecodeBuilder()
	taken := b.NewLabel()
	b.Emit(OpPushNaN).EmitS8(OpPushByte, 1).EmitJump(OpIfNlt, taken)
	b.EmitS8(OpPushByte, 0).Emit(OpReturnValue)
	b.Mark(taken).EmitS8(OpPushByte, 1).Emit(OpReturnValue)
	v, err := run(t, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)
}

func TestLessEqualsSwapsOperands(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitS8(OpPushByte, 3).EmitS8(OpPushByte, 3).Emit(OpLessEquals).Emit(OpReturnValue)
	v, err := run(t, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, True, v)

	b = NewBytecodeBuilder()
	b.EmitS8(OpPushByte, 4).EmitS8(OpPushByte, 3).Emit(OpGreaterEquals).Emit(OpReturnValue)
	v, err = run(t, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, True, v)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestJumpZeroIsNoop(t *testing.T) {
	v, err := run(t, []byte{0x10, 0, 0, 0, 0x24, 7, 0x48})
	require.NoError(t, err)
	assert.Equal(t, Int(7), v)
}

func TestJumpOutOfBoundsFaults(t *testing.T) {
	_, err := run(t, []byte{0x10, 0x10, 0, 0})
	require.True(t, IsFault(err, FaultBranch), "got %v", err)

	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, 0, f.Offset)
	assert.Equal(t, "test", f.Method)
}

func TestMalformedCodeFaults(t *testing.T) {
	_, err := run(t, []byte{0x24})
	assert.True(t, IsFault(err, FaultTruncated), "truncated operand: %v", err)

	_, err = run(t, []byte{0xFF})
	assert.True(t, IsFault(err, FaultBadOpcode), "unknown opcode: %v", err)

	_, err = run(t, []byte{0x35})
	assert.True(t, IsFault(err, FaultBadOpcode))
	assert.Contains(t, err.Error(), "domain memory")

	_, err = run(t, []byte{byte(OpPop)})
	assert.True(t, IsFault(err, FaultUnderflow))

	_, err = run(t, []byte{byte(OpGetLocal), 9})
	assert.True(t, IsFault(err, FaultRegister))

	_, err = run(t, []byte{byte(OpPushString), 3})
	assert.True(t, IsFault(err, FaultPoolIndex))
}

func TestLookupSwitch(t *testing.T) {
	b := NewBytecodeBuilder()
	def := b.NewLabel()
	cases := []*Label{b.NewLabel(), b.NewLabel(), b.NewLabel()}
	b.Emit(OpGetLocal1)
	b.EmitLookupSwitch(def, cases...)
	for i, c := range cases {
		b.Mark(c).EmitS8(OpPushByte, int8(10+i)).Emit(OpReturnValue)
	}
	b.Mark(def).EmitS8(OpPushByte, 99).Emit(OpReturnValue)
	code := b.MustBytes()

	tests := []struct {
		index Value
		want  int32
	}{
		{Int(0), 10},
		{Int(1), 11},
		{Int(2), 12},
		{Int(-1), 99},
		{Int(5), 99},
		{Double(1.9), 11},
	}
	for _, tt := range tests {
		v, err := invokeMethod(t, nil, NewUnitBuilder("switch"), MethodInfo{ParamTypes: []uint32{0}}, code, []Value{tt.index})
		require.NoError(t, err)
		assert.Equal(t, Int(tt.want), v, "index %v", tt.index)
	}
}

func TestEnumerateWithHasNext2(t *testing.T) {
	ub := NewUnitBuilder("enum")
	b := NewBytecodeBuilder()
	loop, done := b.NewLabel(), b.NewLabel()
	b.EmitU30(OpPushString, ub.String("a")).EmitS8(OpPushByte, 1)
	b.EmitU30(OpPushString, ub.String("b")).EmitS8(OpPushByte, 2)
	b.EmitU30(OpNewObject, 2).Emit(OpSetLocal1)
	b.EmitS8(OpPushByte, 0).Emit(OpSetLocal2)
	b.EmitS8(OpPushByte, 0).Emit(OpSetLocal3)
	b.Mark(loop)
	b.EmitU30U30(OpHasNext2, 1, 2)
	b.EmitJump(OpIfFalse, done)
	b.Emit(OpGetLocal3).Emit(OpGetLocal1).Emit(OpGetLocal2).Emit(OpNextValue).Emit(OpAdd).Emit(OpSetLocal3)
	b.EmitJump(OpJump, loop)
	b.Mark(done)
	b.Emit(OpGetLocal3).Emit(OpReturnValue)

	v, err := invokeCode(t, nil, ub, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, Int(3), v)
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestUndefinedVariableIsReferenceError(t *testing.T) {
	ub := NewUnitBuilder("ref")
	b := NewBytecodeBuilder()
	b.EmitU30(OpFindPropStrict, ub.Public("nosuch")).Emit(OpReturnValue)
	_, err := invokeCode(t, nil, ub, b.MustBytes())

	se := requireScriptError(t, err, "ReferenceError")
	assert.Equal(t, "Variable nosuch is not defined.", se.Message)
	assert.Equal(t, 0, se.Offset)
	assert.Equal(t, "test", se.Method)
	assert.False(t, IsFault(err, 0))
}

func TestCaughtException(t *testing.T) {
	metrics := NewMetrics()
	in := NewInterpreter(Options{Metrics: metrics})
	code := []byte{0x24, 1, 0x03, 0x24, 0, 0x48, 0x48}
	v, err := invokeCode(t, in, NewUnitBuilder("catch"), code, ExceptionInfo{From: 0, To: 3, Target: 6})
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.caught))
}

func TestUncaughtPrimitive(t *testing.T) {
	_, err := run(t, []byte{0x24, 1, 0x03})
	se := requireScriptError(t, err, "int")
	assert.Equal(t, Int(1), se.Value)
	assert.Equal(t, 2, se.Offset)
}

func TestTypedHandlers(t *testing.T) {
	build := func(ub *UnitBuilder) []byte {
		b := NewBytecodeBuilder()
		b.Emit(OpPushNull)
		b.EmitU30(OpGetProperty, ub.Public("x"))
		b.Emit(OpReturnValue)
		b.Emit(OpPop).EmitS8(OpPushByte, 42).Emit(OpReturnValue)
		return b.MustBytes()
	}

	t.Run("matching type", func(t *testing.T) {
		ub := NewUnitBuilder("typed")
		code := build(ub)
		h := ExceptionInfo{From: 0, To: 4, Target: 4, ExcType: ub.Public("TypeError")}
		v, err := invokeCode(t, nil, ub, code, h)
		require.NoError(t, err)
		assert.Equal(t, Int(42), v)
	})

	t.Run("base class matches", func(t *testing.T) {
		ub := NewUnitBuilder("typed")
		code := build(ub)
		h := ExceptionInfo{From: 0, To: 4, Target: 4, ExcType: ub.Public("Error")}
		v, err := invokeCode(t, nil, ub, code, h)
		require.NoError(t, err)
		assert.Equal(t, Int(42), v)
	})

	t.Run("mismatched type propagates", func(t *testing.T) {
		ub := NewUnitBuilder("typed")
		code := build(ub)
		h := ExceptionInfo{From: 0, To: 4, Target: 4, ExcType: ub.Public("RangeError")}
		_, err := invokeCode(t, nil, ub, code, h)
		requireScriptError(t, err, "TypeError")
	})

	t.Run("outside range propagates", func(t *testing.T) {
		ub := NewUnitBuilder("typed")
		code := build(ub)
		h := ExceptionInfo{From: 3, To: 4, Target: 4}
		_, err := invokeCode(t, nil, ub, code, h)
		requireScriptError(t, err, "TypeError")
	})
}

func TestFaultsAreNotCatchable(t *testing.T) {
	code := []byte{0x10, 0x10, 0, 0, 0x47}
	_, err := invokeCode(t, nil, NewUnitBuilder("fault"), code, ExceptionInfo{From: 0, To: 5, Target: 4})
	assert.True(t, IsFault(err, FaultBranch))
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

func TestArgumentCountMismatch(t *testing.T) {
	info := MethodInfo{ParamTypes: []uint32{0}}
	_, err := invokeMethod(t, nil, NewUnitBuilder("args"), info, []byte{0x47}, nil)
	requireScriptError(t, err, "ArgumentError")

	_, err = invokeMethod(t, nil, NewUnitBuilder("args"), info, []byte{0x47}, []Value{Int(1), Int(2)})
	requireScriptError(t, err, "ArgumentError")
}

func TestOptionalParameters(t *testing.T) {
	ub := NewUnitBuilder("optional")
	info := MethodInfo{
		ParamTypes: []uint32{0, 0},
		Flags:      MethodHasOptional,
		Optional:   []OptionalParam{{Kind: ConstInt, Index: ub.Int(5)}},
	}
	code := []byte{byte(OpGetLocal1), byte(OpGetLocal2), byte(OpAdd), byte(OpReturnValue)}
	v, err := invokeMethod(t, nil, ub, info, code, []Value{Int(1)})
	require.NoError(t, err)
	assert.Equal(t, Int(6), v)
}

func TestRestArguments(t *testing.T) {
	ub := NewUnitBuilder("rest")
	b := NewBytecodeBuilder()
	b.Emit(OpGetLocal2).EmitU30(OpGetProperty, ub.Public("length")).Emit(OpReturnValue)
	info := MethodInfo{ParamTypes: []uint32{0}, Flags: MethodNeedRest}
	v, err := invokeMethod(t, nil, ub, info, b.MustBytes(), []Value{Int(1), Int(2), Int(3)})
	require.NoError(t, err)
	assert.Equal(t, float64(2), ToNumber(v))
}

func TestTypedParameterCoercion(t *testing.T) {
	ub := NewUnitBuilder("typed-param")
	info := MethodInfo{ParamTypes: []uint32{ub.Public("int")}}
	v, err := invokeMethod(t, nil, ub, info, []byte{byte(OpGetLocal1), byte(OpReturnValue)}, []Value{String("42")})
	require.NoError(t, err)
	assert.Equal(t, Int(42), v)
}

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

func TestInstructionBudget(t *testing.T) {
	in := NewInterpreter(Options{Limits: Limits{MaxInstructions: 1000}})
	_, err := invokeCode(t, in, NewUnitBuilder("loop"), []byte{0x10, 0xFC, 0xFF, 0xFF})
	assert.True(t, IsFault(err, FaultLimit), "got %v", err)
	assert.Equal(t, uint64(1001), in.Executed())
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ub := NewUnitBuilder("loop")
	m := ub.Code("loop", []byte{0x10, 0xFC, 0xFF, 0xFF})
	u := ub.MustUnit()
	body, _ := u.Body(m)
	_, err := NewInterpreter(Options{}).Invoke(ctx, u, body, Undefined, nil)
	assert.True(t, IsFault(err, FaultLimit), "got %v", err)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestCallDepthLimit(t *testing.T) {
	// Method 0 calls itself through callstatic.
	code := []byte{byte(OpGetLocal0), byte(OpCallStatic), 0, 0, byte(OpReturnValue)}
	in := NewInterpreter(Options{Limits: Limits{MaxCallDepth: 8}})
	_, err := invokeCode(t, in, NewUnitBuilder("recurse"), code)
	assert.True(t, IsFault(err, FaultOverflow), "got %v", err)
}

func TestStackLimit(t *testing.T) {
	in := NewInterpreter(Options{Limits: Limits{MaxStackDepth: 2}})
	_, err := invokeCode(t, in, NewUnitBuilder("deep"), []byte{0x20, 0x20, 0x20})
	assert.True(t, IsFault(err, FaultOverflow))
}

func TestDeclaredSizesAreBounded(t *testing.T) {
	ub := NewUnitBuilder("huge")
	code := []byte{byte(OpPushByte), 7, byte(OpReturnValue)}
	wide := ub.Method("wide", MethodInfo{}, MethodBody{MaxStack: 1<<30 - 1, LocalCount: 1, Code: code})
	tall := ub.Method("tall", MethodInfo{}, MethodBody{MaxStack: 1, LocalCount: 1<<30 - 1, Code: code})
	u := ub.MustUnit()
	in := NewInterpreter(DefaultOptions())

	// A declared MaxStack only reserves a bounded capacity.
	body, ok := u.Body(wide)
	require.True(t, ok)
	v, err := in.Invoke(context.Background(), u, body, Undefined, nil)
	require.NoError(t, err)
	assert.Equal(t, Int(7), v)

	body, ok = u.Body(tall)
	require.True(t, ok)
	_, err = in.Invoke(context.Background(), u, body, Undefined, nil)
	assert.True(t, IsFault(err, FaultOverflow), "got %v", err)

	// The fault only aborts that invocation.
	body, _ = u.Body(wide)
	v, err = in.Invoke(context.Background(), u, body, Undefined, nil)
	require.NoError(t, err)
	assert.Equal(t, Int(7), v)
}

func TestStackCapacity(t *testing.T) {
	assert.Equal(t, 8, stackCapacity(8, 0))
	assert.Equal(t, 2, stackCapacity(8, 2))
	assert.Equal(t, stackReserve, stackCapacity(1<<30-1, 0))
	assert.Equal(t, stackReserve, stackCapacity(1<<30-1, DefaultLimits.MaxStackDepth))
}

// ---------------------------------------------------------------------------
// Host entry points
// ---------------------------------------------------------------------------

func TestTraceOutput(t *testing.T) {
	var out bytes.Buffer
	in := NewInterpreter(Options{Output: &out})
	ub := NewUnitBuilder("trace")
	trace := ub.Public("trace")
	b := NewBytecodeBuilder()
	b.EmitU30(OpFindPropStrict, trace)
	b.EmitU30(OpPushString, ub.String("hello"))
	b.EmitS8(OpPushByte, 3)
	b.EmitU30U30(OpCallPropVoid, trace, 2)
	b.Emit(OpReturnVoid)
	_, err := invokeCode(t, in, ub, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, "hello 3\n", out.String())
}

func TestCallAndConstruct(t *testing.T) {
	var out bytes.Buffer
	in := NewInterpreter(Options{Output: &out})
	d := in.Domain()

	trace, ok := d.Global().Get("trace")
	require.True(t, ok)
	_, err := in.Call(context.Background(), trace, Undefined, []Value{String("x"), True})
	require.NoError(t, err)
	assert.Equal(t, "x true\n", out.String())

	v, err := in.Construct(context.Background(), ObjectValue(d.ErrorClass(KindRangeError).Object), []Value{String("bad")})
	require.NoError(t, err)
	o := v.AsObject()
	require.NotNil(t, o)
	assert.Equal(t, "RangeError", o.Class().Name.Local)
	msg, _ := o.Get("message")
	assert.Equal(t, String("bad"), msg)

	_, err = in.Call(context.Background(), Int(1), Undefined, nil)
	requireScriptError(t, err, "TypeError")
}

func TestMetricsOutcomes(t *testing.T) {
	m := NewMetrics()
	in := NewInterpreter(Options{Metrics: m})
	_, err := invokeCode(t, in, NewUnitBuilder("ok"), []byte{0x47})
	require.NoError(t, err)
	_, err = invokeCode(t, in, NewUnitBuilder("bad"), []byte{0xFF})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues(OutcomeReturned)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues(OutcomeFault)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.opcodes.WithLabelValues("returnvoid")))
}

// ---------------------------------------------------------------------------
// Dynamic properties
// ---------------------------------------------------------------------------

// storeObject leaves a fresh object with p = 7 in register 1.
func storeObject(ub *UnitBuilder, b *BytecodeBuilder) {
	b.EmitU30(OpNewObject, 0).Emit(OpSetLocal1)
	b.Emit(OpGetLocal1).EmitS8(OpPushByte, 7).EmitU30(OpSetProperty, ub.Public("p"))
}

func TestWithScopeLookup(t *testing.T) {
	tests := []struct {
		name string
		tail func(ub *UnitBuilder, b *BytecodeBuilder)
		want Value
	}{
		{"findproperty", func(ub *UnitBuilder, b *BytecodeBuilder) {
			b.EmitU30(OpFindProperty, ub.Public("p")).Emit(OpGetLocal1).Emit(OpStrictEquals)
		}, True},
		{"getlex", func(ub *UnitBuilder, b *BytecodeBuilder) {
			b.EmitU30(OpGetLex, ub.Public("p"))
		}, Int(7)},
		{"setproperty", func(ub *UnitBuilder, b *BytecodeBuilder) {
			p := ub.Public("p")
			b.EmitU30(OpFindPropStrict, p).EmitS8(OpPushByte, 9).EmitU30(OpSetProperty, p)
			b.Emit(OpPopScope).Emit(OpGetLocal1).EmitU30(OpGetProperty, p)
		}, Int(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ub := NewUnitBuilder("with")
			b := NewBytecodeBuilder()
			storeObject(ub, b)
			b.Emit(OpGetLocal1).Emit(OpPushWith)
			tt.tail(ub, b)
			b.Emit(OpReturnValue)
			v, err := invokeCode(t, nil, ub, b.MustBytes())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestDeleteProperty(t *testing.T) {
	ub := NewUnitBuilder("delete")
	b := NewBytecodeBuilder()
	kept := b.NewLabel()
	storeObject(ub, b)
	b.Emit(OpGetLocal1).EmitU30(OpDeleteProperty, ub.Public("p")).EmitJump(OpIfFalse, kept)
	b.EmitU30(OpPushString, ub.String("p")).Emit(OpGetLocal1).Emit(OpIn).Emit(OpReturnValue)
	b.Mark(kept).EmitU30(OpPushString, ub.String("kept")).Emit(OpReturnValue)

	v, err := invokeCode(t, nil, ub, b.MustBytes())
	require.NoError(t, err)
	assert.Equal(t, False, v)
}

func TestCallPropLexPassesNullReceiver(t *testing.T) {
	tests := []struct {
		op   Opcode
		this func(b *BytecodeBuilder)
	}{
		{OpCallProperty, func(b *BytecodeBuilder) { b.Emit(OpGetLocal1) }},
		// A plain closure called with a null receiver runs against the
		// global object.
		{OpCallPropLex, func(b *BytecodeBuilder) { b.Emit(OpGetGlobalScope) }},
	}
	for _, tt := range tests {
		t.Run(tt.op.Name(), func(t *testing.T) {
			ub := NewUnitBuilder("lex")
			g := ub.Public("g")
			self := ub.Code("self", []byte{byte(OpGetLocal0), byte(OpReturnValue)})
			b := NewBytecodeBuilder()
			b.EmitU30(OpNewObject, 0).Emit(OpSetLocal1)
			b.Emit(OpGetLocal1).EmitU30(OpNewFunction, self).EmitU30(OpSetProperty, g)
			b.Emit(OpGetLocal1).EmitU30U30(tt.op, g, 0)
			tt.this(b)
			b.Emit(OpStrictEquals).Emit(OpReturnValue)

			v, err := invokeCode(t, nil, ub, b.MustBytes())
			require.NoError(t, err)
			assert.Equal(t, True, v)
		})
	}
}

// ---------------------------------------------------------------------------
// Stack effects
// ---------------------------------------------------------------------------

// TestFixedStackEffects executes every fixed-effect opcode once on top of a
// random stack and checks the depth change against the opcode table.
func TestFixedStackEffects(t *testing.T) {
	// No XML: both always raise TypeError.
	skip := map[Opcode]bool{OpGetDescendants: true, OpCheckFilter: true}
	rng := rand.New(rand.NewPCG(7, 11))
	for _, op := range Opcodes() {
		info := op.Info()
		if info.Variable || skip[op] {
			continue
		}
		t.Run(info.Name, func(t *testing.T) {
			for range 4 {
				before, after, err := stepOnce(t, op, rng)
				if op == OpThrow {
					require.Error(t, err)
				} else {
					require.NoError(t, err)
				}
				assert.Equal(t, before+info.StackEffect, after)
			}
		})
	}
}

// stepOnce assembles op with usable operands, prepares an invocation whose
// stack holds random filler under the values op consumes, and executes the
// single instruction.
func stepOnce(t *testing.T, op Opcode, rng *rand.Rand) (before, after int, err error) {
	t.Helper()
	ub := NewUnitBuilder("effects")
	ub.Class(ClassInfo{
		Name: ub.Public("K"), Super: ub.Public("Object"),
		IInit: ub.Code("K", ctorCode), CInit: ub.Code("K$cinit", voidCode),
	})

	b := NewBytecodeBuilder()
	switch info := op.Info(); {
	case op == OpDebug:
		b.EmitDebug(1, ub.String("r"), 1, 0)
	case op == OpPushShort:
		b.EmitPushShort(-300)
	case op == OpLookupSwitch:
		b.EmitRaw(byte(op), 0, 0, 0, 0, 0, 0, 0)
	case op == OpHasNext2:
		b.EmitU30U30(op, 1, 2)
	case op == OpGetScopeObject:
		b.EmitU8(op, 0)
	case info.Operands == OperandsS24:
		b.EmitBranch(op, 0)
	case info.Operands == OperandsS8:
		b.EmitS8(op, 3)
	case info.Operands == OperandsU30:
		b.EmitU30(op, effectOperand(ub, op))
	default:
		b.Emit(op)
	}
	idx := ub.Method("step", MethodInfo{Flags: MethodSetDXNS}, MethodBody{
		MaxStack:      4,
		LocalCount:    4,
		MaxScopeDepth: 4,
		Code:          b.MustBytes(),
		Exceptions:    []ExceptionInfo{{}},
	})
	u := ub.MustUnit()
	body, ok := u.Body(idx)
	require.True(t, ok)
	info, err := u.Pool.Method(idx)
	require.NoError(t, err)

	in := NewInterpreter(DefaultOptions())
	base := &Class{Name: PublicName("Base"), Super: in.domain.objectClass, Instance: NewTraits(nil)}
	_, err = base.Instance.AddSlot(PublicName("x"), 1, Int(0), nil, false, base)
	require.NoError(t, err)
	sub := &Class{Name: PublicName("Sub"), Super: base, Instance: NewTraits(base.Instance)}
	rec := newObject(base, nil, base.Instance, true)

	m := &Method{Name: "step", Unit: u, Index: idx, Info: info, Body: body, Declarer: sub}
	in.budget.reset(context.Background(), in.limits)
	inv, err := in.newInvocation(m, nil, ObjectValue(rec), nil)
	require.NoError(t, err)
	require.NoError(t, inv.scope.Push(rec, false))

	for range rng.IntN(48) {
		require.NoError(t, inv.stack.Push(fillerValue(rng)))
	}
	for _, v := range stackTop(in, op, ObjectValue(rec)) {
		require.NoError(t, inv.stack.Push(v))
	}

	before = inv.stack.Depth()
	inv.pc = 0
	read, err := inv.code.ReadOpcode()
	require.NoError(t, err)
	require.Equal(t, op, read)
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				f, ok := r.(*Fault)
				if !ok {
					panic(r)
				}
				err = f
			}
		}()
		return inv.step(op)
	}()
	return before, inv.stack.Depth(), err
}

func effectOperand(ub *UnitBuilder, op Opcode) uint32 {
	switch op {
	case OpPushString, OpDebugFile, OpDxns:
		return ub.String("s")
	case OpPushInt:
		return ub.Int(-5)
	case OpPushUint:
		return ub.Uint(5)
	case OpPushDouble:
		return ub.Double(2.5)
	case OpPushNamespace:
		return ub.Namespace(PublicNamespace)
	case OpFindDef:
		return ub.Public("trace")
	case OpCoerce, OpAsType, OpIsType:
		return ub.Public("int")
	case OpNewFunction:
		return ub.Code("closure", voidCode)
	case OpNewClass, OpNewCatch:
		return 0
	}
	if op.Info().Multiname {
		return ub.Public("x")
	}
	// registers, slot ids and line numbers
	return 1
}

// stackTop returns the values op consumes, bottom first.
func stackTop(in *Interpreter, op Opcode, rec Value) []Value {
	switch op {
	case OpGetProperty, OpDeleteProperty, OpGetSuper, OpGetSlot, OpPushScope, OpPushWith:
		return []Value{rec}
	case OpSetProperty, OpInitProperty, OpSetSuper, OpSetSlot:
		return []Value{rec, Int(4)}
	case OpAsTypeLate, OpIsTypeLate, OpInstanceOf:
		return []Value{Int(1), ObjectValue(in.domain.intClass.Object)}
	case OpNewClass:
		return []Value{ObjectValue(in.domain.objectClass.Object)}
	}
	return []Value{Int(1), Int(2)}
}

func fillerValue(rng *rand.Rand) Value {
	switch rng.IntN(5) {
	case 0:
		return Int(rng.Int32())
	case 1:
		return Double(rng.Float64())
	case 2:
		return String("v")
	case 3:
		return Null
	}
	return Undefined
}
