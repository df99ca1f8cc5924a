package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctorCode = []byte{byte(OpGetLocal0), byte(OpConstructSuper), 0, byte(OpReturnVoid)}
	voidCode = []byte{byte(OpReturnVoid)}
)

// classUnit builds a unit whose script defines
//
//	class A { function f() { return 10 } }
//	class B extends A { override function f() { return super.f() + 1 } }
//
// and then runs tail.
func classUnit(tail func(ub *UnitBuilder, b *BytecodeBuilder)) *Unit {
	ub := NewUnitBuilder("classes")
	object, nameA, nameB, nameF := ub.Public("Object"), ub.Public("A"), ub.Public("B"), ub.Public("f")

	fA := ub.Code("f", []byte{byte(OpPushByte), 10, byte(OpReturnValue)})
	fB := ub.Code("f", NewBytecodeBuilder().
		Emit(OpGetLocal0).
		EmitU30U30(OpCallSuper, nameF, 0).
		EmitS8(OpPushByte, 1).
		Emit(OpAdd).
		Emit(OpReturnValue).
		MustBytes())

	ub.Class(ClassInfo{
		Name: nameA, Super: object,
		IInit: ub.Code("A", ctorCode), CInit: ub.Code("A$cinit", voidCode),
		Instance: []TraitInfo{{Name: nameF, Kind: TraitMethod, SlotID: 1, Method: fA}},
	})
	ub.Class(ClassInfo{
		Name: nameB, Super: nameA,
		IInit: ub.Code("B", ctorCode), CInit: ub.Code("B$cinit", voidCode),
		Instance: []TraitInfo{{Name: nameF, Kind: TraitMethod, SlotID: 1, Method: fB, Override: true}},
	})

	b := NewBytecodeBuilder()
	b.Emit(OpGetLocal0).Emit(OpPushScope)
	b.EmitU8(OpGetScopeObject, 0).EmitU30(OpGetLex, object).EmitU30(OpNewClass, 0).EmitU30(OpInitProperty, nameA)
	b.EmitU8(OpGetScopeObject, 0).EmitU30(OpGetLex, nameA).EmitU30(OpNewClass, 1).EmitU30(OpInitProperty, nameB)
	tail(ub, b)

	ub.Script(ub.Code("main", b.MustBytes()),
		TraitInfo{Name: nameA, Kind: TraitClass, SlotID: 1, Class: 0},
		TraitInfo{Name: nameB, Kind: TraitClass, SlotID: 2, Class: 1})
	return ub.MustUnit()
}

// newB leaves a fresh B instance on the stack.
func newB(ub *UnitBuilder, b *BytecodeBuilder) {
	nameB := ub.Public("B")
	b.EmitU30(OpFindPropStrict, nameB).EmitU30U30(OpConstructProp, nameB, 0)
}

func TestSuperDispatch(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30U30(OpCallProperty, ub.Public("f"), 0).Emit(OpReturnValue)
	})
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, Int(11), v)
}

func TestCallMethodByDispID(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30U30(OpCallMethod, 1, 0).Emit(OpReturnValue)
	})
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, Int(11), v)
}

func TestInstanceTypeTests(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30(OpIsType, ub.Public("A")).Emit(OpReturnValue)
	})
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, True, v)

	u = classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30(OpAsType, ub.Public("Error")).Emit(OpReturnValue)
	})
	v, err = NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	u = classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30(OpCoerce, ub.Public("Error")).Emit(OpReturnValue)
	})
	_, err = NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	requireScriptError(t, err, "TypeError")
}

func TestDuplicateClassIsVerifyError(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		b.EmitU8(OpGetScopeObject, 0).EmitU30(OpGetLex, ub.Public("Object")).EmitU30(OpNewClass, 0).Emit(OpReturnValue)
	})
	_, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	requireScriptError(t, err, "VerifyError")
}

func TestExtendingFinalClassIsVerifyError(t *testing.T) {
	ub := NewUnitBuilder("final")
	ub.Class(ClassInfo{
		Name: ub.Public("S"), Super: ub.Public("String"),
		IInit: ub.Code("S", ctorCode), CInit: ub.Code("S$cinit", voidCode),
	})
	b := NewBytecodeBuilder()
	b.EmitU30(OpGetLex, ub.Public("String")).EmitU30(OpNewClass, 0).Emit(OpReturnValue)
	ub.Script(ub.Code("main", b.MustBytes()))

	_, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	requireScriptError(t, err, "VerifyError")
}

func TestInterfaceMethodsResolveToPublicImplementation(t *testing.T) {
	ub := NewUnitBuilder("iface")
	object := ub.Public("Object")
	nameI, nameS := ub.Public("IShape"), ub.Public("Square")
	ifaceArea := ub.QName(QName{NS: Namespace{Kind: NamespaceNamespace, URI: "IShape"}, Local: "area"})

	ub.Class(ClassInfo{
		Name: nameI, Flags: ClassInterface,
		IInit: ub.Code("IShape", voidCode), CInit: ub.Code("IShape$cinit", voidCode),
		Instance: []TraitInfo{{Name: ifaceArea, Kind: TraitMethod, Method: ub.Code("area", voidCode)}},
	})
	ub.Class(ClassInfo{
		Name: nameS, Super: object, Interfaces: []uint32{nameI},
		IInit: ub.Code("Square", ctorCode), CInit: ub.Code("Square$cinit", voidCode),
		Instance: []TraitInfo{{
			Name: ub.Public("area"), Kind: TraitMethod,
			Method: ub.Code("area", []byte{byte(OpPushByte), 16, byte(OpReturnValue)}),
		}},
	})

	b := NewBytecodeBuilder()
	b.Emit(OpGetLocal0).Emit(OpPushScope)
	b.EmitU8(OpGetScopeObject, 0).Emit(OpPushNull).EmitU30(OpNewClass, 0).EmitU30(OpInitProperty, nameI)
	b.EmitU8(OpGetScopeObject, 0).EmitU30(OpGetLex, object).EmitU30(OpNewClass, 1).EmitU30(OpInitProperty, nameS)
	b.EmitU30(OpFindPropStrict, nameS).EmitU30U30(OpConstructProp, nameS, 0)
	b.Emit(OpDup).EmitU30(OpIsType, nameI).Emit(OpSetLocal1)
	b.EmitU30U30(OpCallProperty, ifaceArea, 0)
	b.Emit(OpGetLocal1).EmitU30(OpNewArray, 2).Emit(OpReturnValue)
	init := ub.Method("main", MethodInfo{}, MethodBody{MaxStack: 8, LocalCount: 2, MaxScopeDepth: 4, Code: b.MustBytes()})
	ub.Script(init,
		TraitInfo{Name: nameI, Kind: TraitClass, SlotID: 1, Class: 0},
		TraitInfo{Name: nameS, Kind: TraitClass, SlotID: 2, Class: 1})

	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	require.NoError(t, err)
	arr := v.AsObject()
	require.NotNil(t, arr)
	assert.Equal(t, []Value{Int(16), True}, arr.Elements())
}

func TestConstructingInterfaceIsTypeError(t *testing.T) {
	ub := NewUnitBuilder("iface")
	nameI := ub.Public("I")
	ub.Class(ClassInfo{Name: nameI, Flags: ClassInterface, IInit: ub.Code("I", voidCode), CInit: ub.Code("I$cinit", voidCode)})
	b := NewBytecodeBuilder()
	b.Emit(OpPushNull).EmitU30(OpNewClass, 0).EmitU30(OpConstruct, 0).Emit(OpReturnValue)
	ub.Script(ub.Code("main", b.MustBytes()))

	_, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	requireScriptError(t, err, "TypeError")
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

func TestScriptsInitialiseOnFirstReference(t *testing.T) {
	ub := NewUnitBuilder("lazy")
	x, n := ub.Public("x"), ub.Public("n")

	lib := NewBytecodeBuilder()
	lib.Emit(OpGetLocal0).Emit(OpPushScope)
	lib.EmitU30(OpFindProperty, x).EmitS8(OpPushByte, 7).EmitU30(OpSetProperty, x)
	lib.Emit(OpReturnVoid)
	ub.Script(ub.Code("lib", lib.MustBytes()),
		TraitInfo{Name: x, Kind: TraitSlot, SlotID: 1},
		TraitInfo{Name: n, Kind: TraitSlot, SlotID: 2, Type: ub.Public("int")})

	main := NewBytecodeBuilder()
	main.EmitU30(OpGetLex, x).EmitU30(OpGetLex, n).Emit(OpTypeOf).Emit(OpAdd).Emit(OpReturnValue)
	ub.Script(ub.Code("main", main.MustBytes()))
	u := ub.MustUnit()

	in := NewInterpreter(DefaultOptions())
	v, err := in.Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, String("7number"), v)

	// The library script already ran and is not run again.
	v, err = in.RunScript(context.Background(), u, 0)
	require.NoError(t, err)
	assert.True(t, v.IsUndefined())

	_, err = in.RunScript(context.Background(), u, 2)
	assert.Error(t, err)
}

func TestConstSlotsRejectPlainWrites(t *testing.T) {
	ub := NewUnitBuilder("const")
	k := ub.Public("k")
	b := NewBytecodeBuilder()
	b.Emit(OpGetLocal0).Emit(OpPushScope)
	b.EmitU30(OpFindProperty, k).EmitS8(OpPushByte, 1).EmitU30(OpSetProperty, k)
	b.Emit(OpReturnVoid)
	ub.Script(ub.Code("main", b.MustBytes()),
		TraitInfo{Name: k, Kind: TraitConst, SlotID: 1, VKind: ConstInt, VIndex: ub.Int(3)})

	_, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	requireScriptError(t, err, "ReferenceError")
}

func TestGlobalSlots(t *testing.T) {
	ub := NewUnitBuilder("slots")
	b := NewBytecodeBuilder()
	b.Emit(OpGetLocal0).Emit(OpPushScope)
	b.EmitS8(OpPushByte, 5).EmitU30(OpSetGlobalSlot, 1)
	b.EmitU30(OpGetGlobalSlot, 1).EmitU30(OpGetLex, ub.Public("v")).Emit(OpAdd).Emit(OpReturnValue)
	ub.Script(ub.Code("main", b.MustBytes()),
		TraitInfo{Name: ub.Public("v"), Kind: TraitSlot, SlotID: 1})

	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	require.NoError(t, err)
	assert.Equal(t, Int(10), v)
}

func TestSlotIDsAreBounded(t *testing.T) {
	traits := NewTraits(nil)
	_, err := traits.AddSlot(PublicName("far"), MaxSlotID, Undefined, nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, MaxSlotID, traits.SlotCount())

	_, err = traits.AddSlot(PublicName("beyond"), MaxSlotID+1, Undefined, nil, false, nil)
	assert.True(t, IsFault(err, FaultMalformed), "got %v", err)

	ub := NewUnitBuilder("slots")
	ub.Script(ub.Code("main", voidCode),
		TraitInfo{Name: ub.Public("v"), Kind: TraitSlot, SlotID: 1<<30 - 1})
	_, err = NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	assert.True(t, IsFault(err, FaultMalformed), "got %v", err)
}

func TestSealedInstancesRejectNewProperties(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.Emit(OpDup).EmitS8(OpPushByte, 1).EmitU30(OpSetProperty, ub.Public("extra"))
		b.EmitU30(OpGetProperty, ub.Public("extra")).Emit(OpReturnValue)
	})
	// A and B are dynamic, so the write succeeds.
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, Int(1), v)

	for i := range u.Classes {
		u.Classes[i].Flags |= ClassSealed
	}
	_, err = NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	requireScriptError(t, err, "ReferenceError")
}

func TestMissingPropertiesReadUndefined(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30(OpGetProperty, ub.Public("absent")).Emit(OpReturnValue)
	})
	for i := range u.Classes {
		u.Classes[i].Flags |= ClassSealed
	}
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.True(t, v.IsUndefined(), "sealed instance: %#v", v)

	ub := NewUnitBuilder("primitive")
	b := NewBytecodeBuilder()
	b.EmitS8(OpPushByte, 5).EmitU30(OpGetProperty, ub.Public("foo")).Emit(OpReturnValue)
	v, err = invokeCode(t, nil, ub, b.MustBytes())
	require.NoError(t, err)
	assert.True(t, v.IsUndefined(), "primitive: %#v", v)

	// Calling the missing property is still an error.
	ub = NewUnitBuilder("call")
	b = NewBytecodeBuilder()
	b.EmitS8(OpPushByte, 5).EmitU30U30(OpCallProperty, ub.Public("foo"), 0).Emit(OpReturnValue)
	_, err = invokeCode(t, nil, ub, b.MustBytes())
	requireScriptError(t, err, "TypeError")
}

func TestSuperResolvesFromDeclaringClass(t *testing.T) {
	// C.f calls super.f, which is B.f running on a C instance; B.f's own
	// super call must still reach A.f.
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		nameF := ub.Public("f")
		fC := ub.Code("f", NewBytecodeBuilder().
			Emit(OpGetLocal0).
			EmitU30U30(OpCallSuper, nameF, 0).
			EmitS8(OpPushByte, 100).
			Emit(OpAdd).
			Emit(OpReturnValue).
			MustBytes())
		c := ub.Class(ClassInfo{
			Name: ub.Public("C"), Super: ub.Public("B"),
			IInit: ub.Code("C", ctorCode), CInit: ub.Code("C$cinit", voidCode),
			Instance: []TraitInfo{{Name: nameF, Kind: TraitMethod, SlotID: 1, Method: fC, Override: true}},
		})
		b.EmitU30(OpGetLex, ub.Public("B")).EmitU30(OpNewClass, c).EmitU30(OpConstruct, 0)
		b.EmitU30U30(OpCallProperty, nameF, 0).Emit(OpReturnValue)
	})
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, Int(111), v)
}

func TestSuperSlots(t *testing.T) {
	ub := NewUnitBuilder("super")
	object, nameP, nameQ := ub.Public("Object"), ub.Public("P"), ub.Public("Q")
	n, bump := ub.Public("n"), ub.Public("bump")

	bumpM := ub.Code("bump", NewBytecodeBuilder().
		Emit(OpGetLocal0).EmitS8(OpPushByte, 5).EmitU30(OpSetSuper, n).
		Emit(OpGetLocal0).EmitU30(OpGetSuper, n).
		Emit(OpGetLocal0).EmitU30(OpGetProperty, n).
		Emit(OpAdd).
		Emit(OpReturnValue).
		MustBytes())
	ub.Class(ClassInfo{
		Name: nameP, Super: object,
		IInit: ub.Code("P", ctorCode), CInit: ub.Code("P$cinit", voidCode),
		Instance: []TraitInfo{{Name: n, Kind: TraitSlot, SlotID: 1}},
	})
	ub.Class(ClassInfo{
		Name: nameQ, Super: nameP,
		IInit: ub.Code("Q", ctorCode), CInit: ub.Code("Q$cinit", voidCode),
		Instance: []TraitInfo{{Name: bump, Kind: TraitMethod, SlotID: 1, Method: bumpM}},
	})
	b := NewBytecodeBuilder()
	b.EmitU30(OpGetLex, object).EmitU30(OpNewClass, 0).EmitU30(OpNewClass, 1).EmitU30(OpConstruct, 0)
	b.EmitU30U30(OpCallProperty, bump, 0).Emit(OpReturnValue)
	ub.Script(ub.Code("main", b.MustBytes()))

	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	require.NoError(t, err)
	assert.Equal(t, Int(10), v)
}

func TestAccessorTraits(t *testing.T) {
	ub := NewUnitBuilder("accessors")
	object, v, store := ub.Public("Object"), ub.Public("v"), ub.Public("store")

	get := ub.Code("get v", NewBytecodeBuilder().
		Emit(OpGetLocal0).EmitU30(OpGetProperty, store).
		Emit(OpDup).Emit(OpAdd).
		Emit(OpReturnValue).
		MustBytes())
	set := ub.Method("set v", MethodInfo{ParamTypes: []uint32{0}}, MethodBody{
		MaxStack: 2, LocalCount: 2, MaxScopeDepth: 1,
		Code: NewBytecodeBuilder().
			Emit(OpGetLocal0).Emit(OpGetLocal1).EmitU30(OpSetProperty, store).
			Emit(OpReturnVoid).
			MustBytes(),
	})
	ub.Class(ClassInfo{
		Name: ub.Public("G"), Super: object,
		IInit: ub.Code("G", ctorCode), CInit: ub.Code("G$cinit", voidCode),
		Instance: []TraitInfo{
			{Name: store, Kind: TraitSlot, SlotID: 1},
			{Name: v, Kind: TraitGetter, Method: get},
			{Name: v, Kind: TraitSetter, Method: set},
		},
	})
	b := NewBytecodeBuilder()
	b.EmitU30(OpGetLex, object).EmitU30(OpNewClass, 0).EmitU30(OpConstruct, 0)
	b.Emit(OpDup).EmitS8(OpPushByte, 21).EmitU30(OpSetProperty, v)
	b.EmitU30(OpGetProperty, v).Emit(OpReturnValue)
	ub.Script(ub.Code("main", b.MustBytes()))

	got, err := NewInterpreter(DefaultOptions()).Run(context.Background(), ub.MustUnit())
	require.NoError(t, err)
	assert.Equal(t, Int(42), got)
}

func TestInstanceOf(t *testing.T) {
	tests := []struct {
		name    string
		subject func(ub *UnitBuilder, b *BytecodeBuilder)
		rhs     string
		want    Value
	}{
		{"subclass", newB, "A", True},
		{"unrelated", newB, "Error", False},
		{"Object", newB, "Object", True},
		{"primitive", func(_ *UnitBuilder, b *BytecodeBuilder) { b.EmitS8(OpPushByte, 5) }, "A", False},
		{"null", func(_ *UnitBuilder, b *BytecodeBuilder) { b.Emit(OpPushNull) }, "A", False},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
				tt.subject(ub, b)
				b.EmitU30(OpGetLex, ub.Public(tt.rhs)).Emit(OpInstanceOf).Emit(OpReturnValue)
			})
			v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitS8(OpPushByte, 1).Emit(OpInstanceOf).Emit(OpReturnValue)
	})
	_, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	requireScriptError(t, err, "TypeError")
}

func TestDeleteTraitIsRefused(t *testing.T) {
	u := classUnit(func(ub *UnitBuilder, b *BytecodeBuilder) {
		newB(ub, b)
		b.EmitU30(OpDeleteProperty, ub.Public("f")).Emit(OpReturnValue)
	})
	v, err := NewInterpreter(DefaultOptions()).Run(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, False, v)
}

func TestInterpretersOwnTheirDomains(t *testing.T) {
	u := classUnit(func(_ *UnitBuilder, b *BytecodeBuilder) { b.Emit(OpReturnVoid) })
	first, second := NewInterpreter(DefaultOptions()), NewInterpreter(DefaultOptions())

	_, err := first.Run(context.Background(), u)
	require.NoError(t, err)
	_, ok := first.Domain().ClassByName(PublicName("A"))
	assert.True(t, ok)
	_, ok = second.Domain().ClassByName(PublicName("A"))
	assert.False(t, ok)

	// The same classes load again without a duplicate definition error.
	_, err = second.Run(context.Background(), u)
	require.NoError(t, err)
}
