package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single ABC instruction byte.
type Opcode byte

// Debugging and no-ops
const (
	OpBkpt      Opcode = 0x01
	OpNop       Opcode = 0x02
	OpLabel     Opcode = 0x09
	OpDebug     Opcode = 0xEF
	OpDebugLine Opcode = 0xF0
	OpDebugFile Opcode = 0xF1
	OpBkptLine  Opcode = 0xF2
	OpTimestamp Opcode = 0xF3
)

// Control transfer
const (
	OpThrow        Opcode = 0x03
	OpIfNlt        Opcode = 0x0C
	OpIfNle        Opcode = 0x0D
	OpIfNgt        Opcode = 0x0E
	OpIfNge        Opcode = 0x0F
	OpJump         Opcode = 0x10
	OpIfTrue       Opcode = 0x11
	OpIfFalse      Opcode = 0x12
	OpIfEq         Opcode = 0x13
	OpIfNe         Opcode = 0x14
	OpIfLt         Opcode = 0x15
	OpIfLe         Opcode = 0x16
	OpIfGt         Opcode = 0x17
	OpIfGe         Opcode = 0x18
	OpIfStrictEq   Opcode = 0x19
	OpIfStrictNe   Opcode = 0x1A
	OpLookupSwitch Opcode = 0x1B
	OpReturnVoid   Opcode = 0x47
	OpReturnValue  Opcode = 0x48
)

// Stack, locals and constants
const (
	OpKill          Opcode = 0x08
	OpPushNull      Opcode = 0x20
	OpPushUndefined Opcode = 0x21
	OpPushByte      Opcode = 0x24
	OpPushShort     Opcode = 0x25
	OpPushTrue      Opcode = 0x26
	OpPushFalse     Opcode = 0x27
	OpPushNaN       Opcode = 0x28
	OpPop           Opcode = 0x29
	OpDup           Opcode = 0x2A
	OpSwap          Opcode = 0x2B
	OpPushString    Opcode = 0x2C
	OpPushInt       Opcode = 0x2D
	OpPushUint      Opcode = 0x2E
	OpPushDouble    Opcode = 0x2F
	OpPushNamespace Opcode = 0x31
	OpGetLocal      Opcode = 0x62
	OpSetLocal      Opcode = 0x63
	OpGetLocal0     Opcode = 0xD0
	OpGetLocal1     Opcode = 0xD1
	OpGetLocal2     Opcode = 0xD2
	OpGetLocal3     Opcode = 0xD3
	OpSetLocal0     Opcode = 0xD4
	OpSetLocal1     Opcode = 0xD5
	OpSetLocal2     Opcode = 0xD6
	OpSetLocal3     Opcode = 0xD7
)

// Scope management
const (
	OpPushWith       Opcode = 0x1C
	OpPopScope       Opcode = 0x1D
	OpPushScope      Opcode = 0x30
	OpGetGlobalScope Opcode = 0x64
	OpGetScopeObject Opcode = 0x65
)

// Enumeration
const (
	OpNextName  Opcode = 0x1E
	OpHasNext   Opcode = 0x1F
	OpNextValue Opcode = 0x23
	OpHasNext2  Opcode = 0x32
)

// Calls and construction
const (
	OpNewFunction    Opcode = 0x40
	OpCall           Opcode = 0x41
	OpConstruct      Opcode = 0x42
	OpCallMethod     Opcode = 0x43
	OpCallStatic     Opcode = 0x44
	OpCallSuper      Opcode = 0x45
	OpCallProperty   Opcode = 0x46
	OpConstructSuper Opcode = 0x49
	OpConstructProp  Opcode = 0x4A
	OpCallPropLex    Opcode = 0x4C
	OpCallSuperVoid  Opcode = 0x4E
	OpCallPropVoid   Opcode = 0x4F
	OpApplyType      Opcode = 0x53
	OpNewObject      Opcode = 0x55
	OpNewArray       Opcode = 0x56
	OpNewActivation  Opcode = 0x57
	OpNewClass       Opcode = 0x58
	OpNewCatch       Opcode = 0x5A
)

// Property access
const (
	OpGetSuper       Opcode = 0x04
	OpSetSuper       Opcode = 0x05
	OpGetDescendants Opcode = 0x59
	OpFindPropStrict Opcode = 0x5D
	OpFindProperty   Opcode = 0x5E
	OpFindDef        Opcode = 0x5F
	OpGetLex         Opcode = 0x60
	OpSetProperty    Opcode = 0x61
	OpGetProperty    Opcode = 0x66
	OpInitProperty   Opcode = 0x68
	OpDeleteProperty Opcode = 0x6A
	OpGetSlot        Opcode = 0x6C
	OpSetSlot        Opcode = 0x6D
	OpGetGlobalSlot  Opcode = 0x6E
	OpSetGlobalSlot  Opcode = 0x6F
)

// XML support
const (
	OpDxns        Opcode = 0x06
	OpDxnsLate    Opcode = 0x07
	OpEscXElem    Opcode = 0x71
	OpEscXAttr    Opcode = 0x72
	OpCheckFilter Opcode = 0x78
)

// Conversions and type tests
const (
	OpConvertS   Opcode = 0x70
	OpConvertI   Opcode = 0x73
	OpConvertU   Opcode = 0x74
	OpConvertD   Opcode = 0x75
	OpConvertB   Opcode = 0x76
	OpConvertO   Opcode = 0x77
	OpCoerce     Opcode = 0x80
	OpCoerceB    Opcode = 0x81
	OpCoerceA    Opcode = 0x82
	OpCoerceI    Opcode = 0x83
	OpCoerceD    Opcode = 0x84
	OpCoerceS    Opcode = 0x85
	OpAsType     Opcode = 0x86
	OpAsTypeLate Opcode = 0x87
	OpCoerceU    Opcode = 0x88
	OpCoerceO    Opcode = 0x89
	OpInstanceOf Opcode = 0xB1
	OpIsType     Opcode = 0xB2
	OpIsTypeLate Opcode = 0xB3
	OpIn         Opcode = 0xB4
	OpTypeOf     Opcode = 0x95
)

// Arithmetic, bitwise and comparison
const (
	OpNegate        Opcode = 0x90
	OpIncrement     Opcode = 0x91
	OpIncLocal      Opcode = 0x92
	OpDecrement     Opcode = 0x93
	OpDecLocal      Opcode = 0x94
	OpNot           Opcode = 0x96
	OpBitNot        Opcode = 0x97
	OpAdd           Opcode = 0xA0
	OpSubtract      Opcode = 0xA1
	OpMultiply      Opcode = 0xA2
	OpDivide        Opcode = 0xA3
	OpModulo        Opcode = 0xA4
	OpLShift        Opcode = 0xA5
	OpRShift        Opcode = 0xA6
	OpURShift       Opcode = 0xA7
	OpBitAnd        Opcode = 0xA8
	OpBitOr         Opcode = 0xA9
	OpBitXor        Opcode = 0xAA
	OpEquals        Opcode = 0xAB
	OpStrictEquals  Opcode = 0xAC
	OpLessThan      Opcode = 0xAD
	OpLessEquals    Opcode = 0xAE
	OpGreaterThan   Opcode = 0xAF
	OpGreaterEquals Opcode = 0xB0
	OpIncrementI    Opcode = 0xC0
	OpDecrementI    Opcode = 0xC1
	OpIncLocalI     Opcode = 0xC2
	OpDecLocalI     Opcode = 0xC3
	OpNegateI       Opcode = 0xC4
	OpAddI          Opcode = 0xC5
	OpSubtractI     Opcode = 0xC6
	OpMultiplyI     Opcode = 0xC7
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandFormat describes how an opcode's immediate operands are encoded.
type OperandFormat uint8

const (
	OperandsNone   OperandFormat = iota
	OperandsU8                   // one byte
	OperandsS8                   // one signed byte (pushbyte)
	OperandsU30                  // one variable-length u30
	OperandsU30U30               // two u30 (index, argc)
	OperandsS24                  // branch offset
	OperandsSwitch               // s24 default, u30 count, s24 * (count+1)
	OperandsU32U32               // hasnext2 register pair
	OperandsDebug                // u8, u30, u8, u30
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string
	Operands    OperandFormat
	StackEffect int  // net depth change for the plain (compile-time name) form
	Variable    bool // effect depends on an argc operand
	Multiname   bool // first operand is a multiname index
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpBkpt:      {"bkpt", OperandsNone, 0, false, false},
	OpNop:       {"nop", OperandsNone, 0, false, false},
	OpLabel:     {"label", OperandsNone, 0, false, false},
	OpDebug:     {"debug", OperandsDebug, 0, false, false},
	OpDebugLine: {"debugline", OperandsU30, 0, false, false},
	OpDebugFile: {"debugfile", OperandsU30, 0, false, false},
	OpBkptLine:  {"bkptline", OperandsU30, 0, false, false},
	OpTimestamp: {"timestamp", OperandsNone, 0, false, false},

	OpThrow:        {"throw", OperandsNone, -1, false, false},
	OpIfNlt:        {"ifnlt", OperandsS24, -2, false, false},
	OpIfNle:        {"ifnle", OperandsS24, -2, false, false},
	OpIfNgt:        {"ifngt", OperandsS24, -2, false, false},
	OpIfNge:        {"ifnge", OperandsS24, -2, false, false},
	OpJump:         {"jump", OperandsS24, 0, false, false},
	OpIfTrue:       {"iftrue", OperandsS24, -1, false, false},
	OpIfFalse:      {"iffalse", OperandsS24, -1, false, false},
	OpIfEq:         {"ifeq", OperandsS24, -2, false, false},
	OpIfNe:         {"ifne", OperandsS24, -2, false, false},
	OpIfLt:         {"iflt", OperandsS24, -2, false, false},
	OpIfLe:         {"ifle", OperandsS24, -2, false, false},
	OpIfGt:         {"ifgt", OperandsS24, -2, false, false},
	OpIfGe:         {"ifge", OperandsS24, -2, false, false},
	OpIfStrictEq:   {"ifstricteq", OperandsS24, -2, false, false},
	OpIfStrictNe:   {"ifstrictne", OperandsS24, -2, false, false},
	OpLookupSwitch: {"lookupswitch", OperandsSwitch, -1, false, false},
	OpReturnVoid:   {"returnvoid", OperandsNone, 0, false, false},
	OpReturnValue:  {"returnvalue", OperandsNone, -1, false, false},

	OpKill:          {"kill", OperandsU30, 0, false, false},
	OpPushNull:      {"pushnull", OperandsNone, 1, false, false},
	OpPushUndefined: {"pushundefined", OperandsNone, 1, false, false},
	OpPushByte:      {"pushbyte", OperandsS8, 1, false, false},
	OpPushShort:     {"pushshort", OperandsU30, 1, false, false},
	OpPushTrue:      {"pushtrue", OperandsNone, 1, false, false},
	OpPushFalse:     {"pushfalse", OperandsNone, 1, false, false},
	OpPushNaN:       {"pushnan", OperandsNone, 1, false, false},
	OpPop:           {"pop", OperandsNone, -1, false, false},
	OpDup:           {"dup", OperandsNone, 1, false, false},
	OpSwap:          {"swap", OperandsNone, 0, false, false},
	OpPushString:    {"pushstring", OperandsU30, 1, false, false},
	OpPushInt:       {"pushint", OperandsU30, 1, false, false},
	OpPushUint:      {"pushuint", OperandsU30, 1, false, false},
	OpPushDouble:    {"pushdouble", OperandsU30, 1, false, false},
	OpPushNamespace: {"pushnamespace", OperandsU30, 1, false, false},
	OpGetLocal:      {"getlocal", OperandsU30, 1, false, false},
	OpSetLocal:      {"setlocal", OperandsU30, -1, false, false},
	OpGetLocal0:     {"getlocal_0", OperandsNone, 1, false, false},
	OpGetLocal1:     {"getlocal_1", OperandsNone, 1, false, false},
	OpGetLocal2:     {"getlocal_2", OperandsNone, 1, false, false},
	OpGetLocal3:     {"getlocal_3", OperandsNone, 1, false, false},
	OpSetLocal0:     {"setlocal_0", OperandsNone, -1, false, false},
	OpSetLocal1:     {"setlocal_1", OperandsNone, -1, false, false},
	OpSetLocal2:     {"setlocal_2", OperandsNone, -1, false, false},
	OpSetLocal3:     {"setlocal_3", OperandsNone, -1, false, false},

	OpPushWith:       {"pushwith", OperandsNone, -1, false, false},
	OpPopScope:       {"popscope", OperandsNone, 0, false, false},
	OpPushScope:      {"pushscope", OperandsNone, -1, false, false},
	OpGetGlobalScope: {"getglobalscope", OperandsNone, 1, false, false},
	OpGetScopeObject: {"getscopeobject", OperandsU8, 1, false, false},

	OpNextName:  {"nextname", OperandsNone, -1, false, false},
	OpHasNext:   {"hasnext", OperandsNone, -1, false, false},
	OpNextValue: {"nextvalue", OperandsNone, -1, false, false},
	OpHasNext2:  {"hasnext2", OperandsU32U32, 1, false, false},

	OpNewFunction:    {"newfunction", OperandsU30, 1, false, false},
	OpCall:           {"call", OperandsU30, -1, true, false},
	OpConstruct:      {"construct", OperandsU30, 0, true, false},
	OpCallMethod:     {"callmethod", OperandsU30U30, 0, true, false},
	OpCallStatic:     {"callstatic", OperandsU30U30, 0, true, false},
	OpCallSuper:      {"callsuper", OperandsU30U30, 0, true, true},
	OpCallProperty:   {"callproperty", OperandsU30U30, 0, true, true},
	OpConstructSuper: {"constructsuper", OperandsU30, -1, true, false},
	OpConstructProp:  {"constructprop", OperandsU30U30, 0, true, true},
	OpCallPropLex:    {"callproplex", OperandsU30U30, 0, true, true},
	OpCallSuperVoid:  {"callsupervoid", OperandsU30U30, -1, true, true},
	OpCallPropVoid:   {"callpropvoid", OperandsU30U30, -1, true, true},
	OpApplyType:      {"applytype", OperandsU30, 0, true, false},
	OpNewObject:      {"newobject", OperandsU30, 1, true, false},
	OpNewArray:       {"newarray", OperandsU30, 1, true, false},
	OpNewActivation:  {"newactivation", OperandsNone, 1, false, false},
	OpNewClass:       {"newclass", OperandsU30, 0, false, false},
	OpNewCatch:       {"newcatch", OperandsU30, 1, false, false},

	OpGetSuper:       {"getsuper", OperandsU30, 0, false, true},
	OpSetSuper:       {"setsuper", OperandsU30, -2, false, true},
	OpGetDescendants: {"getdescendants", OperandsU30, 0, false, true},
	OpFindPropStrict: {"findpropstrict", OperandsU30, 1, false, true},
	OpFindProperty:   {"findproperty", OperandsU30, 1, false, true},
	OpFindDef:        {"finddef", OperandsU30, 1, false, true},
	OpGetLex:         {"getlex", OperandsU30, 1, false, true},
	OpSetProperty:    {"setproperty", OperandsU30, -2, false, true},
	OpGetProperty:    {"getproperty", OperandsU30, 0, false, true},
	OpInitProperty:   {"initproperty", OperandsU30, -2, false, true},
	OpDeleteProperty: {"deleteproperty", OperandsU30, 0, false, true},
	OpGetSlot:        {"getslot", OperandsU30, 0, false, false},
	OpSetSlot:        {"setslot", OperandsU30, -2, false, false},
	OpGetGlobalSlot:  {"getglobalslot", OperandsU30, 1, false, false},
	OpSetGlobalSlot:  {"setglobalslot", OperandsU30, -1, false, false},

	OpDxns:        {"dxns", OperandsU30, 0, false, false},
	OpDxnsLate:    {"dxnslate", OperandsNone, -1, false, false},
	OpEscXElem:    {"esc_xelem", OperandsNone, 0, false, false},
	OpEscXAttr:    {"esc_xattr", OperandsNone, 0, false, false},
	OpCheckFilter: {"checkfilter", OperandsNone, 0, false, false},

	OpConvertS:   {"convert_s", OperandsNone, 0, false, false},
	OpConvertI:   {"convert_i", OperandsNone, 0, false, false},
	OpConvertU:   {"convert_u", OperandsNone, 0, false, false},
	OpConvertD:   {"convert_d", OperandsNone, 0, false, false},
	OpConvertB:   {"convert_b", OperandsNone, 0, false, false},
	OpConvertO:   {"convert_o", OperandsNone, 0, false, false},
	OpCoerce:     {"coerce", OperandsU30, 0, false, true},
	OpCoerceB:    {"coerce_b", OperandsNone, 0, false, false},
	OpCoerceA:    {"coerce_a", OperandsNone, 0, false, false},
	OpCoerceI:    {"coerce_i", OperandsNone, 0, false, false},
	OpCoerceD:    {"coerce_d", OperandsNone, 0, false, false},
	OpCoerceS:    {"coerce_s", OperandsNone, 0, false, false},
	OpAsType:     {"astype", OperandsU30, 0, false, true},
	OpAsTypeLate: {"astypelate", OperandsNone, -1, false, false},
	OpCoerceU:    {"coerce_u", OperandsNone, 0, false, false},
	OpCoerceO:    {"coerce_o", OperandsNone, 0, false, false},
	OpInstanceOf: {"instanceof", OperandsNone, -1, false, false},
	OpIsType:     {"istype", OperandsU30, 0, false, true},
	OpIsTypeLate: {"istypelate", OperandsNone, -1, false, false},
	OpIn:         {"in", OperandsNone, -1, false, false},
	OpTypeOf:     {"typeof", OperandsNone, 0, false, false},

	OpNegate:        {"negate", OperandsNone, 0, false, false},
	OpIncrement:     {"increment", OperandsNone, 0, false, false},
	OpIncLocal:      {"inclocal", OperandsU30, 0, false, false},
	OpDecrement:     {"decrement", OperandsNone, 0, false, false},
	OpDecLocal:      {"declocal", OperandsU30, 0, false, false},
	OpNot:           {"not", OperandsNone, 0, false, false},
	OpBitNot:        {"bitnot", OperandsNone, 0, false, false},
	OpAdd:           {"add", OperandsNone, -1, false, false},
	OpSubtract:      {"subtract", OperandsNone, -1, false, false},
	OpMultiply:      {"multiply", OperandsNone, -1, false, false},
	OpDivide:        {"divide", OperandsNone, -1, false, false},
	OpModulo:        {"modulo", OperandsNone, -1, false, false},
	OpLShift:        {"lshift", OperandsNone, -1, false, false},
	OpRShift:        {"rshift", OperandsNone, -1, false, false},
	OpURShift:       {"urshift", OperandsNone, -1, false, false},
	OpBitAnd:        {"bitand", OperandsNone, -1, false, false},
	OpBitOr:         {"bitor", OperandsNone, -1, false, false},
	OpBitXor:        {"bitxor", OperandsNone, -1, false, false},
	OpEquals:        {"equals", OperandsNone, -1, false, false},
	OpStrictEquals:  {"strictequals", OperandsNone, -1, false, false},
	OpLessThan:      {"lessthan", OperandsNone, -1, false, false},
	OpLessEquals:    {"lessequals", OperandsNone, -1, false, false},
	OpGreaterThan:   {"greaterthan", OperandsNone, -1, false, false},
	OpGreaterEquals: {"greaterequals", OperandsNone, -1, false, false},
	OpIncrementI:    {"increment_i", OperandsNone, 0, false, false},
	OpDecrementI:    {"decrement_i", OperandsNone, 0, false, false},
	OpIncLocalI:     {"inclocal_i", OperandsU30, 0, false, false},
	OpDecLocalI:     {"declocal_i", OperandsU30, 0, false, false},
	OpNegateI:       {"negate_i", OperandsNone, 0, false, false},
	OpAddI:          {"add_i", OperandsNone, -1, false, false},
	OpSubtractI:     {"subtract_i", OperandsNone, -1, false, false},
	OpMultiplyI:     {"multiply_i", OperandsNone, -1, false, false},
}

// opcodesByName is the reverse of opcodeTable, used by the assembler.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// Known reports whether op is part of the instruction set.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// OpcodeByName looks up an opcode by mnemonic.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// Opcodes returns every known opcode.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, len(opcodeTable))
	for op := range opcodeTable {
		out = append(out, op)
	}
	return out
}
