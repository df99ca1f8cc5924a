package vm

import (
	"fmt"
	"math"
)

// Kind identifies which variant of the Value sum type is populated.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindInt
	KindUint
	KindDouble
	KindString
	KindNamespace
	KindObject
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindNull:      "null",
	KindBoolean:   "Boolean",
	KindInt:       "int",
	KindUint:      "uint",
	KindDouble:    "Number",
	KindString:    "String",
	KindNamespace: "Namespace",
	KindObject:    "Object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a runtime value.
//
// Every variant except KindObject is a plain value type. Objects are held by
// pointer; the garbage collector provides the shared ownership the object
// graph needs, so a Value can be copied freely.
//
// Layout:
//   - Boolean, Int, Uint: bits holds the payload
//   - Double: bits holds the IEEE 754 pattern
//   - String: str holds the text
//   - Namespace: str holds the URI, bits packs kind and private id
//   - Object: obj holds the handle
type Value struct {
	kind Kind
	bits uint64
	str  string
	obj  *Object
}

// Pre-defined values.
var (
	Undefined = Value{kind: KindUndefined}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBoolean, bits: 1}
	False     = Value{kind: KindBoolean, bits: 0}
	NaN       = Double(math.NaN())
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int wraps a signed 32-bit integer.
func Int(i int32) Value {
	return Value{kind: KindInt, bits: uint64(uint32(i))}
}

// Uint wraps an unsigned 32-bit integer.
func Uint(u uint32) Value {
	return Value{kind: KindUint, bits: uint64(u)}
}

// Double wraps a float64.
func Double(f float64) Value {
	return Value{kind: KindDouble, bits: math.Float64bits(f)}
}

// Number picks the narrowest numeric representation for f. Integral values
// inside the int32 range become Int so that int-typed arithmetic stays cheap.
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 && !(f == 0 && math.Signbit(f)) {
		return Int(int32(f))
	}
	return Double(f)
}

// String wraps a string.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// NamespaceValue wraps a namespace.
func NamespaceValue(ns Namespace) Value {
	return Value{kind: KindNamespace, str: ns.URI, bits: uint64(ns.Kind)<<32 | uint64(ns.ID)}
}

// ObjectValue wraps an object handle. A nil handle yields Null.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsObject() bool    { return v.kind == KindObject }
func (v Value) IsString() bool    { return v.kind == KindString }

// IsNullish reports whether v is null or undefined.
func (v Value) IsNullish() bool {
	return v.kind == KindUndefined || v.kind == KindNull
}

// IsNumber reports whether v is one of the numeric variants.
func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindUint || v.kind == KindDouble
}

// AsBool returns the boolean payload. Only valid for KindBoolean.
func (v Value) AsBool() bool { return v.bits != 0 }

// AsInt returns the int32 payload. Only valid for KindInt.
func (v Value) AsInt() int32 { return int32(uint32(v.bits)) }

// AsUint returns the uint32 payload. Only valid for KindUint.
func (v Value) AsUint() uint32 { return uint32(v.bits) }

// AsDouble returns the float64 payload. Only valid for KindDouble.
func (v Value) AsDouble() float64 { return math.Float64frombits(v.bits) }

// AsString returns the string payload. Only valid for KindString.
func (v Value) AsString() string { return v.str }

// AsNamespace returns the namespace payload. Only valid for KindNamespace.
func (v Value) AsNamespace() Namespace {
	return Namespace{Kind: NamespaceKind(v.bits >> 32), URI: v.str, ID: uint32(v.bits)}
}

// AsObject returns the object handle, or nil when v is not an object.
func (v Value) AsObject() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// GoString renders the value for debugging and disassembly.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindNamespace:
		return v.AsNamespace().String()
	case KindObject:
		return v.obj.String()
	default:
		return ToString(v)
	}
}

func (v Value) String() string {
	return v.GoString()
}
