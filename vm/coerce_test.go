package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ---------------------------------------------------------------------------
// Numeric representation
// ---------------------------------------------------------------------------

func TestNumberNarrowing(t *testing.T) {
	assert.Equal(t, KindInt, Number(3).Kind())
	assert.Equal(t, KindDouble, Number(1.5).Kind())
	assert.Equal(t, KindDouble, Number(math.Copysign(0, -1)).Kind(), "negative zero stays a double")
	assert.Equal(t, KindDouble, Number(4294967296).Kind())
	assert.Equal(t, KindInt, Number(math.MinInt32).Kind())
}

func TestToInt32(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{4294967296.5, 0},
		{-1.5, -1},
		{2147483648, math.MinInt32},
		{4294967295, -1},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{1e21, -559939584},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DoubleToInt32(tt.in), "DoubleToInt32(%v)", tt.in)
	}
	assert.Equal(t, uint32(4294967295), DoubleToUint32(-1))
	assert.Equal(t, int32(16), ToInt32(String("0x10")))
	assert.Equal(t, int32(-1), ToInt32(Uint(math.MaxUint32)))
	assert.Equal(t, uint32(math.MaxUint32), ToUint32(Int(-1)))
}

func TestStringToNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"  12  ", 12},
		{"-3.5", -3.5},
		{"1e3", 1000},
		{".5", 0.5},
		{"0x1F", 31},
		{"-Infinity", math.Inf(-1)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StringToNumber(tt.in), "StringToNumber(%q)", tt.in)
	}
	for _, s := range []string{"abc", "1e", "inf", "nan", "12px", "0x", "."} {
		assert.True(t, math.IsNaN(StringToNumber(s)), "StringToNumber(%q) should be NaN", s)
	}
}

func TestNumberToString(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{123, "123"},
		{1.5, "1.5"},
		{-0.25, "-0.25"},
		{math.Copysign(0, -1), "0"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{1e21, "1e+21"},
		{1.5e22, "1.5e+22"},
		{1e20, "100000000000000000000"},
		{math.NaN(), "NaN"},
		{math.Inf(-1), "-Infinity"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NumberToString(tt.in), "NumberToString(%v)", tt.in)
	}
}

func TestToBoolean(t *testing.T) {
	falsy := []Value{Undefined, Null, False, Int(0), Uint(0), Double(0), NaN, String("")}
	for _, v := range falsy {
		assert.False(t, ToBoolean(v), "%#v", v)
	}
	truthy := []Value{True, Int(-1), Double(0.1), String("0"), String("false")}
	for _, v := range truthy {
		assert.True(t, ToBoolean(v), "%#v", v)
	}
}

// ---------------------------------------------------------------------------
// Equality and comparison
// ---------------------------------------------------------------------------

func TestEquality(t *testing.T) {
	tests := []struct {
		a, b         Value
		weak, strict bool
	}{
		{Int(1), String("1"), true, false},
		{Int(1), Double(1), true, true},
		{Uint(7), Int(7), true, true},
		{NaN, NaN, false, false},
		{Null, Undefined, true, false},
		{Null, Int(0), false, false},
		{True, Int(1), true, false},
		{String("a"), String("a"), true, true},
		{String(""), Int(0), true, false},
		{NamespaceValue(Namespace{Kind: NamespaceNamespace, URI: "u"}), String("u"), true, false},
		{NamespaceValue(Namespace{Kind: NamespaceNamespace, URI: "u"}), NamespaceValue(Namespace{Kind: NamespaceNamespace, URI: "u"}), true, true},
		{NamespaceValue(Namespace{Kind: NamespacePackage, URI: "u"}), NamespaceValue(Namespace{Kind: NamespaceNamespace, URI: "u"}), false, false},
		{NamespaceValue(Namespace{Kind: NamespacePrivate, URI: "u", ID: 1}), NamespaceValue(Namespace{Kind: NamespacePrivate, URI: "u", ID: 2}), false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.weak, WeakEquals(tt.a, tt.b), "%#v == %#v", tt.a, tt.b)
		assert.Equal(t, tt.weak, WeakEquals(tt.b, tt.a), "%#v == %#v", tt.b, tt.a)
		assert.Equal(t, tt.strict, StrictEquals(tt.a, tt.b), "%#v === %#v", tt.a, tt.b)
	}
}

func TestCompare(t *testing.T) {
	less, undef := Compare(Int(1), Int(2))
	assert.True(t, less)
	assert.False(t, undef)

	less, _ = Compare(String("b"), String("a"))
	assert.False(t, less)

	less, _ = Compare(String("10"), Int(9))
	assert.False(t, less, "mixed operands compare numerically")

	// U+1F600 encodes as D83D DE00, which sorts below U+FFFD in UTF-16
	// although its UTF-8 bytes sort above.
	less, _ = Compare(String("\U0001F600"), String("\uFFFD"))
	assert.True(t, less)
	less, _ = Compare(String("ab"), String("abc"))
	assert.True(t, less)
	less, _ = Compare(String("abc"), String("abc"))
	assert.False(t, less)

	_, undef = Compare(NaN, Int(1))
	assert.True(t, undef)
	_, undef = Compare(Undefined, Int(1))
	assert.True(t, undef)
}

func TestTypeOf(t *testing.T) {
	d := NewDomain()
	assert.Equal(t, "undefined", TypeOf(Undefined))
	assert.Equal(t, "object", TypeOf(Null))
	assert.Equal(t, "number", TypeOf(Uint(1)))
	assert.Equal(t, "string", TypeOf(String("")))
	assert.Equal(t, "boolean", TypeOf(False))
	assert.Equal(t, "object", TypeOf(ObjectValue(d.NewObject())))
	trace, ok := d.Global().Get("trace")
	assert.True(t, ok)
	assert.Equal(t, "function", TypeOf(trace))
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "a &lt;b&gt; &amp; c", EscapeXMLElem("a <b> & c"))
	assert.Equal(t, "&quot;x&quot;&#xA;", EscapeXMLAttr("\"x\"\n"))
}
