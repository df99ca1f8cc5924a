package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Primitive conversions
//
// These functions never run script code. Objects convert through their
// class name only; the interpreter calls valueOf/toString first where the
// language requires it (see Interpreter.toPrimitive).
// ---------------------------------------------------------------------------

// ToNumber converts v to a double. Strings that are not numeric literals
// yield NaN.
func ToNumber(v Value) float64 {
	switch v.kind {
	case KindUndefined:
		return math.NaN()
	case KindNull:
		return 0
	case KindBoolean:
		if v.AsBool() {
			return 1
		}
		return 0
	case KindInt:
		return float64(v.AsInt())
	case KindUint:
		return float64(v.AsUint())
	case KindDouble:
		return v.AsDouble()
	case KindString, KindNamespace:
		return StringToNumber(v.str)
	}
	return math.NaN()
}

// StringToNumber parses a numeric literal the way the language does:
// surrounding whitespace is ignored, the empty string is 0, hex integers
// are accepted, anything else that is not a decimal literal is NaN.
func StringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	neg := false
	body := s
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}
	var f float64
	switch {
	case body == "Infinity":
		f = math.Inf(1)
	case len(body) > 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X'):
		u, err := strconv.ParseUint(body[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		f = float64(u)
	case isDecimalLiteral(body):
		var err error
		f, err = strconv.ParseFloat(body, 64)
		if err != nil && !math.IsInf(f, 0) {
			return math.NaN()
		}
	default:
		return math.NaN()
	}
	if neg {
		return -f
	}
	return f
}

// isDecimalLiteral accepts digits [. digits] [e[+-]digits] with at least one
// mantissa digit. strconv alone would also accept "inf", "nan" and hex floats.
func isDecimalLiteral(s string) bool {
	i, digits := 0, 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exp := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}

// DoubleToInt32 truncates f toward zero and wraps it modulo 2^32.
func DoubleToInt32(f float64) int32 {
	return int32(DoubleToUint32(f))
}

// DoubleToUint32 truncates f toward zero and wraps it modulo 2^32. NaN and
// infinities become 0.
func DoubleToUint32(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	t := math.Trunc(f)
	m := math.Mod(t, 4294967296)
	if m < 0 {
		m += 4294967296
	}
	return uint32(m)
}

// ToInt32 converts v to a signed 32-bit integer.
func ToInt32(v Value) int32 {
	switch v.kind {
	case KindInt:
		return v.AsInt()
	case KindUint:
		return int32(v.AsUint())
	}
	return DoubleToInt32(ToNumber(v))
}

// ToUint32 converts v to an unsigned 32-bit integer.
func ToUint32(v Value) uint32 {
	switch v.kind {
	case KindInt:
		return uint32(v.AsInt())
	case KindUint:
		return v.AsUint()
	}
	return DoubleToUint32(ToNumber(v))
}

// ToBoolean converts v to a boolean.
func ToBoolean(v Value) bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBoolean:
		return v.AsBool()
	case KindInt:
		return v.AsInt() != 0
	case KindUint:
		return v.AsUint() != 0
	case KindDouble:
		f := v.AsDouble()
		return f != 0 && !math.IsNaN(f)
	case KindString:
		return v.str != ""
	}
	return true
}

// ToString converts v to a string.
func ToString(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(int64(v.AsInt()), 10)
	case KindUint:
		return strconv.FormatUint(uint64(v.AsUint()), 10)
	case KindDouble:
		return NumberToString(v.AsDouble())
	case KindString, KindNamespace:
		return v.str
	case KindObject:
		return v.obj.String()
	}
	return ""
}

// NumberToString formats f with the shortest round-tripping digits, using
// exponent notation outside [1e-6, 1e21).
func NumberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case f == 0:
		return "0"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f < 0:
		return "-" + NumberToString(-f)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	digits := strings.Replace(mant, ".", "", 1)
	e, _ := strconv.Atoi(exp)
	k, n := len(digits), e+1
	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}
	sign := "+"
	if n-1 < 0 {
		sign = "-"
	}
	ex := strconv.Itoa(abs(n - 1))
	if k == 1 {
		return digits + "e" + sign + ex
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + ex
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// ---------------------------------------------------------------------------
// Equality and comparison
// ---------------------------------------------------------------------------

// StrictEquals never converts: values of different kinds are unequal,
// except that the three numeric kinds compare by value.
func StrictEquals(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return numericEquals(a, b)
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean:
		return a.bits == b.bits
	case KindString:
		return a.str == b.str
	case KindNamespace:
		return a.AsNamespace() == b.AsNamespace()
	case KindObject:
		return a.obj == b.obj
	}
	return false
}

func numericEquals(a, b Value) bool {
	if a.kind == b.kind && a.kind != KindDouble {
		return a.bits == b.bits
	}
	return ToNumber(a) == ToNumber(b)
}

// WeakEquals implements abstract equality for primitive operands. An object
// compared with a primitive must be converted by the caller first; here it
// is simply unequal.
func WeakEquals(a, b Value) bool {
	switch {
	case a.IsNumber() && b.IsNumber():
		return numericEquals(a, b)
	case a.kind == b.kind:
		return StrictEquals(a, b)
	case a.IsNullish() && b.IsNullish():
		return true
	case a.IsNullish() || b.IsNullish():
		return false
	case a.kind == KindBoolean:
		return WeakEquals(Double(ToNumber(a)), b)
	case b.kind == KindBoolean:
		return WeakEquals(a, Double(ToNumber(b)))
	case a.IsNumber() && b.kind == KindString:
		return ToNumber(a) == ToNumber(b)
	case a.kind == KindString && b.IsNumber():
		return ToNumber(a) == ToNumber(b)
	case a.kind == KindNamespace && b.kind == KindString, a.kind == KindString && b.kind == KindNamespace:
		return a.str == b.str
	}
	return false
}

// Compare evaluates a < b for primitive operands. undefined reports that a
// NaN was involved, which makes every relational operator false.
func Compare(a, b Value) (less, undefined bool) {
	if a.kind == KindString && b.kind == KindString {
		return lessUTF16(a.str, b.str), false
	}
	if a.kind == KindInt && b.kind == KindInt {
		return a.AsInt() < b.AsInt(), false
	}
	x, y := ToNumber(a), ToNumber(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false, true
	}
	return x < y, false
}

// lessUTF16 orders strings by UTF-16 code units. Byte order agrees except
// where a supplementary character meets one in U+E000..U+FFFF.
func lessUTF16(a, b string) bool {
	for a != "" && b != "" {
		ra, na := utf8.DecodeRuneInString(a)
		rb, nb := utf8.DecodeRuneInString(b)
		if ra != rb {
			a1, a2 := codeUnits(ra)
			b1, b2 := codeUnits(rb)
			if a1 != b1 {
				return a1 < b1
			}
			return a2 < b2
		}
		a, b = a[na:], b[nb:]
	}
	return a == "" && b != ""
}

// codeUnits returns the UTF-16 encoding of r; the second unit is -1 for
// characters in the basic plane.
func codeUnits(r rune) (rune, rune) {
	if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
		return r1, r2
	}
	return r, -1
}

// TypeOf returns the typeof string for v.
func TypeOf(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindBoolean:
		return "boolean"
	case KindInt, KindUint, KindDouble:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		if v.obj.fn != nil {
			return "function"
		}
	}
	return "object"
}

// ---------------------------------------------------------------------------
// Arithmetic on primitives
// ---------------------------------------------------------------------------

// AddNumbers adds two numeric values, staying in int while the sum fits.
func AddNumbers(a, b Value) Value {
	if a.kind == KindInt && b.kind == KindInt {
		return Number(float64(a.AsInt()) + float64(b.AsInt()))
	}
	return Number(ToNumber(a) + ToNumber(b))
}

// Modulo is the truncating remainder, which math.Mod already is.
func Modulo(x, y float64) float64 {
	return math.Mod(x, y)
}

// EscapeXMLElem escapes text content.
func EscapeXMLElem(s string) string {
	return xmlElemEscaper.Replace(s)
}

// EscapeXMLAttr escapes an attribute value.
func EscapeXMLAttr(s string) string {
	return xmlAttrEscaper.Replace(s)
}

var (
	xmlElemEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	xmlAttrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", "\"", "&quot;",
		"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;")
)
