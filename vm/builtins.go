package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Builtin classes
//
// Only the surface the interpreter itself depends on is provided: the root
// classes, the primitive wrappers, Array for newarray and rest arguments, and
// the error hierarchy the VM throws.
// ---------------------------------------------------------------------------

func (d *Domain) installBuiltins() {
	d.global = &Object{dynamic: true}

	d.objectClass = d.builtinClass("Object", nil, 0, nil)
	d.classClass = d.builtinClass("Class", d.objectClass, ClassSealed|ClassFinal, nil)
	d.functionClass = d.builtinClass("Function", d.objectClass, 0, nil)
	// These three exist before their metaclass and root prototype do.
	for _, c := range []*Class{d.objectClass, d.classClass, d.functionClass} {
		c.Object.class = d.classClass
		c.Object.proto = d.classClass.Prototype
		c.Prototype.class = d.objectClass
	}
	d.global.class = d.objectClass
	d.global.proto = d.objectClass.Prototype

	d.installObject()
	d.installFunction()

	d.namespaceClass = d.builtinClass("Namespace", d.objectClass, ClassSealed|ClassFinal, nil)
	d.booleanClass = d.builtinClass("Boolean", d.objectClass, ClassSealed|ClassFinal, nil)
	d.numberClass = d.builtinClass("Number", d.objectClass, ClassSealed|ClassFinal, nil)
	d.intClass = d.builtinClass("int", d.objectClass, ClassSealed|ClassFinal, nil)
	d.uintClass = d.builtinClass("uint", d.objectClass, ClassSealed|ClassFinal, nil)
	d.stringClass = d.builtinClass("String", d.objectClass, ClassSealed|ClassFinal, nil)
	d.arrayClass = d.builtinClass("Array", d.objectClass, 0, arrayInit)

	d.installPrimitives()
	d.installString()
	d.installArray()
	d.installErrors()
	d.installGlobals()
}

func (d *Domain) builtinClass(name string, super *Class, flags ClassFlags, iinit NativeFunc) *Class {
	c := &Class{Name: PublicName(name), Super: super, Flags: flags}
	var inherited *Traits
	var proto *Object
	if super != nil {
		inherited = super.Instance
		proto = super.Prototype
	}
	c.Instance = NewTraits(inherited)
	c.Static = NewTraits(nil)
	c.Prototype = &Object{class: d.objectClass, proto: proto, dynamic: true}
	if iinit == nil {
		iinit = func(*Interpreter, Value, []Value) (Value, error) { return Undefined, nil }
	}
	c.IInit = NativeMethod(name, iinit)
	c.IInit.Declarer = c
	addPrototypeGetter(c)
	d.newClassObject(c)
	d.classes[c.Name] = c
	d.global.Define(name, ObjectValue(c.Object))
	return c
}

func addPrototypeGetter(c *Class) {
	c.Static.AddGetter(PublicName("prototype"), NativeMethod(c.Name.Local+".prototype",
		func(*Interpreter, Value, []Value) (Value, error) {
			return ObjectValue(c.Prototype), nil
		}), c)
}

func (d *Domain) protoMethod(c *Class, name string, fn NativeFunc) {
	m := NativeMethod(c.Name.Local+"."+name, fn)
	m.Declarer = c
	c.Prototype.Define(name, ObjectValue(d.newFunction(m, nil, Undefined, false)))
}

func instanceGetter(c *Class, name string, fn NativeFunc) {
	m := NativeMethod(c.Name.Local+"."+name, fn)
	m.Declarer = c
	c.Instance.AddGetter(PublicName(name), m, c)
}

func instanceSetter(c *Class, name string, fn NativeFunc) {
	m := NativeMethod(c.Name.Local+"."+name, fn)
	m.Declarer = c
	c.Instance.AddSetter(PublicName(name), m, c)
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// ---------------------------------------------------------------------------
// Object and Function
// ---------------------------------------------------------------------------

func (d *Domain) installObject() {
	c := d.objectClass
	d.protoMethod(c, "hasOwnProperty", func(in *Interpreter, this Value, args []Value) (Value, error) {
		key := ToString(arg(args, 0))
		if o := this.AsObject(); o != nil {
			if o.Has(key) {
				return True, nil
			}
			return Bool(o.traits != nil && o.traits.Find(PublicName(key)) != nil), nil
		}
		return False, nil
	})
	d.protoMethod(c, "propertyIsEnumerable", func(in *Interpreter, this Value, args []Value) (Value, error) {
		key := ToString(arg(args, 0))
		if o := this.AsObject(); o != nil {
			for _, k := range o.keys {
				if k == key {
					return True, nil
				}
			}
		}
		return False, nil
	})
	d.protoMethod(c, "toString", func(in *Interpreter, this Value, args []Value) (Value, error) {
		if o := this.AsObject(); o != nil {
			return String(o.String()), nil
		}
		return String("[object " + in.domain.classFor(this).Name.Local + "]"), nil
	})
	d.protoMethod(c, "valueOf", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return this, nil
	})
}

func (d *Domain) installFunction() {
	c := d.functionClass
	d.protoMethod(c, "call", func(in *Interpreter, this Value, args []Value) (Value, error) {
		var rest []Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return in.callValue(this, arg(args, 0), rest)
	})
	d.protoMethod(c, "apply", func(in *Interpreter, this Value, args []Value) (Value, error) {
		var list []Value
		if a := arg(args, 1).AsObject(); a != nil {
			list = a.Elements()
		}
		return in.callValue(this, arg(args, 0), list)
	})
}

// ---------------------------------------------------------------------------
// Primitive wrappers
// ---------------------------------------------------------------------------

func (d *Domain) installPrimitives() {
	d.booleanClass.call = func(in *Interpreter, this Value, args []Value) (Value, error) {
		return Bool(ToBoolean(arg(args, 0))), nil
	}
	d.booleanClass.IInit.Native = func(in *Interpreter, this Value, args []Value) (Value, error) {
		return Bool(ToBoolean(arg(args, 0))), nil
	}
	d.protoMethod(d.booleanClass, "toString", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(ToString(this)), nil
	})
	d.protoMethod(d.booleanClass, "valueOf", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return this, nil
	})

	numeric := []struct {
		c    *Class
		conv func(Value) Value
	}{
		{d.numberClass, func(v Value) Value { return Double(ToNumber(v)) }},
		{d.intClass, func(v Value) Value { return Int(ToInt32(v)) }},
		{d.uintClass, func(v Value) Value { return Uint(ToUint32(v)) }},
	}
	for _, n := range numeric {
		conv := n.conv
		n.c.call = func(in *Interpreter, this Value, args []Value) (Value, error) {
			p, err := in.toPrimitive(arg(args, 0), hintNumber)
			if err != nil {
				return Undefined, err
			}
			if len(args) == 0 {
				p = Int(0)
			}
			return conv(p), nil
		}
		n.c.IInit.Native = n.c.call
		d.protoMethod(n.c, "toString", numberToStringNative)
		d.protoMethod(n.c, "valueOf", func(in *Interpreter, this Value, args []Value) (Value, error) {
			return this, nil
		})
		d.protoMethod(n.c, "toFixed", func(in *Interpreter, this Value, args []Value) (Value, error) {
			digits := int(ToInt32(arg(args, 0)))
			if digits < 0 || digits > 20 {
				return Undefined, in.throwError(KindRangeError, "The precision %d is out of range.", digits)
			}
			return String(strconv.FormatFloat(ToNumber(this), 'f', digits, 64)), nil
		})
	}
	d.numberClass.Object.Define("NaN", NaN)
	d.numberClass.Object.Define("POSITIVE_INFINITY", Double(math.Inf(1)))
	d.numberClass.Object.Define("NEGATIVE_INFINITY", Double(math.Inf(-1)))
	d.numberClass.Object.Define("MAX_VALUE", Double(math.MaxFloat64))
	d.intClass.Object.Define("MAX_VALUE", Int(math.MaxInt32))
	d.intClass.Object.Define("MIN_VALUE", Int(math.MinInt32))
	d.uintClass.Object.Define("MAX_VALUE", Uint(math.MaxUint32))

	d.namespaceClass.call = func(in *Interpreter, this Value, args []Value) (Value, error) {
		v := arg(args, 0)
		if v.Kind() == KindNamespace {
			return v, nil
		}
		s, err := in.toString(v)
		if err != nil {
			return Undefined, err
		}
		return NamespaceValue(Namespace{Kind: NamespaceNamespace, URI: s}), nil
	}
	d.namespaceClass.IInit.Native = d.namespaceClass.call
	instanceGetter(d.namespaceClass, "uri", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(this.AsNamespace().URI), nil
	})
	d.protoMethod(d.namespaceClass, "toString", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(ToString(this)), nil
	})
}

func numberToStringNative(in *Interpreter, this Value, args []Value) (Value, error) {
	radix := 10
	if r := arg(args, 0); !r.IsUndefined() {
		radix = int(ToInt32(r))
	}
	if radix < 2 || radix > 36 {
		return Undefined, in.throwError(KindRangeError, "The radix argument must be between 2 and 36; got %d.", radix)
	}
	f := ToNumber(this)
	if radix == 10 || f != math.Trunc(f) || math.IsInf(f, 0) {
		return String(NumberToString(f)), nil
	}
	return String(strconv.FormatInt(int64(f), radix)), nil
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

func (d *Domain) installString() {
	c := d.stringClass
	c.call = func(in *Interpreter, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return String(""), nil
		}
		s, err := in.toString(args[0])
		return String(s), err
	}
	c.IInit.Native = c.call
	instanceGetter(c, "length", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return Int(int32(len(utf16.Encode([]rune(ToString(this)))))), nil
	})
	units := func(v Value) []uint16 { return utf16.Encode([]rune(ToString(v))) }
	d.protoMethod(c, "charAt", func(in *Interpreter, this Value, args []Value) (Value, error) {
		u := units(this)
		i := int(ToInt32(arg(args, 0)))
		if i < 0 || i >= len(u) {
			return String(""), nil
		}
		return String(string(utf16.Decode(u[i : i+1]))), nil
	})
	d.protoMethod(c, "charCodeAt", func(in *Interpreter, this Value, args []Value) (Value, error) {
		u := units(this)
		i := int(ToInt32(arg(args, 0)))
		if i < 0 || i >= len(u) {
			return NaN, nil
		}
		return Int(int32(u[i])), nil
	})
	d.protoMethod(c, "indexOf", func(in *Interpreter, this Value, args []Value) (Value, error) {
		s, sub := ToString(this), ToString(arg(args, 0))
		i := strings.Index(s, sub)
		if i < 0 {
			return Int(-1), nil
		}
		return Int(int32(len(utf16.Encode([]rune(s[:i]))))), nil
	})
	d.protoMethod(c, "substring", func(in *Interpreter, this Value, args []Value) (Value, error) {
		u := units(this)
		clamp := func(v Value, def int) int {
			if v.IsUndefined() {
				return def
			}
			f := ToNumber(v)
			switch {
			case math.IsNaN(f) || f < 0:
				return 0
			case f > float64(len(u)):
				return len(u)
			}
			return int(f)
		}
		start, end := clamp(arg(args, 0), 0), clamp(arg(args, 1), len(u))
		if start > end {
			start, end = end, start
		}
		return String(string(utf16.Decode(u[start:end]))), nil
	})
	d.protoMethod(c, "toUpperCase", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(strings.ToUpper(ToString(this))), nil
	})
	d.protoMethod(c, "toLowerCase", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(strings.ToLower(ToString(this))), nil
	})
	d.protoMethod(c, "toString", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(ToString(this)), nil
	})
	d.protoMethod(c, "valueOf", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return String(ToString(this)), nil
	})
}

// ---------------------------------------------------------------------------
// Array
// ---------------------------------------------------------------------------

func arrayInit(in *Interpreter, this Value, args []Value) (Value, error) {
	o := this.AsObject()
	if o == nil {
		return Undefined, nil
	}
	if _, ok := o.Native.(*arrayState); !ok {
		o.Native = &arrayState{}
	}
	if len(args) == 1 && args[0].IsNumber() {
		n := ToNumber(args[0])
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint32 {
			return Undefined, in.throwError(KindRangeError, "Array index is not a positive integer (%s).", NumberToString(n))
		}
		o.setLength(uint32(n))
		return Undefined, nil
	}
	for i, v := range args {
		o.Put(strconv.Itoa(i), v)
	}
	return Undefined, nil
}

func (d *Domain) installArray() {
	c := d.arrayClass
	c.call = func(in *Interpreter, this Value, args []Value) (Value, error) {
		o := in.domain.NewArray(nil)
		_, err := arrayInit(in, ObjectValue(o), args)
		return ObjectValue(o), err
	}
	instanceGetter(c, "length", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return Uint(this.AsObject().length()), nil
	})
	instanceSetter(c, "length", func(in *Interpreter, this Value, args []Value) (Value, error) {
		o := this.AsObject()
		n := ToUint32(arg(args, 0))
		o.setLength(n)
		return Undefined, nil
	})
	d.protoMethod(c, "push", func(in *Interpreter, this Value, args []Value) (Value, error) {
		o := this.AsObject()
		if o == nil {
			return Undefined, nil
		}
		for _, v := range args {
			o.Put(strconv.FormatUint(uint64(o.length()), 10), v)
		}
		return Uint(o.length()), nil
	})
	d.protoMethod(c, "pop", func(in *Interpreter, this Value, args []Value) (Value, error) {
		o := this.AsObject()
		if o == nil || o.length() == 0 {
			return Undefined, nil
		}
		n := o.length() - 1
		v, _ := o.Get(strconv.FormatUint(uint64(n), 10))
		o.setLength(n)
		return v, nil
	})
	join := func(in *Interpreter, this Value, sep string) (Value, error) {
		o := this.AsObject()
		if o == nil {
			return String(""), nil
		}
		parts := make([]string, 0, o.length())
		for _, v := range o.Elements() {
			if v.IsNullish() {
				parts = append(parts, "")
				continue
			}
			s, err := in.toString(v)
			if err != nil {
				return Undefined, err
			}
			parts = append(parts, s)
		}
		return String(strings.Join(parts, sep)), nil
	}
	d.protoMethod(c, "join", func(in *Interpreter, this Value, args []Value) (Value, error) {
		sep := ","
		if s := arg(args, 0); !s.IsUndefined() {
			sep = ToString(s)
		}
		return join(in, this, sep)
	})
	d.protoMethod(c, "toString", func(in *Interpreter, this Value, args []Value) (Value, error) {
		return join(in, this, ",")
	})
	d.protoMethod(c, "indexOf", func(in *Interpreter, this Value, args []Value) (Value, error) {
		if o := this.AsObject(); o != nil {
			for i, v := range o.Elements() {
				if StrictEquals(v, arg(args, 0)) {
					return Int(int32(i)), nil
				}
			}
		}
		return Int(-1), nil
	})
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func errorInit(in *Interpreter, this Value, args []Value) (Value, error) {
	o := this.AsObject()
	if o == nil {
		return Undefined, nil
	}
	msg := ""
	if m := arg(args, 0); !m.IsUndefined() {
		s, err := in.toString(m)
		if err != nil {
			return Undefined, err
		}
		msg = s
	}
	o.Define("message", String(msg))
	o.Define("errorID", Int(ToInt32(arg(args, 1))))
	return Undefined, nil
}

func (d *Domain) installErrors() {
	base := d.builtinClass(string(KindError), d.objectClass, 0, errorInit)
	d.errorClasses[KindError] = base
	base.Prototype.Define("name", String(string(KindError)))
	d.protoMethod(base, "toString", func(in *Interpreter, this Value, args []Value) (Value, error) {
		o := this.AsObject()
		if o == nil {
			return String(string(KindError)), nil
		}
		name := o.class.Name.Local
		msg, _ := o.Get("message")
		if s := ToString(msg); msg.IsString() && s != "" {
			return String(name + ": " + s), nil
		}
		return String(name), nil
	})
	for _, kind := range errorKinds[1:] {
		c := d.builtinClass(string(kind), base, 0, errorInit)
		c.Prototype.Define("name", String(string(kind)))
		d.errorClasses[kind] = c
	}
}

// ---------------------------------------------------------------------------
// Global functions and constants
// ---------------------------------------------------------------------------

func (d *Domain) installGlobals() {
	d.DefineGlobal("NaN", NaN)
	d.DefineGlobal("Infinity", Double(math.Inf(1)))
	d.DefineGlobal("undefined", Undefined)

	d.DefineFunction("trace", func(in *Interpreter, this Value, args []Value) (Value, error) {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			s, err := in.toString(a)
			if err != nil {
				return Undefined, err
			}
			parts = append(parts, s)
		}
		in.trace(strings.Join(parts, " "))
		return Undefined, nil
	})
	d.DefineFunction("isNaN", func(in *Interpreter, this Value, args []Value) (Value, error) {
		f, err := in.toNumber(arg(args, 0))
		return Bool(math.IsNaN(f)), err
	})
	d.DefineFunction("isFinite", func(in *Interpreter, this Value, args []Value) (Value, error) {
		f, err := in.toNumber(arg(args, 0))
		return Bool(!math.IsNaN(f) && !math.IsInf(f, 0)), err
	})
	d.DefineFunction("parseInt", func(in *Interpreter, this Value, args []Value) (Value, error) {
		s, err := in.toString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return parseInt(s, int(ToInt32(arg(args, 1)))), nil
	})
	d.DefineFunction("parseFloat", func(in *Interpreter, this Value, args []Value) (Value, error) {
		s, err := in.toString(arg(args, 0))
		if err != nil {
			return Undefined, err
		}
		return Number(parseFloatPrefix(s)), nil
	})
}

func parseInt(s string, radix int) Value {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if (radix == 0 || radix == 16) && len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s, radix = s[2:], 16
	}
	if radix == 0 {
		radix = 10
	}
	if radix < 2 || radix > 36 {
		return NaN
	}
	end := 0
	for end < len(s) {
		if digitValue(s[end]) >= radix {
			break
		}
		end++
	}
	if end == 0 {
		return NaN
	}
	var f float64
	for _, ch := range []byte(s[:end]) {
		f = f*float64(radix) + float64(digitValue(ch))
	}
	if neg {
		f = -f
	}
	return Number(f)
}

func digitValue(ch byte) int {
	switch {
	case ch >= '0' && ch <= '9':
		return int(ch - '0')
	case ch >= 'a' && ch <= 'z':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10
	}
	return 99
}

func parseFloatPrefix(s string) float64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	for end := len(s); end > 0; end-- {
		prefix := s[:end]
		body := strings.TrimLeft(prefix, "+-")
		if body == "Infinity" || isDecimalLiteral(body) {
			if len(prefix)-len(body) > 1 {
				return math.NaN()
			}
			return StringToNumber(prefix)
		}
	}
	return math.NaN()
}

// describe names a value for error messages.
func describe(v Value) string {
	switch v.kind {
	case KindString:
		return fmt.Sprintf("%q", v.str)
	case KindObject:
		return v.obj.String()
	}
	return ToString(v)
}
