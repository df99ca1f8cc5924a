package vm

import (
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Property access
//
// Lookup order for every operation: the fixed bindings of the receiver's
// traits (own class first, then superclasses), then own dynamic properties,
// then dynamic properties along the prototype chain. Primitives look up
// through the traits and prototype of the class they box to.
// ---------------------------------------------------------------------------

func (in *Interpreter) traitsOf(v Value) *Traits {
	if o := v.AsObject(); o != nil {
		return o.traits
	}
	if c := in.domain.classFor(v); c != nil {
		return c.Instance
	}
	return nil
}

// protoOf returns the first prototype dynamic lookups fall back to.
func (in *Interpreter) protoOf(v Value) *Object {
	if o := v.AsObject(); o != nil {
		return o.proto
	}
	if c := in.domain.classFor(v); c != nil {
		return c.Prototype
	}
	return nil
}

// chain yields the receiver itself (objects only) and then every prototype.
func (in *Interpreter) chain(v Value) func(func(*Object) bool) {
	return func(yield func(*Object) bool) {
		if o := v.AsObject(); o != nil {
			if !yield(o) {
				return
			}
		}
		for p := in.protoOf(v); p != nil; p = p.proto {
			if !yield(p) {
				return
			}
		}
	}
}

func (in *Interpreter) nullReceiver(v Value, n Name) error {
	if v.IsNull() {
		return in.throwError(KindTypeError, "Cannot access a property or method of a null object reference (%s).", n.Local)
	}
	return in.throwError(KindTypeError, "Cannot access property %s of undefined.", n.Local)
}

func (in *Interpreter) getProperty(obj Value, n Name) (Value, error) {
	if obj.IsNullish() {
		return Undefined, in.nullReceiver(obj, n)
	}
	if b := in.traitsOf(obj).Lookup(n); b != nil {
		return in.readBinding(obj, b)
	}
	if n.HasPublic() && !n.AnyLocal {
		for o := range in.chain(obj) {
			if v, ok := o.Get(n.Local); ok {
				return v, nil
			}
		}
	}
	// Misses read as undefined on sealed instances and primitives too; only
	// findpropstrict and getlex treat an absent name as an error.
	return Undefined, nil
}

func (in *Interpreter) setProperty(obj Value, n Name, v Value, init bool) error {
	if obj.IsNullish() {
		return in.nullReceiver(obj, n)
	}
	if b := in.traitsOf(obj).Lookup(n); b != nil {
		return in.writeBinding(obj, b, v, init)
	}
	o := obj.AsObject()
	if o == nil || !o.dynamic || !n.HasPublic() || n.AnyLocal {
		return in.throwError(KindReferenceError, "Cannot create property %s on %s.", n, describe(obj))
	}
	o.Put(n.Local, v)
	return nil
}

func (in *Interpreter) deleteProperty(obj Value, n Name) (bool, error) {
	if obj.IsNullish() {
		return false, in.nullReceiver(obj, n)
	}
	if in.traitsOf(obj).Lookup(n) != nil {
		return false, nil
	}
	o := obj.AsObject()
	if o == nil || !o.dynamic || !n.HasPublic() {
		return false, nil
	}
	o.Delete(n.Local)
	return true, nil
}

func (in *Interpreter) hasProperty(obj Value, n Name) bool {
	if obj.IsNullish() {
		return false
	}
	if in.traitsOf(obj).Lookup(n) != nil {
		return true
	}
	if !n.HasPublic() {
		return false
	}
	for o := range in.chain(obj) {
		if o.Has(n.Local) {
			return true
		}
	}
	return false
}

func (in *Interpreter) readBinding(this Value, b *Binding) (Value, error) {
	switch b.Kind {
	case BindSlot, BindConst:
		o := this.AsObject()
		if o == nil {
			return Undefined, nil
		}
		return o.Slot(b.Slot)
	case BindMethod:
		return ObjectValue(in.domain.newFunction(b.Method, b.Method.scopeChain(), this, true)), nil
	case BindAccessor:
		if b.Getter == nil {
			return Undefined, in.throwError(KindReferenceError, "Illegal read of write-only property %s.", b.Name)
		}
		return in.callMethod(b.Getter, this, nil)
	}
	return Undefined, faultf(FaultMalformed, "binding %s has kind %d", b.Name, b.Kind)
}

func (in *Interpreter) writeBinding(this Value, b *Binding, v Value, init bool) error {
	switch b.Kind {
	case BindConst:
		if !init {
			return in.throwError(KindReferenceError, "Illegal write to read-only property %s.", b.Name)
		}
		fallthrough
	case BindSlot:
		o := this.AsObject()
		if o == nil {
			return in.throwError(KindReferenceError, "Cannot assign to property %s of %s.", b.Name, describe(this))
		}
		typ, err := in.slotType(b)
		if err != nil {
			return err
		}
		if v, err = in.coerce(v, typ); err != nil {
			return err
		}
		return o.SetSlot(b.Slot, v)
	case BindMethod:
		return in.throwError(KindReferenceError, "Cannot assign to a method %s.", b.Name)
	case BindAccessor:
		if b.Setter == nil {
			return in.throwError(KindReferenceError, "Illegal write to read-only property %s.", b.Name)
		}
		_, err := in.callMethod(b.Setter, this, []Value{v})
		return err
	}
	return faultf(FaultMalformed, "binding %s has kind %d", b.Name, b.Kind)
}

// callProperty calls the property n of obj. Method traits are invoked
// directly without materialising a bound closure. lex passes null as the
// receiver for non-method properties.
func (in *Interpreter) callProperty(obj Value, n Name, args []Value, lex bool) (Value, error) {
	if obj.IsNullish() {
		return Undefined, in.nullReceiver(obj, n)
	}
	if b := in.traitsOf(obj).Lookup(n); b != nil && b.Kind == BindMethod {
		return in.callMethod(b.Method, obj, args)
	}
	f, err := in.getProperty(obj, n)
	if err != nil {
		return Undefined, err
	}
	if f.IsUndefined() {
		return Undefined, in.throwError(KindTypeError, "Call attempted on %s, which is not a function.", n)
	}
	this := obj
	if lex {
		this = Null
	}
	return in.callValue(f, this, args)
}

func (in *Interpreter) constructProperty(obj Value, n Name, args []Value) (Value, error) {
	ctor, err := in.getProperty(obj, n)
	if err != nil {
		return Undefined, err
	}
	return in.construct(ctor, args)
}

// methodByDispID finds the method trait with the given disp id on the
// receiver's traits.
func (in *Interpreter) methodByDispID(obj Value, id uint32) *Method {
	for t := in.traitsOf(obj); t != nil; t = t.parent {
		for _, q := range t.order {
			if b := t.bindings[q]; b.Kind == BindMethod && b.Method.DispID == id {
				return b.Method
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Super access starts above the class that declared the running method.
// ---------------------------------------------------------------------------

func (in *Interpreter) superTraits(m *Method, this Value) (*Traits, error) {
	if this.IsNullish() {
		return nil, in.throwError(KindTypeError, "Cannot access super of a null object reference.")
	}
	if m.Declarer == nil || m.Declarer.Super == nil {
		return nil, in.throwError(KindVerifyError, "Method %s has no superclass.", m)
	}
	return m.Declarer.Super.Instance, nil
}

func (in *Interpreter) getSuper(m *Method, this Value, n Name) (Value, error) {
	t, err := in.superTraits(m, this)
	if err != nil {
		return Undefined, err
	}
	b := t.Lookup(n)
	if b == nil {
		return Undefined, nil
	}
	return in.readBinding(this, b)
}

func (in *Interpreter) setSuper(m *Method, this Value, n Name, v Value) error {
	t, err := in.superTraits(m, this)
	if err != nil {
		return err
	}
	b := t.Lookup(n)
	if b == nil {
		return in.throwError(KindReferenceError, "Property %s not found on super.", n)
	}
	return in.writeBinding(this, b, v, false)
}

func (in *Interpreter) callSuper(m *Method, this Value, n Name, args []Value) (Value, error) {
	t, err := in.superTraits(m, this)
	if err != nil {
		return Undefined, err
	}
	b := t.Lookup(n)
	if b == nil {
		return Undefined, in.throwError(KindReferenceError, "Method %s not found on super.", n)
	}
	if b.Kind == BindMethod {
		return in.callMethod(b.Method, this, args)
	}
	f, err := in.readBinding(this, b)
	if err != nil {
		return Undefined, err
	}
	return in.callValue(f, this, args)
}

func (in *Interpreter) constructSuper(m *Method, this Value, args []Value) error {
	if m.Declarer == nil || m.Declarer.Super == nil {
		return in.throwError(KindVerifyError, "Method %s has no superclass constructor.", m)
	}
	_, err := in.callMethod(m.Declarer.Super.IInit, this, args)
	return err
}

// ---------------------------------------------------------------------------
// Calls and construction
// ---------------------------------------------------------------------------

// callValue calls a function or class object.
func (in *Interpreter) callValue(f, this Value, args []Value) (Value, error) {
	o := f.AsObject()
	if o == nil {
		return Undefined, in.throwError(KindTypeError, "%s is not a function.", describe(f))
	}
	if fn := o.fn; fn != nil {
		switch {
		case fn.Bound:
			this = fn.This
		case this.IsNullish() && fn.Method.Native == nil:
			this = ObjectValue(in.domain.global)
			if len(fn.Scope) > 0 {
				this = ObjectValue(fn.Scope[0].Object)
			}
		}
		return in.invokeMethod(fn.Method, fn.Scope, this, args)
	}
	if c := o.self; c != nil {
		if c.call != nil {
			v, err := c.call(in, this, args)
			return v, in.asThrown(err)
		}
		if len(args) != 1 {
			return Undefined, in.throwError(KindArgumentError, "Argument count mismatch on class coercion to %s. Expected 1, got %d.", c, len(args))
		}
		return in.coerce(args[0], c)
	}
	return Undefined, in.throwError(KindTypeError, "%s is not a function.", describe(f))
}

func (in *Interpreter) construct(ctor Value, args []Value) (Value, error) {
	o := ctor.AsObject()
	if o == nil {
		return Undefined, in.throwError(KindTypeError, "Instantiation attempted on a non-constructor (%s).", describe(ctor))
	}
	if c := o.self; c != nil {
		return in.newInstance(c, args)
	}
	if o.fn == nil {
		return Undefined, in.throwError(KindTypeError, "Instantiation attempted on a non-constructor (%s).", describe(ctor))
	}
	d := in.domain
	proto := d.objectClass.Prototype
	if p := in.functionPrototype(o).AsObject(); p != nil {
		proto = p
	}
	inst := newObject(d.objectClass, proto, d.objectClass.Instance, true)
	r, err := in.invokeMethod(o.fn.Method, o.fn.Scope, ObjectValue(inst), args)
	if err != nil {
		return Undefined, err
	}
	if r.IsObject() {
		return r, nil
	}
	return ObjectValue(inst), nil
}

// functionPrototype returns the prototype object of a constructor function,
// creating it on first use.
func (in *Interpreter) functionPrototype(fn *Object) Value {
	if p, ok := fn.Get("prototype"); ok {
		return p
	}
	p := ObjectValue(in.domain.NewObject())
	fn.Define("prototype", p)
	return p
}

// newInstance allocates an instance of c and runs its constructor. A native
// constructor that returns a value replaces the instance, which is how the
// primitive wrappers produce primitives from new.
func (in *Interpreter) newInstance(c *Class, args []Value) (Value, error) {
	if c.IsInterface() {
		return Undefined, in.throwError(KindTypeError, "Instantiation attempted on interface %s.", c)
	}
	inst := ObjectValue(in.domain.allocate(c))
	r, err := in.callMethod(c.IInit, inst, args)
	if err != nil {
		return Undefined, err
	}
	if c.IInit.Native != nil && !r.IsUndefined() {
		return r, nil
	}
	return inst, nil
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func (in *Interpreter) isType(v Value, c *Class) bool {
	if c == nil {
		return true
	}
	d := in.domain
	switch c {
	case d.objectClass:
		return !v.IsNullish()
	case d.intClass:
		f := ToNumber(v)
		return v.IsNumber() && f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32
	case d.uintClass:
		f := ToNumber(v)
		return v.IsNumber() && f == math.Trunc(f) && f >= 0 && f <= math.MaxUint32
	case d.numberClass:
		return v.IsNumber()
	case d.stringClass:
		return v.Kind() == KindString
	case d.booleanClass:
		return v.Kind() == KindBoolean
	case d.namespaceClass:
		return v.Kind() == KindNamespace
	}
	o := v.AsObject()
	if o == nil || o.class == nil {
		return false
	}
	return o.class.IsSubclassOf(c)
}

// coerce converts v to the declared type c, throwing a TypeError when an
// object is not an instance of c. A nil class accepts anything.
func (in *Interpreter) coerce(v Value, c *Class) (Value, error) {
	if c == nil {
		return v, nil
	}
	d := in.domain
	switch c {
	case d.intClass:
		i, err := in.toInt32(v)
		return Int(i), err
	case d.uintClass:
		u, err := in.toUint32(v)
		return Uint(u), err
	case d.numberClass:
		if v.IsNumber() {
			return v, nil
		}
		f, err := in.toNumber(v)
		return Double(f), err
	case d.booleanClass:
		return Bool(ToBoolean(v)), nil
	case d.stringClass:
		if v.IsNullish() {
			return Null, nil
		}
		s, err := in.toString(v)
		return String(s), err
	case d.objectClass:
		if v.IsUndefined() {
			return Null, nil
		}
		return v, nil
	}
	if v.IsNullish() {
		return Null, nil
	}
	if in.isType(v, c) {
		return v, nil
	}
	return Undefined, in.throwError(KindTypeError, "Type Coercion failed: cannot convert %s to %s.", describe(v), c)
}

// classOperand extracts the class a late type operator was given.
func (in *Interpreter) classOperand(v Value) (*Class, error) {
	if o := v.AsObject(); o != nil && o.self != nil {
		return o.self, nil
	}
	if v.IsNull() {
		return nil, nil
	}
	return nil, in.throwError(KindTypeError, "The right-hand side of the type operator must be a class, got %s.", describe(v))
}

func (in *Interpreter) instanceOf(v, ctor Value) (bool, error) {
	co := ctor.AsObject()
	if co == nil {
		return false, in.throwError(KindTypeError, "The right-hand side of instanceof must be a class or function.")
	}
	var proto *Object
	switch {
	case co.self != nil:
		proto = co.self.Prototype
	case co.fn != nil:
		proto = in.functionPrototype(co).AsObject()
	}
	if proto == nil {
		return false, in.throwError(KindTypeError, "The right-hand side of instanceof must be a class or function.")
	}
	if v.IsNullish() {
		return false, nil
	}
	for p := in.protoOf(v); p != nil; p = p.proto {
		if p == proto {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Conversions that may run script code
// ---------------------------------------------------------------------------

type hint uint8

const (
	hintNumber hint = iota
	hintString
)

var (
	valueOfName  = Name{Local: "valueOf", NS: []Namespace{PublicNamespace}}
	toStringName = Name{Local: "toString", NS: []Namespace{PublicNamespace}}
)

// toPrimitive converts objects by calling valueOf and toString, in the order
// the hint asks for, until one returns a primitive.
func (in *Interpreter) toPrimitive(v Value, h hint) (Value, error) {
	if !v.IsObject() {
		return v, nil
	}
	order := [2]Name{valueOfName, toStringName}
	if h == hintString {
		order = [2]Name{toStringName, valueOfName}
	}
	for _, n := range order {
		if !in.hasProperty(v, n) {
			continue
		}
		f, err := in.getProperty(v, n)
		if err != nil {
			return Undefined, err
		}
		if fo := f.AsObject(); fo == nil || fo.fn == nil {
			continue
		}
		r, err := in.callValue(f, v, nil)
		if err != nil {
			return Undefined, err
		}
		if !r.IsObject() {
			return r, nil
		}
	}
	return Undefined, in.throwError(KindTypeError, "Cannot convert %s to a primitive value.", describe(v))
}

func (in *Interpreter) toString(v Value) (string, error) {
	p, err := in.toPrimitive(v, hintString)
	if err != nil {
		return "", err
	}
	return ToString(p), nil
}

func (in *Interpreter) toNumber(v Value) (float64, error) {
	p, err := in.toPrimitive(v, hintNumber)
	if err != nil {
		return 0, err
	}
	return ToNumber(p), nil
}

func (in *Interpreter) toInt32(v Value) (int32, error) {
	if v.Kind() == KindInt {
		return v.AsInt(), nil
	}
	f, err := in.toNumber(v)
	return DoubleToInt32(f), err
}

func (in *Interpreter) toUint32(v Value) (uint32, error) {
	if v.Kind() == KindUint {
		return v.AsUint(), nil
	}
	f, err := in.toNumber(v)
	return DoubleToUint32(f), err
}

// add is the generic + operator: concatenation when either primitive operand
// is a string, numeric addition otherwise.
func (in *Interpreter) add(a, b Value) (Value, error) {
	if a.IsNumber() && b.IsNumber() {
		return AddNumbers(a, b), nil
	}
	pa, err := in.toPrimitive(a, hintNumber)
	if err != nil {
		return Undefined, err
	}
	pb, err := in.toPrimitive(b, hintNumber)
	if err != nil {
		return Undefined, err
	}
	if pa.Kind() == KindString || pb.Kind() == KindString {
		return String(ToString(pa) + ToString(pb)), nil
	}
	return AddNumbers(pa, pb), nil
}

func (in *Interpreter) weakEquals(a, b Value) (bool, error) {
	switch {
	case a.IsObject() && b.IsObject():
		return a.AsObject() == b.AsObject(), nil
	case a.IsObject() && !b.IsNullish():
		p, err := in.toPrimitive(a, hintNumber)
		if err != nil {
			return false, err
		}
		return WeakEquals(p, b), nil
	case b.IsObject() && !a.IsNullish():
		p, err := in.toPrimitive(b, hintNumber)
		if err != nil {
			return false, err
		}
		return WeakEquals(a, p), nil
	}
	return WeakEquals(a, b), nil
}

// compare evaluates a < b after primitive conversion.
func (in *Interpreter) compare(a, b Value) (less, undefined bool, err error) {
	pa, err := in.toPrimitive(a, hintNumber)
	if err != nil {
		return false, false, err
	}
	pb, err := in.toPrimitive(b, hintNumber)
	if err != nil {
		return false, false, err
	}
	less, undefined = Compare(pa, pb)
	return less, undefined, nil
}

// ---------------------------------------------------------------------------
// Scope lookup
// ---------------------------------------------------------------------------

// findProperty returns the innermost scope object that has n: local and
// captured scopes first, then script globals (running their initializer on
// demand), then the builtin global. Strict lookups throw on a miss;
// non-strict ones answer the global scope.
func (inv *invocation) findProperty(n Name, strict bool) (Value, error) {
	in := inv.in
	for e := range inv.scope.Walk {
		obj := ObjectValue(e.Object)
		if e.With {
			if in.hasProperty(obj, n) {
				return obj, nil
			}
			continue
		}
		if e.Object.traits.Lookup(n) != nil || (n.HasPublic() && e.Object.Has(n.Local)) {
			return obj, nil
		}
	}
	if v, ok, err := in.findDef(n); ok || err != nil {
		return v, err
	}
	if strict {
		return Undefined, in.throwError(KindReferenceError, "Variable %s is not defined.", n.Local)
	}
	if g := inv.scope.Global(); g != nil {
		return ObjectValue(g), nil
	}
	return ObjectValue(in.domain.global), nil
}

// findDef searches script globals and the builtin global only.
func (in *Interpreter) findDef(n Name) (Value, bool, error) {
	if s := in.domain.scriptFor(n); s != nil {
		if _, err := in.ensureScript(s); err != nil {
			return Undefined, false, err
		}
		return ObjectValue(s.global), true, nil
	}
	g := in.domain.global
	if g.traits.Lookup(n) != nil || (n.HasPublic() && g.Has(n.Local)) {
		return ObjectValue(g), true, nil
	}
	return Undefined, false, nil
}

// ---------------------------------------------------------------------------
// Enumeration. Indices are 1-based; 0 means exhausted.
// ---------------------------------------------------------------------------

func enumKeys(v Value) []string {
	if o := v.AsObject(); o != nil {
		return o.Keys()
	}
	return nil
}

func hasNext(v Value, index int32) int32 {
	if index < 0 || int(index) >= len(enumKeys(v)) {
		return 0
	}
	return index + 1
}

func (in *Interpreter) nextName(v Value, index int32) Value {
	keys := enumKeys(v)
	if index < 1 || int(index) > len(keys) {
		return Undefined
	}
	key := keys[index-1]
	if o := v.AsObject(); o != nil && o.Native != nil {
		if _, isArray := o.Native.(*arrayState); isArray {
			if i, err := strconv.ParseInt(key, 10, 32); err == nil {
				return Int(int32(i))
			}
		}
	}
	return String(key)
}

func (in *Interpreter) nextValue(v Value, index int32) (Value, error) {
	keys := enumKeys(v)
	if index < 1 || int(index) > len(keys) {
		return Undefined, nil
	}
	return in.getProperty(v, Name{Local: keys[index-1], NS: []Namespace{PublicNamespace}})
}

// hasNext2 advances an enumeration held in two registers, moving to the
// prototype once the current object is exhausted.
func (in *Interpreter) hasNext2(objReg, idxReg *Value) bool {
	obj := *objReg
	idx := ToInt32(*idxReg)
	for !obj.IsNullish() {
		if next := hasNext(obj, idx); next != 0 {
			*objReg, *idxReg = obj, Int(next)
			return true
		}
		obj, idx = ObjectValue(in.protoOf(obj)), 0
	}
	*objReg, *idxReg = Null, Int(0)
	return false
}
