package vm

import (
	"fmt"
	"strconv"
)

// Object is a heap object: a class instance, a class object, a function
// closure, an activation, or a script global.
//
// Fixed state lives in slots, laid out by traits. Dynamic properties live in
// props; keys records the enumerable ones in insertion order. Properties
// defined with Define are readable but not enumerated.
type Object struct {
	class   *Class
	proto   *Object
	traits  *Traits
	slots   []Value
	props   map[string]Value
	keys    []string
	dynamic bool

	fn   *Function // non-nil for function closures
	self *Class    // non-nil for class objects

	// Native holds host state for builtin classes.
	Native any
}

// newObject allocates an object with the given layout.
func newObject(class *Class, proto *Object, traits *Traits, dynamic bool) *Object {
	return &Object{
		class:   class,
		proto:   proto,
		traits:  traits,
		slots:   traits.newSlots(),
		dynamic: dynamic,
	}
}

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// Proto returns the next object on the prototype chain, or nil.
func (o *Object) Proto() *Object { return o.proto }

// Traits returns the fixed bindings of the object.
func (o *Object) Traits() *Traits { return o.traits }

// Dynamic reports whether new properties may be added at runtime.
func (o *Object) Dynamic() bool { return o.dynamic }

// Function returns the closure behind a function object, or nil.
func (o *Object) Function() *Function { return o.fn }

// AsClass returns the class a class object stands for, or nil.
func (o *Object) AsClass() *Class { return o.self }

// Slot returns slot i (0-based).
func (o *Object) Slot(i int) (Value, error) {
	if i < 0 || i >= len(o.slots) {
		return Undefined, faultf(FaultRegister, "slot %d outside object of %d slots", i+1, len(o.slots))
	}
	return o.slots[i], nil
}

// SetSlot stores v in slot i (0-based).
func (o *Object) SetSlot(i int, v Value) error {
	if i < 0 || i >= len(o.slots) {
		return faultf(FaultRegister, "slot %d outside object of %d slots", i+1, len(o.slots))
	}
	o.slots[i] = v
	return nil
}

// Get reads an own dynamic property.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.props[key]
	return v, ok
}

// Has reports whether key is an own dynamic property.
func (o *Object) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

// Put sets an own enumerable dynamic property.
func (o *Object) Put(key string, v Value) {
	if o.props == nil {
		o.props = make(map[string]Value)
	}
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = v
	if a, ok := o.Native.(*arrayState); ok {
		a.touch(key)
	}
}

// Define sets an own property that enumeration skips.
func (o *Object) Define(key string, v Value) {
	if o.props == nil {
		o.props = make(map[string]Value)
	}
	o.props[key] = v
}

// Delete removes an own dynamic property.
func (o *Object) Delete(key string) bool {
	if _, ok := o.props[key]; !ok {
		return false
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the enumerable own properties in insertion order.
func (o *Object) Keys() []string {
	return o.keys
}

// String renders the object the way the default toString does.
func (o *Object) String() string {
	switch {
	case o == nil:
		return "null"
	case o.self != nil:
		return "[class " + o.self.Name.Local + "]"
	case o.fn != nil:
		return "function Function() {}"
	case o.class != nil:
		return "[object " + o.class.Name.Local + "]"
	}
	return "[object Object]"
}

// ---------------------------------------------------------------------------
// Arrays keep their length beside the dynamic index properties.
// ---------------------------------------------------------------------------

type arrayState struct {
	length uint32
}

func (a *arrayState) touch(key string) {
	i, err := strconv.ParseUint(key, 10, 32)
	if err != nil || strconv.FormatUint(i, 10) != key {
		return
	}
	if uint32(i) >= a.length {
		a.length = uint32(i) + 1
	}
}

// Elements returns an array's elements, or nil when o is not an array.
func (o *Object) Elements() []Value {
	a, ok := o.Native.(*arrayState)
	if !ok {
		return nil
	}
	out := make([]Value, a.length)
	for i := range out {
		if v, ok := o.props[strconv.Itoa(i)]; ok {
			out[i] = v
		} else {
			out[i] = Undefined
		}
	}
	return out
}

func (o *Object) setLength(n uint32) {
	a, ok := o.Native.(*arrayState)
	if !ok {
		return
	}
	for i := n; i < a.length; i++ {
		o.Delete(strconv.FormatUint(uint64(i), 10))
	}
	a.length = n
}

func (o *Object) length() uint32 {
	if a, ok := o.Native.(*arrayState); ok {
		return a.length
	}
	return 0
}

// GoString is used by %#v in test failure output.
func (o *Object) GoString() string {
	return fmt.Sprintf("&Object{%s, %d slots, %d props}", o.String(), len(o.slots), len(o.props))
}
