package vm

import "fmt"

// ---------------------------------------------------------------------------
// Domain: the class registry and global namespace of one movie
// ---------------------------------------------------------------------------

type scriptState uint8

const (
	scriptPending scriptState = iota
	scriptRunning
	scriptDone
)

// script is a loaded top-level script and its global object.
type script struct {
	unit   *Unit
	index  int
	global *Object
	init   *Method
	state  scriptState
}

// Domain owns every class and script global visible to the code of one
// movie, plus the builtin global object. A Domain belongs to a single
// Interpreter and is not safe for concurrent use.
type Domain struct {
	classes map[QName]*Class
	scripts []*script
	units   map[*Unit][]*script

	global *Object

	objectClass    *Class
	classClass     *Class
	functionClass  *Class
	arrayClass     *Class
	stringClass    *Class
	numberClass    *Class
	intClass       *Class
	uintClass      *Class
	booleanClass   *Class
	namespaceClass *Class
	errorClasses   map[ErrorKind]*Class
}

// NewDomain creates a domain with the builtin classes installed.
func NewDomain() *Domain {
	d := &Domain{
		classes:      make(map[QName]*Class),
		units:        make(map[*Unit][]*script),
		errorClasses: make(map[ErrorKind]*Class),
	}
	d.installBuiltins()
	return d
}

// Global returns the builtin global object.
func (d *Domain) Global() *Object { return d.global }

// ClassByName returns the class registered under q.
func (d *Domain) ClassByName(q QName) (*Class, bool) {
	c, ok := d.classes[q]
	return c, ok
}

// DefineClass registers c under its name.
func (d *Domain) DefineClass(c *Class) error {
	if _, dup := d.classes[c.Name]; dup {
		return fmt.Errorf("class %s is already defined", c.Name)
	}
	d.classes[c.Name] = c
	return nil
}

// DefineFunction installs a native function on the global object.
func (d *Domain) DefineFunction(name string, fn NativeFunc) {
	d.global.Define(name, ObjectValue(d.newFunction(NativeMethod(name, fn), nil, Undefined, false)))
}

// DefineGlobal installs a value on the global object.
func (d *Domain) DefineGlobal(name string, v Value) {
	d.global.Define(name, v)
}

// ---------------------------------------------------------------------------
// Builtin class access
// ---------------------------------------------------------------------------

// ObjectClass returns the root class.
func (d *Domain) ObjectClass() *Class { return d.objectClass }

// ErrorClass returns the builtin error class of the given kind.
func (d *Domain) ErrorClass(kind ErrorKind) *Class { return d.errorClasses[kind] }

// classFor returns the class a primitive is boxed to for property lookup.
func (d *Domain) classFor(v Value) *Class {
	switch v.kind {
	case KindBoolean:
		return d.booleanClass
	case KindInt:
		return d.intClass
	case KindUint:
		return d.uintClass
	case KindDouble:
		return d.numberClass
	case KindString:
		return d.stringClass
	case KindNamespace:
		return d.namespaceClass
	case KindObject:
		return v.obj.class
	}
	return nil
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewObject allocates a plain dynamic Object.
func (d *Domain) NewObject() *Object {
	return newObject(d.objectClass, d.objectClass.Prototype, d.objectClass.Instance, true)
}

// NewArray allocates an Array holding vals.
func (d *Domain) NewArray(vals []Value) *Object {
	o := newObject(d.arrayClass, d.arrayClass.Prototype, d.arrayClass.Instance, true)
	o.Native = &arrayState{}
	for i, v := range vals {
		o.Put(fmt.Sprint(i), v)
	}
	return o
}

// allocate creates an uninitialised instance of c.
func (d *Domain) allocate(c *Class) *Object {
	o := newObject(c, c.Prototype, c.Instance, !c.Sealed())
	for a := range c.Ancestors() {
		if a == d.arrayClass {
			o.Native = &arrayState{}
			break
		}
	}
	return o
}

// newFunction wraps m in a function object.
func (d *Domain) newFunction(m *Method, scope []ScopeEntry, this Value, bound bool) *Object {
	o := newObject(d.functionClass, d.functionClass.Prototype, d.functionClass.Instance, true)
	o.fn = &Function{Method: m, Scope: scope, This: this, Bound: bound}
	return o
}

// newError creates an instance of a builtin error class without running its
// constructor.
func (d *Domain) newError(kind ErrorKind, msg string) *Object {
	c := d.errorClasses[kind]
	if c == nil {
		c = d.errorClasses[KindError]
	}
	o := d.allocate(c)
	o.Define("message", String(msg))
	o.Define("errorID", Int(0))
	return o
}

// newClassObject creates the class object for c and links c to it.
func (d *Domain) newClassObject(c *Class) *Object {
	var proto *Object
	if d.classClass != nil {
		proto = d.classClass.Prototype
	}
	o := newObject(d.classClass, proto, c.Static, false)
	o.self = c
	c.Object = o
	return o
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// addUnit registers the scripts of a loaded unit. It reports false when u
// was already registered.
func (d *Domain) addUnit(u *Unit, scripts []*script) bool {
	if _, dup := d.units[u]; dup {
		return false
	}
	d.units[u] = scripts
	d.scripts = append(d.scripts, scripts...)
	return true
}

// loaded reports whether u has been registered.
func (d *Domain) loaded(u *Unit) bool {
	_, ok := d.units[u]
	return ok
}

func (d *Domain) scriptsOf(u *Unit) []*script {
	return d.units[u]
}

// scriptFor returns the first script whose global declares n.
func (d *Domain) scriptFor(n Name) *script {
	for _, s := range d.scripts {
		if s.global.traits.Lookup(n) != nil {
			return s
		}
		if n.HasPublic() && s.global.Has(n.Local) {
			return s
		}
	}
	return nil
}
