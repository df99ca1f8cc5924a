package vm

// ---------------------------------------------------------------------------
// Traits: fixed bindings of a class level, activation or global object
// ---------------------------------------------------------------------------

// BindingKind classifies a trait binding.
type BindingKind uint8

const (
	BindSlot BindingKind = iota + 1
	BindConst
	BindMethod
	BindAccessor
)

// Binding is one resolved trait. Slot bindings index the holder's slot
// array; method and accessor bindings carry the code to run. Declarer is the
// class whose traits declared the binding; super dispatch starts above it.
type Binding struct {
	Kind     BindingKind
	Name     QName
	Slot     int
	Type     *Class // declared slot type, nil for any
	TypeName *QName // declared type awaiting resolution, see Interpreter.slotType
	Method   *Method
	Getter   *Method
	Setter   *Method
	Declarer *Class
}

// slotDef is the layout entry of one slot.
type slotDef struct {
	name    QName
	value   Value
	typ     *Class
	defined bool
}

// Traits holds the bindings declared at one level of an inheritance chain.
// Lookup walks the parent chain the same way a vtable falls back to its
// parent. Slot numbering continues from the parent's last slot.
type Traits struct {
	parent   *Traits
	bindings map[QName]*Binding
	order    []QName
	slots    []slotDef
	base     int
}

// NewTraits creates an empty level on top of parent, which may be nil.
func NewTraits(parent *Traits) *Traits {
	t := &Traits{parent: parent, bindings: make(map[QName]*Binding)}
	if parent != nil {
		t.base = parent.SlotCount()
	}
	return t
}

// Parent returns the inherited level.
func (t *Traits) Parent() *Traits { return t.parent }

// SlotCount returns the total number of slots including inherited ones.
func (t *Traits) SlotCount() int { return t.base + len(t.slots) }

// MaxSlotID bounds the slot ids a trait may declare. Slots are laid out
// densely, so an id reserves every slot below it.
const MaxSlotID = 1 << 16

// AddSlot declares a slot or const. A zero id takes the next free slot;
// otherwise id is 1-based within this level.
func (t *Traits) AddSlot(name QName, id uint32, value Value, typ *Class, isConst bool, declarer *Class) (*Binding, error) {
	idx := len(t.slots)
	if id != 0 {
		idx = int(id) - 1
	}
	if idx >= MaxSlotID {
		return nil, faultf(FaultMalformed, "slot id %d of %s exceeds %d", idx+1, name, MaxSlotID)
	}
	for len(t.slots) <= idx {
		t.slots = append(t.slots, slotDef{value: Undefined})
	}
	if t.slots[idx].defined {
		return nil, faultf(FaultMalformed, "slot %d declared twice (%s, %s)", id, t.slots[idx].name, name)
	}
	t.slots[idx] = slotDef{name: name, value: value, typ: typ, defined: true}
	kind := BindSlot
	if isConst {
		kind = BindConst
	}
	b := &Binding{Kind: kind, Name: name, Slot: t.base + idx, Type: typ, Declarer: declarer}
	t.define(b)
	return b, nil
}

// AddMethod declares a method, overriding any inherited binding of the same
// name.
func (t *Traits) AddMethod(name QName, m *Method, declarer *Class) *Binding {
	b := &Binding{Kind: BindMethod, Name: name, Method: m, Declarer: declarer}
	t.define(b)
	return b
}

// AddGetter declares a getter. A setter already declared or inherited under
// the same name is kept.
func (t *Traits) AddGetter(name QName, m *Method, declarer *Class) *Binding {
	b := t.accessor(name, declarer)
	b.Getter = m
	return b
}

// AddSetter declares a setter, keeping any getter for the same name.
func (t *Traits) AddSetter(name QName, m *Method, declarer *Class) *Binding {
	b := t.accessor(name, declarer)
	b.Setter = m
	return b
}

func (t *Traits) accessor(name QName, declarer *Class) *Binding {
	if b, ok := t.bindings[name]; ok && b.Kind == BindAccessor {
		return b
	}
	b := &Binding{Kind: BindAccessor, Name: name, Declarer: declarer}
	if t.parent != nil {
		if inherited := t.parent.Find(name); inherited != nil && inherited.Kind == BindAccessor {
			b.Getter, b.Setter = inherited.Getter, inherited.Setter
		}
	}
	t.define(b)
	return b
}

func (t *Traits) define(b *Binding) {
	if _, ok := t.bindings[b.Name]; !ok {
		t.order = append(t.order, b.Name)
	}
	t.bindings[b.Name] = b
}

// Find returns the binding for an exact QName, searching inherited levels.
func (t *Traits) Find(q QName) *Binding {
	for cur := t; cur != nil; cur = cur.parent {
		if b, ok := cur.bindings[q]; ok {
			return b
		}
	}
	return nil
}

// Lookup resolves a multiname against this level and its parents. The first
// level with a match wins; within a level namespaces are tried in order.
func (t *Traits) Lookup(n Name) *Binding {
	for cur := t; cur != nil; cur = cur.parent {
		if b := cur.lookupLocal(n); b != nil {
			return b
		}
	}
	return nil
}

func (t *Traits) lookupLocal(n Name) *Binding {
	if !n.AnyNS && !n.AnyLocal {
		for _, ns := range n.NS {
			if b, ok := t.bindings[QName{NS: ns, Local: n.Local}]; ok {
				return b
			}
		}
		return nil
	}
	for _, q := range t.order {
		if n.Matches(q) {
			return t.bindings[q]
		}
	}
	return nil
}

// slot returns the layout entry for absolute slot index i.
func (t *Traits) slot(i int) (slotDef, bool) {
	for cur := t; cur != nil; cur = cur.parent {
		if i >= cur.base {
			j := i - cur.base
			if j < len(cur.slots) {
				return cur.slots[j], true
			}
			return slotDef{}, false
		}
	}
	return slotDef{}, false
}

// newSlots allocates a slot array filled with declared defaults.
func (t *Traits) newSlots() []Value {
	if t == nil {
		return nil
	}
	out := make([]Value, t.SlotCount())
	for cur := t; cur != nil; cur = cur.parent {
		for j, s := range cur.slots {
			out[cur.base+j] = s.value
		}
	}
	return out
}

// Alias makes alias resolve to the binding already declared as target at
// this level. Interface methods are reachable through both names.
func (t *Traits) Alias(alias, target QName) bool {
	b := t.Find(target)
	if b == nil {
		return false
	}
	if _, ok := t.bindings[alias]; !ok {
		t.order = append(t.order, alias)
	}
	t.bindings[alias] = b
	return true
}

// Names returns the QNames declared at this level, in declaration order.
func (t *Traits) Names() []QName {
	return append([]QName(nil), t.order...)
}
