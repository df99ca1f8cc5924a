package vm

import "fmt"

// ---------------------------------------------------------------------------
// Loading units, scripts and classes
// ---------------------------------------------------------------------------

// functionSlot is a function trait whose closure is created once its holder
// object exists.
type functionSlot struct {
	slot   int
	method *Method
}

// builtTraits is what buildTraits produced besides the bindings themselves.
type builtTraits struct {
	methods   []*Method
	functions []functionSlot
}

// buildTraits declares trait infos on t. Slot types that name classes not yet
// defined are resolved on first write.
func (in *Interpreter) buildTraits(u *Unit, infos []TraitInfo, t *Traits, declarer *Class) (builtTraits, error) {
	var out builtTraits
	for i := range infos {
		ti := &infos[i]
		q, err := u.Pool.QName(ti.Name)
		if err != nil {
			return out, err
		}
		switch ti.Kind {
		case TraitSlot, TraitConst:
			tq, typed, err := typeQName(&u.Pool, ti.Type)
			if err != nil {
				return out, err
			}
			v := typeDefault(tq, typed)
			if ti.VKind != ConstUndefined || ti.VIndex != 0 {
				if v, err = u.Pool.Constant(ti.VKind, ti.VIndex); err != nil {
					return out, err
				}
			}
			b, err := t.AddSlot(q, ti.SlotID, v, nil, ti.Kind == TraitConst, declarer)
			if err != nil {
				return out, err
			}
			if typed {
				if c, ok := in.domain.ClassByName(tq); ok {
					b.Type = c
				} else {
					b.TypeName = &tq
				}
			}
		case TraitClass:
			if _, err := t.AddSlot(q, ti.SlotID, Null, nil, true, declarer); err != nil {
				return out, err
			}
		case TraitMethod, TraitGetter, TraitSetter:
			m, err := newMethod(u, ti.Method, declarer)
			if err != nil {
				return out, err
			}
			m.DispID = ti.SlotID
			switch ti.Kind {
			case TraitMethod:
				t.AddMethod(q, m, declarer)
			case TraitGetter:
				t.AddGetter(q, m, declarer)
			default:
				t.AddSetter(q, m, declarer)
			}
			out.methods = append(out.methods, m)
		case TraitFunction:
			m, err := newMethod(u, ti.Method, declarer)
			if err != nil {
				return out, err
			}
			b, err := t.AddSlot(q, ti.SlotID, Null, nil, false, declarer)
			if err != nil {
				return out, err
			}
			out.functions = append(out.functions, functionSlot{slot: b.Slot, method: m})
		default:
			return out, faultf(FaultMalformed, "trait %s has unknown kind %d", q, ti.Kind)
		}
	}
	return out, nil
}

// bind attaches methods without a declaring class to scope and fills the
// function slots of holder.
func (in *Interpreter) bind(bt builtTraits, holder *Object, scope []ScopeEntry) error {
	for _, m := range bt.methods {
		if m.Declarer == nil {
			m.scope = scope
		}
	}
	for _, f := range bt.functions {
		fn := in.domain.newFunction(f.method, scope, Undefined, false)
		if err := holder.SetSlot(f.slot, ObjectValue(fn)); err != nil {
			return err
		}
	}
	return nil
}

// LoadUnit registers the scripts of u with the domain without running them.
// Scripts run on first reference to one of their globals, or through
// RunScript. Loading the same unit twice is a no-op.
func (in *Interpreter) LoadUnit(u *Unit) error {
	d := in.domain
	if d.loaded(u) {
		return nil
	}
	scripts := make([]*script, 0, len(u.Scripts))
	for i := range u.Scripts {
		si := &u.Scripts[i]
		traits := NewTraits(nil)
		bt, err := in.buildTraits(u, si.Traits, traits, nil)
		if err != nil {
			return err
		}
		global := newObject(d.objectClass, d.objectClass.Prototype, traits, true)
		if err := in.bind(bt, global, []ScopeEntry{{Object: global}}); err != nil {
			return err
		}
		init, err := newMethod(u, si.Init, nil)
		if err != nil {
			return err
		}
		init.Name = fmt.Sprintf("script%d$init", i)
		scripts = append(scripts, &script{unit: u, index: i, global: global, init: init})
	}
	if d.addUnit(u, scripts) {
		log.Debugf("loaded unit %q: %d scripts, %d classes, %d bodies", u.Name, len(u.Scripts), len(u.Classes), len(u.Bodies))
	}
	return nil
}

// ensureScript runs a script initializer once. A script that is already
// running (a cyclic reference from its own initializer) is not re-entered.
func (in *Interpreter) ensureScript(s *script) (Value, error) {
	if s.state != scriptPending {
		return Undefined, nil
	}
	s.state = scriptRunning
	log.Debugf("running %s of unit %q", s.init, s.unit.Name)
	v, err := in.invokeMethod(s.init, nil, ObjectValue(s.global), nil)
	s.state = scriptDone
	return v, err
}

// newActivation creates the activation object of a method that needs one.
func (in *Interpreter) newActivation(m *Method) (*Object, error) {
	traits := NewTraits(nil)
	bt, err := in.buildTraits(m.Unit, m.Body.Traits, traits, nil)
	if err != nil {
		return nil, err
	}
	o := newObject(in.domain.objectClass, nil, traits, false)
	return o, in.bind(bt, o, m.scopeChain())
}

// newCatch creates the scope object of a catch block: one slot named after
// the handler's variable.
func (in *Interpreter) newCatch(u *Unit, h *ExceptionInfo) (*Object, error) {
	traits := NewTraits(nil)
	if h.VarName != 0 {
		q, err := u.Pool.QName(h.VarName)
		if err != nil {
			return nil, err
		}
		if _, err := traits.AddSlot(q, 1, Undefined, nil, false, nil); err != nil {
			return nil, err
		}
	}
	return newObject(in.domain.objectClass, nil, traits, false), nil
}

// newClass creates class idx of u, extending base, runs its static
// initializer and registers it with the domain.
func (in *Interpreter) newClass(u *Unit, idx uint32, base Value, scope []ScopeEntry) (*Class, error) {
	d := in.domain
	info, err := u.Class(idx)
	if err != nil {
		return nil, err
	}
	name, err := u.Pool.QName(info.Name)
	if err != nil {
		return nil, err
	}

	var super *Class
	if info.Super != 0 {
		bo := base.AsObject()
		if bo == nil || bo.self == nil {
			return nil, in.throwError(KindVerifyError, "Class %s cannot extend %s.", name, describe(base))
		}
		super = bo.self
		if super.Final() || super.IsInterface() {
			return nil, in.throwError(KindVerifyError, "Class %s cannot extend %s.", name, super)
		}
	} else if info.Flags&ClassInterface == 0 {
		super = d.objectClass
	}

	c := &Class{Name: name, Super: super, Flags: info.Flags}
	if info.Flags&ClassProtectedNS != 0 {
		if c.ProtectedNS, err = u.Pool.Namespace(info.ProtectedNS); err != nil {
			return nil, err
		}
	}
	for _, ref := range info.Interfaces {
		iface, err := in.resolveClassRef(u, ref)
		if err != nil {
			return nil, err
		}
		if !iface.IsInterface() {
			return nil, in.throwError(KindVerifyError, "Class %s cannot implement %s, which is not an interface.", name, iface)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	inherited, proto := (*Traits)(nil), d.objectClass.Prototype
	if super != nil {
		inherited, proto = super.Instance, super.Prototype
	}
	c.Instance = NewTraits(inherited)
	c.Static = NewTraits(nil)
	c.Prototype = newObject(d.objectClass, proto, nil, true)

	inst, err := in.buildTraits(u, info.Instance, c.Instance, c)
	if err != nil {
		return nil, err
	}
	static, err := in.buildTraits(u, info.Static, c.Static, c)
	if err != nil {
		return nil, err
	}
	inheritProtected(c)
	for _, iface := range c.Interfaces {
		aliasInterface(c, iface)
	}
	addPrototypeGetter(c)

	if c.IsInterface() {
		c.IInit = NativeMethod(name.Local, func(*Interpreter, Value, []Value) (Value, error) {
			return Undefined, nil
		})
		c.IInit.Declarer = c
	} else if c.IInit, err = newMethod(u, info.IInit, c); err != nil {
		return nil, err
	}
	if c.CInit, err = newMethod(u, info.CInit, c); err != nil {
		return nil, err
	}

	d.newClassObject(c)
	c.Scope = append(append(make([]ScopeEntry, 0, len(scope)+1), scope...), ScopeEntry{Object: c.Object})
	if len(inst.functions) > 0 {
		return nil, faultf(FaultMalformed, "class %s declares function traits on instances", name)
	}
	if err := in.bind(static, c.Object, c.Scope); err != nil {
		return nil, err
	}
	if err := d.DefineClass(c); err != nil {
		return nil, in.throwError(KindVerifyError, "%v", err)
	}
	log.Debugf("defined class %s (extends %v)", c, super)

	if _, err := in.callMethod(c.CInit, ObjectValue(c.Object), nil); err != nil {
		return nil, err
	}
	return c, nil
}

// inheritProtected makes the superclass's protected members reachable
// through the subclass's own protected namespace.
func inheritProtected(c *Class) {
	s := c.Super
	if s == nil || s.ProtectedNS.Kind == 0 || c.ProtectedNS.Kind == 0 {
		return
	}
	for _, q := range s.Instance.order {
		if q.NS != s.ProtectedNS {
			continue
		}
		alias := QName{NS: c.ProtectedNS, Local: q.Local}
		if _, own := c.Instance.bindings[alias]; !own {
			c.Instance.Alias(alias, q)
		}
	}
}

// aliasInterface makes the public implementations of iface's methods
// reachable through the interface's own names.
func aliasInterface(c, iface *Class) {
	for _, q := range iface.Instance.Names() {
		if c.Instance.Find(q) == nil {
			c.Instance.Alias(q, PublicName(q.Local))
		}
	}
	for _, parent := range iface.Interfaces {
		aliasInterface(c, parent)
	}
}
