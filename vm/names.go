package vm

import "math"

// ---------------------------------------------------------------------------
// Multiname completion
// ---------------------------------------------------------------------------

// completeName resolves multiname index against the pool, taking runtime
// namespace and name parts from the operand stack. above is the number of
// stack values sitting on top of the runtime parts (call arguments, or the
// value being stored). The parts are peeked, not popped; consumed tells the
// caller how many to drop.
func (inv *invocation) completeName(index uint32, above int) (Name, int, error) {
	if index == 0 {
		return Name{AnyLocal: true, AnyNS: true}, 0, nil
	}
	mn, err := inv.pool.Multiname(index)
	if err != nil {
		return Name{}, 0, err
	}
	n := Name{Attr: mn.Kind.IsAttr()}
	consumed := 0

	if mn.Kind.RuntimeName() {
		v := *inv.peek(above)
		consumed++
		local, err := inv.in.toString(v)
		if err != nil {
			return Name{}, 0, err
		}
		n.Local = local
	} else if mn.Kind != MultinameTypeName {
		if mn.Name == 0 {
			n.AnyLocal = true
		} else if n.Local, err = inv.pool.String(mn.Name); err != nil {
			return Name{}, 0, err
		}
	}

	switch mn.Kind {
	case MultinameQName, MultinameQNameA:
		if mn.NS == 0 {
			n.AnyNS = true
			break
		}
		ns, err := inv.pool.Namespace(mn.NS)
		if err != nil {
			return Name{}, 0, err
		}
		n.NS = []Namespace{ns}
	case MultinameRTQName, MultinameRTQNameA, MultinameRTQNameL, MultinameRTQNameLA:
		v := *inv.peek(above + consumed)
		consumed++
		if v.Kind() != KindNamespace {
			return Name{}, 0, inv.in.throwError(KindTypeError, "Runtime namespace must be a Namespace, got %s.", describe(v))
		}
		n.NS = []Namespace{v.AsNamespace()}
	case MultinameMultiname, MultinameMultinameA, MultinameMultinameL, MultinameMultinameLA:
		if n.NS, err = inv.pool.NamespaceSet(mn.NSSet); err != nil {
			return Name{}, 0, err
		}
	case MultinameTypeName:
		// Generic instantiations are erased to their base type.
		q, err := inv.pool.QName(mn.Base)
		if err != nil {
			return Name{}, 0, err
		}
		n = NameFromQName(q)
	default:
		return Name{}, 0, faultf(FaultMalformed, "multiname %d has unknown kind 0x%02x", index, uint8(mn.Kind))
	}
	return n, consumed, nil
}

// ---------------------------------------------------------------------------
// Type references
// ---------------------------------------------------------------------------

// typeQName returns the QName a type reference denotes. ok is false for the
// untyped references: index 0, "*" and void.
func typeQName(pool *ConstantPool, index uint32) (q QName, ok bool, err error) {
	if index == 0 {
		return QName{}, false, nil
	}
	mn, err := pool.Multiname(index)
	if err != nil {
		return QName{}, false, err
	}
	if mn.Kind == MultinameTypeName {
		index = mn.Base
	}
	if q, err = pool.QName(index); err != nil {
		return QName{}, false, err
	}
	if q.Local == "" || q.Local == "*" || (q.Local == "void" && q.NS.IsPublic()) {
		return QName{}, false, nil
	}
	return q, true, nil
}

// resolveType returns the class a type reference names, or nil for any.
func (in *Interpreter) resolveType(u *Unit, index uint32) (*Class, error) {
	q, ok, err := typeQName(&u.Pool, index)
	if err != nil || !ok {
		return nil, err
	}
	return in.classNamed(q)
}

// classNamed finds a class, running the script that defines it first if
// needed.
func (in *Interpreter) classNamed(q QName) (*Class, error) {
	if c, ok := in.domain.ClassByName(q); ok {
		return c, nil
	}
	if s := in.domain.scriptFor(NameFromQName(q)); s != nil {
		if _, err := in.ensureScript(s); err != nil {
			return nil, err
		}
		if c, ok := in.domain.ClassByName(q); ok {
			return c, nil
		}
	}
	return nil, in.throwError(KindReferenceError, "Class %s could not be found.", q)
}

// resolveClassRef resolves a class reference that may be qualified by a
// namespace set, as interface lists are.
func (in *Interpreter) resolveClassRef(u *Unit, index uint32) (*Class, error) {
	mn, err := u.Pool.Multiname(index)
	if err != nil {
		return nil, err
	}
	if mn.Kind != MultinameMultiname && mn.Kind != MultinameMultinameA {
		c, err := in.resolveType(u, index)
		if err == nil && c == nil {
			err = in.throwError(KindVerifyError, "Multiname %d does not name a class.", index)
		}
		return c, err
	}
	local, err := u.Pool.String(mn.Name)
	if err != nil {
		return nil, err
	}
	nss, err := u.Pool.NamespaceSet(mn.NSSet)
	if err != nil {
		return nil, err
	}
	find := func() *Class {
		for _, ns := range nss {
			if c, ok := in.domain.ClassByName(QName{NS: ns, Local: local}); ok {
				return c
			}
		}
		return nil
	}
	if c := find(); c != nil {
		return c, nil
	}
	n := Name{Local: local, NS: nss}
	if s := in.domain.scriptFor(n); s != nil {
		if _, err := in.ensureScript(s); err != nil {
			return nil, err
		}
		if c := find(); c != nil {
			return c, nil
		}
	}
	return nil, in.throwError(KindReferenceError, "Class %s could not be found.", n)
}

// slotType resolves a slot's declared type on first use.
func (in *Interpreter) slotType(b *Binding) (*Class, error) {
	if b.Type != nil || b.TypeName == nil {
		return b.Type, nil
	}
	c, err := in.classNamed(*b.TypeName)
	if err != nil {
		return nil, err
	}
	b.Type = c
	return c, nil
}

// typeDefault is the initial value of a slot declared with type q and no
// explicit default.
func typeDefault(q QName, typed bool) Value {
	if !typed {
		return Undefined
	}
	if !q.NS.IsPublic() {
		return Null
	}
	switch q.Local {
	case "int":
		return Int(0)
	case "uint":
		return Uint(0)
	case "Number":
		return Double(math.NaN())
	case "Boolean":
		return False
	}
	return Null
}
