package vm

import "math"

// step executes one instruction whose opcode byte has been consumed.
// Script exceptions are returned; malformed operands fault immediately.
func (inv *invocation) step(op Opcode) error {
	in := inv.in
	switch op {

	// --- debugging and no-ops ---

	case OpNop, OpLabel, OpBkpt, OpTimestamp:
	case OpBkptLine:
		inv.u30()
	case OpDebug:
		inv.u8()
		inv.u30()
		inv.u8()
		inv.u30()
	case OpDebugLine:
		inv.line = int(inv.u30())
	case OpDebugFile:
		s, err := inv.pool.String(inv.u30())
		if err != nil {
			return err
		}
		inv.file = s

	// --- control transfer ---

	case OpThrow:
		return throwValue(inv.pop())
	case OpJump:
		inv.jump(inv.s24())
	case OpIfTrue, OpIfFalse:
		off := inv.s24()
		if ToBoolean(inv.pop()) == (op == OpIfTrue) {
			inv.jump(off)
		}
	case OpIfEq, OpIfNe:
		off := inv.s24()
		eq, err := in.weakEquals(inv.binary())
		if err != nil {
			return err
		}
		if eq == (op == OpIfEq) {
			inv.jump(off)
		}
	case OpIfStrictEq, OpIfStrictNe:
		off := inv.s24()
		if StrictEquals(inv.binary()) == (op == OpIfStrictEq) {
			inv.jump(off)
		}
	case OpIfLt, OpIfLe, OpIfGt, OpIfGe, OpIfNlt, OpIfNle, OpIfNgt, OpIfNge:
		off := inv.s24()
		a, b := inv.binary()
		taken, err := inv.relational(op, a, b)
		if err != nil {
			return err
		}
		if taken {
			inv.jump(off)
		}
	case OpLookupSwitch:
		return inv.lookupSwitch()
	case OpReturnVoid:
		inv.ret(Undefined)
	case OpReturnValue:
		v := inv.pop()
		if rt := inv.method.Info.ReturnType; rt != 0 {
			c, err := in.resolveType(inv.unit, rt)
			if err != nil {
				return err
			}
			if v, err = in.coerce(v, c); err != nil {
				return err
			}
		}
		inv.ret(v)

	// --- stack, locals and constants ---

	case OpKill:
		if err := inv.frame.Kill(inv.u30()); err != nil {
			return err
		}
	case OpPushNull:
		inv.push(Null)
	case OpPushUndefined:
		inv.push(Undefined)
	case OpPushByte:
		inv.push(Int(int32(inv.s8())))
	case OpPushShort:
		inv.push(Int(int32(int16(uint16(inv.u30())))))
	case OpPushTrue:
		inv.push(True)
	case OpPushFalse:
		inv.push(False)
	case OpPushNaN:
		inv.push(Double(math.NaN()))
	case OpPop:
		inv.pop()
	case OpDup:
		inv.push(*inv.peek(0))
	case OpSwap:
		a, b := inv.peek(0), inv.peek(1)
		*a, *b = *b, *a
	case OpPushString:
		s, err := inv.pool.String(inv.u30())
		return inv.pushResult(String(s), err)
	case OpPushInt:
		i, err := inv.pool.Int(inv.u30())
		return inv.pushResult(Int(i), err)
	case OpPushUint:
		u, err := inv.pool.Uint(inv.u30())
		return inv.pushResult(Uint(u), err)
	case OpPushDouble:
		d, err := inv.pool.Double(inv.u30())
		return inv.pushResult(Double(d), err)
	case OpPushNamespace:
		ns, err := inv.pool.Namespace(inv.u30())
		return inv.pushResult(NamespaceValue(ns), err)
	case OpGetLocal:
		inv.push(*inv.reg(inv.u30()))
	case OpSetLocal:
		r := inv.reg(inv.u30())
		*r = inv.pop()
	case OpGetLocal0, OpGetLocal1, OpGetLocal2, OpGetLocal3:
		inv.push(*inv.reg(uint32(op - OpGetLocal0)))
	case OpSetLocal0, OpSetLocal1, OpSetLocal2, OpSetLocal3:
		r := inv.reg(uint32(op - OpSetLocal0))
		*r = inv.pop()

	// --- scopes ---

	case OpPushScope, OpPushWith:
		v := inv.pop()
		o := v.AsObject()
		if o == nil {
			return in.throwError(KindTypeError, "Cannot push %s onto the scope stack.", describe(v))
		}
		if err := inv.scope.Push(o, op == OpPushWith); err != nil {
			return err
		}
	case OpPopScope:
		if err := inv.scope.Pop(); err != nil {
			return err
		}
	case OpGetGlobalScope:
		g := inv.scope.Global()
		if g == nil {
			g = in.domain.global
		}
		inv.push(ObjectValue(g))
	case OpGetScopeObject:
		o, err := inv.scope.At(int(inv.u8()))
		return inv.pushResult(ObjectValue(o), err)

	// --- enumeration ---

	case OpHasNext:
		idx := inv.pop()
		obj := inv.pop()
		inv.push(Int(hasNext(obj, ToInt32(idx))))
	case OpNextName:
		idx := inv.pop()
		obj := inv.pop()
		inv.push(in.nextName(obj, ToInt32(idx)))
	case OpNextValue:
		idx := inv.pop()
		obj := inv.pop()
		return inv.pushResult(in.nextValue(obj, ToInt32(idx)))
	case OpHasNext2:
		objReg, idxReg := inv.u30(), inv.u30()
		inv.push(Bool(in.hasNext2(inv.reg(objReg), inv.reg(idxReg))))

	// --- calls and construction ---

	case OpNewFunction:
		m, err := newMethod(inv.unit, inv.u30(), nil)
		if err != nil {
			return err
		}
		inv.push(ObjectValue(in.domain.newFunction(m, inv.scope.Capture(), Undefined, false)))
	case OpCall:
		args := inv.popN(inv.u30())
		recv := inv.pop()
		f := inv.pop()
		return inv.pushResult(in.callValue(f, recv, args))
	case OpConstruct:
		args := inv.popN(inv.u30())
		ctor := inv.pop()
		return inv.pushResult(in.construct(ctor, args))
	case OpCallMethod:
		id, argc := inv.u30(), inv.u30()
		args := inv.popN(argc)
		recv := inv.pop()
		if recv.IsNullish() {
			return in.throwError(KindTypeError, "Cannot call method %d of a null object reference.", id)
		}
		m := in.methodByDispID(recv, id)
		if m == nil {
			return in.throwError(KindReferenceError, "Method %d not found on %s.", id, describe(recv))
		}
		return inv.pushResult(in.callMethod(m, recv, args))
	case OpCallStatic:
		idx, argc := inv.u30(), inv.u30()
		args := inv.popN(argc)
		recv := inv.pop()
		m, err := newMethod(inv.unit, idx, nil)
		if err != nil {
			return err
		}
		return inv.pushResult(in.invokeMethod(m, inv.scope.Capture(), recv, args))
	case OpCallSuper, OpCallSuperVoid:
		idx, argc := inv.u30(), inv.u30()
		name, recv, args, err := inv.takeCall(idx, argc)
		if err != nil {
			return err
		}
		v, err := in.callSuper(inv.method, recv, name, args)
		if err != nil || op == OpCallSuperVoid {
			return err
		}
		inv.push(v)
	case OpCallProperty, OpCallPropLex, OpCallPropVoid:
		idx, argc := inv.u30(), inv.u30()
		name, recv, args, err := inv.takeCall(idx, argc)
		if err != nil {
			return err
		}
		v, err := in.callProperty(recv, name, args, op == OpCallPropLex)
		if err != nil || op == OpCallPropVoid {
			return err
		}
		inv.push(v)
	case OpConstructProp:
		idx, argc := inv.u30(), inv.u30()
		name, recv, args, err := inv.takeCall(idx, argc)
		if err != nil {
			return err
		}
		return inv.pushResult(in.constructProperty(recv, name, args))
	case OpConstructSuper:
		args := inv.popN(inv.u30())
		recv := inv.pop()
		return in.constructSuper(inv.method, recv, args)
	case OpApplyType:
		// Type parameters are erased; the base type stays on the stack.
		inv.popN(inv.u30())
	case OpNewObject:
		vals := inv.popN(2 * inv.u30())
		o := in.domain.NewObject()
		for i := 0; i < len(vals); i += 2 {
			key, err := in.toString(vals[i])
			if err != nil {
				return err
			}
			o.Put(key, vals[i+1])
		}
		inv.push(ObjectValue(o))
	case OpNewArray:
		inv.push(ObjectValue(in.domain.NewArray(inv.popN(inv.u30()))))
	case OpNewActivation:
		o, err := in.newActivation(inv.method)
		return inv.pushResult(ObjectValue(o), err)
	case OpNewClass:
		idx := inv.u30()
		base := inv.pop()
		c, err := in.newClass(inv.unit, idx, base, inv.scope.Capture())
		if err != nil {
			return err
		}
		inv.push(ObjectValue(c.Object))
	case OpNewCatch:
		idx := inv.u30()
		if int(idx) >= len(inv.body.Exceptions) {
			return faultf(FaultPoolIndex, "exception index %d out of range (0..%d)", idx, len(inv.body.Exceptions)-1)
		}
		o, err := in.newCatch(inv.unit, &inv.body.Exceptions[idx])
		return inv.pushResult(ObjectValue(o), err)

	// --- name-qualified property access ---

	case OpGetProperty:
		name, err := inv.takeName(inv.u30())
		if err != nil {
			return err
		}
		obj := inv.pop()
		return inv.pushResult(in.getProperty(obj, name))
	case OpSetProperty, OpInitProperty:
		idx := inv.u30()
		v := inv.pop()
		name, err := inv.takeName(idx)
		if err != nil {
			return err
		}
		return in.setProperty(inv.pop(), name, v, op == OpInitProperty)
	case OpDeleteProperty:
		name, err := inv.takeName(inv.u30())
		if err != nil {
			return err
		}
		ok, err := in.deleteProperty(inv.pop(), name)
		return inv.pushResult(Bool(ok), err)
	case OpGetSuper:
		name, err := inv.takeName(inv.u30())
		if err != nil {
			return err
		}
		obj := inv.pop()
		return inv.pushResult(in.getSuper(inv.method, obj, name))
	case OpSetSuper:
		idx := inv.u30()
		v := inv.pop()
		name, err := inv.takeName(idx)
		if err != nil {
			return err
		}
		return in.setSuper(inv.method, inv.pop(), name, v)
	case OpFindPropStrict, OpFindProperty:
		name, err := inv.takeName(inv.u30())
		if err != nil {
			return err
		}
		return inv.pushResult(inv.findProperty(name, op == OpFindPropStrict))
	case OpFindDef:
		name, err := inv.takeName(inv.u30())
		if err != nil {
			return err
		}
		v, ok, err := in.findDef(name)
		if err == nil && !ok {
			err = in.throwError(KindReferenceError, "Variable %s is not defined.", name.Local)
		}
		return inv.pushResult(v, err)
	case OpGetLex:
		name, err := inv.takeName(inv.u30())
		if err != nil {
			return err
		}
		obj, err := inv.findProperty(name, true)
		if err != nil {
			return err
		}
		return inv.pushResult(in.getProperty(obj, name))
	case OpGetSlot:
		id := inv.u30()
		o, err := in.slotHolder(inv.pop())
		if err != nil {
			return err
		}
		return inv.pushResult(o.Slot(int(id) - 1))
	case OpSetSlot:
		id := inv.u30()
		v := inv.pop()
		o, err := in.slotHolder(inv.pop())
		if err != nil {
			return err
		}
		return o.SetSlot(int(id)-1, v)
	case OpGetGlobalSlot:
		id := inv.u30()
		return inv.pushResult(inv.globalScope().Slot(int(id) - 1))
	case OpSetGlobalSlot:
		id := inv.u30()
		return inv.globalScope().SetSlot(int(id)-1, inv.pop())
	case OpGetDescendants:
		if _, err := inv.takeName(inv.u30()); err != nil {
			return err
		}
		return in.throwError(KindTypeError, "Descendant access is not supported on %s.", describe(inv.pop()))
	case OpCheckFilter:
		return in.throwError(KindTypeError, "Filter operator is not supported on %s.", describe(*inv.peek(0)))

	// --- default XML namespace and escaping ---

	case OpDxns:
		idx := inv.u30()
		if inv.method.Info.Flags&MethodSetDXNS == 0 {
			return in.throwError(KindVerifyError, "dxns used in %s without the SetDXNS flag.", inv.method)
		}
		s, err := inv.pool.String(idx)
		if err != nil {
			return err
		}
		inv.dxns = s
	case OpDxnsLate:
		s, err := in.toString(inv.pop())
		if err != nil {
			return err
		}
		inv.dxns = s
	case OpEscXElem, OpEscXAttr:
		s, err := in.toString(inv.pop())
		if op == OpEscXElem {
			s = EscapeXMLElem(s)
		} else {
			s = EscapeXMLAttr(s)
		}
		return inv.pushResult(String(s), err)

	// --- conversions and type tests ---

	case OpConvertS:
		s, err := in.toString(inv.pop())
		return inv.pushResult(String(s), err)
	case OpCoerceS:
		v := inv.pop()
		if v.IsNullish() {
			inv.push(String(""))
			break
		}
		s, err := in.toString(v)
		return inv.pushResult(String(s), err)
	case OpConvertI, OpCoerceI:
		i, err := in.toInt32(inv.pop())
		return inv.pushResult(Int(i), err)
	case OpConvertU, OpCoerceU:
		u, err := in.toUint32(inv.pop())
		return inv.pushResult(Uint(u), err)
	case OpConvertD, OpCoerceD:
		f, err := in.toNumber(inv.pop())
		return inv.pushResult(Double(f), err)
	case OpConvertB, OpCoerceB:
		inv.push(Bool(ToBoolean(inv.pop())))
	case OpConvertO:
		if v := *inv.peek(0); v.IsNullish() {
			return in.throwError(KindTypeError, "Cannot convert %s to an object.", describe(v))
		}
	case OpCoerceO:
		if r := inv.peek(0); r.IsUndefined() {
			*r = Null
		}
	case OpCoerceA:
	case OpCoerce:
		c, err := in.resolveType(inv.unit, inv.u30())
		if err != nil {
			return err
		}
		return inv.pushResult(in.coerce(inv.pop(), c))
	case OpAsType:
		c, err := in.resolveType(inv.unit, inv.u30())
		if err != nil {
			return err
		}
		inv.push(inv.asType(inv.pop(), c))
	case OpAsTypeLate:
		c, err := in.classOperand(inv.pop())
		if err != nil {
			return err
		}
		inv.push(inv.asType(inv.pop(), c))
	case OpIsType:
		c, err := in.resolveType(inv.unit, inv.u30())
		if err != nil {
			return err
		}
		inv.push(Bool(in.isType(inv.pop(), c)))
	case OpIsTypeLate:
		c, err := in.classOperand(inv.pop())
		if err != nil {
			return err
		}
		v := inv.pop()
		inv.push(Bool(c != nil && in.isType(v, c)))
	case OpInstanceOf:
		ctor := inv.pop()
		ok, err := in.instanceOf(inv.pop(), ctor)
		return inv.pushResult(Bool(ok), err)
	case OpIn:
		obj := inv.pop()
		key, err := in.toString(inv.pop())
		if err != nil {
			return err
		}
		if obj.IsNullish() {
			return in.throwError(KindTypeError, "The in operator requires an object, got %s.", describe(obj))
		}
		inv.push(Bool(in.hasProperty(obj, Name{Local: key, NS: []Namespace{PublicNamespace}})))
	case OpTypeOf:
		inv.push(String(TypeOf(inv.pop())))

	// --- arithmetic ---

	case OpNegate:
		f, err := in.toNumber(inv.pop())
		return inv.pushResult(Number(-f), err)
	case OpIncrement, OpDecrement:
		f, err := in.toNumber(inv.pop())
		return inv.pushResult(Number(f+delta(op == OpIncrement)), err)
	case OpIncLocal, OpDecLocal:
		r := inv.reg(inv.u30())
		f, err := in.toNumber(*r)
		if err != nil {
			return err
		}
		*r = Number(f + delta(op == OpIncLocal))
	case OpIncrementI, OpDecrementI:
		i, err := in.toInt32(inv.pop())
		return inv.pushResult(Int(i+int32(delta(op == OpIncrementI))), err)
	case OpIncLocalI, OpDecLocalI:
		r := inv.reg(inv.u30())
		i, err := in.toInt32(*r)
		if err != nil {
			return err
		}
		*r = Int(i + int32(delta(op == OpIncLocalI)))
	case OpNegateI:
		i, err := in.toInt32(inv.pop())
		return inv.pushResult(Int(-i), err)
	case OpNot:
		inv.push(Bool(!ToBoolean(inv.pop())))
	case OpBitNot:
		i, err := in.toInt32(inv.pop())
		return inv.pushResult(Int(^i), err)
	case OpAdd:
		return inv.pushResult(in.add(inv.binary()))
	case OpSubtract, OpMultiply, OpDivide, OpModulo:
		x, y, err := inv.numbers()
		if err != nil {
			return err
		}
		var r float64
		switch op {
		case OpSubtract:
			r = x - y
		case OpMultiply:
			r = x * y
		case OpDivide:
			r = x / y
		default:
			r = Modulo(x, y)
		}
		inv.push(Number(r))
	case OpAddI, OpSubtractI, OpMultiplyI, OpLShift, OpRShift, OpBitAnd, OpBitOr, OpBitXor:
		x, y, err := inv.ints()
		if err != nil {
			return err
		}
		var r int32
		switch op {
		case OpAddI:
			r = x + y
		case OpSubtractI:
			r = x - y
		case OpMultiplyI:
			r = x * y
		case OpLShift:
			r = x << (uint32(y) & 31)
		case OpRShift:
			r = x >> (uint32(y) & 31)
		case OpBitAnd:
			r = x & y
		case OpBitOr:
			r = x | y
		default:
			r = x ^ y
		}
		inv.push(Int(r))
	case OpURShift:
		a, b := inv.binary()
		x, err := in.toUint32(a)
		if err != nil {
			return err
		}
		y, err := in.toUint32(b)
		return inv.pushResult(Uint(x>>(y&31)), err)

	// --- comparison ---

	case OpEquals:
		eq, err := in.weakEquals(inv.binary())
		return inv.pushResult(Bool(eq), err)
	case OpStrictEquals:
		inv.push(Bool(StrictEquals(inv.binary())))
	case OpLessThan, OpLessEquals, OpGreaterThan, OpGreaterEquals:
		a, b := inv.binary()
		r, err := inv.relational(op, a, b)
		return inv.pushResult(Bool(r), err)

	default:
		if isDomainMemory(op) {
			return faultf(FaultBadOpcode, "domain memory opcode 0x%02x is not supported", byte(op))
		}
		return faultf(FaultBadOpcode, "unknown opcode 0x%02x", byte(op))
	}
	return nil
}

func (inv *invocation) pushResult(v Value, err error) error {
	if err != nil {
		return err
	}
	inv.push(v)
	return nil
}

func delta(up bool) float64 {
	if up {
		return 1
	}
	return -1
}

func (inv *invocation) numbers() (float64, float64, error) {
	a, b := inv.binary()
	x, err := inv.in.toNumber(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := inv.in.toNumber(b)
	return x, y, err
}

func (inv *invocation) ints() (int32, int32, error) {
	a, b := inv.binary()
	x, err := inv.in.toInt32(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := inv.in.toInt32(b)
	return x, y, err
}

// relational evaluates the comparison an opcode names. Any comparison
// involving NaN is false; the negated branches (ifnlt and friends) are
// therefore taken.
func (inv *invocation) relational(op Opcode, a, b Value) (bool, error) {
	var less, undefined bool
	var err error
	switch op {
	case OpLessThan, OpIfLt, OpIfNlt, OpGreaterEquals, OpIfGe, OpIfNge:
		less, undefined, err = inv.in.compare(a, b)
	default:
		less, undefined, err = inv.in.compare(b, a)
	}
	if err != nil {
		return false, err
	}
	var r bool
	switch op {
	case OpLessThan, OpIfLt, OpIfNlt, OpGreaterThan, OpIfGt, OpIfNgt:
		r = less && !undefined
	default: // <= and >= are the negation of the swapped strict comparison
		r = !less && !undefined
	}
	switch op {
	case OpIfNlt, OpIfNle, OpIfNgt, OpIfNge:
		return !r, nil
	}
	return r, nil
}

// lookupSwitch reads the switch table and seeks to the selected case. All
// offsets are relative to the switch's own first byte. The table holds
// count+1 cases; an index outside it selects the default.
func (inv *invocation) lookupSwitch() error {
	base := inv.pc
	def := inv.s24()
	count := inv.u30()
	idx, err := inv.in.toInt32(inv.pop())
	if err != nil {
		return err
	}
	target := def
	for i := uint32(0); i <= count; i++ {
		off := inv.s24()
		if idx >= 0 && uint32(idx) == i {
			target = off
		}
	}
	inv.seek(base + int(target))
	return nil
}

func (inv *invocation) asType(v Value, c *Class) Value {
	if inv.in.isType(v, c) {
		return v
	}
	return Null
}

func (inv *invocation) globalScope() *Object {
	if g := inv.scope.Global(); g != nil {
		return g
	}
	return inv.in.domain.global
}

func (in *Interpreter) slotHolder(v Value) (*Object, error) {
	o := v.AsObject()
	if o == nil {
		return nil, in.throwError(KindTypeError, "Cannot access a slot of %s.", describe(v))
	}
	return o, nil
}
