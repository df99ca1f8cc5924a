package vm

import "math"

// ---------------------------------------------------------------------------
// Multinames
// ---------------------------------------------------------------------------

// MultinameKind is the ABC multiname kind byte.
type MultinameKind uint8

const (
	MultinameQName       MultinameKind = 0x07
	MultinameQNameA      MultinameKind = 0x0D
	MultinameRTQName     MultinameKind = 0x0F
	MultinameRTQNameA    MultinameKind = 0x10
	MultinameRTQNameL    MultinameKind = 0x11
	MultinameRTQNameLA   MultinameKind = 0x12
	MultinameMultiname   MultinameKind = 0x09
	MultinameMultinameA  MultinameKind = 0x0E
	MultinameMultinameL  MultinameKind = 0x1B
	MultinameMultinameLA MultinameKind = 0x1C
	MultinameTypeName    MultinameKind = 0x1D
)

// RuntimeNS reports whether the namespace comes from the operand stack.
func (k MultinameKind) RuntimeNS() bool {
	switch k {
	case MultinameRTQName, MultinameRTQNameA, MultinameRTQNameL, MultinameRTQNameLA:
		return true
	}
	return false
}

// RuntimeName reports whether the local name comes from the operand stack.
func (k MultinameKind) RuntimeName() bool {
	switch k {
	case MultinameRTQNameL, MultinameRTQNameLA, MultinameMultinameL, MultinameMultinameLA:
		return true
	}
	return false
}

// IsAttr reports whether the kind denotes an XML attribute name.
func (k MultinameKind) IsAttr() bool {
	switch k {
	case MultinameQNameA, MultinameRTQNameA, MultinameRTQNameLA, MultinameMultinameA, MultinameMultinameLA:
		return true
	}
	return false
}

// Multiname is a multiname pool entry. Index fields refer to the other pool
// spaces; zero means "any" for NS and Name.
type Multiname struct {
	Kind   MultinameKind
	NS     uint32   // namespace index (QName kinds)
	NSSet  uint32   // namespace set index (Multiname kinds)
	Name   uint32   // string index
	Base   uint32   // TypeName: generic multiname index
	Params []uint32 // TypeName: parameter multiname indices
}

// ---------------------------------------------------------------------------
// Constant values used by optional parameters and trait defaults
// ---------------------------------------------------------------------------

// ConstKind tags a constant reference in method defaults and slot traits.
type ConstKind uint8

const (
	ConstUndefined ConstKind = 0x00
	ConstUtf8      ConstKind = 0x01
	ConstInt       ConstKind = 0x03
	ConstUInt      ConstKind = 0x04
	ConstPrivateNs ConstKind = 0x05
	ConstDouble    ConstKind = 0x06
	ConstNamespace ConstKind = 0x08
	ConstFalse     ConstKind = 0x0A
	ConstTrue      ConstKind = 0x0B
	ConstNull      ConstKind = 0x0C
	ConstPackageNs ConstKind = 0x16
	ConstInternal  ConstKind = 0x17
	ConstProtected ConstKind = 0x18
	ConstExplicit  ConstKind = 0x19
	ConstStaticNs  ConstKind = 0x1A
)

// ---------------------------------------------------------------------------
// ConstantPool
// ---------------------------------------------------------------------------

// ConstantPool holds the read-only pools of a loaded unit. All index spaces
// are 1-based as in the container format; the slices hold entries 1..n, so
// index i lives at slice position i-1.
type ConstantPool struct {
	Ints       []int32
	Uints      []uint32
	Doubles    []float64
	Strings    []string
	Namespaces []Namespace
	NSSets     [][]uint32
	Multinames []Multiname
	Methods    []MethodInfo
}

func poolIndex(space string, i uint32, n int) (int, error) {
	if i == 0 || int(i) > n {
		return 0, faultf(FaultPoolIndex, "%s index %d out of range (1..%d)", space, i, n)
	}
	return int(i) - 1, nil
}

// Int returns integer constant i.
func (p *ConstantPool) Int(i uint32) (int32, error) {
	idx, err := poolIndex("int", i, len(p.Ints))
	if err != nil {
		return 0, err
	}
	return p.Ints[idx], nil
}

// Uint returns unsigned constant i.
func (p *ConstantPool) Uint(i uint32) (uint32, error) {
	idx, err := poolIndex("uint", i, len(p.Uints))
	if err != nil {
		return 0, err
	}
	return p.Uints[idx], nil
}

// Double returns double constant i.
func (p *ConstantPool) Double(i uint32) (float64, error) {
	idx, err := poolIndex("double", i, len(p.Doubles))
	if err != nil {
		return 0, err
	}
	return p.Doubles[idx], nil
}

// String returns string constant i.
func (p *ConstantPool) String(i uint32) (string, error) {
	idx, err := poolIndex("string", i, len(p.Strings))
	if err != nil {
		return "", err
	}
	return p.Strings[idx], nil
}

// Namespace returns namespace constant i. Private namespaces get their pool
// index as identity so that two private namespaces never collide.
func (p *ConstantPool) Namespace(i uint32) (Namespace, error) {
	idx, err := poolIndex("namespace", i, len(p.Namespaces))
	if err != nil {
		return Namespace{}, err
	}
	ns := p.Namespaces[idx]
	if ns.Kind == NamespacePrivate && ns.ID == 0 {
		ns.ID = i
	}
	return ns, nil
}

// NamespaceSet returns the namespaces of set i.
func (p *ConstantPool) NamespaceSet(i uint32) ([]Namespace, error) {
	idx, err := poolIndex("namespace set", i, len(p.NSSets))
	if err != nil {
		return nil, err
	}
	set := p.NSSets[idx]
	out := make([]Namespace, 0, len(set))
	for _, nsi := range set {
		ns, err := p.Namespace(nsi)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}

// Multiname returns multiname entry i.
func (p *ConstantPool) Multiname(i uint32) (*Multiname, error) {
	idx, err := poolIndex("multiname", i, len(p.Multinames))
	if err != nil {
		return nil, err
	}
	return &p.Multinames[idx], nil
}

// Method returns method info i. Method indices are 0-based in the container
// format, unlike the constant spaces.
func (p *ConstantPool) Method(i uint32) (*MethodInfo, error) {
	if int(i) >= len(p.Methods) {
		return nil, faultf(FaultPoolIndex, "method index %d out of range (0..%d)", i, len(p.Methods)-1)
	}
	return &p.Methods[i], nil
}

// QName resolves multiname i, which must be a compile-time QName. Trait and
// class names always are.
func (p *ConstantPool) QName(i uint32) (QName, error) {
	mn, err := p.Multiname(i)
	if err != nil {
		return QName{}, err
	}
	if mn.Kind != MultinameQName && mn.Kind != MultinameQNameA {
		return QName{}, faultf(FaultMalformed, "multiname %d is not a QName (kind 0x%02x)", i, uint8(mn.Kind))
	}
	var q QName
	if mn.NS != 0 {
		if q.NS, err = p.Namespace(mn.NS); err != nil {
			return QName{}, err
		}
	}
	if mn.Name != 0 {
		if q.Local, err = p.String(mn.Name); err != nil {
			return QName{}, err
		}
	}
	return q, nil
}

// Constant materialises a typed constant reference.
func (p *ConstantPool) Constant(kind ConstKind, index uint32) (Value, error) {
	switch kind {
	case ConstUndefined:
		return Undefined, nil
	case ConstNull:
		return Null, nil
	case ConstTrue:
		return True, nil
	case ConstFalse:
		return False, nil
	case ConstUtf8:
		s, err := p.String(index)
		return String(s), err
	case ConstInt:
		i, err := p.Int(index)
		return Int(i), err
	case ConstUInt:
		u, err := p.Uint(index)
		return Uint(u), err
	case ConstDouble:
		d, err := p.Double(index)
		if math.IsNaN(d) {
			return NaN, err
		}
		return Double(d), err
	case ConstPrivateNs, ConstNamespace, ConstPackageNs, ConstInternal, ConstProtected, ConstExplicit, ConstStaticNs:
		ns, err := p.Namespace(index)
		return NamespaceValue(ns), err
	}
	return Undefined, faultf(FaultMalformed, "unknown constant kind 0x%02x", uint8(kind))
}
