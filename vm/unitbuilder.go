package vm

import (
	"math"

	"github.com/ccoveille/go-safecast"
)

// ---------------------------------------------------------------------------
// UnitBuilder: assembles a Unit in memory
// ---------------------------------------------------------------------------

// UnitBuilder interns constants and collects methods, classes and scripts
// into a Unit. It stands in for the container parser when units are
// produced from text or in tests.
type UnitBuilder struct {
	u *Unit

	strings    map[string]uint32
	ints       map[int32]uint32
	uints      map[uint32]uint32
	doubles    map[uint64]uint32
	namespaces map[Namespace]uint32
	qnames     map[QName]uint32
	err        error
}

// NewUnitBuilder creates a builder for a unit called name.
func NewUnitBuilder(name string) *UnitBuilder {
	return &UnitBuilder{
		u:          &Unit{Name: name},
		strings:    make(map[string]uint32),
		ints:       make(map[int32]uint32),
		uints:      make(map[uint32]uint32),
		doubles:    make(map[uint64]uint32),
		namespaces: make(map[Namespace]uint32),
		qnames:     make(map[QName]uint32),
	}
}

// Unit returns the assembled unit, or the first error recorded.
func (b *UnitBuilder) Unit() (*Unit, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.u, nil
}

// MustUnit is Unit for fixtures known to be well formed.
func (b *UnitBuilder) MustUnit() *Unit {
	u, err := b.Unit()
	if err != nil {
		panic(err)
	}
	return u
}

func (b *UnitBuilder) index(n int) uint32 {
	i, err := safecast.Convert[uint32](n)
	if err != nil && b.err == nil {
		b.err = err
	}
	return i
}

// String interns s and returns its 1-based index.
func (b *UnitBuilder) String(s string) uint32 {
	if i, ok := b.strings[s]; ok {
		return i
	}
	b.u.Pool.Strings = append(b.u.Pool.Strings, s)
	i := b.index(len(b.u.Pool.Strings))
	b.strings[s] = i
	return i
}

// Int interns an integer constant.
func (b *UnitBuilder) Int(v int32) uint32 {
	if i, ok := b.ints[v]; ok {
		return i
	}
	b.u.Pool.Ints = append(b.u.Pool.Ints, v)
	i := b.index(len(b.u.Pool.Ints))
	b.ints[v] = i
	return i
}

// Uint interns an unsigned constant.
func (b *UnitBuilder) Uint(v uint32) uint32 {
	if i, ok := b.uints[v]; ok {
		return i
	}
	b.u.Pool.Uints = append(b.u.Pool.Uints, v)
	i := b.index(len(b.u.Pool.Uints))
	b.uints[v] = i
	return i
}

// Double interns a double constant.
func (b *UnitBuilder) Double(v float64) uint32 {
	key := math.Float64bits(v)
	if i, ok := b.doubles[key]; ok {
		return i
	}
	b.u.Pool.Doubles = append(b.u.Pool.Doubles, v)
	i := b.index(len(b.u.Pool.Doubles))
	b.doubles[key] = i
	return i
}

// Namespace interns a namespace. Private namespaces are never shared.
func (b *UnitBuilder) Namespace(ns Namespace) uint32 {
	if i, ok := b.namespaces[ns]; ok && ns.Kind != NamespacePrivate {
		return i
	}
	b.u.Pool.Namespaces = append(b.u.Pool.Namespaces, ns)
	i := b.index(len(b.u.Pool.Namespaces))
	b.namespaces[ns] = i
	return i
}

// NamespaceSet adds a namespace set.
func (b *UnitBuilder) NamespaceSet(nss ...Namespace) uint32 {
	set := make([]uint32, 0, len(nss))
	for _, ns := range nss {
		set = append(set, b.Namespace(ns))
	}
	b.u.Pool.NSSets = append(b.u.Pool.NSSets, set)
	return b.index(len(b.u.Pool.NSSets))
}

// NamespaceSetOf adds a namespace set over already interned namespaces.
func (b *UnitBuilder) NamespaceSetOf(indices ...uint32) uint32 {
	b.u.Pool.NSSets = append(b.u.Pool.NSSets, indices)
	return b.index(len(b.u.Pool.NSSets))
}

// Pool exposes the pool being built.
func (b *UnitBuilder) Pool() *ConstantPool {
	return &b.u.Pool
}

// QName interns a QName multiname.
func (b *UnitBuilder) QName(q QName) uint32 {
	if i, ok := b.qnames[q]; ok {
		return i
	}
	i := b.Multiname(Multiname{Kind: MultinameQName, NS: b.Namespace(q.NS), Name: b.String(q.Local)})
	b.qnames[q] = i
	return i
}

// Public interns the public QName for local.
func (b *UnitBuilder) Public(local string) uint32 {
	return b.QName(PublicName(local))
}

// Multiname adds a multiname entry as given.
func (b *UnitBuilder) Multiname(mn Multiname) uint32 {
	b.u.Pool.Multinames = append(b.u.Pool.Multinames, mn)
	return b.index(len(b.u.Pool.Multinames))
}

// Method adds a method info with its body and returns the method index.
// body.Method is filled in.
func (b *UnitBuilder) Method(name string, info MethodInfo, body MethodBody) uint32 {
	if name != "" {
		info.Name = b.String(name)
	}
	b.u.Pool.Methods = append(b.u.Pool.Methods, info)
	m := b.index(len(b.u.Pool.Methods) - 1)
	body.Method = m
	b.u.Bodies = append(b.u.Bodies, body)
	return m
}

// Code is a shorthand for a parameterless method with the given code.
func (b *UnitBuilder) Code(name string, code []byte) uint32 {
	return b.Method(name, MethodInfo{}, MethodBody{MaxStack: 8, LocalCount: 1, MaxScopeDepth: 8, Code: code})
}

// Class adds a class and returns its index.
func (b *UnitBuilder) Class(ci ClassInfo) uint32 {
	b.u.Classes = append(b.u.Classes, ci)
	return b.index(len(b.u.Classes) - 1)
}

// Script adds a script with the given init method and global traits.
func (b *UnitBuilder) Script(init uint32, traits ...TraitInfo) {
	b.u.Scripts = append(b.u.Scripts, ScriptInfo{Init: init, Traits: traits})
}
