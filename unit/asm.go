package unit

import (
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/ccoveille/go-safecast"
	"github.com/chazu/abcvm/vm"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Assembly documents
// ---------------------------------------------------------------------------

// Document is the YAML form of a unit. Methods, classes and scripts refer
// to each other by name; methods and classes are numbered in the order
// they appear.
type Document struct {
	Name    string      `yaml:"name"`
	Methods []MethodDoc `yaml:"methods"`
	Classes []ClassDoc  `yaml:"classes"`
	Scripts []ScriptDoc `yaml:"scripts"`
}

// MethodDoc is one method with its body.
type MethodDoc struct {
	Name       string       `yaml:"name"`
	Params     []string     `yaml:"params"`
	Returns    string       `yaml:"returns"`
	Optional   []yaml.Node  `yaml:"optional"`
	Flags      []string     `yaml:"flags"`
	MaxStack   *uint32      `yaml:"max_stack"`
	Locals     *uint32      `yaml:"locals"`
	InitScope  uint32       `yaml:"init_scope"`
	MaxScope   *uint32      `yaml:"max_scope"`
	Code       string       `yaml:"code"`
	Exceptions []HandlerDoc `yaml:"exceptions"`
	Activation []TraitDoc   `yaml:"activation"`
}

// HandlerDoc is an exception table entry. From, To and Target are labels
// in the method's code or literal offsets.
type HandlerDoc struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Target string `yaml:"target"`
	Type   string `yaml:"type"`
	Var    string `yaml:"var"`
	Scope  uint32 `yaml:"scope"`
}

// ClassDoc declares a class. Without iinit a constructor that only calls
// the super constructor is generated; super defaults to Object.
type ClassDoc struct {
	Name       string     `yaml:"name"`
	Super      string     `yaml:"super"`
	Flags      []string   `yaml:"flags"`
	Protected  string     `yaml:"protected"`
	Interfaces []string   `yaml:"interfaces"`
	IInit      string     `yaml:"iinit"`
	CInit      string     `yaml:"cinit"`
	Instance   []TraitDoc `yaml:"instance"`
	Static     []TraitDoc `yaml:"static"`
}

// TraitDoc declares one trait. Kind is slot, const, method, getter, setter,
// class or function.
type TraitDoc struct {
	Kind     string    `yaml:"kind"`
	Name     string    `yaml:"name"`
	ID       uint32    `yaml:"id"`
	Type     string    `yaml:"type"`
	Value    yaml.Node `yaml:"value"`
	Method   string    `yaml:"method"`
	Class    string    `yaml:"class"`
	Final    bool      `yaml:"final"`
	Override bool      `yaml:"override"`
}

// ScriptDoc is a script: its init method and global traits.
type ScriptDoc struct {
	Init   string     `yaml:"init"`
	Traits []TraitDoc `yaml:"traits"`
}

var methodFlags = map[string]vm.MethodFlags{
	"arguments":  vm.MethodNeedArguments,
	"activation": vm.MethodNeedActivation,
	"rest":       vm.MethodNeedRest,
	"setdxns":    vm.MethodSetDXNS,
}

var classFlags = map[string]vm.ClassFlags{
	"sealed":    vm.ClassSealed,
	"final":     vm.ClassFinal,
	"interface": vm.ClassInterface,
}

var traitKinds = map[string]vm.TraitKind{
	"slot":     vm.TraitSlot,
	"const":    vm.TraitConst,
	"method":   vm.TraitMethod,
	"getter":   vm.TraitGetter,
	"setter":   vm.TraitSetter,
	"class":    vm.TraitClass,
	"function": vm.TraitFunction,
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

type assembler struct {
	ub       *vm.UnitBuilder
	methods  map[string]uint32
	classes  map[string]uint32
	names    map[string]uint32
	privates map[string]uint32
	nsSets   map[string]uint32
}

// Parse decodes a YAML assembly document. Unknown keys are errors.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, errors.Wrap(err, "unit: parse")
	}
	return &doc, nil
}

// Assemble parses src and builds the unit it describes. name is used when
// the document does not name the unit itself.
func Assemble(name string, src []byte) (*vm.Unit, error) {
	doc, err := Parse(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	if doc.Name == "" {
		doc.Name = name
	}
	return doc.Build()
}

// Build assembles the document into a unit.
func (d *Document) Build() (*vm.Unit, error) {
	a := &assembler{
		ub:       vm.NewUnitBuilder(d.Name),
		methods:  make(map[string]uint32, len(d.Methods)),
		classes:  make(map[string]uint32, len(d.Classes)),
		names:    make(map[string]uint32),
		privates: make(map[string]uint32),
		nsSets:   make(map[string]uint32),
	}

	// Number everything first so that code can refer forward.
	for i, m := range d.Methods {
		if m.Name == "" {
			continue
		}
		if _, dup := a.methods[m.Name]; dup {
			return nil, errors.Errorf("unit: duplicate method %q", m.Name)
		}
		a.methods[m.Name] = a.index(i)
	}
	for i, c := range d.Classes {
		if _, dup := a.classes[c.Name]; dup {
			return nil, errors.Errorf("unit: duplicate class %q", c.Name)
		}
		a.classes[c.Name] = a.index(i)
	}

	for i := range d.Methods {
		if err := a.method(&d.Methods[i]); err != nil {
			return nil, errors.Wrapf(err, "unit: method %q", d.Methods[i].Name)
		}
	}
	for i := range d.Classes {
		if err := a.class(&d.Classes[i]); err != nil {
			return nil, errors.Wrapf(err, "unit: class %q", d.Classes[i].Name)
		}
	}
	for i := range d.Scripts {
		if err := a.script(&d.Scripts[i]); err != nil {
			return nil, errors.Wrapf(err, "unit: script %d", i)
		}
	}

	u, err := a.ub.Unit()
	if err != nil {
		return nil, errors.Wrap(err, "unit")
	}
	log.Debugf("assembled %q: %d methods, %d classes, %d scripts", u.Name, len(u.Pool.Methods), len(u.Classes), len(u.Scripts))
	return u, nil
}

func (a *assembler) index(n int) uint32 {
	i, err := safecast.Convert[uint32](n)
	if err != nil {
		return math.MaxUint32
	}
	return i
}

func (a *assembler) methodRef(name string) (uint32, error) {
	if strings.HasPrefix(name, "#") {
		return parseU32(name[1:])
	}
	m, ok := a.methods[name]
	if !ok {
		return 0, errors.Errorf("unknown method %q", name)
	}
	return m, nil
}

func (a *assembler) classRef(name string) (uint32, error) {
	if strings.HasPrefix(name, "#") {
		return parseU32(name[1:])
	}
	c, ok := a.classes[name]
	if !ok {
		return 0, errors.Errorf("unknown class %q", name)
	}
	return c, nil
}

func (a *assembler) method(m *MethodDoc) error {
	var info vm.MethodInfo
	for _, f := range m.Flags {
		bit, ok := methodFlags[f]
		if !ok {
			return errors.Errorf("unknown method flag %q", f)
		}
		info.Flags |= bit
	}
	for _, p := range m.Params {
		t, err := a.name(p)
		if err != nil {
			return errors.Wrap(err, "param")
		}
		info.ParamTypes = append(info.ParamTypes, t)
	}
	if m.Returns != "" {
		t, err := a.name(m.Returns)
		if err != nil {
			return errors.Wrap(err, "returns")
		}
		info.ReturnType = t
	}
	for i := range m.Optional {
		kind, idx, err := a.constant(&m.Optional[i])
		if err != nil {
			return errors.Wrapf(err, "optional %d", i)
		}
		info.Optional = append(info.Optional, vm.OptionalParam{Kind: kind, Index: idx})
	}
	if len(info.Optional) > 0 {
		info.Flags |= vm.MethodHasOptional
	}

	locals := uint32(1 + len(info.ParamTypes))
	if info.Flags&(vm.MethodNeedRest|vm.MethodNeedArguments) != 0 {
		locals++
	}
	body := vm.MethodBody{
		MaxStack:       valueOr(m.MaxStack, 16),
		LocalCount:     valueOr(m.Locals, locals),
		InitScopeDepth: m.InitScope,
		MaxScopeDepth:  valueOr(m.MaxScope, m.InitScope+8),
	}

	code, labels, err := a.code(m.Code)
	if err != nil {
		return err
	}
	body.Code = code
	for i := range m.Exceptions {
		h, err := a.handler(&m.Exceptions[i], labels)
		if err != nil {
			return errors.Wrapf(err, "exception %d", i)
		}
		body.Exceptions = append(body.Exceptions, h)
	}
	if body.Traits, err = a.traits(m.Activation); err != nil {
		return errors.Wrap(err, "activation")
	}

	a.ub.Method(m.Name, info, body)
	return nil
}

func valueOr(p *uint32, def uint32) uint32 {
	if p != nil {
		return *p
	}
	return def
}

func (a *assembler) handler(h *HandlerDoc, labels map[string]*vm.Label) (vm.ExceptionInfo, error) {
	var e vm.ExceptionInfo
	var err error
	if e.From, err = offset(h.From, labels); err != nil {
		return e, errors.Wrap(err, "from")
	}
	if e.To, err = offset(h.To, labels); err != nil {
		return e, errors.Wrap(err, "to")
	}
	if e.Target, err = offset(h.Target, labels); err != nil {
		return e, errors.Wrap(err, "target")
	}
	if h.Type != "" {
		if e.ExcType, err = a.name(h.Type); err != nil {
			return e, errors.Wrap(err, "type")
		}
	}
	if h.Var != "" {
		if e.VarName, err = a.name(h.Var); err != nil {
			return e, errors.Wrap(err, "var")
		}
	}
	e.ScopeDepth = h.Scope
	return e, nil
}

func offset(ref string, labels map[string]*vm.Label) (uint32, error) {
	if l, ok := labels[ref]; ok {
		pos, marked := l.Position()
		if !marked {
			return 0, errors.Errorf("label %q is never placed", ref)
		}
		return safecast.Convert[uint32](pos)
	}
	return parseU32(ref)
}

func (a *assembler) class(c *ClassDoc) error {
	var ci vm.ClassInfo
	var err error
	if ci.Name, err = a.qname(c.Name); err != nil {
		return err
	}
	for _, f := range c.Flags {
		bit, ok := classFlags[f]
		if !ok {
			return errors.Errorf("unknown class flag %q", f)
		}
		ci.Flags |= bit
	}
	isInterface := ci.Flags&vm.ClassInterface != 0

	super := c.Super
	if super == "" && !isInterface {
		super = "Object"
	}
	if super != "" {
		if ci.Super, err = a.name(super); err != nil {
			return errors.Wrap(err, "super")
		}
	}
	if c.Protected != "" {
		ci.Flags |= vm.ClassProtectedNS
		ci.ProtectedNS = a.namespace(vm.Namespace{Kind: vm.NamespaceProtected, URI: c.Protected})
	}
	for _, iface := range c.Interfaces {
		i, err := a.name(iface)
		if err != nil {
			return errors.Wrap(err, "interface")
		}
		ci.Interfaces = append(ci.Interfaces, i)
	}

	ctor := []byte{byte(vm.OpGetLocal0), byte(vm.OpConstructSuper), 0, byte(vm.OpReturnVoid)}
	if isInterface {
		ctor = []byte{byte(vm.OpReturnVoid)}
	}
	if ci.IInit, err = a.methodOrDefault(c.IInit, c.Name+"$iinit", ctor); err != nil {
		return errors.Wrap(err, "iinit")
	}
	if ci.CInit, err = a.methodOrDefault(c.CInit, c.Name+"$cinit", []byte{byte(vm.OpReturnVoid)}); err != nil {
		return errors.Wrap(err, "cinit")
	}
	if ci.Instance, err = a.traits(c.Instance); err != nil {
		return errors.Wrap(err, "instance")
	}
	if ci.Static, err = a.traits(c.Static); err != nil {
		return errors.Wrap(err, "static")
	}
	a.ub.Class(ci)
	return nil
}

func (a *assembler) script(s *ScriptDoc) error {
	init, err := a.methodOrDefault(s.Init, "$script", []byte{byte(vm.OpReturnVoid)})
	if err != nil {
		return errors.Wrap(err, "init")
	}
	traits, err := a.traits(s.Traits)
	if err != nil {
		return err
	}
	a.ub.Script(init, traits...)
	return nil
}

// methodOrDefault resolves ref, or generates a method running code when ref
// is empty.
func (a *assembler) methodOrDefault(ref, name string, code []byte) (uint32, error) {
	if ref != "" {
		return a.methodRef(ref)
	}
	return a.ub.Method(name, vm.MethodInfo{}, vm.MethodBody{MaxStack: 1, LocalCount: 1, MaxScopeDepth: 1, Code: code}), nil
}

func (a *assembler) traits(docs []TraitDoc) ([]vm.TraitInfo, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]vm.TraitInfo, 0, len(docs))
	for i := range docs {
		t, err := a.trait(&docs[i])
		if err != nil {
			return nil, errors.Wrapf(err, "trait %q", docs[i].Name)
		}
		out = append(out, t)
	}
	return out, nil
}

func (a *assembler) trait(d *TraitDoc) (vm.TraitInfo, error) {
	kind, ok := traitKinds[d.Kind]
	if !ok {
		return vm.TraitInfo{}, errors.Errorf("unknown trait kind %q", d.Kind)
	}
	t := vm.TraitInfo{Kind: kind, SlotID: d.ID, Final: d.Final, Override: d.Override}
	var err error
	if t.Name, err = a.qname(d.Name); err != nil {
		return t, err
	}
	switch kind {
	case vm.TraitSlot, vm.TraitConst:
		if d.Type != "" {
			if t.Type, err = a.name(d.Type); err != nil {
				return t, errors.Wrap(err, "type")
			}
		}
		if d.Value.Kind != 0 {
			if t.VKind, t.VIndex, err = a.constant(&d.Value); err != nil {
				return t, errors.Wrap(err, "value")
			}
		}
	case vm.TraitClass:
		ref := d.Class
		if ref == "" {
			ref = d.Name
		}
		if t.Class, err = a.classRef(ref); err != nil {
			return t, err
		}
	default:
		ref := d.Method
		if ref == "" {
			return t, errors.New("missing method")
		}
		if t.Method, err = a.methodRef(ref); err != nil {
			return t, err
		}
	}
	return t, nil
}

// constant interns a YAML scalar as a typed constant. Integers that fit
// int become ints, larger ones uints or doubles.
func (a *assembler) constant(n *yaml.Node) (vm.ConstKind, uint32, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, 0, errors.Errorf("line %d: constant must be a scalar", n.Line)
	}
	switch n.ShortTag() {
	case "!!null":
		return vm.ConstNull, 0, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return 0, 0, err
		}
		if b {
			return vm.ConstTrue, 0, nil
		}
		return vm.ConstFalse, 0, nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return 0, 0, err
		}
		if v, err := safecast.Convert[int32](i); err == nil {
			return vm.ConstInt, a.ub.Int(v), nil
		}
		if v, err := safecast.Convert[uint32](i); err == nil {
			return vm.ConstUInt, a.ub.Uint(v), nil
		}
		return vm.ConstDouble, a.ub.Double(float64(i)), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return 0, 0, err
		}
		return vm.ConstDouble, a.ub.Double(f), nil
	case "!!str":
		if n.Style == 0 && n.Value == "undefined" {
			return vm.ConstUndefined, 0, nil
		}
		return vm.ConstUtf8, a.ub.String(n.Value), nil
	}
	return 0, 0, errors.Errorf("line %d: unsupported constant tag %s", n.Line, n.ShortTag())
}
