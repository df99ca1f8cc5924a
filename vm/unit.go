package vm

import "sync"

// MethodFlags are the method_info flag bits.
type MethodFlags uint8

const (
	MethodNeedArguments  MethodFlags = 0x01
	MethodNeedActivation MethodFlags = 0x02
	MethodNeedRest       MethodFlags = 0x04
	MethodHasOptional    MethodFlags = 0x08
	MethodSetDXNS        MethodFlags = 0x40
	MethodHasParamNames  MethodFlags = 0x80
)

// OptionalParam is the default value for a trailing optional parameter.
type OptionalParam struct {
	Kind  ConstKind
	Index uint32
}

// MethodInfo describes a method signature.
type MethodInfo struct {
	Name       uint32   // string index, 0 for anonymous
	ParamTypes []uint32 // multiname indices, 0 = any
	ReturnType uint32
	Flags      MethodFlags
	Optional   []OptionalParam
}

// ExceptionInfo is one entry in a method body's exception table. From/To
// bound the protected range of instruction offsets; ScopeDepth is the
// number of local scopes kept when the handler is entered.
type ExceptionInfo struct {
	From       uint32
	To         uint32
	Target     uint32
	ExcType    uint32 // multiname index, 0 catches everything
	VarName    uint32
	ScopeDepth uint32
}

// MethodBody is executable code plus its frame requirements.
type MethodBody struct {
	Method         uint32
	MaxStack       uint32
	LocalCount     uint32
	InitScopeDepth uint32
	MaxScopeDepth  uint32
	Code           []byte
	Exceptions     []ExceptionInfo
	Traits         []TraitInfo // activation object traits
}

// TraitKind is the trait_info kind nibble.
type TraitKind uint8

const (
	TraitSlot     TraitKind = 0
	TraitMethod   TraitKind = 1
	TraitGetter   TraitKind = 2
	TraitSetter   TraitKind = 3
	TraitClass    TraitKind = 4
	TraitFunction TraitKind = 5
	TraitConst    TraitKind = 6
)

// TraitInfo declares a fixed binding on an object.
type TraitInfo struct {
	Name     uint32 // QName multiname index
	Kind     TraitKind
	SlotID   uint32 // slot id for slot/const/class/function traits
	Type     uint32 // slot type multiname, 0 = any
	VKind    ConstKind
	VIndex   uint32 // default value constant
	Class    uint32 // class index for class traits
	Method   uint32 // method index for method/getter/setter/function traits
	Final    bool
	Override bool
}

// ClassFlags are the instance_info flag bits.
type ClassFlags uint8

const (
	ClassSealed      ClassFlags = 0x01
	ClassFinal       ClassFlags = 0x02
	ClassInterface   ClassFlags = 0x04
	ClassProtectedNS ClassFlags = 0x08
)

// ClassInfo merges the instance_info and class_info records of one class.
type ClassInfo struct {
	Name        uint32
	Super       uint32 // multiname index, 0 for none
	Flags       ClassFlags
	ProtectedNS uint32
	Interfaces  []uint32
	IInit       uint32
	Instance    []TraitInfo
	CInit       uint32
	Static      []TraitInfo
}

// ScriptInfo is a top-level script: an init method and the traits of its
// global object.
type ScriptInfo struct {
	Init   uint32
	Traits []TraitInfo
}

// Unit is a parsed ABC block as handed over by the container parser.
type Unit struct {
	Name    string
	Pool    ConstantPool
	Classes []ClassInfo
	Scripts []ScriptInfo
	Bodies  []MethodBody

	indexOnce sync.Once
	bodyIndex map[uint32]int
}

// Body returns the body implementing method index m.
func (u *Unit) Body(m uint32) (*MethodBody, bool) {
	u.indexOnce.Do(func() {
		u.bodyIndex = make(map[uint32]int, len(u.Bodies))
		for i := range u.Bodies {
			u.bodyIndex[u.Bodies[i].Method] = i
		}
	})
	i, ok := u.bodyIndex[m]
	if !ok {
		return nil, false
	}
	return &u.Bodies[i], true
}

// Class returns class info c.
func (u *Unit) Class(c uint32) (*ClassInfo, error) {
	if int(c) >= len(u.Classes) {
		return nil, faultf(FaultPoolIndex, "class index %d out of range (0..%d)", c, len(u.Classes)-1)
	}
	return &u.Classes[c], nil
}

// MethodName returns a printable name for method m.
func (u *Unit) MethodName(m uint32) string {
	info, err := u.Pool.Method(m)
	if err != nil || info.Name == 0 {
		return "<anonymous>"
	}
	s, err := u.Pool.String(info.Name)
	if err != nil {
		return "<anonymous>"
	}
	return s
}
