package vm

import "iter"

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class is a class definition: instance traits shared by every instance, the
// class object holding static state, and the prototype object dynamic
// lookups fall back to.
type Class struct {
	Name        QName
	Super       *Class
	Interfaces  []*Class
	Flags       ClassFlags
	ProtectedNS Namespace

	Instance *Traits
	Static   *Traits

	IInit *Method
	CInit *Method

	Object    *Object // the class object
	Prototype *Object

	// Scope is the chain methods of this class run under: the scopes
	// captured by newclass plus the class object itself.
	Scope []ScopeEntry

	// call, when set, runs when the class object is called as a function.
	// Builtin primitive classes use it for explicit conversion.
	call NativeFunc
}

// Ancestors yields c and then each superclass up to the root.
func (c *Class) Ancestors() iter.Seq[*Class] {
	return func(yield func(*Class) bool) {
		for cur := c; cur != nil; cur = cur.Super {
			if !yield(cur) {
				return
			}
		}
	}
}

// IsSubclassOf reports whether c is other, extends it, or implements it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := range c.Ancestors() {
		if cur == other {
			return true
		}
		for _, iface := range cur.Interfaces {
			if iface.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// Sealed reports whether instances reject new dynamic properties.
func (c *Class) Sealed() bool { return c.Flags&ClassSealed != 0 }

// Final reports whether the class may not be extended.
func (c *Class) Final() bool { return c.Flags&ClassFinal != 0 }

// IsInterface reports whether c is an interface.
func (c *Class) IsInterface() bool { return c.Flags&ClassInterface != 0 }

func (c *Class) String() string {
	return c.Name.String()
}
