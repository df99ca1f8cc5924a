package vm

import (
	"fmt"
	"strings"
)

// NamespaceKind is the ABC constant-pool namespace kind byte.
type NamespaceKind uint8

const (
	NamespacePrivate         NamespaceKind = 0x05
	NamespaceNamespace       NamespaceKind = 0x08
	NamespacePackage         NamespaceKind = 0x16
	NamespacePackageInternal NamespaceKind = 0x17
	NamespaceProtected       NamespaceKind = 0x18
	NamespaceExplicit        NamespaceKind = 0x19
	NamespaceStaticProtected NamespaceKind = 0x1A
)

func (k NamespaceKind) String() string {
	switch k {
	case NamespacePrivate:
		return "private"
	case NamespaceNamespace:
		return "namespace"
	case NamespacePackage:
		return "package"
	case NamespacePackageInternal:
		return "internal"
	case NamespaceProtected:
		return "protected"
	case NamespaceExplicit:
		return "explicit"
	case NamespaceStaticProtected:
		return "staticprotected"
	default:
		return fmt.Sprintf("ns(0x%02x)", uint8(k))
	}
}

// Namespace qualifies a local name. Private namespaces are unique per
// definition, so they carry a non-zero ID; all other kinds compare by kind
// and URI.
type Namespace struct {
	Kind NamespaceKind
	URI  string
	ID   uint32
}

// PublicNamespace is the namespace dynamic properties live in.
var PublicNamespace = Namespace{Kind: NamespacePackage}

// IsPublic reports whether ns is the unnamed package namespace.
func (ns Namespace) IsPublic() bool {
	return ns.Kind == NamespacePackage && ns.URI == ""
}

func (ns Namespace) String() string {
	if ns.ID != 0 {
		return fmt.Sprintf("%s#%d(%q)", ns.Kind, ns.ID, ns.URI)
	}
	return fmt.Sprintf("%s(%q)", ns.Kind, ns.URI)
}

// QName is a fully-qualified name: one namespace plus a local name.
type QName struct {
	NS    Namespace
	Local string
}

// PublicName returns the public QName for local.
func PublicName(local string) QName {
	return QName{NS: PublicNamespace, Local: local}
}

// PackageName returns a QName in the named package namespace.
func PackageName(pkg, local string) QName {
	return QName{NS: Namespace{Kind: NamespacePackage, URI: pkg}, Local: local}
}

func (q QName) String() string {
	if q.NS.URI == "" {
		return q.Local
	}
	return q.NS.URI + "::" + q.Local
}

// Name is a resolved multiname: a local name qualified by one or more
// candidate namespaces. A binding matches when its local name is equal and
// its namespace is one of the candidates.
type Name struct {
	Local string
	NS    []Namespace
	Attr  bool

	// AnyLocal and AnyNS come from pool index 0 ("*").
	AnyLocal bool
	AnyNS    bool
}

// NameFromQName lifts a QName into a single-namespace Name.
func NameFromQName(q QName) Name {
	return Name{Local: q.Local, NS: []Namespace{q.NS}}
}

// Matches reports whether q satisfies the name.
func (n Name) Matches(q QName) bool {
	if !n.AnyLocal && n.Local != q.Local {
		return false
	}
	if n.AnyNS {
		return true
	}
	for _, ns := range n.NS {
		if ns == q.NS {
			return true
		}
	}
	return false
}

// HasPublic reports whether the public namespace is one of the candidates,
// which is what makes dynamic properties visible through this name.
func (n Name) HasPublic() bool {
	if n.AnyNS {
		return true
	}
	for _, ns := range n.NS {
		if ns.IsPublic() {
			return true
		}
	}
	return false
}

// QNames enumerates the concrete QNames this name can denote.
func (n Name) QNames() []QName {
	out := make([]QName, 0, len(n.NS))
	for _, ns := range n.NS {
		out = append(out, QName{NS: ns, Local: n.Local})
	}
	return out
}

func (n Name) String() string {
	if len(n.NS) == 1 {
		return QName{NS: n.NS[0], Local: n.Local}.String()
	}
	parts := make([]string, 0, len(n.NS))
	for _, ns := range n.NS {
		parts = append(parts, ns.URI)
	}
	return fmt.Sprintf("{%s}::%s", strings.Join(parts, ","), n.Local)
}
