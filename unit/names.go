package unit

import (
	"strings"

	"github.com/chazu/abcvm/vm"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Name syntax
// ---------------------------------------------------------------------------
//
//	x                   public QName
//	flash.utils::x      package namespace
//	private:Foo::x      other namespace kinds: private, internal, protected,
//	                    static, explicit, ns
//	{,flash.utils}::x   multiname over a namespace set ("" is public)
//	{...}::[] or []     late-bound name over a set (public by default)
//	?::x, ?::[]         runtime namespace, runtime namespace and name
//	@x                  attribute form of any of the above
//	Vector.<int>        parameterised type
//	*                   any (index 0)
//	#12                 raw multiname index

var namespaceKinds = map[string]vm.NamespaceKind{
	"private":   vm.NamespacePrivate,
	"internal":  vm.NamespacePackageInternal,
	"protected": vm.NamespaceProtected,
	"static":    vm.NamespaceStaticProtected,
	"explicit":  vm.NamespaceExplicit,
	"ns":        vm.NamespaceNamespace,
}

// parseNamespace reads a package name, or kind:uri.
func parseNamespace(s string) vm.Namespace {
	if kind, uri, ok := strings.Cut(s, ":"); ok {
		if k, known := namespaceKinds[kind]; known {
			return vm.Namespace{Kind: k, URI: uri}
		}
	}
	return vm.Namespace{Kind: vm.NamespacePackage, URI: s}
}

// namespace interns ns. Private namespaces are shared by URI within one
// unit so that every mention of private:Foo means the same namespace.
func (a *assembler) namespace(ns vm.Namespace) uint32 {
	if ns.Kind != vm.NamespacePrivate {
		return a.ub.Namespace(ns)
	}
	if i, ok := a.privates[ns.URI]; ok {
		return i
	}
	i := a.ub.Namespace(ns)
	a.privates[ns.URI] = i
	return i
}

func (a *assembler) namespaceSet(list string) uint32 {
	if i, ok := a.nsSets[list]; ok {
		return i
	}
	parts := strings.Split(list, ",")
	nss := make([]uint32, 0, len(parts))
	for _, p := range parts {
		nss = append(nss, a.namespace(parseNamespace(strings.TrimSpace(p))))
	}
	i := a.ub.NamespaceSetOf(nss...)
	a.nsSets[list] = i
	return i
}

// name interns a multiname written in the syntax above.
func (a *assembler) name(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return 0, errors.New("empty name")
	case s == "*":
		return 0, nil
	case strings.HasPrefix(s, "#"):
		return parseU32(s[1:])
	}
	if i, ok := a.names[s]; ok {
		return i, nil
	}
	i, err := a.multiname(s)
	if err != nil {
		return 0, err
	}
	a.names[s] = i
	return i, nil
}

func (a *assembler) multiname(s string) (uint32, error) {
	attr := strings.HasPrefix(s, "@")
	if attr {
		s = s[1:]
	}

	if open := strings.Index(s, ".<"); open > 0 && strings.HasSuffix(s, ">") {
		if attr {
			return 0, errors.Errorf("type name %q cannot be an attribute", s)
		}
		base, err := a.name(s[:open])
		if err != nil {
			return 0, err
		}
		mn := vm.Multiname{Kind: vm.MultinameTypeName, Base: base}
		for _, p := range splitTop(s[open+2 : len(s)-1]) {
			pi, err := a.name(p)
			if err != nil {
				return 0, err
			}
			mn.Params = append(mn.Params, pi)
		}
		return a.ub.Multiname(mn), nil
	}

	qual, local, qualified := cutLast(s, "::")
	late := local == "[]"
	if local == "" {
		return 0, errors.Errorf("name %q has no local part", s)
	}

	var mn vm.Multiname
	switch {
	case qualified && qual == "?":
		mn.Kind = pick(attr, late, vm.MultinameRTQName, vm.MultinameRTQNameA, vm.MultinameRTQNameL, vm.MultinameRTQNameLA)
	case qualified && strings.HasPrefix(qual, "{") && strings.HasSuffix(qual, "}"):
		mn.Kind = pick(attr, late, vm.MultinameMultiname, vm.MultinameMultinameA, vm.MultinameMultinameL, vm.MultinameMultinameLA)
		mn.NSSet = a.namespaceSet(qual[1 : len(qual)-1])
	case late && !qualified:
		mn.Kind = pick(attr, true, 0, 0, vm.MultinameMultinameL, vm.MultinameMultinameLA)
		mn.NSSet = a.namespaceSet("")
	case late:
		return 0, errors.Errorf("late-bound name %q needs a namespace set or ?", s)
	default:
		ns := parseNamespace(qual)
		if !attr && ns.Kind != vm.NamespacePrivate {
			return a.ub.QName(vm.QName{NS: ns, Local: local}), nil
		}
		mn.Kind = pick(attr, false, vm.MultinameQName, vm.MultinameQNameA, 0, 0)
		mn.NS = a.namespace(ns)
	}
	if !late {
		mn.Name = a.ub.String(local)
	}
	return a.ub.Multiname(mn), nil
}

// qname interns a name that must be a compile-time QName, as trait and
// class names are.
func (a *assembler) qname(s string) (uint32, error) {
	i, err := a.name(s)
	if err != nil {
		return 0, err
	}
	if _, err := a.ub.Pool().QName(i); err != nil {
		return 0, errors.Errorf("%q is not a qualified name", s)
	}
	return i, nil
}

func pick(attr, late bool, plain, plainA, lateK, lateA vm.MultinameKind) vm.MultinameKind {
	switch {
	case late && attr:
		return lateA
	case late:
		return lateK
	case attr:
		return plainA
	}
	return plain
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return "", s, false
}

// splitTop splits on commas outside of nested brackets.
func splitTop(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<', '{', '(':
			depth++
		case '>', '}', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}
