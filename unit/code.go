package unit

import (
	"strconv"
	"strings"

	"github.com/ccoveille/go-safecast"
	"github.com/chazu/abcvm/vm"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Method code
// ---------------------------------------------------------------------------
//
// One instruction per line, mnemonic first. A line may start with a label
// ("loop:"). Operands are separated by spaces or commas; ';' starts a
// comment. Pool operands take literal values and are interned:
//
//	pushstring "hi"     pushint -7     pushdouble 0.5     pushnamespace ns:u
//	getproperty x       callproperty flash.utils::f, 2
//	newfunction helper  newclass Point  callstatic helper, 0
//	iftrue done         lookupswitch default, c0, c1
//
// "#n" passes a raw pool index through unchanged.

func (a *assembler) code(src string) ([]byte, map[string]*vm.Label, error) {
	b := vm.NewBytecodeBuilder()
	labels := make(map[string]*vm.Label)
	label := func(name string) *vm.Label {
		l, ok := labels[name]
		if !ok {
			l = b.NewLabel()
			labels[name] = l
		}
		return l
	}

	for n, line := range strings.Split(src, "\n") {
		toks, err := tokenize(line)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "line %d", n+1)
		}
		for len(toks) > 0 && strings.HasSuffix(toks[0], ":") && !strings.HasPrefix(toks[0], "\"") {
			l := label(strings.TrimSuffix(toks[0], ":"))
			if _, placed := l.Position(); placed {
				return nil, nil, errors.Errorf("line %d: label %q placed twice", n+1, toks[0])
			}
			b.Mark(l)
			toks = toks[1:]
		}
		if len(toks) == 0 {
			continue
		}
		if err := a.instruction(b, label, toks[0], toks[1:]); err != nil {
			return nil, nil, errors.Wrapf(err, "line %d: %s", n+1, toks[0])
		}
	}

	for name, l := range labels {
		if l.Pending() {
			return nil, nil, errors.Errorf("label %q is never placed", name)
		}
	}
	code, err := b.Bytes()
	if err != nil {
		return nil, nil, err
	}
	return code, labels, nil
}

func (a *assembler) instruction(b *vm.BytecodeBuilder, label func(string) *vm.Label, mnemonic string, args []string) error {
	op, ok := vm.OpcodeByName(mnemonic)
	if !ok {
		return errors.New("unknown instruction")
	}
	info := op.Info()
	want := map[vm.OperandFormat]int{
		vm.OperandsNone:   0,
		vm.OperandsU8:     1,
		vm.OperandsS8:     1,
		vm.OperandsU30:    1,
		vm.OperandsU30U30: 2,
		vm.OperandsS24:    1,
		vm.OperandsU32U32: 2,
		vm.OperandsDebug:  4,
	}[info.Operands]
	if info.Operands == vm.OperandsSwitch {
		if len(args) < 2 {
			return errors.New("lookupswitch needs a default and at least one case")
		}
	} else if len(args) != want {
		return errors.Errorf("takes %d operands, got %d", want, len(args))
	}

	switch info.Operands {
	case vm.OperandsNone:
		b.Emit(op)
	case vm.OperandsU8:
		v, err := parseInt[uint8](args[0])
		if err != nil {
			return err
		}
		b.EmitU8(op, v)
	case vm.OperandsS8:
		v, err := parseInt[int8](args[0])
		if err != nil {
			return err
		}
		b.EmitS8(op, v)
	case vm.OperandsU30:
		if op == vm.OpPushShort {
			v, err := parseInt[int16](args[0])
			if err != nil {
				return err
			}
			b.EmitPushShort(v)
			return nil
		}
		v, err := a.operand(op, info, args[0])
		if err != nil {
			return err
		}
		b.EmitU30(op, v)
	case vm.OperandsU30U30:
		first, err := a.operand(op, info, args[0])
		if err != nil {
			return err
		}
		argc, err := parseU32(args[1])
		if err != nil {
			return err
		}
		b.EmitU30U30(op, first, argc)
	case vm.OperandsS24:
		if off, err := strconv.Atoi(args[0]); err == nil {
			b.EmitBranch(op, off)
			return nil
		}
		b.EmitJump(op, label(args[0]))
	case vm.OperandsSwitch:
		cases := make([]*vm.Label, 0, len(args)-1)
		for _, c := range args[1:] {
			cases = append(cases, label(c))
		}
		b.EmitLookupSwitch(label(args[0]), cases...)
	case vm.OperandsU32U32:
		r1, err := parseU32(args[0])
		if err != nil {
			return err
		}
		r2, err := parseU32(args[1])
		if err != nil {
			return err
		}
		b.Emit(op).EmitRaw(vm.AppendU32(vm.AppendU32(nil, r1), r2)...)
	case vm.OperandsDebug:
		kind, err := parseInt[uint8](args[0])
		if err != nil {
			return err
		}
		name, err := a.stringOperand(args[1])
		if err != nil {
			return err
		}
		reg, err := parseInt[uint8](args[2])
		if err != nil {
			return err
		}
		extra, err := parseU32(args[3])
		if err != nil {
			return err
		}
		b.EmitDebug(kind, name, reg, extra)
	}
	return nil
}

// operand interns the first u30 operand of op according to what it indexes.
func (a *assembler) operand(op vm.Opcode, info vm.OpcodeInfo, tok string) (uint32, error) {
	raw := strings.HasPrefix(tok, "#")
	switch {
	case info.Multiname:
		return a.name(tok)
	case raw:
		return parseU32(tok[1:])
	}

	switch op {
	case vm.OpPushString, vm.OpDebugFile, vm.OpDxns:
		return a.stringOperand(tok)
	case vm.OpPushInt:
		v, err := parseInt[int32](tok)
		if err != nil {
			return 0, err
		}
		return a.ub.Int(v), nil
	case vm.OpPushUint:
		v, err := parseU32(tok)
		if err != nil {
			return 0, err
		}
		return a.ub.Uint(v), nil
	case vm.OpPushDouble:
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, errors.Errorf("bad number %q", tok)
		}
		return a.ub.Double(v), nil
	case vm.OpPushNamespace:
		return a.namespace(parseNamespace(unquote(tok))), nil
	case vm.OpNewFunction, vm.OpCallStatic:
		return a.methodRef(tok)
	case vm.OpNewClass:
		return a.classRef(tok)
	}
	return parseU32(tok)
}

func (a *assembler) stringOperand(tok string) (uint32, error) {
	if strings.HasPrefix(tok, "#") {
		return parseU32(tok[1:])
	}
	if !strings.HasPrefix(tok, "\"") {
		return 0, errors.Errorf("expected a quoted string, got %s", tok)
	}
	s, err := strconv.Unquote(tok)
	if err != nil {
		return 0, errors.Errorf("bad string %s", tok)
	}
	return a.ub.String(s), nil
}

func unquote(tok string) string {
	if s, err := strconv.Unquote(tok); err == nil {
		return s
	}
	return tok
}

// tokenize splits an instruction line. Quoted strings stay whole with their
// quotes; separators inside brackets do not split.
func tokenize(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			end := i + 1
			for ; end < len(line) && line[end] != '"'; end++ {
				if line[end] == '\\' {
					end++
				}
			}
			if end >= len(line) {
				return nil, errors.New("unterminated string")
			}
			cur.WriteString(line[i : end+1])
			i = end
		case c == ';' && depth == 0:
			flush()
			return toks, nil
		case (c == ' ' || c == '\t' || c == ',' || c == '\r') && depth == 0:
			flush()
		default:
			switch c {
			case '{', '<':
				depth++
			case '}', '>':
				if depth > 0 {
					depth--
				}
			}
			cur.WriteByte(c)
		}
	}
	flush()
	return toks, nil
}

func parseU32(s string) (uint32, error) {
	return parseInt[uint32](s)
}

func parseInt[T int8 | uint8 | int16 | int32 | uint32](s string) (T, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, errors.Errorf("bad integer %q", s)
	}
	out, err := safecast.Convert[T](v)
	if err != nil {
		return 0, errors.Errorf("%s out of range", s)
	}
	return out, nil
}
