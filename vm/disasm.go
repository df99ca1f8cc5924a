package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction decodes the instruction at the cursor and returns
// its text form. pool may be nil; when present, string and multiname
// operands are annotated.
func DisassembleInstruction(c *Cursor, pool *ConstantPool) (string, error) {
	pos := c.Tell()
	op, err := c.ReadOpcode()
	if err != nil {
		return "", err
	}
	info, ok := opcodeTable[op]
	if !ok {
		return "", &Fault{Code: FaultBadOpcode, Msg: fmt.Sprintf("unknown opcode 0x%02x", byte(op)), Offset: pos}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", pos, info.Name)

	switch info.Operands {
	case OperandsNone:
	case OperandsU8:
		v, err := c.ReadU8()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d", v)
	case OperandsS8:
		v, err := c.ReadS8()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d", v)
	case OperandsU30:
		v, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d", v)
		sb.WriteString(annotate(op, info, v, pool))
	case OperandsU30U30:
		a, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		n, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d %d", a, n)
		sb.WriteString(annotate(op, info, a, pool))
	case OperandsU32U32:
		a, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		b, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d %d", a, b)
	case OperandsS24:
		off, err := c.ReadS24()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d (-> %04d)", off, c.Tell()+int(off))
	case OperandsSwitch:
		def, err := c.ReadS24()
		if err != nil {
			return "", err
		}
		n, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " default -> %04d, cases [", pos+int(def))
		for i := uint32(0); i <= n; i++ {
			off, err := c.ReadS24()
			if err != nil {
				return "", err
			}
			if i > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%04d", pos+int(off))
		}
		sb.WriteString("]")
	case OperandsDebug:
		kind, err := c.ReadU8()
		if err != nil {
			return "", err
		}
		name, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		reg, err := c.ReadU8()
		if err != nil {
			return "", err
		}
		extra, err := c.ReadU30()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, " %d %d %d %d", kind, name, reg, extra)
	}
	return sb.String(), nil
}

func annotate(op Opcode, info OpcodeInfo, idx uint32, pool *ConstantPool) string {
	if pool == nil {
		return ""
	}
	if info.Multiname {
		if idx == 0 {
			return "  ; *"
		}
		mn, err := pool.Multiname(idx)
		if err != nil {
			return ""
		}
		return "  ; " + describeMultiname(pool, mn)
	}
	switch op {
	case OpPushString, OpDebugFile, OpDxns:
		if s, err := pool.String(idx); err == nil {
			return fmt.Sprintf("  ; %q", s)
		}
	case OpPushInt:
		if v, err := pool.Int(idx); err == nil {
			return fmt.Sprintf("  ; %d", v)
		}
	case OpPushUint:
		if v, err := pool.Uint(idx); err == nil {
			return fmt.Sprintf("  ; %d", v)
		}
	case OpPushDouble:
		if v, err := pool.Double(idx); err == nil {
			return fmt.Sprintf("  ; %g", v)
		}
	case OpPushNamespace:
		if ns, err := pool.Namespace(idx); err == nil {
			return "  ; " + ns.String()
		}
	}
	return ""
}

func describeMultiname(pool *ConstantPool, mn *Multiname) string {
	local := "*"
	if mn.Name != 0 {
		if s, err := pool.String(mn.Name); err == nil {
			local = s
		}
	}
	switch {
	case mn.Kind.RuntimeName() && mn.Kind.RuntimeNS():
		return "[rt]::[rt]"
	case mn.Kind.RuntimeName():
		return "[rt]"
	case mn.Kind.RuntimeNS():
		return "[rt]::" + local
	case mn.Kind == MultinameTypeName:
		return fmt.Sprintf("typename(%d)<%d params>", mn.Base, len(mn.Params))
	case mn.Kind == MultinameMultiname || mn.Kind == MultinameMultinameA:
		return "{set}::" + local
	}
	if mn.NS != 0 {
		if ns, err := pool.Namespace(mn.NS); err == nil && ns.URI != "" {
			return ns.URI + "::" + local
		}
	}
	return local
}

// Disassemble returns the text listing of a method body's code.
func Disassemble(code []byte, pool *ConstantPool) (string, error) {
	var sb strings.Builder
	c := NewCursor(code)
	for !c.AtEnd() {
		line, err := DisassembleInstruction(c, pool)
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
