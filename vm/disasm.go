package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

var slotNames = [FixedSlots]string{"self", "class", "nil", "return"}

// Disassemble returns a listing of f, one instruction per line.
func (f *Function) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(%s)", f.Name, strings.Join(f.ArgNames, ", "))
	if f.ReturnType.IsTyped() {
		fmt.Fprintf(&sb, " -> %s", f.ReturnType)
	}
	fmt.Fprintf(&sb, "  stack=%d", f.StackSize)
	if len(f.DefaultArgs) > 1 {
		fmt.Fprintf(&sb, " defaults=%v", f.DefaultArgs)
	}
	sb.WriteByte('\n')
	for ip := 0; ip < len(f.Code); {
		line, size := f.DisassembleInstruction(ip)
		sb.WriteString(line)
		sb.WriteByte('\n')
		if size <= 0 {
			break
		}
		ip += size
	}
	return sb.String()
}

// DisassembleInstruction formats the instruction at ip and returns its
// length in words. The length is 0 when the instruction is invalid or
// truncated.
func (f *Function) DisassembleInstruction(ip int) (string, int) {
	op := Opcode(f.Code[ip])
	info := op.Info()
	if info == nil {
		return fmt.Sprintf("%04d  <invalid %d>", ip, f.Code[ip]), 0
	}
	kinds, first, argc := info.Operands, ip+1, 0
	if info.Variadic {
		if ip+1 >= len(f.Code) {
			return fmt.Sprintf("%04d  %s <truncated>", ip, info.Name), 0
		}
		argc = int(f.Code[ip+1])
		if argc < 0 {
			return fmt.Sprintf("%04d  %s <argc %d>", ip, info.Name, argc), 0
		}
		kinds = info.Lead + strings.Repeat("a", argc) + info.Operands
		first++
	}
	size := info.Len(argc)
	if ip+size > len(f.Code) {
		return fmt.Sprintf("%04d  %s <truncated>", ip, info.Name), 0
	}
	parts := make([]string, 0, len(kinds))
	for i, k := range []byte(kinds) {
		parts = append(parts, f.operandString(k, f.Code[first+i]))
	}
	line := fmt.Sprintf("%04d  %s", ip, info.Name)
	if info.Variadic {
		line += fmt.Sprintf("(%d)", argc)
	}
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}
	return line, size
}

func (f *Function) operandString(kind byte, word int32) string {
	i := int(word)
	name := func(n int, get func(int) string) string {
		if i < 0 || i >= n {
			return fmt.Sprintf("<%d?>", i)
		}
		return get(i)
	}
	switch kind {
	case 'a':
		return f.addressString(word)
	case 'j':
		return fmt.Sprintf("-> %04d", i)
	case 'n':
		return name(len(f.Names), func(i int) string { return fmt.Sprintf("%q", f.Names[i]) })
	case 't':
		return name(int(TypeMax), func(i int) string { return Type(i).String() })
	case 'o':
		return name(int(OperatorMax), func(i int) string { return Operator(i).String() })
	case 'e':
		return name(len(f.Operators), func(i int) string {
			vo := f.Operators[i]
			return fmt.Sprintf("%s(%s,%s)", vo.Op, vo.Left, vo.Right)
		})
	case 'x':
		return name(len(f.Accessors), func(i int) string {
			if acc := f.Accessors[i]; acc.Name != "" {
				return acc.Base.String() + "." + acc.Name
			}
			return f.Accessors[i].Base.String() + "[]"
		})
	case 'k':
		return name(len(f.Constructors), func(i int) string {
			c := f.Constructors[i]
			return fmt.Sprintf("%s(%s)", c.Type, joinTypes(c.ArgTypes))
		})
	case 'b':
		return name(len(f.BuiltinMethods), func(i int) string {
			return f.BuiltinMethods[i].Type.String() + "." + f.BuiltinMethods[i].Name
		})
	case 'y':
		return name(len(f.TypeInfos), func(i int) string { return f.TypeInfos[i].String() })
	case 'f':
		return name(len(f.Lambdas), func(i int) string { return "lambda " + f.Lambdas[i].Name })
	case 'm':
		return name(len(f.Methods), func(i int) string { return f.Methods[i].Class + "::" + f.Methods[i].Name })
	case 'u':
		return name(len(f.Utilities), func(i int) string { return f.Utilities[i].Name })
	case 's':
		return name(len(scriptUtilities), func(i int) string { return scriptUtilities[i].Name })
	case 'g':
		return fmt.Sprintf("global[%d]", i)
	case 'l':
		return fmt.Sprintf("node %d", i)
	}
	return fmt.Sprintf("%d", i)
}

func (f *Function) addressString(addr int32) string {
	space, idx := SplitAddress(addr)
	switch space {
	case AddrStack:
		if idx < FixedSlots {
			return slotNames[idx]
		}
		if a := idx - FixedSlots; a < len(f.ArgNames) {
			return f.ArgNames[a]
		}
		return fmt.Sprintf("stack[%d]", idx)
	case AddrConstant:
		if idx < len(f.Constants) {
			return fmt.Sprintf("const[%d]=%s", idx, f.Constants[idx].Repr())
		}
		return fmt.Sprintf("const[%d]", idx)
	case AddrMember:
		if s := f.script; s != nil && idx < len(s.members) {
			return "member " + s.members[idx]
		}
		return fmt.Sprintf("member[%d]", idx)
	}
	return fmt.Sprintf("<addr %#x>", addr)
}
