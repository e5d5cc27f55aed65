package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders fn and every nested Function constant (closures,
// methods) as a human-readable instruction listing, in the same spirit as
// the teacher's disassemble CLI subcommand: one line per instruction,
// operand decoded where the opcode's packing is known, constants annotated
// inline rather than left as bare indices.
func Disassemble(fn *Function) string {
	var sb strings.Builder
	disassemble(&sb, fn, "")
	return sb.String()
}

func disassemble(sb *strings.Builder, fn *Function, indent string) {
	name := fn.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(sb, "%sfunction %s/%d", indent, name, fn.Arity)
	if fn.Variadic {
		sb.WriteString("+")
	}
	fmt.Fprintf(sb, "  (upvalues=%d)\n", fn.UpvalueCount)

	for i, inst := range fn.Code {
		fmt.Fprintf(sb, "%s%04d  %-12s %s\n", indent, i, inst.Op.String(), operandText(fn, inst))
	}

	for _, c := range fn.Constants {
		if nested, ok := c.(*Function); ok {
			sb.WriteString("\n")
			disassemble(sb, nested, indent+"  ")
		}
	}
}

func operandText(fn *Function, inst Instruction) string {
	switch inst.Op {
	case OpConst:
		if inst.Operand >= 0 && inst.Operand < len(fn.Constants) {
			return fmt.Sprintf("%d ; %v", inst.Operand, fn.Constants[inst.Operand])
		}
	case OpInvoke, OpSuperCall:
		selIdx := inst.Operand >> SelectorIndexShift
		argc := inst.Operand & ArgCountMask
		if selIdx >= 0 && selIdx < len(fn.Constants) {
			return fmt.Sprintf("%v/%d", fn.Constants[selIdx], argc)
		}
		return fmt.Sprintf("%d/%d", selIdx, argc)
	case OpGetGlobal, OpSetGlobal, OpDefineGlobal, OpGetField, OpSetField, OpImport:
		if inst.Operand >= 0 && inst.Operand < len(fn.Constants) {
			return fmt.Sprintf("%v", fn.Constants[inst.Operand])
		}
	case OpNativeMethod, OpImportAs, OpImportName:
		return fmt.Sprintf("%d, %d", inst.Operand, inst.Operand2)
	}
	if inst.Operand == 0 {
		return ""
	}
	return fmt.Sprintf("%d", inst.Operand)
}
