package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleShowsResolvedConstant(t *testing.T) {
	fn := &Function{
		Name:  "greet",
		Arity: 0,
		Code: []Instruction{
			{Op: OpConst, Operand: 0, Line: 1},
			{Op: OpReturn, Operand: 0, Line: 1},
		},
		Constants: []interface{}{"hello"},
	}
	out := Disassemble(fn)
	if !strings.Contains(out, "greet/0") {
		t.Fatalf("expected function header in output, got:\n%s", out)
	}
	if !strings.Contains(out, "CONST") || !strings.Contains(out, "hello") {
		t.Fatalf("expected CONST instruction annotated with its constant, got:\n%s", out)
	}
}

func TestDisassembleRecursesIntoNestedFunctions(t *testing.T) {
	inner := &Function{Name: "inner", Code: []Instruction{{Op: OpReturn}}}
	outer := &Function{
		Name:      "outer",
		Code:      []Instruction{{Op: OpClosure, Operand: 0}, {Op: OpReturn}},
		Constants: []interface{}{inner},
	}
	out := Disassemble(outer)
	if !strings.Contains(out, "outer/0") || !strings.Contains(out, "inner/0") {
		t.Fatalf("expected both outer and inner headers, got:\n%s", out)
	}
}

func TestDisassembleCallOperandShowsSelectorAndArgCount(t *testing.T) {
	fn := &Function{
		Name: "caller",
		Code: []Instruction{
			{Op: OpInvoke, Operand: (0 << SelectorIndexShift) | 2},
			{Op: OpReturn},
		},
		Constants: []interface{}{"add"},
	}
	out := Disassemble(fn)
	if !strings.Contains(out, "add/2") {
		t.Fatalf("expected selector/argc annotation, got:\n%s", out)
	}
}
