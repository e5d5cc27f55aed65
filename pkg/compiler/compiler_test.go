package compiler

import (
	"testing"

	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/parser"
)

func mustCompile(t *testing.T, src string) *bytecode.Function {
	t.Helper()
	arena := ast.NewArena()
	p := parser.New(src, "<test>", arena, nil)
	prog, perrs := p.Parse()
	if prog == nil {
		t.Fatalf("parse failed: %v", perrs)
	}
	fn, cerrs := Compile(prog, "__main__", "<test>", nil)
	if len(cerrs) > 0 {
		t.Fatalf("compile failed: %v", cerrs)
	}
	return fn
}

func compileExpectError(t *testing.T, src string) []string {
	t.Helper()
	arena := ast.NewArena()
	p := parser.New(src, "<test>", arena, nil)
	prog, perrs := p.Parse()
	if prog == nil {
		t.Fatalf("parse failed unexpectedly: %v", perrs)
	}
	_, cerrs := Compile(prog, "__main__", "<test>", nil)
	if len(cerrs) == 0 {
		t.Fatalf("expected compile error, got none")
	}
	return cerrs
}

// assertNoPopImmediatelyAfterConditionalJump fails if any JUMPF/JUMPT is
// directly followed by a POP: the compiler never emits a pop opcode to
// discard a jump's tested condition, because the jump itself consumes the
// value (see dispatch.go's OpJumpIfTrue/OpJumpIfFalse handling), and an
// explicit pop around the jump would double-pop on one branch and
// under-pop on the other.
func assertNoPopImmediatelyAfterConditionalJump(t *testing.T, fn *bytecode.Function, context string) {
	t.Helper()
	for i, inst := range fn.Code {
		if inst.Op != bytecode.OpJumpIfFalse && inst.Op != bytecode.OpJumpIfTrue {
			continue
		}
		if i+1 < len(fn.Code) && fn.Code[i+1].Op == bytecode.OpPop {
			t.Fatalf("%s: found POP immediately after %s at %d; the jump should already consume its operand", context, inst.Op, i)
		}
	}
}

func TestIfConditionNoExtraPop(t *testing.T) {
	fn := mustCompile(t, `
if a {
  x
} else {
  y
}
`)
	assertNoPopImmediatelyAfterConditionalJump(t, fn, "if")
}

func TestWhileConditionNoExtraPop(t *testing.T) {
	fn := mustCompile(t, `while a { b }`)
	assertNoPopImmediatelyAfterConditionalJump(t, fn, "while")
}

// compileBinary's and/or desugaring must leave exactly one copy of Left on
// the stack along both the short-circuit and fall-through paths: DUP the
// condition, let JUMPF/JUMPT consume one copy, POP the other explicitly
// before evaluating Right.
func TestAndOrDesugaringStackDiscipline(t *testing.T) {
	fn := mustCompile(t, "a and b")
	var sawDup, sawJumpF, sawPop bool
	for _, inst := range fn.Code {
		switch inst.Op {
		case bytecode.OpDup:
			sawDup = true
		case bytecode.OpJumpIfFalse:
			sawJumpF = true
		case bytecode.OpPop:
			if sawJumpF {
				sawPop = true
			}
		}
	}
	if !sawDup || !sawJumpF || !sawPop {
		t.Fatalf("expected DUP, JUMPF, then POP sequence for 'and', got %v", fn.Code)
	}
}

func TestBreakAcrossTryIsCompileError(t *testing.T) {
	errs := compileExpectError(t, `
while true {
  try {
    break
  } ensure {
    cleanup()
  }
}
`)
	found := false
	for _, e := range errs {
		if containsAll(e, "break", "try") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error mentioning both 'break' and 'try', got %v", errs)
	}
}

func TestContinueAcrossTryIsCompileError(t *testing.T) {
	errs := compileExpectError(t, `
while true {
  try {
    continue
  } except Exception e {
    log(e)
  }
}
`)
	found := false
	for _, e := range errs {
		if containsAll(e, "continue", "try") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error mentioning both 'continue' and 'try', got %v", errs)
	}
}

func TestBreakOutsideLoopIsCompileError(t *testing.T) {
	errs := compileExpectError(t, "break")
	if len(errs) == 0 {
		t.Fatalf("expected a compile error for break outside a loop")
	}
}

func TestSimpleArithmeticCompiles(t *testing.T) {
	fn := mustCompile(t, "1 + 2 * 3")
	if len(fn.Code) == 0 {
		t.Fatalf("expected non-empty bytecode")
	}
}

func TestClassDeclEmitsMethods(t *testing.T) {
	fn := mustCompile(t, `
class Greeter {
  greet(name) {
    return name
  }
}
`)
	foundNested := false
	for _, c := range fn.Constants {
		if nested, ok := c.(*bytecode.Function); ok && nested.IsMethod {
			foundNested = true
		}
	}
	if !foundNested {
		t.Fatalf("expected a nested method Function constant marked IsMethod")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !contains(s, sub) {
			return false
		}
	}
	return true
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
