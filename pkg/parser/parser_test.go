package parser

import (
	"testing"

	"github.com/emberlang/ember/pkg/ast"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	arena := ast.NewArena()
	p := New(src, "<test>", arena, nil)
	prog, errs := p.Parse()
	if prog == nil {
		t.Fatalf("Parse(%q) failed: %v", src, errs)
	}
	return prog
}

func singleExpr(t *testing.T, src string) ast.Expression {
	t.Helper()
	prog := parse(t, src)
	if len(prog.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(prog.Statements))
	}
	stmt, ok := prog.Statements[0].(*ast.ExpressionStatement)
	if !ok {
		t.Fatalf("expected ExpressionStatement, got %T", prog.Statements[0])
	}
	return stmt.Expr
}

func TestParseNumberLiteral(t *testing.T) {
	lit, ok := singleExpr(t, "42").(*ast.NumberLiteral)
	if !ok {
		t.Fatalf("expected NumberLiteral, got %T", singleExpr(t, "42"))
	}
	if lit.Value != 42 {
		t.Errorf("expected 42, got %v", lit.Value)
	}
}

func TestParseFloatLiteral(t *testing.T) {
	lit, ok := singleExpr(t, "3.14").(*ast.NumberLiteral)
	if !ok {
		t.Fatalf("expected NumberLiteral, got %T", singleExpr(t, "3.14"))
	}
	if lit.Value != 3.14 {
		t.Errorf("expected 3.14, got %v", lit.Value)
	}
}

func TestParseStringLiteral(t *testing.T) {
	lit, ok := singleExpr(t, `"hello"`).(*ast.StringLiteral)
	if !ok {
		t.Fatalf("expected StringLiteral, got %T", singleExpr(t, `"hello"`))
	}
	if lit.Value != "hello" {
		t.Errorf("expected hello, got %q", lit.Value)
	}
}

func TestParseBooleanLiterals(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"false", false},
	}
	for _, tt := range tests {
		lit, ok := singleExpr(t, tt.input).(*ast.BoolLiteral)
		if !ok {
			t.Fatalf("%s: expected BoolLiteral, got %T", tt.input, singleExpr(t, tt.input))
		}
		if lit.Value != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.input, tt.expected, lit.Value)
		}
	}
}

func TestParseBinaryPrecedence(t *testing.T) {
	bin, ok := singleExpr(t, "1 + 2 * 3").(*ast.BinaryExpr)
	if !ok {
		t.Fatalf("expected top-level BinaryExpr, got %T", singleExpr(t, "1 + 2 * 3"))
	}
	if bin.Op != "+" {
		t.Fatalf("expected top-level op +, got %s", bin.Op)
	}
	right, ok := bin.Right.(*ast.BinaryExpr)
	if !ok || right.Op != "*" {
		t.Fatalf("expected right operand to be a * expr, got %#v", bin.Right)
	}
}

func TestParseAndOrShortCircuitPrecedence(t *testing.T) {
	bin, ok := singleExpr(t, "a or b and c").(*ast.BinaryExpr)
	if !ok || bin.Op != "or" {
		t.Fatalf("expected top-level 'or', got %#v", singleExpr(t, "a or b and c"))
	}
	right, ok := bin.Right.(*ast.BinaryExpr)
	if !ok || right.Op != "and" {
		t.Fatalf("expected right operand to be 'and', got %#v", bin.Right)
	}
}

func TestParseIfElifElse(t *testing.T) {
	prog := parse(t, `
if a {
  x
} elif b {
  y
} else {
  z
}
`)
	if len(prog.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(prog.Statements))
	}
	ifs, ok := prog.Statements[0].(*ast.IfStatement)
	if !ok {
		t.Fatalf("expected IfStatement, got %T", prog.Statements[0])
	}
	if len(ifs.Branches) != 2 {
		t.Fatalf("expected 2 branches (if + elif), got %d", len(ifs.Branches))
	}
	if len(ifs.Else) != 1 {
		t.Fatalf("expected 1 else statement, got %d", len(ifs.Else))
	}
}

func TestParseWhileLoop(t *testing.T) {
	prog := parse(t, "while x { y }")
	if _, ok := prog.Statements[0].(*ast.WhileStatement); !ok {
		t.Fatalf("expected WhileStatement, got %T", prog.Statements[0])
	}
}

func TestParseForEach(t *testing.T) {
	prog := parse(t, "for k, v in m { x }")
	fe, ok := prog.Statements[0].(*ast.ForEachStatement)
	if !ok {
		t.Fatalf("expected ForEachStatement, got %T", prog.Statements[0])
	}
	if len(fe.Vars) != 2 || fe.Vars[0] != "k" || fe.Vars[1] != "v" {
		t.Fatalf("expected vars [k v], got %v", fe.Vars)
	}
}

func TestParseClassDeclWithSuperclass(t *testing.T) {
	prog := parse(t, `
class Dog is Animal {
  bark() {
    return "woof"
  }
}
`)
	cd, ok := prog.Statements[0].(*ast.ClassDecl)
	if !ok {
		t.Fatalf("expected ClassDecl, got %T", prog.Statements[0])
	}
	if cd.Name != "Dog" || cd.SuperClass != "Animal" {
		t.Fatalf("expected Dog is Animal, got %s is %s", cd.Name, cd.SuperClass)
	}
	if len(cd.Methods) != 1 || cd.Methods[0].Name != "bark" {
		t.Fatalf("expected one method bark, got %+v", cd.Methods)
	}
}

func TestParseTryExceptEnsure(t *testing.T) {
	prog := parse(t, `
try {
  risky()
} except TypeException e {
  handle(e)
} ensure {
  cleanup()
}
`)
	tr, ok := prog.Statements[0].(*ast.TryStatement)
	if !ok {
		t.Fatalf("expected TryStatement, got %T", prog.Statements[0])
	}
	if len(tr.Excepts) != 1 || tr.Excepts[0].Binding != "e" {
		t.Fatalf("expected 1 except clause bound to e, got %+v", tr.Excepts)
	}
	if len(tr.Ensure) != 1 {
		t.Fatalf("expected 1 ensure statement, got %d", len(tr.Ensure))
	}
}

func TestParseUnpackAssignment(t *testing.T) {
	prog := parse(t, "var a, b = pair()")
	ua, ok := prog.Statements[0].(*ast.UnpackAssignment)
	if !ok {
		t.Fatalf("expected UnpackAssignment statement, got %T", prog.Statements[0])
	}
	if !ua.IsDecl || len(ua.Targets) != 2 {
		t.Fatalf("expected decl with 2 targets, got %+v", ua)
	}
}

func TestParseImportDotted(t *testing.T) {
	prog := parse(t, "import a.b.c")
	imp, ok := prog.Statements[0].(*ast.ImportStatement)
	if !ok {
		t.Fatalf("expected ImportStatement, got %T", prog.Statements[0])
	}
	if imp.Module != "a.b.c" {
		t.Fatalf("expected module a.b.c, got %s", imp.Module)
	}
}

func TestParseSyntaxErrorReturnsNilProgram(t *testing.T) {
	arena := ast.NewArena()
	var got []string
	p := New("var = ", "<test>", arena, func(file string, line int, msg string) {
		got = append(got, msg)
	})
	prog, errs := p.Parse()
	if prog != nil {
		t.Fatalf("expected nil program on syntax error, got %+v", prog)
	}
	if len(errs) == 0 || len(got) == 0 {
		t.Fatalf("expected at least one reported error")
	}
}
