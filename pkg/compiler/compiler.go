// Package compiler implements ember's single-pass AST-to-bytecode compiler
// (spec §4.4): one recursive walk of the parser's AST, resolving locals and
// upvalues as it goes and patching jump targets once they're known, emitting
// directly into a pkg/bytecode.Function with no separate intermediate
// representation. The teacher (kristofer-smog) has a small AST-walking
// compiler in this same package shape (compileStatement/compileExpression
// dispatch over a type switch) targeting a Smalltalk message-send VM; this
// rewrite keeps that dispatch idiom but targets ember's stack-and-frame
// opcode set instead.
package compiler

import (
	"fmt"

	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/bytecode"
)

// ErrorCallback matches the parser's (file, line, message) reporting contract
// so a host can wire both stages through one callback (spec §6).
type ErrorCallback func(file string, line int, message string)

// local is one entry of a funcScope's compile-time local table; its slice
// index is exactly the stack slot the VM will find it at, per spec §4.4's
// "backed by operand-stack slots of the current frame."
type local struct {
	name     string
	depth    int
	captured bool
}

// loopInfo tracks the placeholder jumps a loop's break/continue statements
// emit (SIGN_BRK/SIGN_CONT, spec §4.4) until the loop's exit and continue
// targets are known, plus the try-nesting depth active when the loop began
// so a break/continue attempting to cross an active try can be rejected at
// compile time.
type loopInfo struct {
	breakJumps      []int
	continueJumps   []int
	continueTarget  int
	tryDepthAtEntry int
}

// funcScope is the compiler's per-Function compilation context, chained
// through enclosing to the lexically surrounding function for upvalue
// resolution (spec §4.4's "compiler chain").
type funcScope struct {
	enclosing  *funcScope
	fn         *bytecode.Function
	locals     []local
	scopeDepth int
	loops      []*loopInfo
	tryDepth   int
	isTopLevel bool
}

// Compiler walks one module's AST into one top-level bytecode.Function; it
// is single-use like the parser.
type Compiler struct {
	cur        *funcScope
	moduleName string
	file       string
	onErr      ErrorCallback
	errors     []string
}

// Compile compiles prog (a parsed module body) into its module-level
// Function. Nested functions, methods, and closures appear as *bytecode.Function
// constants reachable from it.
func Compile(prog *ast.Program, moduleName, file string, onErr ErrorCallback) (*bytecode.Function, []string) {
	c := &Compiler{moduleName: moduleName, file: file, onErr: onErr}
	c.pushFunc(nil, "<module>", false)
	c.cur.isTopLevel = true
	for _, stmt := range prog.Statements {
		c.compileStmt(stmt)
	}
	c.emit(bytecode.OpNull, 0, prog.Pos())
	c.emit(bytecode.OpReturn, 0, prog.Pos())
	fn := c.popFunc()
	return fn, c.errors
}

func (c *Compiler) errorf(line int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.errors = append(c.errors, fmt.Sprintf("%s:%d: %s", c.file, line, msg))
	if c.onErr != nil {
		c.onErr(c.file, line, msg)
	}
}

// ---- function scope bookkeeping ----

func (c *Compiler) pushFunc(enclosing *funcScope, name string, isMethod bool) *funcScope {
	fn := &bytecode.Function{Name: name, ModuleName: c.moduleName, IsMethod: isMethod}
	if isMethod {
		// Constant slot 0 is reserved for the superclass handle, filled in by
		// DEF_METHOD at class-definition time (spec §4.4).
		fn.Constants = append(fn.Constants, nil)
	}
	fs := &funcScope{enclosing: enclosing, fn: fn}
	fs.locals = append(fs.locals, local{name: ""}) // slot 0: this/callee
	c.cur = fs
	return fs
}

func (c *Compiler) popFunc() *bytecode.Function {
	fn := c.cur.fn
	c.cur = c.cur.enclosing
	return fn
}

func (c *Compiler) emit(op bytecode.Opcode, operand, line int) int {
	return c.emit2(op, operand, 0, line)
}

func (c *Compiler) emit2(op bytecode.Opcode, operand, operand2, line int) int {
	f := c.cur.fn
	f.Code = append(f.Code, bytecode.Instruction{Op: op, Operand: operand, Operand2: operand2, Line: line})
	return len(f.Code) - 1
}

func (c *Compiler) patchJump(idx int) {
	c.cur.fn.Code[idx].Operand = len(c.cur.fn.Code)
}

func (c *Compiler) patchJumpList(idxs []int, target int) {
	for _, i := range idxs {
		c.cur.fn.Code[i].Operand = target
	}
}

// addConstant always appends (no dedup): a dedup pass risks colliding with
// a method Function's reserved constant slot 0.
func (c *Compiler) addConstant(v interface{}) int {
	c.cur.fn.Constants = append(c.cur.fn.Constants, v)
	return len(c.cur.fn.Constants) - 1
}

func (c *Compiler) nameConst(name string) int { return c.addConstant(name) }

func (c *Compiler) beginScope() { c.cur.scopeDepth++ }

func (c *Compiler) endScope(line int) {
	c.cur.scopeDepth--
	for len(c.cur.locals) > 0 && c.cur.locals[len(c.cur.locals)-1].depth > c.cur.scopeDepth {
		last := c.cur.locals[len(c.cur.locals)-1]
		if last.captured {
			c.emit(bytecode.OpCloseUpvalue, 0, line)
		} else {
			c.emit(bytecode.OpPop, 0, line)
		}
		c.cur.locals = c.cur.locals[:len(c.cur.locals)-1]
	}
}

func (c *Compiler) compileBody(stmts []ast.Statement, line int) {
	c.beginScope()
	for _, st := range stmts {
		c.compileStmt(st)
	}
	c.endScope(line)
}

func (c *Compiler) addLocal(name string) int {
	c.cur.locals = append(c.cur.locals, local{name: name, depth: c.cur.scopeDepth})
	return len(c.cur.locals) - 1
}

func resolveLocal(fs *funcScope, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return i
		}
	}
	return -1
}

func resolveUpvalue(fs *funcScope, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if loc := resolveLocal(fs.enclosing, name); loc != -1 {
		fs.enclosing.locals[loc].captured = true
		return addUpvalue(fs, loc, true)
	}
	if up := resolveUpvalue(fs.enclosing, name); up != -1 {
		return addUpvalue(fs, up, false)
	}
	return -1
}

func addUpvalue(fs *funcScope, index int, isLocal bool) int {
	for i, uv := range fs.fn.Upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	fs.fn.Upvalues = append(fs.fn.Upvalues, bytecode.UpvalueDesc{IsLocal: isLocal, Index: index})
	fs.fn.UpvalueCount = len(fs.fn.Upvalues)
	return len(fs.fn.Upvalues) - 1
}

func (c *Compiler) loadName(name string, line int) {
	if loc := resolveLocal(c.cur, name); loc != -1 {
		c.emit(bytecode.OpGetLocal, loc, line)
		return
	}
	if up := resolveUpvalue(c.cur, name); up != -1 {
		c.emit(bytecode.OpGetUpvalue, up, line)
		return
	}
	c.emit(bytecode.OpGetGlobal, c.nameConst(name), line)
}

func (c *Compiler) storeName(name string, line int) {
	if loc := resolveLocal(c.cur, name); loc != -1 {
		c.emit(bytecode.OpSetLocal, loc, line)
		return
	}
	if up := resolveUpvalue(c.cur, name); up != -1 {
		c.emit(bytecode.OpSetUpvalue, up, line)
		return
	}
	c.emit(bytecode.OpSetGlobal, c.nameConst(name), line)
}

// declareVar binds name to whatever value currently sits on top of the
// stack: DEFINE_GLOBAL (which pops it) at true module top level, or simply
// by leaving it in place as a fresh local slot otherwise (spec §4.4's
// "depth 0 = global... depth >= 1 = local").
func (c *Compiler) declareVar(name string, line int) {
	if c.cur.isTopLevel && c.cur.scopeDepth == 0 {
		c.emit(bytecode.OpDefineGlobal, c.nameConst(name), line)
		return
	}
	c.addLocal(name)
}

// ---- statements ----

func (c *Compiler) compileStmt(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		c.compileExpr(s.Expr)
		c.emit(bytecode.OpPop, 0, s.Line)
	case *ast.VarDecl:
		c.compileVarDecl(s)
	case *ast.UnpackAssignment:
		c.compileUnpackAssignment(s)
	case *ast.IfStatement:
		c.compileIf(s)
	case *ast.WhileStatement:
		c.compileWhile(s)
	case *ast.ForStatement:
		c.compileFor(s)
	case *ast.ForEachStatement:
		c.compileForEach(s)
	case *ast.ReturnStatement:
		if s.Value != nil {
			c.compileExpr(s.Value)
		} else {
			c.emit(bytecode.OpNull, 0, s.Line)
		}
		c.emit(bytecode.OpReturn, 0, s.Line)
	case *ast.YieldStatement:
		if c.cur.isTopLevel {
			c.errorf(s.Line, "yield statement not within a function")
			return
		}
		c.cur.fn.IsGenerator = true
		c.compileExpr(s.Value)
		c.emit(bytecode.OpYield, 0, s.Line)
		c.emit(bytecode.OpPop, 0, s.Line)
	case *ast.BreakStatement:
		c.compileBreakContinue(true, s.Line)
	case *ast.ContinueStatement:
		c.compileBreakContinue(false, s.Line)
	case *ast.RaiseStatement:
		c.compileExpr(s.Value)
		c.emit(bytecode.OpRaise, 0, s.Line)
	case *ast.TryStatement:
		c.compileTry(s)
	case *ast.WithStatement:
		c.compileWith(s)
	case *ast.ImportStatement:
		c.compileImport(s)
	case *ast.ClassDecl:
		c.compileClassDecl(s)
	case *ast.FunDecl:
		c.compileFunDecl(s)
	case *ast.NativeDecl:
		c.compileNativeDecl(s)
	case *ast.Block:
		c.compileBody(s.Statements, s.Line)
	default:
		c.errorf(stmt.Pos(), "compiler: unhandled statement %T", stmt)
	}
}

func (c *Compiler) compileVarDecl(s *ast.VarDecl) {
	if s.Value != nil {
		c.compileExpr(s.Value)
	} else {
		c.emit(bytecode.OpNull, 0, s.Line)
	}
	c.declareVar(s.Names[0], s.Line)
}

// compileUnpackAssignment implements `var a, b = expr` and bare `a, b = expr`
// (spec §4.4 UNPACK). UNPACK pops the source value and pushes its elements in
// order, element 0 deepest; a fresh local declaration walks that same order
// (addLocal needs no store opcode, per declareVar's convention), while a
// store into an existing binding or a global declaration must consume the
// stack top-down, so it walks targets in reverse.
func (c *Compiler) compileUnpackAssignment(s *ast.UnpackAssignment) {
	if s.Value != nil {
		c.compileExpr(s.Value)
	} else {
		c.emit(bytecode.OpNull, 0, s.Line)
	}
	n := len(s.Targets)
	c.emit(bytecode.OpUnpack, n, s.Line)

	declareLocal := s.IsDecl && !(c.cur.isTopLevel && c.cur.scopeDepth == 0)
	if declareLocal {
		for i := 0; i < n; i++ {
			id := s.Targets[i].(*ast.Identifier)
			c.addLocal(id.Name)
		}
		return
	}
	for i := n - 1; i >= 0; i-- {
		id := s.Targets[i].(*ast.Identifier)
		if s.IsDecl {
			c.emit(bytecode.OpDefineGlobal, c.nameConst(id.Name), s.Line)
			continue
		}
		c.storeName(id.Name, s.Line)
		c.emit(bytecode.OpPop, 0, s.Line)
	}
}

func (c *Compiler) compileIf(s *ast.IfStatement) {
	var endJumps []int
	for _, br := range s.Branches {
		c.compileExpr(br.Cond)
		jf := c.emit(bytecode.OpJumpIfFalse, 0, br.Cond.Pos())
		c.compileBody(br.Body, br.Cond.Pos())
		endJumps = append(endJumps, c.emit(bytecode.OpJump, 0, s.Line))
		c.patchJump(jf)
	}
	if s.Else != nil {
		c.compileBody(s.Else, s.Line)
	}
	for _, j := range endJumps {
		c.patchJump(j)
	}
}

func (c *Compiler) compileWhile(s *ast.WhileStatement) {
	condStart := len(c.cur.fn.Code)
	loop := &loopInfo{continueTarget: condStart, tryDepthAtEntry: c.cur.tryDepth}
	c.cur.loops = append(c.cur.loops, loop)

	c.compileExpr(s.Cond)
	jf := c.emit(bytecode.OpJumpIfFalse, 0, s.Cond.Pos())
	c.compileBody(s.Body, s.Line)
	c.emit(bytecode.OpJump, condStart, s.Line)
	loopEnd := len(c.cur.fn.Code)
	c.patchJump(jf)

	c.patchJumpList(loop.breakJumps, loopEnd)
	c.patchJumpList(loop.continueJumps, loop.continueTarget)
	c.cur.loops = c.cur.loops[:len(c.cur.loops)-1]
}

func (c *Compiler) compileFor(s *ast.ForStatement) {
	c.beginScope()
	if s.Init != nil {
		c.compileStmt(s.Init)
	}
	condStart := len(c.cur.fn.Code)
	loop := &loopInfo{tryDepthAtEntry: c.cur.tryDepth}
	c.cur.loops = append(c.cur.loops, loop)

	jf := -1
	if s.Cond != nil {
		c.compileExpr(s.Cond)
		jf = c.emit(bytecode.OpJumpIfFalse, 0, s.Cond.Pos())
	}
	c.compileBody(s.Body, s.Line)

	loop.continueTarget = len(c.cur.fn.Code)
	if s.Post != nil {
		c.compileStmt(s.Post)
	}
	c.emit(bytecode.OpJump, condStart, s.Line)
	loopEnd := len(c.cur.fn.Code)
	if jf != -1 {
		c.patchJump(jf)
	}

	c.patchJumpList(loop.breakJumps, loopEnd)
	c.patchJumpList(loop.continueJumps, loop.continueTarget)
	c.cur.loops = c.cur.loops[:len(c.cur.loops)-1]
	c.endScope(s.Line)
}

// compileForEach lowers `for v... in iterable { }` into the hidden-local,
// FOR_ITER/FOR_NEXT protocol of spec §4.4: FOR_ITER calls __iter__ on the
// iterable (storing the returned iterator state back into a hidden local)
// and leaves it on the stack for JUMPF to test truthiness; FOR_NEXT calls
// __next__ and leaves the produced value(s) for the loop variables.
func (c *Compiler) compileForEach(s *ast.ForEachStatement) {
	c.beginScope()
	c.compileExpr(s.Iterable)
	exprSlot := c.addLocal(".expr")
	c.emit(bytecode.OpNull, 0, s.Line)
	iterSlot := c.addLocal(".iter")

	condStart := len(c.cur.fn.Code)
	loop := &loopInfo{tryDepthAtEntry: c.cur.tryDepth}
	c.cur.loops = append(c.cur.loops, loop)

	c.emit2(bytecode.OpForIter, exprSlot, iterSlot, s.Line)
	jf := c.emit(bytecode.OpJumpIfFalse, 0, s.Line)
	c.emit2(bytecode.OpForNext, exprSlot, iterSlot, s.Line)

	c.beginScope()
	if len(s.Vars) == 1 {
		c.addLocal(s.Vars[0])
	} else {
		c.emit(bytecode.OpUnpack, len(s.Vars), s.Line)
		for _, v := range s.Vars {
			c.addLocal(v)
		}
	}
	for _, st := range s.Body {
		c.compileStmt(st)
	}
	c.endScope(s.Line)

	loop.continueTarget = len(c.cur.fn.Code)
	c.emit(bytecode.OpJump, condStart, s.Line)
	loopEnd := len(c.cur.fn.Code)
	c.patchJump(jf)

	c.patchJumpList(loop.breakJumps, loopEnd)
	c.patchJumpList(loop.continueJumps, loop.continueTarget)
	c.cur.loops = c.cur.loops[:len(c.cur.loops)-1]
	c.endScope(s.Line)
}

func (c *Compiler) compileBreakContinue(isBreak bool, line int) {
	kind := "continue"
	if isBreak {
		kind = "break"
	}
	if len(c.cur.loops) == 0 {
		c.errorf(line, "%s statement not within a loop", kind)
		return
	}
	loop := c.cur.loops[len(c.cur.loops)-1]
	if c.cur.tryDepth > loop.tryDepthAtEntry {
		c.errorf(line, "%s cannot cross an active try/ensure", kind)
		return
	}
	if isBreak {
		idx := c.emit(bytecode.OpSignalBreak, 0, line)
		loop.breakJumps = append(loop.breakJumps, idx)
	} else {
		idx := c.emit(bytecode.OpSignalContinue, 0, line)
		loop.continueJumps = append(loop.continueJumps, idx)
	}
}

// compileTry lowers try/except/ensure (spec §4.4): SETUP_ENSURE is emitted
// first so its handler sits below SETUP_EXCEPT's on the VM's handler stack,
// meaning ensure wraps except and therefore always runs last on the way out.
// The except clauses share one dispatch block, testing each class with
// DUP+IS+JUMPF against the single exception value the VM pushes on unwind;
// a clause with no matching class is a final `raise` of the live exception.
//
// Every path that reaches the ensure body — normal fallthrough, a matched
// except clause, or the VM's own unwind()/doReturn() jump on an in-flight
// exception or a return crossing the block — lands on the same ensureEntry
// address with exactly two values on the stack: cause below value. The
// fallthrough/clause paths push `null, null` (cause NONE) themselves before
// jumping there; unwind()/doReturn() push a numeric cause marker instead.
// OP_END_TRY pops both and decides whether to keep going.
func (c *Compiler) compileTry(s *ast.TryStatement) {
	c.cur.tryDepth++
	defer func() { c.cur.tryDepth-- }()

	ensureJump := -1
	if s.Ensure != nil {
		ensureJump = c.emit(bytecode.OpSetupEnsure, 0, s.Line)
	}
	exceptJump := -1
	if len(s.Excepts) > 0 {
		exceptJump = c.emit(bytecode.OpSetupExcept, 0, s.Line)
	}

	c.compileBody(s.Body, s.Line)

	if exceptJump != -1 {
		c.emit(bytecode.OpPopHandler, 0, s.Line)
	}
	var toEnsure, toAfter []int
	if s.Ensure != nil {
		c.emit(bytecode.OpNull, 0, s.Line) // cause = NONE
		c.emit(bytecode.OpNull, 0, s.Line) // value
		toEnsure = append(toEnsure, c.emit(bytecode.OpJump, 0, s.Line))
	} else {
		toAfter = append(toAfter, c.emit(bytecode.OpJump, 0, s.Line))
	}

	if exceptJump != -1 {
		c.patchJump(exceptJump)
		for _, cl := range s.Excepts {
			nextClause := -1
			if cl.ClassExpr != nil {
				c.emit(bytecode.OpDup, 0, s.Line)
				c.compileExpr(cl.ClassExpr)
				c.emit(bytecode.OpIs, 0, s.Line)
				nextClause = c.emit(bytecode.OpJumpIfFalse, 0, s.Line)
			}
			c.beginScope()
			if cl.Binding != "" {
				c.addLocal(cl.Binding)
			} else {
				c.emit(bytecode.OpPop, 0, s.Line)
			}
			for _, st := range cl.Body {
				c.compileStmt(st)
			}
			c.endScope(s.Line)
			if s.Ensure != nil {
				c.emit(bytecode.OpNull, 0, s.Line)
				c.emit(bytecode.OpNull, 0, s.Line)
				toEnsure = append(toEnsure, c.emit(bytecode.OpJump, 0, s.Line))
			} else {
				toAfter = append(toAfter, c.emit(bytecode.OpJump, 0, s.Line))
			}
			if nextClause != -1 {
				c.patchJump(nextClause)
			}
		}
		c.emit(bytecode.OpRaise, 0, s.Line) // no clause matched: propagate outward
	}

	if s.Ensure != nil {
		ensureEntry := len(c.cur.fn.Code)
		c.patchJump(ensureJump)
		c.patchJumpList(toEnsure, ensureEntry)
		c.compileBody(s.Ensure, s.Line)
		c.emit(bytecode.OpEndTry, 0, s.Line)
	} else {
		for _, j := range toAfter {
			c.patchJump(j)
		}
	}
}

// compileWith lowers `with expr as name { body }` into
// `try { name = expr; body } ensure { if name != null: name.close() }`
// directly in bytecode rather than as an AST rewrite (spec §4.3 WithStatement),
// reusing the same cause/value ensure-entry convention as compileTry.
func (c *Compiler) compileWith(s *ast.WithStatement) {
	c.beginScope()
	c.compileExpr(s.Expr)
	varName := s.Var
	if varName == "" {
		varName = ".with"
	}
	slot := c.addLocal(varName)

	ensureJump := c.emit(bytecode.OpSetupEnsure, 0, s.Line)
	c.compileBody(s.Body, s.Line)
	c.emit(bytecode.OpPopHandler, 0, s.Line)
	c.emit(bytecode.OpNull, 0, s.Line) // cause = NONE
	c.emit(bytecode.OpNull, 0, s.Line) // value

	ensureEntry := len(c.cur.fn.Code)
	c.patchJump(ensureJump)

	c.emit(bytecode.OpGetLocal, slot, s.Line)
	c.emit(bytecode.OpNull, 0, s.Line)
	c.emit(bytecode.OpEq, 0, s.Line)
	skipClose := c.emit(bytecode.OpJumpIfTrue, 0, s.Line)
	c.emit(bytecode.OpGetLocal, slot, s.Line)
	selIdx := c.nameConst("close")
	c.emit(bytecode.OpInvoke, selIdx<<bytecode.SelectorIndexShift, s.Line)
	c.emit(bytecode.OpPop, 0, s.Line)
	c.patchJump(skipClose)
	c.emit(bytecode.OpEndTry, 0, s.Line)

	c.endScope(s.Line)
	_ = ensureEntry
}

func (c *Compiler) compileImport(s *ast.ImportStatement) {
	modIdx := c.nameConst(s.Module)
	switch {
	case len(s.Names) > 0:
		c.emit(bytecode.OpImportFrom, modIdx, s.Line)
		for _, n := range s.Names {
			c.emit2(bytecode.OpImportName, modIdx, c.nameConst(n), s.Line)
		}
	case s.As != "":
		c.emit2(bytecode.OpImportAs, modIdx, c.nameConst(s.As), s.Line)
	default:
		c.emit(bytecode.OpImport, modIdx, s.Line)
	}
}

func (c *Compiler) compileClassDecl(s *ast.ClassDecl) {
	if s.SuperClass != "" {
		c.loadName(s.SuperClass, s.Line)
		c.emit(bytecode.OpNewSubclass, c.nameConst(s.Name), s.Line)
	} else {
		c.emit(bytecode.OpNewClass, c.nameConst(s.Name), s.Line)
	}
	for _, m := range s.Methods {
		if m.IsNative {
			c.emit2(bytecode.OpNativeMethod, c.nameConst(m.Name), c.nameConst(m.NativeName), m.Line)
			continue
		}
		c.compileMethodLiteral(m)
		c.emit(bytecode.OpDefMethod, c.nameConst(m.Name), m.Line)
	}
	c.declareVar(s.Name, s.Line)
}

func (c *Compiler) compileMethodLiteral(m *ast.MethodDecl) {
	c.pushFunc(c.cur, m.Name, true)
	c.compileParams(m.Params, m.Defaults, m.Variadic)
	for _, st := range m.Body {
		c.compileStmt(st)
	}
	c.emit(bytecode.OpNull, 0, m.Line)
	c.emit(bytecode.OpReturn, 0, m.Line)
	fn := c.popFunc()
	idx := c.addConstant(fn)
	c.emit(bytecode.OpClosure, idx, m.Line)
}

// compileFunDecl binds a named `fun` statement to a local slot before
// compiling its body when nested (so the function can call itself
// recursively by name), matching the crafting-interpreters trick of
// reserving the slot with a placeholder push ahead of the closure.
func (c *Compiler) compileFunDecl(s *ast.FunDecl) {
	name := s.Fn.Name
	if c.cur.isTopLevel && c.cur.scopeDepth == 0 {
		c.compileFunctionLiteral(s.Fn)
		c.emit(bytecode.OpDefineGlobal, c.nameConst(name), s.Line)
		return
	}
	c.emit(bytecode.OpNull, 0, s.Line)
	slot := c.addLocal(name)
	c.compileFunctionLiteral(s.Fn)
	c.emit(bytecode.OpSetLocal, slot, s.Line)
	c.emit(bytecode.OpPop, 0, s.Line)
}

func (c *Compiler) compileFunctionLiteral(f *ast.FunctionLiteral) {
	c.pushFunc(c.cur, f.Name, false)
	c.compileParams(f.Params, f.Defaults, f.Variadic)
	for _, st := range f.Body {
		c.compileStmt(st)
	}
	c.emit(bytecode.OpNull, 0, f.Line)
	c.emit(bytecode.OpReturn, 0, f.Line)
	fn := c.popFunc()
	idx := c.addConstant(fn)
	c.emit(bytecode.OpClosure, idx, f.Line)
}

// compileParams declares each parameter as a local (slot order = call
// order) and records arity/defaults/variadic on the current Function. A
// variadic parameter is the last entry of params and is not counted toward
// arity or eligible for a default (spec §4.4's "most"/"least" arity pair).
func (c *Compiler) compileParams(params []string, defaults []ast.Expression, variadic bool) {
	fn := c.cur.fn
	fixedCount := len(params)
	if variadic {
		fixedCount--
	}
	fn.Arity = fixedCount
	fn.DefaultCount = len(defaults)
	fn.Variadic = variadic
	defStart := fixedCount - len(defaults)

	for i, p := range params {
		c.addLocal(p)
		if variadic && i == len(params)-1 {
			continue
		}
		if i >= defStart && i < fixedCount {
			fn.DefaultConsts = append(fn.DefaultConsts, c.compileConstDefault(defaults[i-defStart]))
		}
	}
}

// compileConstDefault resolves a default-parameter expression to a constant
// pool index; spec §4.4 requires defaults be constant expressions.
func (c *Compiler) compileConstDefault(e ast.Expression) int {
	switch t := e.(type) {
	case *ast.NumberLiteral:
		return c.addConstant(t.Value)
	case *ast.StringLiteral:
		return c.addConstant(t.Value)
	case *ast.BoolLiteral:
		return c.addConstant(t.Value)
	case *ast.NullLiteral:
		return c.addConstant(nil)
	default:
		c.errorf(e.Pos(), "default parameter value must be a constant expression")
		return c.addConstant(nil)
	}
}

// compileNativeDecl binds name to a native function whose implementation is
// supplied by the host at runtime (spec §5's narrow native-binding
// interface); the compiler only records the lookup key (NativeName), never
// an implementation.
func (c *Compiler) compileNativeDecl(s *ast.NativeDecl) {
	c.emit2(bytecode.OpNative, c.nameConst(s.Name), c.nameConst(s.NativeName), s.Line)
	c.declareVar(s.Name, s.Line)
}

// ---- expressions ----

func (c *Compiler) compileExpr(e ast.Expression) {
	switch t := e.(type) {
	case *ast.NumberLiteral:
		c.emit(bytecode.OpConst, c.addConstant(t.Value), t.Line)
	case *ast.StringLiteral:
		c.emit(bytecode.OpConst, c.addConstant(t.Value), t.Line)
	case *ast.BoolLiteral:
		if t.Value {
			c.emit(bytecode.OpTrue, 0, t.Line)
		} else {
			c.emit(bytecode.OpFalse, 0, t.Line)
		}
	case *ast.NullLiteral:
		c.emit(bytecode.OpNull, 0, t.Line)
	case *ast.Identifier:
		c.loadName(t.Name, t.Line)
	case *ast.SelfExpr:
		c.emit(bytecode.OpGetLocal, 0, t.Line)
	case *ast.SuperExpr:
		c.compileSuperCall(t)
	case *ast.ListLiteral:
		c.emit(bytecode.OpNewList, 0, t.Line)
		for _, el := range t.Elements {
			c.compileExpr(el)
			c.emit(bytecode.OpAppendList, 0, t.Line)
		}
	case *ast.TupleLiteral:
		for _, el := range t.Elements {
			c.compileExpr(el)
		}
		c.emit(bytecode.OpNewTuple, len(t.Elements), t.Line)
	case *ast.TableLiteral:
		for _, en := range t.Entries {
			c.compileExpr(en.Key)
			c.compileExpr(en.Value)
		}
		c.emit(bytecode.OpNewTable, len(t.Entries), t.Line)
	case *ast.FunctionLiteral:
		c.compileFunctionLiteral(t)
	case *ast.UnaryExpr:
		c.compileUnary(t)
	case *ast.BinaryExpr:
		c.compileBinary(t)
	case *ast.CompoundAssign:
		c.compileCompoundAssign(t)
	case *ast.Assignment:
		c.compileAssignment(t)
	case *ast.UnpackAssignment:
		c.compileUnpackAssignment(t)
	case *ast.FieldAccess:
		c.compileExpr(t.Receiver)
		c.emit(bytecode.OpGetField, c.nameConst(t.Name), t.Line)
	case *ast.Subscript:
		c.compileExpr(t.Receiver)
		c.compileExpr(t.Index)
		c.emit(bytecode.OpSubscrGet, 0, t.Line)
	case *ast.Call:
		c.compileCall(t)
	default:
		c.errorf(e.Pos(), "compiler: unhandled expression %T", e)
		c.emit(bytecode.OpNull, 0, e.Pos())
	}
}

func (c *Compiler) compileUnary(t *ast.UnaryExpr) {
	c.compileExpr(t.Operand)
	switch t.Op {
	case "-":
		c.emit(bytecode.OpNeg, 0, t.Line)
	case "!":
		c.emit(bytecode.OpNot, 0, t.Line)
	case "#":
		c.emit(bytecode.OpLen, 0, t.Line)
	case "##":
		c.emit(bytecode.OpStr, 0, t.Line)
	default:
		c.errorf(t.Line, "unknown unary operator %q", t.Op)
	}
}

func (c *Compiler) compileBinary(t *ast.BinaryExpr) {
	switch t.Op {
	case "and":
		c.compileExpr(t.Left)
		c.emit(bytecode.OpDup, 0, t.Line)
		jf := c.emit(bytecode.OpJumpIfFalse, 0, t.Line)
		c.emit(bytecode.OpPop, 0, t.Line)
		c.compileExpr(t.Right)
		c.patchJump(jf)
		return
	case "or":
		c.compileExpr(t.Left)
		c.emit(bytecode.OpDup, 0, t.Line)
		jt := c.emit(bytecode.OpJumpIfTrue, 0, t.Line)
		c.emit(bytecode.OpPop, 0, t.Line)
		c.compileExpr(t.Right)
		c.patchJump(jt)
		return
	case "!=":
		c.compileExpr(t.Left)
		c.compileExpr(t.Right)
		c.emit(bytecode.OpEq, 0, t.Line)
		c.emit(bytecode.OpNot, 0, t.Line)
		return
	}
	c.compileExpr(t.Left)
	c.compileExpr(t.Right)
	c.emit(binOpcode(t.Op), 0, t.Line)
}

func binOpcode(op string) bytecode.Opcode {
	switch op {
	case "+":
		return bytecode.OpAdd
	case "-":
		return bytecode.OpSub
	case "*":
		return bytecode.OpMul
	case "/":
		return bytecode.OpDiv
	case "%":
		return bytecode.OpMod
	case "**":
		return bytecode.OpPow
	case "==":
		return bytecode.OpEq
	case "<":
		return bytecode.OpLt
	case "<=":
		return bytecode.OpLe
	case ">":
		return bytecode.OpGt
	case ">=":
		return bytecode.OpGe
	case "is":
		return bytecode.OpIs
	default:
		return bytecode.OpAdd
	}
}

func (c *Compiler) compileAssignment(s *ast.Assignment) {
	switch t := s.Target.(type) {
	case *ast.Identifier:
		c.compileExpr(s.Value)
		c.storeName(t.Name, s.Line)
	case *ast.FieldAccess:
		c.compileExpr(t.Receiver)
		c.compileExpr(s.Value)
		c.emit(bytecode.OpSetField, c.nameConst(t.Name), s.Line)
	case *ast.Subscript:
		c.compileExpr(t.Receiver)
		c.compileExpr(t.Index)
		c.compileExpr(s.Value)
		c.emit(bytecode.OpSubscrSet, 0, s.Line)
	default:
		c.errorf(s.Line, "invalid assignment target")
	}
}

// compileCompoundAssign desugars `target op= value` evaluating any
// attribute/subscript receiver exactly once (spec §4.4), using DUP/DUP2 to
// keep a second copy of the receiver (and index) around for the write after
// reading the old value.
func (c *Compiler) compileCompoundAssign(s *ast.CompoundAssign) {
	op := binOpcode(s.Op)
	switch t := s.Target.(type) {
	case *ast.Identifier:
		c.loadName(t.Name, s.Line)
		c.compileExpr(s.Value)
		c.emit(op, 0, s.Line)
		c.storeName(t.Name, s.Line)
	case *ast.FieldAccess:
		c.compileExpr(t.Receiver)
		c.emit(bytecode.OpDup, 0, s.Line)
		c.emit(bytecode.OpGetField, c.nameConst(t.Name), s.Line)
		c.compileExpr(s.Value)
		c.emit(op, 0, s.Line)
		c.emit(bytecode.OpSetField, c.nameConst(t.Name), s.Line)
	case *ast.Subscript:
		c.compileExpr(t.Receiver)
		c.compileExpr(t.Index)
		c.emit(bytecode.OpDup2, 0, s.Line)
		c.emit(bytecode.OpSubscrGet, 0, s.Line)
		c.compileExpr(s.Value)
		c.emit(op, 0, s.Line)
		c.emit(bytecode.OpSubscrSet, 0, s.Line)
	default:
		c.errorf(s.Line, "invalid compound-assignment target")
	}
}

func (c *Compiler) compileCall(t *ast.Call) {
	c.compileExpr(t.Receiver)
	for _, a := range t.Args {
		c.compileExpr(a)
	}
	argc := len(t.Args) & bytecode.ArgCountMask
	if t.Selector == "" {
		c.emit(bytecode.OpCall, argc, t.Line)
		return
	}
	selIdx := c.nameConst(t.Selector)
	c.emit(bytecode.OpInvoke, (selIdx<<bytecode.SelectorIndexShift)|argc, t.Line)
}

// compileSuperCall always compiles `super.sel(...)` as a call, even with
// zero arguments. OpSuperBind is reserved for a bare `super.name` attribute
// read (no invocation); this compiler never emits it and does not
// distinguish that form from a zero-arg call.
func (c *Compiler) compileSuperCall(t *ast.SuperExpr) {
	c.emit(bytecode.OpGetLocal, 0, t.Line)
	for _, a := range t.Args {
		c.compileExpr(a)
	}
	selIdx := c.nameConst(t.Selector)
	argc := len(t.Args) & bytecode.ArgCountMask
	c.emit(bytecode.OpSuperCall, (selIdx<<bytecode.SelectorIndexShift)|argc, t.Line)
}
