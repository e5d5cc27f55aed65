package parser

import (
	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/lexer"
)

// snapshot captures enough parser + lexer state to backtrack past a failed
// tentative parse (used to disambiguate `for NAME, NAME in expr` from the
// C-style `for init; cond; post` form, and bare unpack-assignment
// statements from ordinary expression statements).
type snapshot struct {
	lexPos     lexer.Position
	cur, peek  lexer.Token
	errorCount int
}

func (p *Parser) snapshot() snapshot {
	return snapshot{lexPos: p.l.Mark(), cur: p.cur, peek: p.peek, errorCount: len(p.errors)}
}

func (p *Parser) restore(s snapshot) {
	p.l.Rewind(s.lexPos)
	p.cur, p.peek = s.cur, s.peek
	p.errors = p.errors[:s.errorCount]
	p.hadErr = len(p.errors) > 0
}

// parseDeclaration parses anything that can appear at statement position,
// including declarations (class/fun/native/import/var) that may not nest
// inside expressions.
func (p *Parser) parseDeclaration() ast.Statement {
	var stmt ast.Statement
	switch p.cur.Type {
	case lexer.CLASS:
		stmt = p.parseClassDecl()
	case lexer.FUN:
		stmt = p.parseFunDecl()
	case lexer.NATIVE:
		stmt = p.parseNativeDecl()
	case lexer.IMPORT:
		stmt = p.parseImportStatement()
	case lexer.VAR:
		stmt = p.parseVarDecl()
	default:
		stmt = p.parseStatement()
	}
	if stmt == nil {
		p.synchronize()
	}
	return stmt
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.cur.Type {
	case lexer.IF:
		return p.parseIf()
	case lexer.WHILE:
		return p.parseWhile()
	case lexer.FOR:
		return p.parseForOrForEach()
	case lexer.RETURN:
		return p.parseReturn()
	case lexer.YIELD:
		return p.parseYield()
	case lexer.BREAK:
		line := p.cur.Line
		p.advance()
		n := ast.New[ast.BreakStatement](p.arena)
		n.Line = line
		return n
	case lexer.CONTINUE:
		line := p.cur.Line
		p.advance()
		n := ast.New[ast.ContinueStatement](p.arena)
		n.Line = line
		return n
	case lexer.RAISE:
		return p.parseRaise()
	case lexer.TRY:
		return p.parseTry()
	case lexer.WITH:
		return p.parseWith()
	case lexer.BEGIN:
		return p.parseBlockStatement()
	case lexer.VAR:
		return p.parseVarDecl()
	default:
		return p.parseUnpackOrExpressionStatement()
	}
}

// parseBlockBody parses `begin stmt* end` or `{ stmt* }`, returning the
// inner statement list (ember accepts either delimiter pair, matching the
// spec's mention of both `begin/end` keywords and brace blocks).
func (p *Parser) parseBlockBody() []ast.Statement {
	if p.match(lexer.LBRACE) {
		var stmts []ast.Statement
		for !p.check(lexer.RBRACE) && p.cur.Type != lexer.EOF {
			if s := p.parseDeclaration(); s != nil {
				stmts = append(stmts, s)
			}
		}
		p.expect(lexer.RBRACE, "}")
		return stmts
	}
	p.expect(lexer.BEGIN, "begin")
	var stmts []ast.Statement
	for !p.check(lexer.END) && p.cur.Type != lexer.EOF {
		if s := p.parseDeclaration(); s != nil {
			stmts = append(stmts, s)
		}
	}
	p.expect(lexer.END, "end")
	return stmts
}

func (p *Parser) parseBlockStatement() ast.Statement {
	line := p.cur.Line
	body := p.parseBlockBody()
	n := ast.New[ast.Block](p.arena)
	n.Line = line
	n.Statements = body
	return n
}

func (p *Parser) parseIf() ast.Statement {
	line := p.cur.Line
	p.advance() // 'if'
	n := ast.New[ast.IfStatement](p.arena)
	n.Line = line

	cond := p.parseExpression(precAssign)
	body := p.parseBlockBody()
	n.Branches = append(n.Branches, ast.IfBranch{Cond: cond, Body: body})

	for p.check(lexer.ELIF) {
		p.advance()
		c := p.parseExpression(precAssign)
		b := p.parseBlockBody()
		n.Branches = append(n.Branches, ast.IfBranch{Cond: c, Body: b})
	}
	if p.match(lexer.ELSE) {
		n.Else = p.parseBlockBody()
	}
	return n
}

func (p *Parser) parseWhile() ast.Statement {
	line := p.cur.Line
	p.advance() // 'while'
	n := ast.New[ast.WhileStatement](p.arena)
	n.Line = line
	n.Cond = p.parseExpression(precAssign)
	n.Body = p.parseBlockBody()
	return n
}

// parseForOrForEach disambiguates `for [var] NAME, NAME, ... in expr { }` from
// `for init; cond; post { }` by attempting the foreach form first and
// rewinding on failure (spec §4.3 groups both under FOR).
func (p *Parser) parseForOrForEach() ast.Statement {
	line := p.cur.Line
	p.advance() // 'for'

	save := p.snapshot()
	if fe, ok := p.tryParseForEachVars(line); ok {
		return fe
	}
	p.restore(save)
	return p.parseCStyleFor(line)
}

func (p *Parser) tryParseForEachVars(line int) (ast.Statement, bool) {
	var vars []string
	p.match(lexer.VAR)
	if !p.check(lexer.IDENTIFIER) {
		return nil, false
	}
	vars = append(vars, p.cur.Literal)
	p.advance()
	for p.match(lexer.COMMA) {
		if !p.check(lexer.IDENTIFIER) {
			return nil, false
		}
		vars = append(vars, p.cur.Literal)
		p.advance()
	}
	if !p.match(lexer.IN) {
		return nil, false
	}
	n := ast.New[ast.ForEachStatement](p.arena)
	n.Line = line
	n.Vars = vars
	n.Iterable = p.parseExpression(precAssign)
	n.Body = p.parseBlockBody()
	return n, true
}

func (p *Parser) parseCStyleFor(line int) ast.Statement {
	n := ast.New[ast.ForStatement](p.arena)
	n.Line = line
	if !p.check(lexer.SEMICOLON) {
		if p.check(lexer.VAR) {
			n.Init = p.parseVarDecl()
		} else {
			n.Init = p.parseUnpackOrExpressionStatement()
		}
	} else {
		p.advance()
	}
	if !p.check(lexer.SEMICOLON) {
		n.Cond = p.parseExpression(precAssign)
	}
	p.expect(lexer.SEMICOLON, ";")
	if !p.check(lexer.LBRACE) && !p.check(lexer.BEGIN) {
		n.Post = p.parseUnpackOrExpressionStatement()
	}
	n.Body = p.parseBlockBody()
	return n
}

func (p *Parser) parseReturn() ast.Statement {
	line := p.cur.Line
	p.advance()
	n := ast.New[ast.ReturnStatement](p.arena)
	n.Line = line
	if !p.atStatementEnd() {
		n.Value = p.parseExpression(precAssign)
	}
	return n
}

func (p *Parser) parseYield() ast.Statement {
	line := p.cur.Line
	p.advance()
	n := ast.New[ast.YieldStatement](p.arena)
	n.Line = line
	n.Value = p.parseExpression(precAssign)
	return n
}

func (p *Parser) parseRaise() ast.Statement {
	line := p.cur.Line
	p.advance()
	n := ast.New[ast.RaiseStatement](p.arena)
	n.Line = line
	n.Value = p.parseExpression(precAssign)
	return n
}

// atStatementEnd reports whether the cursor sits at a token that cannot
// start an expression, used by `return` to allow a bare `return` with no
// value.
func (p *Parser) atStatementEnd() bool {
	switch p.cur.Type {
	case lexer.END, lexer.RBRACE, lexer.EOF, lexer.ELSE, lexer.ELIF, lexer.EXCEPT, lexer.ENSURE:
		return true
	}
	return false
}

func (p *Parser) parseTry() ast.Statement {
	line := p.cur.Line
	p.advance() // 'try'
	n := ast.New[ast.TryStatement](p.arena)
	n.Line = line
	n.Body = p.parseBlockBody()

	for p.check(lexer.EXCEPT) {
		p.advance()
		var clause ast.ExceptClause
		if !p.check(lexer.LBRACE) && !p.check(lexer.BEGIN) {
			clause.ClassExpr = p.parseExpression(precCall)
			if p.check(lexer.IDENTIFIER) {
				clause.Binding = p.cur.Literal
				p.advance()
			}
		}
		clause.Body = p.parseBlockBody()
		n.Excepts = append(n.Excepts, clause)
	}
	if p.match(lexer.ENSURE) {
		n.Ensure = p.parseBlockBody()
	}
	if len(n.Excepts) == 0 && n.Ensure == nil {
		p.error(line, "try statement requires at least one except or ensure clause")
	}
	return n
}

func (p *Parser) parseWith() ast.Statement {
	line := p.cur.Line
	p.advance() // 'with'
	n := ast.New[ast.WithStatement](p.arena)
	n.Line = line
	n.Expr = p.parseExpression(precAssign)
	if p.match(lexer.AS) {
		n.Var = p.expect(lexer.IDENTIFIER, "binding name after as").Literal
	}
	n.Body = p.parseBlockBody()
	return n
}

func (p *Parser) parseImportStatement() ast.Statement {
	line := p.cur.Line
	p.advance() // 'import'
	n := ast.New[ast.ImportStatement](p.arena)
	n.Line = line

	first := p.expect(lexer.IDENTIFIER, "module or binding name").Literal
	if p.check(lexer.COMMA) || p.check(lexer.IN) {
		// `import NAME, NAME in MODULE` selective-import spelling.
		n.Names = []string{first}
		for p.match(lexer.COMMA) {
			n.Names = append(n.Names, p.expect(lexer.IDENTIFIER, "imported name").Literal)
		}
		p.expect(lexer.IN, "in")
		n.Module = p.expect(lexer.IDENTIFIER, "module name").Literal
		return n
	}
	n.Module = first
	for p.match(lexer.DOT) {
		n.Module += "." + p.expect(lexer.IDENTIFIER, "module path segment").Literal
	}
	if p.match(lexer.AS) {
		n.As = p.expect(lexer.IDENTIFIER, "alias name").Literal
	}
	return n
}

func (p *Parser) parseVarDecl() ast.Statement {
	line := p.cur.Line
	p.advance() // 'var'
	var names []string
	names = append(names, p.expect(lexer.IDENTIFIER, "variable name").Literal)
	for p.match(lexer.COMMA) {
		names = append(names, p.expect(lexer.IDENTIFIER, "variable name").Literal)
	}

	var value ast.Expression
	if p.match(lexer.ASSIGN) {
		value = p.parseExpression(precAssign)
	}

	if len(names) == 1 {
		n := ast.New[ast.VarDecl](p.arena)
		n.Line = line
		n.Names = names
		n.Value = value
		return n
	}

	n := ast.New[ast.UnpackAssignment](p.arena)
	n.Line = line
	n.IsDecl = true
	for _, name := range names {
		id := ast.New[ast.Identifier](p.arena)
		id.Line = line
		id.Name = name
		n.Targets = append(n.Targets, id)
	}
	n.Value = value
	return n
}

// parseUnpackOrExpressionStatement handles both `a, b = expr` (bare unpack,
// no `var`) and ordinary expression statements, disambiguating by tentative
// parse + rewind exactly like the for-loop header.
func (p *Parser) parseUnpackOrExpressionStatement() ast.Statement {
	if p.check(lexer.IDENTIFIER) {
		save := p.snapshot()
		if up, ok := p.tryParseBareUnpack(); ok {
			return up
		}
		p.restore(save)
	}
	line := p.cur.Line
	expr := p.parseExpression(precAssign)
	if up, ok := expr.(*ast.UnpackAssignment); ok {
		return up
	}
	n := ast.New[ast.ExpressionStatement](p.arena)
	n.Line = line
	n.Expr = expr
	return n
}

func (p *Parser) tryParseBareUnpack() (ast.Statement, bool) {
	line := p.cur.Line
	first := p.cur.Literal
	p.advance()
	if !p.check(lexer.COMMA) {
		return nil, false
	}
	targets := []ast.Expression{identExpr(p.arena, line, first)}
	for p.match(lexer.COMMA) {
		if !p.check(lexer.IDENTIFIER) {
			return nil, false
		}
		targets = append(targets, identExpr(p.arena, p.cur.Line, p.cur.Literal))
		p.advance()
	}
	if !p.match(lexer.ASSIGN) {
		return nil, false
	}
	n := ast.New[ast.UnpackAssignment](p.arena)
	n.Line = line
	n.Targets = targets
	n.Value = p.parseExpression(precAssign)
	return n, true
}

func identExpr(a *ast.Arena, line int, name string) *ast.Identifier {
	id := ast.New[ast.Identifier](a)
	id.Line = line
	id.Name = name
	return id
}

func (p *Parser) parseFunDecl() ast.Statement {
	line := p.cur.Line
	lit := p.parseFunctionLiteral().(*ast.FunctionLiteral)
	n := ast.New[ast.FunDecl](p.arena)
	n.Line = line
	n.Fn = lit
	return n
}

func (p *Parser) parseNativeDecl() ast.Statement {
	line := p.cur.Line
	p.advance() // 'native'
	n := ast.New[ast.NativeDecl](p.arena)
	n.Line = line
	n.Name = p.expect(lexer.IDENTIFIER, "native function name").Literal
	p.expect(lexer.LPAREN, "(")
	n.Params, _, n.Variadic = p.parseParamList()
	p.expect(lexer.RPAREN, ")")
	n.NativeName = n.Name
	return n
}

func (p *Parser) parseClassDecl() ast.Statement {
	line := p.cur.Line
	p.advance() // 'class'
	n := ast.New[ast.ClassDecl](p.arena)
	n.Line = line
	n.Name = p.expect(lexer.IDENTIFIER, "class name").Literal
	if p.match(lexer.IS) {
		n.SuperClass = p.expect(lexer.IDENTIFIER, "superclass name").Literal
	}

	opened := p.match(lexer.LBRACE)
	if !opened {
		p.expect(lexer.BEGIN, "begin")
	}
	closeTok := lexer.RBRACE
	if !opened {
		closeTok = lexer.END
	}
	for !p.check(closeTok) && p.cur.Type != lexer.EOF {
		n.Methods = append(n.Methods, p.parseMethodDecl())
	}
	p.expect(closeTok, "} or end")
	return n
}

func (p *Parser) parseMethodDecl() *ast.MethodDecl {
	line := p.cur.Line
	m := ast.New[ast.MethodDecl](p.arena)
	m.Line = line

	if p.match(lexer.STATIC) {
		m.IsStatic = true
	}
	if p.match(lexer.NATIVE) {
		m.IsNative = true
		m.Name = p.expect(lexer.IDENTIFIER, "native method name").Literal
		p.expect(lexer.LPAREN, "(")
		m.Params, _, m.Variadic = p.parseParamList()
		p.expect(lexer.RPAREN, ")")
		m.NativeName = m.Name
		return m
	}

	if p.match(lexer.CONSTRUCT) {
		m.Name = "construct"
	} else {
		m.Name = p.expect(lexer.IDENTIFIER, "method name").Literal
	}
	p.expect(lexer.LPAREN, "(")
	m.Params, m.Defaults, m.Variadic = p.parseParamList()
	p.expect(lexer.RPAREN, ")")
	m.Body = p.parseBlockBody()
	return m
}
