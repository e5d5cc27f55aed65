// Package parser implements ember's recursive-descent, precedence-climbing
// parser (spec §4.3): statements by recursive descent, expressions by Pratt
// parsing over a fixed precedence table. It keeps the teacher's
// (kristofer-smog) two-token-lookahead shape (`curTok`/`peekTok`, an
// accumulated `errors` slice) but replaces the teacher's Smalltalk
// unary/binary/keyword-message grammar entirely, since ember has ordinary
// infix expressions, statements, and class/method declarations rather than
// message sends as the only expression form.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/lexer"
)

// ErrorCallback matches spec §4.3's "(file, line, message, userdata)"
// reporting contract; userdata is left to the Go closure the host supplies.
type ErrorCallback func(file string, line int, message string)

// Parser is stateful and single-use: construct one per source unit.
type Parser struct {
	l      *lexer.Lexer
	arena  *ast.Arena
	file   string
	onErr  ErrorCallback
	cur    lexer.Token
	peek   lexer.Token
	errors []string
	hadErr bool
}

func New(src, file string, arena *ast.Arena, onErr ErrorCallback) *Parser {
	p := &Parser{l: lexer.New(src), arena: arena, file: file, onErr: onErr}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.nextSignificant()
}

// nextSignificant pulls tokens from the lexer, swallowing every NEWLINE
// token; ember statements don't require a trailing terminator so newlines
// are pure whitespace from the parser's point of view.
func (p *Parser) nextSignificant() lexer.Token {
	for {
		t := p.l.NextToken()
		if t.Type == lexer.NEWLINE {
			continue
		}
		return t
	}
}

func (p *Parser) error(line int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.errors = append(p.errors, fmt.Sprintf("%s:%d: %s", p.file, line, msg))
	p.hadErr = true
	if p.onErr != nil {
		p.onErr(p.file, line, msg)
	}
}

func (p *Parser) check(t lexer.TokenType) bool { return p.cur.Type == t }

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(t lexer.TokenType, what string) lexer.Token {
	if p.cur.Type != t {
		p.error(p.cur.Line, "expected %s, got %q", what, p.cur.Literal)
		return p.cur
	}
	tok := p.cur
	p.advance()
	return tok
}

// synchronize recovers from a syntax error by discarding tokens until the
// start of what looks like the next statement (spec §4.3: "synchronizes at
// statement boundaries").
func (p *Parser) synchronize() {
	for p.cur.Type != lexer.EOF {
		switch p.cur.Type {
		case lexer.CLASS, lexer.FUN, lexer.VAR, lexer.FOR, lexer.IF, lexer.WHILE,
			lexer.RETURN, lexer.IMPORT, lexer.TRY, lexer.RAISE, lexer.BREAK, lexer.CONTINUE:
			return
		}
		p.advance()
	}
}

// Parse parses a full program. It returns (nil, errors) on any syntax error
// per spec §4.3 ("returns null on any error to signal compile failure");
// the error callback has already been invoked for each one.
func (p *Parser) Parse() (*ast.Program, []string) {
	prog := ast.New[ast.Program](p.arena)
	prog.Line = p.cur.Line
	for p.cur.Type != lexer.EOF {
		stmt := p.parseDeclaration()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
	}
	if p.hadErr {
		return nil, p.errors
	}
	return prog, p.errors
}

// precedence levels, low to high.
const (
	precNone = iota
	precAssign
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precPower
	precUnary
	precCall
)

func precedenceOf(t lexer.TokenType) int {
	switch t {
	case lexer.ASSIGN, lexer.PLUS_EQ, lexer.MINUS_EQ, lexer.STAR_EQ, lexer.SLASH_EQ, lexer.PERCENT_EQ:
		return precAssign
	case lexer.OR:
		return precOr
	case lexer.AND:
		return precAnd
	case lexer.EQ, lexer.NOTEQ:
		return precEquality
	case lexer.LT, lexer.LE, lexer.GT, lexer.GE, lexer.IS:
		return precComparison
	case lexer.PLUS, lexer.MINUS:
		return precTerm
	case lexer.STAR, lexer.SLASH, lexer.PERCENT:
		return precFactor
	case lexer.STARSTAR, lexer.CARET:
		return precPower
	case lexer.LPAREN, lexer.DOT, lexer.LBRACKET:
		return precCall
	default:
		return precNone
	}
}

// parseExpression implements Pratt/precedence-climbing expression parsing.
func (p *Parser) parseExpression(minPrec int) ast.Expression {
	left := p.parseUnary()

	for {
		prec := precedenceOf(p.cur.Type)
		if prec < minPrec || prec == precNone {
			break
		}
		switch p.cur.Type {
		case lexer.ASSIGN:
			left = p.finishAssignment(left)
		case lexer.PLUS_EQ, lexer.MINUS_EQ, lexer.STAR_EQ, lexer.SLASH_EQ, lexer.PERCENT_EQ:
			left = p.finishCompoundAssign(left)
		case lexer.LPAREN:
			left = p.finishCall(left, "")
		case lexer.DOT:
			left = p.finishFieldOrMethodCall(left)
		case lexer.LBRACKET:
			left = p.finishSubscript(left)
		case lexer.STARSTAR, lexer.CARET:
			// right-associative: recurse at the same precedence
			line := p.cur.Line
			op := p.cur.Literal
			p.advance()
			right := p.parseExpression(prec)
			left = binExpr(p.arena, line, "**", left, right)
			_ = op
		default:
			line := p.cur.Line
			op := p.cur.Literal
			p.advance()
			right := p.parseExpression(prec + 1)
			left = binExpr(p.arena, line, op, left, right)
		}
	}
	return left
}

func binExpr(a *ast.Arena, line int, op string, l, r ast.Expression) *ast.BinaryExpr {
	n := ast.New[ast.BinaryExpr](a)
	n.Line = line
	n.Op = op
	n.Left = l
	n.Right = r
	return n
}

func (p *Parser) finishAssignment(target ast.Expression) ast.Expression {
	line := p.cur.Line
	p.advance() // '='
	value := p.parseExpression(precAssign)
	n := ast.New[ast.Assignment](p.arena)
	n.Line = line
	n.Target = target
	n.Value = value
	return n
}

func (p *Parser) finishCompoundAssign(target ast.Expression) ast.Expression {
	line := p.cur.Line
	op := strings.TrimSuffix(p.cur.Literal, "=")
	p.advance()
	value := p.parseExpression(precAssign)
	n := ast.New[ast.CompoundAssign](p.arena)
	n.Line = line
	n.Op = op
	n.Target = target
	n.Value = value
	return n
}

func (p *Parser) finishSubscript(recv ast.Expression) ast.Expression {
	line := p.cur.Line
	p.advance() // '['
	idx := p.parseExpression(precAssign)
	p.expect(lexer.RBRACKET, "]")
	n := ast.New[ast.Subscript](p.arena)
	n.Line = line
	n.Receiver = recv
	n.Index = idx
	return n
}

func (p *Parser) finishFieldOrMethodCall(recv ast.Expression) ast.Expression {
	p.advance() // '.'
	line := p.cur.Line
	name := p.expect(lexer.IDENTIFIER, "field or method name").Literal
	if p.check(lexer.LPAREN) {
		return p.finishCallOnReceiver(recv, name, line)
	}
	n := ast.New[ast.FieldAccess](p.arena)
	n.Line = line
	n.Receiver = recv
	n.Name = name
	return n
}

func (p *Parser) finishCall(callee ast.Expression, selector string) ast.Expression {
	return p.finishCallOnReceiver(callee, selector, p.cur.Line)
}

func (p *Parser) finishCallOnReceiver(recv ast.Expression, selector string, line int) ast.Expression {
	p.expect(lexer.LPAREN, "(")
	var args []ast.Expression
	for !p.check(lexer.RPAREN) && p.cur.Type != lexer.EOF {
		args = append(args, p.parseExpression(precAssign))
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN, ")")
	n := ast.New[ast.Call](p.arena)
	n.Line = line
	n.Receiver = recv
	n.Selector = selector
	n.Args = args
	return n
}

func (p *Parser) parseUnary() ast.Expression {
	switch p.cur.Type {
	case lexer.MINUS, lexer.BANG, lexer.HASH, lexer.HASHHASH:
		line := p.cur.Line
		op := p.cur.Literal
		p.advance()
		operand := p.parseUnary()
		n := ast.New[ast.UnaryExpr](p.arena)
		n.Line = line
		n.Op = op
		n.Operand = operand
		return n
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() ast.Expression {
	line := p.cur.Line
	switch p.cur.Type {
	case lexer.NUMBER:
		lit := p.cur.Literal
		p.advance()
		return numberLiteral(p.arena, line, lit)
	case lexer.STRING:
		lit := p.cur.Literal
		p.advance()
		n := ast.New[ast.StringLiteral](p.arena)
		n.Line = line
		n.Value = lit
		return n
	case lexer.TRUE, lexer.FALSE:
		val := p.cur.Type == lexer.TRUE
		p.advance()
		n := ast.New[ast.BoolLiteral](p.arena)
		n.Line = line
		n.Value = val
		return n
	case lexer.NULL:
		p.advance()
		n := ast.New[ast.NullLiteral](p.arena)
		n.Line = line
		return n
	case lexer.SUPER:
		return p.parseSuperExpr()
	case lexer.IDENTIFIER:
		name := p.cur.Literal
		p.advance()
		if name == "this" {
			n := ast.New[ast.SelfExpr](p.arena)
			n.Line = line
			return n
		}
		n := ast.New[ast.Identifier](p.arena)
		n.Line = line
		n.Name = name
		return n
	case lexer.LPAREN:
		p.advance()
		first := p.parseExpression(precAssign)
		if p.match(lexer.COMMA) {
			elems := []ast.Expression{first}
			for !p.check(lexer.RPAREN) && p.cur.Type != lexer.EOF {
				elems = append(elems, p.parseExpression(precAssign))
				if !p.match(lexer.COMMA) {
					break
				}
			}
			p.expect(lexer.RPAREN, ")")
			n := ast.New[ast.TupleLiteral](p.arena)
			n.Line = line
			n.Elements = elems
			return n
		}
		p.expect(lexer.RPAREN, ")")
		return first
	case lexer.LBRACKET:
		return p.parseListLiteral()
	case lexer.LBRACE:
		return p.parseTableLiteral()
	case lexer.FUN:
		return p.parseFunctionLiteral()
	}
	p.error(p.cur.Line, "unexpected token %q in expression", p.cur.Literal)
	p.advance()
	n := ast.New[ast.NullLiteral](p.arena)
	n.Line = line
	return n
}

func numberLiteral(a *ast.Arena, line int, lit string) *ast.NumberLiteral {
	n := ast.New[ast.NumberLiteral](a)
	n.Line = line
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
		v, err := strconv.ParseInt(lit[2:], 16, 64)
		if err == nil {
			n.Value = float64(v)
		}
		return n
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err == nil {
		n.Value = v
	}
	return n
}

func (p *Parser) parseSuperExpr() ast.Expression {
	line := p.cur.Line
	p.advance() // 'super'
	p.expect(lexer.DOT, ".")
	selector := p.expect(lexer.IDENTIFIER, "method name after super.").Literal
	n := ast.New[ast.SuperExpr](p.arena)
	n.Line = line
	n.Selector = selector
	if p.match(lexer.LPAREN) {
		for !p.check(lexer.RPAREN) && p.cur.Type != lexer.EOF {
			n.Args = append(n.Args, p.parseExpression(precAssign))
			if !p.match(lexer.COMMA) {
				break
			}
		}
		p.expect(lexer.RPAREN, ")")
	}
	return n
}

func (p *Parser) parseListLiteral() ast.Expression {
	line := p.cur.Line
	p.advance() // '['
	n := ast.New[ast.ListLiteral](p.arena)
	n.Line = line
	for !p.check(lexer.RBRACKET) && p.cur.Type != lexer.EOF {
		n.Elements = append(n.Elements, p.parseExpression(precAssign))
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACKET, "]")
	return n
}

func (p *Parser) parseTableLiteral() ast.Expression {
	line := p.cur.Line
	p.advance() // '{'
	n := ast.New[ast.TableLiteral](p.arena)
	n.Line = line
	for !p.check(lexer.RBRACE) && p.cur.Type != lexer.EOF {
		key := p.parseExpression(precAssign)
		p.expect(lexer.COLON, ":")
		val := p.parseExpression(precAssign)
		n.Entries = append(n.Entries, ast.TableEntry{Key: key, Value: val})
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACE, "}")
	return n
}

func (p *Parser) parseFunctionLiteral() ast.Expression {
	line := p.cur.Line
	p.advance() // 'fun'
	n := ast.New[ast.FunctionLiteral](p.arena)
	n.Line = line
	if p.check(lexer.IDENTIFIER) {
		n.Name = p.cur.Literal
		p.advance()
	}
	p.expect(lexer.LPAREN, "(")
	n.Params, n.Defaults, n.Variadic = p.parseParamList()
	p.expect(lexer.RPAREN, ")")
	n.Body = p.parseBlockBody()
	return n
}

// parseParamList parses `a, b, c = default, ...rest`-style parameter lists
// shared by function literals, fun decls, and method decls.
func (p *Parser) parseParamList() ([]string, []ast.Expression, bool) {
	var names []string
	var defaults []ast.Expression
	variadic := false
	for !p.check(lexer.RPAREN) && p.cur.Type != lexer.EOF {
		if p.match(lexer.ELLIPSIS) {
			variadic = true
			name := p.expect(lexer.IDENTIFIER, "variadic parameter name").Literal
			names = append(names, name)
			break
		}
		name := p.expect(lexer.IDENTIFIER, "parameter name").Literal
		names = append(names, name)
		if p.match(lexer.ASSIGN) {
			defaults = append(defaults, p.parseExpression(precAssign))
		} else if len(defaults) > 0 {
			p.error(p.cur.Line, "non-default parameter %q follows a default parameter", name)
		}
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return names, defaults, variadic
}
