package lexer

import "testing"

func TestNextToken_BangIsNotEqualsOperator(t *testing.T) {
	l := New(`! != !x`)
	want := []struct {
		typ TokenType
		lit string
	}{
		{BANG, "!"},
		{NOTEQ, "!="},
		{BANG, "!"},
		{IDENTIFIER, "x"},
	}
	for i, w := range want {
		tok := l.NextToken()
		if tok.Type != w.typ || tok.Literal != w.lit {
			t.Fatalf("token %d: expected {%v %q}, got {%v %q}", i, w.typ, w.lit, tok.Type, tok.Literal)
		}
	}
}

func TestNextToken_BasicTokens(t *testing.T) {
	input := `( ) { } [ ] , . .. ... : ; => # ##`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{LPAREN, "("},
		{RPAREN, ")"},
		{LBRACE, "{"},
		{RBRACE, "}"},
		{LBRACKET, "["},
		{RBRACKET, "]"},
		{COMMA, ","},
		{DOT, "."},
		{DOTDOT, ".."},
		{ELLIPSIS, "..."},
		{COLON, ":"},
		{SEMICOLON, ";"},
		{ARROW, "=>"},
		{HASH, "#"},
		{HASHHASH, "##"},
		{EOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%v, got=%v (%q)", i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestNextToken_Operators(t *testing.T) {
	input := `+ - * ** ^ / % == != < <= > >= = += -= *= /= %=`

	tests := []struct {
		expectedType    TokenType
		expectedLiteral string
	}{
		{PLUS, "+"}, {MINUS, "-"}, {STAR, "*"}, {STARSTAR, "**"}, {CARET, "^"},
		{SLASH, "/"}, {PERCENT, "%"}, {EQ, "=="}, {NOTEQ, "!="},
		{LT, "<"}, {LE, "<="}, {GT, ">"}, {GE, ">="}, {ASSIGN, "="},
		{PLUS_EQ, "+="}, {MINUS_EQ, "-="}, {STAR_EQ, "*="}, {SLASH_EQ, "/="}, {PERCENT_EQ, "%="},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType || tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d]: expected {%v %q}, got {%v %q}", i, tt.expectedType, tt.expectedLiteral, tok.Type, tok.Literal)
		}
	}
}

func TestNextToken_Keywords(t *testing.T) {
	input := "and or class else false for fun native if elif null return yield " +
		"super true var while import in begin end as is try ensure except " +
		"raise with continue break static construct"

	expected := []TokenType{
		AND, OR, CLASS, ELSE, FALSE, FOR, FUN, NATIVE, IF, ELIF, NULL, RETURN, YIELD,
		SUPER, TRUE, VAR, WHILE, IMPORT, IN, BEGIN, END, AS, IS, TRY, ENSURE, EXCEPT,
		RAISE, WITH, CONTINUE, BREAK, STATIC, CONSTRUCT,
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want {
			t.Fatalf("tests[%d]: expected %v got %v (%q)", i, want, tok.Type, tok.Literal)
		}
	}
}

func TestNextToken_Identifiers(t *testing.T) {
	input := "foo _bar baz2 Quux_1"
	l := New(input)
	for _, want := range []string{"foo", "_bar", "baz2", "Quux_1"} {
		tok := l.NextToken()
		if tok.Type != IDENTIFIER || tok.Literal != want {
			t.Fatalf("expected IDENTIFIER %q, got %v %q", want, tok.Type, tok.Literal)
		}
	}
}

func TestNextToken_Numbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"1e10", "1e10"},
		{"1.5e-3", "1.5e-3"},
		{"0xFF", "0xFF"},
		{"0x1a2B", "0x1a2B"},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != NUMBER || tok.Literal != tt.want {
			t.Fatalf("input %q: expected NUMBER %q, got %v %q", tt.input, tt.want, tok.Type, tok.Literal)
		}
	}
}

func TestNextToken_Strings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`'hello'`, "hello"},
		{`"hello"`, "hello"},
		{`'line\nbreak'`, "line\nbreak"},
		{`'tab\there'`, "tab\there"},
		{`'quote\'s'`, "quote's"},
		{`'back\\slash'`, `back\slash`},
	}
	for _, tt := range tests {
		l := New(tt.input)
		tok := l.NextToken()
		if tok.Type != STRING || tok.Literal != tt.want {
			t.Fatalf("input %q: expected STRING %q, got %v %q", tt.input, tt.want, tok.Type, tok.Literal)
		}
	}
}

func TestNextToken_UnterminatedString(t *testing.T) {
	l := New(`'unterminated`)
	tok := l.NextToken()
	if tok.Type != UNTERMINATED_STRING {
		t.Fatalf("expected UNTERMINATED_STRING, got %v", tok.Type)
	}
}

func TestNextToken_LineComment(t *testing.T) {
	l := New("1 // this is ignored\n2")
	tok := l.NextToken()
	if tok.Type != NUMBER || tok.Literal != "1" {
		t.Fatalf("expected NUMBER 1, got %v %q", tok.Type, tok.Literal)
	}
	tok = l.NextToken()
	if tok.Type != NEWLINE {
		t.Fatalf("expected NEWLINE, got %v", tok.Type)
	}
	tok = l.NextToken()
	if tok.Type != NUMBER || tok.Literal != "2" {
		t.Fatalf("expected NUMBER 2, got %v %q", tok.Type, tok.Literal)
	}
}

func TestNextToken_LineContinuation(t *testing.T) {
	l := New("1 + \\\n2")
	var types []TokenType
	for {
		tok := l.NextToken()
		if tok.Type == EOF {
			break
		}
		types = append(types, tok.Type)
	}
	want := []TokenType{NUMBER, PLUS, NUMBER}
	if len(types) != len(want) {
		t.Fatalf("expected %d tokens (no NEWLINE emitted across continuation), got %d: %v", len(want), len(types), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Fatalf("token %d: expected %v got %v", i, w, types[i])
		}
	}
}

func TestRewind(t *testing.T) {
	l := New("foo bar baz")
	l.NextToken() // foo
	mark := l.Mark()
	second := l.NextToken() // bar
	l.Rewind(mark)
	again := l.NextToken()
	if again.Literal != second.Literal {
		t.Fatalf("rewind mismatch: got %q, want %q", again.Literal, second.Literal)
	}
}

func TestNextToken_NegativeNumberIsMinusThenNumber(t *testing.T) {
	// Unlike the teacher lexer, ember treats '-' as its own token always;
	// unary minus is resolved by the parser's precedence climbing so that
	// `a - 1` and `-1` share one lexical rule.
	l := New("-1")
	tok := l.NextToken()
	if tok.Type != MINUS {
		t.Fatalf("expected MINUS, got %v", tok.Type)
	}
	tok = l.NextToken()
	if tok.Type != NUMBER || tok.Literal != "1" {
		t.Fatalf("expected NUMBER 1, got %v %q", tok.Type, tok.Literal)
	}
}
