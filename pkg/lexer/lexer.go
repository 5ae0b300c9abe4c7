// Package lexer tokenizes Rill source code.
package lexer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/rill-lang/rill/pkg/token"
)

// Lexer produces a token stream from source text. Malformed input yields
// token.Error tokens; the lexer always makes progress and ends with EOF.
type Lexer struct {
	input   string
	pos     int    // current position in input
	readPos int    // reading position (after current char)
	ch      rune   // current character
	line    int    // current line (1-based)
	col     int    // current column (1-based)
	pending string // error to report before the next token, if any
}

// New creates a lexer for the given input.
func New(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() token.Position {
	return token.Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// NextToken returns the next token in the stream.
func (l *Lexer) NextToken() token.Token {
	l.skipWhitespaceAndComments()

	pos := l.position()

	if l.pending != "" {
		msg := l.pending
		l.pending = ""
		return token.Token{Type: token.Error, Literal: msg, Pos: pos}
	}

	switch l.ch {
	case 0:
		return token.Token{Type: token.EOF, Literal: "", Pos: pos}

	case '(':
		return l.single(token.LParen, pos)
	case ')':
		return l.single(token.RParen, pos)
	case '[':
		return l.single(token.LBracket, pos)
	case ']':
		return l.single(token.RBracket, pos)
	case '{':
		return l.single(token.LBrace, pos)
	case '}':
		return l.single(token.RBrace, pos)
	case ',':
		return l.single(token.Comma, pos)
	case '.':
		return l.single(token.Dot, pos)
	case ';':
		return l.single(token.Semicolon, pos)
	case '?':
		return l.single(token.Question, pos)
	case ':':
		return l.single(token.Colon, pos)
	case '~':
		return l.single(token.BitNot, pos)
	case '^':
		return l.single(token.BitXor, pos)

	case '+':
		if l.peekChar() == '=' {
			return l.double(token.PlusEq, pos)
		}
		if l.peekChar() == '+' {
			return l.double(token.Increment, pos)
		}
		return l.single(token.Plus, pos)

	case '-':
		switch l.peekChar() {
		case '=':
			return l.double(token.MinusEq, pos)
		case '-':
			return l.double(token.Decrement, pos)
		case '>':
			return l.double(token.Arrow, pos)
		}
		return l.single(token.Minus, pos)

	case '*':
		if l.peekChar() == '=' {
			return l.double(token.StarEq, pos)
		}
		return l.single(token.Star, pos)

	case '/':
		if l.peekChar() == '=' {
			return l.double(token.SlashEq, pos)
		}
		return l.single(token.Slash, pos)

	case '%':
		if l.peekChar() == '=' {
			return l.double(token.PercentEq, pos)
		}
		return l.single(token.Percent, pos)

	case '!':
		if l.peekChar() == '=' {
			return l.double(token.NotEqual, pos)
		}
		return l.single(token.Bang, pos)

	case '=':
		switch l.peekChar() {
		case '=':
			return l.double(token.Equal, pos)
		case '>':
			return l.double(token.FatArrow, pos)
		}
		return l.single(token.Assign, pos)

	case '<':
		switch l.peekChar() {
		case '=':
			return l.double(token.LessEq, pos)
		case '<':
			return l.double(token.ShiftLeft, pos)
		case '-':
			return l.double(token.LeftArrow, pos)
		}
		return l.single(token.Less, pos)

	case '>':
		switch l.peekChar() {
		case '=':
			return l.double(token.GreaterEq, pos)
		case '>':
			return l.double(token.ShiftRight, pos)
		}
		return l.single(token.Greater, pos)

	case '&':
		if l.peekChar() == '&' {
			return l.double(token.AndAnd, pos)
		}
		return l.single(token.BitAnd, pos)

	case '|':
		if l.peekChar() == '|' {
			return l.double(token.OrOr, pos)
		}
		return l.single(token.BitOr, pos)

	case '"':
		return l.readString(pos)
	}

	if unicode.IsDigit(l.ch) {
		return l.readNumber(pos)
	}
	if isIdentStart(l.ch) {
		return l.readIdentifier(pos)
	}

	ch := l.ch
	l.readChar()
	return token.Token{
		Type:    token.Error,
		Literal: fmt.Sprintf("unexpected character %q", ch),
		Pos:     pos,
	}
}

// Tokenize runs the lexer to completion, including the trailing EOF token.
func (l *Lexer) Tokenize() []token.Token {
	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens
		}
	}
}

func (l *Lexer) single(t token.Type, pos token.Position) token.Token {
	lit := string(l.ch)
	l.readChar()
	return token.Token{Type: t, Literal: lit, Pos: pos}
}

func (l *Lexer) double(t token.Type, pos token.Position) token.Token {
	lit := string(l.ch)
	l.readChar()
	lit += string(l.ch)
	l.readChar()
	return token.Token{Type: t, Literal: lit, Pos: pos}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n':
			l.readChar()

		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}

		case l.ch == '/' && l.peekChar() == '*':
			l.readChar() // /
			l.readChar() // *
			for !(l.ch == '*' && l.peekChar() == '/') && l.ch != 0 {
				l.readChar()
			}
			if l.ch == 0 {
				l.pending = "unterminated block comment"
				return
			}
			l.readChar() // *
			l.readChar() // /

		default:
			return
		}
	}
}

// readString scans a double-quoted string literal. Strings may span lines;
// no escape sequences are processed.
func (l *Lexer) readString(pos token.Position) token.Token {
	l.readChar() // opening quote
	start := l.pos
	for l.ch != '"' && l.ch != 0 {
		l.readChar()
	}
	if l.ch == 0 {
		return token.Token{
			Type:    token.Error,
			Literal: "unterminated string literal",
			Pos:     pos,
		}
	}
	value := l.input[start:l.pos]
	l.readChar() // closing quote
	return token.Token{Type: token.String, Literal: value, Pos: pos}
}

func (l *Lexer) readNumber(pos token.Position) token.Token {
	start := l.pos
	for unicode.IsDigit(l.ch) {
		l.readChar()
	}
	typ := token.Integer
	if l.ch == '.' && unicode.IsDigit(l.peekChar()) {
		typ = token.Float
		l.readChar()
		for unicode.IsDigit(l.ch) {
			l.readChar()
		}
	}
	return token.Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readIdentifier(pos token.Position) token.Token {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	return token.Token{Type: token.LookupIdent(lit), Literal: lit, Pos: pos}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
