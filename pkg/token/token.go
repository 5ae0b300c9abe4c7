// Package token defines the lexical tokens of the Rill language.
package token

import "fmt"

// Type represents the type of a token.
type Type int

const (
	// Special tokens
	EOF Type = iota
	Error

	// Literals
	Identifier // foo, Bar
	String     // "hello"
	Integer    // 42
	Float      // 3.14

	// Delimiters
	LParen    // (
	RParen    // )
	LBracket  // [
	RBracket  // ]
	LBrace    // {
	RBrace    // }
	Comma     // ,
	Dot       // .
	Semicolon // ;
	Question  // ?
	Colon     // :
	Arrow     // ->
	FatArrow  // =>
	LeftArrow // <-

	// Operators
	Plus       // +
	Minus      // -
	Star       // *
	Slash      // /
	Percent    // %
	Bang       // !
	AndAnd     // &&
	OrOr       // ||
	Greater    // >
	Less       // <
	BitNot     // ~
	BitAnd     // &
	BitOr      // |
	BitXor     // ^
	ShiftLeft  // <<
	ShiftRight // >>

	Assign    // =
	Equal     // ==
	NotEqual  // !=
	PlusEq    // +=
	MinusEq   // -=
	StarEq    // *=
	SlashEq   // /=
	PercentEq // %=
	GreaterEq // >=
	LessEq    // <=

	Increment // ++
	Decrement // --

	// Keywords
	Let
	Struct
	Fn
	True
	False
	For
	In
	While
	If
	Else
	Null
	Return
	Self
	Disp
	Spawn
	Select
	Default
	Close
)

var typeNames = map[Type]string{
	EOF:        "EOF",
	Error:      "ERROR",
	Identifier: "IDENTIFIER",
	String:     "STRING",
	Integer:    "INTEGER",
	Float:      "FLOAT",
	LParen:     "(",
	RParen:     ")",
	LBracket:   "[",
	RBracket:   "]",
	LBrace:     "{",
	RBrace:     "}",
	Comma:      ",",
	Dot:        ".",
	Semicolon:  ";",
	Question:   "?",
	Colon:      ":",
	Arrow:      "->",
	FatArrow:   "=>",
	LeftArrow:  "<-",
	Plus:       "+",
	Minus:      "-",
	Star:       "*",
	Slash:      "/",
	Percent:    "%",
	Bang:       "!",
	AndAnd:     "&&",
	OrOr:       "||",
	Greater:    ">",
	Less:       "<",
	BitNot:     "~",
	BitAnd:     "&",
	BitOr:      "|",
	BitXor:     "^",
	ShiftLeft:  "<<",
	ShiftRight: ">>",
	Assign:     "=",
	Equal:      "==",
	NotEqual:   "!=",
	PlusEq:     "+=",
	MinusEq:    "-=",
	StarEq:     "*=",
	SlashEq:    "/=",
	PercentEq:  "%=",
	GreaterEq:  ">=",
	LessEq:     "<=",
	Increment:  "++",
	Decrement:  "--",
	Let:        "let",
	Struct:     "struct",
	Fn:         "fn",
	True:       "true",
	False:      "false",
	For:        "for",
	In:         "in",
	While:      "while",
	If:         "if",
	Else:       "else",
	Null:       "null",
	Return:     "return",
	Self:       "self",
	Disp:       "disp",
	Spawn:      "spawn",
	Select:     "select",
	Default:    "default",
	Close:      "close",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Position is a location in the source text.
type Position struct {
	Offset int // byte offset, 0-based
	Line   int // 1-based
	Column int // 1-based
}

// Token represents a lexical token.
type Token struct {
	Type    Type
	Literal string // the raw text (string tokens hold the unquoted value)
	Pos     Position
}

func (t Token) String() string {
	if t.Type == EOF {
		return "EOF"
	}
	if t.Type == Error {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords maps reserved words to their token types.
var Keywords = map[string]Type{
	"let":     Let,
	"struct":  Struct,
	"fn":      Fn,
	"true":    True,
	"false":   False,
	"for":     For,
	"in":      In,
	"while":   While,
	"if":      If,
	"else":    Else,
	"null":    Null,
	"return":  Return,
	"self":    Self,
	"disp":    Disp,
	"spawn":   Spawn,
	"select":  Select,
	"default": Default,
	"close":   Close,
}

// LookupIdent returns the keyword type for ident, or Identifier.
func LookupIdent(ident string) Type {
	if t, ok := Keywords[ident]; ok {
		return t
	}
	return Identifier
}
