package asm

import (
	"fmt"
	"math/big"
)

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	// Literals
	IDENTIFIER // plain name
	DOT_ID     // dotted name, possibly with leading namespace dots
	NUMBER     // integer literal (decimal, hex, binary or char)
	STRING     // string literal "..."

	// Keywords
	DEF     // "def"
	NS      // "ns"
	REP     // "rep"
	SEGMENT // "segment"
	RESERVE // "reserve"
	PAD     // "pad"
	INCLUDE // "include"

	// Paired delimiters
	LBRACE // {
	RBRACE // }
	LPAREN // (
	RPAREN // )

	// Punctuation
	SEMICOLON // ;  (the flip/jump separator)
	COMMA     // ,
	COLON     // :
	NEWLINE   // end of statement
	ASSIGN    // =
	DOLLAR    // $

	// Operators
	PLUS    // +
	MINUS   // -
	STAR    // *
	SLASH   // /
	PERCENT // %
	AMP     // &
	PIPE    // |
	CARET   // ^
	TILDE   // ~
	HASH    // #  (bit length)
	SHL     // <<
	SHR     // >>
	LESS    // <  (also opens the label-in param list)
	GREATER // >  (also opens the label-out param list)
	LESS_EQ
	GREATER_EQ
	EQUALS // ==
	NOT_EQ // !=
	QUEST  // ?
)

var tokenNames = [...]string{
	EOF:        "EOF",
	IDENTIFIER: "IDENTIFIER",
	DOT_ID:     "DOT_ID",
	NUMBER:     "NUMBER",
	STRING:     "STRING",
	DEF:        "DEF",
	NS:         "NS",
	REP:        "REP",
	SEGMENT:    "SEGMENT",
	RESERVE:    "RESERVE",
	PAD:        "PAD",
	INCLUDE:    "INCLUDE",
	LBRACE:     "LBRACE",
	RBRACE:     "RBRACE",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	SEMICOLON:  "SEMICOLON",
	COMMA:      "COMMA",
	COLON:      "COLON",
	NEWLINE:    "NEWLINE",
	ASSIGN:     "ASSIGN",
	DOLLAR:     "DOLLAR",
	PLUS:       "PLUS",
	MINUS:      "MINUS",
	STAR:       "STAR",
	SLASH:      "SLASH",
	PERCENT:    "PERCENT",
	AMP:        "AMP",
	PIPE:       "PIPE",
	CARET:      "CARET",
	TILDE:      "TILDE",
	HASH:       "HASH",
	SHL:        "SHL",
	SHR:        "SHR",
	LESS:       "LESS",
	GREATER:    "GREATER",
	LESS_EQ:    "LESS_EQ",
	GREATER_EQ: "GREATER_EQ",
	EQUALS:     "EQUALS",
	NOT_EQ:     "NOT_EQ",
	QUEST:      "QUEST",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// keywords maps source text to its keyword TokenType.
var keywords = map[string]TokenType{
	"def":     DEF,
	"ns":      NS,
	"rep":     REP,
	"segment": SEGMENT,
	"reserve": RESERVE,
	"pad":     PAD,
	"include": INCLUDE,
}

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type   TokenType
	Lexeme string   // the exact source text that was matched
	Num    *big.Int // value of a NUMBER token
	Bytes  []byte   // decoded bytes of a STRING token
	Line   int      // 1-based source line
	Col    int      // 1-based source column
}

func (t Token) String() string {
	return fmt.Sprintf("%-10s %-14q  line %d", t.Type, t.Lexeme, t.Line)
}
