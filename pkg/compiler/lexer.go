package compiler

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent     // Opcode names and labels
	TokenInt       // Integer literals (decimal or 0x hex)
	TokenComma     // ,
	TokenColon     // : (for labels)
	TokenReg       // r0-r31
	TokenConst     // #name or #index
	TokenDirective // .org, .word
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenInt:
		return "INT"
	case TokenComma:
		return "COMMA"
	case TokenColon:
		return "COLON"
	case TokenReg:
		return "REG"
	case TokenConst:
		return "CONST"
	case TokenDirective:
		return "DIRECTIVE"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer tokenizes engine microcode assembly.
type Lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		pos:    0,
		line:   1,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.tokens = append(l.tokens, Token{Type: TokenNewline, Value: "\n", Line: l.line})
			l.line++
			l.pos++

		case ch == ';':
			// Comment runs to end of line
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.tokens = append(l.tokens, Token{Type: TokenComma, Value: ",", Line: l.line})
			l.pos++

		case ch == ':':
			l.tokens = append(l.tokens, Token{Type: TokenColon, Value: ":", Line: l.line})
			l.pos++

		case ch == '#':
			l.pos++
			l.tokens = append(l.tokens, Token{Type: TokenConst, Value: l.scanWord(), Line: l.line})

		case ch == '.':
			l.pos++
			l.tokens = append(l.tokens, Token{Type: TokenDirective, Value: "." + strings.ToLower(l.scanWord()), Line: l.line})

		case ch == '-' || ch == '+' || unicode.IsDigit(rune(ch)):
			l.scanNumber()

		case unicode.IsLetter(rune(ch)) || ch == '_':
			l.scanIdentOrRegister()

		default:
			// Unknown character, skip it
			l.pos++
		}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Value: "", Line: l.line})
	return l.tokens
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

func (l *Lexer) scanWord() string {
	start := l.pos
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}
	return l.input[start:l.pos]
}

func (l *Lexer) scanNumber() {
	start := l.pos

	if l.input[l.pos] == '-' || l.input[l.pos] == '+' {
		l.pos++
	}

	// Digits, hex prefix and hex digits
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		l.pos++
	}

	l.tokens = append(l.tokens, Token{Type: TokenInt, Value: l.input[start:l.pos], Line: l.line})
}

func (l *Lexer) scanIdentOrRegister() {
	value := l.scanWord()
	l.tokens = append(l.tokens, Token{Type: classifyIdentOrRegister(value), Value: value, Line: l.line})
}

func classifyIdentOrRegister(value string) TokenType {
	if len(value) < 2 || (value[0] != 'r' && value[0] != 'R') {
		return TokenIdent
	}
	for i := 1; i < len(value); i++ {
		if !unicode.IsDigit(rune(value[i])) {
			return TokenIdent
		}
	}
	return TokenReg
}

func isWordChar(ch byte) bool {
	return unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_'
}
