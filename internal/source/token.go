package source

import (
	"fmt"
	"strings"

	"github.com/roach88/cxxada/internal/ir"
)

// TokenKind classifies lexical tokens.
type TokenKind int

const (
	EOF TokenKind = iota
	Ident
	Number
	String
	Char
	Punct
)

func (k TokenKind) String() string {
	switch k {
	case EOF:
		return "end of file"
	case Ident:
		return "identifier"
	case Number:
		return "number"
	case String:
		return "string"
	case Char:
		return "character"
	case Punct:
		return "punctuator"
	}
	return "unknown"
}

// Token is one lexical token. Space records whether whitespace or a comment
// preceded it, which distinguishes ">>" (a shift) from "> >".
type Token struct {
	Kind  TokenKind
	Text  string
	Loc   ir.Location
	Space bool
}

func (t Token) String() string {
	if t.Kind == EOF {
		return "end of file"
	}
	return fmt.Sprintf("%q", t.Text)
}

// Is reports whether t is the punctuator or identifier text.
func (t Token) Is(text string) bool {
	return (t.Kind == Punct || t.Kind == Ident) && t.Text == text
}

// Punctuators, longest first. '>' is never combined with a following '>'
// so that nested template argument lists close one level at a time.
var puncts = []string{
	"...", "<<=", "->*", "<=>",
	"::", "->", "++", "--", "<<", "<=", ">=", "==", "!=", "&&", "||",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", ".*",
	"{", "}", "[", "]", "(", ")", ";", ":", ",", ".", "?",
	"+", "-", "*", "/", "%", "^", "&", "|", "~", "!", "=", "<", ">", "#",
}

// Lex splits a header into tokens. Comments and preprocessor lines
// (including backslash continuations) are skipped.
func Lex(file string, src []byte) ([]Token, error) {
	l := &lexer{file: file, src: src, line: 1, col: 1, bol: true}
	return l.run()
}

type lexer struct {
	file  string
	src   []byte
	pos   int
	line  int
	col   int
	bol   bool // only whitespace seen since the last newline
	space bool
	toks  []Token
}

func (l *lexer) loc() ir.Location {
	return ir.Location{File: l.file, Line: l.line, Column: l.col}
}

func (l *lexer) peekAt(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.src); i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
			l.bol = true
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *lexer) emit(kind TokenKind, start int, loc ir.Location) {
	l.toks = append(l.toks, Token{Kind: kind, Text: string(l.src[start:l.pos]), Loc: loc, Space: l.space})
	l.space = false
	l.bol = false
}

func (l *lexer) run() ([]Token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n' || c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			l.space = true
			l.advance(1)
		case c == '/' && l.peekAt(1) == '/':
			l.skipLine()
		case c == '/' && l.peekAt(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return nil, err
			}
		case c == '#' && l.bol:
			l.skipDirective()
		case isIdentStart(c):
			if err := l.lexIdent(); err != nil {
				return nil, err
			}
		case isDigit(c) || (c == '.' && isDigit(l.peekAt(1))):
			l.lexNumber()
		case c == '"':
			if err := l.lexQuoted(l.pos, l.loc(), '"', String); err != nil {
				return nil, err
			}
		case c == '\'':
			if err := l.lexQuoted(l.pos, l.loc(), '\'', Char); err != nil {
				return nil, err
			}
		default:
			if !l.lexPunct() {
				return nil, &ParseError{Loc: l.loc(), Msg: fmt.Sprintf("unexpected character %q", c)}
			}
		}
	}
	l.toks = append(l.toks, Token{Kind: EOF, Loc: l.loc(), Space: true})
	return l.toks, nil
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.advance(1)
	}
	l.space = true
}

func (l *lexer) skipBlockComment() error {
	start := l.loc()
	l.advance(2)
	for l.pos < len(l.src) {
		if l.src[l.pos] == '*' && l.peekAt(1) == '/' {
			l.advance(2)
			l.space = true
			return nil
		}
		l.advance(1)
	}
	return &ParseError{Loc: start, Msg: "unterminated comment"}
}

// skipDirective drops a preprocessor line and its continuations.
func (l *lexer) skipDirective() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && (l.peekAt(1) == '\n' || (l.peekAt(1) == '\r' && l.peekAt(2) == '\n')) {
			l.advance(2)
			continue
		}
		if c == '/' && l.peekAt(1) == '*' {
			if l.skipBlockComment() != nil {
				return
			}
			continue
		}
		if c == '\n' {
			break
		}
		l.advance(1)
	}
	l.space = true
}

func (l *lexer) lexIdent() error {
	start, loc := l.pos, l.loc()
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.advance(1)
	}
	// Encoding prefixes: L'x', u8"s", ...
	switch string(l.src[start:l.pos]) {
	case "L", "u", "U", "u8":
		if q := l.peekAt(0); q == '"' || q == '\'' {
			kind := String
			if q == '\'' {
				kind = Char
			}
			return l.lexQuoted(start, loc, q, kind)
		}
	}
	l.emit(Ident, start, loc)
	return nil
}

func (l *lexer) lexNumber() {
	start, loc := l.pos, l.loc()
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isIdentPart(c) || c == '.':
			l.advance(1)
		case c == '\'' && isIdentPart(l.peekAt(1)):
			l.advance(1) // digit separator
		case (c == '+' || c == '-') && l.pos > start && strings.ContainsRune("eEpP", rune(l.src[l.pos-1])) && !isHexPrefixed(l.src[start:l.pos]):
			l.advance(1)
		default:
			l.emit(Number, start, loc)
			return
		}
	}
	l.emit(Number, start, loc)
}

func isHexPrefixed(b []byte) bool {
	return len(b) > 1 && b[0] == '0' && (b[1] == 'x' || b[1] == 'X') && !strings.ContainsAny(string(b), "pP")
}

func (l *lexer) lexQuoted(start int, loc ir.Location, quote byte, kind TokenKind) error {
	l.advance(1)
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case '\\':
			l.advance(2)
			continue
		case '\n':
			return &ParseError{Loc: loc, Msg: "unterminated literal"}
		case quote:
			l.advance(1)
			l.emit(kind, start, loc)
			return nil
		}
		l.advance(1)
	}
	return &ParseError{Loc: loc, Msg: "unterminated literal"}
}

func (l *lexer) lexPunct() bool {
	rest := l.src[l.pos:]
	for _, p := range puncts {
		if len(rest) >= len(p) && string(rest[:len(p)]) == p {
			start, loc := l.pos, l.loc()
			l.advance(len(p))
			l.emit(Punct, start, loc)
			return true
		}
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
