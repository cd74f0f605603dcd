// Package sexpr implements the bootstrap reader and writer (spec §4.3,
// §4.4): the external, human-readable surface syntax that boots the
// self-hosted image. Both directions are non-recursive — the reader
// drives an explicit frame stack allocated on the target heap itself
// (rather than the host Go call stack), so host stack usage stays
// bounded no matter how deeply the input program nests.
package sexpr

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"suo.dev/suo/internal/opcode"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpenList
	tokOpenVector     // #(
	tokOpenByteVector // #[
	tokClose
	tokQuote // '
	tokDot
	tokInt
	tokSymbol
	tokString
	tokChar
	tokBool
	tokSharpOp // #@name, an evaluator opcode identifier
	tokUnspec  // #unspec
)

type token struct {
	kind   tokenKind
	text   string // symbol/string/sharp-op text, or the closing glyph for tokClose
	ival   int32
	rval   rune
	bval   bool
	opcode opcode.Op
}

func isDelimiter(r rune) bool {
	switch r {
	case '(', ')', '[', ']', '{', '}', '\'', ';', '"':
		return true
	}
	return r == 0
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// tokenizer turns a byte stream into the lexical tokens spec §4.3
// describes: delimiters ()[]{}';, string literals with escapes, and
// #-prefixed special forms (#t, #f, #\<char>, #(, #[, #<ident>).
type tokenizer struct {
	r *bufio.Reader
}

func newTokenizer(r io.Reader) *tokenizer {
	return &tokenizer{r: bufio.NewReader(r)}
}

func (t *tokenizer) peekRune() (rune, bool) {
	r, _, err := t.r.ReadRune()
	if err != nil {
		return 0, false
	}
	t.r.UnreadRune()
	return r, true
}

func (t *tokenizer) skipAtmosphere() error {
	for {
		r, _, err := t.r.ReadRune()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch {
		case isSpace(r):
			continue
		case r == ';':
			for {
				r, _, err := t.r.ReadRune()
				if err != nil || r == '\n' {
					break
				}
			}
			continue
		default:
			t.r.UnreadRune()
			return nil
		}
	}
}

// next returns the next lexical token. A true EOF (no pending atom,
// input simply ended) is reported as a tokEOF token, not an error;
// callers distinguish "clean end of input" from "input ended mid
// construct" by tracking open-frame depth themselves.
func (t *tokenizer) next() (token, error) {
	if err := t.skipAtmosphere(); err != nil {
		return token{}, err
	}
	r, _, err := t.r.ReadRune()
	if err == io.EOF {
		return token{kind: tokEOF}, nil
	}
	if err != nil {
		return token{}, err
	}

	switch r {
	case '(', '[', '{':
		return token{kind: tokOpenList, text: string(r)}, nil
	case ')', ']', '}':
		return token{kind: tokClose, text: string(r)}, nil
	case '\'':
		return token{kind: tokQuote}, nil
	case '"':
		return t.readString()
	case '#':
		return t.readSharp()
	}

	return t.readAtom(r)
}

func (t *tokenizer) readString() (token, error) {
	var b strings.Builder
	for {
		r, _, err := t.r.ReadRune()
		if err != nil {
			return token{}, fmt.Errorf("%w: unterminated string literal", suoerr.ErrReaderSyntax)
		}
		if r == '"' {
			return token{kind: tokString, text: b.String()}, nil
		}
		if r == '\\' {
			e, _, err := t.r.ReadRune()
			if err != nil {
				return token{}, fmt.Errorf("%w: unterminated string escape", suoerr.ErrReaderSyntax)
			}
			switch e {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			case '"', '\\':
				b.WriteRune(e)
			default:
				b.WriteRune(e)
			}
			continue
		}
		b.WriteRune(r)
	}
}

var namedChars = map[string]rune{
	"space":   ' ',
	"newline": '\n',
	"nl":      '\n',
	"tab":     '\t',
	"null":    0,
	"nul":     0,
}

func (t *tokenizer) readSharp() (token, error) {
	r, _, err := t.r.ReadRune()
	if err != nil {
		return token{}, fmt.Errorf("%w: unterminated # syntax", suoerr.ErrReaderSyntax)
	}
	switch r {
	case '(':
		return token{kind: tokOpenVector}, nil
	case '[':
		return token{kind: tokOpenByteVector}, nil
	case '\\':
		return t.readChar()
	}

	// #t, #f, or a generic #<ident> (including #@op opcode names): read
	// the run of non-delimiter characters starting at r.
	var b strings.Builder
	b.WriteRune(r)
	for {
		r, ok := t.peekRune()
		if !ok || isSpace(r) || isDelimiter(r) {
			break
		}
		t.r.ReadRune()
		b.WriteRune(r)
	}
	name := b.String()
	switch name {
	case "t":
		return token{kind: tokBool, bval: true}, nil
	case "f":
		return token{kind: tokBool, bval: false}, nil
	case "unspec":
		return token{kind: tokUnspec}, nil
	}
	if strings.HasPrefix(name, "@") {
		op, ok := opcode.Names[name[1:]]
		if !ok {
			return token{}, fmt.Errorf("%w: unknown opcode identifier #%s", suoerr.ErrReaderSyntax, name)
		}
		return token{kind: tokSharpOp, opcode: op}, nil
	}
	return token{}, fmt.Errorf("%w: unknown sharp-identifier #%s", suoerr.ErrReaderSyntax, name)
}

func (t *tokenizer) readChar() (token, error) {
	first, _, err := t.r.ReadRune()
	if err != nil {
		return token{}, fmt.Errorf("%w: unterminated character literal", suoerr.ErrReaderSyntax)
	}
	if !isAlnum(first) {
		return token{kind: tokChar, rval: first}, nil
	}
	var b strings.Builder
	b.WriteRune(first)
	for {
		r, ok := t.peekRune()
		if !ok || isSpace(r) || isDelimiter(r) {
			break
		}
		t.r.ReadRune()
		b.WriteRune(r)
	}
	name := b.String()
	if len(name) == 1 {
		return token{kind: tokChar, rval: rune(name[0])}, nil
	}
	if r, ok := namedChars[strings.ToLower(name)]; ok {
		return token{kind: tokChar, rval: r}, nil
	}
	return token{}, fmt.Errorf("%w: unknown character name #\\%s", suoerr.ErrReaderSyntax, name)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func (t *tokenizer) readAtom(first rune) (token, error) {
	var b strings.Builder
	b.WriteRune(first)
	for {
		r, ok := t.peekRune()
		if !ok || isSpace(r) || isDelimiter(r) {
			break
		}
		t.r.ReadRune()
		b.WriteRune(r)
	}
	text := b.String()
	if text == "." {
		return token{kind: tokDot}, nil
	}
	if looksLikeInt(text) {
		n, ok := parseInt(text)
		if !ok {
			return token{}, fmt.Errorf("%w: integer literal %q out of range", suoerr.ErrReaderSyntax, text)
		}
		return token{kind: tokInt, ival: n}, nil
	}
	return token{kind: tokSymbol, text: text}, nil
}

// looksLikeInt reports whether s has the shape of a signed decimal
// integer (optional sign, then at least one digit) — callers use this to
// tell "this atom is an out-of-range integer, reading fails" (spec §4.3/
// §7) apart from "this atom was never an integer, it's a symbol".
func looksLikeInt(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '+' || s[0] == '-' {
		i = 1
	}
	if i == len(s) {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseInt converts a token already known to look like a signed decimal
// integer (looksLikeInt(s) == true) into a small integer, reporting
// ok=false if the value falls outside the representable 30-bit range —
// spec §4.3: "outside the range, reading fails."
func parseInt(s string) (int32, bool) {
	i := 0
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		i = 1
	}
	var n int64
	for ; i < len(s); i++ {
		n = n*10 + int64(s[i]-'0')
		if n > math.MaxInt32 {
			return 0, false
		}
	}
	if neg {
		n = -n
	}
	if !value.IsIntInRange(n) {
		return 0, false
	}
	return int32(n), true
}
