package sexpr

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/value"
)

type writeFrameKind int

const (
	frPair writeFrameKind = iota
	frVector
	frCloseParen
)

type writeFrame struct {
	kind writeFrameKind
	v    value.Word // the pair or vector this frame walks
	idx  int        // vector frame's current element index
}

// Writer prints heap values in the same surface syntax Read accepts.
// Like Reader, it avoids host recursion: pairs and vectors are walked
// with an explicit frame stack rather than a recursive print function,
// so printing does not grow the Go call stack with the value's nesting
// depth.
type Writer struct {
	h  *heap.Heap
	wk *heap.WellKnown
	w  io.Writer
}

func NewWriter(h *heap.Heap, wk *heap.WellKnown, w io.Writer) *Writer {
	return &Writer{h: h, wk: wk, w: w}
}

// Write prints v to the underlying io.Writer.
func (wr *Writer) Write(v value.Word) error {
	var stack []writeFrame
	cur := v
	pushing := true // whether cur still needs to be opened/printed

	for {
		if pushing {
			next, atom, err := wr.open(&stack, cur)
			if err != nil {
				return err
			}
			if !atom {
				cur = next
				continue
			}
			pushing = false
		}

		if len(stack) == 0 {
			return nil
		}
		top := &stack[len(stack)-1]

		switch top.kind {
		case frCloseParen:
			if err := wr.puts(")"); err != nil {
				return err
			}
			stack = stack[:len(stack)-1]

		case frPair:
			rest := wr.h.Cdr(top.v)
			switch {
			case rest == value.Nil:
				if err := wr.puts(")"); err != nil {
					return err
				}
				stack = stack[:len(stack)-1]
			case rest.IsPair():
				if err := wr.puts(" "); err != nil {
					return err
				}
				top.v = rest
				cur = wr.h.Car(rest)
				pushing = true
			default:
				if err := wr.puts(" . "); err != nil {
					return err
				}
				stack[len(stack)-1] = writeFrame{kind: frCloseParen}
				cur = rest
				pushing = true
			}

		case frVector:
			top.idx++
			if top.idx >= wr.h.VectorLength(top.v) {
				if err := wr.puts(")"); err != nil {
					return err
				}
				stack = stack[:len(stack)-1]
			} else {
				if err := wr.puts(" "); err != nil {
					return err
				}
				cur = wr.h.VectorRef(top.v, top.idx)
				pushing = true
			}
		}
	}
}

// open prints the leading token(s) for cur. If cur is an atom, it
// prints the whole value and reports atom=true. If cur is a container
// (pair or non-empty vector), it prints the opening delimiter, pushes
// a continuation frame recording where to resume, and returns the
// first child as next with atom=false — Write's loop then continues
// with that child itself, rather than open calling itself again, so a
// chain of nested openers never grows the Go call stack.
func (wr *Writer) open(stack *[]writeFrame, cur value.Word) (next value.Word, atom bool, err error) {
	h := wr.h
	switch {
	case cur == value.Nil:
		return value.Unspecified, true, wr.puts("()")
	case cur == value.Unspecified:
		return value.Unspecified, true, wr.puts("#unspec")
	case cur.IsBoolean():
		if cur.Truthy() {
			return value.Unspecified, true, wr.puts("#t")
		}
		return value.Unspecified, true, wr.puts("#f")
	case cur.IsInt():
		return value.Unspecified, true, wr.puts(strconv.FormatInt(int64(cur.Int()), 10))
	case cur.IsChar():
		return value.Unspecified, true, wr.puts(formatChar(cur.Char()))
	case cur.IsPair():
		if err := wr.puts("("); err != nil {
			return value.Unspecified, true, err
		}
		*stack = append(*stack, writeFrame{kind: frPair, v: cur})
		return h.Car(cur), false, nil
	case cur.IsVector():
		n := h.VectorLength(cur)
		if err := wr.puts("#("); err != nil {
			return value.Unspecified, true, err
		}
		if n == 0 {
			return value.Unspecified, true, wr.puts(")")
		}
		*stack = append(*stack, writeFrame{kind: frVector, v: cur, idx: 0})
		return h.VectorRef(cur, 0), false, nil
	case cur.IsBytesPtr():
		return value.Unspecified, true, wr.writeBytesLike(cur)
	case cur.IsRecord():
		return value.Unspecified, true, wr.writeRecord(cur)
	default:
		return value.Unspecified, true, fmt.Errorf("sexpr: write: value %#x has no printable form", uint32(cur))
	}
}

func (wr *Writer) writeBytesLike(cur value.Word) error {
	h := wr.h
	w := h.Word(cur.Addr())
	switch {
	case w.IsByteVectorHeader():
		data := h.ByteVectorBytes(cur)
		var b strings.Builder
		b.WriteString("#[")
		for i, c := range data {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
		b.WriteByte(']')
		return wr.puts(b.String())
	case w.IsCodeBlockHeader():
		return wr.puts(fmt.Sprintf("#<code-block %d bytes>", w.CodeBlockByteLength()))
	}
	return fmt.Errorf("sexpr: write: unrecognised byte-tagged header")
}

func (wr *Writer) writeRecord(cur value.Word) error {
	h := wr.h
	wk := wr.wk
	switch {
	case h.IsString(wk, cur):
		return wr.puts(quoteString(h.StringGo(cur)))
	case h.IsSymbol(wk, cur):
		return wr.puts(h.SymbolName(cur))
	case h.IsInstanceOf(cur, wk.RecordTypeType):
		return wr.puts(fmt.Sprintf("#<record-type %d>", h.RecordFieldCount(cur)))
	}
	return wr.puts(fmt.Sprintf("#<record @%d>", cur.Addr()))
}

func (wr *Writer) puts(s string) error {
	_, err := io.WriteString(wr.w, s)
	return err
}

var charNames = map[rune]string{
	' ':  "space",
	'\n': "newline",
	'\t': "tab",
	0:    "null",
}

func formatChar(r rune) string {
	if name, ok := charNames[r]; ok {
		return "#\\" + name
	}
	return "#\\" + string(r)
}

// quoteString prints s the way spec §4.4 requires: non-printable bytes
// escaped as \xNN, not as a per-character named escape (\n, \t, ...). It
// walks bytes, not runes, since the escape is defined over the string's
// byte-vector payload.
func quoteString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				fmt.Fprintf(&b, `\x%02x`, c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
