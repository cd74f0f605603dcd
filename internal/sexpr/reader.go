package sexpr

import (
	"fmt"
	"io"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

type frameKind int32

const (
	kindOuter frameKind = iota
	kindList
	kindVector
	kindByteVector
	kindAbbrev
)

// Reader parses the textual surface syntax into heap values. Unlike a
// conventional recursive-descent parser, it drives its own construct
// nesting via a frame stack allocated as heap pairs, so host Go call
// depth never grows with input nesting depth — the reader's own state
// is exactly as GC-safe as any other heap value, rooted once for the
// duration of a Read call.
type Reader struct {
	h   *heap.Heap
	wk  *heap.WellKnown
	tok *tokenizer

	frameStack value.Word
	dotMarker  value.Word
	quoteSym   value.Word

	roots []int
}

// NewReader builds a Reader over r. wk must come from the same heap's
// Bootstrap call. The reader keeps a couple of permanent values (its
// dot marker, the quote symbol) rooted for its lifetime; call Close
// when done with it.
func NewReader(h *heap.Heap, wk *heap.WellKnown, r io.Reader) (*Reader, error) {
	marker, err := h.NewPair(value.Nil, value.Nil)
	if err != nil {
		return nil, err
	}
	quoteSym, err := h.Intern(wk, "quote")
	if err != nil {
		return nil, err
	}
	rd := &Reader{h: h, wk: wk, tok: newTokenizer(r), dotMarker: marker, quoteSym: quoteSym}
	rd.roots = []int{h.PushRoot(&rd.dotMarker), h.PushRoot(&rd.quoteSym)}
	return rd, nil
}

// Close releases the reader's permanent roots. It must be called in
// strict LIFO order relative to any other root pushed after NewReader.
func (rd *Reader) Close() {
	for i := len(rd.roots) - 1; i >= 0; i-- {
		rd.h.PopRoot(rd.roots[i])
	}
	rd.roots = nil
}

// Read parses one datum from the input stream. It returns io.EOF (with
// an Unspecified value) only when the input ends cleanly between
// datums; an end of input in the middle of a construct is a syntax
// error, per spec §4.3.
func (rd *Reader) Read() (value.Word, error) {
	h := rd.h
	rd.frameStack = value.Nil
	root := h.PushRoot(&rd.frameStack)
	defer h.PopRoot(root)

	if err := rd.push(kindOuter, value.Nil); err != nil {
		return value.Unspecified, err
	}
	depth := 1

	for {
		tk, err := rd.tok.next()
		if err != nil {
			return value.Unspecified, err
		}

		switch tk.kind {
		case tokEOF:
			if depth == 1 {
				return value.Unspecified, io.EOF
			}
			return value.Unspecified, fmt.Errorf("%w: unexpected end of input inside a construct", suoerr.ErrReaderSyntax)

		case tokOpenList:
			if err := rd.push(kindList, value.Nil); err != nil {
				return value.Unspecified, err
			}
			depth++
			continue

		case tokOpenVector:
			if err := rd.push(kindVector, value.Nil); err != nil {
				return value.Unspecified, err
			}
			depth++
			continue

		case tokOpenByteVector:
			if err := rd.push(kindByteVector, value.Nil); err != nil {
				return value.Unspecified, err
			}
			depth++
			continue

		case tokQuote:
			if err := rd.push(kindAbbrev, rd.quoteSym); err != nil {
				return value.Unspecified, err
			}
			depth++
			continue

		case tokClose:
			if depth <= 1 {
				return value.Unspecified, fmt.Errorf("%w: unbalanced closing delimiter %q", suoerr.ErrReaderSyntax, tk.text)
			}
			frame, err := rd.pop()
			if err != nil {
				return value.Unspecified, err
			}
			depth--
			v, err := rd.finish(frame)
			if err != nil {
				return value.Unspecified, err
			}
			done, result, err := rd.feed(v)
			if err != nil {
				return value.Unspecified, err
			}
			if done {
				return result, nil
			}
			continue

		case tokDot:
			if err := rd.markDot(); err != nil {
				return value.Unspecified, err
			}
			continue
		}

		// Ordinary atoms: int, symbol, string, char, boolean, or opcode.
		v, err := rd.atomValue(tk)
		if err != nil {
			return value.Unspecified, err
		}
		done, result, err := rd.feed(v)
		if err != nil {
			return value.Unspecified, err
		}
		if done {
			return result, nil
		}
	}
}

func (rd *Reader) atomValue(tk token) (value.Word, error) {
	switch tk.kind {
	case tokInt:
		return value.MakeInt(tk.ival), nil
	case tokSymbol:
		return rd.h.Intern(rd.wk, tk.text)
	case tokString:
		return rd.h.NewString(rd.wk, tk.text)
	case tokChar:
		return value.MakeChar(tk.rval), nil
	case tokBool:
		if tk.bval {
			return value.True, nil
		}
		return value.False, nil
	case tokSharpOp:
		return value.MakeInt(int32(tk.opcode)), nil
	case tokUnspec:
		return value.Unspecified, nil
	}
	return value.Unspecified, fmt.Errorf("%w: unexpected token", suoerr.ErrReaderSyntax)
}

// push allocates a new frame (kind . (extra . accum)) and makes it the
// top of the frame stack.
func (rd *Reader) push(kind frameKind, extra value.Word) error {
	h := rd.h
	var inner, frame, node value.Word
	var err error
	h.WithRoots(func() {
		inner, err = h.NewPair(extra, value.Nil)
		if err != nil {
			return
		}
		frame, err = h.NewPair(value.MakeInt(int32(kind)), inner)
		if err != nil {
			return
		}
		node, err = h.NewPair(frame, rd.frameStack)
	}, &extra, &inner, &frame)
	if err != nil {
		return err
	}
	rd.frameStack = node
	return nil
}

// pop removes and returns the top frame.
func (rd *Reader) pop() (value.Word, error) {
	if rd.frameStack == value.Nil {
		return value.Unspecified, fmt.Errorf("%w: frame stack underflow", suoerr.ErrReaderSyntax)
	}
	h := rd.h
	frame := h.Car(rd.frameStack)
	rd.frameStack = h.Cdr(rd.frameStack)
	return frame, nil
}

func (rd *Reader) frameKind(f value.Word) frameKind { return frameKind(rd.h.Car(f).Int()) }
func (rd *Reader) frameExtra(f value.Word) value.Word { return rd.h.Car(rd.h.Cdr(f)) }
func (rd *Reader) frameAccum(f value.Word) value.Word { return rd.h.Cdr(rd.h.Cdr(f)) }
func (rd *Reader) setFrameAccum(f, v value.Word)       { rd.h.SetCdr(rd.h.Cdr(f), v) }

// markDot records that the next fed value is an improper-list tail,
// by prepending the dot marker into the current top frame's
// accumulator ahead of that value.
func (rd *Reader) markDot() error {
	if rd.frameStack == value.Nil {
		return fmt.Errorf("%w: dot outside a list", suoerr.ErrReaderSyntax)
	}
	h := rd.h
	top := h.Car(rd.frameStack)
	if rd.frameKind(top) != kindList {
		return fmt.Errorf("%w: dot only valid inside a list", suoerr.ErrReaderSyntax)
	}
	var node value.Word
	var err error
	h.WithRoots(func() {
		node, err = h.NewPair(rd.dotMarker, rd.frameAccum(top))
	}, &top)
	if err != nil {
		return err
	}
	rd.setFrameAccum(top, node)
	return nil
}

// feed delivers a freshly parsed value V to the top frame. If the top
// frame is an abbrev frame, feeding its single datum immediately
// finishes it and bubbles the result up to the frame below (so nested
// abbreviations like '''x collapse in one pass). If the top frame is
// the outer sentinel, feeding its one datum completes the read.
func (rd *Reader) feed(v value.Word) (done bool, result value.Word, err error) {
	h := rd.h
	for {
		if rd.frameStack == value.Nil {
			return false, value.Unspecified, fmt.Errorf("%w: value outside any construct", suoerr.ErrReaderSyntax)
		}
		top := h.Car(rd.frameStack)
		switch rd.frameKind(top) {
		case kindOuter:
			return true, v, nil
		case kindAbbrev:
			tag := rd.frameExtra(top)
			rd.frameStack = h.Cdr(rd.frameStack) // pop
			var inner, wrapped value.Word
			var err error
			h.WithRoots(func() {
				inner, err = h.NewPair(v, value.Nil)
				if err != nil {
					return
				}
				wrapped, err = h.NewPair(tag, inner)
			}, &tag, &inner, &v)
			if err != nil {
				return false, value.Unspecified, err
			}
			v = wrapped
			continue
		default:
			node, err := h.NewPair(v, rd.frameAccum(top))
			if err != nil {
				return false, value.Unspecified, err
			}
			rd.setFrameAccum(top, node)
			return false, value.Unspecified, nil
		}
	}
}

// finish converts a popped frame's reversed accumulator into its final
// value, per the construct kind that opened it.
func (rd *Reader) finish(frame value.Word) (value.Word, error) {
	switch rd.frameKind(frame) {
	case kindList:
		return rd.finishList(rd.frameAccum(frame))
	case kindVector:
		return rd.finishVector(rd.frameAccum(frame))
	case kindByteVector:
		return rd.finishByteVector(rd.frameAccum(frame))
	}
	return value.Unspecified, fmt.Errorf("%w: unexpected closing delimiter", suoerr.ErrReaderSyntax)
}

func (rd *Reader) finishList(accum value.Word) (value.Word, error) {
	h := rd.h

	result := value.Nil
	remaining := accum
	if remaining != value.Nil && h.Cdr(remaining) != value.Nil && h.Car(h.Cdr(remaining)) == rd.dotMarker {
		result = h.Car(remaining)
		remaining = h.Cdr(h.Cdr(remaining))
	}

	var err error
	h.WithRoots(func() {
		for remaining != value.Nil {
			var p value.Word
			p, err = h.NewPair(h.Car(remaining), result)
			if err != nil {
				return
			}
			result = p
			remaining = h.Cdr(remaining)
		}
	}, &result, &remaining)
	return result, err
}

func (rd *Reader) finishVector(accum value.Word) (value.Word, error) {
	h := rd.h
	n := listLength(h, accum)

	var addr uint32
	var err error
	h.WithRoots(func() {
		addr, err = h.NewVector(n)
	}, &accum)
	if err != nil {
		return value.Unspecified, err
	}
	v := value.MakeVector(addr)

	i := n - 1
	cur := accum
	for cur != value.Nil {
		h.VectorSet(v, i, h.Car(cur))
		cur = h.Cdr(cur)
		i--
	}
	return v, nil
}

func (rd *Reader) finishByteVector(accum value.Word) (value.Word, error) {
	h := rd.h
	n := listLength(h, accum)
	data := make([]byte, n)
	i := n - 1
	cur := accum
	for cur != value.Nil {
		elem := h.Car(cur)
		if !elem.IsInt() {
			return value.Unspecified, fmt.Errorf("%w: byte-vector element must be an integer", suoerr.ErrReaderSyntax)
		}
		b := elem.Int()
		if b < 0 || b > 255 {
			return value.Unspecified, fmt.Errorf("%w: byte-vector element %d out of range", suoerr.ErrReaderSyntax, b)
		}
		data[i] = byte(b)
		cur = h.Cdr(cur)
		i--
	}
	return h.NewByteVector(data)
}

func listLength(h *heap.Heap, list value.Word) int {
	n := 0
	for list != value.Nil {
		n++
		list = h.Cdr(list)
	}
	return n
}
