package sexpr_test

import (
	"io"
	"strings"
	"testing"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/sexpr"
	"suo.dev/suo/internal/value"
)

func newReader(t *testing.T, text string) (*heap.Heap, *heap.WellKnown, *sexpr.Reader) {
	t.Helper()
	h, err := heap.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	rd, err := sexpr.NewReader(h, wk, strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rd.Close)
	return h, wk, rd
}

func TestReadInt(t *testing.T) {
	_, _, rd := newReader(t, "42")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsInt() || v.Int() != 42 {
		t.Errorf("got %v, want 42", v)
	}
}

func TestReadNegativeInt(t *testing.T) {
	_, _, rd := newReader(t, "-7")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != -7 {
		t.Errorf("got %d, want -7", v.Int())
	}
}

func TestReadSymbol(t *testing.T) {
	h, _, rd := newReader(t, "foo-bar?")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got := h.SymbolName(v); got != "foo-bar?" {
		t.Errorf("got %q, want foo-bar?", got)
	}
}

func TestReadString(t *testing.T) {
	h, _, rd := newReader(t, `"hello\nworld"`)
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got := h.StringGo(v); got != "hello\nworld" {
		t.Errorf("got %q", got)
	}
}

func TestReadBooleansAndChars(t *testing.T) {
	h, _, rd := newReader(t, "#t #f #\\a #\\space")
	vals := readAll(t, rd)
	if len(vals) != 4 {
		t.Fatalf("got %d values, want 4", len(vals))
	}
	if !vals[0].Truthy() || vals[1].Truthy() {
		t.Errorf("boolean values wrong: %v %v", vals[0], vals[1])
	}
	if vals[2].Char() != 'a' {
		t.Errorf("char wrong: %v", vals[2].Char())
	}
	if vals[3].Char() != ' ' {
		t.Errorf("named char wrong: %v", vals[3].Char())
	}
	_ = h
}

func TestReadProperList(t *testing.T) {
	h, _, rd := newReader(t, "(1 2 3)")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	var got []int32
	for v != value.Nil {
		got = append(got, h.Car(v).Int())
		v = h.Cdr(v)
	}
	want := []int32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestReadImproperList(t *testing.T) {
	h, _, rd := newReader(t, "(1 . 2)")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsPair() {
		t.Fatal("expected a pair")
	}
	if h.Car(v).Int() != 1 || h.Cdr(v).Int() != 2 {
		t.Errorf("got (%d . %d), want (1 . 2)", h.Car(v).Int(), h.Cdr(v).Int())
	}
}

func TestReadNestedList(t *testing.T) {
	h, _, rd := newReader(t, "(1 (2 3) 4)")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if h.Car(v).Int() != 1 {
		t.Fatalf("first element: got %d, want 1", h.Car(v).Int())
	}
	inner := h.Car(h.Cdr(v))
	if !inner.IsPair() || h.Car(inner).Int() != 2 || h.Car(h.Cdr(inner)).Int() != 3 {
		t.Errorf("inner list wrong: %v", inner)
	}
	if h.Car(h.Cdr(h.Cdr(v))).Int() != 4 {
		t.Errorf("third element wrong")
	}
}

func TestReadVector(t *testing.T) {
	h, _, rd := newReader(t, "#(1 2 3)")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsVector() || h.VectorLength(v) != 3 {
		t.Fatalf("expected a 3-element vector, got %v", v)
	}
	for i, want := range []int32{1, 2, 3} {
		if got := h.VectorRef(v, i).Int(); got != want {
			t.Errorf("element %d: got %d, want %d", i, got, want)
		}
	}
}

func TestReadEmptyVector(t *testing.T) {
	h, _, rd := newReader(t, "#()")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsVector() || h.VectorLength(v) != 0 {
		t.Fatalf("expected an empty vector, got %v", v)
	}
}

func TestReadByteVector(t *testing.T) {
	h, _, rd := newReader(t, "#[1 2 255]")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsBytesPtr() || h.ByteVectorLength(v) != 3 {
		t.Fatalf("expected a 3-byte byte-vector, got %v", v)
	}
	data := h.ByteVectorBytes(v)
	if data[0] != 1 || data[1] != 2 || data[2] != 255 {
		t.Errorf("bytes wrong: %v", data)
	}
}

func TestReadQuoteAbbrev(t *testing.T) {
	h, wk, rd := newReader(t, "'foo")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsPair() {
		t.Fatal("expected (quote foo)")
	}
	if !h.IsSymbol(wk, h.Car(v)) || h.SymbolName(h.Car(v)) != "quote" {
		t.Errorf("head of abbrev expansion is not the quote symbol")
	}
	if h.SymbolName(h.Car(h.Cdr(v))) != "foo" {
		t.Errorf("abbrev payload wrong")
	}
}

func TestReadNestedQuoteAbbrev(t *testing.T) {
	h, wk, rd := newReader(t, "''foo")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	// (quote (quote foo))
	if h.SymbolName(h.Car(v)) != "quote" {
		t.Fatal("outer head is not quote")
	}
	inner := h.Car(h.Cdr(v))
	if h.SymbolName(h.Car(inner)) != "quote" {
		t.Fatal("inner head is not quote")
	}
	if h.SymbolName(h.Car(h.Cdr(inner))) != "foo" {
		t.Fatal("innermost payload is not foo")
	}
	_ = wk
}

func TestReadOpcode(t *testing.T) {
	_, _, rd := newReader(t, "#@if")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsInt() || v.Int() != 0 { // opcode.If == 0
		t.Errorf("got %v, want opcode 0 (if)", v)
	}
}

func TestReadUnknownOpcodeIsSyntaxError(t *testing.T) {
	_, _, rd := newReader(t, "#@bogus")
	if _, err := rd.Read(); err == nil {
		t.Fatal("expected a syntax error for an unknown opcode identifier")
	}
}

func TestReadOutOfRangeIntIsSyntaxError(t *testing.T) {
	_, _, rd := newReader(t, "1000000000")
	if _, err := rd.Read(); err == nil {
		t.Fatal("expected a syntax error for an out-of-range integer literal")
	}
}

func TestReadUnspec(t *testing.T) {
	_, _, rd := newReader(t, "#unspec")
	v, err := rd.Read()
	if err != nil {
		t.Fatal(err)
	}
	if v != value.Unspecified {
		t.Errorf("got %v, want unspecified", v)
	}
}

func TestReadCleanEOF(t *testing.T) {
	_, _, rd := newReader(t, "   ")
	if _, err := rd.Read(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestReadPrematureEOFIsError(t *testing.T) {
	_, _, rd := newReader(t, "(1 2")
	if _, err := rd.Read(); err == nil {
		t.Fatal("expected an error for input ending mid-construct")
	}
}

func TestReadUnbalancedCloseIsError(t *testing.T) {
	_, _, rd := newReader(t, ")")
	if _, err := rd.Read(); err == nil {
		t.Fatal("expected an error for an unbalanced closing delimiter")
	}
}

func TestReadSequenceAdvancesThroughMultipleForms(t *testing.T) {
	h, _, rd := newReader(t, "1 2 3")
	vals := readAll(t, rd)
	if len(vals) != 3 {
		t.Fatalf("got %d forms, want 3", len(vals))
	}
	for i, want := range []int32{1, 2, 3} {
		if vals[i].Int() != want {
			t.Errorf("form %d: got %d, want %d", i, vals[i].Int(), want)
		}
	}
	_ = h
}

func readAll(t *testing.T, rd *sexpr.Reader) []value.Word {
	t.Helper()
	var out []value.Word
	for {
		v, err := rd.Read()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, v)
	}
}
