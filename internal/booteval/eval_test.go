package booteval_test

import (
	"strings"
	"testing"

	"suo.dev/suo/internal/booteval"
	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/opcode"
	"suo.dev/suo/internal/sexpr"
	"suo.dev/suo/internal/value"
)

func mustEval(t *testing.T, src string) value.Word {
	t.Helper()
	h, err := heap.New(4096)
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	rd, err := sexpr.NewReader(h, wk, strings.NewReader(src))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer rd.Close()
	raw, err := rd.Read()
	if err != nil {
		t.Fatalf("Read(%q): %v", src, err)
	}

	form, err := booteval.FromSExpr(h, raw)
	if err != nil {
		t.Fatalf("FromSExpr(%q): %v", src, err)
	}

	ev := booteval.New(h, wk)
	v, err := ev.Eval(form, value.Nil)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	return v
}

// Spec §8 end-to-end scenario 1.
func TestSumOpcode(t *testing.T) {
	v := mustEval(t, "(#@sum 1 2 3)")
	if !v.IsInt() || v.Int() != 6 {
		t.Fatalf("(#@sum 1 2 3) = %v, want 6", v)
	}
}

// Spec §8 end-to-end scenario 2.
func TestMulNestedSum(t *testing.T) {
	v := mustEval(t, "(#@mul 2 (#@sum 3 4))")
	if !v.IsInt() || v.Int() != 14 {
		t.Fatalf("(#@mul 2 (#@sum 3 4)) = %v, want 14", v)
	}
}

// Spec §8 end-to-end scenario 3.
func TestIfBranches(t *testing.T) {
	if v := mustEval(t, "(#@if #t 1 2)"); !v.IsInt() || v.Int() != 1 {
		t.Fatalf("(#@if #t 1 2) = %v, want 1", v)
	}
	if v := mustEval(t, "(#@if #f 1 2)"); !v.IsInt() || v.Int() != 2 {
		t.Fatalf("(#@if #f 1 2) = %v, want 2", v)
	}
}

func TestSumOverflowIsFatal(t *testing.T) {
	h, err := heap.New(4096)
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	defer h.Close()
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	rd, err := sexpr.NewReader(h, wk, strings.NewReader("(#@sum 536870911 1)"))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer rd.Close()
	raw, err := rd.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	form, err := booteval.FromSExpr(h, raw)
	if err != nil {
		t.Fatalf("FromSExpr: %v", err)
	}
	ev := booteval.New(h, wk)
	if _, err := ev.Eval(form, value.Nil); err == nil {
		t.Fatalf("expected overflow to be a fatal error")
	}
}

// Exercises lambda/call/set directly against the vector/env-ref shapes,
// bypassing FromSExpr (which has no notion of variables).
func TestCallAndSetUseEnvFrames(t *testing.T) {
	h, err := heap.New(8192)
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	defer h.Close()
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	envRef := func(up, n int32) value.Word {
		p, err := h.NewPair(value.MakeInt(up), value.MakeInt(n))
		if err != nil {
			t.Fatalf("NewPair: %v", err)
		}
		return p
	}
	quoteVec := func(v value.Word) value.Word {
		addr, err := h.NewVector(2)
		if err != nil {
			t.Fatalf("NewVector: %v", err)
		}
		vec := value.MakeVector(addr)
		h.VectorSet(vec, 0, value.MakeInt(int32(opcode.Quote)))
		h.VectorSet(vec, 1, v)
		return vec
	}
	opVec := func(op opcode.Op, args ...value.Word) value.Word {
		addr, err := h.NewVector(1 + len(args))
		if err != nil {
			t.Fatalf("NewVector: %v", err)
		}
		vec := value.MakeVector(addr)
		h.VectorSet(vec, 0, value.MakeInt(int32(op)))
		for i, a := range args {
			h.VectorSet(vec, 1+i, a)
		}
		return vec
	}

	// (lambda (x) ((lambda () x) (set! x (sum x 1)))) applied to 41 should
	// yield 42: the set executes as the outer call's second operand
	// (after the inner thunk closure is created but before it runs),
	// mutating the outer frame; the thunk then reads x one frame up.
	x := envRef(0, 0) // x as read directly in the outer (x-binding) frame
	setStmt := opVec(opcode.Set, envRef(0, 0), opVec(opcode.Sum, x, quoteVec(value.MakeInt(1))))
	innerLambda := opVec(opcode.Lambda, envRef(1, 0)) // (lambda () x), x one frame up from the thunk's own
	body := opVec(opcode.Call, innerLambda, setStmt)
	lambda := opVec(opcode.Lambda, body)
	callForm := opVec(opcode.Call, lambda, quoteVec(value.MakeInt(41)))

	ev := booteval.New(h, wk)
	v, err := ev.Eval(callForm, value.Nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !v.IsInt() || v.Int() != 42 {
		t.Fatalf("set!+sum result = %v, want 42", v)
	}
}
