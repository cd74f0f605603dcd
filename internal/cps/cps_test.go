package cps_test

import (
	"testing"

	"suo.dev/suo/internal/cps"
)

// lambda builds the top-level (:lambda (params...) body...) program
// shape every Convert call requires.
func lambda(params []string, body ...cps.Expr) *cps.LambdaExpr {
	return &cps.LambdaExpr{Params: params, Body: body}
}

func mustConvert(t *testing.T, e cps.Expr) cps.Node {
	t.Helper()
	c := cps.NewConverter(nil)
	n, err := c.Convert(e)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	return n
}

func countFuncs(n cps.Node) int {
	count := 0
	var walk func(cps.Node)
	walk = func(n cps.Node) {
		switch t := n.(type) {
		case *cps.Fun:
			count++
			walk(t.F.Body)
			walk(t.Cont)
		case *cps.Fix:
			for _, f := range t.Funcs {
				count++
				walk(f.Body)
			}
			walk(t.Body)
		case *cps.App:
			walk(t.Func)
			for _, a := range t.Args {
				walk(a)
			}
		case *cps.Primop:
			for _, a := range t.Args {
				walk(a)
			}
			for _, c := range t.Conts {
				walk(c)
			}
		}
	}
	walk(n)
	return count
}

// Top-level program must convert to a fun whose continuation is the
// terminal bottom primop (spec §4.7).
func TestConvertTopLevelShape(t *testing.T) {
	n := mustConvert(t, lambda([]string{"x"}, &cps.Sym{Name: "x"}))
	fun, ok := n.(*cps.Fun)
	if !ok {
		t.Fatalf("Convert result is %T, want *Fun", n)
	}
	pm, ok := fun.Cont.(*cps.Primop)
	if !ok || pm.Op != cps.PrimBottom {
		t.Fatalf("Convert top-level continuation = %#v, want bottom primop", fun.Cont)
	}
	if len(fun.F.Params) != 2 { // continuation param + x
		t.Fatalf("lambda has %d params, want 2 (cont, x)", len(fun.F.Params))
	}
}

func TestConvertRejectsNonLambdaTop(t *testing.T) {
	c := cps.NewConverter(nil)
	if _, err := c.Convert(&cps.Lit{Value: int64(1)}); err == nil {
		t.Fatal("expected an error converting a non-lambda top-level form")
	}
}

// Spec §8 scenario 7: (:lambda (x) x) — identity. Its single nested
// reference to x must resolve via the function's own parameter, with
// no free variables once the program is a single closed function.
func TestIdentityLambdaHasNoFreeVars(t *testing.T) {
	n := mustConvert(t, lambda([]string{"x"}, &cps.Sym{Name: "x"}))
	conv := cps.ConvertClosures(n)
	fun, ok := conv.(*cps.Fun)
	if !ok {
		t.Fatalf("ConvertClosures result is %T, want *Fun", conv)
	}
	a := cps.NewAnalysis()
	if free := a.Free(fun.F); len(free) != 0 {
		t.Fatalf("Free(lambda) after closure conversion = %v, want empty", free)
	}
}

// Spec §8 scenario 8: (:lambda (x) (:set x 1) x) — boxed parameter
// mutated then read back. x is a parameter, so it is boxed by
// convLambda; the set must emit a box-set and the final read a
// box-ref, and closure conversion must still leave the function
// closed.
func TestSetThenReadBoxedParam(t *testing.T) {
	n := mustConvert(t, lambda([]string{"x"},
		&cps.SetExpr{Name: "x", Value: &cps.Lit{Value: int64(1)}},
		&cps.Sym{Name: "x"},
	))
	fun := n.(*cps.Fun)

	var sawBoxSet, sawBoxRef bool
	var walk func(cps.Node)
	walk = func(node cps.Node) {
		switch t := node.(type) {
		case *cps.Primop:
			if t.Op == cps.PrimBoxSet {
				sawBoxSet = true
			}
			if t.Op == cps.PrimBoxRef {
				sawBoxRef = true
			}
			for _, a := range t.Args {
				walk(a)
			}
			for _, c := range t.Conts {
				walk(c)
			}
		case *cps.App:
			walk(t.Func)
			for _, a := range t.Args {
				walk(a)
			}
		case *cps.Fun:
			walk(t.F.Body)
			walk(t.Cont)
		}
	}
	walk(fun.F.Body)
	if !sawBoxSet {
		t.Error("expected a box-set primop for the :set of a boxed parameter")
	}
	if !sawBoxRef {
		t.Error("expected a box-ref primop reading x back")
	}

	conv := cps.ConvertClosures(n)
	a := cps.NewAnalysis()
	if free := a.Free(conv.(*cps.Fun).F); len(free) != 0 {
		t.Fatalf("Free(lambda) after closure conversion = %v, want empty", free)
	}
}

// A lambda nested inside another that references the outer's parameter:
// after closure conversion the outer function has no free variables and
// both lambdas remain as functions in the tree.
func TestNestedLambdaCapturesOuterParam(t *testing.T) {
	inner := &cps.LambdaExpr{Body: []cps.Expr{&cps.Sym{Name: "x"}}}
	n := mustConvert(t, lambda([]string{"x"}, inner))

	conv := cps.ConvertClosures(n)
	outer := conv.(*cps.Fun)
	a := cps.NewAnalysis()
	if free := a.Free(outer.F); len(free) != 0 {
		t.Fatalf("Free(outer lambda) = %v, want empty", free)
	}

	// The converted tree holds exactly two functions: the outer lambda
	// and the inner one nested in its body.
	if n := countFuncs(conv); n != 2 {
		t.Fatalf("closure-converted tree has %d Fun/Fix functions, want 2 (outer + inner)", n)
	}
}

// Register allocation must number each func's own scope from 1 (0
// reserved) independently of any enclosing scope's numbering.
func TestRegisterAllocationStartsAtOnePerFunc(t *testing.T) {
	n := mustConvert(t, lambda([]string{"x", "y"}, &cps.Sym{Name: "x"}))
	conv := cps.ConvertClosures(n)
	allocated := cps.AllocateRegisters(conv)

	fun, ok := allocated.(*cps.Fun)
	if !ok {
		t.Fatalf("AllocateRegisters result is %T, want *Fun", allocated)
	}
	for i, p := range fun.F.Params {
		if p.ID != i+1 {
			t.Errorf("param %d has register %d, want %d", i, p.ID, i+1)
		}
	}
}

// Every reference occurrence left after register allocation must be a
// Reg, never a bare Var (spec §4.10: "rewriting every surviving Var
// into one") — except a record-make primop's code argument, which
// closure conversion deliberately leaves as a *Var so codegen can
// substitute the generated code value by pointer identity once it knows
// it (see regalloc.go's renumberFun).
func TestNoVarReferencesSurviveRegisterAllocation(t *testing.T) {
	n := mustConvert(t, lambda([]string{"x"},
		&cps.SetExpr{Name: "x", Value: &cps.Lit{Value: int64(1)}},
		&cps.Sym{Name: "x"},
	))
	conv := cps.ConvertClosures(n)
	allocated := cps.AllocateRegisters(conv)

	var bad bool
	var walk func(cps.Node)
	walk = func(node cps.Node) {
		switch t := node.(type) {
		case *cps.Var:
			bad = true
		case *cps.App:
			walk(t.Func)
			for _, a := range t.Args {
				walk(a)
			}
		case *cps.Primop:
			for i, a := range t.Args {
				if t.Op == cps.PrimRecordMake && i == 0 {
					continue // the func-label, resolved by codegen
				}
				walk(a)
			}
			for _, c := range t.Conts {
				walk(c)
			}
		case *cps.Fun:
			for _, p := range t.F.Params {
				_ = p // binding occurrences remain *Var by type; not a reference
			}
			walk(t.F.Body)
			walk(t.Cont)
		}
	}
	walk(allocated)
	if bad {
		t.Fatal("found a bare *Var reference after register allocation outside a record-make's func-label slot")
	}
}

// testExpander is a minimal Expander used to exercise the macro-lookup
// hook in convCall.
type testExpander struct {
	name string
	to   cps.Expr
}

func (e *testExpander) Expand(head string, args []cps.Expr) (cps.Expr, bool, error) {
	if head == e.name {
		return e.to, true, nil
	}
	return nil, false, nil
}

func TestUnknownCallHeadIsMacroExpanded(t *testing.T) {
	exp := &testExpander{name: "double", to: &cps.Lit{Value: int64(42)}}
	c := cps.NewConverter(exp)
	n, err := c.Convert(lambda(nil, &cps.CallExpr{Fn: &cps.Sym{Name: "double"}, Args: []cps.Expr{&cps.Lit{Value: int64(1)}}}))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	fun := n.(*cps.Fun)
	// The body should bottom out directly in an App to the lambda's own
	// continuation parameter carrying the expanded literal, never a
	// variable-ref primop for "double".
	var sawVarRef bool
	var walk func(cps.Node)
	walk = func(node cps.Node) {
		if pm, ok := node.(*cps.Primop); ok {
			if pm.Op == cps.PrimVarRef {
				sawVarRef = true
			}
			for _, c := range pm.Conts {
				walk(c)
			}
		}
	}
	walk(fun.F.Body)
	if sawVarRef {
		t.Fatal("macro-expanded call head should not leave a variable-ref for the macro name")
	}
}
