// Package codegen implements spec §4.11's code-generation driver: a
// backend-agnostic walk over register-allocated CPS that drives an
// abstract assembler context (Ctxt) through the eight operations the
// spec names. No concrete Ctxt lives here — spec.md calls the real
// machine-code assembler an out-of-scope external collaborator — but
// internal/vmasm provides one so the driver has somewhere to run.
package codegen

import (
	"fmt"

	"suo.dev/suo/internal/cps"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

// Context and Label are opaque handles a Ctxt implementation defines
// the concrete shape of; the driver only ever threads them back into
// further Ctxt calls, never inspects them.
type Context any
type Label any

// Ctxt is spec §4.11's external assembler context, named there as
// make-context/finish/make-label/def-label/prologue/shuffle/go/primop.
type Ctxt interface {
	// MakeContext opens a fresh buffer for one func's code, given its
	// calling signature (2*argc - (1 if rest), per spec §4.11).
	MakeContext(name string, signature int) Context
	// Finish closes ctx and returns the code block value it produced.
	Finish(ctx Context) (value.Word, error)
	// MakeLabel allocates a forward-reference label, not yet bound to
	// a position.
	MakeLabel() Label
	// DefLabel binds l to the current end of ctx's instruction stream.
	DefLabel(ctx Context, l Label)
	// Prologue emits the entry sequence declaring the expected
	// argument count.
	Prologue(ctx Context, signature int)
	// Shuffle permutes sources into destinations using the minimal
	// number of moves, routing cycles through a scratch register.
	Shuffle(ctx Context, sources []cps.Node, destinations []int)
	// Go jumps to the code value held in register reg.
	Go(ctx Context, reg int)
	// Primop emits one primitive operation. The first continuation
	// falls through; extraConts holds a label for each remaining one.
	Primop(ctx Context, op string, results []int, args []cps.Node, extraConts []Label)
}

// Driver walks register-allocated CPS and drives a Ctxt to produce
// code, exactly per spec §4.11's bullet list.
type Driver struct {
	Ctxt Ctxt
}

// NewDriver builds a Driver over the given backend.
func NewDriver(c Ctxt) *Driver {
	return &Driver{Ctxt: c}
}

// signature computes spec §4.11's "2*argc - (1 if rest)" encoding for
// a func's parameter list (which, post closure-conversion, already
// includes the leading self/closure and continuation parameters).
func signature(argc int, rest bool) int {
	s := 2 * argc
	if rest {
		s--
	}
	return s
}

// Compile drives the whole program: root must be the top-level *cps.Fun
// spec.md's pipeline produces after register allocation. It returns the
// closure-type record spec §4.11 names as the top-level output: code
// field is the outer function's generated code, captured vector empty.
func (d *Driver) Compile(h HeapLike, root cps.Node) (value.Word, error) {
	fun, ok := root.(*cps.Fun)
	if !ok {
		return value.Unspecified, fmt.Errorf("%w: codegen root must be a fun", suoerr.ErrCompile)
	}
	env := map[*cps.Var]value.Word{}
	code, err := d.genFunc(fun.F, env)
	if err != nil {
		return value.Unspecified, err
	}
	captured, err := h.NewVector(0)
	if err != nil {
		return value.Unspecified, err
	}
	return h.NewClosure(code, value.MakeVector(captured))
}

// HeapLike is the narrow heap surface the driver needs to build the
// final closure-type record; declared here to keep codegen free of a
// direct heap/WellKnown dependency. *heap.Heap does not satisfy it
// directly (its NewClosure also takes a *heap.WellKnown); vmasm's
// Assembler.HeapLike adapts it.
type HeapLike interface {
	NewVector(length int) (uint32, error)
	NewClosure(code, captured value.Word) (value.Word, error)
}

func (d *Driver) genFunc(f *cps.Func, env map[*cps.Var]value.Word) (value.Word, error) {
	sig := signature(len(f.Params), f.Rest)
	ctx := d.Ctxt.MakeContext(f.Name.Name, sig)
	d.Ctxt.Prologue(ctx, sig)
	if err := d.genInstr(ctx, f.Body, env); err != nil {
		return value.Unspecified, err
	}
	return d.Ctxt.Finish(ctx)
}

// genInstr emits code for one CPS instruction node (app, fun, primop)
// into ctx. env carries (cps-quote code) replacements for func-label
// vars already bound by an enclosing fun.
func (d *Driver) genInstr(ctx Context, n cps.Node, env map[*cps.Var]value.Word) error {
	switch t := n.(type) {
	case *cps.App:
		raw := make([]cps.Node, 0, len(t.Args)+1)
		raw = append(raw, t.Args...)
		raw = append(raw, t.Func)
		resolved := substituteQuotes(raw, env)
		args := make([]cps.Node, 0, len(resolved)+1)
		args = append(args, quoteInt(signature(len(t.Args), t.Rest)))
		args = append(args, resolved...)
		dests := make([]int, len(args))
		for i := range dests {
			dests[i] = i
		}
		d.Ctxt.Shuffle(ctx, args, dests)
		d.Ctxt.Go(ctx, len(args)-1)
		return nil

	case *cps.Fun:
		code, err := d.genFunc(t.F, env)
		if err != nil {
			return err
		}
		inner := map[*cps.Var]value.Word{t.F.Name: code}
		for k, v := range env {
			inner[k] = v
		}
		return d.genInstr(ctx, t.Cont, inner)

	case *cps.Primop:
		labels := make([]Label, 0, len(t.Conts))
		for range t.Conts[minInt(1, len(t.Conts)):] {
			labels = append(labels, d.Ctxt.MakeLabel())
		}
		results := make([]int, len(t.Results))
		for i, r := range t.Results {
			results[i] = r.ID
		}
		args := substituteQuotes(t.Args, env)
		d.Ctxt.Primop(ctx, t.Op, results, args, labels)

		if len(t.Conts) > 0 {
			if err := d.genInstr(ctx, t.Conts[0], env); err != nil {
				return err
			}
		}
		for i := 1; i < len(t.Conts); i++ {
			d.Ctxt.DefLabel(ctx, labels[i-1])
			if err := d.genInstr(ctx, t.Conts[i], env); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unexpected cps node %T reached codegen", suoerr.ErrCompile, n)
	}
}

// substituteQuotes replaces any Var in args that env has bound to a
// generated code value with a Quote of that value — spec §4.11's "for
// a var, returns its replacement (a cps-quote code introduced for func
// labels)".
func substituteQuotes(args []cps.Node, env map[*cps.Var]value.Word) []cps.Node {
	out := make([]cps.Node, len(args))
	for i, a := range args {
		if v, ok := a.(*cps.Var); ok {
			if code, ok := env[v]; ok {
				out[i] = &cps.Quote{Value: code}
				continue
			}
		}
		out[i] = a
	}
	return out
}

func quoteInt(n int) *cps.Quote { return &cps.Quote{Value: value.MakeInt(int32(n))} }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
