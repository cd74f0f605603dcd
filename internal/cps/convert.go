package cps

import (
	"fmt"

	"suo.dev/suo/internal/suoerr"
)

// Expr is a node of the mini-source language spec §4.7 converts: the
// handful of shapes an external macro expander is assumed to have
// already reduced a full source program to.
type Expr interface{ exprNode() }

// Sym is a variable reference.
type Sym struct{ Name string }

func (*Sym) exprNode() {}

// Lit is a self-quoting literal (integers, strings, booleans, nil).
type Lit struct{ Value any }

func (*Lit) exprNode() {}

// QuoteExpr is an explicit (:quote datum) form.
type QuoteExpr struct{ Datum any }

func (*QuoteExpr) exprNode() {}

// LambdaExpr is a :lambda form; Body is an implicit :begin sequence.
type LambdaExpr struct {
	Params []string
	Rest   bool
	Body   []Expr
}

func (*LambdaExpr) exprNode() {}

// BeginExpr is a :begin sequence.
type BeginExpr struct{ Exprs []Expr }

func (*BeginExpr) exprNode() {}

// PrimitiveExpr is a :primitive form. Branches is empty for an ordinary
// value-producing primitive (the current continuation is used once,
// against a fresh result variable); a non-empty Branches holds one
// source-expression sequence per continuation a control primitive like
// a boolean test needs (true branch at index 0, false at index 1, per
// spec §5's ordering rule) — each converted with the *same* outer
// continuation, per spec §4.7's "synthesise one or more branch
// continuations (each is a sub-conversion using the current k)".
type PrimitiveExpr struct {
	Name     string
	Args     []Expr
	Branches [][]Expr
}

func (*PrimitiveExpr) exprNode() {}

// SetExpr is a :set form.
type SetExpr struct {
	Name  string
	Value Expr
}

func (*SetExpr) exprNode() {}

// CallCCExpr is a :call/cc form: Fn is called with the reified current
// continuation as its sole argument.
type CallCCExpr struct{ Fn Expr }

func (*CallCCExpr) exprNode() {}

// CallVExpr is a :call/v form: Producer is called with Consumer's
// reification as its continuation (a simplified single-value
// call-with-values).
type CallVExpr struct {
	Producer Expr
	Consumer Expr
}

func (*CallVExpr) exprNode() {}

// ApplyExpr is an :apply form: the last entry of Args is spread as a
// list of additional arguments.
type ApplyExpr struct {
	Fn   Expr
	Args []Expr
}

func (*ApplyExpr) exprNode() {}

// BootInfoExpr is a :bootinfo environment query.
type BootInfoExpr struct{ Name string }

func (*BootInfoExpr) exprNode() {}

// CallExpr is an ordinary call.
type CallExpr struct {
	Fn   Expr
	Args []Expr
}

func (*CallExpr) exprNode() {}

// Expander resolves an unknown call-head symbol to its macro expansion,
// per spec §4.7's "unknown operators in the head of a call are
// macro-expanded via a lookup hook". A real macro expander and pattern
// matcher are named out of scope by spec §1; this interface is the
// narrow seam the CPS converter needs from one.
type Expander interface {
	Expand(head string, args []Expr) (Expr, bool, error)
}

// Cont is a meta-continuation: a Go closure standing in for "the rest
// of the computation", taking the cps-value a converted expression
// produced and returning the cps-instruction that follows. Reifying it
// into an actual first-class cps value (when a call needs to pass its
// continuation as data) is reifyCont's job, not every call site's.
type Cont func(Node) Node

type convEnv struct {
	parent *convEnv
	vars   map[string]*Var
}

func (e *convEnv) lookup(name string) (*Var, bool) {
	for c := e; c != nil; c = c.parent {
		if v, ok := c.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *convEnv) child() *convEnv { return &convEnv{parent: e, vars: map[string]*Var{}} }

// Converter holds the macro-expansion hook and the fresh-variable
// counter a conversion pass needs; it accumulates the first error seen
// (mini-language conversion has no useful partial result to return) so
// that Cont, whose signature has no error return, can still abort.
type Converter struct {
	Expander Expander
	nextID   int
	err      error
}

// NewConverter builds a Converter. expander may be nil if the program
// to convert contains no unknown call heads.
func NewConverter(expander Expander) *Converter {
	return &Converter{Expander: expander}
}

func (c *Converter) freshVar(name string, boxed bool) *Var {
	c.nextID++
	return &Var{Name: name, ID: c.nextID, Boxed: boxed}
}

func (c *Converter) fail(err error) Node {
	if c.err == nil {
		c.err = err
	}
	return &Quote{Value: nil}
}

// Convert converts a whole program. Per spec §4.7, program must be a
// :lambda whose conversion is a Fun wrapping a terminal 'bottom primop
// continuation; anything else aborts compilation.
func (c *Converter) Convert(program Expr) (Node, error) {
	c.err = nil
	c.nextID = 0
	lambda, ok := program.(*LambdaExpr)
	if !ok {
		return nil, fmt.Errorf("%w: top-level form must be a lambda", suoerr.ErrCompile)
	}
	top := &convEnv{}
	bottomK := func(Node) Node { return &Primop{Op: PrimBottom} }
	root := c.conv(lambda, top, bottomK)
	if c.err != nil {
		return nil, c.err
	}
	fun, ok := root.(*Fun)
	if !ok {
		return nil, fmt.Errorf("%w: top-level conversion did not produce a closed fun", suoerr.ErrCompile)
	}
	if pm, ok := fun.Cont.(*Primop); !ok || pm.Op != PrimBottom {
		return nil, fmt.Errorf("%w: top-level continuation must be the bottom primop", suoerr.ErrCompile)
	}
	return fun, nil
}

func (c *Converter) conv(e Expr, env *convEnv, k Cont) Node {
	if c.err != nil {
		return k(&Quote{Value: nil})
	}
	switch t := e.(type) {
	case *Sym:
		return c.convSym(t, env, k)
	case *Lit:
		return k(&Quote{Value: t.Value})
	case *QuoteExpr:
		return k(&Quote{Value: t.Datum})
	case *LambdaExpr:
		return c.convLambda(t, env, k)
	case *BeginExpr:
		return c.convSeq(t.Exprs, env, k)
	case *PrimitiveExpr:
		return c.convPrimitive(t, env, k)
	case *SetExpr:
		return c.convSet(t, env, k)
	case *CallCCExpr:
		return c.convCallCC(t, env, k)
	case *CallVExpr:
		return c.convCallV(t, env, k)
	case *ApplyExpr:
		return c.convApply(t, env, k)
	case *BootInfoExpr:
		tmp := c.freshVar(t.Name, false)
		return &Primop{Op: "bootinfo", Results: []*Var{tmp}, Args: []Node{&Quote{Value: t.Name}}, Conts: []Node{k(tmp)}}
	case *CallExpr:
		return c.convCall(t, env, k)
	default:
		return c.fail(fmt.Errorf("%w: unrecognised mini-source form %T", suoerr.ErrCompile, e))
	}
}

func (c *Converter) convSym(t *Sym, env *convEnv, k Cont) Node {
	if v, ok := env.lookup(t.Name); ok {
		if v.Boxed {
			tmp := c.freshVar(t.Name, false)
			return &Primop{Op: PrimBoxRef, Results: []*Var{tmp}, Args: []Node{v}, Conts: []Node{k(tmp)}}
		}
		return k(v)
	}
	tmp := c.freshVar(t.Name, false)
	return &Primop{Op: PrimVarRef, Results: []*Var{tmp}, Args: []Node{&Quote{Value: t.Name}}, Conts: []Node{k(tmp)}}
}

func (c *Converter) convSet(t *SetExpr, env *convEnv, k Cont) Node {
	return c.conv(t.Value, env, func(v Node) Node {
		unspec := &Quote{Value: unspecified{}}
		if bound, ok := env.lookup(t.Name); ok {
			if !bound.Boxed {
				return c.fail(fmt.Errorf("%w: assignment to an immutable binding %q", suoerr.ErrCompile, t.Name))
			}
			return &Primop{Op: PrimBoxSet, Args: []Node{bound, v}, Conts: []Node{k(unspec)}}
		}
		return &Primop{Op: PrimVarSet, Args: []Node{&Quote{Value: t.Name}, v}, Conts: []Node{k(unspec)}}
	})
}

// unspecified is the sentinel Quote.Value for the bootstrap evaluator's
// #unspec, kept distinct from Go's nil (which stands for the empty
// list / nil value).
type unspecified struct{}

func (c *Converter) convLambda(t *LambdaExpr, env *convEnv, k Cont) Node {
	bodyEnv := env.child()
	contParam := c.freshVar("k", false)

	// Every parameter is immediately boxed, spec §4.7: the raw incoming
	// value becomes a func parameter register, and a box-make prologue
	// wraps it into the cell that convSym/convSet's box-ref/box-set
	// actually address, so :set can rebind it without touching the
	// parameter register itself.
	rawParams := make([]*Var, len(t.Params))
	cells := make([]*Var, len(t.Params))
	for i, name := range t.Params {
		rawParams[i] = c.freshVar(name, false)
		cells[i] = c.freshVar(name, true)
		bodyEnv.vars[name] = cells[i]
	}

	body := c.convSeq(t.Body, bodyEnv, func(v Node) Node {
		return &App{Func: contParam, Args: []Node{v}}
	})
	for i := len(rawParams) - 1; i >= 0; i-- {
		body = &Primop{Op: PrimBoxMake, Results: []*Var{cells[i]}, Args: []Node{rawParams[i]}, Conts: []Node{body}}
	}

	fnVar := c.freshVar("lambda", false)
	fn := &Func{Name: fnVar, Params: append([]*Var{contParam}, rawParams...), Rest: t.Rest, Body: body}
	return &Fun{F: fn, Cont: k(fnVar)}
}

func (c *Converter) convSeq(exprs []Expr, env *convEnv, k Cont) Node {
	if len(exprs) == 0 {
		return k(&Quote{Value: unspecified{}})
	}
	if len(exprs) == 1 {
		return c.conv(exprs[0], env, k)
	}
	return c.conv(exprs[0], env, func(Node) Node {
		return c.convSeq(exprs[1:], env, k)
	})
}

// convList converts exprs to values left-to-right (spec §5's evaluation
// order), invoking done once every value is available.
func (c *Converter) convList(exprs []Expr, env *convEnv, done func([]Node) Node) Node {
	if len(exprs) == 0 {
		return done(nil)
	}
	return c.conv(exprs[0], env, func(v Node) Node {
		return c.convList(exprs[1:], env, func(rest []Node) Node {
			return done(append([]Node{v}, rest...))
		})
	})
}

// reifyCont materialises k as a first-class cps value when build needs
// one (e.g. to pass as a call's continuation argument), applying the
// tail-call-elimination optimisation of spec §4.7: if k(tmp) reduces to
// exactly (app K (tmp)), K is passed directly and no closure is built.
func (c *Converter) reifyCont(k Cont, build func(contValue Node) Node) Node {
	tmp := c.freshVar("r", false)
	body := k(tmp)
	if app, ok := body.(*App); ok && len(app.Args) == 1 && !app.Rest {
		if v, ok := app.Args[0].(*Var); ok && v == tmp {
			return build(app.Func)
		}
	}
	kvar := c.freshVar("k", false)
	fn := &Func{Name: kvar, Params: []*Var{tmp}, Body: body}
	return &Fun{F: fn, Cont: build(kvar)}
}

func (c *Converter) convCall(t *CallExpr, env *convEnv, k Cont) Node {
	if sym, ok := t.Fn.(*Sym); ok {
		if _, bound := env.lookup(sym.Name); !bound && c.Expander != nil {
			expansion, handled, err := c.Expander.Expand(sym.Name, t.Args)
			if err != nil {
				return c.fail(err)
			}
			if handled {
				return c.conv(expansion, env, k)
			}
		}
	}
	return c.convList(t.Args, env, func(argVals []Node) Node {
		return c.conv(t.Fn, env, func(fnVal Node) Node {
			return c.reifyCont(k, func(contVal Node) Node {
				return &App{Func: fnVal, Args: append([]Node{contVal}, argVals...)}
			})
		})
	})
}

func (c *Converter) convApply(t *ApplyExpr, env *convEnv, k Cont) Node {
	if len(t.Args) == 0 {
		return c.fail(fmt.Errorf("%w: apply requires a trailing argument list", suoerr.ErrCompile))
	}
	return c.convList(t.Args, env, func(argVals []Node) Node {
		return c.conv(t.Fn, env, func(fnVal Node) Node {
			return c.reifyCont(k, func(contVal Node) Node {
				return &App{Func: fnVal, Args: append([]Node{contVal}, argVals...), Rest: true}
			})
		})
	})
}

func (c *Converter) convPrimitive(t *PrimitiveExpr, env *convEnv, k Cont) Node {
	return c.convList(t.Args, env, func(argVals []Node) Node {
		if len(t.Branches) == 0 {
			tmp := c.freshVar(t.Name, false)
			return &Primop{Op: t.Name, Results: []*Var{tmp}, Args: argVals, Conts: []Node{k(tmp)}}
		}
		conts := make([]Node, len(t.Branches))
		for i, branch := range t.Branches {
			conts[i] = c.convSeq(branch, env, k)
		}
		return &Primop{Op: t.Name, Args: argVals, Conts: conts}
	})
}

// convCallCC reifies the current continuation and calls Fn with it as
// the sole argument; Fn's own continuation is the same reified value,
// since invoking either simply delivers a result to the capture point.
func (c *Converter) convCallCC(t *CallCCExpr, env *convEnv, k Cont) Node {
	return c.reifyCont(k, func(contVal Node) Node {
		return c.conv(t.Fn, env, func(fnVal Node) Node {
			return &App{Func: fnVal, Args: []Node{contVal, contVal}}
		})
	})
}

// convCallV is a simplified single-value call-with-values: Producer is
// invoked with Consumer's reification as its continuation.
func (c *Converter) convCallV(t *CallVExpr, env *convEnv, k Cont) Node {
	return c.conv(t.Consumer, env, func(consumerVal Node) Node {
		return c.conv(t.Producer, env, func(producerVal Node) Node {
			return c.reifyCont(k, func(contVal Node) Node {
				return &App{Func: producerVal, Args: []Node{consumerVal}}
			})
		})
	})
}
