// Package cps implements the continuation-passing-style intermediate
// representation of spec §4.6: the mini-language conversion of §4.7,
// the free/used/bound variable analysis of §4.8, closure conversion
// (§4.9) and register allocation (§4.10). The code-generation driver
// that consumes the output of this package lives in internal/codegen.
package cps

import "suo.dev/suo/internal/value"

// Node is any CPS IR node. All concrete node types are pointers, so
// Go's interface equality (pointer identity for pointer dynamic types)
// gives the node-identity semantics spec §4.8's memoisation relies on:
// trees are built once and never mutated in place, only rewritten into
// fresh nodes by later passes.
type Node interface{ cpsNode() }

// Var is a variable reference: a name for diagnostics, a unique id
// distinguishing same-named bindings, and a boxed flag marking
// Scheme-level set!-able bindings realised as one-field box records.
type Var struct {
	Name  string
	ID    int
	Boxed bool
}

func (*Var) cpsNode() {}

// Quote is a self-evaluating literal embedded directly in the tree. At
// the source level Value holds a Go literal (int64, string, bool, nil
// for the empty list); the code-generation driver (internal/codegen)
// substitutes Quote nodes that wrap a generated code block (Value
// holding a value.Word) for references to generated funcs — spec §4.9's "no
// transitively free variables remain ... except top-level quoted
// references, which have been turned into (cps-quote <value>)".
type Quote struct {
	Value any
}

func (*Quote) cpsNode() {}

// Reg is a register index. It only appears in the tree after register
// allocation (§4.10) has rewritten every surviving Var into one.
type Reg struct {
	Index int
}

func (*Reg) cpsNode() {}

// App is a function application: a function value (typically a Var,
// Reg or Quote), its argument list, and whether the final argument is
// a spread rest-list (mirroring the bootstrap evaluator's apply op).
type App struct {
	Func Node
	Args []Node
	Rest bool
}

func (*App) cpsNode() {}

// Func is a CPS function: a name var (used for self/mutual reference
// and as the fix/fun binder), its formal parameters, a rest-arg flag,
// and a body instruction.
type Func struct {
	Name   *Var
	Params []*Var
	Rest   bool
	Body   Node
}

func (*Func) cpsNode() {}

// Fix is a mutually-recursive block of functions sharing a scope,
// followed by a continuation body. Closure conversion only ever
// introduces single-function Fun nodes, but Fix is retained in the IR
// for completeness per spec §4.6. The converter in convert.go never
// builds one; closure conversion and register allocation accept one as
// input.
type Fix struct {
	Funcs []*Func
	Body  Node
}

func (*Fix) cpsNode() {}

// Fun is a single-function binding: Func's name is in scope within
// both F's own body (self-reference) and Cont.
type Fun struct {
	F    *Func
	Cont Node
}

func (*Fun) cpsNode() {}

// Primop is a primitive operation: its kind, the variables it binds to
// its result(s), its argument values, and one instruction per
// continuation (a boolean-valued primop has two: true-branch at index
// 0, false-branch at index 1, per spec §5's ordering rule).
type Primop struct {
	Op      string
	Results []*Var
	Args    []Node
	Conts   []Node
}

func (*Primop) cpsNode() {}

// Well-known primop kinds used by the converter and later passes. This
// is not an exhaustive enumeration — :primitive forms from the source
// language pass their operator name through unchanged — but these are
// the ones introduced synthetically by conversion, closure conversion
// and register allocation rather than coming from source.
const (
	PrimVarRef      = "variable-ref"   // top-level variable read
	PrimVarSet      = "variable-set"   // top-level variable write
	PrimBoxRef      = "box-ref"        // read a boxed (set!-able) binding
	PrimBoxSet      = "box-set"        // write a boxed binding
	PrimBoxMake     = "box-make"       // allocate a fresh box
	PrimVectorMake  = "vector-make"    // allocate the closure's capture vector
	PrimVectorRef   = "vector-ref"
	PrimVectorSet   = "vector-set"     // write a capture-vector slot
	PrimRecordMake  = "record-make"    // build a closure-type record
	PrimRecordRef   = "record-ref"
	PrimIfRecordP   = "if-record?"     // closure-conversion's dispatch guard
	PrimSyscall     = "syscall"        // traps when no error handler is bound
	PrimBottom      = "bottom"         // spec §4.7's zero-continuation terminal primop
)

// isCodeQuote reports a Quote node produced by the code generator for
// a func label, distinguishing it (by dynamic type alone — value.Word)
// from a source-level literal Quote.
func isCodeQuote(q *Quote) (value.Word, bool) {
	w, ok := q.Value.(value.Word)
	return w, ok
}
