package vmasm

import (
	"suo.dev/suo/internal/codegen"
	"suo.dev/suo/internal/cps"
	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/value"
)

// context is vmasm's concrete codegen.Context: the in-progress buffer
// for one func's code.
type context struct {
	proc    *Proc
	pending []pendingCont
}

// label is vmasm's concrete codegen.Label: a forward reference resolved
// to an instruction index once DefLabel binds it.
type label struct {
	pos int
	set bool
}

type pendingCont struct {
	instrIdx int
	slot     int
	l        *label
}

// Assembler implements codegen.Ctxt against vmasm's bytecode, and is
// also the runtime that executes it (Run). A code block produced by
// Finish is a real heap code-block object whose byte payload is just
// an index into procs — the Proc itself lives in the Assembler rather
// than being serialized, since nothing downstream needs to persist
// compiled code independently of the process that produced it.
type Assembler struct {
	h     *heap.Heap
	wk    *heap.WellKnown
	procs []*Proc

	// globals backs the top-level variable-ref/variable-set primops;
	// spec §4.7/§4.9 call these "top-level" bindings distinct from the
	// boxed-parameter machinery, with no further structure specified.
	globals map[string]value.Word

	// halt caches the one-instruction proc/closure pair Run installs as
	// the top-level continuation register, built lazily on first Run.
	halt value.Word
}

// NewAssembler builds an Assembler bound to h/wk — the heap that will
// hold every code block, closure, box and record the compiled program
// allocates.
func NewAssembler(h *heap.Heap, wk *heap.WellKnown) *Assembler {
	return &Assembler{h: h, wk: wk, globals: map[string]value.Word{}}
}

var _ codegen.Ctxt = (*Assembler)(nil)

func (a *Assembler) MakeContext(name string, signature int) codegen.Context {
	p := &Proc{Name: name, Signature: signature}
	a.procs = append(a.procs, p)
	return &context{proc: p}
}

// Finish resolves every pending continuation label against the
// instruction positions DefLabel recorded, then wraps the proc's index
// in a real heap code-block value.
func (a *Assembler) Finish(ctx codegen.Context) (value.Word, error) {
	c := ctx.(*context)
	for _, pc := range c.pending {
		if !pc.l.set {
			panic("vmasm: Finish reached with an undefined continuation label")
		}
		c.proc.Instrs[pc.instrIdx].Conts[pc.slot] = pc.l.pos
	}
	idx := a.indexOf(c.proc)
	return a.h.NewCodeBlock(encodeProcIndex(idx), nil)
}

func (a *Assembler) indexOf(p *Proc) int {
	for i, q := range a.procs {
		if q == p {
			return i
		}
	}
	panic("vmasm: Finish called on a context never produced by MakeContext")
}

func (a *Assembler) MakeLabel() codegen.Label {
	return &label{}
}

func (a *Assembler) DefLabel(ctx codegen.Context, l codegen.Label) {
	c := ctx.(*context)
	lb := l.(*label)
	lb.pos = len(c.proc.Instrs)
	lb.set = true
}

// Prologue declares the expected argument count. vmasm has no separate
// entry-sequence instructions to emit — the register file already
// holds the shuffled arguments when a Proc starts running — so this
// only records the signature for Run's arity check.
func (a *Assembler) Prologue(ctx codegen.Context, signature int) {
	ctx.(*context).proc.Signature = signature
}

func (a *Assembler) Go(ctx codegen.Context, reg int) {
	c := ctx.(*context)
	c.proc.Instrs = append(c.proc.Instrs, Instr{Op: OpGo, Reg: reg})
}

// Primop appends one primop instruction. Each entry of extraConts gets
// a slot in the new instruction's Conts, backpatched once DefLabel (and
// eventually Finish) resolves it.
func (a *Assembler) Primop(ctx codegen.Context, op string, results []int, args []cps.Node, extraConts []codegen.Label) {
	c := ctx.(*context)
	operands := make([]Operand, len(args))
	for i, n := range args {
		operands[i] = a.toOperand(n)
	}
	in := Instr{Op: OpPrimop, Name: op, Results: results, Args: operands}
	if len(extraConts) > 0 {
		in.Conts = make([]int, len(extraConts))
	}
	c.proc.Instrs = append(c.proc.Instrs, in)
	idx := len(c.proc.Instrs) - 1
	for slot, l := range extraConts {
		c.pending = append(c.pending, pendingCont{instrIdx: idx, slot: slot, l: l.(*label)})
	}
}

// toOperand converts a register-allocated cps value into a vmasm
// operand. A Quote wrapping a Go string is a top-level binding name
// (spec §4.7's variable-ref/variable-set primops) rather than runtime
// data, so it is kept as a name rather than forced into a Word.
func (a *Assembler) toOperand(n cps.Node) Operand {
	switch t := n.(type) {
	case *cps.Reg:
		return regOperand(t.Index)
	case *cps.Quote:
		if s, ok := t.Value.(string); ok {
			return Operand{IsName: true, Name: s}
		}
		return quoteOperand(a.toWord(t.Value))
	default:
		panic("vmasm: operand is neither a Reg nor a Quote after register allocation")
	}
}

// toWord converts a source-level literal to its runtime Word. Any
// shape that isn't one of the mini-language's self-quoting literal
// kinds (including the converter's unspecified-value sentinel, which
// vmasm cannot name directly since it's unexported in internal/cps)
// collapses to value.Unspecified — the only other thing a Quote ever
// legitimately carries.
func (a *Assembler) toWord(v any) value.Word {
	switch x := v.(type) {
	case value.Word:
		return x
	case int64:
		return value.MakeInt(int32(x))
	case int:
		return value.MakeInt(int32(x))
	case bool:
		return value.Bool(x)
	case nil:
		return value.Nil
	default:
		return value.Unspecified
	}
}
