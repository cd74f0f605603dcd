// Package booteval implements the non-recursive bootstrap evaluator of
// spec §4.5: a tree-walking interpreter over a tiny post-macroexpansion
// language (environment references and opcode-tagged operation vectors)
// whose own recursion is entirely heap-allocated, so host Go call depth
// never grows with the depth of the program being evaluated.
package booteval

import (
	"fmt"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/opcode"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

// Evaluator holds the heap and well-known-type handles an Eval call
// needs. It carries no form/env state between calls; all of that lives
// on the Go stack of a single Eval invocation, rooted for its duration.
type Evaluator struct {
	H  *heap.Heap
	Wk *heap.WellKnown
}

// New builds an Evaluator over an already-bootstrapped heap.
func New(h *heap.Heap, wk *heap.WellKnown) *Evaluator {
	return &Evaluator{H: h, Wk: wk}
}

// mode names the two states of the eval_form/use_value dispatch loop of
// spec §4.5.
type mode int

const (
	modeEvalForm mode = iota
	modeUseValue
)

// ctrlFrame is the explicit three-slot control-stack frame spec §4.5
// describes (saved form, saved result vector, saved program counter).
// It is heap-allocated on the Go side (not the Suo heap) but its two
// Word fields are registered as Suo GC roots for the frame's lifetime,
// since they must survive any allocation triggered while evaluating a
// sibling operand.
type ctrlFrame struct {
	form       value.Word // the op-vector this frame is stepping through
	results    value.Word // vector accumulating each operand's value
	pc         int        // how many operands have been evaluated so far
	formTok    int
	resultsTok int
}

// Eval evaluates form in env and returns its value. env is nil-safe only
// in the sense that callers constructing a toplevel environment pass
// value.Nil; environment references climbing past the toplevel are a
// programming error in the caller's form, reported as ErrEvalType.
func (ev *Evaluator) Eval(form, env value.Word) (value.Word, error) {
	h := ev.H

	var cur, curEnv, val value.Word
	cur, curEnv = form, env
	curTok := h.PushRoot(&cur)
	envTok := h.PushRoot(&curEnv)
	valTok := h.PushRoot(&val)
	defer func() {
		h.PopRoot(valTok)
		h.PopRoot(envTok)
		h.PopRoot(curTok)
	}()

	var stack []*ctrlFrame
	push := func(f, r value.Word) *ctrlFrame {
		cf := &ctrlFrame{form: f, results: r}
		cf.formTok = h.PushRoot(&cf.form)
		cf.resultsTok = h.PushRoot(&cf.results)
		stack = append(stack, cf)
		return cf
	}
	pop := func() *ctrlFrame {
		cf := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h.PopRoot(cf.resultsTok)
		h.PopRoot(cf.formTok)
		return cf
	}

	m := modeEvalForm
	for {
		switch m {
		case modeEvalForm:
			switch {
			case cur.IsPair():
				v, err := ev.lookupRef(cur, curEnv)
				if err != nil {
					return value.Unspecified, err
				}
				val = v
				m = modeUseValue

			case cur.IsVector():
				op := opcode.Op(h.VectorRef(cur, 0).Int())
				switch op {
				case opcode.Quote:
					val = h.VectorRef(cur, 1)
					m = modeUseValue
				case opcode.Lambda:
					fn, err := h.NewFunction(ev.Wk, h.VectorRef(cur, 1), curEnv)
					if err != nil {
						return value.Unspecified, err
					}
					val = fn
					m = modeUseValue
				default:
					n := operandCount(op, h, cur)
					resAddr, err := h.NewVector(n)
					if err != nil {
						return value.Unspecified, err
					}
					results := value.MakeVector(resAddr)
					for i := 0; i < n; i++ {
						h.VectorSet(results, i, value.Unspecified)
					}
					cf := push(cur, results)
					cf.pc = 0
					if slot, ok := slotForPC(op, cf.pc); ok && cf.pc < n {
						cur = h.VectorRef(cf.form, slot)
						m = modeEvalForm
						continue
					}
					// Zero-operand op (e.g. a bare (#@sum)): finish
					// immediately without ever entering modeEvalForm for
					// an operand.
					var err2 error
					val, curEnv, cur, m, err2 = ev.finishOp(op, cf, curEnv)
					pop()
					if err2 != nil {
						return value.Unspecified, err2
					}
				}

			default:
				return value.Unspecified, fmt.Errorf("%w: malformed form (neither env-ref pair nor op vector)", suoerr.ErrEvalType)
			}

		case modeUseValue:
			if len(stack) == 0 {
				return val, nil
			}
			cf := stack[len(stack)-1]
			h.VectorSet(cf.results, cf.pc, val)
			cf.pc++

			op := opcode.Op(h.VectorRef(cf.form, 0).Int())
			if slot, ok := slotForPC(op, cf.pc); ok && cf.pc < operandCount(op, h, cf.form) {
				cur = h.VectorRef(cf.form, slot)
				m = modeEvalForm
				continue
			}

			var err error
			val, curEnv, cur, m, err = ev.finishOp(op, cf, curEnv)
			pop()
			if err != nil {
				return value.Unspecified, err
			}
		}
	}
}

// operandCount is the number of operand slots that must be evaluated
// before do_op_step can finish op, per spec §4.5: if and set each
// evaluate exactly one (the test, and the value respectively); call,
// apply, sum and mul evaluate every slot after the opcode.
func operandCount(op opcode.Op, h *heap.Heap, form value.Word) int {
	switch op {
	case opcode.If, opcode.Set:
		return 1
	default:
		return h.VectorLength(form) - 1
	}
}

// slotForPC returns the vector index (into form) of the operand that
// should be evaluated at step pc, or ok=false once operandCount operands
// have already been produced.
func slotForPC(op opcode.Op, pc int) (slot int, ok bool) {
	switch op {
	case opcode.If:
		if pc == 0 {
			return 1, true
		}
		return 0, false
	case opcode.Set:
		if pc == 0 {
			return 2, true
		}
		return 0, false
	default:
		// call/apply/sum/mul: slots 1..N in order; caller bounds pc via
		// operandCount, so this function alone can't tell N — the main
		// loop only calls it while pc < operandCount(op, form).
		return 1 + pc, true
	}
}

// finishOp performs the op-specific action once all of its required
// operands are in cf.results, per spec §4.5's do_op_step table. It
// returns the next (val, env, form, mode) the caller should continue
// with; for if/call/apply this is a tail jump (new form/env, mode stays
// modeEvalForm) rather than a use_value handoff.
func (ev *Evaluator) finishOp(op opcode.Op, cf *ctrlFrame, env value.Word) (val, nextEnv, nextForm value.Word, m mode, err error) {
	h := ev.H
	switch op {
	case opcode.If:
		test := h.VectorRef(cf.results, 0)
		if test.Truthy() {
			return value.Unspecified, env, h.VectorRef(cf.form, 2), modeEvalForm, nil
		}
		return value.Unspecified, env, h.VectorRef(cf.form, 3), modeEvalForm, nil

	case opcode.Set:
		ref := h.VectorRef(cf.form, 1)
		v := h.VectorRef(cf.results, 0)
		if err := ev.writeRef(ref, env, v); err != nil {
			return value.Unspecified, env, value.Unspecified, modeUseValue, err
		}
		return value.Unspecified, env, value.Unspecified, modeUseValue, nil

	case opcode.Call:
		return ev.finishCall(cf, env)

	case opcode.Apply:
		return ev.finishApply(cf, env)

	case opcode.Sum, opcode.Mul:
		v, err := ev.finishFold(op, cf)
		return v, env, value.Unspecified, modeUseValue, err

	default:
		return value.Unspecified, env, value.Unspecified, modeUseValue,
			fmt.Errorf("%w: unknown opcode %v", suoerr.ErrEvalType, op)
	}
}

func (ev *Evaluator) finishCall(cf *ctrlFrame, env value.Word) (val, nextEnv, nextForm value.Word, m mode, err error) {
	h := ev.H
	argc := h.VectorLength(cf.results) - 1
	newAddr, err := h.NewVector(2 + argc)
	if err != nil {
		return value.Unspecified, env, value.Unspecified, modeUseValue, err
	}
	newFrame := value.MakeVector(newAddr)

	fn := h.VectorRef(cf.results, 0)
	if !h.IsFunction(ev.Wk, fn) {
		return value.Unspecified, env, value.Unspecified, modeUseValue,
			fmt.Errorf("%w: call of a non-function value", suoerr.ErrEvalType)
	}
	h.VectorSet(newFrame, 0, h.FunctionEnv(fn))
	h.VectorSet(newFrame, 1, value.Unspecified)
	for i := 0; i < argc; i++ {
		h.VectorSet(newFrame, 2+i, h.VectorRef(cf.results, 1+i))
	}
	return value.Unspecified, newFrame, h.FunctionBody(fn), modeEvalForm, nil
}

func (ev *Evaluator) finishApply(cf *ctrlFrame, env value.Word) (val, nextEnv, nextForm value.Word, m mode, err error) {
	h := ev.H
	total := h.VectorLength(cf.results) - 1 // excludes fn
	if total < 1 {
		return value.Unspecified, env, value.Unspecified, modeUseValue,
			fmt.Errorf("%w: apply requires a trailing argument list", suoerr.ErrEvalType)
	}
	numFixed := total - 1
	list := h.VectorRef(cf.results, 1+numFixed)
	listLen := 0
	for cur := list; cur != value.Nil; cur = h.Cdr(cur) {
		listLen++
	}

	newAddr, err := h.NewVector(2 + numFixed + listLen)
	if err != nil {
		return value.Unspecified, env, value.Unspecified, modeUseValue, err
	}
	newFrame := value.MakeVector(newAddr)

	fn := h.VectorRef(cf.results, 0)
	if !h.IsFunction(ev.Wk, fn) {
		return value.Unspecified, env, value.Unspecified, modeUseValue,
			fmt.Errorf("%w: apply of a non-function value", suoerr.ErrEvalType)
	}
	h.VectorSet(newFrame, 0, h.FunctionEnv(fn))
	h.VectorSet(newFrame, 1, value.Unspecified)
	for i := 0; i < numFixed; i++ {
		h.VectorSet(newFrame, 2+i, h.VectorRef(cf.results, 1+i))
	}
	i := 0
	for cur := h.VectorRef(cf.results, 1+numFixed); cur != value.Nil; cur = h.Cdr(cur) {
		h.VectorSet(newFrame, 2+numFixed+i, h.Car(cur))
		i++
	}
	return value.Unspecified, newFrame, h.FunctionBody(fn), modeEvalForm, nil
}

// finishFold folds sum/mul's operand results with + or *, aborting with
// ErrEvalType on a non-integer operand or on overflow past the 30-bit
// small-integer range (spec §1: bignum overflow is explicitly out of
// scope for the bootstrap path; overflow is a fatal error, not promotion).
func (ev *Evaluator) finishFold(op opcode.Op, cf *ctrlFrame) (value.Word, error) {
	h := ev.H
	n := h.VectorLength(cf.results)
	var acc int64
	if op == opcode.Mul {
		acc = 1
	}
	for i := 0; i < n; i++ {
		operand := h.VectorRef(cf.results, i)
		if !operand.IsInt() {
			return value.Unspecified, fmt.Errorf("%w: sum/mul operand is not an integer", suoerr.ErrEvalType)
		}
		v := int64(operand.Int())
		if op == opcode.Sum {
			acc += v
		} else {
			acc *= v
		}
		if !value.IsIntInRange(acc) {
			return value.Unspecified, fmt.Errorf("%w: sum/mul overflowed the small-integer range", suoerr.ErrEvalType)
		}
	}
	return value.MakeInt(int32(acc)), nil
}

// lookupRef resolves an environment reference (up . n): climb up frames
// from env, then read slot n+2 of the target frame.
func (ev *Evaluator) lookupRef(ref, env value.Word) (value.Word, error) {
	h := ev.H
	target, n, err := ev.resolveRef(ref, env)
	if err != nil {
		return value.Unspecified, err
	}
	return h.VectorRef(target, n+2), nil
}

// writeRef is lookupRef's write-side counterpart, used by the set op.
func (ev *Evaluator) writeRef(ref, env, v value.Word) error {
	h := ev.H
	target, n, err := ev.resolveRef(ref, env)
	if err != nil {
		return err
	}
	h.VectorSet(target, n+2, v)
	return nil
}

func (ev *Evaluator) resolveRef(ref, env value.Word) (target value.Word, n int, err error) {
	h := ev.H
	if !ref.IsPair() {
		return value.Unspecified, 0, fmt.Errorf("%w: environment reference is not a pair", suoerr.ErrEvalType)
	}
	up := h.Car(ref).Int()
	n32 := h.Cdr(ref).Int()
	target = env
	for i := int32(0); i < up; i++ {
		if target == value.Nil {
			return value.Unspecified, 0, fmt.Errorf("%w: environment reference climbs past the toplevel", suoerr.ErrEvalType)
		}
		target = h.VectorRef(target, 0)
	}
	return target, int(n32), nil
}
