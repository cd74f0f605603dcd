package booteval

import (
	"fmt"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/opcode"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

// FromSExpr bridges the bootstrap reader's list-shaped output (spec §4.3)
// into the evaluator's two-shape language (spec §4.5): a parenthesised
// form whose head is an opcode constant, e.g. `(#@sum 1 2 3)`, becomes
// the op-vector `[Sum (Quote 1) (Quote 2) (Quote 3)]`; any other atom
// becomes a one-slot `[Quote atom]`.
//
// This is the bootstrap-only stand-in for the macro expander named as an
// external collaborator in spec §1/§6: the full language also needs
// variables, lambda and call forms, which in the real system come out of
// the CPS compiler's own lower-level opcode encoding rather than through
// this textual path. FromSExpr exists so the eight #@-opcode forms of
// spec §6/§8 can be read, translated and run without that expander.
func FromSExpr(h *heap.Heap, form value.Word) (value.Word, error) {
	if form.IsPair() {
		head := h.Car(form)
		if !head.IsInt() {
			return value.Unspecified, fmt.Errorf("%w: list form must begin with an opcode", suoerr.ErrCompile)
		}
		op := opcode.Op(head.Int())
		if _, ok := opcode.Names[op.String()]; !ok {
			return value.Unspecified, fmt.Errorf("%w: unknown opcode %v", suoerr.ErrCompile, op)
		}
		args, err := listToSlice(h, h.Cdr(form))
		if err != nil {
			return value.Unspecified, err
		}

		if op == opcode.Quote {
			if len(args) != 1 {
				return value.Unspecified, fmt.Errorf("%w: quote takes exactly one operand", suoerr.ErrCompile)
			}
			return makeOpVector(h, op, []value.Word{args[0]})
		}

		translated := make([]value.Word, len(args))
		for i, a := range args {
			t, err := FromSExpr(h, a)
			if err != nil {
				return value.Unspecified, err
			}
			translated[i] = t
		}
		return makeOpVector(h, op, translated)
	}

	return makeOpVector(h, opcode.Quote, []value.Word{form})
}

func makeOpVector(h *heap.Heap, op opcode.Op, rest []value.Word) (value.Word, error) {
	addr, err := h.NewVector(1 + len(rest))
	if err != nil {
		return value.Unspecified, err
	}
	v := value.MakeVector(addr)
	h.VectorSet(v, 0, value.MakeInt(int32(op)))
	for i, r := range rest {
		h.VectorSet(v, 1+i, r)
	}
	return v, nil
}

func listToSlice(h *heap.Heap, list value.Word) ([]value.Word, error) {
	var out []value.Word
	for list != value.Nil {
		if !list.IsPair() {
			return nil, fmt.Errorf("%w: improper argument list", suoerr.ErrCompile)
		}
		out = append(out, h.Car(list))
		list = h.Cdr(list)
	}
	return out, nil
}
