package vmasm

import (
	"suo.dev/suo/internal/codegen"
	"suo.dev/suo/internal/cps"
)

// Shuffle permutes sources into destinations with the minimal number of
// register moves, routing any cycle through the reserved Scratch
// register — spec §4.11's "shuffle" operation, grounded loosely on the
// teacher's backend.go calling-convention register shuffle.
//
// A move is "ready" once nothing still pending needs to read its
// destination register as a source. Readiness can't always be reached
// directly (A needs B's slot, B needs A's slot): when every remaining
// move is blocked, one of them is broken by first rescuing its
// destination's current value into Scratch, which frees that register
// as a source for whoever was waiting on it.
func (a *Assembler) Shuffle(ctx codegen.Context, sources []cps.Node, destinations []int) {
	c := ctx.(*context)

	type pendingMove struct {
		dst int
		src Operand
	}
	pending := make([]pendingMove, 0, len(sources))
	for i, s := range sources {
		op := a.toOperand(s)
		if op.IsReg && op.Reg == destinations[i] {
			continue // already in place
		}
		pending = append(pending, pendingMove{dst: destinations[i], src: op})
	}

	readByOther := func(reg, self int) bool {
		for j, m := range pending {
			if j != self && m.src.IsReg && m.src.Reg == reg {
				return true
			}
		}
		return false
	}

	emit := func(dst int, src Operand) {
		c.proc.Instrs = append(c.proc.Instrs, Instr{Op: OpMove, Dst: dst, Src: src})
	}

	for len(pending) > 0 {
		progressed := false
		for i := 0; i < len(pending); i++ {
			m := pending[i]
			if readByOther(m.dst, i) {
				continue // another pending move still needs this destination's old value
			}
			emit(m.dst, m.src)
			pending = append(pending[:i], pending[i+1:]...)
			progressed = true
			break
		}
		if progressed {
			continue
		}

		// Every remaining move is part of a cycle. Rescue the first
		// move's destination into Scratch so whoever was reading it can
		// proceed, then redirect them at Scratch.
		victim := pending[0]
		emit(Scratch, regOperand(victim.dst))
		for i := range pending {
			if pending[i].src.IsReg && pending[i].src.Reg == victim.dst {
				pending[i].src = regOperand(Scratch)
			}
		}
	}
}
