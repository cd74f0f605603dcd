// Package vmasm implements internal/codegen's Ctxt interface against a
// small fixed-width register bytecode, grounded on the teacher's own
// std/compiler/backend_vm.go (a stack-machine-IR-to-bytecode-VM backend,
// one of tinyrange-rtg's four real code-generation targets) and, for
// instruction-table shape, on smoynes-elsie/internal/vm/instr.go and
// internal/vm/ops.go. It gives codegen.Driver.Compile a default target that
// actually runs, without pulling in the out-of-scope native assembler.
package vmasm

import (
	"suo.dev/suo/internal/value"
)

// RegisterCount bounds the flat register file every call frame shares.
// Register allocation (internal/cps) never assigns this high for the
// small bootstrap-scale programs this machine is built to run; Scratch
// is reserved for shuffle's cycle-breaking moves.
const (
	RegisterCount = 64
	Scratch       = RegisterCount - 1
)

// Opcode is one vmasm instruction kind.
type Opcode int

const (
	OpMove Opcode = iota
	OpGo
	OpPrimop
	OpHalt // only ever appears in the synthetic top-level halt proc
)

// Operand is a register read, an embedded literal value, or (for the
// top-level variable-ref/variable-set primops) a binding name.
type Operand struct {
	IsReg  bool
	Reg    int
	IsName bool
	Name   string
	Quote  value.Word
}

func regOperand(i int) Operand          { return Operand{IsReg: true, Reg: i} }
func quoteOperand(w value.Word) Operand { return Operand{Quote: w} }

// Instr is one instruction in a Proc's stream.
type Instr struct {
	Op Opcode

	// OpMove
	Dst int
	Src Operand

	// OpGo
	Reg int

	// OpPrimop
	Name    string
	Results []int
	Args    []Operand
	Conts   []int // instruction index for each continuation after the first
}

// Proc is one compiled function's instruction stream.
type Proc struct {
	Name      string
	Signature int
	Instrs    []Instr
}
