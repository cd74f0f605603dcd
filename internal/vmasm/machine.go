package vmasm

import (
	"fmt"

	"suo.dev/suo/internal/cps"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

// Run executes a compiled top-level closure against args, driving the
// flat register-machine loop (OpMove, OpPrimop with its continuation
// indexes as branch targets, OpGo, OpHalt) until the program's
// continuation chain reaches the synthetic halt proc this method
// installs as the top-level continuation register.
//
// There is no call stack: App sites are tail jumps that reuse the same
// register file, exactly the invariant spec §9 asks bootstrap control
// flow to preserve.
func (a *Assembler) Run(closure value.Word, args ...value.Word) (value.Word, error) {
	halt, err := a.haltClosure()
	if err != nil {
		return value.Unspecified, err
	}

	proc, err := a.procFor(closure)
	if err != nil {
		return value.Unspecified, err
	}

	regs := make([]value.Word, RegisterCount)
	regs[1] = closure
	regs[2] = halt
	for i, arg := range args {
		regs[3+i] = arg
	}

	for {
		result, halted, next, err := a.step(proc, regs)
		if err != nil {
			return value.Unspecified, err
		}
		if halted {
			return result, nil
		}
		proc = next
	}
}

// step runs proc until it either halts or jumps to another proc via GO,
// mutating regs in place as it goes.
func (a *Assembler) step(proc *Proc, regs []value.Word) (result value.Word, halted bool, next *Proc, err error) {
	i := 0
	for {
		if i >= len(proc.Instrs) {
			return value.Unspecified, true, nil, nil
		}
		in := proc.Instrs[i]
		switch in.Op {
		case OpMove:
			regs[in.Dst] = a.resolveOperand(regs, in.Src)
			i++

		case OpHalt:
			return regs[in.Reg], true, nil, nil

		case OpGo:
			p, perr := a.procFor(regs[in.Reg])
			if perr != nil {
				return value.Unspecified, false, nil, perr
			}
			return value.Unspecified, false, p, nil

		case OpPrimop:
			taken, perr := a.execPrimop(regs, in)
			if perr != nil {
				return value.Unspecified, false, nil, perr
			}
			// taken is -1 (no branch) or 0 (first/fallthrough continuation)
			// for an ordinary primop, or 1 for a boolean primop's false
			// branch; in.Conts holds an instruction index for each
			// continuation AFTER the first, so the false branch is
			// in.Conts[taken-1].
			if taken <= 0 {
				i++
			} else {
				i = in.Conts[taken-1]
			}

		default:
			return value.Unspecified, false, nil, fmt.Errorf("vmasm: unknown opcode %d", in.Op)
		}
	}
}

// procFor decodes a code-block value (as produced by Finish, or the
// code field of a closure record) back to its Proc.
func (a *Assembler) procFor(v value.Word) (*Proc, error) {
	code := v
	if v.IsRecord() {
		code = a.h.ClosureCode(v)
	}
	if !code.IsBytesPtr() {
		return nil, fmt.Errorf("%w: jump target is not a code value", suoerr.ErrDispatch)
	}
	idx, ok := decodeProcIndex(a.h.CodeBlockBytes(code))
	if !ok || idx < 0 || idx >= len(a.procs) {
		return nil, fmt.Errorf("%w: corrupt code-block proc index", suoerr.ErrDispatch)
	}
	return a.procs[idx], nil
}

// haltClosure lazily builds the one-instruction proc/closure pair that
// Run installs as the top-level continuation: its sole instruction reads
// the result out of the register the App-dispatch convention places a
// single-argument continuation's value in (signature 2*argc with
// argc=2 for self+value puts it at register 2) and stops execution.
func (a *Assembler) haltClosure() (value.Word, error) {
	if a.halt != 0 {
		return a.halt, nil
	}
	p := &Proc{Name: "<halt>", Signature: 4, Instrs: []Instr{{Op: OpHalt, Reg: 2}}}
	a.procs = append(a.procs, p)
	idx := len(a.procs) - 1
	code, err := a.h.NewCodeBlock(encodeProcIndex(idx), nil)
	if err != nil {
		return value.Unspecified, err
	}
	vec, err := a.h.NewVector(0)
	if err != nil {
		return value.Unspecified, err
	}
	closure, err := a.h.NewClosure(a.wk, code, value.MakeVector(vec))
	if err != nil {
		return value.Unspecified, err
	}
	a.halt = closure
	return closure, nil
}

func (a *Assembler) resolveOperand(regs []value.Word, op Operand) value.Word {
	switch {
	case op.IsReg:
		return regs[op.Reg]
	case op.IsName:
		return a.globals[op.Name]
	default:
		return op.Quote
	}
}

// execPrimop dispatches one primitive operation. It returns the index of
// the taken continuation for a branching primop (0 true / 1 false), or
// -1 for an ordinary value-producing primop that always falls through to
// Conts[0].
func (a *Assembler) execPrimop(regs []value.Word, in Instr) (int, error) {
	args := make([]value.Word, len(in.Args))
	for i, op := range in.Args {
		args[i] = a.resolveOperand(regs, op)
	}
	setResult := func(i int, v value.Word) {
		if i < len(in.Results) {
			regs[in.Results[i]] = v
		}
	}

	switch in.Name {
	case cps.PrimVarRef:
		setResult(0, a.globals[in.Args[0].Name])
		return -1, nil
	case cps.PrimVarSet:
		a.globals[in.Args[0].Name] = args[1]
		return -1, nil

	case cps.PrimBoxMake:
		b, err := a.h.NewBox(a.wk, args[0])
		if err != nil {
			return 0, err
		}
		setResult(0, b)
		return -1, nil
	case cps.PrimBoxRef:
		setResult(0, a.h.BoxRef(args[0]))
		return -1, nil
	case cps.PrimBoxSet:
		a.h.BoxSet(args[0], args[1])
		return -1, nil

	case cps.PrimVectorMake:
		addr, err := a.h.NewVector(int(args[0].Int()))
		if err != nil {
			return 0, err
		}
		v := value.MakeVector(addr)
		for i := 0; i < int(args[0].Int()); i++ {
			a.h.VectorSet(v, i, value.Unspecified)
		}
		setResult(0, v)
		return -1, nil
	case cps.PrimVectorRef:
		setResult(0, a.h.VectorRef(args[0], int(args[1].Int())))
		return -1, nil
	case cps.PrimVectorSet:
		a.h.VectorSet(args[0], int(args[1].Int()), args[2])
		return -1, nil

	case cps.PrimRecordMake:
		r, err := a.h.NewRecord(a.wk.ClosureType, []value.Word{args[0], args[1]})
		if err != nil {
			return 0, err
		}
		setResult(0, r)
		return -1, nil
	case cps.PrimRecordRef:
		setResult(0, a.h.RecordRef(args[0], int(args[1].Int())))
		return -1, nil

	case cps.PrimIfRecordP:
		if args[0].IsRecord() && a.h.IsInstanceOf(args[0], a.wk.ClosureType) {
			return 0, nil
		}
		return 1, nil

	case cps.PrimSyscall:
		return 0, fmt.Errorf("%w: syscall trap (not a closure)", suoerr.ErrDispatch)

	case cps.PrimBottom:
		return -1, nil

	case "sum":
		acc := int32(0)
		for _, v := range args {
			acc += v.Int()
		}
		setResult(0, value.MakeInt(acc))
		return -1, nil
	case "mul":
		acc := int32(1)
		for _, v := range args {
			acc *= v.Int()
		}
		setResult(0, value.MakeInt(acc))
		return -1, nil
	case "if":
		if args[0].Truthy() {
			return 0, nil
		}
		return 1, nil

	default:
		return 0, fmt.Errorf("vmasm: unknown primop %q", in.Name)
	}
}
