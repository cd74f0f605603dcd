package cps

// ConvertClosures performs spec §4.9's closure conversion: every Fun's
// Func gains an explicit leading "self" parameter carrying the closure
// record (code label plus captured values), each of the Func's free
// variables is read out of that record instead of the enclosing scope,
// and every App dispatches through an if-record? guard that fetches the
// callee's code field on the true branch and falls back to a syscall
// trap (spec's "error:not-a-closure/syscall fallback") on the false
// branch. After this pass no Func has any transitively free variable
// left except references to other funcs' record values and top-level
// quoted data.
func ConvertClosures(root Node) Node {
	cc := &closureConv{analysis: NewAnalysis()}
	return cc.convert(root, map[*Var]Node{})
}

type closureConv struct {
	analysis *Analysis
	next     int
}

func (cc *closureConv) fresh(name string) *Var {
	cc.next++
	return &Var{Name: name, ID: cc.next}
}

func resolve(subst map[*Var]Node, v *Var) Node {
	if n, ok := subst[v]; ok {
		return n
	}
	return v
}

func extend(subst map[*Var]Node, k *Var, v Node) map[*Var]Node {
	out := make(map[*Var]Node, len(subst)+1)
	for sk, sv := range subst {
		out[sk] = sv
	}
	out[k] = v
	return out
}

func (cc *closureConv) convert(n Node, subst map[*Var]Node) Node {
	switch t := n.(type) {
	case *Var:
		return resolve(subst, t)
	case *Quote:
		return t
	case *Reg:
		return t
	case *App:
		fn := cc.convert(t.Func, subst)
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = cc.convert(a, subst)
		}
		return cc.dispatchCall(fn, args, t.Rest)
	case *Fun:
		return cc.convertFun(t, subst)
	case *Fix:
		return cc.convertFix(t, subst)
	case *Primop:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = cc.convert(a, subst)
		}
		conts := make([]Node, len(t.Conts))
		for i, k := range t.Conts {
			conts[i] = cc.convert(k, subst)
		}
		return &Primop{Op: t.Op, Results: t.Results, Args: args, Conts: conts}
	default:
		return n
	}
}

// convertFun closure-converts a single function binding: it captures
// Free(F) into a record and rewrites F to take that record as its new
// leading parameter.
func (cc *closureConv) convertFun(t *Fun, subst map[*Var]Node) Node {
	f := t.F
	free := cc.analysis.Free(f).Sorted()

	selfVar := cc.fresh("self")
	capVars := make([]*Var, len(free))
	bodySubst := map[*Var]Node{f.Name: selfVar}
	for i, fv := range free {
		capVars[i] = cc.fresh(fv.Name + "$cap")
		bodySubst[fv] = capVars[i]
	}

	// Captures live in a single vector field of the closure record
	// (heap.WellKnown.ClosureType is fixed at [code, captured *vector]),
	// so reading one back is two hops: the record's captured field,
	// then that vector at the free variable's index.
	newBody := cc.convert(f.Body, bodySubst)
	if len(free) > 0 {
		capVec := cc.fresh("captures")
		for i := len(free) - 1; i >= 0; i-- {
			newBody = &Primop{
				Op:      PrimVectorRef,
				Results: []*Var{capVars[i]},
				Args:    []Node{capVec, &Quote{Value: int64(i)}},
				Conts:   []Node{newBody},
			}
		}
		newBody = &Primop{
			Op:      PrimRecordRef,
			Results: []*Var{capVec},
			Args:    []Node{selfVar, &Quote{Value: int64(1)}},
			Conts:   []Node{newBody},
		}
	}

	newFunc := &Func{Name: f.Name, Params: append([]*Var{selfVar}, f.Params...), Rest: f.Rest, Body: newBody}

	recordVar := cc.fresh(f.Name.Name)
	newCont := cc.convert(t.Cont, extend(subst, f.Name, recordVar))

	return &Fun{F: newFunc, Cont: cc.buildCaptureVector(free, subst, newFunc.Name, recordVar, newCont)}
}

// buildCaptureVector emits the vector-make + one vector-set per free
// variable + record-make sequence that allocates a closure's capture
// vector and wraps it with its code pointer into a closure-type record.
func (cc *closureConv) buildCaptureVector(free []*Var, subst map[*Var]Node, codeVar *Var, recordVar *Var, cont Node) Node {
	vecVar := cc.fresh("capvec")
	tail := &Primop{
		Op:      PrimRecordMake,
		Results: []*Var{recordVar},
		Args:    []Node{codeVar, vecVar},
		Conts:   []Node{cont},
	}
	var body Node = tail
	for i := len(free) - 1; i >= 0; i-- {
		body = &Primop{
			Op:    PrimVectorSet,
			Args:  []Node{vecVar, &Quote{Value: int64(i)}, resolve(subst, free[i])},
			Conts: []Node{body},
		}
	}
	return &Primop{
		Op:      PrimVectorMake,
		Results: []*Var{vecVar},
		Args:    []Node{&Quote{Value: int64(len(free))}},
		Conts:   []Node{body},
	}
}

// convertFix handles the letrec-style mutually-recursive binding form.
// The mini-language converter (convert.go) never produces Fix — every
// :lambda closure-converts through convertFun alone — so this supports
// only the subset Fix reduces to in practice: each function may close
// over a sibling bound earlier in Funcs, not one bound later. Spec §4.9
// doesn't name a mutual-recursion story beyond "retained for
// completeness"; a true forward-reference scheme would need a
// box-or-patch protocol this pass doesn't implement.
func (cc *closureConv) convertFix(t *Fix, subst map[*Var]Node) Node {
	cur := subst
	var nested func(i int) Node
	nested = func(i int) Node {
		if i == len(t.Funcs) {
			return cc.convert(t.Body, cur)
		}
		wrapped := cc.convertFun(&Fun{F: t.Funcs[i], Cont: &Quote{Value: unspecified{}}}, cur)
		fn, ok := wrapped.(*Fun)
		if !ok {
			return wrapped
		}
		// buildCaptureVector wraps the record-make in a vector-make/
		// vector-set prelude, so the record var and the splice point for
		// the rest of the Fix's bindings both live at the bottom of that
		// chain, not at fn.Cont itself.
		recordVar := recordMakeVar(fn.Cont)
		cur = extend(cur, t.Funcs[i].Name, recordVar)
		return &Fun{F: fn.F, Cont: spliceRecordCont(fn.Cont, nested(i+1))}
	}
	return nested(0)
}

// recordMakeVar walks a buildCaptureVector chain (vector-make, then a
// vector-set per captured slot) down to its terminal record-make and
// returns the var that primop binds the closure record to.
func recordMakeVar(n Node) *Var {
	p := n.(*Primop)
	if p.Op == PrimRecordMake {
		return p.Results[0]
	}
	return recordMakeVar(p.Conts[0])
}

// spliceRecordCont rebuilds a buildCaptureVector chain with the
// terminal record-make's continuation replaced by newCont.
func spliceRecordCont(n Node, newCont Node) Node {
	p := n.(*Primop)
	if p.Op == PrimRecordMake {
		return &Primop{Op: p.Op, Results: p.Results, Args: p.Args, Conts: []Node{newCont}}
	}
	return &Primop{Op: p.Op, Results: p.Results, Args: p.Args, Conts: []Node{spliceRecordCont(p.Conts[0], newCont)}}
}

// dispatchCall builds the uniform call-site dispatch spec §4.9
// describes: fetch the callee's code field if it is a closure record,
// otherwise fall back to dispatchErrorHandler.
func (cc *closureConv) dispatchCall(fn Node, args []Node, rest bool) Node {
	codeVar := cc.fresh("code")
	trueBranch := &Primop{
		Op:      PrimRecordRef,
		Results: []*Var{codeVar},
		Args:    []Node{fn, &Quote{Value: int64(0)}},
		Conts:   []Node{&App{Func: codeVar, Args: append([]Node{fn}, args...), Rest: rest}},
	}
	falseBranch := cc.dispatchErrorHandler(fn, args, rest)
	return &Primop{Op: PrimIfRecordP, Args: []Node{fn}, Conts: []Node{trueBranch, falseBranch}}
}

// dispatchErrorHandler builds the two-level fallback spec §4.9 and §7's
// runtime-dispatch row describe for a call whose callee isn't a closure
// record: look up the well-known error:not-a-closure top-level binding;
// if it is itself bound to a closure, call it (passing the attempted
// callee and its arguments) the same way an ordinary App dispatches;
// otherwise trap through the syscall primop.
func (cc *closureConv) dispatchErrorHandler(fn Node, args []Node, rest bool) Node {
	handlerVar := cc.fresh("error:not-a-closure")
	handlerCodeVar := cc.fresh("handler_code")

	callHandler := &Primop{
		Op:      PrimRecordRef,
		Results: []*Var{handlerCodeVar},
		Args:    []Node{handlerVar, &Quote{Value: int64(0)}},
		Conts:   []Node{&App{Func: handlerCodeVar, Args: append([]Node{handlerVar, fn}, args...), Rest: rest}},
	}
	trap := &Primop{
		Op:    PrimSyscall,
		Args:  append([]Node{fn}, args...),
		Conts: []Node{&Primop{Op: PrimBottom}},
	}
	guard := &Primop{Op: PrimIfRecordP, Args: []Node{handlerVar}, Conts: []Node{callHandler, trap}}

	return &Primop{
		Op:      PrimVarRef,
		Results: []*Var{handlerVar},
		Args:    []Node{&Quote{Value: "error:not-a-closure"}},
		Conts:   []Node{guard},
	}
}
