package cps

// AllocateRegisters performs spec §4.10's register allocation: each
// func boundary starts a fresh numbering scope with no liveness
// analysis, assigning the next index (starting at 1; 0 is reserved) to
// every variable newly bound within it, in the order the tree binds
// them — parameters first, then each primop result as it's reached.
// Binding occurrences stay *Var (Params, Primop.Results and a Func's
// own Name are all typed that way) but their ID is replaced by the
// assigned register number; every *reference* occurrence becomes a Reg
// carrying that same number.
func AllocateRegisters(root Node) Node {
	ra := &regAlloc{}
	counter := 0
	return ra.renumber(root, map[*Var]int{}, &counter)
}

type regAlloc struct{}

func cloneEnv(env map[*Var]int) map[*Var]int {
	out := make(map[*Var]int, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	return out
}

func (ra *regAlloc) renumber(n Node, env map[*Var]int, counter *int) Node {
	switch t := n.(type) {
	case *Var:
		if idx, ok := env[t]; ok {
			return &Reg{Index: idx}
		}
		return t
	case *Quote:
		return t
	case *Reg:
		return t
	case *App:
		fn := ra.renumber(t.Func, env, counter)
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = ra.renumber(a, env, counter)
		}
		return &App{Func: fn, Args: args, Rest: t.Rest}
	case *Fun:
		return ra.renumberFun(t, env, counter)
	case *Fix:
		return ra.renumberFix(t, env, counter)
	case *Primop:
		args := make([]Node, len(t.Args))
		for i, a := range t.Args {
			args[i] = ra.renumber(a, env, counter)
		}
		newEnv := env
		newResults := t.Results
		if len(t.Results) > 0 {
			newEnv = cloneEnv(env)
			newResults = make([]*Var, len(t.Results))
			for i, r := range t.Results {
				*counter++
				newResults[i] = &Var{Name: r.Name, ID: *counter, Boxed: r.Boxed}
				newEnv[r] = *counter
			}
		}
		conts := make([]Node, len(t.Conts))
		for i, k := range t.Conts {
			conts[i] = ra.renumber(k, newEnv, counter)
		}
		return &Primop{Op: t.Op, Results: newResults, Args: args, Conts: conts}
	default:
		return n
	}
}

// allocFuncBoundary numbers one Func's own scope, starting a fresh
// counter at 0 (first assignment is 1) for its parameters and body.
func (ra *regAlloc) allocFuncBoundary(f *Func) *Func {
	localCounter := 0
	localEnv := map[*Var]int{}
	params := make([]*Var, len(f.Params))
	for i, p := range f.Params {
		localCounter++
		params[i] = &Var{Name: p.Name, ID: localCounter, Boxed: p.Boxed}
		localEnv[p] = localCounter
	}
	body := ra.renumber(f.Body, localEnv, &localCounter)
	return &Func{Name: f.Name, Params: params, Rest: f.Rest, Body: body}
}

// renumberFun allocates F's own scope independently. F.Name itself is
// deliberately left out of env: closure conversion's buildCaptureVector
// is the only place that still references a Fun's own name directly
// (quoting the code it compiles to, by *Var pointer identity, into the
// closure record it builds) — every other reference to the function was
// already rewritten to go through its closure record during closure
// conversion. Registerising F.Name here would hide that pointer behind
// a Reg with no runtime register actually holding it.
func (ra *regAlloc) renumberFun(t *Fun, env map[*Var]int, counter *int) Node {
	newFunc := ra.allocFuncBoundary(t.F)
	newCont := ra.renumber(t.Cont, env, counter)
	return &Fun{F: newFunc, Cont: newCont}
}

func (ra *regAlloc) renumberFix(t *Fix, env map[*Var]int, counter *int) Node {
	newFuncs := make([]*Func, len(t.Funcs))
	for i, f := range t.Funcs {
		newFuncs[i] = ra.allocFuncBoundary(f)
	}
	newBody := ra.renumber(t.Body, env, counter)
	return &Fix{Funcs: newFuncs, Body: newBody}
}
