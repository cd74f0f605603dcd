package cps

// VarSet is a de-duplicated, unordered set of variables — spec §4.8
// notes that set ordering is never externally observable.
type VarSet map[*Var]struct{}

func newVarSet(vs ...*Var) VarSet {
	s := make(VarSet, len(vs))
	for _, v := range vs {
		s[v] = struct{}{}
	}
	return s
}

func (s VarSet) has(v *Var) bool { _, ok := s[v]; return ok }

func union(sets ...VarSet) VarSet {
	out := VarSet{}
	for _, s := range sets {
		for v := range s {
			out[v] = struct{}{}
		}
	}
	return out
}

func minus(a, b VarSet) VarSet {
	out := VarSet{}
	for v := range a {
		if !b.has(v) {
			out[v] = struct{}{}
		}
	}
	return out
}

// Analysis memoises used/bound/free per node identity (spec §4.8): the
// tree is immutable after construction, so a node's three sets never
// need recomputing once seen.
type Analysis struct {
	usedC  map[Node]VarSet
	boundC map[Node]VarSet
	freeC  map[Node]VarSet
}

// NewAnalysis builds an empty, ready-to-use cache.
func NewAnalysis() *Analysis {
	return &Analysis{
		usedC:  map[Node]VarSet{},
		boundC: map[Node]VarSet{},
		freeC:  map[Node]VarSet{},
	}
}

// Used returns the set of variables referenced anywhere under n,
// without regard to whether they are bound within n — spec §4.8's
// structural definition.
func (a *Analysis) Used(n Node) VarSet {
	if s, ok := a.usedC[n]; ok {
		return s
	}
	var s VarSet
	switch t := n.(type) {
	case *Var:
		s = newVarSet(t)
	case *Quote, *Reg:
		s = VarSet{}
	case *App:
		sets := []VarSet{a.Used(t.Func)}
		for _, arg := range t.Args {
			sets = append(sets, a.Used(arg))
		}
		s = union(sets...)
	case *Func:
		s = a.Used(t.Body)
	case *Fix:
		sets := []VarSet{a.Used(t.Body)}
		for _, f := range t.Funcs {
			sets = append(sets, a.Used(f))
		}
		s = union(sets...)
	case *Fun:
		s = union(a.Used(t.F), a.Used(t.Cont))
	case *Primop:
		var sets []VarSet
		for _, arg := range t.Args {
			sets = append(sets, a.Used(arg))
		}
		for _, cont := range t.Conts {
			sets = append(sets, a.Used(cont))
		}
		s = union(sets...)
	default:
		s = VarSet{}
	}
	a.usedC[n] = s
	return s
}

// Bound returns every variable introduced anywhere under n: func
// parameters, primop results, and fix/fun func labels.
func (a *Analysis) Bound(n Node) VarSet {
	if s, ok := a.boundC[n]; ok {
		return s
	}
	var s VarSet
	switch t := n.(type) {
	case *Var, *Quote, *Reg:
		s = VarSet{}
	case *App:
		sets := []VarSet{a.Bound(t.Func)}
		for _, arg := range t.Args {
			sets = append(sets, a.Bound(arg))
		}
		s = union(sets...)
	case *Func:
		s = union(newVarSet(t.Params...), a.Bound(t.Body))
	case *Fix:
		names := make([]*Var, len(t.Funcs))
		sets := []VarSet{a.Bound(t.Body)}
		for i, f := range t.Funcs {
			names[i] = f.Name
			sets = append(sets, a.Bound(f))
		}
		s = union(append(sets, newVarSet(names...))...)
	case *Fun:
		s = union(newVarSet(t.F.Name), a.Bound(t.F), a.Bound(t.Cont))
	case *Primop:
		sets := []VarSet{newVarSet(t.Results...)}
		for _, arg := range t.Args {
			sets = append(sets, a.Bound(arg))
		}
		for _, cont := range t.Conts {
			sets = append(sets, a.Bound(cont))
		}
		s = union(sets...)
	default:
		s = VarSet{}
	}
	a.boundC[n] = s
	return s
}

// Free returns the variables n references but does not itself bind,
// computed structurally with boundary removal at each binding form
// (func parameters at the func boundary, the fix/fun func label at the
// fix/fun boundary, primop results at the primop boundary) rather than
// as a flat Used(n) \ Bound(n) over the whole subtree — the two only
// coincide once every nested binder has already removed its own names,
// which is exactly what this recursive definition does.
func (a *Analysis) Free(n Node) VarSet {
	if s, ok := a.freeC[n]; ok {
		return s
	}
	var s VarSet
	switch t := n.(type) {
	case *Var:
		s = newVarSet(t)
	case *Quote, *Reg:
		s = VarSet{}
	case *App:
		sets := []VarSet{a.Free(t.Func)}
		for _, arg := range t.Args {
			sets = append(sets, a.Free(arg))
		}
		s = union(sets...)
	case *Func:
		s = minus(a.Free(t.Body), newVarSet(t.Params...))
	case *Fix:
		names := make([]*Var, len(t.Funcs))
		sets := []VarSet{a.Free(t.Body)}
		for i, f := range t.Funcs {
			names[i] = f.Name
			sets = append(sets, a.Free(f))
		}
		s = minus(union(sets...), newVarSet(names...))
	case *Fun:
		s = minus(union(a.Free(t.F), a.Free(t.Cont)), newVarSet(t.F.Name))
	case *Primop:
		var sets []VarSet
		for _, arg := range t.Args {
			sets = append(sets, a.Free(arg))
		}
		for _, cont := range t.Conts {
			sets = append(sets, a.Free(cont))
		}
		s = minus(union(sets...), newVarSet(t.Results...))
	default:
		s = VarSet{}
	}
	a.freeC[n] = s
	return s
}

// Sorted returns s's members in a deterministic order (by ID, then
// Name), for tests and for closure conversion's capture-vector layout,
// which must assign each free variable a stable slot.
func (s VarSet) Sorted() []*Var {
	out := make([]*Var, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func less(a, b *Var) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Name < b.Name
}
