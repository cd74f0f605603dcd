package vmasm

import (
	"suo.dev/suo/internal/codegen"
	"suo.dev/suo/internal/value"
)

// heapAdapter satisfies codegen.HeapLike by closing over the well-known
// type table codegen.Ctxt itself has no business knowing about — it only
// needs a code value and a captured vector, never the descriptor that
// says "this is a closure".
type heapAdapter struct{ a *Assembler }

// HeapLike returns the adapter internal/codegen.Driver.Compile needs to
// build the outer program's closure-type record.
func (a *Assembler) HeapLike() codegen.HeapLike { return heapAdapter{a: a} }

func (h heapAdapter) NewVector(length int) (uint32, error) { return h.a.h.NewVector(length) }

func (h heapAdapter) NewClosure(code, captured value.Word) (value.Word, error) {
	return h.a.h.NewClosure(h.a.wk, code, captured)
}
