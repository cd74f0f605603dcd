package heap

import "suo.dev/suo/internal/value"

// WellKnown holds the process-global type records named in spec §5:
// record-type-type, string-type, symbol-type, function-type, plus the two
// this expansion's CPS pipeline needs, closure-type and box-type. All of
// them must be registered as GC roots for the lifetime of the heap.
//
// Field layouts are an Open Question spec.md leaves unresolved beyond
// "strings/symbols are records whose descriptor is the well-known
// X-type" — see DESIGN.md for the decision recorded here: strings and
// symbols are fixed-shape (S>0) records holding ONE pointer field each
// (to a raw byte-vector, or to a name string, respectively), rather than
// using the S<0 "N raw bytes inline" record shape directly, because that
// shape is fixed per descriptor and cannot vary per instance the way a
// string's length must.
type WellKnown struct {
	RecordTypeType Word // descriptor of all descriptors; self-referential
	StringType     Word // fields: [bytes *byte-vector]
	SymbolType     Word // fields: [name *string]
	FunctionType   Word // fields: [body/code, env]
	ClosureType    Word // fields: [code *code-block, captured *vector]
	BoxType        Word // fields: [value]

	internTable Word // a 511-bucket vector; each bucket a pair-list of symbols
}

const symbolBuckets = 511

// Bootstrap allocates the well-known type records and the symbol-intern
// table, and registers them (plus the intern table) as permanent GC
// roots. Call this once, immediately after New.
func (h *Heap) Bootstrap() (*WellKnown, error) {
	wk := &WellKnown{}

	// record-type-type is self-referential: reserve its slot, install the
	// header pointing at its own address, then fill the payload — the
	// two-step protocol spec §9 prescribes for cyclic structures.
	addr, err := h.Allocate(2)
	if err != nil {
		return nil, err
	}
	h.SetWord(addr, value.Word(addr)|value.Word(value.TagDescHeader))
	h.SetWordAt(addr, 1, value.MakeInt(1))
	wk.RecordTypeType = value.MakeRecord(addr)

	wk.StringType, err = h.newDescriptor(wk.RecordTypeType, 1)
	if err != nil {
		return nil, err
	}
	wk.SymbolType, err = h.newDescriptor(wk.RecordTypeType, 1)
	if err != nil {
		return nil, err
	}
	wk.FunctionType, err = h.newDescriptor(wk.RecordTypeType, 2)
	if err != nil {
		return nil, err
	}
	wk.ClosureType, err = h.newDescriptor(wk.RecordTypeType, 2)
	if err != nil {
		return nil, err
	}
	wk.BoxType, err = h.newDescriptor(wk.RecordTypeType, 1)
	if err != nil {
		return nil, err
	}

	tableAddr, err := h.NewVector(symbolBuckets)
	if err != nil {
		return nil, err
	}
	for i := 0; i < symbolBuckets; i++ {
		h.SetWordAt(tableAddr, 1+i, value.Nil)
	}
	wk.internTable = value.MakeVector(tableAddr)

	h.PushRoot(&wk.RecordTypeType)
	h.PushRoot(&wk.StringType)
	h.PushRoot(&wk.SymbolType)
	h.PushRoot(&wk.FunctionType)
	h.PushRoot(&wk.ClosureType)
	h.PushRoot(&wk.BoxType)
	h.PushRoot(&wk.internTable)

	return wk, nil
}

func (h *Heap) newDescriptor(recordTypeType Word, fieldCount int) (Word, error) {
	addr, err := h.Allocate(2)
	if err != nil {
		return 0, err
	}
	h.SetWord(addr, value.Word(recordTypeType.Addr())|value.Word(value.TagDescHeader))
	h.SetWordAt(addr, 1, value.MakeInt(int32(fieldCount)))
	return value.MakeRecord(addr), nil
}

// --- Pairs ---

// NewPair allocates a pair with the given car/cdr.
func (h *Heap) NewPair(car, cdr Word) (Word, error) {
	addr, err := h.Allocate(2)
	if err != nil {
		return 0, err
	}
	h.SetWord(addr, car)
	h.SetWordAt(addr, 1, cdr)
	return value.MakePair(addr), nil
}

func (h *Heap) Car(p Word) Word { return h.Word(p.Addr()) }
func (h *Heap) Cdr(p Word) Word { return h.WordAt(p.Addr(), 1) }

func (h *Heap) SetCar(p Word, v Word) { h.SetWord(p.Addr(), v) }
func (h *Heap) SetCdr(p Word, v Word) { h.SetWordAt(p.Addr(), 1, v) }

// --- Vectors ---

// NewVector allocates an uninitialised vector of length words. Callers
// must fill every slot (even with Unspecified) before the next
// allocation point.
func (h *Heap) NewVector(length int) (uint32, error) {
	addr, err := h.Allocate(1 + length)
	if err != nil {
		return 0, err
	}
	h.SetWord(addr, value.MakeVectorHeader(length))
	return addr, nil
}

func (h *Heap) VectorLength(v Word) int { return h.Word(v.Addr()).VectorLength() }
func (h *Heap) VectorRef(v Word, i int) Word { return h.WordAt(v.Addr(), 1+i) }
func (h *Heap) VectorSet(v Word, i int, x Word) { h.SetWordAt(v.Addr(), 1+i, x) }

// --- Byte vectors ---

// NewByteVector allocates a byte-vector object with the given contents.
func (h *Heap) NewByteVector(data []byte) (Word, error) {
	words := (len(data) + wordBytes - 1) / wordBytes
	addr, err := h.Allocate(1 + words)
	if err != nil {
		return 0, err
	}
	h.SetWord(addr, value.MakeByteVectorHeader(len(data)))
	h.SetBytes(addr+wordBytes, data)
	return value.MakeBytes(addr), nil
}

func (h *Heap) ByteVectorLength(b Word) int { return h.Word(b.Addr()).ByteVectorLength() }

func (h *Heap) ByteVectorBytes(b Word) []byte {
	n := h.ByteVectorLength(b)
	return h.Bytes(b.Addr()+wordBytes, n)
}

// --- Code blocks ---

// NewCodeBlock allocates a code block: header + byte payload + a literal
// vector whose first entry is the literal-end word offset (object-base
// relative), per spec §3.2.
func (h *Heap) NewCodeBlock(code []byte, literals []Word) (Word, error) {
	byteWords := (len(code) + wordBytes - 1) / wordBytes
	litWords := 1 + len(literals) // +1 for the leading lit-end marker word
	addr, err := h.Allocate(1 + byteWords + litWords)
	if err != nil {
		return 0, err
	}
	h.SetWord(addr, value.MakeCodeBlockHeader(len(code)))
	h.SetBytes(addr+wordBytes, code)
	litBase := int(addr)/wordBytes + 1 + byteWords
	litEnd := litBase + litWords
	// The stored value is the object-base-relative offset of the block's
	// last word (litEnd-1), so describeSized's `size = code-literal-end + 1`
	// computation (spec §9) covers exactly header, payload and literals.
	h.SetWordAt(addr, 1+byteWords, value.MakeInt(int32(litEnd-1-int(addr)/wordBytes)))
	for i, lit := range literals {
		h.SetWordAt(addr, 1+byteWords+1+i, lit)
	}
	return value.MakeBytes(addr), nil
}

func (h *Heap) CodeBlockBytes(c Word) []byte {
	n := h.Word(c.Addr()).CodeBlockByteLength()
	return h.Bytes(c.Addr()+wordBytes, n)
}

func (h *Heap) CodeBlockLiteral(c Word, i int) Word {
	byteWords := (h.Word(c.Addr()).CodeBlockByteLength() + wordBytes - 1) / wordBytes
	return h.WordAt(c.Addr(), 1+byteWords+1+i)
}

// --- Records ---

// NewRecord allocates a record of the given descriptor with fields
// already known. The descriptor's field-count sign convention governs
// whether fields are value words (S>0, len(fields) must equal S) or raw
// bytes (S<0; fields is ignored and rawBytes is used instead — pass nil
// rawBytes and a positive-field descriptor for the common case).
func (h *Heap) NewRecord(descriptor Word, fields []Word) (Word, error) {
	addr, err := h.Allocate(1 + len(fields))
	if err != nil {
		return 0, err
	}
	h.SetWord(addr, value.Word(descriptor.Addr())|value.Word(value.TagDescHeader))
	for i, f := range fields {
		h.SetWordAt(addr, 1+i, f)
	}
	return value.MakeRecord(addr), nil
}

func (h *Heap) RecordDescriptor(r Word) Word {
	return value.MakeRecord(h.Word(r.Addr()).Addr())
}

func (h *Heap) RecordFieldCount(descriptor Word) int32 {
	return h.WordAt(descriptor.Addr(), 1).Int()
}

func (h *Heap) RecordRef(r Word, i int) Word   { return h.WordAt(r.Addr(), 1+i) }
func (h *Heap) RecordSet(r Word, i int, v Word) { h.SetWordAt(r.Addr(), 1+i, v) }

// IsInstanceOf reports whether r's descriptor is exactly descriptor (by
// address equality, since descriptors aren't deduplicated beyond
// identity).
func (h *Heap) IsInstanceOf(r Word, descriptor Word) bool {
	return r.IsRecord() && h.Word(r.Addr()).Addr() == descriptor.Addr()
}

// --- Strings ---

// NewString allocates a string record: a StringType record wrapping a
// fresh byte-vector holding s's bytes.
func (h *Heap) NewString(wk *WellKnown, s string) (Word, error) {
	bv, err := h.NewByteVector([]byte(s))
	if err != nil {
		return 0, err
	}
	var str Word
	h.WithRoots(func() {
		str, err = h.NewRecord(wk.StringType, []Word{bv})
	}, &bv)
	return str, err
}

// StringGo reads a string record back into a Go string.
func (h *Heap) StringGo(r Word) string {
	bv := h.RecordRef(r, 0)
	return string(h.ByteVectorBytes(bv))
}

// --- Symbols ---

func symbolHash(name string) int {
	h := 0
	for i := 0; i < len(name); i++ {
		h = (h*131 + int(name[i])) % symbolBuckets
	}
	if h < 0 {
		h += symbolBuckets
	}
	return h
}

// Intern returns the unique symbol record for name, allocating and
// recording one in the intern table's bucket if this is the first time
// name has been seen. Symbols are compared (and can be compared by
// callers) for equality using plain pointer/address equality thereafter.
func (h *Heap) Intern(wk *WellKnown, name string) (Word, error) {
	bucket := symbolHash(name)
	entry := h.VectorRef(wk.internTable, bucket)
	for entry != value.Nil {
		sym := h.Car(entry)
		if h.StringGo(h.RecordRef(sym, 0)) == name {
			return sym, nil
		}
		entry = h.Cdr(entry)
	}

	// wk.internTable is a permanent GC root (pushed in Bootstrap), so it's
	// always read fresh here rather than held in a local across the
	// allocations below — only nameStr and sym are Go locals that need
	// their own roots to survive a collection mid-Intern.
	nameStr, err := h.NewString(wk, name)
	if err != nil {
		return 0, err
	}
	var sym Word
	h.WithRoots(func() {
		sym, err = h.NewRecord(wk.SymbolType, []Word{nameStr})
	}, &nameStr)
	if err != nil {
		return 0, err
	}
	var newEntry Word
	h.WithRoots(func() {
		newEntry, err = h.NewPair(sym, h.VectorRef(wk.internTable, bucket))
	}, &sym)
	if err != nil {
		return 0, err
	}
	h.VectorSet(wk.internTable, bucket, newEntry)
	return sym, nil
}

func (h *Heap) IsSymbol(wk *WellKnown, r Word) bool { return h.IsInstanceOf(r, wk.SymbolType) }
func (h *Heap) IsString(wk *WellKnown, r Word) bool { return h.IsInstanceOf(r, wk.StringType) }

func (h *Heap) SymbolName(r Word) string { return h.StringGo(h.RecordRef(r, 0)) }

// --- Functions (bootstrap evaluator closures) ---

// NewFunction allocates a function record as the bootstrap evaluator
// produces for a :lambda form: its body form plus the captured
// environment chain.
func (h *Heap) NewFunction(wk *WellKnown, body, env Word) (Word, error) {
	return h.NewRecord(wk.FunctionType, []Word{body, env})
}

func (h *Heap) FunctionBody(f Word) Word { return h.RecordRef(f, 0) }
func (h *Heap) FunctionEnv(f Word) Word  { return h.RecordRef(f, 1) }
func (h *Heap) IsFunction(wk *WellKnown, r Word) bool { return h.IsInstanceOf(r, wk.FunctionType) }

// --- Closures (post closure-conversion) ---

// NewClosure allocates a closure record: a code block and its captured
// free-variable vector.
func (h *Heap) NewClosure(wk *WellKnown, code, captured Word) (Word, error) {
	return h.NewRecord(wk.ClosureType, []Word{code, captured})
}

func (h *Heap) ClosureCode(c Word) Word      { return h.RecordRef(c, 0) }
func (h *Heap) ClosureCaptured(c Word) Word  { return h.RecordRef(c, 1) }
func (h *Heap) IsClosure(wk *WellKnown, r Word) bool { return h.IsInstanceOf(r, wk.ClosureType) }

// --- Boxes (mutable, set!-able bindings) ---

func (h *Heap) NewBox(wk *WellKnown, v Word) (Word, error) {
	return h.NewRecord(wk.BoxType, []Word{v})
}

func (h *Heap) BoxRef(b Word) Word      { return h.RecordRef(b, 0) }
func (h *Heap) BoxSet(b Word, v Word)   { h.RecordSet(b, 0, v) }
func (h *Heap) IsBox(wk *WellKnown, r Word) bool { return h.IsInstanceOf(r, wk.BoxType) }
