package heap

import (
	"fmt"

	"suo.dev/suo/internal/value"
)

// CheckConsistency runs the two-pass debug heap check described in spec
// §4.2: pass 1 builds a shadow map giving the size of the object
// starting at each word offset in the active space (0 for interior
// words); pass 2 validates that every pointer in the heap lands on an
// object start, and that headers never appear as ordinary field
// contents. It returns every violation found; an empty slice means the
// heap is consistent.
func (h *Heap) CheckConsistency() []error {
	base := h.spaceBase(h.active)
	limit := base + h.alloc
	words := h.words()

	sizeAt := make([]int, h.alloc)

	// Pass 1: shadow map of object sizes.
	pos := base
	for pos < limit {
		isPair := isPairFirstWord(words[pos])
		_, size := describeSized(words, pos, isPair)
		if size <= 0 {
			// A bare `abort` (without call parens) in the original source
			// marks this branch; the evident intent is to invoke the abort
			// function. Reproduced as a direct panic, per spec §9.
			panic(fmt.Sprintf("heap: consistency check: non-positive object size %d at %d", size, pos))
		}
		sizeAt[pos-base] = size
		pos += align(size)
	}

	var errs []error
	checkSlot := func(owner int, v Word) {
		if !v.IsPointer() {
			return
		}
		idx := int(v.Addr()) / wordBytes
		if idx < base || idx >= limit {
			errs = append(errs, fmt.Errorf("heap: pointer at word %d targets out-of-range address %d", owner, idx))
			return
		}
		if sizeAt[idx-base] == 0 {
			errs = append(errs, fmt.Errorf("heap: pointer at word %d targets interior word %d, not an object start", owner, idx))
		}
		if words[idx].IsHeader() && v.Tag3() != value.TagDescHeader {
			// A header value must never appear as the content of an
			// ordinary field; only a record's descriptor slot is allowed
			// to reference one with a TagDescHeader-tagged pointer.
			errs = append(errs, fmt.Errorf("heap: field at word %d points at a header word %d used as ordinary content", owner, idx))
		}
	}

	// Pass 2: validate every payload pointer.
	pos = base
	for pos < limit {
		isPair := isPairFirstWord(words[pos])
		kind, size := describeSized(words, pos, isPair)
		switch kind {
		case kindPair:
			checkSlot(pos, words[pos])
			checkSlot(pos+1, words[pos+1])
		case kindVector:
			for i := 1; i < size; i++ {
				checkSlot(pos+i, words[pos+i])
			}
		case kindRecord:
			n := words[int(words[pos].Addr())/wordBytes+1].Int()
			if n > 0 {
				for i := 1; i <= int(n); i++ {
					checkSlot(pos+i, words[pos+i])
				}
			}
		case kindCode:
			first := words[pos]
			byteWords := (first.CodeBlockByteLength() + wordBytes - 1) / wordBytes
			litBegin := pos + 1 + byteWords
			for i := litBegin; i < pos+size; i++ {
				checkSlot(i, words[i])
			}
		case kindBytes:
		}
		pos += align(size)
	}

	return errs
}
