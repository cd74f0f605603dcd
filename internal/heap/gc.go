package heap

import (
	"suo.dev/suo/internal/log"
	"suo.dev/suo/internal/value"
)

// objectKind records which branch of describeSized was used, so the
// scanner knows how to walk the payload afterwards.
type objectKind int

const (
	kindPair objectKind = iota
	kindVector
	kindRecord
	kindBytes
	kindCode
)

// describeSized classifies the object starting at absolute word index
// `at`, given whether its first word is pair-shaped (spec §3.1: a pair
// has no header — that is how it is told apart from everything else).
// size is the object's length in words, INCLUDING the first word, before
// 8-byte-alignment rounding.
func describeSized(words []Word, at int, isPairShape bool) (kind objectKind, size int) {
	if isPairShape {
		return kindPair, 2
	}
	first := words[at]
	switch {
	case first.IsVectorHeader():
		return kindVector, 1 + first.VectorLength()
	case first.IsByteVectorHeader():
		n := first.ByteVectorLength()
		return kindBytes, 1 + (n+wordBytes-1)/wordBytes
	case first.IsCodeBlockHeader():
		// Per spec §9's documented deviation: the literal-region size is
		// computed as (code-literal-end + 1), not accumulated onto an
		// uninitialised running total. code-literal-end is the first word
		// of the literal vector, at litBegin (the first word after the
		// byte payload), and holds the object-base-relative offset of the
		// block's last word.
		byteWords := (first.CodeBlockByteLength() + wordBytes - 1) / wordBytes
		litBegin := at + 1 + byteWords
		litEnd := int(words[litBegin].Int())
		return kindCode, litEnd + 1
	case first.IsDescriptorHeader():
		// A record: the first word points (TagDescHeader-tagged) at the
		// descriptor record, whose field 0 encodes the field count/shape.
		// The descriptor must already be copied, or mid-copy, before a
		// record's size is knowable — callers copy the descriptor first.
		descAddr := int(first.Addr()) / wordBytes
		n := words[descAddr+1].Int()
		if n < 0 {
			n = -n
		}
		return kindRecord, 1 + int(n)
	default:
		panic("heap: object first word is neither pair-shaped nor a recognised header")
	}
}

// isPairFirstWord reports whether w's shape is inconsistent with being a
// header or descriptor header — i.e. by exclusion, this word starts a
// pair. This is the predicate spec §3.1 calls out as "how a scanner tells
// pairs from other objects".
func isPairFirstWord(w Word) bool { return !w.IsHeader() }

// Collect runs one full Cheney-style stop-the-world collection: copy
// every value reachable from the root stack into the inactive semi-space,
// scan the copies for further pointers, then swap spaces.
//
// Forwarding-pointer detection relies on the two semi-spaces occupying
// disjoint absolute address ranges (see arena_unix.go/arena_other.go):
// before this collection starts, no live pointer's payload can already
// contain an address inside the destination half, so "first word is
// pair-tagged and its address falls inside the destination half" is an
// unambiguous signal that this object was already copied earlier in the
// same collection.
func (h *Heap) Collect() {
	h.nCollect++
	toSpace := 1 - h.active
	toBase := h.spaceBase(toSpace)
	words := h.words()

	if h.Log != nil {
		h.Log.Debug("gc: collection starting", log.Int("used_words", h.alloc))
	}

	if h.CheckGC {
		if errs := h.CheckConsistency(); len(errs) > 0 {
			panic(errs[0])
		}
	}

	scan := toBase
	alloc := toBase

	inToSpace := func(addr uint32) bool {
		idx := int(addr) / wordBytes
		return idx >= toBase && idx < toBase+h.wordsPerSpace
	}

	var copyValue func(v Word) Word
	copyValue = func(v Word) Word {
		if !v.IsPointer() {
			return v
		}
		wordIdx := int(v.Addr()) / wordBytes
		first := words[wordIdx]

		if first.Tag3() == value.TagPair && inToSpace(first.Addr()) {
			// Forwarded already: reinstall v's own tag (pair/vector/
			// record/bytes) over the new address.
			return v.WithAddr(first.Addr())
		}

		kind, size := describeSized(words, wordIdx, v.IsPair())
		aligned := align(size)
		base := alloc
		alloc += aligned
		copy(words[base:base+size], words[wordIdx:wordIdx+size])
		for i := size; i < aligned; i++ {
			words[base+i] = 0
		}
		newAddr := uint32(base * wordBytes)

		// Install the forwarding pointer over the object's old first word:
		// pair-tagged, pointing into the space we just copied into.
		words[wordIdx] = value.MakePair(newAddr)

		_ = kind
		return v.WithAddr(newAddr)
	}

	for _, slot := range h.roots {
		*slot = copyValue(*slot)
	}

	for scan < alloc {
		isPair := isPairFirstWord(words[scan])
		kind, size := describeSized(words, scan, isPair)

		switch kind {
		case kindPair:
			words[scan] = copyValue(words[scan])
			words[scan+1] = copyValue(words[scan+1])
		case kindVector:
			for i := 1; i < size; i++ {
				words[scan+i] = copyValue(words[scan+i])
			}
		case kindRecord:
			// Field 0 of the record's header is the descriptor pointer
			// itself (TagDescHeader-tagged); rewrite it to the post-copy
			// descriptor. Remaining fields are only value-slots when the
			// descriptor says so (positive field count); negative means
			// raw bytes, skipped.
			descWord := words[scan]
			newDesc := copyValue(value.MakeRecord(descWord.Addr()))
			words[scan] = value.Word(newDesc.Addr()) | value.Word(value.TagDescHeader)
			n := words[int(newDesc.Addr())/wordBytes+1].Int()
			if n > 0 {
				for i := 1; i <= int(n); i++ {
					words[scan+i] = copyValue(words[scan+i])
				}
			}
		case kindCode:
			first := words[scan]
			byteWords := (first.CodeBlockByteLength() + wordBytes - 1) / wordBytes
			litBegin := scan + 1 + byteWords
			litEnd := scan + size
			for i := litBegin; i < litEnd; i++ {
				words[i] = copyValue(words[i])
			}
		case kindBytes:
			// Raw payload, nothing to scan.
		}
		scan += align(size)
	}

	h.active = toSpace
	h.alloc = alloc - toBase

	if h.Log != nil {
		h.Log.Debug("gc: collection finished", log.Int("live_words", h.alloc))
	}

	if h.CheckGC {
		if errs := h.CheckConsistency(); len(errs) > 0 {
			panic(errs[0])
		}
	}
}
