// Package heap implements the bump allocator and Cheney-style copying
// collector described in spec §4.1/§4.2: two fixed-capacity semi-spaces,
// 8-byte (2-word) aligned allocation, and a process-global root stack that
// every host caller must register pointers-to-slots on before an
// allocation can move them.
package heap

import (
	"fmt"
	"os"

	"suo.dev/suo/internal/log"
	"suo.dev/suo/internal/suoerr"
	"suo.dev/suo/internal/value"
)

// Word is re-exported from internal/value so this package's public API
// doesn't force every caller to import both.
type Word = value.Word

const wordBytes = 4

// DefaultWords is the default semi-space capacity named in spec §4.1.
const DefaultWords = 217_000

// Heap owns both semi-spaces, addressed as one contiguous arena so that
// every live pointer's byte address is globally unique across the whole
// heap — the property the collector's forwarding-pointer check relies on
// (see gc.go).
type Heap struct {
	wordsPerSpace int // capacity of a single semi-space, in words
	arena         *arena
	active        int // 0 or 1: which half is the current allocation space
	alloc         int // bump pointer, word offset *within the active half*
	roots         []*Word
	DebugGC       bool // force a collection before every allocation
	CheckGC       bool // run the consistency checker around every collection
	Log           *log.Logger
	nCollect      int
}

// New creates a Heap with two semi-spaces of the given word capacity each.
func New(words int) (*Heap, error) {
	if words <= 0 {
		words = DefaultWords
	}
	a, err := newArena(words * 2)
	if err != nil {
		return nil, fmt.Errorf("heap: allocate arena: %w", err)
	}
	return &Heap{wordsPerSpace: words, arena: a, Log: log.Default()}, nil
}

// Close releases the arena's backing memory.
func (h *Heap) Close() error { return h.arena.close() }

// spaceBase returns the absolute word index where semi-space i begins.
func (h *Heap) spaceBase(i int) int { return i * h.wordsPerSpace }

// words is the flat, whole-arena word slice; every heap address (and
// every WordAt/SetWordAt offset) is an absolute index into it.
func (h *Heap) words() []Word { return h.arena.words() }

// PushRoot registers a pointer to a value slot on the root stack. Callers
// must pop every root they push, in strict LIFO order, before returning —
// spec §3.3's ownership invariant. PushRoot returns a token to pass to
// PopRoot as a cheap "you popped the one you pushed" sanity check.
func (h *Heap) PushRoot(slot *Word) int {
	h.roots = append(h.roots, slot)
	return len(h.roots) - 1
}

// PopRoot removes the most recently pushed root. tok must equal the value
// returned by the matching PushRoot.
func (h *Heap) PopRoot(tok int) {
	if tok != len(h.roots)-1 {
		panic("heap: PopRoot out of LIFO order")
	}
	h.roots = h.roots[:tok]
}

// WithRoots registers slots as roots for the duration of fn, in the order
// given, and pops them afterwards — a convenience wrapper around
// PushRoot/PopRoot for the common case.
func (h *Heap) WithRoots(fn func(), slots ...*Word) {
	toks := make([]int, len(slots))
	for i, s := range slots {
		toks[i] = h.PushRoot(s)
	}
	defer func() {
		for i := len(toks) - 1; i >= 0; i-- {
			h.PopRoot(toks[i])
		}
	}()
	fn()
}

// align rounds n up to the nearest even word count, preserving 8-byte
// alignment for the next object.
func align(n int) int { return (n + 1) &^ 1 }

// Allocate reserves n words in the active semi-space, running a
// collection first if debug mode demands it or if the bump pointer would
// overflow. It returns the absolute byte address of the first word; the
// caller must initialise every payload word before the next call to
// Allocate — spec §5's "no partially-initialised object survives to the
// next allocation point" contract.
func (h *Heap) Allocate(n int) (uint32, error) {
	size := align(n)
	if h.DebugGC || h.alloc+size > h.wordsPerSpace {
		h.Collect()
		if h.alloc+size > h.wordsPerSpace {
			return 0, fmt.Errorf("%w: requested %d words, %d available after collection",
				suoerr.ErrAllocation, size, h.wordsPerSpace-h.alloc)
		}
	}
	base := h.spaceBase(h.active) + h.alloc
	h.alloc += size
	words := h.words()
	for i := 0; i < size; i++ {
		words[base+i] = 0
	}
	return uint32(base * wordBytes), nil
}

// MustAllocate is Allocate but panics on failure, for the cmd/suo
// top-level driver where spec §6/§7 calls for a fatal "FULL" abort rather
// than a recoverable error.
func (h *Heap) MustAllocate(n int) uint32 {
	addr, err := h.Allocate(n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "FULL")
		panic(err)
	}
	return addr
}

// Word returns the word at absolute byte address addr.
func (h *Heap) Word(addr uint32) Word {
	return h.words()[addr/wordBytes]
}

// SetWord writes v at absolute byte address addr.
func (h *Heap) SetWord(addr uint32, v Word) {
	h.words()[addr/wordBytes] = v
}

// WordAt indexes by word offset from an absolute byte-address base —
// convenient when iterating a span of N words from an object's base.
func (h *Heap) WordAt(base uint32, offset int) Word {
	return h.words()[int(base)/wordBytes+offset]
}

// SetWordAt writes the word at base+offset (word units).
func (h *Heap) SetWordAt(base uint32, offset int, v Word) {
	h.words()[int(base)/wordBytes+offset] = v
}

// Bytes returns a byte-addressed view of n bytes starting at an absolute
// byte address, used for byte-vector and code-block payloads.
func (h *Heap) Bytes(base uint32, n int) []byte {
	words := h.words()[base/wordBytes:]
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		w := words[i/wordBytes]
		shift := uint((i % wordBytes) * 8)
		out[i] = byte(w >> shift)
	}
	return out
}

// SetBytes writes raw bytes into the heap starting at an absolute byte
// address, read-modify-writing the containing words.
func (h *Heap) SetBytes(base uint32, data []byte) {
	words := h.words()[base/wordBytes:]
	for i, b := range data {
		wi := i / wordBytes
		shift := uint((i % wordBytes) * 8)
		words[wi] = (words[wi] &^ (0xff << shift)) | Word(b)<<shift
	}
}

// UsedWords reports how many words of the active space are in use.
func (h *Heap) UsedWords() int { return h.alloc }

// Capacity reports the word capacity of a single semi-space.
func (h *Heap) Capacity() int { return h.wordsPerSpace }

// Collections reports how many collections have run.
func (h *Heap) Collections() int { return h.nCollect }
