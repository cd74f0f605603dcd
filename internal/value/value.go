// Package value implements the tagged 32-bit word representation that
// every Suo runtime object reduces to: small integers, heap pointers, and
// the "111"-family of immediates and object headers.
package value

//go:generate go run golang.org/x/tools/cmd/stringer -type Tag -output tag_string.go

// Word is a single tagged 32-bit runtime value.
type Word uint32

// Tag is the low-order classification of a Word. Two widths are used: a
// 2-bit tag (Tag2) separates integers from everything else; a 3-bit tag
// (Tag3) further distinguishes pointer kinds.
type Tag uint8

const (
	tag2Mask Word = 0x3
	tag3Mask Word = 0x7
	tag6Mask Word = 0x3f
)

// 3-bit tags. Integers match either TagIntLow or TagIntHigh — both have a
// Tag2 of 0, and the differing third bit is simply the integer's own low
// value bit.
const (
	TagIntLow      Tag = 0b000
	TagPair        Tag = 0b001
	TagVector      Tag = 0b010
	TagRecord      Tag = 0b011
	TagIntHigh     Tag = 0b100
	TagBytes       Tag = 0b101 // byte-vector / code-block pointer
	TagDescHeader  Tag = 0b110 // record-descriptor header
	TagImmediate   Tag = 0b111 // character, boolean, nil, unspecified, header
)

// 2-bit tags, the coarser classification.
const (
	Tag2Int    Word = 0b00
	Tag2Pair   Word = 0b01
	Tag2Vector Word = 0b10
	Tag2Record Word = 0b11
)

// Within the TagImmediate family, six low bits select the exact immediate.
const (
	Imm6Vector    Word = 0b001111 // vector header; rest of word = length in words
	Imm6ByteVec   Word = 0b000111 // byte-vector header; rest = length in bytes
	Imm6CodeBlock Word = 0b010111 // code-block header; like byte-vector, tagged as code
	Imm6Char      Word = 0b100111 // character; rest (24 bits) = code point
	Imm6Special   Word = 0b110111 // false/true/nil/unspecified, selected by payload
)

// Special payload values living under Imm6Special.
const (
	SpecialFalse = iota
	SpecialTrue
	SpecialNil
	SpecialUnspecified
)

const (
	// IntBits is the number of value bits available to a small integer.
	IntBits = 30
	// IntMin and IntMax bound the representable small-integer range.
	IntMin = -(1 << (IntBits - 1))
	IntMax = (1 << (IntBits - 1)) - 1
)

// Tag2 returns the coarse 2-bit tag of w.
func (w Word) Tag2() Word { return w & tag2Mask }

// Tag3 returns the 3-bit pointer-kind tag of w.
func (w Word) Tag3() Tag { return Tag(w & tag3Mask) }

// Imm6 returns the 6-bit immediate discriminator of w. Only meaningful
// when Tag3 is TagImmediate.
func (w Word) Imm6() Word { return w & tag6Mask }

// IsInt reports whether w encodes a small integer.
func (w Word) IsInt() bool { return w.Tag2() == Tag2Int }

// IsPointer reports whether w is a pointer into the heap (pair, vector,
// record, byte-vector, or code-block).
func (w Word) IsPointer() bool {
	switch w.Tag3() {
	case TagPair, TagVector, TagRecord, TagBytes:
		return true
	default:
		return false
	}
}

// IsDescriptorHeader reports whether w is a record-descriptor header —
// only legal as the first word of a record.
func (w Word) IsDescriptorHeader() bool { return w.Tag3() == TagDescHeader }

// IsImmediate reports whether w is a character, boolean, nil, unspecified,
// or an object header (vector/byte-vector/code-block).
func (w Word) IsImmediate() bool { return w.Tag3() == TagImmediate }

// IsHeader reports whether w's first-word shape identifies a non-pair
// heap object: either a TagImmediate header or a TagDescHeader.
//
// This is the predicate the copying GC's scanner uses to tell pairs from
// every other object shape (spec §3.1 invariant): a pair's first word is
// never a header of either form.
func (w Word) IsHeader() bool { return w.IsImmediate() || w.IsDescriptorHeader() }

// MakeInt constructs a small-integer Word. The caller must ensure n is in
// [IntMin, IntMax]; IsIntInRange validates this ahead of time.
func MakeInt(n int32) Word { return Word(uint32(n) << 2) }

// IsIntInRange reports whether n fits in the small-integer range.
func IsIntInRange(n int64) bool { return n >= IntMin && n <= IntMax }

// Int extracts the signed integer value of an int-tagged Word.
func (w Word) Int() int32 { return int32(w) >> 2 }

// pointerAddrMask clears the 3-bit pointer tag, leaving the base byte
// address. Objects are always allocated on an 8-byte (2-word) boundary,
// so these three low bits are always free for pointers.
const pointerAddrMask Word = ^tag3Mask

// Addr returns the tag-stripped base byte address of a pointer Word.
func (w Word) Addr() uint32 { return uint32(w & pointerAddrMask) }

// WithAddr rewrites w's address bits, keeping its tag. Used by the GC when
// installing a forwarding pointer or relocating a value.
func (w Word) WithAddr(addr uint32) Word {
	return Word(addr&uint32(pointerAddrMask)) | (w & tag3Mask)
}

// MakePointer builds a pointer Word of the given kind at a byte address.
// addr must already be 8-byte aligned.
func MakePointer(tag Tag, addr uint32) Word {
	return Word(addr) | Word(tag)
}

// --- Immediates ---

// Nil, Unspecified, True, and False are the four well-known special
// immediates.
var (
	Nil         = makeSpecial(SpecialNil)
	Unspecified = makeSpecial(SpecialUnspecified)
	True        = makeSpecial(SpecialTrue)
	False       = makeSpecial(SpecialFalse)
)

func makeSpecial(payload int) Word {
	return Imm6Special | Word(payload)<<6
}

// IsNil, IsUnspecified, IsTrue, IsFalse test against the well-known
// special immediates.
func (w Word) IsNil() bool         { return w == Nil }
func (w Word) IsUnspecified() bool { return w == Unspecified }
func (w Word) IsTrue() bool        { return w == True }
func (w Word) IsFalse() bool       { return w == False }

// IsBoolean reports whether w is #t or #f.
func (w Word) IsBoolean() bool { return w == True || w == False }

// Bool converts a Go bool to the Suo boolean Word. Note that, per Scheme
// convention elsewhere in the runtime, only #f is falsy: every other value
// (including 0 and '()) is truthy. Bool itself just maps Go's two values.
func Bool(b bool) Word {
	if b {
		return True
	}
	return False
}

// Truthy reports whether w should be treated as true in a conditional.
// Only #f is false.
func (w Word) Truthy() bool { return w != False }

// MakeChar constructs a character Word from a Unicode code point.
func MakeChar(r rune) Word { return Imm6Char | Word(uint32(r))<<6 }

// IsChar reports whether w is a character.
func (w Word) IsChar() bool { return w.Tag3() == TagImmediate && w.Imm6() == Imm6Char }

// Char extracts the code point of a character Word.
func (w Word) Char() rune { return rune(uint32(w) >> 6) }

// --- Headers ---

// MakeVectorHeader builds a vector header word for a vector of length
// words.
func MakeVectorHeader(length int) Word { return Imm6Vector | Word(length)<<6 }

// IsVectorHeader reports whether w is a vector header.
func (w Word) IsVectorHeader() bool { return w.Tag3() == TagImmediate && w.Imm6() == Imm6Vector }

// VectorLength returns a vector header's length in words.
func (w Word) VectorLength() int { return int(uint32(w) >> 6) }

// MakeByteVectorHeader builds a byte-vector header for length bytes.
func MakeByteVectorHeader(length int) Word { return Imm6ByteVec | Word(length)<<6 }

// IsByteVectorHeader reports whether w is a plain (non-code) byte-vector
// header.
func (w Word) IsByteVectorHeader() bool { return w.Tag3() == TagImmediate && w.Imm6() == Imm6ByteVec }

// ByteVectorLength returns a byte-vector header's length in bytes.
func (w Word) ByteVectorLength() int { return int(uint32(w) >> 6) }

// MakeCodeBlockHeader builds a code-block header for a byte payload of
// the given length in bytes; the literal vector follows the byte payload.
func MakeCodeBlockHeader(byteLength int) Word { return Imm6CodeBlock | Word(byteLength)<<6 }

// IsCodeBlockHeader reports whether w is a code-block header.
func (w Word) IsCodeBlockHeader() bool { return w.Tag3() == TagImmediate && w.Imm6() == Imm6CodeBlock }

// CodeBlockByteLength returns a code-block header's payload length in
// bytes (not counting the trailing literal vector).
func (w Word) CodeBlockByteLength() int { return int(uint32(w) >> 6) }

// --- Pointer constructors ---

// MakePair constructs a pair pointer at addr.
func MakePair(addr uint32) Word { return MakePointer(TagPair, addr) }

// MakeVector constructs a vector pointer at addr.
func MakeVector(addr uint32) Word { return MakePointer(TagVector, addr) }

// MakeRecord constructs a record pointer at addr.
func MakeRecord(addr uint32) Word { return MakePointer(TagRecord, addr) }

// MakeBytes constructs a byte-vector/code-block pointer at addr.
func MakeBytes(addr uint32) Word { return MakePointer(TagBytes, addr) }

// IsPair, IsVector, IsRecord, and IsBytesPtr test the pointer kind.
func (w Word) IsPair() bool     { return w.Tag3() == TagPair }
func (w Word) IsVector() bool   { return w.Tag3() == TagVector }
func (w Word) IsRecord() bool   { return w.Tag3() == TagRecord }
func (w Word) IsBytesPtr() bool { return w.Tag3() == TagBytes }

// IsForwarded reports whether w looks like a forwarding pointer: tagged
// as a pair, but (per the GC's contract) only ever installed over an
// object's first word during a collection, and validated by the caller
// against the active new-space bounds.
func (w Word) IsForwarded() bool { return w.Tag3() == TagPair }
