package heap

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/mod/semver"
)

// ImageFormatVersion is stamped into every saved heap image. LoadImage
// refuses images whose version is not semver-compatible with this build,
// so an on-disk image format change can never be silently
// misinterpreted as live heap words.
const ImageFormatVersion = "v1.0.0"

// imageMagic distinguishes a Suo heap image from an arbitrary file.
const imageMagic = "SUOHEAP1"

// SaveImage writes the active semi-space's live words (only the bytes in
// [0, UsedWords)) to w, prefixed with a magic tag, the format version, and
// the word count, so LoadImage can validate before touching the heap.
func (h *Heap) SaveImage(w io.Writer) error {
	if _, err := io.WriteString(w, imageMagic); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, ImageFormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.alloc)); err != nil {
		return err
	}
	base := h.spaceBase(h.active)
	words := h.words()[base : base+h.alloc]
	return binary.Write(w, binary.LittleEndian, words)
}

// LoadImage resets the heap to an empty active space and replays a
// previously saved image's words into it. It is an error for the image's
// word count to exceed the heap's semi-space capacity, or for its format
// version to not be semver-compatible (same major version) with
// ImageFormatVersion.
func (h *Heap) LoadImage(r io.Reader) error {
	magic := make([]byte, len(imageMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("heap: read image magic: %w", err)
	}
	if string(magic) != imageMagic {
		return fmt.Errorf("heap: not a Suo heap image")
	}
	ver, err := readLenPrefixed(r)
	if err != nil {
		return fmt.Errorf("heap: read image version: %w", err)
	}
	if !semverCompatible(ImageFormatVersion, ver) {
		return fmt.Errorf("heap: image format %s is not compatible with runtime format %s", ver, ImageFormatVersion)
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("heap: read image word count: %w", err)
	}
	if int(n) > h.wordsPerSpace {
		return fmt.Errorf("heap: image has %d words, exceeds semi-space capacity %d", n, h.wordsPerSpace)
	}
	h.active = 0
	h.alloc = int(n)
	base := h.spaceBase(h.active)
	dst := h.words()[base : base+int(n)]
	if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
		return fmt.Errorf("heap: read image words: %w", err)
	}
	return nil
}

// semverCompatible reports whether a and b share a major version, the
// loose compatibility rule this format uses: new minor/patch versions may
// add image fields but never break old readers' ability to at least
// reject or ignore them at the major-version boundary.
func semverCompatible(a, b string) bool {
	av, bv := "v"+trimV(a), "v"+trimV(b)
	return semver.Compare(semver.Major(av), semver.Major(bv)) == 0
}

func trimV(v string) string {
	if len(v) > 0 && v[0] == 'v' {
		return v[1:]
	}
	return v
}

func writeLenPrefixed(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLenPrefixed(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
