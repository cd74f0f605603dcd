//go:build linux || darwin || freebsd

package heap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// arena is a fixed-capacity, page-backed block of heap words spanning
// BOTH semi-spaces as one contiguous mapping. On unix-like hosts it is a
// private anonymous mmap so that growing the process's heap (in the
// Go-runtime sense) never competes with Suo's own fixed-size semi-spaces
// — the two allocators stay observably separate, which makes the "heap
// exhaustion is fatal, not resizable" contract in spec §4.1 honest rather
// than merely simulated.
//
// The two semi-spaces must occupy disjoint address ranges (as they would
// as adjacent regions in the original implementation this spec
// describes): that is what lets the collector recognise a forwarding
// pointer purely by "is this address inside the other semi-space", with
// no ambiguity against an unforwarded object's own payload words, which
// can only ever hold addresses from the *before-this-collection* active
// space.
//
// Grounded on smoynes-elsie/cmd/internal/tty/tty_linux.go's per-OS build
// tag split and its golang.org/x/sys/unix usage.
type arena struct {
	mem []byte
}

func newArena(totalWords int) (*arena, error) {
	size := totalWords * wordBytes
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("heap: mmap %d bytes: %w", size, err)
	}
	return &arena{mem: mem}, nil
}

func (a *arena) words() []Word {
	if len(a.mem) == 0 {
		return nil
	}
	return unsafe.Slice((*Word)(unsafe.Pointer(&a.mem[0])), len(a.mem)/wordBytes)
}

func (a *arena) close() error {
	if a.mem == nil {
		return nil
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
