package heap_test

import (
	"bytes"
	"testing"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/value"
)

func newTestHeap(t *testing.T, words int) (*heap.Heap, *heap.WellKnown) {
	t.Helper()
	h, err := heap.New(words)
	if err != nil {
		t.Fatalf("heap.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return h, wk
}

func TestPairRoundTrip(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	p, err := h.NewPair(value.MakeInt(1), value.MakeInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Car(p).Int(); got != 1 {
		t.Errorf("car = %d, want 1", got)
	}
	if got := h.Cdr(p).Int(); got != 2 {
		t.Errorf("cdr = %d, want 2", got)
	}
}

func TestInternIsUnique(t *testing.T) {
	h, wk := newTestHeap(t, 4096)

	a, err := h.Intern(wk, "hello")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Intern(wk, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("Intern returned distinct symbols for the same name: %v != %v", a, b)
	}
	c, err := h.Intern(wk, "world")
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Errorf("Intern returned the same symbol for distinct names")
	}
}

// TestGCRootSetCompleteness exercises spec §8's "root-set completeness":
// a value reachable only through a registered root survives a collection
// with its logical content unchanged, even though its address moves.
func TestGCRootSetCompleteness(t *testing.T) {
	h, wk := newTestHeap(t, 4096)

	str, err := h.NewString(wk, "round trip")
	if err != nil {
		t.Fatal(err)
	}
	root := str
	tok := h.PushRoot(&root)
	defer h.PopRoot(tok)

	oldAddr := root.Addr()
	h.Collect()

	if root.Addr() == oldAddr {
		t.Fatalf("expected collection to move the object")
	}
	if got := h.StringGo(root); got != "round trip" {
		t.Errorf("string content changed across GC: got %q", got)
	}
}

// TestGCIdempotence: running two back-to-back collections over the same
// reachable graph yields equal structural content.
func TestGCIdempotence(t *testing.T) {
	h, _ := newTestHeap(t, 4096)

	list := value.Nil
	for i := int32(0); i < 10; i++ {
		p, err := h.NewPair(value.MakeInt(i), list)
		if err != nil {
			t.Fatal(err)
		}
		list = p
	}
	root := list
	tok := h.PushRoot(&root)
	defer h.PopRoot(tok)

	h.Collect()
	snapshot := collectInts(h, root)

	h.Collect()
	again := collectInts(h, root)

	if len(snapshot) != len(again) {
		t.Fatalf("lengths differ: %v vs %v", snapshot, again)
	}
	for i := range snapshot {
		if snapshot[i] != again[i] {
			t.Errorf("element %d differs: %d vs %d", i, snapshot[i], again[i])
		}
	}
}

func collectInts(h *heap.Heap, list value.Word) []int32 {
	var out []int32
	for list != value.Nil {
		out = append(out, h.Car(list).Int())
		list = h.Cdr(list)
	}
	return out
}

func TestHeapCheckAfterCollection(t *testing.T) {
	h, wk := newTestHeap(t, 4096)
	h.CheckGC = true

	root := value.Nil
	tok := h.PushRoot(&root)
	defer h.PopRoot(tok)

	for i := 0; i < 5; i++ {
		s, err := h.NewString(wk, "item")
		if err != nil {
			t.Fatal(err)
		}
		p, err := h.NewPair(s, root)
		if err != nil {
			t.Fatal(err)
		}
		root = p
	}

	if errs := h.CheckConsistency(); len(errs) != 0 {
		t.Fatalf("CheckConsistency found errors: %v", errs)
	}
	h.Collect()
	if errs := h.CheckConsistency(); len(errs) != 0 {
		t.Fatalf("CheckConsistency after GC found errors: %v", errs)
	}
}

func TestAllocationFailureIsFatalAfterExhaustion(t *testing.T) {
	// Bootstrap takes 524 words (six 2-word descriptors and the 512-word
	// intern table); 1000 rooted pairs (2000 words) cannot fit in the rest.
	h, _ := newTestHeap(t, 1024)

	root := value.Nil
	tok := h.PushRoot(&root)
	defer h.PopRoot(tok)

	var err error
	for i := 0; i < 1000; i++ {
		var p value.Word
		p, err = h.NewPair(value.MakeInt(int32(i)), root)
		if err != nil {
			break
		}
		root = p
	}
	if err == nil {
		t.Fatalf("expected allocation to eventually fail on a tiny heap")
	}
}

func TestImageSaveLoadRoundTrip(t *testing.T) {
	h, wk := newTestHeap(t, 4096)

	root := value.Nil
	tok := h.PushRoot(&root)
	for i := int32(0); i < 3; i++ {
		p, err := h.NewPair(value.MakeInt(i), root)
		if err != nil {
			t.Fatal(err)
		}
		root = p
	}
	h.PopRoot(tok)
	_ = wk

	var buf bytes.Buffer
	if err := h.SaveImage(&buf); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	h2, err := heap.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close()
	if err := h2.LoadImage(&buf); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if h2.UsedWords() != h.UsedWords() {
		t.Errorf("UsedWords after load = %d, want %d", h2.UsedWords(), h.UsedWords())
	}
}
