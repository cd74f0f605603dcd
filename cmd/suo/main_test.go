package main

import (
	"strings"
	"testing"

	"suo.dev/suo/internal/heap"
)

// TestBatchEndToEnd feeds the opcode-evaluation scenarios of spec §8 on
// stdin and checks the exact stdout lines the spec documents. The
// remaining three scenarios there (quote echoing, string escaping, and
// improper-list printing) are not run through runBatch; internal/sexpr's
// tests cover reading and writing the quote abbreviation (printed as
// (quote ...)), string escapes and improper lists.
func TestBatchEndToEnd(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"sum", "(#@sum 1 2 3)\n", "6\n"},
		{"mul-of-sum", "(#@mul 2 (#@sum 3 4))\n", "14\n"},
		{"if-true", "(#@if #t 1 2)\n", "1\n"},
		{"if-false", "(#@if #f 1 2)\n", "2\n"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h, err := heap.New(4096)
			if err != nil {
				t.Fatal(err)
			}
			defer h.Close()
			wk, err := h.Bootstrap()
			if err != nil {
				t.Fatal(err)
			}

			var out strings.Builder
			runBatch(h, wk, strings.NewReader(c.input), &out)
			if out.String() != c.want {
				t.Errorf("input %q: got %q, want %q", c.input, out.String(), c.want)
			}
		})
	}
}

func TestBatchMultipleForms(t *testing.T) {
	h, err := heap.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	runBatch(h, wk, strings.NewReader("(#@sum 1 2 3)\n(#@if #f 1 2)\n"), &out)
	want := "6\n2\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
