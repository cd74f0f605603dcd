// Command suo is the bootstrap runtime's entry point: it owns the heap,
// the symbol table, and the evaluator, and drives them in one of three
// modes — batch (spec §8's end-to-end scenarios: read/eval/write forms
// from stdin to stdout until EOF), an interactive REPL over a raw
// terminal, or the Emacs-side wire server of spec §6. Flags are parsed
// with the standard library's flag package; no third-party CLI library
// is used.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"suo.dev/suo/internal/booteval"
	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/log"
	"suo.dev/suo/internal/sexpr"
	"suo.dev/suo/internal/value"
	"suo.dev/suo/internal/wire"
)

func main() {
	heapWords := flag.Int("heap-words", heap.DefaultWords, "word capacity of each semi-space")
	debugGC := flag.Bool("debug-gc", false, "force a collection before every allocation")
	checkGC := flag.Bool("check-gc", false, "run the heap consistency checker around every collection")
	repl := flag.Bool("repl", false, "run an interactive read-eval-print loop instead of batch mode")
	listen := flag.String("listen", "", "serve the Emacs-side wire protocol on this address instead of reading stdin")
	logLevel := flag.String("log-level", "warn", "debug, info, warn, or error")
	loadImage := flag.String("load-image", "", "restore the heap from a saved image before starting")
	saveImage := flag.String("save-image", "", "save the heap to this path on a clean exit")
	flag.Parse()

	setLogLevel(*logLevel)

	h, err := heap.New(*heapWords)
	if err != nil {
		fatal(err)
	}
	defer h.Close()
	h.DebugGC = *debugGC
	h.CheckGC = *checkGC

	wk, err := h.Bootstrap()
	if err != nil {
		fatal(err)
	}

	if *loadImage != "" {
		f, err := os.Open(*loadImage)
		if err != nil {
			fatal(err)
		}
		err = h.LoadImage(f)
		f.Close()
		if err != nil {
			fatal(err)
		}
	}

	switch {
	case *listen != "":
		if err := serveWire(h, wk, *listen); err != nil {
			fatal(err)
		}
	case *repl:
		runREPL(h, wk)
	default:
		runBatch(h, wk, os.Stdin, os.Stdout)
	}

	if *saveImage != "" {
		f, err := os.Create(*saveImage)
		if err != nil {
			fatal(err)
		}
		err = h.SaveImage(f)
		f.Close()
		if err != nil {
			fatal(err)
		}
	}
}

func setLogLevel(name string) {
	switch name {
	case "debug":
		log.LogLevel.Set(log.Debug)
	case "info":
		log.LogLevel.Set(log.Info)
	case "error":
		log.LogLevel.Set(log.Error)
	default:
		log.LogLevel.Set(log.Warn)
	}
	log.SetOutput(os.Stderr)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// evalForm bridges one reader datum through the bootstrap evaluator: it
// translates a parenthesised #@op form into the operation-vector shape
// spec §4.5 requires, then evaluates it in the empty top-level
// environment. This is the whole pipeline spec §8's end-to-end scenarios
// exercise.
func evalForm(ev *booteval.Evaluator, h *heap.Heap, form value.Word) (value.Word, error) {
	op, err := booteval.FromSExpr(h, form)
	if err != nil {
		return value.Unspecified, err
	}
	return ev.Eval(op, value.Nil)
}

// runBatch reads forms from in until EOF, evaluating and printing each in
// turn. A reader syntax error is diagnosed and the loop continues to the
// next datum (spec §7: "diagnostic, returned value is unspecified"); an
// evaluator error is a fatal abort, per spec §7's "uncovered path" policy
// for the bootstrap evaluator.
func runBatch(h *heap.Heap, wk *heap.WellKnown, in io.Reader, out io.Writer) {
	rd, err := sexpr.NewReader(h, wk, in)
	if err != nil {
		fatal(err)
	}
	defer rd.Close()
	wr := sexpr.NewWriter(h, wk, out)
	ev := booteval.New(h, wk)

	for {
		form, err := rd.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Default().Warn("reader syntax error", log.String("err", err.Error()))
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		result, err := evalForm(ev, h, form)
		if err != nil {
			log.Default().Error("evaluator error", log.String("err", err.Error()))
			fatal(err)
		}
		if err := wr.Write(result); err != nil {
			fatal(err)
		}
		fmt.Fprintln(out)
	}
}

// runREPL drives the same read/eval/write pipeline as runBatch over a raw
// terminal so line editing and #\ character echoes behave like a real
// console, grounded on smoynes-elsie/internal/tty's *term.Terminal usage.
// Unlike runBatch, an evaluator error here is reported and the loop
// continues — a REPL that aborted the process on the first typo would be
// unusable; this deviation from spec §7's literal "fatal abort" policy
// only applies
// to this interactive convenience mode, not to the batch/self-hosting
// path spec §8 actually tests.
func runREPL(h *heap.Heap, wk *heap.WellKnown) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		runBatch(h, wk, os.Stdin, os.Stdout)
		return
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		fatal(err)
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "suo> ")

	ev := booteval.New(h, wk)
	for {
		line, err := t.ReadLine()
		if err == io.EOF {
			fmt.Fprint(os.Stdout, "\r\n")
			return
		}
		if err != nil {
			fatal(err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		rd, err := sexpr.NewReader(h, wk, strings.NewReader(line))
		if err != nil {
			fmt.Fprintf(t, "%s\r\n", err)
			continue
		}
		form, err := rd.Read()
		rd.Close()
		if err == io.EOF {
			continue
		}
		if err != nil {
			fmt.Fprintf(t, "%s\r\n", err)
			continue
		}

		result, err := evalForm(ev, h, form)
		if err != nil {
			fmt.Fprintf(t, "%s\r\n", err)
			continue
		}
		var out strings.Builder
		if err := sexpr.NewWriter(h, wk, &out).Write(result); err != nil {
			fmt.Fprintf(t, "%s\r\n", err)
			continue
		}
		fmt.Fprintf(t, "%s\r\n", out.String())
	}
}

// serveWire accepts connections on addr and serves each with the
// internal/wire protocol. Requests from every connection are serialized
// through one mutex around the shared heap and evaluator, preserving
// spec §5's single-threaded execution model even though network I/O
// itself runs across goroutines (the same split the teacher and
// smoynes-elsie's tty package make between concurrent I/O and a
// sequential machine).
func serveWire(h *heap.Heap, wk *heap.WellKnown, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Default().Info("wire: listening", log.String("addr", addr))

	var mu sync.Mutex
	ev := booteval.New(h, wk)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, h, wk, ev, &mu)
	}
}

func serveConn(conn net.Conn, h *heap.Heap, wk *heap.WellKnown, ev *booteval.Evaluator, mu *sync.Mutex) {
	defer conn.Close()
	srv, err := wire.NewServer(h, wk, conn)
	if err != nil {
		log.Default().Error("wire: new server", log.String("err", err.Error()))
		return
	}
	defer srv.Close()

	err = srv.Serve(func(req value.Word) (value.Word, error) {
		mu.Lock()
		defer mu.Unlock()
		return evalForm(ev, h, req)
	})
	if err != nil {
		log.Default().Warn("wire: connection ended", log.String("err", err.Error()))
	}
}
