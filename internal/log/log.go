// Package log provides the structured diagnostics used by the heap, the
// reader, and the bootstrap evaluator. Adapted from smoynes-elsie's
// internal/log package: a custom slog.Handler with a plain-text block
// format, so GC and reader diagnostics read the same way across the
// runtime instead of each component rolling its own Printf calls.
package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"
)

type (
	Attr   = slog.Attr
	Level  = slog.Level
	Logger = slog.Logger
)

const (
	Debug = slog.LevelDebug
	Info  = slog.LevelInfo
	Warn  = slog.LevelWarn
	Error = slog.LevelError
)

var (
	String = slog.String
	Int    = slog.Int
	Any    = slog.Any
)

// LogLevel is shared across every component that logs through this package;
// changing it at runtime (e.g. from cmd/suo's -log-level flag) affects all of them.
var LogLevel = &slog.LevelVar{}

var defaultLogger = NewFormattedLogger(nil)

// Default returns the process-wide logger. Components should call this
// once during construction and keep the result rather than calling it on
// every log line.
func Default() *Logger { return defaultLogger }

// SetOutput redirects the default logger's output — tests use this to
// silence or capture diagnostics.
func SetOutput(w io.Writer) { defaultLogger = NewFormattedLogger(w) }

// NewFormattedLogger builds a Logger writing formatted records to out. A
// nil out is replaced by io.Discard, so every record is dropped.
func NewFormattedLogger(out io.Writer) *Logger {
	if out == nil {
		out = io.Discard
	}
	return slog.New(newHandler(out))
}

// handler implements slog.Handler writing one line per record:
// "TIME LEVEL msg (file:line) key=value ...", with keys lower-cased.
type handler struct {
	mut   *sync.Mutex
	out   io.Writer
	opts  *slog.HandlerOptions
	group string
	attrs []Attr
}

func newHandler(out io.Writer) *handler {
	return &handler{
		out: out,
		mut: new(sync.Mutex),
		opts: &slog.HandlerOptions{
			AddSource: true,
			Level:     LogLevel,
		},
	}
}

func (h *handler) Enabled(_ context.Context, level Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *handler) Handle(_ context.Context, rec slog.Record) error {
	buf := bytes.NewBuffer(make([]byte, 0, 256))

	fmt.Fprintf(buf, "%s %-5s %s", rec.Time.Format(time.RFC3339Nano), rec.Level, rec.Message)

	if h.opts.AddSource && rec.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{rec.PC})
		f, _ := frames.Next()
		_, file := path.Split(f.File)
		fmt.Fprintf(buf, " (%s:%d)", file, f.Line)
	}

	for _, a := range h.attrs {
		fmt.Fprintf(buf, " %s=%v", strings.ToLower(a.Key), a.Value.Any())
	}
	rec.Attrs(func(a Attr) bool {
		fmt.Fprintf(buf, " %s=%v", strings.ToLower(a.Key), a.Value.Any())
		return true
	})
	fmt.Fprintln(buf)

	h.mut.Lock()
	defer h.mut.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &handler{mut: h.mut, out: h.out, opts: h.opts, attrs: h.attrs, group: name}
}

func (h *handler) WithAttrs(attrs []Attr) slog.Handler {
	as := make([]Attr, 0, len(h.attrs)+len(attrs))
	as = append(as, h.attrs...)
	as = append(as, attrs...)
	return &handler{mut: h.mut, out: h.out, opts: h.opts, attrs: as, group: h.group}
}
