// Package wire implements the Emacs-side client/server protocol sketched
// in spec §6: newline-delimited s-expressions flow in both directions
// over a single connection. A client sends a request form and blocks for
// the matching response; the server may additionally push asynchronous
// "(event <id> <tag> ...)" forms at any time, which the client queues and
// dispatches to handlers registered per (id, tag) pair instead of
// treating them as the answer to a pending request.
//
// The environment's own event loop and UI are out of scope (spec §1); this
// package only speaks the wire shape both sides must agree on, grounded on
// std/compiler/main.go's request-loop/flag-driven CLI structure and on the
// newline-delimited sketch of spec §6 itself.
package wire

import (
	"fmt"
	"io"
	"sync"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/sexpr"
	"suo.dev/suo/internal/value"
)

// HandleFunc answers one request form with a response form. An error
// returned here is fatal to the connection (spec §6: "request errors are
// fatal"), not to the process.
type HandleFunc func(req value.Word) (value.Word, error)

// Server serves requests arriving on a single connection, writing each
// response (and any events the caller chooses to emit) back on the same
// stream. It is not safe to call EmitEvent concurrently with Serve's own
// response-writing without holding wmu, which both paths do.
type Server struct {
	h   *heap.Heap
	wk  *heap.WellKnown
	rd  *sexpr.Reader
	wr  *sexpr.Writer
	out io.Writer

	wmu sync.Mutex
}

// NewServer builds a Server reading requests from rwc and writing
// responses/events back to it.
func NewServer(h *heap.Heap, wk *heap.WellKnown, rwc io.ReadWriter) (*Server, error) {
	rd, err := sexpr.NewReader(h, wk, rwc)
	if err != nil {
		return nil, err
	}
	return &Server{h: h, wk: wk, rd: rd, wr: sexpr.NewWriter(h, wk, rwc), out: rwc}, nil
}

// Close releases the reader's permanent roots. Call once Serve returns.
func (s *Server) Close() { s.rd.Close() }

// Serve reads requests until the connection closes (io.EOF) or handle
// returns an error, writing one response form per request. It returns nil
// on a clean EOF between requests.
func (s *Server) Serve(handle HandleFunc) error {
	for {
		req, err := s.rd.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wire: read request: %w", err)
		}
		resp, err := handle(req)
		if err != nil {
			return fmt.Errorf("wire: handle request: %w", err)
		}
		if err := s.writeLine(resp); err != nil {
			return fmt.Errorf("wire: write response: %w", err)
		}
	}
}

// EmitEvent pushes an asynchronous "(event <id> <tag> ...)" form. id and
// tag are pre-interned symbol values (see heap.Heap.Intern); args are
// appended as the event's payload.
func (s *Server) EmitEvent(eventSym, id, tag value.Word, args ...value.Word) error {
	form, err := s.buildEvent(eventSym, id, tag, args)
	if err != nil {
		return err
	}
	return s.writeLine(form)
}

func (s *Server) buildEvent(eventSym, id, tag value.Word, args []value.Word) (value.Word, error) {
	elems := append([]value.Word{eventSym, id, tag}, args...)
	list := value.Nil
	for i := len(elems) - 1; i >= 0; i-- {
		p, err := s.h.NewPair(elems[i], list)
		if err != nil {
			return value.Unspecified, err
		}
		list = p
	}
	return list, nil
}

func (s *Server) writeLine(v value.Word) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.wr.Write(v); err != nil {
		return err
	}
	_, err := io.WriteString(s.out, "\n")
	return err
}

// eventKey identifies one (id, tag) dispatch slot. Both are compared by
// the Go string the reader/writer round-trips them to, so the registered
// key need not itself live in the same heap instance the events arrive
// from.
type eventKey struct{ id, tag string }

// EventHandler receives the full event form's argument list (everything
// after id and tag).
type EventHandler func(args []value.Word)

// Client is the minimal request/response half of the Emacs-side protocol:
// enough to drive a Server and to demonstrate the event-queue/dispatch
// behaviour spec §6 describes, without implementing the actual editor UI
// (out of scope per spec §1).
type Client struct {
	h  *heap.Heap
	wk *heap.WellKnown
	rd *sexpr.Reader
	wr *sexpr.Writer
	rw io.ReadWriter

	mu       sync.Mutex
	handlers map[eventKey]EventHandler
	eventSym value.Word
	queue    []value.Word // events seen but not yet matched to a handler
}

// NewClient builds a Client over rwc. eventSym must be the interned
// symbol "event" from the same heap the connection's forms are read into.
func NewClient(h *heap.Heap, wk *heap.WellKnown, rwc io.ReadWriter, eventSym value.Word) (*Client, error) {
	rd, err := sexpr.NewReader(h, wk, rwc)
	if err != nil {
		return nil, err
	}
	return &Client{
		h: h, wk: wk, rd: rd, wr: sexpr.NewWriter(h, wk, rwc), rw: rwc,
		handlers: map[eventKey]EventHandler{}, eventSym: eventSym,
	}, nil
}

// Close releases the reader's permanent roots.
func (c *Client) Close() { c.rd.Close() }

// On registers fn to run the next time an event with this (id, tag) pair
// arrives, including any already queued. id and tag are the event's
// payload symbols compared by SymbolName.
func (c *Client) On(id, tag string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventKey{id, tag}] = fn
	c.drainLocked()
}

// Request writes req and blocks for the matching response, transparently
// queuing and dispatching any events received in between — spec §6's
// "events are queued and dispatched" behaviour, applied on the client
// side of the connection.
func (c *Client) Request(req value.Word) (value.Word, error) {
	if err := c.wr.Write(req); err != nil {
		return value.Unspecified, fmt.Errorf("wire: write request: %w", err)
	}
	if _, err := io.WriteString(c.rw, "\n"); err != nil {
		return value.Unspecified, fmt.Errorf("wire: write request: %w", err)
	}
	for {
		form, err := c.rd.Read()
		if err != nil {
			return value.Unspecified, fmt.Errorf("wire: read response: %w", err)
		}
		if c.isEvent(form) {
			c.mu.Lock()
			c.queue = append(c.queue, form)
			c.drainLocked()
			c.mu.Unlock()
			continue
		}
		return form, nil
	}
}

func (c *Client) isEvent(form value.Word) bool {
	if !form.IsPair() {
		return false
	}
	return c.h.Car(form) == c.eventSym
}

// drainLocked dispatches every queued event whose (id, tag) now has a
// registered handler, in arrival order, and drops it from the queue.
// Events with no matching handler remain queued indefinitely, mirroring
// an editor-side event loop that hasn't subscribed yet.
func (c *Client) drainLocked() {
	rest := c.queue[:0]
	for _, form := range c.queue {
		id := c.h.Cdr(form)
		idVal := c.h.Car(id)
		tagPair := c.h.Cdr(id)
		tagVal := c.h.Car(tagPair)
		argList := c.h.Cdr(tagPair)

		key := eventKey{id: c.symbolOrPrint(idVal), tag: c.symbolOrPrint(tagVal)}
		fn, ok := c.handlers[key]
		if !ok {
			rest = append(rest, form)
			continue
		}
		args := c.toSlice(argList)
		fn(args)
	}
	c.queue = rest
}

func (c *Client) symbolOrPrint(v value.Word) string {
	if c.h.IsSymbol(c.wk, v) {
		return c.h.SymbolName(v)
	}
	return fmt.Sprintf("%v", v)
}

func (c *Client) toSlice(list value.Word) []value.Word {
	var out []value.Word
	for list.IsPair() {
		out = append(out, c.h.Car(list))
		list = c.h.Cdr(list)
	}
	return out
}
