package wire_test

import (
	"net"
	"testing"
	"time"

	"suo.dev/suo/internal/heap"
	"suo.dev/suo/internal/value"
	"suo.dev/suo/internal/wire"
)

func newHeap(t *testing.T) (*heap.Heap, *heap.WellKnown) {
	t.Helper()
	h, err := heap.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	wk, err := h.Bootstrap()
	if err != nil {
		t.Fatal(err)
	}
	return h, wk
}

func TestRequestResponse(t *testing.T) {
	h, wk := newHeap(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv, err := wire.NewServer(h, wk, serverConn)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(func(req value.Word) (value.Word, error) {
			// echo: respond with the request itself.
			return req, nil
		})
	}()

	// The client gets its own heap: each side's reader keeps roots pushed
	// while it blocks, and a heap's root stack is strictly LIFO.
	ch, cwk := newHeap(t)
	eventSym, err := ch.Intern(cwk, "event")
	if err != nil {
		t.Fatal(err)
	}
	cl, err := wire.NewClient(ch, cwk, clientConn, eventSym)
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	resp, err := cl.Request(value.MakeInt(42))
	if err != nil {
		t.Fatal(err)
	}
	if resp != value.MakeInt(42) {
		t.Errorf("got %v, want 42", resp)
	}

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server did not observe client close")
	}
}

func TestEventQueueAndDispatch(t *testing.T) {
	h, wk := newHeap(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv, err := wire.NewServer(h, wk, serverConn)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	eventSym, err := h.Intern(wk, "event")
	if err != nil {
		t.Fatal(err)
	}
	connID, err := h.Intern(wk, "conn1")
	if err != nil {
		t.Fatal(err)
	}
	tag, err := h.Intern(wk, "progress")
	if err != nil {
		t.Fatal(err)
	}

	reqReceived := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(func(req value.Word) (value.Word, error) {
			close(reqReceived)
			// Emit an event before answering, so the client must queue it.
			srv.EmitEvent(eventSym, connID, tag, value.MakeInt(1))
			return value.Bool(true), nil
		})
	}()

	// The client gets its own heap, as in TestRequestResponse.
	ch, cwk := newHeap(t)
	clientEventSym, err := ch.Intern(cwk, "event")
	if err != nil {
		t.Fatal(err)
	}
	cl, err := wire.NewClient(ch, cwk, clientConn, clientEventSym)
	if err != nil {
		t.Fatal(err)
	}
	defer cl.Close()

	got := make(chan []value.Word, 1)
	// Register the handler only after the request is in flight, to
	// exercise "events queued before a handler exists are dispatched once
	// one is registered" rather than requiring the handler to pre-exist.
	go func() {
		<-reqReceived
		time.Sleep(10 * time.Millisecond)
		cl.On("conn1", "progress", func(args []value.Word) {
			got <- args
		})
	}()

	resp, err := cl.Request(value.Bool(false))
	if err != nil {
		t.Fatal(err)
	}
	if resp != value.True {
		t.Errorf("got %v, want #t", resp)
	}

	select {
	case args := <-got:
		if len(args) != 1 || args[0] != value.MakeInt(1) {
			t.Errorf("got args %v, want [1]", args)
		}
	case <-time.After(time.Second):
		t.Fatal("event handler was never invoked")
	}

	// Server.Close may only run once Serve has returned.
	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server did not observe client close")
	}
}
