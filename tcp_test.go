//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package prontoscript

import (
	"net"
	"testing"
	"time"

	"github.com/stefan-sinnige/prontoscript/script"
)

type captureFunc struct {
	fn func(args []script.Value)
}

func (c captureFunc) Call(receiver script.Object, args []script.Value) (script.Value, bool) {
	c.fn(args)
	return script.VoidValue(), true
}

func echoTCPServer(t *testing.T) (port uint16, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				conn.Close()
				return
			}
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return uint16(addr.Port), func() { ln.Close() }
}

func pumpUntil(t *testing.T, sel *Selector, deadline time.Time, done func() bool) {
	t.Helper()
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for expected callback")
		}
		if _, err := sel.PumpOnce(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTCPEndpointConnectWriteReceivesEcho(t *testing.T) {
	port, stop := echoTCPServer(t)
	defer stop()

	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	ep := NewTCPEndpoint(sel, false)

	connected := false
	var received string

	ep.SetOnConnect(script.FuncValue(captureFunc{fn: func(args []script.Value) {
		connected = true
		if err := ep.Write("ping"); err != nil {
			t.Fatal(err)
		}
	}}))
	ep.SetOnData(script.FuncValue(captureFunc{fn: func(args []script.Value) {
		if len(args) > 0 {
			received += args[0].String()
		}
	}}))

	if err := ep.Connect("127.0.0.1", port, 5000); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	pumpUntil(t, sel, deadline, func() bool { return connected && received == "ping" })

	if !ep.Connected() {
		t.Fatal("expected endpoint to remain connected")
	}
	ep.Close()
}

func TestTCPEndpointConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close() // nothing listening now; connect should fail or be refused

	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	ep := NewTCPEndpoint(sel, false)
	failed := false
	ep.SetOnIOError(script.FuncValue(captureFunc{fn: func(args []script.Value) {
		failed = true
	}}))

	if err := ep.Connect("127.0.0.1", port, 2000); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	pumpUntil(t, sel, deadline, func() bool { return failed })

	if ep.Connected() {
		t.Fatal("expected the endpoint not to be connected after a refused connect")
	}
}

func TestTCPEndpointCloseIsIdempotent(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	ep := NewTCPEndpoint(sel, false)
	if err := ep.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ep.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTCPEndpointSetCallbackRejectsNonCallable(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	ep := NewTCPEndpoint(sel, false)
	prior := captureFunc{fn: func(args []script.Value) {}}
	ep.SetOnConnect(script.FuncValue(prior))
	ep.SetOnConnect(script.StringValue("not a function"))

	if ep.OnConnect().Kind() != script.CallableKind {
		t.Fatal("a non-callable SetOnConnect call must preserve the prior callback")
	}
}
