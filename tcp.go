package prontoscript

import (
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/stefan-sinnige/prontoscript/script"
)

// TCPState is one of the three states a TCPEndpoint occupies.
type TCPState int

const (
	TCPUnconnected TCPState = iota
	TCPConnecting
	TCPConnected
)

func (s TCPState) String() string {
	switch s {
	case TCPUnconnected:
		return "unconnected"
	case TCPConnecting:
		return "connecting"
	case TCPConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TCPEndpoint is a single logical TCP connection driven through a
// Selector: UNCONNECTED, CONNECTING while a nonblocking connect
// resolves, CONNECTED once established, back to UNCONNECTED on close
// or error.
type TCPEndpoint struct {
	sel      *Selector
	blocking bool

	fd    int
	state TCPState

	onConnect script.Func
	onData    script.Func
	onClose   script.Func
	onIOError script.Func

	invoker  script.Invoker
	reporter script.ErrorReporter

	writeBuf []byte

	// deadline records the wall-clock point a blocking Read call should
	// give up by, reconfigurable from another goroutine without a full
	// mutex — the same atomic.Value idiom smux uses for its deadline
	// field.
	deadline atomic.Value
}

// NewTCPEndpoint constructs an unconnected endpoint. blocking selects
// whether Connect/Read perform blocking syscalls (for scripts that
// want synchronous sockets) or nonblocking ones driven by sel.
func NewTCPEndpoint(sel *Selector, blocking bool) *TCPEndpoint {
	ep := &TCPEndpoint{
		sel:      sel,
		blocking: blocking,
		fd:       -1,
		invoker:  script.DefaultInvoker,
		reporter: script.DefaultReporter,
	}
	runtime.SetFinalizer(ep, func(e *TCPEndpoint) { e.Close() })
	return ep
}

// SetInvoker overrides how callbacks re-enter script. Passing nil
// restores script.DefaultInvoker.
func (t *TCPEndpoint) SetInvoker(inv script.Invoker) {
	if inv == nil {
		inv = script.DefaultInvoker
	}
	t.invoker = inv
}

// SetErrorReporter overrides how this endpoint's own errors are built.
// Passing nil restores script.DefaultReporter.
func (t *TCPEndpoint) SetErrorReporter(r script.ErrorReporter) {
	if r == nil {
		r = script.DefaultReporter
	}
	t.reporter = r
}

// Connected reports whether the endpoint is presently CONNECTED.
func (t *TCPEndpoint) Connected() bool { return t.state == TCPConnected }

// State exposes the current state, mainly for tests.
func (t *TCPEndpoint) State() TCPState { return t.state }

func (t *TCPEndpoint) setCallback(slot *script.Func, v script.Value) {
	// Setters silently ignore a non-callable value, preserving
	// whatever callback was already installed.
	if v.IsCallable() {
		*slot = v.Func()
	}
}

func (t *TCPEndpoint) SetOnConnect(v script.Value) { t.setCallback(&t.onConnect, v) }
func (t *TCPEndpoint) SetOnData(v script.Value)    { t.setCallback(&t.onData, v) }
func (t *TCPEndpoint) SetOnClose(v script.Value)   { t.setCallback(&t.onClose, v) }
func (t *TCPEndpoint) SetOnIOError(v script.Value) { t.setCallback(&t.onIOError, v) }

func (t *TCPEndpoint) OnConnect() script.Value { return script.FuncValue(t.onConnect) }
func (t *TCPEndpoint) OnData() script.Value    { return script.FuncValue(t.onData) }
func (t *TCPEndpoint) OnClose() script.Value   { return script.FuncValue(t.onClose) }
func (t *TCPEndpoint) OnIOError() script.Value { return script.FuncValue(t.onIOError) }

func (t *TCPEndpoint) invoke(fn script.Func, args ...script.Value) bool {
	if fn == nil {
		return true
	}
	return t.invoker.Invoke(t, fn, args)
}

// Connect starts connecting to host:port. timeoutMs is the maximum
// time to wait for a nonblocking connect to resolve; a negative value
// means Unlimited. Blocking endpoints ignore the timeout and connect
// synchronously.
func (t *TCPEndpoint) Connect(host string, port uint16, timeoutMs int) error {
	ip, err := resolveIPv4(host)
	if err != nil {
		return t.reporter.Report(script.InvalidName, err.Error())
	}

	if t.fd != -1 {
		t.Close()
	}

	fd, err := newStreamSocket()
	if err != nil {
		return t.reporter.Report(script.SocketError, err.Error())
	}

	if !t.blocking {
		if err := setNonblocking(fd); err != nil {
			closeFD(fd)
			return t.reporter.Report(script.SocketError, err.Error())
		}
	}

	connErr := connectIPv4(fd, ip, port)
	switch {
	case connErr == nil:
		t.fd = fd
		t.state = TCPConnected
		return nil

	case !t.blocking && isConnectInProgress(connErr):
		t.fd = fd
		t.state = TCPConnecting
		timeout := Unlimited
		if timeoutMs >= 0 {
			timeout = time.Duration(timeoutMs) * time.Millisecond
		}
		if err := t.sel.Register(fd, Write, t, t.onWatchReady, t.onWatchError, timeout); err != nil {
			closeFD(fd)
			t.fd = -1
			t.state = TCPUnconnected
			return t.reporter.Report(script.Failed, "register connecting socket")
		}
		return nil

	default:
		closeFD(fd)
		return t.reporter.Report(script.SocketError, errors.Wrap(connErr, "connect").Error())
	}
}

// Close releases the descriptor, if any. It is safe to call on an
// already-closed or never-connected endpoint.
func (t *TCPEndpoint) Close() error {
	if t.fd == -1 {
		return nil
	}
	t.sel.Unregister(t.fd)
	shutdownWrite(t.fd)
	closeFD(t.fd)
	t.fd = -1
	t.state = TCPUnconnected
	t.writeBuf = nil
	return nil
}

// Read reads up to count bytes (or until the peer's orderly close) in
// 256-byte staging chunks. When timeoutMs is positive, the deadline is
// checked before each staging recv; a recv that is already blocked
// waiting for data is not interrupted by it. It is only meaningful for a blocking-mode endpoint — a
// nonblocking endpoint's data delivery is exclusively through onData.
func (t *TCPEndpoint) Read(count int, timeoutMs int) (string, error) {
	if t.state != TCPConnected {
		return "", t.reporter.Report(script.Failed, "not connected")
	}
	if count <= 0 {
		count = 65535
	}
	if timeoutMs > 0 {
		deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
		t.deadline.Store(deadline)
		defer t.deadline.Store(time.Time{})
	}

	var sb strings.Builder
	staging := make([]byte, 256)
	for sb.Len() < count {
		if d, ok := t.deadline.Load().(time.Time); ok && !d.IsZero() && time.Now().After(d) {
			return sb.String(), t.reporter.Report(script.Failed, "read timed out")
		}
		want := count - sb.Len()
		if want > len(staging) {
			want = len(staging)
		}
		n, err := recvStaging(t.fd, staging[:want])
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			return "", t.reporter.Report(script.SocketError, err.Error())
		}
		if n == 0 {
			break
		}
		sb.Write(staging[:n])
	}
	return sb.String(), nil
}

// Write sends data, queuing any unsent remainder and registering a
// Write watch to drain it across later passes if the socket cannot
// accept it all at once.
func (t *TCPEndpoint) Write(data string) error {
	if t.state != TCPConnected {
		return t.reporter.Report(script.Failed, "not connected")
	}

	buf := append(t.writeBuf, []byte(data)...)
	n, err := sendStaging(t.fd, buf)
	if err != nil && !isWouldBlock(err) {
		return t.reporter.Report(script.SocketError, err.Error())
	}
	if n < 0 {
		n = 0
	}

	remaining := buf[n:]
	if len(remaining) == 0 {
		t.writeBuf = nil
		return nil
	}

	t.writeBuf = remaining
	if err := t.sel.Register(t.fd, Write, t, t.onWriteDrainReady, t.onWatchError, Unlimited); err != nil {
		return t.reporter.Report(script.Failed, "register write watch")
	}
	return nil
}

func (t *TCPEndpoint) onWriteDrainReady(w *Watch) {
	n, err := sendStaging(t.fd, t.writeBuf)
	if err != nil && !isWouldBlock(err) {
		t.sel.Unregister(t.fd)
		t.writeBuf = nil
		t.invoke(t.onIOError, script.StringValue(err.Error()))
		return
	}
	if n < 0 {
		n = 0
	}
	t.writeBuf = t.writeBuf[n:]
	if len(t.writeBuf) == 0 {
		t.sel.Unregister(t.fd)
		t.writeBuf = nil
		t.sel.Register(t.fd, Read, t, t.onWatchReady, t.onWatchError, Unlimited)
	}
}

// drainReadable reads every byte currently available on the socket in
// 256-byte staging chunks, coalescing them into one string for a
// single onData dispatch per pass, the same one-callback-per-pass
// shape udp.go uses for its datagram drain.
func (t *TCPEndpoint) drainReadable() (string, error) {
	var sb strings.Builder
	staging := make([]byte, 256)
	for {
		n, err := recvStaging(t.fd, staging)
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			return "", err
		}
		if n == 0 {
			break
		}
		sb.Write(staging[:n])
		if n < len(staging) {
			break
		}
	}
	return sb.String(), nil
}

func connectFailureMessage(err error) string {
	if err == nil {
		return "connect failed"
	}
	return err.Error()
}

// onWatchReady is the single ready-callback entry point for both the
// CONNECTING and CONNECTED states, matching spec's "timeout delivery
// uses the same callback path as readiness" design: w.TimedOut tells
// this function which bucket triggered the call.
func (t *TCPEndpoint) onWatchReady(w *Watch) {
	if t.blocking {
		t.sel.Unregister(t.fd)
		return
	}
	if t.state == TCPUnconnected {
		return
	}

	if t.state == TCPConnecting && w.TimedOut {
		t.sel.Unregister(t.fd)
		closeFD(t.fd)
		t.fd = -1
		t.state = TCPUnconnected
		t.invoke(t.onIOError, script.StringValue("timeout"))
		return
	}

	var fn script.Func
	var arg script.Value
	hasArg := false

	switch t.state {
	case TCPConnecting:
		if err := getSocketError(t.fd); err != nil {
			t.sel.Unregister(t.fd)
			closeFD(t.fd)
			t.fd = -1
			t.state = TCPUnconnected
			fn, arg, hasArg = t.onIOError, script.StringValue(connectFailureMessage(err)), true
		} else {
			t.state = TCPConnected
			fn = t.onConnect
		}

	case TCPConnected:
		n, perr := peekOneByte(t.fd)
		switch {
		case perr == nil && n == 0:
			t.sel.Unregister(t.fd)
			shutdownWrite(t.fd)
			closeFD(t.fd)
			t.fd = -1
			t.state = TCPUnconnected
			fn = t.onClose
		case perr != nil && !isWouldBlock(perr):
			t.sel.Unregister(t.fd)
			closeFD(t.fd)
			t.fd = -1
			t.state = TCPUnconnected
			fn, arg, hasArg = t.onIOError, script.StringValue(perr.Error()), true
		default:
			data, rerr := t.drainReadable()
			if rerr != nil {
				t.sel.Unregister(t.fd)
				closeFD(t.fd)
				t.fd = -1
				t.state = TCPUnconnected
				fn, arg, hasArg = t.onIOError, script.StringValue(rerr.Error()), true
			} else {
				fn, arg, hasArg = t.onData, script.StringValue(data), true
			}
		}
	}

	if t.state == TCPConnected {
		if err := t.sel.Register(t.fd, Read, t, t.onWatchReady, t.onWatchError, Unlimited); err != nil {
			t.invoke(t.onIOError, script.StringValue("register read watch"))
			return
		}
	}

	if hasArg {
		t.invoke(fn, arg)
	} else {
		t.invoke(fn)
	}
}

func (t *TCPEndpoint) onWatchError(w *Watch) {
	t.sel.Unregister(t.fd)
	closeFD(t.fd)
	t.fd = -1
	t.state = TCPUnconnected
	t.invoke(t.onIOError)
}
