package prontoscript

import (
	"runtime"
	"strings"

	"github.com/stefan-sinnige/prontoscript/script"
)

// UDPEndpoint is a single datagram socket registered with a Selector
// as soon as it is constructed — unlike TCPEndpoint there is no
// separate connect step, since UDP has no connection to establish.
type UDPEndpoint struct {
	sel       *Selector
	fd        int
	localPort int

	onData    script.Func
	onIOError script.Func

	invoker  script.Invoker
	reporter script.ErrorReporter
}

// NewUDPEndpoint creates a datagram socket, optionally bound to
// localPort (pass a negative value to let the kernel choose an
// ephemeral port), and registers it with sel for reading immediately.
func NewUDPEndpoint(sel *Selector, localPort int) (*UDPEndpoint, error) {
	reporter := script.DefaultReporter
	fd, err := newDatagramSocket()
	if err != nil {
		return nil, reporter.Report(script.SocketError, err.Error())
	}

	boundTo := -1
	if localPort >= 0 {
		if err := bindIPv4(fd, uint16(localPort)); err != nil {
			closeFD(fd)
			return nil, reporter.Report(script.SocketError, err.Error())
		}
		actual, err := boundPort(fd)
		if err != nil {
			closeFD(fd)
			return nil, reporter.Report(script.SocketError, err.Error())
		}
		boundTo = actual
	}
	if err := setNonblocking(fd); err != nil {
		closeFD(fd)
		return nil, reporter.Report(script.SocketError, err.Error())
	}

	u := &UDPEndpoint{
		sel:       sel,
		fd:        fd,
		localPort: boundTo,
		invoker:   script.DefaultInvoker,
		reporter:  reporter,
	}
	if err := sel.Register(fd, Read, u, u.onWatchReady, u.onWatchError, Unlimited); err != nil {
		closeFD(fd)
		return nil, u.reporter.Report(script.Failed, "register datagram socket")
	}
	runtime.SetFinalizer(u, func(e *UDPEndpoint) { e.Close() })
	return u, nil
}

// SetInvoker overrides how callbacks re-enter script. Passing nil
// restores script.DefaultInvoker.
func (u *UDPEndpoint) SetInvoker(inv script.Invoker) {
	if inv == nil {
		inv = script.DefaultInvoker
	}
	u.invoker = inv
}

// SetErrorReporter overrides how this endpoint's own errors are built.
func (u *UDPEndpoint) SetErrorReporter(r script.ErrorReporter) {
	if r == nil {
		r = script.DefaultReporter
	}
	u.reporter = r
}

func (u *UDPEndpoint) setCallback(slot *script.Func, v script.Value) {
	if v.IsCallable() {
		*slot = v.Func()
	}
}

func (u *UDPEndpoint) SetOnData(v script.Value)    { u.setCallback(&u.onData, v) }
func (u *UDPEndpoint) SetOnIOError(v script.Value) { u.setCallback(&u.onIOError, v) }

func (u *UDPEndpoint) OnData() script.Value    { return script.FuncValue(u.onData) }
func (u *UDPEndpoint) OnIOError() script.Value { return script.FuncValue(u.onIOError) }

// LocalPort returns the bound local port, or -1 if the socket was left
// to an ephemeral kernel-chosen port.
func (u *UDPEndpoint) LocalPort() int { return u.localPort }

func (u *UDPEndpoint) invoke(fn script.Func, args ...script.Value) bool {
	if fn == nil {
		return true
	}
	return u.invoker.Invoke(u, fn, args)
}

// Close releases the descriptor. Safe to call more than once.
func (u *UDPEndpoint) Close() error {
	if u.fd == -1 {
		return nil
	}
	u.sel.Unregister(u.fd)
	closeFD(u.fd)
	u.fd = -1
	return nil
}

// Send resolves host (dotted literal or name, per resolveIPv4) and
// writes data to it as a single datagram.
func (u *UDPEndpoint) Send(data string, host string, port uint16) error {
	ip, err := resolveIPv4(host)
	if err != nil {
		return u.reporter.Report(script.InvalidName, err.Error())
	}
	if _, err := sendToIPv4(u.fd, []byte(data), ip, port); err != nil {
		return u.reporter.Report(script.SocketError, err.Error())
	}
	return nil
}

// onWatchReady drains every datagram available in this pass into a
// single onData dispatch, concatenating their payloads and keeping
// only the last packet's source address — the coalescing behavior
// spec's R3 invariant calls for, rather than one callback per
// datagram.
func (u *UDPEndpoint) onWatchReady(w *Watch) {
	var sb strings.Builder
	var lastHost string
	var lastPort int
	any := false
	staging := make([]byte, 256)

	for {
		n, fromIP, fromPort, err := recvFromIPv4(u.fd, staging)
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			u.invoke(u.onIOError, script.StringValue(err.Error()))
			return
		}
		sb.Write(staging[:n])
		if fromIP != nil {
			lastHost = fromIP.String()
			lastPort = fromPort
		}
		any = true
	}

	if !any {
		return
	}
	u.invoke(u.onData, script.StringValue(sb.String()), script.StringValue(lastHost), script.IntValue(int64(lastPort)))
}

func (u *UDPEndpoint) onWatchError(w *Watch) {
	u.sel.Unregister(u.fd)
	closeFD(u.fd)
	u.fd = -1
	u.invoke(u.onIOError)
}
