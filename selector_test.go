//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package prontoscript

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func mustPipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		t.Fatal(err)
	}
	if err := unix.SetNonblock(int(w.Fd()), true); err != nil {
		t.Fatal(err)
	}
	return r, w
}

func TestSelectorDispatchesReady(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	r, w := mustPipe(t)
	defer r.Close()
	defer w.Close()

	fired := false
	err = sel.Register(int(r.Fd()), Read, nil, func(wa *Watch) {
		fired = true
		if wa.TimedOut {
			t.Fatal("expected a readiness dispatch, not a timeout")
		}
	}, nil, Unlimited)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}

	if _, err := sel.PumpOnce(); err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("expected the read watch to fire")
	}
}

func TestSelectorDispatchesTimeout(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	r, w := mustPipe(t)
	defer r.Close()
	defer w.Close()

	fired := false
	err = sel.Register(int(r.Fd()), Read, nil, func(wa *Watch) {
		fired = true
		if !wa.TimedOut {
			t.Fatal("expected a timeout dispatch")
		}
	}, nil, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sel.PumpOnce(); err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("expected the watch to time out")
	}
}

func TestSelectorPumpOnceFalseWhenEmpty(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	more, err := sel.PumpOnce()
	if err != nil {
		t.Fatal(err)
	}
	if more {
		t.Fatal("expected PumpOnce to report nothing left to wait on")
	}
}

func TestSelectorReregisterReplacesWatch(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	r, w := mustPipe(t)
	defer r.Close()
	defer w.Close()

	firstFired := false
	secondFired := false

	sel.Register(int(r.Fd()), Read, nil, func(wa *Watch) { firstFired = true }, nil, Unlimited)
	sel.Register(int(r.Fd()), Read, nil, func(wa *Watch) { secondFired = true }, nil, Unlimited)

	w.Write([]byte("y"))
	if _, err := sel.PumpOnce(); err != nil {
		t.Fatal(err)
	}
	if firstFired {
		t.Fatal("the first registration should have been replaced, not merged")
	}
	if !secondFired {
		t.Fatal("the second registration should have fired")
	}
}

func TestSelectorUnregisterIsIdempotent(t *testing.T) {
	sel, err := NewSelector()
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Shutdown()

	r, w := mustPipe(t)
	defer r.Close()
	defer w.Close()

	sel.Register(int(r.Fd()), Read, nil, func(wa *Watch) {}, nil, Unlimited)
	sel.Unregister(int(r.Fd()))
	sel.Unregister(int(r.Fd()))
}
