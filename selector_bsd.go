//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package prontoscript

import (
	"time"

	"golang.org/x/sys/unix"
)

const maxPollEvents = 256

type kqueuePoller struct {
	kq int
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq}, nil
}

func (p *kqueuePoller) applyFilter(fd int, filter int16, enable bool) error {
	var ev unix.Kevent_t
	flags := unix.EV_DELETE
	if enable {
		flags = unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR
	}
	unix.SetKevent(&ev, fd, int(filter), flags)
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	if err != nil && !enable && err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) watch(fd int, mask Mask) error {
	if err := p.applyFilter(fd, unix.EVFILT_READ, mask&Read != 0); err != nil {
		return err
	}
	if err := p.applyFilter(fd, unix.EVFILT_WRITE, mask&Write != 0); err != nil {
		return err
	}
	return nil
}

func (p *kqueuePoller) unwatch(fd int) error {
	p.applyFilter(fd, unix.EVFILT_READ, false)
	p.applyFilter(fd, unix.EVFILT_WRITE, false)
	return nil
}

func (p *kqueuePoller) wait(timeout time.Duration) (int, []pollEvent, error) {
	var ts *unix.Timespec
	if timeout != Unlimited {
		if timeout < 0 {
			timeout = 0
		}
		spec := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &spec
	}

	raw := make([]unix.Kevent_t, maxPollEvents)
	n, err := unix.Kevent(p.kq, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	byFD := make(map[int]*pollEvent, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		e := raw[i]
		fd := int(e.Ident)
		pe, ok := byFD[fd]
		if !ok {
			pe = &pollEvent{fd: fd}
			byFD[fd] = pe
			order = append(order, fd)
		}
		switch int16(e.Filter) {
		case unix.EVFILT_READ:
			pe.readable = true
		case unix.EVFILT_WRITE:
			pe.writable = true
		}
		if e.Flags&unix.EV_ERROR != 0 {
			pe.errored = true
		}
	}

	events := make([]pollEvent, 0, len(order))
	for _, fd := range order {
		events = append(events, *byFD[fd])
	}
	return n, events, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
