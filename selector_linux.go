//go:build linux

package prontoscript

import (
	"time"

	"golang.org/x/sys/unix"
)

const maxPollEvents = 256

type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func epollEventsFor(mask Mask) uint32 {
	var ev uint32
	if mask&Read != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) watch(fd int, mask Mask) error {
	event := unix.EpollEvent{Events: epollEventsFor(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		if err == unix.EEXIST {
			return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &event)
		}
		return err
	}
	return nil
}

func (p *epollPoller) unwatch(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) wait(timeout time.Duration) (int, []pollEvent, error) {
	ms := -1
	if timeout != Unlimited {
		ms = int(timeout / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
	}

	var raw [maxPollEvents]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	events := make([]pollEvent, 0, n)
	for i := 0; i < n; i++ {
		e := raw[i]
		events = append(events, pollEvent{
			fd:       int(e.Fd),
			readable: e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			writable: e.Events&unix.EPOLLOUT != 0,
			errored:  e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return n, events, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
