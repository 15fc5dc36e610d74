//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package prontoscript

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func newStreamSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, errors.Wrap(err, "create stream socket")
	}
	return fd, nil
}

func newDatagramSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, errors.Wrap(err, "create datagram socket")
	}
	return fd, nil
}

func setNonblocking(fd int) error {
	return errors.Wrap(unix.SetNonblock(fd, true), "set nonblocking")
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func shutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

func connectIPv4(fd int, ip [4]byte, port uint16) error {
	sa := &unix.SockaddrInet4{Port: int(port), Addr: ip}
	return unix.Connect(fd, sa)
}

func bindIPv4(fd int, port uint16) error {
	sa := &unix.SockaddrInet4{Port: int(port)}
	return errors.Wrap(unix.Bind(fd, sa), "bind")
}

// boundPort reports the port fd is actually bound to, resolving a
// port-0 bind request to the port the kernel assigned.
func boundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, errors.Wrap(err, "getsockname")
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, errors.New("getsockname returned a non-IPv4 address")
	}
	return sa4.Port, nil
}

// getSocketError reports the pending error recorded for fd via
// SO_ERROR, the portable way to learn whether a nonblocking connect
// that became writable actually succeeded.
func getSocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// peekOneByte probes a connected stream socket without consuming data,
// mirroring the original's one-byte MSG_PEEK close-detection idiom: 0
// means the peer closed in an orderly fashion, >0 means data is
// waiting, and an error (other than would-block) means the connection
// failed outright.
func peekOneByte(fd int) (int, error) {
	var buf [1]byte
	n, _, err := unix.Recvfrom(fd, buf[:], unix.MSG_PEEK)
	return n, err
}

func recvStaging(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func sendStaging(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func recvFromIPv4(fd int, buf []byte) (int, net.IP, int, error) {
	n, from, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return 0, nil, 0, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return n, nil, 0, nil
	}
	ip := net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
	return n, ip, sa4.Port, nil
}

func sendToIPv4(fd int, buf []byte, ip [4]byte, port uint16) (int, error) {
	sa := &unix.SockaddrInet4{Port: int(port), Addr: ip}
	if err := unix.Sendto(fd, buf, 0, sa); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func isConnectInProgress(err error) bool {
	return errors.Is(err, unix.EINPROGRESS)
}
