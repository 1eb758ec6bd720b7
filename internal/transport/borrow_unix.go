//go:build unix

package transport

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/quantarax/udpqueue/internal/udpqueue"
)

// BorrowFD returns a UDP connection that sends through the socket behind fd
// without taking ownership of it. The view has its own descriptor, so closing
// it never closes fd; the caller keeps fd open for as long as the view is used.
func BorrowFD(fd int) (*net.UDPConn, error) {
	if fd < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, fd)
	}
	sotype, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %v", ErrInvalidHandle, fd, err)
	}
	if sotype != unix.SOCK_DGRAM {
		return nil, fmt.Errorf("%w: fd %d has socket type %d", ErrNotDatagramSocket, fd, sotype)
	}

	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup fd %d: %w", fd, err)
	}
	unix.CloseOnExec(dup)

	f := os.NewFile(uintptr(dup), fmt.Sprintf("borrowed-udp-%d", fd))
	defer f.Close()

	pc, err := net.FilePacketConn(f)
	if err != nil {
		return nil, fmt.Errorf("wrap fd %d: %w", fd, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: fd %d is %T", ErrNotDatagramSocket, fd, pc)
	}
	return conn, nil
}

// BorrowSockets builds default capabilities from caller-owned socket handles
// for udpqueue.Manager.RunWithSockets. A negative v6fd means no IPv6 socket.
// release closes the views once dispatch has returned; the handles stay open.
func BorrowSockets(v4fd, v6fd int) (s *udpqueue.Sockets, release func() error, err error) {
	v4, err := BorrowFD(v4fd)
	if err != nil {
		return nil, nil, fmt.Errorf("IPv4 socket: %w", err)
	}
	s = &udpqueue.Sockets{V4: v4}
	views := []*net.UDPConn{v4}

	if v6fd >= 0 {
		v6, err := BorrowFD(v6fd)
		if err != nil {
			v4.Close()
			return nil, nil, fmt.Errorf("IPv6 socket: %w", err)
		}
		s.V6 = v6
		views = append(views, v6)
	}

	release = func() error {
		var errs []error
		for _, v := range views {
			errs = append(errs, v.Close())
		}
		return errors.Join(errs...)
	}
	return s, release, nil
}
