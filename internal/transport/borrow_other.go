//go:build !unix

package transport

import (
	"errors"
	"net"

	"github.com/quantarax/udpqueue/internal/udpqueue"
)

// BorrowFD is not supported on this platform.
func BorrowFD(fd int) (*net.UDPConn, error) {
	return nil, errors.ErrUnsupported
}

// BorrowSockets is not supported on this platform.
func BorrowSockets(v4fd, v6fd int) (*udpqueue.Sockets, func() error, error) {
	return nil, nil, errors.ErrUnsupported
}
