package transport

import "errors"

var (
	// ErrInvalidHandle is returned for a raw handle that is not an open socket.
	ErrInvalidHandle = errors.New("invalid socket handle")

	// ErrNotDatagramSocket is returned for a socket handle that is not UDP.
	ErrNotDatagramSocket = errors.New("socket handle is not a datagram socket")
)
