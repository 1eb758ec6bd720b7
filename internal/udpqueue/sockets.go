package udpqueue

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/quantarax/udpqueue/internal/observability"
)

var (
	// ErrNoIPv4Transport is returned when dispatch is started without an IPv4 capability.
	ErrNoIPv4Transport = errors.New("no IPv4 transport")

	// ErrNoIPv6Transport is the send error for IPv6 destinations when no IPv6
	// capability is bound.
	ErrNoIPv6Transport = errors.New("no IPv6 transport bound")
)

// Capability transmits one datagram to an address. *net.UDPConn satisfies it.
//
// The engine only ever sends through a Capability it was given; it never closes
// one. Whoever supplied it keeps ownership.
type Capability interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// Sockets is the manager-wide default capability, split by address family.
// V4 is required, V6 is optional.
type Sockets struct {
	V4 Capability
	V6 Capability

	owned []io.Closer
}

// BindSockets binds wildcard UDP sockets on ephemeral ports. The IPv4 socket is
// mandatory; the IPv6 one is best effort when withIPv6 is set and its failure
// is only logged. The returned Sockets own their sockets; call Close.
func BindSockets(withIPv6 bool, logger *observability.Logger) (*Sockets, error) {
	v4, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("bind IPv4 socket: %w", err)
	}
	s := &Sockets{V4: v4, owned: []io.Closer{v4}}

	if !withIPv6 {
		return s, nil
	}
	v6, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6unspecified})
	if err != nil {
		if logger != nil {
			logger.IPv6BindFailed(err)
		}
		return s, nil
	}
	s.V6 = v6
	s.owned = append(s.owned, v6)
	return s, nil
}

// Close closes the sockets created by BindSockets. Capabilities placed in a
// Sockets value by the caller are borrowed and left open.
func (s *Sockets) Close() error {
	var errs []error
	for _, c := range s.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.owned = nil
	return errors.Join(errs...)
}

// send picks the capability for dest's address family.
func (s *Sockets) send(b []byte, dest netip.AddrPort) error {
	c := s.V4
	if !dest.Addr().Is4() {
		if s.V6 == nil {
			return ErrNoIPv6Transport
		}
		c = s.V6
	}
	_, err := c.WriteToUDPAddrPort(b, dest)
	return err
}
