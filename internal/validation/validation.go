package validation

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

var (
	ErrInvalidDestination = errors.New("invalid destination address")
	ErrInvalidAddr        = errors.New("invalid listen address")
	ErrEmptyString        = errors.New("value must not be empty")
	ErrOutOfRange         = errors.New("value out of range")
)

// ParseDestination turns a literal IP host and a port into a send address.
// Hostnames are not resolved. IPv4-mapped IPv6 hosts are unmapped so they are
// sent over IPv4.
func ParseDestination(host string, port uint16) (netip.AddrPort, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" { return netip.AddrPort{}, fmt.Errorf("%w: empty host", ErrInvalidDestination) }
	addr, err := netip.ParseAddr(host)
	if err != nil { return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err) }
	if port == 0 { return netip.AddrPort{}, fmt.Errorf("%w: port 0", ErrInvalidDestination) }
	return netip.AddrPortFrom(addr.Unmap(), port), nil
}

// ParseHostPort parses "host:port" (IPv6 in brackets) with the same rules as ParseDestination.
func ParseHostPort(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil { return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err) }
	if ap.Port() == 0 { return netip.AddrPort{}, fmt.Errorf("%w: port 0", ErrInvalidDestination) }
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

func ValidateAddr(addr string) error {
	if addr == "" { return ErrInvalidAddr }
	_, err := net.ResolveUDPAddr("udp", addr)
	if err != nil { return fmt.Errorf("%w: %v", ErrInvalidAddr, err) }
	return nil
}

func ValidateStringNonEmpty(s string) error {
	if s == "" { return ErrEmptyString }
	return nil
}

func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrOutOfRange, d)
	}
	return nil
}
