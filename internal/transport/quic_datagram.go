// Package transport adapts connections the caller already owns into send
// capabilities for the packet scheduler.
package transport

import (
	"context"
	"crypto/tls"
	"net/netip"
	"time"

	"github.com/quic-go/quic-go"
)

func datagramConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	}
}

// DatagramConn sends paced packets as unreliable QUIC datagrams over an
// established connection. It satisfies udpqueue.Capability, so one connection
// can serve as the per-flow override of a flow.
type DatagramConn struct {
	conn *quic.Conn
}

// NewDatagramConn wraps conn, which must have been set up with datagrams enabled.
func NewDatagramConn(conn *quic.Conn) *DatagramConn {
	return &DatagramConn{conn: conn}
}

// WriteToUDPAddrPort sends b as one datagram to the connection's peer. The
// address is ignored; a QUIC connection has exactly one peer.
func (d *DatagramConn) WriteToUDPAddrPort(b []byte, _ netip.AddrPort) (int, error) {
	if err := d.conn.SendDatagram(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Receive blocks for the next datagram from the peer.
func (d *DatagramConn) Receive(ctx context.Context) ([]byte, error) {
	return d.conn.ReceiveDatagram(ctx)
}

// Connection returns the underlying QUIC connection.
func (d *DatagramConn) Connection() *quic.Conn {
	return d.conn
}

// Close closes the QUIC connection.
func (d *DatagramConn) Close() error {
	return d.conn.CloseWithError(0, "closed")
}

// DialDatagram connects to addr with datagrams enabled.
func DialDatagram(ctx context.Context, addr string, tlsConfig *tls.Config) (*DatagramConn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, datagramConfig())
	if err != nil {
		return nil, err
	}
	return NewDatagramConn(conn), nil
}

// DatagramListener accepts datagram-enabled QUIC connections.
type DatagramListener struct {
	listener *quic.Listener
}

// ListenDatagram starts a QUIC listener with datagrams enabled.
func ListenDatagram(addr string, tlsConfig *tls.Config) (*DatagramListener, error) {
	listener, err := quic.ListenAddr(addr, tlsConfig, datagramConfig())
	if err != nil {
		return nil, err
	}
	return &DatagramListener{listener: listener}, nil
}

// Accept accepts a new connection.
func (l *DatagramListener) Accept(ctx context.Context) (*DatagramConn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewDatagramConn(conn), nil
}

// Close closes the listener.
func (l *DatagramListener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *DatagramListener) Addr() string {
	return l.listener.Addr().String()
}
