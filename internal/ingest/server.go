// Package ingest feeds a udpqueue.Manager from wire frames received on a
// local UDP socket, so producers in other processes share one pacer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/quantarax/udpqueue/internal/observability"
	"github.com/quantarax/udpqueue/internal/ratelimit"
	"github.com/quantarax/udpqueue/internal/udpqueue"
	"github.com/quantarax/udpqueue/internal/validation"
	"github.com/quantarax/udpqueue/internal/wire"
)

const maxDatagram = 64 * 1024

// Server reads ingest frames and applies them to a manager.
type Server struct {
	conn    *net.UDPConn
	mgr     *udpqueue.Manager
	logger  *observability.Logger
	metrics *observability.Metrics
	logRate *ratelimit.TokenBucket
}

// Listen binds the ingest socket on addr.
func Listen(addr string, mgr *udpqueue.Manager, logger *observability.Logger, metrics *observability.Metrics) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve ingest address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind ingest socket: %w", err)
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{
		conn:    conn,
		mgr:     mgr,
		logger:  logger.WithComponent("ingest"),
		metrics: metrics,
		logRate: ratelimit.NewTokenBucket(5, 10),
	}, nil
}

// Addr returns the bound ingest address.
func (s *Server) Addr() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Serve handles frames until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read ingest frame: %w", err)
		}
		s.handle(buf[:n], from)
	}
}

// Close stops Serve.
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) handle(b []byte, from netip.AddrPort) {
	f, err := wire.Decode(b)
	if err != nil {
		s.metrics.RecordIngestFrame("malformed")
		s.reject(from, err)
		return
	}

	switch f.Type {
	case wire.FrameDelete:
		s.mgr.DeleteFlow(f.FlowID)
		s.metrics.RecordIngestFrame("delete")

	case wire.FrameData:
		if f.Dest.Port() == 0 {
			s.metrics.RecordIngestFrame("malformed")
			s.reject(from, fmt.Errorf("%w: port 0", validation.ErrInvalidDestination))
			return
		}
		// the read buffer is reused for the next frame
		payload := append([]byte(nil), f.Payload...)
		if !s.mgr.Enqueue(f.FlowID, f.Dest, payload, nil) {
			s.metrics.RecordIngestFrame("rejected")
			s.reject(from, udpqueue.ErrNotRunning)
			return
		}
		s.metrics.RecordIngestFrame("data")
	}
}

func (s *Server) reject(from netip.AddrPort, err error) {
	if s.logRate.Allow(1) {
		s.logger.FrameRejected(from.String(), err)
	}
}
