package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"

	"github.com/quantarax/udpqueue/internal/quicutil"
	"github.com/quantarax/udpqueue/internal/transport"
)

// SinkOptions configures the sink command.
type SinkOptions struct {
	Listen string
	QUIC   bool
	Count  int
}

// NewSinkCommand creates the sink command.
func NewSinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SinkOptions{}

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Receive paced packets and report their spacing",
		Long: `Print one line per received datagram: source, size, gap since the
previous datagram from the same source, and a BLAKE3 digest of the payload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSink(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:7500", "address to receive on")
	cmd.Flags().BoolVar(&opts.QUIC, "quic", false, "accept one QUIC connection and read its datagrams")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many datagrams (0 = run until interrupted)")

	return cmd
}

func runSink(ctx context.Context, opts *SinkOptions, out io.Writer) error {
	if opts.QUIC {
		return runQUICSink(ctx, opts, out)
	}
	addr, err := net.ResolveUDPAddr("udp", opts.Listen)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintf(out, "listening on %s\n", conn.LocalAddr())
	return serveSink(ctx, conn, opts.Count, out)
}

// sinkReport tracks inter-arrival gaps per source.
type sinkReport struct {
	out  io.Writer
	last map[string]time.Time
	seen int
}

func newSinkReport(out io.Writer) *sinkReport {
	return &sinkReport{out: out, last: make(map[string]time.Time)}
}

func (r *sinkReport) record(source string, payload []byte, at time.Time) {
	gap := "-"
	if prev, ok := r.last[source]; ok {
		gap = at.Sub(prev).Round(10 * time.Microsecond).String()
	}
	r.last[source] = at
	r.seen++

	sum := blake3.Sum256(payload)
	fmt.Fprintf(r.out, "%s\t%d bytes\tgap=%s\tblake3=%s\n", source, len(payload), gap, hex.EncodeToString(sum[:8]))
}

// serveSink reports datagrams from conn until count is reached (0 = no limit)
// or ctx is done.
func serveSink(ctx context.Context, conn *net.UDPConn, count int, out io.Writer) error {
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	report := newSinkReport(out)
	buf := make([]byte, 64*1024)
	for count == 0 || report.seen < count {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		report.record(from.String(), buf[:n], time.Now())
	}
	return nil
}

func runQUICSink(ctx context.Context, opts *SinkOptions, out io.Writer) error {
	tlsConfig, err := quicutil.SelfSignedServerConfig()
	if err != nil {
		return err
	}
	ln, err := transport.ListenDatagram(opts.Listen, tlsConfig)
	if err != nil {
		return err
	}
	defer ln.Close()
	fmt.Fprintf(out, "listening for QUIC on %s\n", ln.Addr())

	conn, err := ln.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer conn.Close()

	source := conn.Connection().RemoteAddr().String()
	report := newSinkReport(out)
	for opts.Count == 0 || report.seen < opts.Count {
		payload, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		report.record(source, payload, time.Now())
	}
	return nil
}
