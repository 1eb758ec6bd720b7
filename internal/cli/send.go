package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/quantarax/udpqueue/internal/observability"
	"github.com/quantarax/udpqueue/internal/quicutil"
	"github.com/quantarax/udpqueue/internal/transport"
	"github.com/quantarax/udpqueue/internal/udpqueue"
	"github.com/quantarax/udpqueue/internal/validation"
	"github.com/quantarax/udpqueue/internal/wire"
)

// SendOptions configures the send command.
type SendOptions struct {
	Ingest   string
	Dest     string
	Flows    int
	Packets  int
	Size     int
	Rate     float64
	Burst    int
	Delete   bool
	Direct   bool
	QUIC     string
	Interval time.Duration
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Generate bursty traffic for paced flows",
		Long: `Produce packets for --flows flows as fast as --rate allows.

By default packets go to a udpq serve daemon as ingest frames. With --direct
an in-process pacer sends them itself, and --quic sends every flow as QUIC
datagrams over one connection to a udpq sink --quic.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.NewConsoleLogger(serviceName, Version)
			if rootOpts.LogLevel != "" {
				if err := logger.SetLevel(rootOpts.LogLevel); err != nil {
					return err
				}
			}
			return runSend(cmd.Context(), opts, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Ingest, "ingest", "127.0.0.1:7400", "ingest address of udpq serve")
	cmd.Flags().StringVar(&opts.Dest, "dest", "127.0.0.1:7500", "destination of the paced packets")
	cmd.Flags().IntVar(&opts.Flows, "flows", 4, "number of flows")
	cmd.Flags().IntVar(&opts.Packets, "packets", 50, "packets per flow")
	cmd.Flags().IntVar(&opts.Size, "size", 160, "payload size in bytes")
	cmd.Flags().Float64Var(&opts.Rate, "rate", 1000, "producer rate in packets per second, all flows")
	cmd.Flags().IntVar(&opts.Burst, "burst", 50, "producer burst size")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete each flow after its last packet (ingest mode)")
	cmd.Flags().BoolVar(&opts.Direct, "direct", false, "pace in-process instead of through udpq serve")
	cmd.Flags().StringVar(&opts.QUIC, "quic", "", "send as QUIC datagrams to this sink address (implies --direct)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 20*time.Millisecond, "pacing interval for --direct")

	return cmd
}

type producedPacket struct {
	flowID  int64
	payload []byte
}

// produce calls emit for every packet, round-robin over flows, throttled by limiter.
func produce(ctx context.Context, opts *SendOptions, emit func(producedPacket) error) error {
	limiter := rate.NewLimiter(rate.Limit(opts.Rate), max(opts.Burst, 1))
	for seq := 0; seq < opts.Packets; seq++ {
		for f := 0; f < opts.Flows; f++ {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			name := flowName(f)
			if err := emit(producedPacket{flowID: wire.FlowIDFromName(name), payload: makePayload(name, seq, opts.Size)}); err != nil {
				return err
			}
		}
	}
	return nil
}

func flowName(i int) string {
	return fmt.Sprintf("flow-%d", i)
}

func makePayload(name string, seq, size int) []byte {
	head := fmt.Sprintf("%s seq=%d ", name, seq)
	buf := make([]byte, max(size, len(head)))
	copy(buf, head)
	return buf
}

func runSend(ctx context.Context, opts *SendOptions, logger *observability.Logger, out io.Writer) error {
	if opts.Flows < 1 || opts.Packets < 1 {
		return fmt.Errorf("--flows and --packets must be positive")
	}
	if opts.Rate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	dest, err := validation.ParseHostPort(opts.Dest)
	if err != nil && opts.QUIC == "" {
		return err
	}

	start := time.Now()
	if opts.Direct || opts.QUIC != "" {
		err = sendDirect(ctx, opts, dest, logger)
	} else {
		err = sendIngest(ctx, opts, dest)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "queued %d packets for %d flows in %s\n", opts.Flows*opts.Packets, opts.Flows, time.Since(start).Round(time.Millisecond))
	return nil
}

func sendIngest(ctx context.Context, opts *SendOptions, dest netip.AddrPort) error {
	conn, err := net.Dial("udp", opts.Ingest)
	if err != nil {
		return fmt.Errorf("dial ingest: %w", err)
	}
	defer conn.Close()

	write := func(f wire.Frame) error {
		b, err := wire.Encode(f)
		if err != nil {
			return err
		}
		_, err = conn.Write(b)
		return err
	}

	if err := produce(ctx, opts, func(p producedPacket) error {
		return write(wire.DataFrame(p.flowID, dest, p.payload))
	}); err != nil {
		return err
	}

	if opts.Delete {
		for f := 0; f < opts.Flows; f++ {
			if err := write(wire.DeleteFrame(wire.FlowIDFromName(flowName(f)))); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendDirect paces through an in-process manager and returns once every packet left.
func sendDirect(ctx context.Context, opts *SendOptions, dest netip.AddrPort, logger *observability.Logger) error {
	mgr, err := udpqueue.NewManager(opts.Packets, opts.Interval, udpqueue.WithLogger(logger))
	if err != nil {
		return err
	}
	defer mgr.Close()

	var override udpqueue.Capability
	if opts.QUIC != "" {
		dconn, err := transport.DialDatagram(ctx, opts.QUIC, quicutil.MakeClientTLSConfig())
		if err != nil {
			return fmt.Errorf("dial QUIC sink: %w", err)
		}
		defer dconn.Close()
		override = dconn
		if !dest.IsValid() {
			dest, err = validation.ParseHostPort(opts.QUIC)
			if err != nil {
				return err
			}
		}
	}

	runErr := make(chan error, 1)
	go func() { runErr <- mgr.Run(ctx) }()

	if err := produce(ctx, opts, func(p producedPacket) error {
		if !mgr.Enqueue(p.flowID, dest, p.payload, override) {
			return udpqueue.ErrNotRunning
		}
		return nil
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for mgr.Stats().Pending > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-runErr:
			return err
		case <-ticker.C:
		}
	}
	// shutdown lets the in-flight packet go out before the dispatcher exits
	return mgr.Close()
}
