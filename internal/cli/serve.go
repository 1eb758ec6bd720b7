package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/quantarax/udpqueue/internal/config"
	"github.com/quantarax/udpqueue/internal/ingest"
	"github.com/quantarax/udpqueue/internal/observability"
	"github.com/quantarax/udpqueue/internal/transport"
	"github.com/quantarax/udpqueue/internal/udpqueue"
)

// ServeOptions configures the serve command.
type ServeOptions struct {
	V4FD int
	V6FD int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pacer daemon",
		Long: `Run one packet pacer for this host.

Producers submit packets as ingest frames on the ingest address. Metrics,
health and pprof are served on the observability address.

With --v4-fd (and optionally --v6-fd) the pacer sends through sockets
inherited from the parent process instead of binding its own. The
inherited sockets are never closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts)
		},
	}

	cmd.Flags().IntVar(&opts.V4FD, "v4-fd", -1, "inherited IPv4 UDP socket descriptor to send through")
	cmd.Flags().IntVar(&opts.V6FD, "v6-fd", -1, "inherited IPv6 UDP socket descriptor (requires --v4-fd)")

	return cmd
}

// dispatcher returns the dispatch loop for mgr: over its own sockets, or over
// borrowed views of the inherited descriptors when v4fd is set.
func dispatcher(mgr *udpqueue.Manager, v4fd, v6fd int) (func(context.Context) error, error) {
	if v4fd < 0 {
		if v6fd >= 0 {
			return nil, errors.New("--v6-fd requires --v4-fd")
		}
		return mgr.Run, nil
	}
	sockets, release, err := transport.BorrowSockets(v4fd, v6fd)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := mgr.RunWithSockets(ctx, sockets)
		return errors.Join(err, release())
	}, nil
}

func runServe(ctx context.Context, opts *RootOptions, serveOpts *ServeOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	logger := observability.NewConsoleLogger(serviceName, Version)
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if err := logger.SetLevel(level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	mgr, err := udpqueue.NewManager(cfg.SoftCapacity, cfg.PacketInterval,
		udpqueue.WithLogger(logger),
		udpqueue.WithMetrics(metrics),
		udpqueue.WithLogErrors(cfg.LogErrors),
		udpqueue.WithIPv6(cfg.BindIPv6),
		udpqueue.WithErrorLogLimit(cfg.ErrorLogRate, cfg.ErrorLogBurst),
	)
	if err != nil {
		return err
	}

	run, err := dispatcher(mgr, serveOpts.V4FD, serveOpts.V6FD)
	if err != nil {
		mgr.Close()
		return err
	}

	srv, err := ingest.Listen(cfg.IngestAddr, mgr, logger, metrics)
	if err != nil {
		mgr.Close()
		return err
	}

	health := observability.NewHealthChecker(Version)
	health.RegisterCheck("dispatcher", observability.DispatcherCheck(func() string { return mgr.Status().String() }))
	health.RegisterCheck("backlog", observability.BacklogCheck(func() int { return mgr.Stats().Pending }, cfg.BacklogThreshold))
	health.RegisterCheck("ingest", observability.IngestListenerCheck(srv.Addr().String()))

	var httpSrv *http.Server
	if cfg.ObservabilityAddr != "" {
		httpSrv = newObservabilityServer(cfg.ObservabilityAddr, metrics, health)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "Observability server failed")
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- run(ctx) }()

	ingestErr := make(chan error, 1)
	go func() { ingestErr <- srv.Serve(ctx) }()

	logger.Info(fmt.Sprintf("udpq serving ingest on %s", srv.Addr()))

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-runErr:
		result = err
		runErr <- nil
	case err := <-ingestErr:
		result = err
		ingestErr <- nil
	}

	srv.Close()
	mgr.Shutdown()
	mgr.WaitDestroyed()
	if err := <-runErr; err != nil && result == nil {
		result = err
	}
	<-ingestErr

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return result
}

// newObservabilityServer serves /metrics, /health and pprof.
func newObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", health.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
