package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewConsoleLogger logs human-readable lines when stderr is a terminal and
// falls back to JSON on stderr otherwise.
func NewConsoleLogger(service, version string) *Logger {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return NewLogger(service, version, os.Stderr)
	}
	return NewLogger(service, version, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// SetLevel sets the minimum level ("debug", "info", "warn", ...).
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.logger = l.logger.Level(lvl)
	return nil
}

// WithManager adds manager_id context to logger.
func (l *Logger) WithManager(managerID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("manager_id", managerID).Logger(),
	}
}

// WithComponent adds component context to logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", name).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// DispatcherStarted logs the dispatch loop taking over a manager.
func (l *Logger) DispatcherStarted(capacity int, interval time.Duration, ipv6 bool) {
	l.logger.Info().
		Int("soft_capacity", capacity).
		Dur("interval", interval).
		Bool("ipv6_transport", ipv6).
		Msg("dispatcher started")
}

// DispatcherStopped logs dispatch loop exit. Packets still buffered are dropped.
func (l *Logger) DispatcherStopped(flows, pending int) {
	l.logger.Info().
		Int("flows", flows).
		Int("pending_packets", pending).
		Msg("dispatcher stopped")
}

// PacketSendFailed logs a send error for one packet.
func (l *Logger) PacketSendFailed(flowID int64, dest string, size int, err error) {
	l.logger.Warn().
		Int64("flow_id", flowID).
		Str("dest", dest).
		Int("packet_size", size).
		Err(err).
		Msg("error sending packet")
}

// SendErrorsSuppressed reports how many send errors were not logged while throttled.
func (l *Logger) SendErrorsSuppressed(count int64) {
	l.logger.Warn().
		Int64("suppressed", count).
		Msg("send errors suppressed")
}

// FlowReclaimed logs removal of an idle flow.
func (l *Logger) FlowReclaimed(flowID int64) {
	l.logger.Debug().
		Int64("flow_id", flowID).
		Msg("idle flow reclaimed")
}

// DriftReset logs a flow whose schedule was reset after a late dispatch.
func (l *Logger) DriftReset(flowID int64, late time.Duration) {
	l.logger.Debug().
		Int64("flow_id", flowID).
		Dur("late", late).
		Msg("dispatch late, schedule reset")
}

// IPv6BindFailed logs the optional IPv6 transport being unavailable.
func (l *Logger) IPv6BindFailed(err error) {
	l.logger.Warn().
		Err(err).
		Msg("could not bind IPv6 socket, IPv6 destinations will fail")
}

// FrameRejected logs an ingest frame that could not be decoded or queued.
func (l *Logger) FrameRejected(remoteAddr string, err error) {
	l.logger.Warn().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("ingest frame rejected")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
