// Package udpqueue paces outbound datagrams for many independent flows.
//
// Producers call Enqueue from any goroutine; one dedicated goroutine runs Run,
// which sends at most one packet per flow every interval, round-robin across
// flows. Teardown is Shutdown, then WaitDestroyed (or Close for both).
package udpqueue

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantarax/udpqueue/internal/observability"
	"github.com/quantarax/udpqueue/internal/ratelimit"
	"github.com/quantarax/udpqueue/internal/validation"
)

var (
	ErrInvalidInterval  = errors.New("packet interval must be positive")
	ErrInvalidCapacity  = errors.New("soft capacity must not be negative")
	ErrNotRunning       = errors.New("manager is not running")
	ErrDispatcherActive = errors.New("dispatcher already running")
)

const tracerName = "github.com/quantarax/udpqueue"

// Stats is a point-in-time view of a Manager.
type Stats struct {
	Flows   int
	Pending int
	Status  Status
}

// Manager owns the flow registry and the lifecycle of its dispatch loop.
type Manager struct {
	id       string
	interval time.Duration
	capacity int

	mu          sync.Mutex
	cond        *sync.Cond // signalled on new work and on shutdown
	reg         *registry
	status      Status
	dispatching bool
	done        chan struct{} // closed on StatusDestroyed

	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	logErrors  bool
	bindIPv6   bool
	errLimiter *ratelimit.TokenBucket
	suppressed int64 // dispatcher goroutine only
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogErrors toggles logging of send failures. Default on.
func WithLogErrors(enabled bool) Option {
	return func(m *Manager) { m.logErrors = enabled }
}

// WithIPv6 controls whether Run tries to bind an IPv6 socket. Default on.
func WithIPv6(enabled bool) Option {
	return func(m *Manager) { m.bindIPv6 = enabled }
}

// WithErrorLogLimit caps logged send errors to rate per second with the given burst.
func WithErrorLogLimit(rate float64, burst int) Option {
	return func(m *Manager) { m.errLimiter = ratelimit.NewTokenBucket(rate, burst) }
}

// NewManager creates a manager that paces every flow at one packet per interval.
// capacity is the advisory per-flow budget reported by Remaining; it never
// causes Enqueue to refuse a packet.
func NewManager(capacity int, interval time.Duration, opts ...Option) (*Manager, error) {
	if err := validation.ValidatePositiveDuration(interval); err != nil {
		return nil, errors.Join(ErrInvalidInterval, err)
	}
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}

	m := &Manager{
		id:        uuid.NewString(),
		interval:  interval,
		capacity:  capacity,
		reg:       newRegistry(capacity),
		status:    StatusRunning,
		done:      make(chan struct{}),
		logger:    observability.NewNopLogger(),
		tracer:    otel.Tracer(tracerName),
		logErrors: true,
		bindIPv6:  true,
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	if m.errLimiter == nil {
		m.errLimiter = ratelimit.NewTokenBucket(10, 20)
	}
	m.logger = m.logger.WithManager(m.id)
	return m, nil
}

// ID identifies this manager in logs and traces.
func (m *Manager) ID() string { return m.id }

// Interval returns the pacing interval.
func (m *Manager) Interval() time.Duration { return m.interval }

// Capacity returns the soft per-flow capacity.
func (m *Manager) Capacity() int { return m.capacity }

// Enqueue appends packet to the flow's queue, creating the flow on first use
// with dest and override (nil means the default sockets). The manager takes
// ownership of packet. It returns false, without side effects, once the
// manager is no longer running or when dest is not a valid address and
// non-zero port.
func (m *Manager) Enqueue(flowID int64, dest netip.AddrPort, packet []byte, override Capability) bool {
	if !dest.IsValid() || dest.Port() == 0 {
		m.metrics.RecordEnqueueRejected("invalid_destination")
		return false
	}
	dest = netip.AddrPortFrom(dest.Addr().Unmap(), dest.Port())

	m.mu.Lock()
	if m.status != StatusRunning {
		m.mu.Unlock()
		m.metrics.RecordEnqueueRejected("not_running")
		return false
	}
	m.reg.enqueue(flowID, dest, packet, override, time.Now())
	m.metrics.SetBacklog(m.reg.len(), m.reg.pending)
	m.mu.Unlock()

	m.cond.Signal()
	m.metrics.RecordEnqueued()
	return true
}

// QueuePacket is Enqueue for callers holding a textual host and a reusable
// buffer: host must be a literal IP, and packet is copied.
func (m *Manager) QueuePacket(flowID int64, host string, port uint16, packet []byte, override Capability) error {
	dest, err := validation.ParseDestination(host, port)
	if err != nil {
		m.metrics.RecordEnqueueRejected("invalid_destination")
		return err
	}
	if !m.Enqueue(flowID, dest, append([]byte(nil), packet...), override) {
		return ErrNotRunning
	}
	return nil
}

// Remaining returns the soft capacity minus the packets buffered for the flow,
// floored at zero. Unknown flows report the full capacity.
func (m *Manager) Remaining(flowID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.remaining(flowID)
}

// DeleteFlow drops the flow and its buffered packets and reports whether it
// existed. It works in every lifecycle state.
func (m *Manager) DeleteFlow(flowID int64) bool {
	m.mu.Lock()
	removed := m.reg.remove(flowID)
	m.metrics.SetBacklog(m.reg.len(), m.reg.pending)
	m.mu.Unlock()

	if removed {
		m.metrics.RecordFlowDeleted()
	}
	return removed
}

// Status returns the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Stats returns the registry size and lifecycle state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Flows: m.reg.len(), Pending: m.reg.pending, Status: m.status}
}

// Shutdown stops accepting packets and asks the dispatcher to exit. It is
// idempotent. Without an active dispatcher the manager is destroyed at once.
func (m *Manager) Shutdown() {
	_, span := m.tracer.Start(context.Background(), "udpqueue.shutdown")
	defer span.End()

	m.mu.Lock()
	if m.status == StatusRunning {
		m.status = StatusShutdown
		if !m.dispatching {
			m.destroyLocked()
		}
	}
	m.mu.Unlock()
	m.cond.Broadcast()
}

// WaitDestroyed blocks until the dispatcher has fully exited. The Manager must
// not be reused for dispatch or discarded before this returns.
func (m *Manager) WaitDestroyed() {
	<-m.done
}

// Done is closed once the manager reaches StatusDestroyed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close shuts the manager down and waits for the dispatcher to exit.
func (m *Manager) Close() error {
	m.Shutdown()
	m.WaitDestroyed()
	return nil
}

func (m *Manager) destroyLocked() {
	m.status = StatusDestroyed
	close(m.done)
}
