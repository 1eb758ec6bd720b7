package udpqueue

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run binds the default sockets and dispatches packets until the manager is
// shut down or ctx is done. It blocks for the lifetime of the manager and must
// run on its own goroutine. The only errors it returns are setup errors.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.claim(); err != nil {
		return err
	}
	s, err := BindSockets(m.bindIPv6, m.logger)
	if err != nil {
		m.release()
		return err
	}
	m.dispatch(ctx, s)
	if err := s.Close(); err != nil {
		m.logger.Error(err, "Closing default sockets")
	}
	m.release()
	return nil
}

// RunWithSockets is Run over caller-supplied default capabilities. They are
// borrowed: the manager sends through them and never closes them.
func (m *Manager) RunWithSockets(ctx context.Context, s *Sockets) error {
	if s == nil || s.V4 == nil {
		return ErrNoIPv4Transport
	}
	if err := m.claim(); err != nil {
		return err
	}
	borrowed := &Sockets{V4: s.V4, V6: s.V6}
	m.dispatch(ctx, borrowed)
	m.release()
	return nil
}

// claim marks the dispatcher active. Only one may run per manager.
func (m *Manager) claim() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusRunning {
		return ErrNotRunning
	}
	if m.dispatching {
		return ErrDispatcherActive
	}
	m.dispatching = true
	return nil
}

// release marks the dispatcher gone and completes a pending shutdown.
func (m *Manager) release() {
	m.mu.Lock()
	m.dispatching = false
	if m.status == StatusShutdown {
		m.destroyLocked()
	}
	m.mu.Unlock()
	m.cond.Broadcast()
}

func (m *Manager) dispatch(ctx context.Context, s *Sockets) {
	ctx, span := m.tracer.Start(ctx, "udpqueue.dispatch", trace.WithAttributes(
		attribute.String("manager.id", m.id),
		attribute.Int64("interval_ns", m.interval.Nanoseconds()),
		attribute.Int("soft_capacity", m.capacity),
		attribute.Bool("ipv6", s.V6 != nil),
	))
	defer span.End()

	stop := context.AfterFunc(ctx, m.Shutdown)
	defer stop()

	m.logger.DispatcherStarted(m.capacity, m.interval, s.V6 != nil)

	var sent, failed int64
	for {
		f, packet, ok := m.next()
		if !ok {
			break
		}

		due := f.due
		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}

		start := time.Now()
		var err error
		if f.override != nil {
			_, err = f.override.WriteToUDPAddrPort(packet, f.dest)
		} else {
			err = s.send(packet, f.dest)
		}
		if err != nil {
			failed++
			m.reportSendError(f, len(packet), err)
		} else {
			sent++
			m.metrics.RecordPacketSent(len(packet), start.Sub(due).Seconds())
		}

		m.reschedule(f, due, time.Now())
	}

	stats := m.Stats()
	span.SetAttributes(
		attribute.Int64("packets.sent", sent),
		attribute.Int64("packets.failed", failed),
	)
	if m.suppressed > 0 {
		m.logger.SendErrorsSuppressed(m.suppressed)
		m.suppressed = 0
	}
	m.logger.DispatcherStopped(stats.Flows, stats.Pending)
}

// next blocks until a flow has a packet to send, and returns it with that
// packet. It returns ok=false once the manager leaves StatusRunning. Empty
// flows met on the way are reclaimed when past due and re-enrolled otherwise.
func (m *Manager) next() (f *flow, packet []byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.status != StatusRunning {
			return nil, nil, false
		}
		if m.reg.idle() {
			m.cond.Wait()
			continue
		}
		f = m.reg.next()
		if f == nil {
			m.cond.Wait()
			continue
		}

		packet, ok = m.reg.pop(f)
		if ok {
			m.metrics.SetBacklog(m.reg.len(), m.reg.pending)
			return f, packet, true
		}

		if time.Now().Before(f.due) {
			m.reg.enroll(f)
			continue
		}
		m.reg.remove(f.id)
		m.metrics.RecordFlowReclaimed()
		m.metrics.SetBacklog(m.reg.len(), m.reg.pending)
		m.logger.FlowReclaimed(f.id)
	}
}

// reschedule sets the flow's next due time and puts it back in the ordering,
// unless it was deleted while its packet was in flight.
func (m *Manager) reschedule(f *flow, due, now time.Time) {
	nextAt, reset := nextDue(due, now, m.interval)

	m.mu.Lock()
	f.due = nextAt
	m.reg.enroll(f)
	m.mu.Unlock()

	if reset {
		m.metrics.RecordDriftReset()
		m.logger.DriftReset(f.id, now.Sub(due))
	}
}

// nextDue returns the due time following one at due, sent at now. A send late
// by two intervals or more restarts the cadence from now instead of catching up
// in a burst; reset reports that case.
func nextDue(due, now time.Time, interval time.Duration) (next time.Time, reset bool) {
	if now.Sub(due) >= 2*interval {
		return now.Add(interval), true
	}
	return due.Add(interval), false
}

func (m *Manager) reportSendError(f *flow, size int, err error) {
	reason := "io"
	if errors.Is(err, ErrNoIPv6Transport) {
		reason = "no_ipv6"
	}
	m.metrics.RecordSendError(reason)

	if !m.logErrors {
		return
	}
	if !m.errLimiter.Allow(1) {
		m.suppressed++
		return
	}
	if m.suppressed > 0 {
		m.logger.SendErrorsSuppressed(m.suppressed)
		m.suppressed = 0
	}
	m.logger.PacketSendFailed(f.id, f.dest.String(), size, err)
}
