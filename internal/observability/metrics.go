package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pacer.
//
// Every Record/Set method is safe to call on a nil *Metrics, so components can
// treat metrics as optional.
type Metrics struct {
	// Producer side
	PacketsEnqueuedTotal prometheus.Counter
	PacketsRejectedTotal *prometheus.CounterVec
	FlowsActive          prometheus.Gauge
	PacketsPending       prometheus.Gauge
	FlowsDeletedTotal    prometheus.Counter

	// Dispatch side
	PacketsSentTotal    prometheus.Counter
	BytesSentTotal      prometheus.Counter
	SendErrorsTotal     *prometheus.CounterVec
	FlowsReclaimedTotal prometheus.Counter
	DriftResetsTotal    prometheus.Counter
	DispatchLateness    prometheus.Histogram

	// Ingest
	IngestFramesTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all Prometheus metrics on registry.
// A nil registry uses the process-wide default registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if registry != nil {
		registerer, gatherer = registry, registry
	}
	factory := promauto.With(registerer)

	m := &Metrics{
		PacketsEnqueuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "udpqueue_packets_enqueued_total",
				Help: "Packets accepted into flow queues",
			},
		),

		PacketsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udpqueue_packets_rejected_total",
				Help: "Packets refused at enqueue",
			},
			[]string{"reason"},
		),

		FlowsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "udpqueue_flows_active",
				Help: "Flow queues currently registered",
			},
		),

		PacketsPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "udpqueue_packets_pending",
				Help: "Packets buffered across all flows",
			},
		),

		FlowsDeletedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "udpqueue_flows_deleted_total",
				Help: "Flows removed by explicit delete",
			},
		),

		PacketsSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "udpqueue_packets_sent_total",
				Help: "Packets handed to a send capability without error",
			},
		),

		BytesSentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "udpqueue_bytes_sent_total",
				Help: "Payload bytes sent",
			},
		),

		SendErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udpqueue_send_errors_total",
				Help: "Packets whose send failed",
			},
			[]string{"reason"},
		),

		FlowsReclaimedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "udpqueue_flows_reclaimed_total",
				Help: "Idle flows removed by the dispatcher",
			},
		),

		DriftResetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "udpqueue_drift_resets_total",
				Help: "Dispatches late by two intervals or more",
			},
		),

		DispatchLateness: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "udpqueue_dispatch_lateness_seconds",
				Help:    "Delay between a packet's due time and its send",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5},
			},
		),

		IngestFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "udpqueue_ingest_frames_total",
				Help: "Frames read from the ingest socket",
			},
			[]string{"result"},
		),

		gatherer: gatherer,
	}

	return m
}

// RecordEnqueued counts an accepted packet.
func (m *Metrics) RecordEnqueued() {
	if m == nil {
		return
	}
	m.PacketsEnqueuedTotal.Inc()
}

// RecordEnqueueRejected counts a refused packet.
func (m *Metrics) RecordEnqueueRejected(reason string) {
	if m == nil {
		return
	}
	m.PacketsRejectedTotal.WithLabelValues(reason).Inc()
}

// SetBacklog publishes the registry size.
func (m *Metrics) SetBacklog(flows, pending int) {
	if m == nil {
		return
	}
	m.FlowsActive.Set(float64(flows))
	m.PacketsPending.Set(float64(pending))
}

// RecordFlowDeleted counts an explicit delete.
func (m *Metrics) RecordFlowDeleted() {
	if m == nil {
		return
	}
	m.FlowsDeletedTotal.Inc()
}

// RecordPacketSent updates metrics for a sent packet.
func (m *Metrics) RecordPacketSent(bytes int, lateSeconds float64) {
	if m == nil {
		return
	}
	m.PacketsSentTotal.Inc()
	m.BytesSentTotal.Add(float64(bytes))
	m.DispatchLateness.Observe(lateSeconds)
}

// RecordSendError counts a failed send.
func (m *Metrics) RecordSendError(reason string) {
	if m == nil {
		return
	}
	m.SendErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordFlowReclaimed counts an idle flow reclamation.
func (m *Metrics) RecordFlowReclaimed() {
	if m == nil {
		return
	}
	m.FlowsReclaimedTotal.Inc()
}

// RecordDriftReset counts a schedule reset after a late dispatch.
func (m *Metrics) RecordDriftReset() {
	if m == nil {
		return
	}
	m.DriftResetsTotal.Inc()
}

// RecordIngestFrame counts an ingest frame by outcome.
func (m *Metrics) RecordIngestFrame(result string) {
	if m == nil {
		return
	}
	m.IngestFramesTotal.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == prometheus.DefaultGatherer {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
