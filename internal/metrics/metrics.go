// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signal_bridge"

// Inbound artifact outcomes.
const (
	OutcomeProcessed     = "processed"
	OutcomeDuplicate     = "duplicate"
	OutcomeQuarantined   = "quarantined"
	OutcomeHandlerFailed = "handler_failed"
	OutcomeReadFailed    = "read_failed"
	OutcomeMoveFailed    = "move_failed"
)

// Metrics is created once per process and registered on its own registry,
// so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// Outbound
	CommandsEmitted *prometheus.CounterVec // kind
	EmitFailures    *prometheus.CounterVec // error kind

	// Inbound
	PollCycles       prometheus.Counter
	PollDuration     prometheus.Histogram
	InboundArtifacts *prometheus.CounterVec // outcome
	DedupEntries     prometheus.Gauge
	LastPollUnix     prometheus.Gauge

	// Lifecycle
	SignalsIngested *prometheus.CounterVec // channel
	SignalStatus    *prometheus.CounterVec // status
	PositionsClosed prometheus.Counter
	RealizedPnL     prometheus.Counter
	RealizedLoss    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CommandsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emitter",
			Name:      "commands_emitted_total",
			Help:      "Command artifacts written to the outbound directory",
		}, []string{"kind"}),
		EmitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emitter",
			Name:      "failures_total",
			Help:      "Emit calls that produced no artifact, by error kind",
		}, []string{"kind"}),

		PollCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "poll_cycles_total",
			Help:      "Completed inbound poll cycles",
		}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one inbound poll cycle",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		InboundArtifacts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "artifacts_total",
			Help:      "Inbound artifacts by outcome",
		}, []string{"outcome"}),
		DedupEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "dedup_entries",
			Help:      "Artifact names currently remembered as seen",
		}),
		LastPollUnix: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last completed poll cycle",
		}),

		SignalsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "signals_ingested_total",
			Help:      "Signals stored, by channel",
		}, []string{"channel"}),
		SignalStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "signal_transitions_total",
			Help:      "Signal status transitions, by target status",
		}, []string{"status"}),
		PositionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "positions_closed_total",
			Help:      "Positions closed by a fill",
		}),
		RealizedPnL: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "realized_profit_total",
			Help:      "Sum of positive realized P&L",
		}),
		RealizedLoss: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "realized_loss_total",
			Help:      "Sum of negative realized P&L, as a positive number",
		}),
	}
}

// Registry exposes the collectors for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePnL books one realized P&L amount.
func (m *Metrics) ObservePnL(v float64) {
	m.PositionsClosed.Inc()
	switch {
	case v > 0:
		m.RealizedPnL.Add(v)
	case v < 0:
		m.RealizedLoss.Add(-v)
	}
}
