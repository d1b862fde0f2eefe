package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_call_active_calls",
		Help: "Number of call orchestrators that have not reached closed",
	})
	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_call_relay_connections",
		Help: "Number of open signaling websocket connections",
	})
)

// Counters
var (
	CallsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_call_negotiations_started_total",
		Help: "Negotiations started by role",
	}, []string{"role"})
	CallsConnectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_call_connected_total",
		Help: "Calls that completed offer/answer negotiation",
	})
	CallsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_call_closed_total",
		Help: "Calls closed by reason",
	}, []string{"reason"})
	CallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_call_errors_total",
		Help: "Call failures by error kind",
	}, []string{"kind"})
	CandidatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_call_candidates_dropped_total",
		Help: "Buffered ICE candidates dropped because the buffer was full",
	})
	SignalsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_call_signals_relayed_total",
		Help: "Signaling messages relayed by the server, by type",
	}, []string{"type"})
	RelayRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_call_relay_rejected_total",
		Help: "Signaling connections rejected, by reason",
	}, []string{"reason"})
)

// Histograms
var (
	NegotiationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutor_call_negotiation_seconds",
		Help:    "Time from entering negotiating to connected, by role",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"role"})
)
