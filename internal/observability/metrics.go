// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Call outcomes used as the "result" label.
const (
	ResultOK           = "ok"
	ResultRejected     = "rejected"
	ResultTimeout      = "timeout"
	ResultCanceled     = "canceled"
	ResultDisconnected = "disconnected"
	ResultWriteError   = "write_error"
)

// Reasons an inbound message is dropped.
const (
	DropMalformed  = "malformed"
	DropUnmatched  = "unmatched"
	DropUnroutable = "unroutable"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Protocol metrics
	CallsSent       *prometheus.CounterVec
	CallResults     *prometheus.CounterVec
	CallLatency     *prometheus.HistogramVec
	PendingCalls    prometheus.Gauge
	EventsReceived  *prometheus.CounterVec
	HandlerErrors   *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	Disconnects     prometheus.Counter

	// Payout metrics
	PayoutsProcessed *prometheus.CounterVec
	PaymentsSent     *prometheus.CounterVec
	PaymentValue     *prometheus.CounterVec

	// Roster metrics
	RosterQueryDuration prometheus.Histogram
	EligibleRecipients  prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "krist_payout"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CallsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "calls_sent_total",
			Help:      "Total number of calls sent by type",
		}, []string{"type"}),
		CallResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "call_results_total",
			Help:      "Total number of completed calls by type and result",
		}, []string{"type", "result"}),
		CallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "call_latency_seconds",
			Help:      "Time from sending a call to its response",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		PendingCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "pending_calls",
			Help:      "Number of calls awaiting a response",
		}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "events_received_total",
			Help:      "Total number of push events received by event name",
		}, []string{"event"}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "handler_errors_total",
			Help:      "Total number of event handler failures by event name",
		}, []string{"event"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "messages_dropped_total",
			Help:      "Total number of inbound messages dropped by reason",
		}, []string{"reason"}),
		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "krist",
			Name:      "disconnects_total",
			Help:      "Total number of unexpected channel closes",
		}),

		PayoutsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "processed_total",
			Help:      "Total number of incoming payments handled by outcome",
		}, []string{"outcome"}),
		PaymentsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "payments_sent_total",
			Help:      "Total number of outgoing payments by kind and status",
		}, []string{"kind", "status"}),
		PaymentValue: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "payment_value_total",
			Help:      "Total value of successful outgoing payments by kind",
		}, []string{"kind"}),

		RosterQueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "roster",
			Name:      "query_duration_seconds",
			Help:      "Time spent fetching the eligible recipient set",
			Buckets:   prometheus.DefBuckets,
		}),
		EligibleRecipients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "roster",
			Name:      "eligible_recipients",
			Help:      "Size of the most recently fetched eligible recipient set",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCallSent increments the calls sent counter.
func (m *Metrics) RecordCallSent(callType string) {
	if m == nil {
		return
	}
	m.CallsSent.WithLabelValues(callType).Inc()
}

// RecordCallResult records how a call finished and how long it took.
func (m *Metrics) RecordCallResult(callType, result string, seconds float64) {
	if m == nil {
		return
	}
	m.CallResults.WithLabelValues(callType, result).Inc()
	m.CallLatency.WithLabelValues(callType).Observe(seconds)
}

// SetPendingCalls updates the pending calls gauge.
func (m *Metrics) SetPendingCalls(n int) {
	if m == nil {
		return
	}
	m.PendingCalls.Set(float64(n))
}

// RecordEvent increments the events received counter.
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(event).Inc()
}

// RecordHandlerError increments the handler error counter.
func (m *Metrics) RecordHandlerError(event string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(event).Inc()
}

// RecordDropped increments the dropped message counter.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// RecordDisconnect increments the disconnect counter.
func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}
	m.Disconnects.Inc()
}

// RecordPayout records the outcome of handling one incoming payment.
func (m *Metrics) RecordPayout(outcome string) {
	if m == nil {
		return
	}
	m.PayoutsProcessed.WithLabelValues(outcome).Inc()
}

// RecordPayment records one outgoing payment.
func (m *Metrics) RecordPayment(kind string, amount int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PaymentsSent.WithLabelValues(kind, "error").Inc()
		return
	}
	m.PaymentsSent.WithLabelValues(kind, "ok").Inc()
	m.PaymentValue.WithLabelValues(kind).Add(float64(amount))
}

// RecordRosterQuery records a roster fetch and the resulting set size.
func (m *Metrics) RecordRosterQuery(seconds float64, eligible int) {
	if m == nil {
		return
	}
	m.RosterQueryDuration.Observe(seconds)
	m.EligibleRecipients.Set(float64(eligible))
}
