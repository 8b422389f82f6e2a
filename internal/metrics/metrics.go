// Package metrics holds the Prometheus collectors for the wallet layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wallet_layer"

// Metrics is the collector set, registered on a caller-provided registry
// so tests can use isolated registries.
type Metrics struct {
	settlements        *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec
	sessionEvents      *prometheus.CounterVec
	providerScans      prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers the wallet layer collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "attempts_total",
				Help:      "Total settlement attempts by outcome and error kind.",
			},
			[]string{"outcome", "kind"},
		),
		settlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "End-to-end settlement duration.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"outcome"},
		),
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Session lifecycle events by type.",
			},
			[]string{"event"},
		),
		providerScans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "providers",
				Name:      "scans_total",
				Help:      "Total provider detection scans.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Gateway requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Gateway request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(m.settlements, m.settlementDuration, m.sessionEvents,
		m.providerScans, m.httpRequests, m.httpDuration)
	return m
}

// ObserveSettlement records one terminal settlement result.
func (m *Metrics) ObserveSettlement(outcome, kind string, took time.Duration) {
	m.settlements.WithLabelValues(outcome, kind).Inc()
	m.settlementDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// SessionEvent records a session lifecycle event ("connect", "disconnect",
// "account_changed", "handoff").
func (m *Metrics) SessionEvent(event string) {
	m.sessionEvents.WithLabelValues(event).Inc()
}

// ProviderScan records one registry scan.
func (m *Metrics) ProviderScan() {
	m.providerScans.Inc()
}

// RecordHTTPRequest records one gateway request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, took time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(took.Seconds())
}
