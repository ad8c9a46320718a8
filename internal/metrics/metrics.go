// Package metrics provides the Prometheus metric set for the Atlas backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op receiver so tests can skip registration entirely.
type Metrics struct {
	IngestionsTotal          *prometheus.CounterVec
	UpdateChecksTotal        *prometheus.CounterVec
	WhitelistRequestsTotal   *prometheus.CounterVec
	WhitelistRecomputesTotal prometheus.Counter
	RealtimeSubscribers      prometheus.Gauge
}

// New registers the metric set on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		IngestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_build_ingestions_total",
				Help: "Total build ingestion requests",
			},
			[]string{"channel", "status"},
		),
		UpdateChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_update_checks_total",
				Help: "Total update-check requests by outcome",
			},
			[]string{"outcome"},
		),
		WhitelistRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atlas_whitelist_requests_total",
				Help: "Total whitelist fetches by outcome",
			},
			[]string{"outcome"},
		),
		WhitelistRecomputesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "atlas_whitelist_recomputes_total",
				Help: "Total whitelist cache recomputations",
			},
		),
		RealtimeSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "atlas_realtime_subscribers",
				Help: "Currently connected pack-update stream subscribers",
			},
		),
	}
}

// Update-check and whitelist outcomes.
const (
	OutcomeFresh    = "fresh"
	OutcomeModified = "modified"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// RecordIngestion counts one ingestion request.
func (m *Metrics) RecordIngestion(channel, status string) {
	if m == nil {
		return
	}
	m.IngestionsTotal.WithLabelValues(channel, status).Inc()
}

// RecordUpdateCheck counts one update-check request.
func (m *Metrics) RecordUpdateCheck(outcome string) {
	if m == nil {
		return
	}
	m.UpdateChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordWhitelistRequest counts one whitelist fetch.
func (m *Metrics) RecordWhitelistRequest(outcome string) {
	if m == nil {
		return
	}
	m.WhitelistRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordWhitelistRecompute counts one cache recomputation.
func (m *Metrics) RecordWhitelistRecompute() {
	if m == nil {
		return
	}
	m.WhitelistRecomputesTotal.Inc()
}

// SubscriberConnected tracks a newly attached stream subscriber.
func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.RealtimeSubscribers.Inc()
}

// SubscriberDisconnected tracks a departed stream subscriber.
func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.RealtimeSubscribers.Dec()
}
