// Package metrics exposes Prometheus collectors for the overlay engine.
//
// Each Metrics value owns its registry so several sessions (or tests) can
// coexist without duplicate-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Placement outcome labels.
const (
	OutcomeCommitted = "committed"
	OutcomeFallback  = "fallback"
	OutcomeStale     = "stale"
	OutcomeFailed    = "failed"
)

// Metrics groups the collectors.
type Metrics struct {
	Registry *prometheus.Registry

	Calibrations    *prometheus.CounterVec
	Placements      *prometheus.CounterVec
	RemovalDuration prometheus.Histogram
	Exports         *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room_overlay",
			Name:      "calibrations_total",
			Help:      "Calibration attempts by result (measured, estimated, degenerate, invalid_length).",
		}, []string{"result"}),
		Placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room_overlay",
			Name:      "placements_total",
			Help:      "Placement results by outcome (committed, fallback, stale, failed).",
		}, []string{"outcome"}),
		RemovalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "room_overlay",
			Name:      "background_removal_seconds",
			Help:      "Latency of background-removal calls, successful or not.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "room_overlay",
			Name:      "exports_total",
			Help:      "Scene exports by format.",
		}, []string{"format"}),
	}
	m.Registry.MustRegister(m.Calibrations, m.Placements, m.RemovalDuration, m.Exports)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObservePlacement counts one placement outcome. Safe on a nil receiver.
func (m *Metrics) ObservePlacement(outcome string) {
	if m == nil {
		return
	}
	m.Placements.WithLabelValues(outcome).Inc()
}

// ObserveCalibration counts one calibration result. Safe on a nil receiver.
func (m *Metrics) ObserveCalibration(result string) {
	if m == nil {
		return
	}
	m.Calibrations.WithLabelValues(result).Inc()
}

// ObserveRemoval records one removal latency in seconds. Safe on a nil receiver.
func (m *Metrics) ObserveRemoval(seconds float64) {
	if m == nil {
		return
	}
	m.RemovalDuration.Observe(seconds)
}

// ObserveExport counts one export. Safe on a nil receiver.
func (m *Metrics) ObserveExport(format string) {
	if m == nil {
		return
	}
	m.Exports.WithLabelValues(format).Inc()
}
