/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const metricsLabelReason = "reason"

// MetricsCollector is an interface for collecting admission decisions.
type MetricsCollector interface {
	// IncAllowed is called for every allowed request.
	IncAllowed()
	// IncDenied is called for every denied request with the denial reason.
	IncDenied(reason Reason)
}

type disabledMetrics struct{}

func (disabledMetrics) IncAllowed()        {}
func (disabledMetrics) IncDenied(_ Reason) {}

// PrometheusMetrics is a MetricsCollector implementation based on Prometheus counters.
type PrometheusMetrics struct {
	Decisions *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_decisions_total",
		Help:      "Number of admission decisions partitioned by reason.",
	}, []string{metricsLabelReason})
	return &PrometheusMetrics{Decisions: decisions}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (m *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{Decisions: m.Decisions.MustCurryWith(labels)}
}

// MustRegister does registration of the metrics collector in Prometheus and panics if any error occurs.
func (m *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(m.Decisions)
}

// Unregister cancels registration of the metrics collector in Prometheus.
func (m *PrometheusMetrics) Unregister() {
	prometheus.Unregister(m.Decisions)
}

// IncAllowed implements the MetricsCollector interface.
func (m *PrometheusMetrics) IncAllowed() {
	m.Decisions.WithLabelValues(string(ReasonAllowed)).Inc()
}

// IncDenied implements the MetricsCollector interface.
func (m *PrometheusMetrics) IncDenied(reason Reason) {
	m.Decisions.WithLabelValues(string(reason)).Inc()
}
