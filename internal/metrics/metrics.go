// Package metrics provides Prometheus collectors for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the payment gateway.
type Metrics struct {
	APICalls         *prometheus.CounterVec
	CostPerRequest   prometheus.Histogram
	RefundPerRequest prometheus.Histogram
	ActiveRequests   prometheus.Gauge
	PaymentsRejected *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a registry and registers all gateway collectors on it.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "api_calls_total",
			Help:      "Total number of proxied API calls.",
		}, []string{"model", "status"}),

		CostPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "cost_per_request_usd",
			Help:      "Actual cost per proxied request in USD.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 10, 8),
		}),

		RefundPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "refund_per_request_usd",
			Help:      "Refund obligation per proxied request in USD.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 10, 8),
		}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "active_requests",
			Help:      "Number of currently active proxied requests.",
		}),

		PaymentsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "payments_rejected_total",
			Help:      "Total requests rejected with 402.",
		}, []string{"reason"}),

		registry: registry,
	}

	registry.MustRegister(
		m.APICalls,
		m.CostPerRequest,
		m.RefundPerRequest,
		m.ActiveRequests,
		m.PaymentsRejected,
	)

	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
