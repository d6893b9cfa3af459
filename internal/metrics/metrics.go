// Package metrics exposes Prometheus collectors for ledger gateway calls and
// wallet operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "custody"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	walletOps       *prometheus.CounterVec
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		gatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Ledger gateway calls by network, operation and outcome",
		}, []string{"network", "operation", "outcome"}),
		gatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "request_duration_seconds",
			Help:      "Ledger gateway call latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"network", "operation"}),
		walletOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet operations by audit operation and outcome",
		}, []string{"operation", "outcome"}),
	}
}

// ObserveGateway records one gateway call.
func (m *Metrics) ObserveGateway(network, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(network, operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(network, operation).Observe(elapsed.Seconds())
}

// IncWalletOp records one wallet operation.
func (m *Metrics) IncWalletOp(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.walletOps.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
