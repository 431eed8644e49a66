// Package metrics exposes the gateway's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics bundles every collector the gateway emits.
type GatewayMetrics struct {
	registry *prometheus.Registry

	OpLatency       *prometheus.HistogramVec
	OpErrors        *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	Subscriptions   *prometheus.GaugeVec
	OrdersValidated *prometheus.CounterVec
}

// New builds and registers all gateway collectors on a fresh registry.
func New() *GatewayMetrics {
	m := &GatewayMetrics{
		registry: prometheus.NewRegistry(),
		OpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "brokergate",
			Name:      "operation_latency_seconds",
			Help:      "Latency of provider operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		OpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokergate",
			Name:      "operation_errors_total",
			Help:      "Provider operation errors by taxonomy kind.",
		}, []string{"provider", "operation", "kind"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "brokergate",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"provider", "class"}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "brokergate",
			Name:      "active_subscriptions",
			Help:      "Live real-time subscription handles.",
		}, []string{"provider"}),
		OrdersValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "brokergate",
			Name:      "orders_validated_total",
			Help:      "Order validation pipeline outcomes.",
		}, []string{"provider", "outcome"}),
	}

	m.registry.MustRegister(
		m.OpLatency, m.OpErrors, m.BreakerState, m.Subscriptions, m.OrdersValidated)
	return m
}

// Registry returns the prometheus registry backing the collectors.
func (m *GatewayMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOp records one operation's latency.
func (m *GatewayMetrics) ObserveOp(provider, operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OpLatency.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// CountError records one failed operation.
func (m *GatewayMetrics) CountError(provider, operation, kind string) {
	if m == nil {
		return
	}
	m.OpErrors.WithLabelValues(provider, operation, kind).Inc()
}

// SetBreakerState records a breaker state change.
func (m *GatewayMetrics) SetBreakerState(provider, class string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(provider, class).Set(state)
}

// SetSubscriptions records the live handle count.
func (m *GatewayMetrics) SetSubscriptions(provider string, n int) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(provider).Set(float64(n))
}

// CountValidation records a pipeline outcome.
func (m *GatewayMetrics) CountValidation(provider, outcome string) {
	if m == nil {
		return
	}
	m.OrdersValidated.WithLabelValues(provider, outcome).Inc()
}
