package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/pawmart/api/internal/domain"
)

const metricsNamespace = "pawmart"

// Metrics owns the Prometheus collectors of the API. Each instance registers on its own registry so tests
// can build several without clashing.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	ordersPlaced *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	restoredUnit *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them together with the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
		}, []string{"route"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Checkout attempts by payment method and outcome.",
		}, []string{"method", "outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "payments",
			Name:      "settlements_total",
			Help:      "Payment settlement results applied to orders.",
		}, []string{"outcome"}),
		restoredUnit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "inventory",
			Name:      "restored_units_total",
			Help:      "Stock units given back to products.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.ordersPlaced,
		m.settlements,
		m.restoredUnit,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(float64(latency) / float64(time.Millisecond))
}

// OrderPlaced counts a checkout attempt.
func (m *Metrics) OrderPlaced(method domain.PaymentMethod, outcome string) {
	m.ordersPlaced.WithLabelValues(string(method), outcome).Inc()
}

// PaymentSettled counts a payment result applied to an order.
func (m *Metrics) PaymentSettled(outcome string) {
	m.settlements.WithLabelValues(outcome).Inc()
}

// StockRestored counts units returned to stock.
func (m *Metrics) StockRestored(reason string, units int) {
	if units <= 0 {
		return
	}
	m.restoredUnit.WithLabelValues(reason).Add(float64(units))
}
