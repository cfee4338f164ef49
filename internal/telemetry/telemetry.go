// Package telemetry exposes Prometheus metrics for intercepted requests and
// credential activity on a private registry.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "keygate"

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeCredentials *prometheus.GaugeVec
}

// New creates Metrics registered on a fresh registry. Go runtime and process
// collectors are included so the endpoint is useful on its own.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Intercepted requests by service, endpoint and status.",
			},
			[]string{"service", "endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Latency of intercepted requests.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "endpoint"},
		),
		activeCredentials: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_credentials",
				Help:      "Credentials with usage in the last reported window.",
			},
			[]string{"service"},
		),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeCredentials,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest counts one intercepted request and its latency.
func (m *Metrics) ObserveRequest(service, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(service, endpoint).Observe(elapsed.Seconds())
}

// SetActiveCredentials replaces the active-credential gauge. Services absent
// from counts are reset to zero.
func (m *Metrics) SetActiveCredentials(counts map[string]int64, services []string) {
	if m == nil {
		return
	}
	for _, name := range services {
		m.activeCredentials.WithLabelValues(name).Set(float64(counts[name]))
	}
	for name, n := range counts {
		m.activeCredentials.WithLabelValues(name).Set(float64(n))
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
