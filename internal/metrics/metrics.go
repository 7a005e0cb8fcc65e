// Package metrics provides Prometheus metrics for the token relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenrelay"

// Metrics holds the relay collectors on a dedicated registry.
// It implements tokenmanager.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	tokenExpiry     prometheus.Gauge
	tokenRequests   *prometheus.CounterVec
}

// New creates and registers the relay collectors. Process and Go runtime
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "total",
				Help:      "Total number of token refresh attempts by result",
			},
			[]string{"result"},
		),

		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "refresh",
				Name:      "duration_seconds",
				Help:      "Duration of token endpoint exchanges",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		tokenExpiry: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "expiry_timestamp_seconds",
				Help:      "Unix time at which the cached access token expires",
			},
		),

		tokenRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "token_requests_total",
				Help:      "Total number of token requests served by status code",
			},
			[]string{"code"},
		),
	}

	m.registry.MustRegister(m.refreshTotal, m.refreshDuration, m.tokenExpiry, m.tokenRequests)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// RefreshCompleted records one refresh attempt. Throttled attempts never
// reach the provider and are not added to the duration histogram.
func (m *Metrics) RefreshCompleted(result string, duration time.Duration) {
	m.refreshTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		m.refreshDuration.Observe(duration.Seconds())
	}
}

// TokenStored records the expiry of a newly stored token.
func (m *Metrics) TokenStored(expiry time.Time) {
	m.tokenExpiry.Set(float64(expiry.Unix()))
}

// TokenRequest counts one /get-token response.
func (m *Metrics) TokenRequest(status int) {
	m.tokenRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
