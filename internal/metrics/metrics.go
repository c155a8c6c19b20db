// Package metrics exposes Prometheus collectors for the shutdown engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turbine-shutdown/backend/internal/models"
)

const namespace = "turbine_shutdown"

// Metrics implements session.Recorder over its own registry.
type Metrics struct {
	registry       *prometheus.Registry
	validations    *prometheus.CounterVec
	overrides      *prometheus.CounterVec
	sessionsEnded  *prometheus.CounterVec
	activeSessions prometheus.Gauge
	feedLatency    prometheus.Histogram
}

// New registers the engine collectors plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Step validation attempts by outcome.",
		}, []string{"outcome"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overrides_total",
			Help:      "Override requests by result.",
		}, []string{"result"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions that reached a terminal status.",
		}, []string{"status"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently pending or in progress.",
		}),
		feedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sensor_feed_latency_seconds",
			Help:      "Time spent reading the sensor feed per validation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.validations,
		m.overrides,
		m.sessionsEnded,
		m.activeSessions,
		m.feedLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveValidation counts one committed validation attempt by outcome kind.
func (m *Metrics) ObserveValidation(kind models.OutcomeKind) {
	m.validations.WithLabelValues(string(kind)).Inc()
}

// ObserveOverride counts one override request as granted or denied.
func (m *Metrics) ObserveOverride(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	m.overrides.WithLabelValues(result).Inc()
}

// ObserveSessionEnd counts a session reaching a terminal status.
func (m *Metrics) ObserveSessionEnd(status models.SessionStatus) {
	m.sessionsEnded.WithLabelValues(string(status)).Inc()
}

// SetActiveSessions sets the gauge of non-terminal sessions.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// ObserveFeedLatency records how long one sensor feed read took.
func (m *Metrics) ObserveFeedLatency(d time.Duration) {
	m.feedLatency.Observe(d.Seconds())
}
