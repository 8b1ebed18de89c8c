// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ipa_gateway"

// Metrics owns a registry so tests and multiple servers never collide on the
// default one.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	tokensIssued  prometheus.Counter
	manifests     *prometheus.CounterVec
	edgeDecisions *prometheus.CounterVec
	relayAttempts *prometheus.CounterVec
	relayDuration prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"service", "method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"service", "method", "path"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issuer",
			Name:      "tokens_issued_total",
			Help:      "Total number of download credentials minted.",
		}),
		manifests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manifest",
			Name:      "requests_total",
			Help:      "Manifest gate outcomes.",
		}, []string{"outcome"}),
		edgeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "edge",
			Name:      "decisions_total",
			Help:      "Edge filter decisions.",
		}, []string{"decision"}),
		relayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "edge",
			Name:      "relay_attempts_total",
			Help:      "Upstream fetch attempts made while relaying manifests.",
		}, []string{"result"}),
		relayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "edge",
			Name:      "relay_duration_seconds",
			Help:      "Duration of manifest relays including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.tokensIssued,
		m.manifests,
		m.edgeDecisions,
		m.relayAttempts,
		m.relayDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }

func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordTokenIssued counts a minted credential.
func (m *Metrics) RecordTokenIssued() {
	m.tokensIssued.Inc()
}

// RecordManifest counts a gate outcome such as "served" or "not_found".
func (m *Metrics) RecordManifest(outcome string) {
	m.manifests.WithLabelValues(outcome).Inc()
}

// RecordEdgeDecision counts an edge filter decision.
func (m *Metrics) RecordEdgeDecision(decision string) {
	m.edgeDecisions.WithLabelValues(decision).Inc()
}

// RecordRelayAttempt counts one upstream fetch attempt.
func (m *Metrics) RecordRelayAttempt(result string) {
	m.relayAttempts.WithLabelValues(result).Inc()
}

// RecordRelay observes the total duration of a relay.
func (m *Metrics) RecordRelay(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	m.relayDuration.Observe(duration.Seconds())
}

// CanonicalPath collapses a raw path to its first segment so unmatched
// routes cannot blow up label cardinality.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}
