// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// builtinPaths are always accepted as path labels.
var builtinPaths = []string{"/healthz", "/relay/status", "/metrics"}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	RelayFailures     *prometheus.CounterVec

	knownPaths map[string]bool
}

// New creates a Metrics instance with a custom registry and all collectors registered.
// knownPaths are the relay route paths allowed as path label values in addition
// to the built-in endpoints; anything else is reported as "other".
func New(knownPaths ...string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoreboard_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scoreboard_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scoreboard_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scoreboard_relay_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"route"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoreboard_relay_upstream_responses_total",
			Help: "Total upstream responses by route and status code.",
		}, []string{"route", "status_code"}),

		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoreboard_relay_failures_total",
			Help: "Relayed requests answered with a generic failure, by route and reason.",
		}, []string{"route", "reason"}),

		knownPaths: make(map[string]bool, len(builtinPaths)+len(knownPaths)),
	}

	for _, p := range builtinPaths {
		m.knownPaths[p] = true
	}
	for _, p := range knownPaths {
		m.knownPaths[p] = true
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RelayFailures,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label. Only exact matches of known
// paths are kept, since relay routes match exactly.
func (m *Metrics) NormalizePath(path string) string {
	if m.knownPaths[path] {
		return path
	}
	return "other"
}
