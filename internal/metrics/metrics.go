// Package metrics holds the Prometheus collectors shared by the edit engine and
// the sandbox server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics is a set of collectors bound to their own registry. A nil *Metrics
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	noops          prometheus.Counter
	conflicts      prometheus.Counter
	invalid        prometheus.Counter
	staleDrops     prometheus.Counter
	mutations      *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}
	m.submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "envline",
		Subsystem: "engine",
		Name:      "submissions_total",
		Help:      "Environment submissions by operation and outcome",
	}, []string{"op", "outcome"})
	m.noops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "envline",
		Subsystem: "engine",
		Name:      "noop_saves_total",
		Help:      "Saves skipped because nothing changed",
	})
	m.conflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "envline",
		Subsystem: "engine",
		Name:      "pipeline_conflicts_total",
		Help:      "Saves refused because a pipeline sits in another environment",
	})
	m.invalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "envline",
		Subsystem: "engine",
		Name:      "validation_failures_total",
		Help:      "Saves refused by attribute validation",
	})
	m.staleDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "envline",
		Subsystem: "engine",
		Name:      "stale_results_total",
		Help:      "Server responses dropped because the session was no longer current",
	})
	m.mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "envline",
		Subsystem: "server",
		Name:      "mutations_total",
		Help:      "Environment mutations handled by the sandbox server",
	}, []string{"op", "status"})
	m.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "envline",
		Subsystem: "server",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   histogramBuckets,
	}, []string{"method", "status"})
	m.Registry.MustRegister(m.submissions, m.noops, m.conflicts, m.invalid, m.staleDrops, m.mutations, m.requestLatency)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Submission(op, outcome string) {
	if m == nil {
		return
	}
	m.submissions.With(prometheus.Labels{"op": op, "outcome": outcome}).Inc()
}

func (m *Metrics) Noop() {
	if m != nil {
		m.noops.Inc()
	}
}

func (m *Metrics) Conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) ValidationFailure() {
	if m != nil {
		m.invalid.Inc()
	}
}

func (m *Metrics) StaleDrop() {
	if m != nil {
		m.staleDrops.Inc()
	}
}

// Mutation records a server side mutation and its HTTP status.
func (m *Metrics) Mutation(op string, status int) {
	if m == nil {
		return
	}
	m.mutations.With(prometheus.Labels{"op": op, "status": strconv.Itoa(status)}).Inc()
}

// Request records the latency of one handled request.
func (m *Metrics) Request(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.With(prometheus.Labels{"method": method, "status": strconv.Itoa(status)}).Observe(d.Seconds())
}
