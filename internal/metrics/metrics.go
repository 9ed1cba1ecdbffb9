// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finary"

var (
	// InsightRequests counts insight lookups.
	// Labels: result (hit, miss, fallback)
	InsightRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "insight",
		Name:      "requests_total",
		Help:      "Insight lookups by cache result",
	}, []string{"result"})

	// DashboardLoads counts loader runs.
	// Labels: result (ok, degraded, stale)
	DashboardLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "loads_total",
		Help:      "Dashboard loads by outcome",
	}, []string{"result"})

	// DashboardLoadDuration measures how long both fetches take to settle.
	DashboardLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "load_duration_seconds",
		Help:      "Time for a dashboard load to settle",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// ActiveSessions tracks dashboard sessions held in memory.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dashboard",
		Name:      "active_sessions",
		Help:      "Dashboard sessions currently held",
	})

	// Mutations counts mutation attempts.
	// Labels: operation (add_transaction, set_budget), result (ok or an error kind)
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mutations",
		Name:      "total",
		Help:      "Mutations by operation and result",
	}, []string{"operation", "result"})

	// EventsPublished counts data_changed events.
	// Labels: source, transport (local, amqp), result (ok, error)
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "data_changed events published",
	}, []string{"source", "transport", "result"})

	// AIBackendRequests counts calls to the AI backend.
	// Labels: endpoint, result (ok, error)
	AIBackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ai_backend",
		Name:      "requests_total",
		Help:      "AI backend requests by endpoint and result",
	}, []string{"endpoint", "result"})

	// HTTPRequestDuration measures API latency.
	// Labels: method, route, status
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result maps an error to the "ok"/"error" label used by several collectors.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
