// Package metrics owns the gateway's Prometheus collectors. A Metrics value
// registers into its own registry so tests and multiple servers in one
// process do not collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Push outcomes.
const (
	PushAccepted = "accepted"
	PushConflict = "conflict"
	PushReplayed = "replayed"
)

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	pushes          *prometheus.CounterVec
	rateLimited     prometheus.Counter
	activeStreams   prometheus.Gauge
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armadillo",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "armadillo",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armadillo",
			Name:      "snapshot_pushes_total",
			Help:      "Snapshot pushes by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "armadillo",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "armadillo",
			Name:      "active_streams",
			Help:      "Open change streams.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "armadillo",
			Name:      "events_published_total",
			Help:      "Change events published by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "armadillo",
			Name:      "events_dropped_total",
			Help:      "Change events dropped because a subscriber buffer was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.latency, m.pushes, m.rateLimited,
		m.activeStreams, m.eventsPublished, m.eventsDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Push(outcome string) {
	m.pushes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

func (m *Metrics) EventPublished(eventType string, dropped int) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
	if dropped > 0 {
		m.eventsDropped.Add(float64(dropped))
	}
}
