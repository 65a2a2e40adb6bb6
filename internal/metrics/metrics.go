package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beszel_proxy"

// Metrics owns the Prometheus registry for the proxy.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	tokenRefreshes  prometheus.Counter
	systems         prometheus.Gauge
	streams         prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code",
		}, []string{"route", "code"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests made to the Beszel hub, by operation and outcome",
		}, []string{"op", "outcome"}),

		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Beszel hub request latency by operation",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op"}),

		tokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Successful logins against the hub",
		}),

		systems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "systems",
			Help:      "Systems in the most recent snapshot",
		}),

		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "widget_streams",
			Help:      "Open widget websocket streams",
		}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.upstreamCalls,
		m.upstreamLatency,
		m.tokenRefreshes,
		m.systems,
		m.streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveUpstream records one hub request.
func (m *Metrics) ObserveUpstream(op string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.upstreamCalls.WithLabelValues(op, outcome).Inc()
	m.upstreamLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// TokenRefreshed counts a successful login.
func (m *Metrics) TokenRefreshed() {
	m.tokenRefreshes.Inc()
}

// SetSystems records the size of the latest snapshot.
func (m *Metrics) SetSystems(count int) {
	m.systems.Set(float64(count))
}

// StreamOpened and StreamClosed track live websocket subscribers.
func (m *Metrics) StreamOpened() { m.streams.Inc() }

func (m *Metrics) StreamClosed() { m.streams.Dec() }
