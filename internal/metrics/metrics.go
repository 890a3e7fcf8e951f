// Package metrics holds the Prometheus collectors exported on /diag/metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webhost"

// Metrics is one host's collector set on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	gate         *prometheus.CounterVec
	authRejected prometheus.Counter
	wsSends      *prometheus.CounterVec
	starts       prometheus.Counter
	running      prometheus.Gauge
	certSwaps    prometheus.Counter
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status code.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		gate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_gate_total",
			Help:      "Diagnostics access decisions, by result.",
		}, []string{"result"}),
		authRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_rejected_total",
			Help:      "Requests to protected paths rejected for a missing login.",
		}),
		wsSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_sends_total",
			Help:      "WebSocket frame sends, by result.",
		}, []string{"result"}),
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_starts_total",
			Help:      "Successful host starts.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_running",
			Help:      "1 while the host is serving.",
		}),
		certSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificate_swaps_total",
			Help:      "Server certificates replaced while running.",
		}),
	}

	m.registry.MustRegister(
		m.requests, m.duration, m.gate, m.authRejected,
		m.wsSends, m.starts, m.running, m.certSwaps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackConnections exports fn as the live WebSocket connection gauge.
func (m *Metrics) TrackConnections(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_connections",
		Help:      "Live WebSocket connections.",
	}, func() float64 { return float64(fn()) }))
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveGate records a diagnostics gate decision.
func (m *Metrics) ObserveGate(allowed bool) {
	if allowed {
		m.gate.WithLabelValues("allowed").Inc()
		return
	}
	m.gate.WithLabelValues("denied").Inc()
}

// IncAuthRejected counts a 401 from the protected path check.
func (m *Metrics) IncAuthRejected() { m.authRejected.Inc() }

// ObserveSend records a WebSocket send result.
func (m *Metrics) ObserveSend(err error) {
	if err != nil {
		m.wsSends.WithLabelValues("error").Inc()
		return
	}
	m.wsSends.WithLabelValues("ok").Inc()
}

// SetRunning flips the running gauge and counts starts.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.starts.Inc()
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// IncCertSwaps counts a hot certificate replacement.
func (m *Metrics) IncCertSwaps() { m.certSwaps.Inc() }
