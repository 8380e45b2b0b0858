// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every exhibitdesk collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	LockDecisions  *prometheus.CounterVec
	PageRequests   *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		LockDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exhibitdesk",
			Name:      "lock_decisions_total",
			Help:      "Lock arbitration outcomes by result (editable, override, locked).",
		}, []string{"outcome"}),
		PageRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exhibitdesk",
			Name:      "page_requests_total",
			Help:      "Pager navigation requests by result (ok, out_of_range).",
		}, []string{"result"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exhibitdesk",
			Name:      "upstream_errors_total",
			Help:      "Exhibits API failures by class.",
		}, []string{"kind"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exhibitdesk",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		m.LockDecisions,
		m.PageRequests,
		m.UpstreamErrors,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLock counts one lock decision.
func (m *Metrics) ObserveLock(outcome string) {
	if m == nil {
		return
	}
	m.LockDecisions.WithLabelValues(outcome).Inc()
}

// ObservePage counts one pager navigation.
func (m *Metrics) ObservePage(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "out_of_range"
	}
	m.PageRequests.WithLabelValues(result).Inc()
}

// ObserveUpstream counts one exhibits API failure.
func (m *Metrics) ObserveUpstream(class string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(class).Inc()
}

// Middleware records request latency by method and status code.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPDuration.WithLabelValues(r.Method, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// websocket upgrades need for hijacking.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
