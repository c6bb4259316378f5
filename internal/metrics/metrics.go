package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the gateway's collectors and the registry they live in. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	polls           *prometheus.CounterVec
	routes          *prometheus.GaugeVec
	forwarded       *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_discovery_polls_total",
			Help: "Route manifest polls by backend and result",
		}, []string{"backend", "result"}),
		routes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_routes",
			Help: "Routes currently held in the routing table per backend",
		}, []string{"backend"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_forwarded_requests_total",
			Help: "Requests handled by the forwarder by backend and status code",
		}, []string{"backend", "code"}),
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_forward_duration_seconds",
			Help:    "Time spent waiting on backends",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.routes, m.forwarded, m.forwardDuration,
	)
	return m
}

// Handler serves the registry for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePoll(backend string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.polls.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) SetRoutes(backend string, n int) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(backend).Set(float64(n))
}

// ObserveForward records one forwarded request. backend is empty when no
// route matched.
func (m *Metrics) ObserveForward(backend string, code int, took time.Duration) {
	if m == nil {
		return
	}
	if backend == "" {
		backend = "none"
	}
	m.forwarded.WithLabelValues(backend, strconv.Itoa(code)).Inc()
	m.forwardDuration.WithLabelValues(backend).Observe(took.Seconds())
}
