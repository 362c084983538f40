package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DenialsTotal     *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	UpstreamHealthy  *prometheus.GaugeVec
	RateLimited      prometheus.Counter
}

// New creates and registers all gateway collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total requests handled, by service, method and status code.",
		}, []string{"service", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency, by service.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"service"}),
		DenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "access_denials_total",
			Help:      "Requests rejected by access control, by reason.",
		}, []string{"reason"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "upstream_failures_total",
			Help:      "Upstream calls that failed with a connection error or timeout.",
		}, []string{"service"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "upstream_retries_total",
			Help:      "Retry attempts against upstream services.",
		}, []string{"service"}),
		UpstreamHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "upstream_healthy",
			Help:      "Whether the upstream health check is passing (1) or failing (0).",
		}, []string{"service"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the edge rate limiter.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DenialsTotal,
		m.UpstreamFailures,
		m.RetriesTotal,
		m.UpstreamHealthy,
		m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(service, method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}
