package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	latencyMs        *prometheus.HistogramVec
	attemptsTotal    *prometheus.CounterVec
	upstreamTotal    *prometheus.CounterVec
	usageWritesTotal *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_gateway_requests_total",
			Help: "Total number of gateway actions processed.",
		}, []string{"action", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_gateway_request_latency_ms",
			Help:    "Gateway action latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"action", "status"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_gateway_failover_attempts_total",
			Help: "Per-account attempts made by the failover executor.",
		}, []string{"operation", "outcome"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_gateway_upstream_responses_total",
			Help: "Normalized upstream responses by classification code.",
		}, []string{"code"}),
		usageWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_gateway_usage_writes_total",
			Help: "Best-effort usage counter writes.",
		}, []string{"result"}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.attemptsTotal, m.upstreamTotal, m.usageWritesTotal)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}


func (m *Metrics) ObserveRequest(action string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(action, s).Inc()
	m.latencyMs.WithLabelValues(action, s).Observe(float64(dur.Milliseconds()))
}

// ObserveAttempt records one failover attempt; outcome is success, retry, fatal or skipped.
func (m *Metrics) ObserveAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveUpstream(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.upstreamTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveUsageWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.usageWritesTotal.WithLabelValues(result).Inc()
}
