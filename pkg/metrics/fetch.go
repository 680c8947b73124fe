package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded on storefront_requests_total.
const (
	OutcomeOK              = "ok"
	OutcomeRejected        = "rejected"
	OutcomeUnreachable     = "unreachable"
	OutcomeInvalidResponse = "invalid_response"
	OutcomeTimeout         = "timeout"
)

// Dedup hit kinds.
const (
	DedupCache    = "cache"
	DedupInflight = "inflight"
)

// FetchMetrics records outbound API traffic of one client instance.
type FetchMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  prometheus.Counter
	dedup    *prometheus.CounterVec
}

// NewFetchMetrics registers the client metrics on the provided registerer.
func NewFetchMetrics(reg prometheus.Registerer) *FetchMetrics {
	if reg == nil {
		return &FetchMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_requests_total",
		Help: "API requests issued by the storefront client.",
	}, []string{"method", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_request_duration_seconds",
		Help:    "Duration of API requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_read_retries_total",
		Help: "Read requests retried after a failure.",
	})
	dedup := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_read_dedup_hits_total",
		Help: "Reads served without a new network call.",
	}, []string{"kind"})
	reg.MustRegister(requests, duration, retries, dedup)
	return &FetchMetrics{
		requests: requests,
		duration: duration,
		retries:  retries,
		dedup:    dedup,
	}
}

// ObserveRequest records one finished request.
func (m *FetchMetrics) ObserveRequest(method, outcome string, duration time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	method = normalizeLabel(method)
	m.requests.WithLabelValues(method, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(method).Observe(duration.Seconds())
}

// IncRetry counts one read retry.
func (m *FetchMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// IncDedup counts a read answered from cache or by joining an in-flight call.
func (m *FetchMetrics) IncDedup(kind string) {
	if m == nil || m.dedup == nil {
		return
	}
	m.dedup.WithLabelValues(normalizeLabel(kind)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
