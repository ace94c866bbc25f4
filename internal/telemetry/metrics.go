package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "labflow"

// Metrics holds the prometheus collectors for the orchestration layer.
//
// Metrics:
//   - labflow_provider_requests_total: backend calls by provider and outcome
//   - labflow_provider_latency_seconds: backend call latency
//   - labflow_fallbacks_total: requests answered by a fallback client
//   - labflow_breaker_skips_total: clients skipped because their breaker was open
//   - labflow_cache_hits_total / labflow_cache_misses_total
//   - labflow_pipeline_results_total: pipeline envelopes by pipeline and source
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	fallbacks    prometheus.Counter
	breakerSkips *prometheus.CounterVec
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	pipeline     *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of backend calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Backend call latency in seconds, retries included",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of requests answered by a fallback client",
		}),
		breakerSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_skips_total",
				Help:      "Total number of clients skipped because their circuit breaker was open",
			},
			[]string{"provider"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of response cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of response cache misses",
		}),
		pipeline: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_results_total",
				Help:      "Total number of pipeline results by pipeline and source",
			},
			[]string{"pipeline", "source"},
		),
	}

	registry.MustRegister(
		m.requests,
		m.latency,
		m.fallbacks,
		m.breakerSkips,
		m.cacheHits,
		m.cacheMisses,
		m.pipeline,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, outcome).Inc()
	m.latency.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) IncBreakerSkip(provider string) {
	if m == nil {
		return
	}
	m.breakerSkips.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) IncPipelineResult(pipeline, source string) {
	if m == nil {
		return
	}
	m.pipeline.WithLabelValues(pipeline, source).Inc()
}
