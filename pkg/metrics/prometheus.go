package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	invocationsTotal    *prometheus.CounterVec
	invocationFailures  *prometheus.CounterVec
	cacheLookupsTotal   *prometheus.CounterVec
	cacheLookupDuration *prometheus.HistogramVec
	cacheStoresTotal    *prometheus.CounterVec
	modelRequestsTotal  *prometheus.CounterVec
	modelRequestSeconds *prometheus.HistogramVec
	tokensTotal         *prometheus.CounterVec
	circuitState        *prometheus.GaugeVec
	turnDuration        prometheus.Histogram
	turnSteps           prometheus.Histogram
}

// NewPrometheusRecorder creates a recorder registered with reg. Passing nil
// uses the default registerer (suitable for the single production instance;
// tests should pass their own registry to avoid duplicate registration).
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialist_invocations_total",
				Help: "Total specialist invocations, regardless of outcome",
			},
			[]string{"specialist"},
		),
		invocationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialist_invocation_failures_total",
				Help: "Total failed specialist attempts (before retry exhaustion)",
			},
			[]string{"specialist"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "semantic_cache_lookups_total",
				Help: "Cache lookups by specialist and outcome (hit_exact, hit_similar, miss)",
			},
			[]string{"specialist", "outcome"},
		),
		cacheLookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "semantic_cache_lookup_duration_seconds",
				Help:    "Cache lookup latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"specialist"},
		),
		cacheStoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "semantic_cache_stores_total",
				Help: "Cache writes by specialist and status",
			},
			[]string{"specialist", "status"},
		),
		modelRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_requests_total",
				Help: "Upstream model requests by model, specialist, status, and error type",
			},
			[]string{"model", "specialist", "status", "error_type"},
		),
		modelRequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_request_duration_seconds",
				Help:    "Upstream model request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "specialist"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specialist_tokens_total",
				Help: "Approximate token usage by specialist and type (prompt, response)",
			},
			[]string{"specialist", "type"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker health per model: 0 closed, 0.5 half-open, 1 open",
			},
			[]string{"model"},
		),
		turnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turn_duration_seconds",
				Help:    "Wall time of a full conversation turn",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		turnSteps: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turn_transitions",
				Help:    "State transitions consumed by a turn",
				Buckets: prometheus.LinearBuckets(1, 2, 13),
			},
		),
	}
}

func (p *PrometheusRecorder) IncInvocation(specialist string) {
	p.invocationsTotal.WithLabelValues(specialist).Inc()
}

func (p *PrometheusRecorder) IncInvocationFailure(specialist string) {
	p.invocationFailures.WithLabelValues(specialist).Inc()
}

func (p *PrometheusRecorder) ObserveCacheLookup(specialist, outcome string, duration time.Duration) {
	p.cacheLookupsTotal.WithLabelValues(specialist, outcome).Inc()
	p.cacheLookupDuration.WithLabelValues(specialist).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncCacheStore(specialist, status string) {
	p.cacheStoresTotal.WithLabelValues(specialist, status).Inc()
}

func (p *PrometheusRecorder) ObserveModelRequest(model, specialist, status, errorType string, duration time.Duration) {
	p.modelRequestsTotal.WithLabelValues(model, specialist, status, errorType).Inc()
	p.modelRequestSeconds.WithLabelValues(model, specialist).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) AddTokens(specialist, kind string, count int) {
	p.tokensTotal.WithLabelValues(specialist, kind).Add(float64(count))
}

func (p *PrometheusRecorder) SetCircuitState(model string, value float64) {
	p.circuitState.WithLabelValues(model).Set(value)
}

func (p *PrometheusRecorder) ObserveTurn(duration time.Duration, steps int) {
	p.turnDuration.Observe(duration.Seconds())
	p.turnSteps.Observe(float64(steps))
}
