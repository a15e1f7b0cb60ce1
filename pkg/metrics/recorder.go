// Package metrics provides Prometheus-based metrics recording for the
// orchestration engine. All recording is fire-and-forget: one increment per
// event, and failures to record never propagate to callers.
package metrics

import "time"

// Recorder is the metrics sink consumed by the engine, cache, and call wrapper.
type Recorder interface {
	// IncInvocation counts one specialist invocation, regardless of outcome.
	IncInvocation(specialist string)

	// IncInvocationFailure counts one failed specialist attempt.
	IncInvocationFailure(specialist string)

	// ObserveCacheLookup records a cache lookup outcome
	// ("hit_exact", "hit_similar", "miss") and its latency.
	ObserveCacheLookup(specialist, outcome string, duration time.Duration)

	// IncCacheStore counts a cache write ("ok" or "error").
	IncCacheStore(specialist, status string)

	// ObserveModelRequest records one upstream model call.
	ObserveModelRequest(model, specialist, status, errorType string, duration time.Duration)

	// AddTokens accumulates approximate token usage ("prompt" or "response").
	AddTokens(specialist, kind string, count int)

	// SetCircuitState publishes a breaker's health gauge
	// (0 closed, 0.5 half-open, 1 open).
	SetCircuitState(model string, value float64)

	// ObserveTurn records a completed turn: wall time and transition count.
	ObserveTurn(duration time.Duration, steps int)
}

// NoopRecorder discards all metrics, for tests and disabled deployments.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncInvocation(string)                                            {}
func (n *NoopRecorder) IncInvocationFailure(string)                                     {}
func (n *NoopRecorder) ObserveCacheLookup(string, string, time.Duration)                {}
func (n *NoopRecorder) IncCacheStore(string, string)                                    {}
func (n *NoopRecorder) ObserveModelRequest(string, string, string, string, time.Duration) {}
func (n *NoopRecorder) AddTokens(string, string, int)                                   {}
func (n *NoopRecorder) SetCircuitState(string, float64)                                 {}
func (n *NoopRecorder) ObserveTurn(time.Duration, int)                                  {}
