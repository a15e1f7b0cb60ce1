package circuit

import (
	"context"

	"ensemble/pkg/llm"
	"ensemble/pkg/metrics"
)

// GaugeValue maps a breaker state to its health gauge value:
// 0 closed, 0.5 half-open, 1 open.
func GaugeValue(s State) float64 {
	switch s {
	case HalfOpen:
		return 0.5
	case Open:
		return 1
	default:
		return 0
	}
}

// Middleware wraps an LLM client with circuit breaker gating. While the
// breaker is OPEN, requests are rejected immediately without contacting the
// upstream; the rejection carries a *circuit.Error so callers can
// short-circuit instead of waiting out a timeout.
func Middleware(breaker *Breaker, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := breaker.Allow(); err != nil {
					recorder.SetCircuitState(next.GetModelName(), GaugeValue(breaker.GetState()))
					return llm.CompletionResponse{}, err
				}

				resp, err := next.Complete(ctx, req)

				breaker.Record(err == nil)
				recorder.SetCircuitState(next.GetModelName(), GaugeValue(breaker.GetState()))

				return resp, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
