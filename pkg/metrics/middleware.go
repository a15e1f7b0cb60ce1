package metrics

import (
	"context"
	"time"

	"ensemble/pkg/llm"
	"ensemble/pkg/llmerrors"
)

// Middleware wraps an LLM client with request metrics recording for the
// given specialist. Recording is fire-and-forget and never alters the
// request or response.
func Middleware(recorder Recorder, specialist string) llm.Middleware {
	if recorder == nil {
		recorder = Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)

				status := "success"
				errorType := ""
				if err != nil {
					status = "error"
					errorType = llmerrors.TypeOf(err).String()
				}
				recorder.ObserveModelRequest(next.GetModelName(), specialist, status, errorType, time.Since(start))

				return resp, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
			func() string {
				return next.GetModelName()
			},
		)
	}
}
