// Package resilience wraps specialist units of work with bounded retries,
// linear backoff, and fallback-response synthesis on exhaustion.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ensemble/pkg/llmerrors"
	"ensemble/pkg/logx"
	"ensemble/pkg/metrics"
	"ensemble/pkg/resilience/circuit"
	"ensemble/pkg/team"
)

// Config defines retry behavior for specialist invocations.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"` // Total attempts including the first
	BaseDelay   time.Duration `yaml:"base_delay"`   // Wait after attempt n is n*BaseDelay
}

// DefaultConfig provides the standard retry budget: three total attempts
// with waits of 1s and 2s between them.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// Work is one specialist's unit of work, closed over whatever state it needs.
type Work func(ctx context.Context) (team.Delta, error)

// Caller executes units of work with uniform error handling, independent of
// what the specialist actually does. It never propagates specialist errors:
// exhaustion yields a synthesized, specialist-attributed fallback response.
// Only context cancellation surfaces as an error.
type Caller struct {
	config   Config
	recorder metrics.Recorder
	logger   *logx.Logger

	// sleep is replaceable in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a caller with the given retry config and metrics sink.
func NewCaller(config Config, recorder metrics.Recorder) *Caller {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultConfig.BaseDelay
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Caller{
		config:   config,
		recorder: recorder,
		logger:   logx.NewLogger("resilience"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Execute runs the unit of work for the named specialist, retrying failures
// with linear backoff (1×BaseDelay, 2×BaseDelay, ...). On exhaustion it
// returns a fallback delta attributed to the specialist instead of an error.
// Cancellation aborts the current wait and remaining attempts and returns
// the context's error; the generic fallback is not used in that case.
func (c *Caller) Execute(ctx context.Context, specialist, fallback string, work Work) (team.Delta, error) {
	c.recorder.IncInvocation(specialist)

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * c.config.BaseDelay
			if err := c.sleep(ctx, delay); err != nil {
				return team.Delta{}, fmt.Errorf("specialist %s retry cancelled: %w", specialist, err)
			}
		}

		delta, err := work(ctx)
		if err == nil {
			return delta, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return team.Delta{}, fmt.Errorf("specialist %s cancelled: %w", specialist, err)
		}

		lastErr = err
		c.recorder.IncInvocationFailure(specialist)
		c.logger.Warn("specialist %s attempt %d/%d failed: %v", specialist, attempt, c.config.MaxAttempts, err)

		if !shouldRetry(err) {
			break
		}
	}

	return c.fallbackDelta(specialist, fallback, lastErr), nil
}

// shouldRetry reports whether another attempt is worthwhile. Circuit-open
// rejections are left to the breaker's own recovery cycle, and classified
// non-retryable model errors fail immediately.
func shouldRetry(err error) bool {
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}
	var modelErr *llmerrors.Error
	if errors.As(err, &modelErr) {
		return modelErr.IsRetryable()
	}
	return true
}

// fallbackDelta synthesizes the structured failure response: a single
// specialist-attributed message in plain language, never raw exception text
// alone.
func (c *Caller) fallbackDelta(specialist, fallback string, lastErr error) team.Delta {
	if fallback == "" {
		fallback = fmt.Sprintf("The %s specialist was unable to complete its work.", specialist)
	}
	reason := "unknown error"
	if lastErr != nil {
		reason = lastErr.Error()
	}

	content := fmt.Sprintf("%s (last error: %s)", fallback, reason)
	return team.Delta{
		Messages:     []team.Message{team.NewSpecialistMessage(specialist, content)},
		Contributors: []string{specialist},
		Next:         team.RouterName,
		LastError:    reason,
	}
}
