package resilience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble/pkg/llmerrors"
	"ensemble/pkg/resilience/circuit"
	"ensemble/pkg/team"
)

// recordingSleeper captures requested delays instead of waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestCaller() (*Caller, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	c := NewCaller(Config{MaxAttempts: 3, BaseDelay: time.Second}, nil)
	c.sleep = sleeper.sleep
	return c, sleeper
}

func successDelta(name string) team.Delta {
	return team.Delta{
		Messages:     []team.Message{team.NewSpecialistMessage(name, "done")},
		Contributors: []string{name},
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	c, sleeper := newTestCaller()

	delta, err := c.Execute(context.Background(), "builder", "", func(context.Context) (team.Delta, error) {
		return successDelta("builder"), nil
	})

	require.NoError(t, err)
	assert.Empty(t, sleeper.delays)
	require.Len(t, delta.Messages, 1)
	assert.Equal(t, "done", delta.Messages[0].Content)
}

func TestExecuteRetriesWithLinearBackoff(t *testing.T) {
	c, sleeper := newTestCaller()

	attempts := 0
	delta, err := c.Execute(context.Background(), "builder", "", func(context.Context) (team.Delta, error) {
		attempts++
		if attempts < 3 {
			return team.Delta{}, fmt.Errorf("transient failure %d", attempts)
		}
		return successDelta("builder"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	require.Len(t, delta.Messages, 1)
	assert.Equal(t, "done", delta.Messages[0].Content)
}

func TestExecuteExhaustionSynthesizesFallback(t *testing.T) {
	c, _ := newTestCaller()

	attempts := 0
	delta, err := c.Execute(context.Background(), "reviewer", "", func(context.Context) (team.Delta, error) {
		attempts++
		return team.Delta{}, fmt.Errorf("upstream exploded")
	})

	require.NoError(t, err, "exhaustion must not propagate the work's error")
	assert.Equal(t, 3, attempts)

	require.Len(t, delta.Messages, 1)
	msg := delta.Messages[0]
	assert.Equal(t, "reviewer", msg.Specialist)
	assert.Contains(t, msg.Content, "reviewer")
	assert.Contains(t, msg.Content, "upstream exploded")
	assert.Equal(t, []string{"reviewer"}, delta.Contributors)
	assert.Equal(t, team.RouterName, delta.Next)
	assert.Contains(t, delta.LastError, "upstream exploded")
}

func TestExecuteUsesCustomFallbackTemplate(t *testing.T) {
	c, _ := newTestCaller()

	delta, err := c.Execute(context.Background(), "security", "Security review could not run.", func(context.Context) (team.Delta, error) {
		return team.Delta{}, fmt.Errorf("boom")
	})

	require.NoError(t, err)
	require.Len(t, delta.Messages, 1)
	assert.Contains(t, delta.Messages[0].Content, "Security review could not run.")
}

func TestExecuteStopsOnCircuitOpen(t *testing.T) {
	c, sleeper := newTestCaller()

	attempts := 0
	delta, err := c.Execute(context.Background(), "builder", "", func(context.Context) (team.Delta, error) {
		attempts++
		return team.Delta{}, &circuit.Error{Model: "m", State: circuit.Open}
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "circuit rejections are not retried")
	assert.Empty(t, sleeper.delays)
	assert.NotEmpty(t, delta.Messages)
}

func TestExecuteStopsOnNonRetryableError(t *testing.T) {
	c, _ := newTestCaller()

	attempts := 0
	_, err := c.Execute(context.Background(), "builder", "", func(context.Context) (team.Delta, error) {
		attempts++
		return team.Delta{}, llmerrors.New(llmerrors.ErrorTypeAuth, "bad key")
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteCancellationAbortsRetries(t *testing.T) {
	c := NewCaller(Config{MaxAttempts: 3, BaseDelay: time.Second}, nil)
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	attempts := 0
	_, err := c.Execute(context.Background(), "builder", "", func(context.Context) (team.Delta, error) {
		attempts++
		return team.Delta{}, fmt.Errorf("transient")
	})

	require.Error(t, err, "cancellation propagates instead of the fallback")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestExecuteCancelledWorkPropagates(t *testing.T) {
	c, _ := newTestCaller()

	_, err := c.Execute(context.Background(), "builder", "", func(context.Context) (team.Delta, error) {
		return team.Delta{}, context.Canceled
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
