package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellipsesearch/visibility/pkg/models"
)

func newTestCaller(t *testing.T, maxAttempts int) (*Caller, *[]time.Duration) {
	t.Helper()
	c := NewCaller(NewBreaker(10, time.Minute, 30*time.Second), maxAttempts)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestCaller_SucceedsFirstAttempt(t *testing.T) {
	c, slept := newTestCaller(t, 3)

	calls := 0
	err := c.Do(context.Background(), "openai:gpt-4o", time.Second, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestCaller_RetriesTransientThenSucceeds(t *testing.T) {
	c, slept := newTestCaller(t, 3)

	calls := 0
	err := c.Do(context.Background(), "openai:gpt-4o", time.Second, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &models.ProviderHTTPError{StatusCode: 503, Body: "overloaded"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, *slept, 2)
	// Second delay roughly doubles the first, modulo jitter.
	assert.Greater(t, (*slept)[1], (*slept)[0])
}

func TestCaller_ExhaustsAttempts(t *testing.T) {
	c, _ := newTestCaller(t, 3)

	calls := 0
	rateLimited := &models.ProviderHTTPError{StatusCode: 429, Body: "rate limit exceeded"}
	err := c.Do(context.Background(), "openai:gpt-4o", time.Second, func(ctx context.Context) error {
		calls++
		return rateLimited
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, rateLimited)
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
}

func TestCaller_NonTransientFailsImmediately(t *testing.T) {
	c, slept := newTestCaller(t, 3)

	calls := 0
	badRequest := &models.ProviderHTTPError{StatusCode: 400, Body: "invalid model"}
	err := c.Do(context.Background(), "openai:gpt-4o", time.Second, func(ctx context.Context) error {
		calls++
		return badRequest
	})
	assert.ErrorIs(t, err, badRequest)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestCaller_OpenBreakerRejectsWithoutCall(t *testing.T) {
	breaker := NewBreaker(2, time.Minute, 30*time.Second)
	c := NewCaller(breaker, 3)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	key := "openai:gpt-4o"

	breaker.RecordFailure(key)
	breaker.RecordFailure(key)
	require.True(t, breaker.IsOpen(key))

	calls := 0
	err := c.Do(context.Background(), key, time.Second, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}

func TestCaller_PerAttemptTimeout(t *testing.T) {
	c, _ := newTestCaller(t, 2)

	calls := 0
	err := c.Do(context.Background(), "openai:gpt-4o", 10*time.Millisecond, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCaller_BackoffCapped(t *testing.T) {
	c, _ := newTestCaller(t, 3)

	for attempt := 0; attempt < 20; attempt++ {
		d := c.backoff(attempt)
		assert.LessOrEqual(t, d, c.maxDelay, "attempt %d", attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", &models.ProviderHTTPError{StatusCode: 429}, true},
		{"http 500", &models.ProviderHTTPError{StatusCode: 500}, true},
		{"http 503", &models.ProviderHTTPError{StatusCode: 503}, true},
		{"http 400", &models.ProviderHTTPError{StatusCode: 400}, false},
		{"http 401", &models.ProviderHTTPError{StatusCode: 401}, false},
		{"wrapped http 502", fmt.Errorf("call: %w", &models.ProviderHTTPError{StatusCode: 502}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("extract signals: %w", context.DeadlineExceeded), true},
		{"rate limit text", errors.New("provider said: Rate Limit hit"), true},
		{"overloaded text", errors.New("model overloaded, try later"), true},
		{"connection reset text", errors.New("read: connection reset by peer"), true},
		{"plain validation error", errors.New("prompt text is empty"), false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
