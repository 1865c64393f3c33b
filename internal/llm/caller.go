// Package llm wraps every call to a hosted language-model provider with a
// per-call timeout, bounded retries with jittered exponential backoff, and a
// circuit breaker keyed by (provider, model).
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 10 * time.Second
	jitterFraction     = 0.25
)

// Caller executes provider calls under the resilience policy. One Caller is
// shared by everything that talks to LLM providers; the breaker it owns is
// the single source of open/closed decisions for this process.
type Caller struct {
	breaker     *Breaker
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller around the given breaker. maxAttempts <= 0 uses
// the default of 3.
func NewCaller(breaker *Breaker, maxAttempts int) *Caller {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Caller{
		breaker:     breaker,
		maxAttempts: maxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		sleep:       sleepCtx,
	}
}

// Do runs fn under the resilience policy for the breaker key. Each attempt
// gets its own deadline of timeout; only transient errors are retried.
func (c *Caller) Do(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.breaker.Allow(key); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			c.breaker.RecordSuccess(key)
			return nil
		}

		c.breaker.RecordFailure(key)
		lastErr = err

		if !IsTransient(err) {
			return err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		delay := c.backoff(attempt)
		slog.Warn("llm call failed, retrying",
			"key", key, "attempt", attempt+1, "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("llm call exhausted %d attempts: %w", c.maxAttempts, lastErr)
}

// backoff is exponential with ±25% jitter, capped at maxDelay.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	jitter := 1 + jitterFraction*(2*rand.Float64()-1)
	delay = time.Duration(float64(delay) * jitter)
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BreakerKey builds the breaker key for a provider/model pair.
func BreakerKey(provider, model string) string {
	return provider + ":" + model
}
