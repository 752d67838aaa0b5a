package llm

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy controls the backoff applied to retryable transport errors.
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns the provider defaults: up to 8 attempts with
// exponential backoff between 15s and 120s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		MinWait:     15 * time.Second,
		MaxWait:     120 * time.Second,
		Multiplier:  2,
	}
}

// wait returns the jittered backoff before the retry following the given
// 1-based attempt. The result lies in [backoff/2, backoff) where backoff
// grows by Multiplier per attempt and is capped at MaxWait.
func (p RetryPolicy) wait(attempt int) time.Duration {
	backoff := float64(p.MinWait)
	multiplier := p.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	for i := 1; i < attempt; i++ {
		backoff *= multiplier
		if backoff >= float64(p.MaxWait) {
			backoff = float64(p.MaxWait)
			break
		}
	}
	half := backoff / 2
	return time.Duration(half + rand.Float64()*half)
}

// Do runs fn, retrying retryable transport errors per the policy. It
// returns the last error when attempts are exhausted, or immediately on
// the first non-retryable error or context cancellation.
func Do(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := policy.wait(attempt)
		slog.Warn("Retrying LLM call",
			"attempt", attempt,
			"max_attempts", attempts,
			"wait", wait,
			"error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
