package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		MinWait:     time.Millisecond,
		MaxWait:     4 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDoExhaustsRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return &TransportError{Kind: KindServiceUnavailable, Message: "down"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindServiceUnavailable, te.Kind)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return &TransportError{Kind: KindBadRequest, Message: "invalid"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextOverflow(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return &ContextWindowExceededError{Err: errors.New("prompt is too long")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsContextWindowExceeded(err))
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls == 1 {
			return &TransportError{Kind: KindTimeout, Message: "deadline"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoNoErrorSingleCall(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(8), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 3, MinWait: 5 * time.Second, MaxWait: 10 * time.Second, Multiplier: 2}
	calls := 0
	err := Do(ctx, policy, func() error {
		calls++
		return &TransportError{Kind: KindConnection, Message: "refused"}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), RetryPolicy{}, func() error {
		calls++
		return &TransportError{Kind: KindTimeout, Message: "x"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyWaitBounds(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 5,
		MinWait:     100 * time.Millisecond,
		MaxWait:     400 * time.Millisecond,
		Multiplier:  2,
	}
	tests := []struct {
		attempt int
		lo, hi  time.Duration
	}{
		{1, 50 * time.Millisecond, 100 * time.Millisecond},
		{2, 100 * time.Millisecond, 200 * time.Millisecond},
		{3, 200 * time.Millisecond, 400 * time.Millisecond},
		{4, 200 * time.Millisecond, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			wait := policy.wait(tt.attempt)
			assert.GreaterOrEqual(t, wait, tt.lo, "attempt %d", tt.attempt)
			assert.Less(t, wait, tt.hi, "attempt %d", tt.attempt)
		}
	}
}
