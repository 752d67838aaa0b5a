package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsContextWindowExceeded(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed", &ContextWindowExceededError{Err: errors.New("too big")}, true},
		{"wrapped typed", fmt.Errorf("agent step: %w", &ContextWindowExceededError{Err: errors.New("x")}), true},
		{"provider class name", errors.New("litellm.ContextWindowExceededError: prompt too large"), true},
		{"prompt too long", errors.New("Error code: 400 - prompt is too long: 210043 tokens > 200000 maximum"), true},
		{"max_tokens overflow", errors.New("input length and `max_tokens` exceed context limit: 199999 + 8192"), true},
		{"rate limit", errors.New("rate limit exceeded"), false},
		{"plain bad request", &TransportError{Kind: KindBadRequest, Message: "invalid role"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsContextWindowExceeded(tt.err))
		})
	}
}

func TestTransportErrorRetryable(t *testing.T) {
	tests := []struct {
		kind TransportKind
		want bool
	}{
		{KindTimeout, true},
		{KindConnection, true},
		{KindServiceUnavailable, true},
		{KindInternalServer, true},
		{KindRateLimit, true},
		{KindAuthentication, false},
		{KindBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &TransportError{Kind: tt.kind, Message: "x"}
			assert.Equal(t, tt.want, err.Retryable())
			assert.Equal(t, tt.want, IsRetryable(err))
		})
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	err := fmt.Errorf("planner step: %w", &TransportError{Kind: KindTimeout, Message: "deadline"})
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain failure")))
	assert.False(t, IsRetryable(&ContextWindowExceededError{Err: errors.New("x")}))
}

func TestIsRateLimit(t *testing.T) {
	err := fmt.Errorf("call: %w", &TransportError{Kind: KindRateLimit, Status: 429, Message: "slow down"})
	assert.True(t, IsRateLimit(err))
	assert.False(t, IsRateLimit(&TransportError{Kind: KindTimeout}))
	assert.False(t, IsRateLimit(errors.New("429")))
}

func TestIsOutOfCredits(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "bad request with budget marker",
			err:  &TransportError{Kind: KindBadRequest, Status: 400, Message: "ExceededBudget: crypto wallet balance too low"},
			want: true,
		},
		{
			name: "bad request without marker",
			err:  &TransportError{Kind: KindBadRequest, Status: 400, Message: "invalid request"},
			want: false,
		},
		{
			name: "marker on other kind",
			err:  &TransportError{Kind: KindRateLimit, Status: 429, Message: "ExceededBudget"},
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("ExceededBudget"),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsOutOfCredits(tt.err))
		})
	}
}

func TestTransportErrorFormat(t *testing.T) {
	withStatus := &TransportError{Kind: KindRateLimit, Status: 429, Message: "slow down"}
	assert.Equal(t, "llm rate_limit (status 429): slow down", withStatus.Error())

	withoutStatus := &TransportError{Kind: KindConnection, Message: "refused"}
	assert.Equal(t, "llm connection: refused", withoutStatus.Error())

	wrapped := &TransportError{Kind: KindTimeout, Message: "x", Err: errors.New("inner")}
	require.ErrorContains(t, errors.Unwrap(wrapped), "inner")
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   TransportKind
	}{
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthentication},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindInternalServer},
		{http.StatusBadGateway, KindServiceUnavailable},
		{http.StatusServiceUnavailable, KindServiceUnavailable},
		{511, KindInternalServer},
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusNotFound, KindBadRequest},
		{http.StatusUnprocessableEntity, KindBadRequest},
		{http.StatusTeapot, KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, kindForStatus(tt.status))
		})
	}
}
