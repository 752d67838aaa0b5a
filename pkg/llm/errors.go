package llm

import (
	"errors"
	"fmt"
	"strings"
)

// TransportKind classifies a failed completion call.
type TransportKind string

const (
	KindTimeout            TransportKind = "timeout"
	KindConnection         TransportKind = "connection"
	KindServiceUnavailable TransportKind = "service_unavailable"
	KindInternalServer     TransportKind = "internal_server"
	KindAuthentication     TransportKind = "authentication"
	KindBadRequest         TransportKind = "bad_request"
	KindRateLimit          TransportKind = "rate_limit"
)

// TransportError wraps a provider failure with its classification.
type TransportError struct {
	Kind    TransportKind
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindServiceUnavailable, KindInternalServer, KindRateLimit:
		return true
	}
	return false
}

// ContextWindowExceededError signals the prompt no longer fits the model
// context and history must be truncated before the call is repeated.
type ContextWindowExceededError struct {
	Err error
}

func (e *ContextWindowExceededError) Error() string {
	return "context window exceeded: " + e.Err.Error()
}

func (e *ContextWindowExceededError) Unwrap() error { return e.Err }

// overflowMarkers are the lowercase provider message fragments that
// identify a context overflow regardless of status code.
var overflowMarkers = []string{
	"contextwindowexceedederror",
	"prompt is too long",
	"input length and `max_tokens` exceed context limit",
}

// IsContextWindowExceeded reports whether err is a context overflow,
// either typed or recognisable from the provider message.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var cw *ContextWindowExceededError
	if errors.As(err, &cw) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range overflowMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRateLimit reports whether err is a rate-limit failure.
func IsRateLimit(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindRateLimit
}

// IsOutOfCredits reports whether err is the proxy refusing the call
// because the account budget is exhausted.
func IsOutOfCredits(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) || te.Kind != KindBadRequest {
		return false
	}
	return strings.Contains(te.Message, "ExceededBudget")
}

// IsRetryable reports whether a failed call may be attempted again.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}
