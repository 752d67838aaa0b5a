package agent

import (
	"errors"
	"fmt"
)

// MalformedActionError reports a tool call whose arguments could not be
// decoded even after repair.
type MalformedActionError struct {
	FunctionName string
	Raw          string
	Err          error
}

func (e *MalformedActionError) Error() string {
	return fmt.Sprintf("malformed arguments for tool '%s': %v", e.FunctionName, e.Err)
}

func (e *MalformedActionError) Unwrap() error { return e.Err }

// NoActionError reports an LLM response with neither content nor tool calls.
type NoActionError struct {
	ResponseID string
}

func (e *NoActionError) Error() string {
	return fmt.Sprintf("response %s produced no action", e.ResponseID)
}

// ResponseParseError reports a response that could not be converted into
// actions for a reason other than a single bad tool call.
type ResponseParseError struct {
	ResponseID string
	Message    string
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("cannot parse response %s: %s", e.ResponseID, e.Message)
}

// FunctionCallValidationError reports tool-call arguments rejected by the
// tool's parameter schema.
type FunctionCallValidationError struct {
	FunctionName string
	Err          error
}

func (e *FunctionCallValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool '%s': %v", e.FunctionName, e.Err)
}

func (e *FunctionCallValidationError) Unwrap() error { return e.Err }

// FunctionCallNotExistsError reports a call to a tool name that is neither
// a built-in nor a discovered hub function.
type FunctionCallNotExistsError struct {
	FunctionName string
}

func (e *FunctionCallNotExistsError) Error() string {
	return fmt.Sprintf("tool '%s' does not exist", e.FunctionName)
}

// IsRecoverable reports whether a step error should be absorbed as an
// ErrorObservation so the session can continue. Everything else is fatal to
// the controller.
func IsRecoverable(err error) bool {
	var (
		malformed  *MalformedActionError
		noAction   *NoActionError
		parse      *ResponseParseError
		validation *FunctionCallValidationError
		notExists  *FunctionCallNotExistsError
	)
	return errors.As(err, &malformed) ||
		errors.As(err, &noAction) ||
		errors.As(err, &parse) ||
		errors.As(err, &validation) ||
		errors.As(err, &notExists)
}
