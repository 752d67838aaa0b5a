package controller

import (
	"errors"
	"fmt"
)

// TrafficControlReminder is appended to interactive limit-breach reports;
// resuming is only offered outside headless mode.
const TrafficControlReminder = "Please click on resume button if you'd like to continue, or start a new task."

// StuckInLoopError is fatal: the agent keeps repeating itself and further
// steps would only burn budget.
type StuckInLoopError struct {
	Pattern string
}

func (e *StuckInLoopError) Error() string {
	return "agent got stuck in a loop: " + e.Pattern
}

// IsStuckInLoop reports whether err is a stuck-loop abort.
func IsStuckInLoop(err error) bool {
	var se *StuckInLoopError
	return errors.As(err, &se)
}

// BudgetExceededError reports a breached iteration or budget cap. It is not
// fatal by itself: the controller moves to throttling and the user may
// resume with a raised limit.
type BudgetExceededError struct {
	// Kind names the breached limit, "iteration" or "budget".
	Kind    string
	Limit   float64
	Current float64
}

func (e *BudgetExceededError) Error() string {
	if e.Kind == "iteration" {
		return fmt.Sprintf("agent reached maximum iteration: current %d, max %d",
			int(e.Current), int(e.Limit))
	}
	return fmt.Sprintf("agent reached maximum %s: current %.2f, max %.2f",
		e.Kind, e.Current, e.Limit)
}

// IsBudgetExceeded reports whether err is a limit breach.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// ContextWindowFatalError is raised when the model reports a context
// overflow and history truncation is disabled, so recovery is impossible.
type ContextWindowFatalError struct {
	Err error
}

func (e *ContextWindowFatalError) Error() string {
	return "conversation no longer fits the model context and history truncation is disabled: " + e.Err.Error()
}

func (e *ContextWindowFatalError) Unwrap() error { return e.Err }

// trafficControlMessage renders the operator-facing text for a breached
// limit. Iteration counts format as integers, budget as dollars with two
// decimals; interactive sessions get the resume reminder appended.
func trafficControlMessage(limitType string, current, max float64, headless bool) string {
	var currentStr, maxStr string
	if limitType == "iteration" {
		currentStr = fmt.Sprintf("%d", int(current))
		maxStr = fmt.Sprintf("%d", int(max))
	} else {
		currentStr = fmt.Sprintf("%.2f", current)
		maxStr = fmt.Sprintf("%.2f", max)
	}

	if headless {
		return fmt.Sprintf("Agent reached maximum %s in headless mode. Current %s: %s, max %s: %s",
			limitType, limitType, currentStr, limitType, maxStr)
	}
	return fmt.Sprintf("Agent reached maximum %s. Current %s: %s, max %s: %s. %s",
		limitType, limitType, currentStr, limitType, maxStr, TrafficControlReminder)
}
