// Package agent provides the two LLM-backed agents of the control plane:
// the planner, which decomposes a user request into a plan, and the
// executor, which works one plan task with tool calls. Both are driven by a
// controller through the Step contract and never mutate plan state
// themselves.
package agent

import (
	"context"
	"fmt"

	"github.com/DistilledAI/conductor/pkg/events"
)

// Agent is the step contract controllers drive. Step returns exactly one
// action per call; an LLM response that parses into several actions is
// queued and drained by subsequent calls before the LLM is invoked again.
// Agents are owned by a single controller goroutine and are not safe for
// concurrent use.
type Agent interface {
	// Step produces the next action for the session. ctx carries the
	// session deadline and cancellation signal.
	Step(ctx context.Context, sc *StepContext) (events.Action, error)

	// Reset discards queued actions after a controller reset or teardown.
	Reset()

	Name() string
}

// Config is the resolved per-agent configuration. The zero value disables
// the optional tool families and uses the conversation defaults.
type Config struct {
	EnableBrowsing  bool
	EnableJupyter   bool
	EnableLLMEditor bool

	// MaxMessageChars bounds each transcript message; 0 selects the
	// conversation default, negative disables clipping.
	MaxMessageChars int

	// CachingPrompt marks prompt-cache anchors on the built transcript.
	CachingPrompt bool

	// EnableVision forwards image URLs on user messages.
	EnableVision bool
}

// StepContext is the controller-owned view of session state an agent needs
// for one step. The controller rebuilds it per call; agents must not retain
// it across steps.
type StepContext struct {
	SessionID string

	// History is the filtered event window (after any truncation reload).
	History []events.Event

	// Inputs carries delegate task inputs (task content, plan rendering).
	Inputs map[string]any

	// ExtraData overrides derived prompt context; recognised keys are
	// "plan_state" and "current_step".
	ExtraData map[string]any

	Iteration      int
	LocalIteration int
}

// LatestUserMessage returns the most recent user-sourced message action in
// the history window, or nil.
func (sc *StepContext) LatestUserMessage() *events.MessageAction {
	for i := len(sc.History) - 1; i >= 0; i-- {
		if msg, ok := sc.History[i].(*events.MessageAction); ok && msg.Source == events.SourceUser {
			return msg
		}
	}
	return nil
}

// LastAgentMessage returns the most recent agent-sourced message action, or
// nil.
func (sc *StepContext) LastAgentMessage() *events.MessageAction {
	for i := len(sc.History) - 1; i >= 0; i-- {
		if msg, ok := sc.History[i].(*events.MessageAction); ok && msg.Source == events.SourceAgent {
			return msg
		}
	}
	return nil
}

// PlanState describes where the session currently stands for tool
// discovery. An explicit "plan_state" entry in ExtraData wins; otherwise it
// is derived from the latest user intent, the last agent response, and the
// assigned task if any.
func (sc *StepContext) PlanState() string {
	if v, ok := sc.ExtraData["plan_state"].(string); ok {
		return v
	}

	intent := "Unknown"
	if msg := sc.LatestUserMessage(); msg != nil && msg.Content != "" {
		intent = msg.Content
	}
	state := fmt.Sprintf("User intent: %s", intent)

	if msg := sc.LastAgentMessage(); msg != nil {
		state += fmt.Sprintf("\nLast agent response: %s...", head(msg.Content, 200))
	}

	if task, ok := sc.Inputs["task"].(string); ok && task != "" {
		state += fmt.Sprintf("\nTask: %s", task)
	}

	return state
}

// CurrentStep describes the step in flight for tool discovery. An explicit
// "current_step" entry in ExtraData wins.
func (sc *StepContext) CurrentStep() string {
	if v, ok := sc.ExtraData["current_step"].(string); ok {
		return v
	}
	return fmt.Sprintf("Step %d of task", sc.LocalIteration)
}

// Metadata is the attribution object forwarded to the LLM proxy.
func (sc *StepContext) Metadata(agentName string) map[string]any {
	return map[string]any{
		"agent_name": agentName,
		"session_id": sc.SessionID,
	}
}

func head(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
