// Package controller drives the planner and executor agents against the
// shared event stream: it projects the stream into per-agent history,
// decides when an agent steps, enforces iteration and budget limits, runs
// the confirmation gate, detects stuck loops, and advances plans by
// spawning one delegate controller per task.
package controller

import (
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
)

// AgentState is the lifecycle state of one controller.
type AgentState string

const (
	StateLoading                  AgentState = "loading"
	StateRunning                  AgentState = "running"
	StatePaused                   AgentState = "paused"
	StateAwaitingUserInput        AgentState = "awaiting_user_input"
	StateAwaitingUserConfirmation AgentState = "awaiting_user_confirmation"
	StateUserConfirmed            AgentState = "user_confirmed"
	StateUserRejected             AgentState = "user_rejected"
	StateFinished                 AgentState = "finished"
	StateRejected                 AgentState = "rejected"
	StateError                    AgentState = "error"
	StateStopped                  AgentState = "stopped"
	StateRateLimited              AgentState = "rate_limited"
)

// Terminal reports whether the controller will take no further steps.
func (s AgentState) Terminal() bool {
	switch s {
	case StateFinished, StateRejected, StateError, StateStopped:
		return true
	}
	return false
}

// TrafficControlState tracks how the controller reacts to breached limits.
type TrafficControlState string

const (
	// TrafficNormal means no limit is currently breached.
	TrafficNormal TrafficControlState = "normal"
	// TrafficThrottling means a limit was hit and the controller stopped
	// stepping until the user resumes or raises it.
	TrafficThrottling TrafficControlState = "throttling"
	// TrafficPaused means the user chose to resume past a breached limit;
	// the next breach check passes once and re-enters normal.
	TrafficPaused TrafficControlState = "paused"
)

// State is the per-controller session bag. It is owned by the controller's
// dispatch goroutine; other goroutines read it through View snapshots.
type State struct {
	SessionID string

	// StartID and EndID bound the stream window this controller projects
	// into History; -1 means unbounded. TruncationID marks where a
	// long-context cut resumed, so reloads keep the first user message and
	// everything from the cut onward.
	StartID      int
	EndID        int
	TruncationID int

	Iteration      int
	LocalIteration int
	MaxIterations  int

	// MaxBudgetPerTask caps accumulated LLM cost in USD; 0 disables it.
	MaxBudgetPerTask float64

	ConfirmationMode bool

	AgentState     AgentState
	TrafficControl TrafficControlState

	ActivePlanID     string
	CurrentTaskIndex int

	// History is the filtered projection of the stream this controller
	// feeds to its agent.
	History []events.Event

	// Inputs carries delegate task inputs (task content, plan rendering).
	Inputs map[string]any

	// Outputs holds the finishing action's outputs once the agent is done.
	Outputs map[string]any

	// Metrics is the terminal rollup: local usage is merged in when the
	// controller finishes, errors, or stops. LocalMetrics mirrors the
	// agent's live LLM accounting after every step.
	Metrics      *llm.Metrics
	LocalMetrics llm.MetricsSnapshot

	// ExtraData overrides derived step context ("plan_state",
	// "current_step").
	ExtraData map[string]any

	// LastError holds the message of the failure that moved the controller
	// into ERROR, for status surfaces.
	LastError string
}

func newState(sessionID string, maxIterations int, maxBudget float64, confirmationMode bool) *State {
	return &State{
		SessionID:        sessionID,
		StartID:          0,
		EndID:            -1,
		TruncationID:     -1,
		MaxIterations:    maxIterations,
		MaxBudgetPerTask: maxBudget,
		ConfirmationMode: confirmationMode,
		AgentState:       StateLoading,
		TrafficControl:   TrafficNormal,
		CurrentTaskIndex: -1,
		Inputs:           make(map[string]any),
		ExtraData:        make(map[string]any),
		Metrics:          llm.NewMetrics(),
	}
}

// View is a read-only snapshot of controller state for status surfaces.
type View struct {
	SessionID        string              `json:"session_id"`
	AgentState       AgentState          `json:"agent_state"`
	TrafficControl   TrafficControlState `json:"traffic_control_state"`
	Iteration        int                 `json:"iteration"`
	LocalIteration   int                 `json:"local_iteration"`
	MaxIterations    int                 `json:"max_iterations"`
	ActivePlanID     string              `json:"active_plan_id,omitempty"`
	CurrentTaskIndex int                 `json:"current_task_index"`
	Cost             float64             `json:"accumulated_cost"`
	Usage            llm.MetricsSnapshot `json:"usage"`
	LastError        string              `json:"last_error,omitempty"`
}
