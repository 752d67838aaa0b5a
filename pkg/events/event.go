// Package events defines the append-only event stream shared by all
// controllers in a conversation, the Action/Observation taxonomy carried on
// it, and the delivery paths for persisted and live events (PostgreSQL
// journal + NOTIFY/LISTEN, WebSocket fan-out).
package events

import "time"

// Source identifies who produced an event.
type Source string

// Event sources.
const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

// Kind is the stable serialized name of a concrete event type.
type Kind string

// Action kinds.
const (
	KindMessage          Kind = "message"
	KindCmdRun           Kind = "cmd_run"
	KindCodeCellRun      Kind = "code_cell_run"
	KindFileEdit         Kind = "file_edit"
	KindToolCall         Kind = "tool_call"
	KindRecall           Kind = "recall"
	KindCreatePlan       Kind = "create_plan"
	KindMarkTask         Kind = "mark_task"
	KindAssignTask       Kind = "assign_task"
	KindFinish           Kind = "finish"
	KindReject           Kind = "reject"
	KindChangeAgentState Kind = "change_agent_state"
	KindNullAction       Kind = "null_action"
)

// Observation kinds.
const (
	KindCmdOutput         Kind = "cmd_output"
	KindFileEditOutput    Kind = "file_edit_output"
	KindError             Kind = "error"
	KindAgentStateChanged Kind = "agent_state_changed"
	KindPlanStatus        Kind = "plan_status"
	KindFunctionHub       Kind = "function_hub"
	KindCondensation      Kind = "condensation"
	KindNullObservation   Kind = "null_observation"
)

// NoCause marks an event that does not answer another event. A zero cause is
// treated as unset everywhere: the first stream event (id 0) is always a user
// message, which no observation answers.
const NoCause = 0

// ConfirmationState gates runnable actions behind an explicit user decision.
// Empty means the action never entered the confirmation flow.
type ConfirmationState string

const (
	ConfirmationAwaiting  ConfirmationState = "awaiting_confirmation"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationRejected  ConfirmationState = "rejected"
)

// ToolCallMetadata correlates an action or observation with the LLM tool call
// that produced it.
type ToolCallMetadata struct {
	CallID       string `json:"call_id"`
	FunctionName string `json:"function_name"`
	ResponseID   string `json:"response_id,omitempty"`
}

// Meta is the stream-assigned envelope shared by all events. ID, Timestamp
// and Source are set by Publish; they must not be modified afterwards.
// Fields are excluded from payload marshaling; the codec writes them on the
// envelope instead.
type Meta struct {
	ID           int               `json:"-"`
	Timestamp    time.Time         `json:"-"`
	Source       Source            `json:"-"`
	Cause        int               `json:"-"`
	Hidden       bool              `json:"-"`
	Confirmation ConfirmationState `json:"-"`
	ToolCall     *ToolCallMetadata `json:"-"`
}

// Meta returns the event envelope. Concrete event types embed Meta by value,
// so every *ConcreteEvent satisfies Event through this method.
func (m *Meta) Meta() *Meta { return m }

// eventMeta aliases Meta for embedding: an embedded field named "Meta" would
// shadow the promoted Meta method, so the marker structs embed the alias.
type eventMeta = Meta

// Event is any record on the stream. Concrete types are pointers to structs
// embedding Meta; consumers dispatch with exhaustive type switches.
type Event interface {
	Meta() *Meta
	Kind() Kind
}

// Action is an intent published to the stream. Runnable actions expect a
// matching Observation; non-runnable ones do not.
type Action interface {
	Event
	Runnable() bool
	isAction()
}

// Observation is the outcome of a runnable action or an ambient signal.
type Observation interface {
	Event
	isObservation()
}
