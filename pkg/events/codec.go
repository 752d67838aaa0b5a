package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownKind is returned when decoding an envelope whose kind is not part
// of the taxonomy.
var ErrUnknownKind = errors.New("unknown event kind")

// envelope is the stable JSON wire form of an event. Exactly one of Action
// and Observation is set.
type envelope struct {
	ID               int               `json:"id"`
	Timestamp        string            `json:"timestamp,omitempty"` // RFC3339Nano
	Source           Source            `json:"source,omitempty"`
	Cause            int               `json:"cause,omitempty"`
	Hidden           bool              `json:"hidden,omitempty"`
	Confirmation     ConfirmationState `json:"confirmation_state,omitempty"`
	Action           Kind              `json:"action,omitempty"`
	Observation      Kind              `json:"observation,omitempty"`
	Args             json.RawMessage   `json:"args,omitempty"`
	ToolCallMetadata *ToolCallMetadata `json:"tool_call_metadata,omitempty"`
}

// Marshal encodes an event into its JSON envelope.
func Marshal(ev Event) ([]byte, error) {
	m := ev.Meta()
	env := envelope{
		ID:               m.ID,
		Source:           m.Source,
		Cause:            m.Cause,
		Hidden:           m.Hidden,
		Confirmation:     m.Confirmation,
		ToolCallMetadata: m.ToolCall,
	}
	if !m.Timestamp.IsZero() {
		env.Timestamp = m.Timestamp.Format(time.RFC3339Nano)
	}

	switch ev.(type) {
	case Action:
		env.Action = ev.Kind()
	case Observation:
		env.Observation = ev.Kind()
	default:
		return nil, fmt.Errorf("event %T is neither action nor observation", ev)
	}

	args, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", ev.Kind(), err)
	}
	// Omit empty payloads ({}) to keep envelopes compact.
	if !bytes.Equal(args, []byte("{}")) {
		env.Args = args
	}

	return json.Marshal(env)
}

// Unmarshal decodes a JSON envelope into the concrete event type.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	kind := env.Action
	if kind == "" {
		kind = env.Observation
	}
	if kind == "" {
		return nil, fmt.Errorf("%w: envelope has neither action nor observation", ErrUnknownKind)
	}

	ev, err := newEvent(kind)
	if err != nil {
		return nil, err
	}
	if len(env.Args) > 0 {
		if err := json.Unmarshal(env.Args, ev); err != nil {
			return nil, fmt.Errorf("decode %s args: %w", kind, err)
		}
	}

	m := ev.Meta()
	m.ID = env.ID
	m.Source = env.Source
	m.Cause = env.Cause
	m.Hidden = env.Hidden
	m.Confirmation = env.Confirmation
	m.ToolCall = env.ToolCallMetadata
	if env.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("decode %s timestamp: %w", kind, err)
		}
		m.Timestamp = ts
	}

	return ev, nil
}

// newEvent returns a zero value of the concrete type for a kind.
func newEvent(k Kind) (Event, error) {
	switch k {
	case KindMessage:
		return &MessageAction{}, nil
	case KindCmdRun:
		return &CmdRunAction{}, nil
	case KindCodeCellRun:
		return &CodeCellRunAction{}, nil
	case KindFileEdit:
		return &FileEditAction{}, nil
	case KindToolCall:
		return &ToolCallAction{}, nil
	case KindRecall:
		return &RecallAction{}, nil
	case KindCreatePlan:
		return &CreatePlanAction{}, nil
	case KindMarkTask:
		return &MarkTaskAction{}, nil
	case KindAssignTask:
		return &AssignTaskAction{}, nil
	case KindFinish:
		return &AgentFinishAction{}, nil
	case KindReject:
		return &AgentRejectAction{}, nil
	case KindChangeAgentState:
		return &ChangeAgentStateAction{}, nil
	case KindNullAction:
		return &NullAction{}, nil
	case KindCmdOutput:
		return &CmdOutputObservation{}, nil
	case KindFileEditOutput:
		return &FileEditObservation{}, nil
	case KindError:
		return &ErrorObservation{}, nil
	case KindAgentStateChanged:
		return &AgentStateChangedObservation{}, nil
	case KindPlanStatus:
		return &PlanStatusObservation{}, nil
	case KindFunctionHub:
		return &FunctionHubObservation{}, nil
	case KindCondensation:
		return &AgentCondensationObservation{}, nil
	case KindNullObservation:
		return &NullObservation{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}

// EqualContent reports whether two events have the same kind and payload,
// ignoring envelope fields (id, timestamp, source, cause). Used by loop
// detection to compare repeated actions and observations.
func EqualContent(a, b Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
