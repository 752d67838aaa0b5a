package events

// observationMeta gives all observations their Observation marker.
type observationMeta struct{ eventMeta }

func (observationMeta) isObservation() {}

// CmdOutputObservation carries the output of an executed shell command.
type CmdOutputObservation struct {
	observationMeta
	Content  string `json:"content"`
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (*CmdOutputObservation) Kind() Kind { return KindCmdOutput }

// FileEditObservation carries the result (diff or new content) of a file edit.
type FileEditObservation struct {
	observationMeta
	Content string `json:"content"`
	Path    string `json:"path,omitempty"`
}

func (*FileEditObservation) Kind() Kind { return KindFileEditOutput }

// ErrorObservation reports a recoverable failure back into the history so
// the next step can react to it.
type ErrorObservation struct {
	observationMeta
	Content string `json:"content"`
}

func (*ErrorObservation) Kind() Kind { return KindError }

// AgentStateChangedObservation mirrors every controller state transition onto
// the stream.
type AgentStateChangedObservation struct {
	observationMeta
	AgentState string `json:"agent_state"`
}

func (*AgentStateChangedObservation) Kind() Kind { return KindAgentStateChanged }

// PlanStatusObservation carries a rendered plan status snapshot.
type PlanStatusObservation struct {
	observationMeta
	Content string `json:"content"`
	PlanID  string `json:"plan_id,omitempty"`
}

func (*PlanStatusObservation) Kind() Kind { return KindPlanStatus }

// FunctionHubObservation is the flattened result of a Function Hub execution.
type FunctionHubObservation struct {
	observationMeta
	Text         string   `json:"text,omitempty"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	VideoURLs    []string `json:"video_urls,omitempty"`
	AudioURLs    []string `json:"audio_urls,omitempty"`
	Blob         string   `json:"blob,omitempty"`
	Error        string   `json:"error,omitempty"`
	FunctionID   string   `json:"function_id,omitempty"`
	FunctionName string   `json:"function_name,omitempty"`
}

func (*FunctionHubObservation) Kind() Kind { return KindFunctionHub }

// AgentCondensationObservation marks a history truncation point and schedules
// the next step after long-context recovery.
type AgentCondensationObservation struct {
	observationMeta
	Content string `json:"content"`
}

func (*AgentCondensationObservation) Kind() Kind { return KindCondensation }

// NullObservation is a no-op placeholder.
type NullObservation struct {
	observationMeta
	Content string `json:"content,omitempty"`
}

func (*NullObservation) Kind() Kind { return KindNullObservation }
