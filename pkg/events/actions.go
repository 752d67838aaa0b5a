package events

// actionMeta gives all actions their Action marker and a default Runnable.
// Concrete runnable kinds override Runnable.
type actionMeta struct{ eventMeta }

func (actionMeta) isAction()      {}
func (actionMeta) Runnable() bool { return false }

// MessageAction is a plain text message from the user or the agent.
type MessageAction struct {
	actionMeta
	Content         string   `json:"content"`
	ImageURLs       []string `json:"image_urls,omitempty"`
	WaitForResponse bool     `json:"wait_for_response,omitempty"`
}

func (*MessageAction) Kind() Kind { return KindMessage }

// CmdRunAction requests a shell command execution.
type CmdRunAction struct {
	actionMeta
	Command string `json:"command"`
	Thought string `json:"thought,omitempty"`
}

func (*CmdRunAction) Kind() Kind     { return KindCmdRun }
func (*CmdRunAction) Runnable() bool { return true }

// CodeCellRunAction requests execution of a code cell in the interpreter.
type CodeCellRunAction struct {
	actionMeta
	Code    string `json:"code"`
	Thought string `json:"thought,omitempty"`
}

func (*CodeCellRunAction) Kind() Kind     { return KindCodeCellRun }
func (*CodeCellRunAction) Runnable() bool { return true }

// FileEditAction requests an edit of the file at Path. Start/End are 1-based
// line bounds; -1 for End means end of file.
type FileEditAction struct {
	actionMeta
	Path    string `json:"path"`
	Content string `json:"content"`
	Start   int    `json:"start,omitempty"`
	End     int    `json:"end,omitempty"`
	Thought string `json:"thought,omitempty"`
}

func (*FileEditAction) Kind() Kind     { return KindFileEdit }
func (*FileEditAction) Runnable() bool { return true }

// ToolCallAction routes a call to an externally discovered Function Hub tool.
// FunctionID is the hub-side identifier resolved from the tool name at parse
// time.
type ToolCallAction struct {
	actionMeta
	FunctionID   string         `json:"function_id"`
	FunctionName string         `json:"function_name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	Thought      string         `json:"thought,omitempty"`
}

func (*ToolCallAction) Kind() Kind     { return KindToolCall }
func (*ToolCallAction) Runnable() bool { return true }

// RecallAction looks up knowledge (microagents, repo context) by query.
type RecallAction struct {
	actionMeta
	Query   string `json:"query"`
	Thought string `json:"thought,omitempty"`
}

func (*RecallAction) Kind() Kind     { return KindRecall }
func (*RecallAction) Runnable() bool { return true }

// CreatePlanAction registers a new plan with ordered steps.
type CreatePlanAction struct {
	actionMeta
	PlanID  string   `json:"plan_id"`
	Title   string   `json:"title"`
	Steps   []string `json:"steps"`
	Thought string   `json:"thought,omitempty"`
}

func (*CreatePlanAction) Kind() Kind { return KindCreatePlan }

// MarkTaskAction records a task status transition on a plan. Status holds a
// plan step status name (not_started, in_progress, completed, blocked).
type MarkTaskAction struct {
	actionMeta
	PlanID    string `json:"plan_id"`
	TaskIndex int    `json:"task_index"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
	Thought   string `json:"thought,omitempty"`
}

func (*MarkTaskAction) Kind() Kind { return KindMarkTask }

// AssignTaskAction hands one plan task to a delegate controller.
// Inputs carries at least "task" (the task content) and the rendered plan.
type AssignTaskAction struct {
	actionMeta
	DelegateID string         `json:"delegate_id"`
	Agent      string         `json:"agent"`
	PlanID     string         `json:"plan_id"`
	TaskIndex  int            `json:"task_index"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Thought    string         `json:"thought,omitempty"`
}

func (*AssignTaskAction) Kind() Kind { return KindAssignTask }

// AgentFinishAction signals that the emitting agent considers its work done.
type AgentFinishAction struct {
	actionMeta
	FinalThought string         `json:"final_thought,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Thought      string         `json:"thought,omitempty"`
}

func (*AgentFinishAction) Kind() Kind { return KindFinish }

// AgentRejectAction signals that the agent refuses the task.
type AgentRejectAction struct {
	actionMeta
	Outputs map[string]any `json:"outputs,omitempty"`
	Thought string         `json:"thought,omitempty"`
}

func (*AgentRejectAction) Kind() Kind { return KindReject }

// ChangeAgentStateAction requests a controller state transition (pause,
// resume, stop, confirm, reject).
type ChangeAgentStateAction struct {
	actionMeta
	AgentState string `json:"agent_state"`
	Thought    string `json:"thought,omitempty"`
}

func (*ChangeAgentStateAction) Kind() Kind { return KindChangeAgentState }

// NullAction is a no-op placeholder.
type NullAction struct {
	actionMeta
}

func (*NullAction) Kind() Kind { return KindNullAction }
