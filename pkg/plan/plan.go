// Package plan implements the in-memory plan store and the LLM-callable
// planning tool that manages it. A plan is an ordered list of steps whose
// statuses, notes, and results the planning agent mutates as work advances.
package plan

// StepStatus is the lifecycle state of one plan step.
type StepStatus string

const (
	StatusNotStarted StepStatus = "not_started"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusBlocked    StepStatus = "blocked"
)

// AllStatuses lists every valid status, in the order user messages cite them.
func AllStatuses() []StepStatus {
	return []StepStatus{StatusNotStarted, StatusInProgress, StatusCompleted, StatusBlocked}
}

// Valid reports whether s is a known status.
func (s StepStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// Active reports whether the step still needs work.
func (s StepStatus) Active() bool {
	return s == StatusNotStarted || s == StatusInProgress
}

// Mark returns the checkbox marker used when rendering a step.
func (s StepStatus) Mark() string {
	switch s {
	case StatusCompleted:
		return "[✓]"
	case StatusInProgress:
		return "[→]"
	case StatusBlocked:
		return "[!]"
	default:
		return "[ ]"
	}
}

// Step is one entry of a plan.
type Step struct {
	Content string     `json:"content"`
	Status  StepStatus `json:"status"`
	Notes   string     `json:"notes,omitempty"`
	Result  string     `json:"result,omitempty"`
}

// Plan is an ordered list of steps under a stable id.
type Plan struct {
	ID    string `json:"plan_id"`
	Title string `json:"title"`
	Steps []Step `json:"steps"`
}

// CompletedCount returns how many steps are completed.
func (p *Plan) CompletedCount() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// NextActiveStep returns the index of the first step that still needs work,
// or -1 when every step is completed or blocked.
func (p *Plan) NextActiveStep() int {
	for i, s := range p.Steps {
		if s.Status.Active() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy, so store snapshots cannot be mutated by callers.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Steps = make([]Step, len(p.Steps))
	copy(c.Steps, p.Steps)
	return &c
}
