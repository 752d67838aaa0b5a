package prompt

import (
	"fmt"
	"time"
)

// Builder serves the static prompt set. Stateless and safe to share across
// sessions.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// ExecutorSystem returns the executor system prompt.
func (b *Builder) ExecutorSystem() string {
	return executorSystemPrompt
}

// ExecutorExamples returns the worked example block for executor
// transcripts.
func (b *Builder) ExecutorExamples() string {
	return executorExamples
}

// PlannerSystem returns the planner system prompt.
func (b *Builder) PlannerSystem() string {
	return plannerSystemPrompt
}

// TaskAssignment composes the kickoff message for a task delegate from the
// rendered plan, the target task, and the wall-clock time.
func (b *Builder) TaskAssignment(planText string, taskIndex int, taskContent string, now time.Time) string {
	return fmt.Sprintf(taskAssignmentTemplate,
		planText, taskIndex, taskContent, now.Format("2006-01-02 15:04:05"))
}

// FinalizeAllTasks returns the message that asks the planner to finalise a
// fully resolved plan.
func (b *Builder) FinalizeAllTasks() string {
	return finalizeAllTasksMessage
}
