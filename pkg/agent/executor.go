package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DistilledAI/conductor/pkg/conversation"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/tools"
)

// ToolSearcher discovers extra tools for the current step. Implemented by
// hub.Client; a failed or timed-out search returns an empty slice and the
// step proceeds with built-ins only.
type ToolSearcher interface {
	SearchTools(ctx context.Context, searchQuery, rerankQuery string) []tools.Definition
}

// Executor works one assigned task with tool calls until it emits
// AgentFinish. Each step it rebuilds the transcript from the history
// window, widens its tool set with Function Hub discoveries, and queues
// every action parsed from the completion.
type Executor struct {
	name     string
	llm      llm.Completer
	hub      ToolSearcher
	builtins []tools.Definition
	memory   *conversation.Memory
	logger   *slog.Logger

	pending []events.Action
}

// NewExecutor creates an executor agent. hub may be nil to disable tool
// discovery.
func NewExecutor(name string, completer llm.Completer, hub ToolSearcher, cfg Config, prompts PromptSource) *Executor {
	return &Executor{
		name:     name,
		llm:      completer,
		hub:      hub,
		builtins: ExecutorToolset(cfg),
		memory: conversation.NewMemory(conversation.Options{
			SystemPrompt:    prompts.ExecutorSystem(),
			Examples:        prompts.ExecutorExamples(),
			MaxMessageChars: cfg.MaxMessageChars,
			CachingActive:   cfg.CachingPrompt,
			VisionActive:    cfg.EnableVision,
		}),
		logger: slog.With("agent", name),
	}
}

// PromptSource supplies the static prompt text agents bake into their
// transcripts. Implemented by prompt.Builder; declared here so the package
// does not depend on a concrete template set.
type PromptSource interface {
	ExecutorSystem() string
	ExecutorExamples() string
	PlannerSystem() string
}

func (e *Executor) Name() string { return e.name }

// Reset discards queued actions.
func (e *Executor) Reset() {
	e.pending = nil
}

// Step returns the next action. Queued actions from an earlier completion
// drain first; a literal "/exit" from the user short-circuits to
// AgentFinish without an LLM call.
func (e *Executor) Step(ctx context.Context, sc *StepContext) (events.Action, error) {
	if len(e.pending) > 0 {
		return e.pop(), nil
	}

	if msg := sc.LatestUserMessage(); msg != nil && strings.TrimSpace(msg.Content) == "/exit" {
		return &events.AgentFinishAction{}, nil
	}

	messages := e.memory.Build(sc.History)

	planState := sc.PlanState()
	currentStep := sc.CurrentStep()
	e.logger.Debug("Deriving step context", "plan_state", planState, "current_step", currentStep)

	var hubDefs []tools.Definition
	if e.hub != nil {
		hubDefs = e.hub.SearchTools(ctx, planState, currentStep)
		e.logger.Info("Function Hub discovery finished", "tools", len(hubDefs))
	}
	merged := tools.Merge(e.builtins, hubDefs)

	resp, err := e.llm.Complete(ctx, llm.Request{
		Messages: messages,
		Tools:    merged.Definitions(),
		Metadata: sc.Metadata(e.name),
	})
	if err != nil {
		return nil, err
	}

	actions, err := ResponseToActions(resp, merged)
	if err != nil {
		return nil, err
	}

	e.pending = append(e.pending, actions...)
	return e.pop(), nil
}

func (e *Executor) pop() events.Action {
	action := e.pending[0]
	e.pending = e.pending[1:]
	return action
}
