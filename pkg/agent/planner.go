package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DistilledAI/conductor/pkg/conversation"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/plan"
	"github.com/DistilledAI/conductor/pkg/tools"
)

// DefaultPlanSteps are the tasks of the synthesised fallback plan.
var DefaultPlanSteps = []string{
	"Analyze the request",
	"Perform tasks",
	"Check the result",
}

// Planner decomposes the user request into a plan through the planning
// tool and finalises it once every task is resolved. Its tool set is fixed;
// it never searches the hub.
type Planner struct {
	name    string
	llm     llm.Completer
	toolset []tools.Definition
	memory  *conversation.Memory
	logger  *slog.Logger

	pending []events.Action
}

// NewPlanner creates the planner agent bound to a session's plan tool.
func NewPlanner(name string, completer llm.Completer, planTool *plan.Tool, cfg Config, prompts PromptSource) *Planner {
	return &Planner{
		name:    name,
		llm:     completer,
		toolset: PlannerToolset(planTool),
		memory: conversation.NewMemory(conversation.Options{
			SystemPrompt:    prompts.PlannerSystem(),
			MaxMessageChars: cfg.MaxMessageChars,
			CachingActive:   cfg.CachingPrompt,
			VisionActive:    cfg.EnableVision,
		}),
		logger: slog.With("agent", name),
	}
}

func (p *Planner) Name() string { return p.name }

// Reset discards queued actions.
func (p *Planner) Reset() {
	p.pending = nil
}

// Step returns the next planning action, draining queued actions before
// invoking the LLM again.
func (p *Planner) Step(ctx context.Context, sc *StepContext) (events.Action, error) {
	if len(p.pending) > 0 {
		return p.pop(), nil
	}

	if msg := sc.LatestUserMessage(); msg != nil && strings.TrimSpace(msg.Content) == "/exit" {
		return &events.AgentFinishAction{}, nil
	}

	messages := p.memory.Build(sc.History)
	merged := tools.Merge(p.toolset)

	resp, err := p.llm.Complete(ctx, llm.Request{
		Messages: messages,
		Tools:    merged.Definitions(),
		Metadata: sc.Metadata(p.name),
	})
	if err != nil {
		return nil, err
	}

	actions, err := ResponseToActions(resp, merged)
	if err != nil {
		return nil, err
	}

	p.pending = append(p.pending, actions...)
	return p.pop(), nil
}

func (p *Planner) pop() events.Action {
	action := p.pending[0]
	p.pending = p.pending[1:]
	return action
}

// DefaultPlan synthesises the fallback plan used when the first planning
// step produced no create call. The title quotes the first 50 characters of
// the request.
func DefaultPlan(request string) *events.CreatePlanAction {
	title := fmt.Sprintf("Plan for: %s", head(request, 50))
	if len([]rune(request)) > 50 {
		title += "..."
	}
	return &events.CreatePlanAction{
		PlanID: fmt.Sprintf("plan_%d", time.Now().Unix()),
		Title:  title,
		Steps:  append([]string(nil), DefaultPlanSteps...),
	}
}
