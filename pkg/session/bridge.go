package session

import (
	"context"
	"log/slog"

	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/hub"
	"github.com/DistilledAI/conductor/pkg/plan"
)

// bridge answers the runnable actions the control plane resolves in-process:
// knowledge recalls, Function Hub calls, and planning tool reads. Shell,
// notebook, file-edit, and browser actions stay pending on the stream for an
// external runtime to answer (over the WebSocket plus the observation ingest
// endpoint).
//
// Handlers run on the bridge's dispatch goroutine, so execution is
// serialized per conversation and outbound hub HTTP never blocks Publish.
type bridge struct {
	stream   *events.EventStream
	hub      *hub.Client
	planTool *plan.Tool
	ctx      context.Context
	logger   *slog.Logger
}

func newBridge(ctx context.Context, stream *events.EventStream, hubClient *hub.Client, planTool *plan.Tool, logger *slog.Logger) *bridge {
	return &bridge{
		stream:   stream,
		hub:      hubClient,
		planTool: planTool,
		ctx:      ctx,
		logger:   logger,
	}
}

func (b *bridge) subscribe() {
	b.stream.Subscribe(events.SubscriberRuntime, "bridge", b.onEvent)
}

const rejectedActionMessage = "The user rejected the action."

func (b *bridge) onEvent(ev events.Event) {
	if act, ok := ev.(events.Action); ok && act.Runnable() &&
		act.Meta().Confirmation == events.ConfirmationRejected {
		b.answerRejected(act)
		return
	}
	switch a := ev.(type) {
	case *events.RecallAction:
		b.answerRecall(a)
	case *events.ToolCallAction:
		b.answerToolCall(a)
	}
}

// answerRejected resolves an action the user refused at the confirmation
// gate. The error observation releases the pending action and tells the
// agent why nothing ran.
func (b *bridge) answerRejected(act events.Action) {
	obs := &events.ErrorObservation{Content: rejectedActionMessage}
	link(obs, act)
	b.stream.Publish(obs, events.SourceEnvironment)
}

// answerRecall resolves a knowledge recall. There is no knowledge store
// behind the control plane, so the answer is empty; publishing it is still
// required to release the pending action and schedule the next step.
func (b *bridge) answerRecall(a *events.RecallAction) {
	obs := &events.NullObservation{}
	link(obs, a)
	b.stream.Publish(obs, events.SourceEnvironment)
}

func (b *bridge) answerToolCall(a *events.ToolCallAction) {
	switch {
	case a.FunctionID != "":
		b.runHubFunction(a)
	case a.FunctionName == plan.ToolName:
		b.runPlanTool(a)
	default:
		// Local tool owned by an external runtime (browser, web_read).
		// Published, not executed here.
	}
}

// runHubFunction executes a Function Hub call and publishes the flattened
// result. Hub errors come back inside the observation, never as a dropped
// answer: the pending action must always be released.
func (b *bridge) runHubFunction(a *events.ToolCallAction) {
	res := b.hub.Run(b.ctx, a.FunctionID, a.Arguments)
	if res.Error != "" {
		b.logger.Warn("Hub function returned an error",
			"function", a.FunctionName, "function_id", a.FunctionID, "error", res.Error)
	}
	obs := &events.FunctionHubObservation{
		Text:         res.Text,
		ImageURLs:    res.ImageURLs,
		VideoURLs:    res.VideoURLs,
		AudioURLs:    res.AudioURLs,
		Blob:         res.Blob,
		Error:        res.Error,
		FunctionID:   a.FunctionID,
		FunctionName: a.FunctionName,
	}
	link(obs, a)
	b.stream.Publish(obs, events.SourceEnvironment)
}

// runPlanTool executes a non-mutating planning command (list, get, ...).
// Mutating commands become CreatePlanAction/MarkTaskAction upstream and
// never reach the bridge.
func (b *bridge) runPlanTool(a *events.ToolCallAction) {
	out, err := b.planTool.Execute(b.ctx, a.Arguments)
	if err != nil {
		obs := &events.ErrorObservation{Content: err.Error()}
		link(obs, a)
		b.stream.Publish(obs, events.SourceEnvironment)
		return
	}
	obs := &events.FunctionHubObservation{Text: out, FunctionName: a.FunctionName}
	link(obs, a)
	b.stream.Publish(obs, events.SourceEnvironment)
}

// link ties an observation to the action it answers: Cause releases the
// pending action, the copied tool-call metadata routes the result back into
// the calling agent's transcript.
func link(obs events.Event, act events.Action) {
	m := obs.Meta()
	m.Cause = act.Meta().ID
	m.ToolCall = act.Meta().ToolCall
}
