package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/agent/prompt"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/tools"
)

type fakeCompleter struct {
	requests  []llm.Request
	responses []*llm.Response
	err       error
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

type fakeSearcher struct {
	defs        []tools.Definition
	searchQuery string
	rerankQuery string
	calls       int
}

func (f *fakeSearcher) SearchTools(_ context.Context, searchQuery, rerankQuery string) []tools.Definition {
	f.calls++
	f.searchQuery = searchQuery
	f.rerankQuery = rerankQuery
	return f.defs
}

func userEvent(id int, content string) *events.MessageAction {
	msg := &events.MessageAction{Content: content}
	msg.Meta().ID = id
	msg.Meta().Source = events.SourceUser
	return msg
}

func newTestExecutor(completer llm.Completer, hub ToolSearcher) *Executor {
	return NewExecutor("executor", completer, hub, Config{EnableJupyter: true}, prompt.NewBuilder())
}

func TestExecutorStep_QueuesAndDrainsActions(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.Response{{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{"command":"pwd"}`},
			{ID: "call_2", Name: ToolIPython, Arguments: `{"code":"print(1)"}`},
		},
	}}}
	exec := newTestExecutor(completer, nil)
	sc := &StepContext{SessionID: "sess-1", History: []events.Event{userEvent(0, "inspect the workspace")}}

	first, err := exec.Step(context.Background(), sc)
	require.NoError(t, err)
	require.IsType(t, &events.CmdRunAction{}, first)

	second, err := exec.Step(context.Background(), sc)
	require.NoError(t, err)
	require.IsType(t, &events.CodeCellRunAction{}, second)

	assert.Len(t, completer.requests, 1, "queued action must not trigger another completion")
}

func TestExecutorStep_ExitShortCircuits(t *testing.T) {
	completer := &fakeCompleter{}
	exec := newTestExecutor(completer, nil)
	sc := &StepContext{SessionID: "sess-1", History: []events.Event{userEvent(0, "  /exit  ")}}

	action, err := exec.Step(context.Background(), sc)

	require.NoError(t, err)
	require.IsType(t, &events.AgentFinishAction{}, action)
	assert.Empty(t, completer.requests)
}

func TestExecutorStep_RequestShape(t *testing.T) {
	searcher := &fakeSearcher{defs: []tools.Definition{
		{Name: "weather_lookup", ExternalID: "fn-42"},
	}}
	completer := &fakeCompleter{responses: []*llm.Response{{
		ID:      "resp_1",
		Content: "Checking the disk.",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{"command":"df -h"}`},
		},
	}}}
	exec := newTestExecutor(completer, searcher)
	sc := &StepContext{
		SessionID:      "sess-1",
		History:        []events.Event{userEvent(0, "check disk space")},
		LocalIteration: 3,
	}

	action, err := exec.Step(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, "df -h", action.(*events.CmdRunAction).Command)

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]

	assert.Equal(t, map[string]any{"agent_name": "executor", "session_id": "sess-1"}, req.Metadata)

	require.NotEmpty(t, req.Messages)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)

	names := make([]string, 0, len(req.Tools))
	for _, def := range req.Tools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, ToolBash)
	assert.Contains(t, names, "weather_lookup")

	assert.Equal(t, 1, searcher.calls)
	assert.Equal(t, "User intent: check disk space", searcher.searchQuery)
	assert.Equal(t, "Step 3 of task", searcher.rerankQuery)
}

func TestExecutorStep_HubDuplicateDropped(t *testing.T) {
	searcher := &fakeSearcher{defs: []tools.Definition{
		{Name: ToolBash, ExternalID: "fn-dupe"},
	}}
	completer := &fakeCompleter{responses: []*llm.Response{{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{"command":"ls"}`},
		},
	}}}
	exec := newTestExecutor(completer, searcher)
	sc := &StepContext{SessionID: "sess-1", History: []events.Event{userEvent(0, "list files")}}

	action, err := exec.Step(context.Background(), sc)
	require.NoError(t, err)

	// The built-in wins the name, so the call parses as a shell action, not
	// a hub routing.
	run, ok := action.(*events.CmdRunAction)
	require.True(t, ok)
	assert.Equal(t, "ls", run.Command)

	seen := 0
	for _, def := range completer.requests[0].Tools {
		if def.Name == ToolBash {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestExecutorStep_CompletionErrorPropagates(t *testing.T) {
	wantErr := errors.New("upstream unavailable")
	completer := &fakeCompleter{err: wantErr}
	exec := newTestExecutor(completer, nil)
	sc := &StepContext{SessionID: "sess-1", History: []events.Event{userEvent(0, "do something")}}

	_, err := exec.Step(context.Background(), sc)

	require.ErrorIs(t, err, wantErr)
}

func TestExecutorStep_ParseErrorIsRecoverable(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.Response{{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "ghost_tool", Arguments: `{}`},
		},
	}}}
	exec := newTestExecutor(completer, nil)
	sc := &StepContext{SessionID: "sess-1", History: []events.Event{userEvent(0, "do something")}}

	_, err := exec.Step(context.Background(), sc)

	require.Error(t, err)
	assert.True(t, IsRecoverable(err))
}

func TestExecutorReset_ForcesNewCompletion(t *testing.T) {
	completer := &fakeCompleter{responses: []*llm.Response{{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{"command":"pwd"}`},
			{ID: "call_2", Name: ToolBash, Arguments: `{"command":"ls"}`},
		},
	}}}
	exec := newTestExecutor(completer, nil)
	sc := &StepContext{SessionID: "sess-1", History: []events.Event{userEvent(0, "inspect")}}

	_, err := exec.Step(context.Background(), sc)
	require.NoError(t, err)

	exec.Reset()

	_, err = exec.Step(context.Background(), sc)
	require.NoError(t, err)
	assert.Len(t, completer.requests, 2)
}

func TestStepContext_PlanStateFallback(t *testing.T) {
	agentReply := &events.MessageAction{Content: "I inspected the repo layout and found two services."}
	agentReply.Meta().ID = 1
	agentReply.Meta().Source = events.SourceAgent

	sc := &StepContext{
		History: []events.Event{userEvent(0, "refactor the build"), agentReply},
		Inputs:  map[string]any{"task": "Analyze the request"},
	}

	state := sc.PlanState()

	assert.Contains(t, state, "User intent: refactor the build")
	assert.Contains(t, state, "Last agent response: I inspected the repo layout and found two services....")
	assert.Contains(t, state, "Task: Analyze the request")
}

func TestStepContext_ExtraDataOverrides(t *testing.T) {
	sc := &StepContext{
		ExtraData: map[string]any{
			"plan_state":   "Plan: collect, summarise",
			"current_step": "task 2 in flight",
		},
	}

	assert.Equal(t, "Plan: collect, summarise", sc.PlanState())
	assert.Equal(t, "task 2 in flight", sc.CurrentStep())
}
