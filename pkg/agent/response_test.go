package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/plan"
	"github.com/DistilledAI/conductor/pkg/tools"
)

func executorMerge(hub ...tools.Definition) *tools.MergeSet {
	return tools.Merge(ExecutorToolset(Config{EnableJupyter: true, EnableLLMEditor: true}), hub)
}

func plannerMerge(t *testing.T) *tools.MergeSet {
	t.Helper()
	return tools.Merge(PlannerToolset(plan.NewTool(plan.NewStore())))
}

func TestResponseToActions_ContentBecomesMessage(t *testing.T) {
	resp := &llm.Response{ID: "resp_1", Content: "Could you clarify the request?"}

	actions, err := ResponseToActions(resp, executorMerge())

	require.NoError(t, err)
	require.Len(t, actions, 1)
	msg, ok := actions[0].(*events.MessageAction)
	require.True(t, ok)
	assert.Equal(t, "Could you clarify the request?", msg.Content)
	assert.True(t, msg.WaitForResponse)
}

func TestResponseToActions_EmptyResponse(t *testing.T) {
	resp := &llm.Response{ID: "resp_1", Content: "   "}

	_, err := ResponseToActions(resp, executorMerge())

	require.Error(t, err)
	var noAction *NoActionError
	require.ErrorAs(t, err, &noAction)
	assert.Equal(t, "resp_1", noAction.ResponseID)
	assert.True(t, IsRecoverable(err))
}

func TestResponseToActions_BashCall(t *testing.T) {
	resp := &llm.Response{
		ID:      "resp_1",
		Content: "Listing the workspace first.",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{"command":"ls -la"}`},
		},
	}

	actions, err := ResponseToActions(resp, executorMerge())

	require.NoError(t, err)
	require.Len(t, actions, 1)
	run, ok := actions[0].(*events.CmdRunAction)
	require.True(t, ok)
	assert.Equal(t, "ls -la", run.Command)
	assert.Equal(t, "Listing the workspace first.", run.Thought)

	meta := run.Meta().ToolCall
	require.NotNil(t, meta)
	assert.Equal(t, "call_1", meta.CallID)
	assert.Equal(t, ToolBash, meta.FunctionName)
	assert.Equal(t, "resp_1", meta.ResponseID)
}

func TestResponseToActions_MultipleCallsKeepOrder(t *testing.T) {
	resp := &llm.Response{
		ID:      "resp_1",
		Content: "Running both checks.",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{"command":"pwd"}`},
			{ID: "call_2", Name: ToolIPython, Arguments: `{"code":"print(1)"}`},
		},
	}

	actions, err := ResponseToActions(resp, executorMerge())

	require.NoError(t, err)
	require.Len(t, actions, 2)

	run := actions[0].(*events.CmdRunAction)
	assert.Equal(t, "Running both checks.", run.Thought)

	cell, ok := actions[1].(*events.CodeCellRunAction)
	require.True(t, ok)
	assert.Equal(t, "print(1)", cell.Code)
	assert.Empty(t, cell.Thought)
}

func TestResponseToActions_RepairsMalformedArguments(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolBash, Arguments: `{'command': 'echo hi'}`},
		},
	}

	actions, err := ResponseToActions(resp, executorMerge())

	require.NoError(t, err)
	run := actions[0].(*events.CmdRunAction)
	assert.Equal(t, "echo hi", run.Command)
}

func TestResponseToActions_UnknownTool(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "no_such_tool", Arguments: `{}`},
		},
	}

	_, err := ResponseToActions(resp, executorMerge())

	var notExists *FunctionCallNotExistsError
	require.ErrorAs(t, err, &notExists)
	assert.Equal(t, "no_such_tool", notExists.FunctionName)
	assert.True(t, IsRecoverable(err))
}

func TestResponseToActions_SchemaRejection(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolFinish, Arguments: `{"message":"done"}`},
		},
	}

	_, err := ResponseToActions(resp, executorMerge())

	var validation *FunctionCallValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, ToolFinish, validation.FunctionName)
	assert.True(t, IsRecoverable(err))
}

func TestResponseToActions_FinishCall(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolFinish, Arguments: `{"message":"Saved to /workspace/result.md","task_completed":true}`},
		},
	}

	actions, err := ResponseToActions(resp, executorMerge())

	require.NoError(t, err)
	finish, ok := actions[0].(*events.AgentFinishAction)
	require.True(t, ok)
	assert.Equal(t, "Saved to /workspace/result.md", finish.FinalThought)
	assert.Equal(t, true, finish.Outputs["task_completed"])
}

func TestResponseToActions_ThinkBecomesPlainMessage(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: ToolThink, Arguments: `{"thought":"The API limit resets hourly."}`},
		},
	}

	actions, err := ResponseToActions(resp, executorMerge())

	require.NoError(t, err)
	msg, ok := actions[0].(*events.MessageAction)
	require.True(t, ok)
	assert.Equal(t, "The API limit resets hourly.", msg.Content)
	assert.False(t, msg.WaitForResponse)
	assert.Nil(t, msg.Meta().ToolCall)
}

func TestResponseToActions_HubToolRouting(t *testing.T) {
	hubDef := tools.Definition{
		Name:        "weather_lookup",
		Description: "Look up the weather.",
		ExternalID:  "fn-42",
	}
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "weather_lookup", Arguments: `{"city":"Hanoi"}`},
		},
	}

	actions, err := ResponseToActions(resp, executorMerge(hubDef))

	require.NoError(t, err)
	call, ok := actions[0].(*events.ToolCallAction)
	require.True(t, ok)
	assert.Equal(t, "fn-42", call.FunctionID)
	assert.Equal(t, "weather_lookup", call.FunctionName)
	assert.Equal(t, "Hanoi", call.Arguments["city"])
}

func TestResponseToActions_PlanningCreate(t *testing.T) {
	resp := &llm.Response{
		ID:      "resp_1",
		Content: "Drafting the plan.",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: plan.ToolName, Arguments: `{"command":"create","plan_id":"plan_1","title":"Ship the report","steps":["Collect data","Write summary"]}`},
		},
	}

	actions, err := ResponseToActions(resp, plannerMerge(t))

	require.NoError(t, err)
	create, ok := actions[0].(*events.CreatePlanAction)
	require.True(t, ok)
	assert.Equal(t, "plan_1", create.PlanID)
	assert.Equal(t, "Ship the report", create.Title)
	assert.Equal(t, []string{"Collect data", "Write summary"}, create.Steps)
	assert.Equal(t, "Drafting the plan.", create.Thought)
	require.NotNil(t, create.Meta().ToolCall)
	assert.Equal(t, plan.ToolName, create.Meta().ToolCall.FunctionName)
}

func TestResponseToActions_PlanningMarkStep(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: plan.ToolName, Arguments: `{"command":"mark_step","step_index":1,"step_status":"completed","step_notes":"verified"}`},
		},
	}

	actions, err := ResponseToActions(resp, plannerMerge(t))

	require.NoError(t, err)
	mark, ok := actions[0].(*events.MarkTaskAction)
	require.True(t, ok)
	assert.Equal(t, 1, mark.TaskIndex)
	assert.Equal(t, "completed", mark.Status)
	assert.Equal(t, "verified", mark.Notes)
	assert.Empty(t, mark.PlanID)
}

func TestResponseToActions_PlanningQueryStaysToolCall(t *testing.T) {
	resp := &llm.Response{
		ID: "resp_1",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: plan.ToolName, Arguments: `{"command":"list"}`},
		},
	}

	actions, err := ResponseToActions(resp, plannerMerge(t))

	require.NoError(t, err)
	call, ok := actions[0].(*events.ToolCallAction)
	require.True(t, ok)
	assert.Equal(t, plan.ToolName, call.FunctionName)
	assert.Empty(t, call.FunctionID)
	assert.Equal(t, "list", call.Arguments["command"])
}
