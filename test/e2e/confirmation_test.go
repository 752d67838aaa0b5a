package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// With confirmation mode on, a delegate's shell action parks the whole
// conversation at the gate; approving over REST republishes the action for
// the runtime to execute.
func TestConfirmationGateOverREST(t *testing.T) {
	llm := scriptedLLM(t,
		planCreateResponse(t, "call_plan", "plan_conf", "Clean the scratch space",
			"Remove the scratch directory"),
		bashResponse(t, "call_rm", "rm -r scratch"),
		finishResponse(t, "call_done", "Removed the scratch directory."),
		finishResponse(t, "call_final", "All tasks completed."),
	)
	app := NewTestApp(t, WithLLM(llm.URL), WithConfirmationMode())

	id := app.CreateConversation(t, "remove the scratch directory")
	app.WaitForAgentState(t, id, "awaiting_user_confirmation")

	// The gated action sits in the log undecided, and nothing has run.
	gated := app.WaitForEventKind(t, id, "cmd_run")
	assert.Equal(t, "awaiting_confirmation", gated["confirmation_state"])
	assert.Empty(t, EventsOfKind(app.Events(t, id), "cmd_output"))

	resp := app.Confirm(t, id, true)
	assert.Equal(t, "user_confirmed", resp["decision"])

	// Approval republishes the action; the fresh copy is the one the runtime
	// answers.
	confirmed := app.WaitForEvent(t, id, func(env map[string]any) bool {
		return env["action"] == "cmd_run" && env["confirmation_state"] == "confirmed"
	}, "the republished cmd_run")
	assert.NotEqual(t, gated["id"], confirmed["id"])
	args, _ := confirmed["args"].(map[string]any)
	assert.Equal(t, "rm -r scratch", args["command"])

	app.IngestCmdOutput(t, id, confirmed, "", 0)
	app.WaitForAgentState(t, id, "finished")

	// With nothing awaiting a decision, confirm is refused.
	status := app.postJSONStatus(t, "/api/v1/conversations/"+id+"/confirm",
		map[string]any{"accept": true})
	assert.Equal(t, http.StatusConflict, status)
}

// Rejecting at the gate feeds a refusal back to the agent instead of
// executing; the conversation waits for guidance and a follow-up message
// moves it on. The command never runs.
func TestRejectionReturnsControlToUser(t *testing.T) {
	llm := scriptedLLM(t,
		planCreateResponse(t, "call_plan", "plan_rej", "Clean the cache",
			"Delete the build cache"),
		bashResponse(t, "call_rm", "rm -rf .cache"),
		finishResponse(t, "call_done", "Left the cache in place."),
		finishResponse(t, "call_final", "Done."),
	)
	app := NewTestApp(t, WithLLM(llm.URL), WithConfirmationMode())

	id := app.CreateConversation(t, "delete the build cache")
	app.WaitForAgentState(t, id, "awaiting_user_confirmation")

	resp := app.Confirm(t, id, false)
	assert.Equal(t, "user_rejected", resp["decision"])

	refusal := app.WaitForEvent(t, id, func(env map[string]any) bool {
		return env["observation"] == "error"
	}, "the refusal observation")
	args, _ := refusal["args"].(map[string]any)
	assert.Equal(t, "The user rejected the action.", args["content"])

	app.WaitForAgentState(t, id, "awaiting_user_input")
	app.SendMessage(t, id, "leave the cache alone and wrap up")
	app.WaitForAgentState(t, id, "finished")

	assert.Empty(t, EventsOfKind(app.Events(t, id), "cmd_output"),
		"rejected command must never produce output")
}
