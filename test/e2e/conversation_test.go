package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The full conversation lifecycle over the public surface: create over REST,
// watch the plan decompose into a delegate task, answer the delegate's shell
// action through the observation ingest endpoint, and read the finished
// conversation back through every query endpoint plus the WebSocket feed.
func TestConversationLifecycle(t *testing.T) {
	llm := scriptedLLM(t,
		planCreateResponse(t, "call_plan", "plan_e2e", "List the workspace",
			"List the files in the workspace"),
		bashResponse(t, "call_ls", "ls -la"),
		finishResponse(t, "call_done", "The workspace holds README.md and main.go."),
		finishResponse(t, "call_final", "All tasks completed."),
	)
	app := NewTestApp(t, WithLLM(llm.URL))

	id := app.CreateConversation(t, "List the files in the workspace")

	ws, err := WSConnect(context.Background(), app.WSURL)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	require.NoError(t, ws.Subscribe(id))
	_, err = ws.WaitForType("subscription.confirmed", 10*time.Second)
	require.NoError(t, err)

	// The delegate's shell action arrives unanswered; play the runtime.
	cmdRun := app.WaitForEventKind(t, id, "cmd_run")
	args, _ := cmdRun["args"].(map[string]any)
	assert.Equal(t, "ls -la", args["command"])
	app.IngestCmdOutput(t, id, cmdRun, "README.md\nmain.go", 0)

	app.WaitForAgentState(t, id, "finished")

	detail := app.GetConversation(t, id)
	assert.Equal(t, true, detail["live"])
	assert.Equal(t, "completed", detail["status"])
	assert.Equal(t, "plan_e2e", detail["active_plan_id"])
	usage, _ := detail["usage"].(map[string]any)
	require.NotNil(t, usage)
	promptTokens, _ := usage["prompt_tokens"].(float64)
	assert.Greater(t, promptTokens, float64(0))

	// The journal-form event log shows the whole run.
	envelopes := app.Events(t, id)
	for _, kind := range []string{"message", "create_plan", "assign_task", "cmd_run", "cmd_output", "finish"} {
		assert.NotEmpty(t, EventsOfKind(envelopes, kind), "no %s event in log", kind)
	}
	assert.Len(t, EventsOfKind(envelopes, "create_plan"), 1)
	assert.Len(t, EventsOfKind(envelopes, "finish"), 2, "delegate and planner each finish once")

	// Plan endpoint reports the completed single-step plan.
	planResp := app.getJSON(t, "/api/v1/conversations/"+id+"/plan", http.StatusOK)
	assert.Equal(t, float64(1), planResp["completed_steps"])
	assert.Equal(t, float64(1), planResp["total_steps"])
	assert.NotEmpty(t, planResp["rendered"])
	planBody, _ := planResp["plan"].(map[string]any)
	require.NotNil(t, planBody)
	assert.Equal(t, "plan_e2e", planBody["plan_id"])

	// Trajectory export round-trips as an envelope array of the same run.
	trajectory := app.getJSONArray(t, "/api/v1/conversations/"+id+"/trajectory", http.StatusOK)
	assert.Len(t, trajectory, len(envelopes))
	assert.Equal(t, "message", trajectory[0]["action"])

	// The WebSocket feed delivered the run too, catchup and live combined.
	_, err = ws.WaitForKind("finish", 10*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, ws.MessagesOfKind("cmd_run"))

	// Listing carries the persisted record once the state watcher synced.
	require.Eventually(t, func() bool {
		for _, rec := range app.getJSONArray(t, "/api/v1/conversations", http.StatusOK) {
			if rec["conversation_id"] == id && rec["status"] == "completed" {
				return true
			}
		}
		return false
	}, 15*time.Second, 100*time.Millisecond)
}

// Closing a conversation over DELETE evicts the live session but keeps the
// journal and the persisted record readable, including the trajectory.
func TestDeleteKeepsHistoryReadable(t *testing.T) {
	llm := scriptedLLM(t, finishResponse(t, "call_1", "Nothing to do."))
	app := NewTestApp(t, WithLLM(llm.URL))

	id := app.CreateConversation(t, "just finish")
	app.WaitForAgentState(t, id, "finished")
	liveEvents := app.Events(t, id)

	resp := app.deleteConversation(t, id)
	assert.Equal(t, "Conversation closed", resp["message"])

	// Deleting again is a 404: the live session is gone.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete,
		app.BaseURL+"/api/v1/conversations/"+id, nil)
	require.NoError(t, err)
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, httpResp.StatusCode)

	// Detail now serves the persisted record.
	detail := app.GetConversation(t, id)
	assert.Equal(t, false, detail["live"])
	assert.Equal(t, "completed", detail["status"])
	assert.Equal(t, "Nothing to do.", detail["final_thought"])

	// Events and trajectory fall back to the journal, byte-compatible with
	// what the live stream served.
	journaled := app.Events(t, id)
	assert.Equal(t, len(liveEvents), len(journaled))
	trajectory := app.getJSONArray(t, "/api/v1/conversations/"+id+"/trajectory", http.StatusOK)
	assert.Len(t, trajectory, len(journaled))
}

// A follow-up message to a finished planner starts the next task on the same
// conversation.
func TestFollowUpMessageResumesConversation(t *testing.T) {
	llm := scriptedLLM(t,
		finishResponse(t, "call_1", "First request done."),
		finishResponse(t, "call_2", "Second request done."),
	)
	app := NewTestApp(t, WithLLM(llm.URL))

	id := app.CreateConversation(t, "do the first thing")
	app.WaitForAgentState(t, id, "finished")
	firstFinishes := len(EventsOfKind(app.Events(t, id), "finish"))

	app.SendMessage(t, id, "now do the second thing")

	require.Eventually(t, func() bool {
		envelopes := app.Events(t, id)
		return len(EventsOfKind(envelopes, "finish")) > firstFinishes &&
			app.GetConversation(t, id)["agent_state"] == "finished"
	}, 30*time.Second, 100*time.Millisecond)

	// Both user messages are in the log.
	var userMessages int
	for _, env := range EventsOfKind(app.Events(t, id), "message") {
		if env["source"] == "user" {
			if args, ok := env["args"].(map[string]any); ok {
				if c, _ := args["content"].(string); c == "do the first thing" || c == "now do the second thing" {
					userMessages++
				}
			}
		}
	}
	assert.Equal(t, 2, userMessages)
}

// The ingest endpoint rejects bodies that are not observation envelopes.
func TestIngestRejectsNonObservations(t *testing.T) {
	app := NewTestApp(t, WithLLM(stallLLM(t).URL))
	id := app.CreateConversation(t, "sit idle")

	status := app.postJSONStatus(t, "/api/v1/conversations/"+id+"/observations",
		map[string]any{"action": "message", "args": map[string]any{"content": "not an observation"}})
	assert.Equal(t, http.StatusBadRequest, status)

	var garbage json.RawMessage = []byte(`{"neither":"kind"}`)
	status = app.postJSONStatus(t, "/api/v1/conversations/"+id+"/observations", garbage)
	assert.Equal(t, http.StatusBadRequest, status)
}
