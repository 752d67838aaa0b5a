package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/controller"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/session"
)

// getEvents fetches and decodes the events feed with an optional query.
func getEvents(t *testing.T, s *Server, id, query string) EventsResponse {
	t.Helper()
	path := "/api/v1/conversations/" + id + "/events"
	if query != "" {
		path += "?" + query
	}
	rec := doRequest(t, s, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var resp EventsResponse
	decodeBody(t, rec, &resp)
	return resp
}

// decodeEvents parses raw feed envelopes back into events.
func decodeEvents(t *testing.T, raw []json.RawMessage) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, len(raw))
	for _, entry := range raw {
		ev, err := events.Unmarshal(entry)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

// waitForEventOfKind polls the feed until the conversation has published at
// least one event of the kind, returning the latest.
func waitForEventOfKind(t *testing.T, s *Server, id string, kind events.Kind) events.Event {
	t.Helper()
	var found events.Event
	require.Eventually(t, func() bool {
		resp := getEvents(t, s, id, "types="+string(kind))
		if resp.Count == 0 {
			return false
		}
		found = decodeEvents(t, resp.Events)[resp.Count-1]
		return true
	}, 20*time.Second, 25*time.Millisecond, "no %s event appeared", kind)
	return found
}

// ingestCmdOutput reports a command result the way an external runtime
// would: a journal-form envelope cause-linked to the action.
func ingestCmdOutput(t *testing.T, s *Server, id string, act events.Event, output string) {
	t.Helper()
	obs := &events.CmdOutputObservation{Content: output, ExitCode: 0}
	obs.Meta().Cause = act.Meta().ID
	obs.Meta().ToolCall = act.Meta().ToolCall
	data, err := events.Marshal(obs)
	require.NoError(t, err)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/observations", data)
	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
}

func TestEventsFeedFiltersAndOrders(t *testing.T) {
	s := newTestServer(t, 1, finishResponse(t, "call_fin", "Done."))

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "quick task"})
	waitForAgentState(t, s, id, string(controller.StateFinished))

	full := getEvents(t, s, id, "")
	require.Positive(t, full.Count)
	all := decodeEvents(t, full.Events)
	assert.Equal(t, events.KindMessage, all[0].Kind())

	// Include filter keeps only the requested kinds.
	messages := getEvents(t, s, id, "types=message")
	require.Positive(t, messages.Count)
	for _, ev := range decodeEvents(t, messages.Events) {
		assert.Equal(t, events.KindMessage, ev.Kind())
	}
	assert.Less(t, messages.Count, full.Count)

	// since_id is an exclusive lower bound.
	since := getEvents(t, s, id, "since_id=0")
	require.Positive(t, since.Count)
	assert.Equal(t, full.Count-1, since.Count)
	for _, ev := range decodeEvents(t, since.Events) {
		assert.Greater(t, ev.Meta().ID, 0)
	}

	// reverse returns newest first.
	reversed := getEvents(t, s, id, "reverse=true")
	revEvents := decodeEvents(t, reversed.Events)
	require.Equal(t, full.Count, reversed.Count)
	assert.Greater(t, revEvents[0].Meta().ID, revEvents[len(revEvents)-1].Meta().ID)

	// Parameter validation.
	rec := doRequest(t, s, http.MethodGet, "/api/v1/conversations/"+id+"/events?since_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, s, http.MethodGet, "/api/v1/conversations/"+id+"/events?reverse=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(t, s, http.MethodGet, "/api/v1/conversations/unknown/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanEndpoint(t *testing.T) {
	s := newTestServer(t, 1,
		chatResponse(t, "call_plan", "planning", map[string]any{
			"command": "create",
			"plan_id": "plan_1",
			"title":   "Check the disks",
			"steps":   []string{"Inspect disk usage"},
		}),
		finishResponse(t, "call_task", "Disks look healthy."),
		finishResponse(t, "call_fin", "All steps completed."),
	)

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "check disk space"})
	waitForAgentState(t, s, id, string(controller.StateFinished))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/conversations/"+id+"/plan", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp PlanResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "plan_1", resp.Plan.ID)
	assert.Equal(t, 1, resp.TotalSteps)
	assert.Equal(t, 1, resp.CompletedSteps)
	assert.Contains(t, resp.Rendered, "Check the disks")

	rec = doRequest(t, s, http.MethodGet, "/api/v1/conversations/unknown/plan", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrajectoryEndpointRoundTrips(t *testing.T) {
	s := newTestServer(t, 1, finishResponse(t, "call_fin", "Done."))

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "quick task"})
	waitForAgentState(t, s, id, string(controller.StateFinished))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/conversations/"+id+"/trajectory", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	evs, err := session.DecodeTrajectory(rec.Body.Bytes())
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.KindMessage, evs[0].Kind())

	full := getEvents(t, s, id, "")
	assert.Len(t, evs, full.Count)
}

func TestObservationIngestCompletesCommand(t *testing.T) {
	s := newTestServer(t, 1,
		chatResponse(t, "call_plan", "planning", map[string]any{
			"command": "create",
			"plan_id": "plan_1",
			"title":   "Disk check",
			"steps":   []string{"Check disk usage"},
		}),
		chatResponse(t, "call_bash", "execute_bash", map[string]any{"command": "df -h"}),
		finishResponse(t, "call_task", "Disk usage nominal."),
		finishResponse(t, "call_fin", "All tasks completed."),
	)

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "how full are the disks?"})

	// The control plane publishes the shell action but does not execute it;
	// the conversation sits on the pending action until a runtime answers.
	cmd := waitForEventOfKind(t, s, id, events.KindCmdRun)
	require.NotNil(t, cmd.Meta().ToolCall)

	ingestCmdOutput(t, s, id, cmd, "/dev/sda1  40% used")

	waitForAgentState(t, s, id, string(controller.StateFinished))

	outputs := getEvents(t, s, id, "types=cmd_output")
	require.Equal(t, 1, outputs.Count)
	obs := decodeEvents(t, outputs.Events)[0]
	assert.Equal(t, events.SourceEnvironment, obs.Meta().Source)
	assert.Equal(t, cmd.Meta().ID, obs.Meta().Cause)
}

func TestObservationIngestValidation(t *testing.T) {
	s := newTestServer(t, 1, finishResponse(t, "call_fin", "Done."))

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "quick task"})
	waitForAgentState(t, s, id, string(controller.StateFinished))

	// Garbage body.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/observations",
		[]byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An action envelope is not an observation.
	msg := &events.MessageAction{Content: "sneaky"}
	data, err := events.Marshal(msg)
	require.NoError(t, err)
	rec = doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/observations", data)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/conversations/unknown/observations",
		[]byte(`{"observation":"cmd_output"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmAcceptReleasesGatedCommand(t *testing.T) {
	s := newTestServer(t, 1,
		chatResponse(t, "call_plan", "planning", map[string]any{
			"command": "create",
			"plan_id": "plan_1",
			"title":   "Restart the service",
			"steps":   []string{"Restart nginx"},
		}),
		chatResponse(t, "call_bash", "execute_bash", map[string]any{"command": "systemctl restart nginx"}),
		finishResponse(t, "call_task", "Service restarted."),
		finishResponse(t, "call_fin", "All tasks completed."),
	)

	id := createConversation(t, s, CreateConversationRequest{
		InitialMessage:   "restart nginx please",
		ConfirmationMode: boolPtr(true),
	})

	waitForAgentState(t, s, id, string(controller.StateAwaitingUserConfirmation))

	rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/confirm",
		ConfirmRequest{Accept: boolPtr(true)})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var confirm ConfirmResponse
	decodeBody(t, rec, &confirm)
	assert.Equal(t, string(controller.StateUserConfirmed), confirm.Decision)

	// The confirmed clone is republished with a fresh id; answer that one.
	var confirmed events.Event
	require.Eventually(t, func() bool {
		resp := getEvents(t, s, id, "types=cmd_run")
		for _, ev := range decodeEvents(t, resp.Events) {
			if ev.Meta().Confirmation == events.ConfirmationConfirmed {
				confirmed = ev
				return true
			}
		}
		return false
	}, 20*time.Second, 25*time.Millisecond, "confirmed command never republished")

	ingestCmdOutput(t, s, id, confirmed, "nginx restarted")

	waitForAgentState(t, s, id, string(controller.StateFinished))
}
