package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/controller"
)

func TestConversationLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, 2, finishResponse(t, "call_fin", "All wrapped up."))

	id := createConversation(t, s, CreateConversationRequest{
		InitialMessage: "Summarize the deployment status.",
	})

	detail := waitForAgentState(t, s, id, string(controller.StateFinished))
	assert.True(t, detail.Live)
	assert.Equal(t, "completed", detail.Status)
	assert.Positive(t, detail.Iteration)
	assert.NotEmpty(t, detail.ActivePlanID)
	assert.Positive(t, detail.LatestEventID)
	assert.NotNil(t, detail.CreatedAt)
	assert.Positive(t, detail.Usage.PromptTokens)

	// Terminal planners accept follow-up messages and run again.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/messages",
		SendMessageRequest{Content: "One more thing: check the cron jobs."})
	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())
	var accepted AcceptedResponse
	decodeBody(t, rec, &accepted)
	assert.Equal(t, id, accepted.ConversationID)

	resumed := waitForAgentState(t, s, id, string(controller.StateFinished))
	assert.Greater(t, resumed.Iteration, detail.Iteration)

	// Delete closes the live session; without a database nothing remains.
	rec = doRequest(t, s, http.MethodDelete, "/api/v1/conversations/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, s, http.MethodDelete, "/api/v1/conversations/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/messages",
		SendMessageRequest{Content: "anyone home?"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConversationAtCapacity(t *testing.T) {
	llmSrv := stallLLM(t)
	s := newTestServerWithLLM(t, llmSrv.URL, 1)

	first := createConversation(t, s, CreateConversationRequest{InitialMessage: "first"})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations",
		CreateConversationRequest{InitialMessage: "second"})
	require.Equal(t, http.StatusConflict, rec.Code, "body: %s", rec.Body.String())

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/conversations/"+first, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	createConversation(t, s, CreateConversationRequest{InitialMessage: "third"})
}

func TestConfirmEndpointValidation(t *testing.T) {
	s := newTestServer(t, 1, finishResponse(t, "call_fin", "Done."))

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "quick task"})
	waitForAgentState(t, s, id, string(controller.StateFinished))

	// Nothing is gated, so a confirm is a conflict.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/confirm",
		ConfirmRequest{Accept: boolPtr(true)})
	assert.Equal(t, http.StatusConflict, rec.Code, "body: %s", rec.Body.String())

	// Missing accept field fails binding.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/confirm",
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/conversations/unknown/confirm",
		ConfirmRequest{Accept: boolPtr(true)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t, 1, finishResponse(t, "call_fin", "Done."))

	id := createConversation(t, s, CreateConversationRequest{InitialMessage: "quick task"})
	waitForAgentState(t, s, id, string(controller.StateFinished))

	tests := []struct {
		name     string
		body     any
		wantCode int
	}{
		{
			name:     "missing content",
			body:     map[string]any{"image_urls": []string{"https://example.com/a.png"}},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "whitespace content",
			body:     SendMessageRequest{Content: "  \n "},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/v1/conversations/"+id+"/messages", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, "body: %s", rec.Body.String())
		})
	}
}

func boolPtr(b bool) *bool { return &b }
