package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// chatResponse renders one chat completion whose single choice carries the
// given tool call, in the wire shape the OpenAI client expects.
func chatResponse(t *testing.T, callID, toolName string, args map[string]any) string {
	t.Helper()
	argJSON, err := json.Marshal(args)
	require.NoError(t, err)
	body := map[string]any{
		"id":      "chatcmpl-" + callID,
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{{
					"id":   callID,
					"type": "function",
					"function": map[string]any{
						"name":      toolName,
						"arguments": string(argJSON),
					},
				}},
			},
		}},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 6,
			"total_tokens":      18,
		},
	}
	out, err := json.Marshal(body)
	require.NoError(t, err)
	return string(out)
}

func finishResponse(t *testing.T, callID, message string) string {
	return chatResponse(t, callID, "finish",
		map[string]any{"message": message, "task_completed": true})
}

func bashResponse(t *testing.T, callID, command string) string {
	return chatResponse(t, callID, "execute_bash", map[string]any{"command": command})
}

// planCreateResponse renders the planner's create call on the planning tool.
func planCreateResponse(t *testing.T, callID, planID, title string, steps ...string) string {
	return chatResponse(t, callID, "planning", map[string]any{
		"command": "create",
		"plan_id": planID,
		"title":   title,
		"steps":   steps,
	})
}

// scriptedLLM serves the queued completions in request order; once drained
// it keeps serving the last one. Planner and delegates share the server, so
// entries follow the conversation's chronological call order.
func scriptedLLM(t *testing.T, responses ...string) *httptest.Server {
	t.Helper()
	require.NotEmpty(t, responses)
	var mu sync.Mutex
	next := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[len(responses)-1]
		if next < len(responses) {
			resp = responses[next]
			next++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// stallLLM never answers; requests sit until their context is cancelled.
func stallLLM(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}
