// Package e2e boots a complete conductor instance — PostgreSQL journal,
// LISTEN/NOTIFY fan-out, session manager, HTTP and WebSocket API — against a
// scripted LLM, and drives it the way external clients do.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/api"
	"github.com/DistilledAI/conductor/pkg/config"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/session"
	"github.com/DistilledAI/conductor/test/util"
)

// TestApp is one running conductor instance bound to an ephemeral port.
type TestApp struct {
	Config      *config.Config
	Pool        *pgxpool.Pool
	Journal     *events.Journal
	ConnManager *events.ConnectionManager
	Listener    *events.NotifyListener
	Manager     *session.Manager
	Server      *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321/ws"

	t *testing.T
}

// testAppConfig holds options accumulated before booting the app.
type testAppConfig struct {
	llmURL           string
	maxConcurrent    int
	maxIterations    int
	confirmationMode bool
	sessionTimeout   time.Duration
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithLLM points the app at a (usually scripted) chat completion server.
func WithLLM(url string) TestAppOption {
	return func(c *testAppConfig) { c.llmURL = url }
}

// WithMaxConcurrent caps simultaneously live conversations.
func WithMaxConcurrent(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxConcurrent = n }
}

// WithMaxIterations sets the default per-task iteration limit.
func WithMaxIterations(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxIterations = n }
}

// WithConfirmationMode gates shell and code actions behind user approval.
func WithConfirmationMode() TestAppOption {
	return func(c *testAppConfig) { c.confirmationMode = true }
}

// WithSessionTimeout bounds conversation lifetimes.
func WithSessionTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.sessionTimeout = d }
}

// NewTestApp boots a full conductor instance the way the serve command does:
// migrated database, journal, NOTIFY listener, connection manager, session
// manager and HTTP server. Shutdown is registered via t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := &testAppConfig{
		maxConcurrent:  4,
		maxIterations:  20,
		sessionTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.llmURL == "" {
		tc.llmURL = stallLLM(t).URL
	}
	cfg := testServerConfig(tc)

	// Database with migrations applied; the extra connection string feeds
	// the listener's dedicated LISTEN connection.
	pool, connStr := util.SetupTestDatabaseWithConnString(t)

	journal := events.NewJournal(pool)
	connManager := events.NewConnectionManager(journal, 5*time.Second)

	listener := events.NewNotifyListener(connStr, connManager)
	ctx := context.Background()
	require.NoError(t, listener.Start(ctx))

	manager := session.NewManager(cfg, pool, journal)
	server := api.NewServer(cfg, manager, pool, journal, connManager)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Config:      cfg,
		Pool:        pool,
		Journal:     journal,
		ConnManager: connManager,
		Listener:    listener,
		Manager:     manager,
		Server:      server,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		WSURL:       fmt.Sprintf("ws://%s/ws", addr),
		t:           t,
	}

	// Teardown in reverse-creation order; the pool is closed by SetupTestDatabase.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		manager.Shutdown(shutdownCtx)
		_ = server.Shutdown(shutdownCtx)
		listener.Stop(context.Background())
	})

	return app
}

func testServerConfig(tc *testAppConfig) *config.Config {
	return &config.Config{
		Server: &config.ServerConfig{Host: "127.0.0.1", Port: 0},
		LLM: &config.LLMConfig{
			Model:     "gpt-4o",
			BaseURL:   tc.llmURL,
			APIKeyEnv: "CONDUCTOR_TEST_LLM_KEY",
			Timeout:   15 * time.Second,
		},
		FunctionHub: &config.FunctionHubConfig{
			URL:     "http://127.0.0.1:1",
			Timeout: time.Second,
		},
		Agent: &config.AgentConfig{
			EnableBrowsing:          true,
			EnableJupyter:           true,
			EnableHistoryTruncation: true,
			MaxMessageChars:         30000,
		},
		Session: &config.SessionConfig{
			MaxConcurrent:           tc.maxConcurrent,
			MaxIterations:           tc.maxIterations,
			ConfirmationMode:        tc.confirmationMode,
			SessionTimeout:          tc.sessionTimeout,
			GracefulShutdownTimeout: 10 * time.Second,
		},
	}
}

// CreateConversation posts an initial message and returns the conversation id.
func (app *TestApp) CreateConversation(t *testing.T, message string) string {
	t.Helper()
	resp := app.postJSON(t, "/api/v1/conversations",
		map[string]any{"initial_message": message}, http.StatusCreated)
	id, _ := resp["conversation_id"].(string)
	require.NotEmpty(t, id, "create response carries no conversation_id")
	return id
}

// SendMessage posts a follow-up message to a live conversation.
func (app *TestApp) SendMessage(t *testing.T, id, content string) {
	t.Helper()
	app.postJSON(t, "/api/v1/conversations/"+id+"/messages",
		map[string]any{"content": content}, http.StatusAccepted)
}

// Confirm resolves a pending confirmation gate.
func (app *TestApp) Confirm(t *testing.T, id string, accept bool) map[string]any {
	t.Helper()
	return app.postJSON(t, "/api/v1/conversations/"+id+"/confirm",
		map[string]any{"accept": accept}, http.StatusOK)
}

// GetConversation fetches the status snapshot.
func (app *TestApp) GetConversation(t *testing.T, id string) map[string]any {
	t.Helper()
	return app.getJSON(t, "/api/v1/conversations/"+id, http.StatusOK)
}

// WaitForAgentState polls the status endpoint until the conversation reports
// the wanted agent state.
func (app *TestApp) WaitForAgentState(t *testing.T, id, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return app.GetConversation(t, id)["agent_state"] == state
	}, 30*time.Second, 50*time.Millisecond, "conversation %s never reached %s", id, state)
}

// Events fetches the journal-form event envelopes of a conversation.
func (app *TestApp) Events(t *testing.T, id string) []map[string]any {
	t.Helper()
	resp := app.getJSON(t, "/api/v1/conversations/"+id+"/events", http.StatusOK)
	raw, _ := resp["events"].([]any)
	envelopes := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if env, ok := entry.(map[string]any); ok {
			envelopes = append(envelopes, env)
		}
	}
	return envelopes
}

// EventsOfKind filters envelopes whose action or observation kind matches.
func EventsOfKind(envelopes []map[string]any, kind string) []map[string]any {
	var out []map[string]any
	for _, env := range envelopes {
		if env["action"] == kind || env["observation"] == kind {
			out = append(out, env)
		}
	}
	return out
}

// WaitForEvent polls the events endpoint until an envelope matches the
// predicate, and returns the latest match. what names the expectation in the
// failure message.
func (app *TestApp) WaitForEvent(t *testing.T, id string, match func(map[string]any) bool, what string) map[string]any {
	t.Helper()
	var found map[string]any
	require.Eventually(t, func() bool {
		for _, env := range app.Events(t, id) {
			if match(env) {
				found = env
			}
		}
		return found != nil
	}, 30*time.Second, 50*time.Millisecond, "conversation %s never published %s", id, what)
	return found
}

// WaitForEventKind waits for an envelope of the kind and returns the latest.
func (app *TestApp) WaitForEventKind(t *testing.T, id, kind string) map[string]any {
	t.Helper()
	return app.WaitForEvent(t, id, func(env map[string]any) bool {
		return env["action"] == kind || env["observation"] == kind
	}, "a "+kind+" event")
}

// IngestCmdOutput plays the external runtime: it answers an executed shell
// action with its output, cause-linked through the action's envelope.
func (app *TestApp) IngestCmdOutput(t *testing.T, id string, action map[string]any, content string, exitCode int) {
	t.Helper()
	args, _ := action["args"].(map[string]any)
	command, _ := args["command"].(string)
	envelope := map[string]any{
		"observation":        "cmd_output",
		"cause":              action["id"],
		"tool_call_metadata": action["tool_call_metadata"],
		"args": map[string]any{
			"content":   content,
			"command":   command,
			"exit_code": exitCode,
		},
	}
	app.postJSON(t, "/api/v1/conversations/"+id+"/observations", envelope, http.StatusAccepted)
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// postJSONStatus posts and returns only the status code, for tests that
// expect a refusal.
func (app *TestApp) postJSONStatus(t *testing.T, path string, body any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// getJSONArray fetches endpoints that return a bare JSON array, like the
// conversation listing and the trajectory export.
func (app *TestApp) getJSONArray(t *testing.T, path string, expectedStatus int) []map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// deleteConversation calls DELETE /api/v1/conversations/:id.
func (app *TestApp) deleteConversation(t *testing.T, id string) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, app.BaseURL+"/api/v1/conversations/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "DELETE %s: unexpected status", id)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}
