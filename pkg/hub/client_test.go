package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistilledAI/conductor/pkg/version"
)

const searchResultBody = `{
	"results": [
		{
			"entity": {
				"function_id": "fn-weather",
				"function_metadata": {
					"function": {
						"name": "weather_lookup",
						"description": "Look up the weather",
						"parameters": {"type": "object", "properties": {"city": {"type": "string"}}}
					}
				}
			}
		},
		{
			"entity": {
				"function_id": "fn-anon",
				"function_metadata": {
					"function": {"description": "No name given"}
				}
			}
		},
		{
			"entity": {
				"function_id": "fn-broken",
				"function_metadata": {}
			}
		}
	]
}`

func TestClient_SearchTools(t *testing.T) {
	var gotPath, gotAPIKey, gotUA string
	var gotBody searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-KEY")
		gotUA = r.Header.Get("User-Agent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchResultBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "0xwallet", "secret", time.Second)
	defs := c.SearchTools(context.Background(), "plan text", "current step")

	assert.Equal(t, "/v1/functions/search-function-and-rerank", gotPath)
	assert.Equal(t, "secret", gotAPIKey)
	assert.Equal(t, version.Full(), gotUA)
	assert.Equal(t, "0xwallet", gotBody.Wallet)
	assert.Equal(t, "plan text", gotBody.SearchQuery)
	assert.Equal(t, "current step", gotBody.RerankerQuery)
	assert.Equal(t, 20, gotBody.TopKSearch)
	assert.Equal(t, 5, gotBody.TopKReranked)

	// The entry without function metadata is skipped, the unnamed one gets a
	// synthesized name.
	require.Len(t, defs, 2)
	assert.Equal(t, "weather_lookup", defs[0].Name)
	assert.Equal(t, "fn-weather", defs[0].ExternalID)
	assert.Equal(t, "Look up the weather", defs[0].Description)
	assert.NotNil(t, defs[0].Parameters)
	assert.Equal(t, "function_fn-anon", defs[1].Name)
}

func TestClient_SearchToolsFailuresReturnEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	c := NewClient(srv.URL, "w", "k", time.Second)

	assert.Empty(t, c.SearchTools(context.Background(), "q", "r"))

	// Transport failure after the server goes away.
	srv.Close()
	assert.Empty(t, c.SearchTools(context.Background(), "q", "r"))
}

func TestClient_SearchToolsCachesNonEmptyResults(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(searchResultBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "w", "k", time.Second)
	first := c.SearchTools(context.Background(), "q", "r")
	second := c.SearchTools(context.Background(), "q", "r")

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, first, second)

	// A different query pair misses the cache.
	c.SearchTools(context.Background(), "q", "other")
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_SearchToolsDoesNotCacheEmptyResults(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "w", "k", time.Second)
	c.SearchTools(context.Background(), "q", "r")
	c.SearchTools(context.Background(), "q", "r")

	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Execute(t *testing.T) {
	var gotBody executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "/v1/functions/execute-function", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"type": "text", "content": "sunny", "description": "weather_lookup"},
			{"type": "image_url", "content": "https://cdn/map.png"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "0xwallet", "k", time.Second)
	responses := c.Execute(context.Background(), "fn-weather", map[string]any{"city": "Hanoi"})

	assert.Equal(t, "0xwallet", gotBody.Wallet)
	assert.Equal(t, "fn-weather", gotBody.FunctionID)
	assert.Equal(t, "Hanoi", gotBody.Arguments["city"])

	require.Len(t, responses, 2)
	assert.Equal(t, TypeText, responses[0].Type)
	assert.Equal(t, "sunny", responses[0].Content)
}

func TestClient_ExecuteSingleObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type": "text", "content": "just one"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "w", "k", time.Second)
	responses := c.Execute(context.Background(), "fn-1", nil)

	require.Len(t, responses, 1)
	assert.Equal(t, "just one", responses[0].Content)
}

func TestClient_ExecuteUnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"bare string"`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "w", "k", time.Second)
	responses := c.Execute(context.Background(), "fn-1", nil)

	require.Len(t, responses, 1)
	assert.Equal(t, TypeText, responses[0].Type)
	assert.Equal(t, "bare string", responses[0].Content)
	assert.Equal(t, "Unknown response format", responses[0].Description)
}

func TestClient_ExecuteHTTPErrorBecomesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "function exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "w", "k", time.Second)
	responses := c.Execute(context.Background(), "fn-1", nil)

	require.Len(t, responses, 1)
	assert.Equal(t, TypeError, responses[0].Type)
	assert.Contains(t, responses[0].Content, "Error 502:")
	assert.Contains(t, responses[0].Content, "function exploded")
	assert.Equal(t, "Failed to execute function", responses[0].Description)
}

func TestClient_Run(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"type": "text", "content": "report ready", "description": "report_builder"},
			{"type": "image_url", "content": "https://cdn/chart.png", "description": "revenue chart"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "w", "k", time.Second)
	result := c.Run(context.Background(), "fn-report", map[string]any{"quarter": "Q3"})

	assert.Equal(t, "fn-report", result.FunctionID)
	assert.Equal(t, "report_builder", result.FunctionName)
	assert.Equal(t, "report ready\n[Image: revenue chart]", result.Text)
	assert.Equal(t, []string{"https://cdn/chart.png"}, result.ImageURLs)
}
