// Package hub implements the Function Hub client: discovery of extra tools
// for the current task via search-and-rerank, and execution of a discovered
// function by its external id. Discovery failures are soft by contract, a
// step that cannot reach the hub just runs with built-in tools.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DistilledAI/conductor/pkg/tools"
	"github.com/DistilledAI/conductor/pkg/version"
)

const (
	defaultTimeout = 5 * time.Second

	// Search breadth before and after reranking.
	topKSearch   = 20
	topKReranked = 5

	searchCacheSize = 128
)

// Client talks to one Function Hub deployment on behalf of one wallet.
type Client struct {
	baseURL    string
	wallet     string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// searchCache memoises successful non-empty searches; plan state and
	// current step repeat across consecutive iterations of the same task.
	searchCache *lru.Cache[string, []tools.Definition]
}

// NewClient creates a hub client. A non-positive timeout selects the default.
func NewClient(baseURL, wallet, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cache, _ := lru.New[string, []tools.Definition](searchCacheSize)
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		wallet:      wallet,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      slog.Default(),
		searchCache: cache,
	}
}

type searchRequest struct {
	Wallet        string `json:"wallet"`
	SearchQuery   string `json:"search_query"`
	RerankerQuery string `json:"reranker_query"`
	TopKSearch    int    `json:"top_k_search"`
	TopKReranked  int    `json:"top_k_reranked"`
}

type searchResponse struct {
	Results []struct {
		Entity struct {
			FunctionID       string `json:"function_id"`
			FunctionMetadata struct {
				Function *struct {
					Name        string         `json:"name"`
					Description string         `json:"description"`
					Parameters  map[string]any `json:"parameters"`
				} `json:"function"`
			} `json:"function_metadata"`
		} `json:"entity"`
	} `json:"results"`
}

// SearchTools finds hub functions matching the current plan state and step.
// Any failure returns an empty slice; callers proceed with built-ins only.
func (c *Client) SearchTools(ctx context.Context, searchQuery, rerankQuery string) []tools.Definition {
	cacheKey := searchQuery + "\x00" + rerankQuery
	if defs, ok := c.searchCache.Get(cacheKey); ok {
		return defs
	}

	payload := searchRequest{
		Wallet:        c.wallet,
		SearchQuery:   searchQuery,
		RerankerQuery: rerankQuery,
		TopKSearch:    topKSearch,
		TopKReranked:  topKReranked,
	}

	resp, err := c.postJSON(ctx, "/v1/functions/search-function-and-rerank", payload)
	if err != nil {
		c.logger.Warn("Function Hub search failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("Function Hub search returned an error",
			"status", resp.StatusCode, "body", string(body))
		return nil
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warn("Function Hub search response unreadable", "error", err)
		return nil
	}

	var defs []tools.Definition
	for _, item := range parsed.Results {
		fn := item.Entity.FunctionMetadata.Function
		if fn == nil {
			continue
		}
		name := fn.Name
		if name == "" {
			name = fmt.Sprintf("function_%s", item.Entity.FunctionID)
		}
		defs = append(defs, tools.Definition{
			Name:        name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
			ExternalID:  item.Entity.FunctionID,
		})
	}

	if len(defs) > 0 {
		c.searchCache.Add(cacheKey, defs)
	}
	return defs
}

type executeRequest struct {
	Wallet     string         `json:"wallet"`
	FunctionID string         `json:"function_id"`
	Arguments  map[string]any `json:"arguments"`
}

// Execute runs a hub function and returns its raw typed responses. Transport
// and HTTP failures come back as a single error-typed response, so callers
// never branch on an error return.
func (c *Client) Execute(ctx context.Context, externalID string, args map[string]any) []Response {
	payload := executeRequest{
		Wallet:     c.wallet,
		FunctionID: externalID,
		Arguments:  args,
	}

	resp, err := c.postJSON(ctx, "/v1/functions/execute-function", payload)
	if err != nil {
		c.logger.Error("Function Hub execute failed", "function_id", externalID, "error", err)
		return []Response{{
			Type:        TypeError,
			Content:     err.Error(),
			Description: "Failed to execute function",
		}}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("Function Hub execute response unreadable", "function_id", externalID, "error", err)
		return []Response{{
			Type:        TypeError,
			Content:     err.Error(),
			Description: "Failed to execute function",
		}}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Function Hub execute returned an error",
			"function_id", externalID, "status", resp.StatusCode, "body", string(body))
		return []Response{{
			Type:        TypeError,
			Content:     fmt.Sprintf("Error %d: %s", resp.StatusCode, string(body)),
			Description: "Failed to execute function",
		}}
	}

	return decodeResponses(body)
}

// Run executes a hub function and flattens the responses into one result.
func (c *Client) Run(ctx context.Context, externalID string, args map[string]any) Result {
	return Flatten(externalID, c.Execute(ctx, externalID, args))
}

// decodeResponses accepts a single response object, an array of them, or any
// other JSON value, which is wrapped as plain text.
func decodeResponses(body []byte) []Response {
	var list []Response
	if err := json.Unmarshal(body, &list); err == nil {
		return list
	}

	var single Response
	if err := json.Unmarshal(body, &single); err == nil {
		return []Response{single}
	}

	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return []Response{{
			Type:        TypeText,
			Content:     fmt.Sprintf("%v", v),
			Description: "Unknown response format",
		}}
	}
	return []Response{{
		Type:        TypeText,
		Content:     string(body),
		Description: "Unknown response format",
	}}
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	req.Header.Set("X-API-KEY", c.apiKey)

	return c.httpClient.Do(req)
}
