// Package llm provides the completion client used by agents: an
// OpenAI-compatible chat adapter with retry, transport error
// classification, and cost/token accounting.
package llm

import (
	"context"
	"time"

	"github.com/DistilledAI/conductor/pkg/tools"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one chat message in provider-neutral form.
type Message struct {
	Role        Role
	Content     string
	ImageURLs   []string   // user messages only
	ToolCalls   []ToolCall // assistant messages that invoked tools
	ToolCallID  string     // tool results: the call being answered
	Name        string     // tool results: the function that produced it
	CachePrompt bool       // prompt-cache anchor
}

// Request is a single completion call.
type Request struct {
	Messages []Message
	Tools    []tools.Definition
	// Metadata is forwarded as the request-level metadata object so the
	// proxy can attribute the call (agent_name, session_id).
	Metadata map[string]any
}

// Usage is the token accounting of one completion response.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CacheReadTokens  int64
}

// Response is the first choice of a completion.
type Response struct {
	ID           string
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Completer is the completion interface agents depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config holds the connection and accounting settings for one model.
type Config struct {
	Model           string
	BaseURL         string
	APIKey          string
	Temperature     float64
	MaxOutputTokens int64
	Timeout         time.Duration
	Retry           RetryPolicy

	// CachingPrompt enables prompt-cache breakpoints on messages the
	// conversation layer marked as anchors.
	CachingPrompt bool

	// Per-token rates used to accumulate cost; zero disables costing.
	InputCostPerToken  float64
	OutputCostPerToken float64
}
