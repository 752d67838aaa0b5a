package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/DistilledAI/conductor/pkg/tools"
)

const defaultRequestTimeout = 2 * time.Minute

// OpenAI is a chat-completions client for any endpoint speaking the
// OpenAI wire format, including LiteLLM-style proxies. Each instance
// accumulates its own metrics, so delegates get their own client and the
// parent merges their spend on completion.
type OpenAI struct {
	cfg     Config
	client  openai.Client
	metrics *Metrics
	logger  *slog.Logger
}

// NewOpenAI builds a client from cfg. SDK-level retries are disabled;
// cfg.Retry governs retries so classification happens exactly once.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		cfg:     cfg,
		client:  openai.NewClient(opts...),
		metrics: NewMetrics(),
		logger:  slog.With("llm_model", cfg.Model),
	}
}

// Metrics returns the accumulated usage for this client instance.
func (c *OpenAI) Metrics() *Metrics { return c.metrics }

// Complete performs one chat completion, retrying retryable transport
// failures per the configured policy.
func (c *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	params, opts := c.buildParams(req)
	var resp *Response
	err := Do(ctx, c.cfg.Retry, func() error {
		raw, err := c.client.Chat.Completions.New(ctx, params, opts...)
		if err != nil {
			return classify(err)
		}
		translated, err := c.translate(req, raw)
		if err != nil {
			return err
		}
		resp = translated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *OpenAI) buildParams(req Request) (openai.ChatCompletionNewParams, []option.RequestOption) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	var cacheAnchors []int
	for i, m := range req.Messages {
		messages = append(messages, encodeMessage(m))
		if c.cfg.CachingPrompt && m.CachePrompt {
			cacheAnchors = append(cacheAnchors, i)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    messages,
		Temperature: openai.Float(c.cfg.Temperature),
	}
	if c.cfg.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(c.cfg.MaxOutputTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	var opts []option.RequestOption
	if len(req.Metadata) > 0 {
		opts = append(opts, option.WithJSONSet("metadata", req.Metadata))
	}
	// cache_control lives on the serialized message object, which the
	// typed params cannot express.
	for _, i := range cacheAnchors {
		opts = append(opts, option.WithJSONSet(
			fmt.Sprintf("messages.%d.cache_control", i),
			map[string]string{"type": "ephemeral"}))
	}
	return params, opts
}

func encodeMessage(m Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case RoleSystem:
		return openai.SystemMessage(m.Content)
	case RoleTool:
		return openai.ChatCompletionMessageParamUnion{
			OfTool: &openai.ChatCompletionToolMessageParam{
				ToolCallID: m.ToolCallID,
				Content: openai.ChatCompletionToolMessageParamContentUnion{
					OfString: openai.String(m.Content),
				},
			},
		}
	case RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return openai.AssistantMessage(m.Content)
		}
		calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			}
		}
		assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
		if m.Content != "" {
			assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(m.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: assistant}
	default:
		if len(m.ImageURLs) == 0 {
			return openai.UserMessage(m.Content)
		}
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.ImageURLs)+1)
		if m.Content != "" {
			parts = append(parts, openai.TextContentPart(m.Content))
		}
		for _, url := range m.ImageURLs {
			parts = append(parts, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
		return openai.UserMessage(parts)
	}
}

func encodeTools(defs []tools.Definition) []openai.ChatCompletionToolParam {
	encoded := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		fn := openai.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		if def.Parameters != nil {
			fn.Parameters = openai.FunctionParameters(def.Parameters)
		}
		encoded[i] = openai.ChatCompletionToolParam{Function: fn}
	}
	return encoded
}

func (c *OpenAI) translate(req Request, raw *openai.ChatCompletion) (*Response, error) {
	if len(raw.Choices) == 0 {
		return nil, &TransportError{Kind: KindInternalServer, Message: "completion returned no choices"}
	}
	choice := raw.Choices[0]
	resp := &Response{
		ID:           raw.ID,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
			CacheReadTokens:  raw.Usage.PromptTokensDetails.CachedTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = EstimateUsage(req.Messages, resp.Content)
	}

	cost := float64(resp.Usage.PromptTokens)*c.cfg.InputCostPerToken +
		float64(resp.Usage.CompletionTokens)*c.cfg.OutputCostPerToken
	c.metrics.AddUsage(resp.Usage, cost)
	c.logger.Debug("LLM completion",
		"response_id", resp.ID,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"cache_read_tokens", resp.Usage.CacheReadTokens,
		"tool_calls", len(resp.ToolCalls),
		"cost", cost)
	return resp, nil
}

// classify maps an SDK or network error onto the llm error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apierr *openai.Error
	hasAPIErr := errors.As(err, &apierr)

	text := strings.ToLower(err.Error())
	if hasAPIErr {
		text += " " + strings.ToLower(apierr.Message)
	}
	for _, marker := range overflowMarkers {
		if strings.Contains(text, marker) {
			return &ContextWindowExceededError{Err: err}
		}
	}

	if hasAPIErr {
		msg := apierr.Message
		if msg == "" {
			msg = err.Error()
		}
		return &TransportError{
			Kind:    kindForStatus(apierr.StatusCode),
			Status:  apierr.StatusCode,
			Message: msg,
			Err:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	return &TransportError{Kind: KindConnection, Message: err.Error(), Err: err}
}

func kindForStatus(status int) TransportKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthentication
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusInternalServerError:
		return KindInternalServer
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindServiceUnavailable
	}
	if status >= 500 {
		return KindInternalServer
	}
	return KindBadRequest
}
