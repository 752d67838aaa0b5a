package llm

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// getEncoding lazily loads the cl100k_base encoding. It stays nil when
// the vocabulary cannot be fetched, and callers fall back to a heuristic.
func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using heuristic token estimates", "error", err)
			return
		}
		encoding = enc
	})
	return encoding
}

// CountTokens returns the cl100k_base token count of text, or
// max(runes/4, words) when the encoding is unavailable.
func CountTokens(text string) int {
	if enc := getEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// EstimateUsage approximates the token usage of one completion when the
// provider omits usage numbers.
func EstimateUsage(messages []Message, completion string) Usage {
	var prompt int
	for _, m := range messages {
		prompt += CountTokens(m.Content)
		for _, tc := range m.ToolCalls {
			prompt += CountTokens(tc.Name) + CountTokens(tc.Arguments)
		}
	}
	u := Usage{
		PromptTokens:     int64(prompt),
		CompletionTokens: int64(CountTokens(completion)),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}
