package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.GreaterOrEqual(t, CountTokens("hello world, this is a test"), 1)

	long := strings.Repeat("word ", 100)
	assert.GreaterOrEqual(t, CountTokens(long), 50)
}

func TestEstimateUsage(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a task automation agent."},
		{Role: RoleUser, Content: "Generate a weekly revenue report."},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "planning", Arguments: `{"command":"list"}`},
		}},
	}
	u := EstimateUsage(messages, "The report is ready.")
	assert.Greater(t, u.PromptTokens, int64(0))
	assert.Greater(t, u.CompletionTokens, int64(0))
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
}

func TestEstimateUsageEmptyCompletion(t *testing.T) {
	u := EstimateUsage([]Message{{Role: RoleUser, Content: "hi"}}, "")
	assert.Greater(t, u.PromptTokens, int64(0))
	assert.Equal(t, int64(0), u.CompletionTokens)
	assert.Equal(t, u.PromptTokens, u.TotalTokens)
}
