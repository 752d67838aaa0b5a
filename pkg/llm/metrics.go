package llm

import "sync"

// MetricsSnapshot is a point-in-time copy of accumulated usage.
type MetricsSnapshot struct {
	AccumulatedCost  float64 `json:"accumulated_cost"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	Calls            int     `json:"calls"`
}

// Metrics accumulates cost and token usage across completion calls.
// Safe for concurrent use.
type Metrics struct {
	mu               sync.Mutex
	accumulatedCost  float64
	promptTokens     int64
	completionTokens int64
	cacheReadTokens  int64
	calls            int
}

func NewMetrics() *Metrics { return &Metrics{} }

// AddUsage records one response's usage and its computed cost.
func (m *Metrics) AddUsage(u Usage, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accumulatedCost += cost
	m.promptTokens += u.PromptTokens
	m.completionTokens += u.CompletionTokens
	m.cacheReadTokens += u.CacheReadTokens
	m.calls++
}

// Merge folds a snapshot of another client's usage into m. Used when a
// delegate finishes and its spend counts against the parent budget.
func (m *Metrics) Merge(other MetricsSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accumulatedCost += other.AccumulatedCost
	m.promptTokens += other.PromptTokens
	m.completionTokens += other.CompletionTokens
	m.cacheReadTokens += other.CacheReadTokens
	m.calls += other.Calls
}

// Snapshot returns a copy of the accumulated usage.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		AccumulatedCost:  m.accumulatedCost,
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		CacheReadTokens:  m.cacheReadTokens,
		Calls:            m.calls,
	}
}

// Cost returns the accumulated cost.
func (m *Metrics) Cost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accumulatedCost
}
