package llm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAddUsage(t *testing.T) {
	m := NewMetrics()
	m.AddUsage(Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120, CacheReadTokens: 40}, 0.012)
	m.AddUsage(Usage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60}, 0.006)

	snap := m.Snapshot()
	assert.Equal(t, int64(150), snap.PromptTokens)
	assert.Equal(t, int64(30), snap.CompletionTokens)
	assert.Equal(t, int64(40), snap.CacheReadTokens)
	assert.Equal(t, 2, snap.Calls)
	assert.InDelta(t, 0.018, snap.AccumulatedCost, 1e-9)
	assert.InDelta(t, 0.018, m.Cost(), 1e-9)
}

func TestMetricsMerge(t *testing.T) {
	parent := NewMetrics()
	parent.AddUsage(Usage{PromptTokens: 10, CompletionTokens: 5}, 0.001)

	delegate := NewMetrics()
	delegate.AddUsage(Usage{PromptTokens: 200, CompletionTokens: 40, CacheReadTokens: 8}, 0.02)
	delegate.AddUsage(Usage{PromptTokens: 100, CompletionTokens: 30}, 0.01)

	parent.Merge(delegate.Snapshot())

	snap := parent.Snapshot()
	assert.Equal(t, int64(310), snap.PromptTokens)
	assert.Equal(t, int64(75), snap.CompletionTokens)
	assert.Equal(t, int64(8), snap.CacheReadTokens)
	assert.Equal(t, 3, snap.Calls)
	assert.InDelta(t, 0.031, snap.AccumulatedCost, 1e-9)
}

func TestMetricsSnapshotIsolated(t *testing.T) {
	m := NewMetrics()
	m.AddUsage(Usage{PromptTokens: 1}, 0)
	snap := m.Snapshot()
	m.AddUsage(Usage{PromptTokens: 1}, 0)
	assert.Equal(t, int64(1), snap.PromptTokens)
	assert.Equal(t, int64(2), m.Snapshot().PromptTokens)
}

func TestMetricsConcurrentAdd(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AddUsage(Usage{PromptTokens: 1, CompletionTokens: 1}, 0.001)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, 50, snap.Calls)
	assert.Equal(t, int64(50), snap.PromptTokens)
	assert.InDelta(t, 0.05, snap.AccumulatedCost, 1e-9)
}
