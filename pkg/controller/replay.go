package controller

import (
	"log/slog"
	"sort"

	"github.com/DistilledAI/conductor/pkg/events"
)

// ReplayManager substitutes recorded agent actions for LLM calls, so a
// saved trajectory re-runs deterministically. Environment events, state
// changes, and user messages are not replayed; they re-emerge as the
// replayed actions drive the session forward.
type ReplayManager struct {
	actions []events.Action
	index   int
	logger  *slog.Logger
}

// NewReplayManager filters recorded to the replayable agent actions, in id
// order. An empty or nil recording yields a manager that never replays.
func NewReplayManager(sessionID string, recorded []events.Event) *ReplayManager {
	var actions []events.Action
	for _, ev := range recorded {
		if replayable(ev) {
			actions = append(actions, ev.(events.Action))
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Meta().ID < actions[j].Meta().ID
	})

	m := &ReplayManager{actions: actions, logger: slog.With("session_id", sessionID)}
	if len(actions) > 0 {
		m.logger.Info("Replay mode enabled", "replayable_actions", len(actions))
	}
	return m
}

// replayable keeps agent-sourced actions; state changes and placeholders
// are controller side effects, not agent decisions.
func replayable(ev events.Event) bool {
	switch ev.(type) {
	case *events.ChangeAgentStateAction, *events.NullAction:
		return false
	}
	if _, ok := ev.(events.Action); !ok {
		return false
	}
	return ev.Meta().Source == events.SourceAgent
}

// ShouldReplay reports whether an unconsumed recorded action remains.
func (m *ReplayManager) ShouldReplay() bool {
	return m.index < len(m.actions)
}

// Step returns the next recorded action. Callers must check ShouldReplay
// first.
func (m *ReplayManager) Step() events.Action {
	action := m.actions[m.index]
	m.index++
	m.logger.Info("Replaying recorded action",
		"position", m.index, "total", len(m.actions), "kind", action.Kind())
	return action
}
