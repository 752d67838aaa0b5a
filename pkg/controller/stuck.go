package controller

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DistilledAI/conductor/pkg/events"
)

// StuckDetector flags an agent that keeps repeating itself. It examines the
// history tail after the most recent user message, so a user breaking in
// always resets detection.
type StuckDetector struct {
	logger *slog.Logger
}

func NewStuckDetector(sessionID string) *StuckDetector {
	return &StuckDetector{logger: slog.With("session_id", sessionID)}
}

// IsStuck reports whether the tail of history shows one of the known loop
// shapes: three identical action/observation pairs in a row, four error
// observations with the same content, or a two-state a-b-a-b oscillation.
func (d *StuckDetector) IsStuck(history []events.Event) bool {
	pattern, stuck := d.detect(history)
	if stuck {
		d.logger.Warn("Agent detected as stuck", "pattern", pattern)
	}
	return stuck
}

func (d *StuckDetector) detect(history []events.Event) (string, bool) {
	tail := detectorTail(history)
	actions, observations := lastPairs(tail, 4)

	if repeatedTriple(actions) && repeatedTriple(observations) {
		return "repeating action/observation pair", true
	}
	if repeatedErrors(observations) {
		return "repeating error observation", true
	}
	if alternating(actions) && alternating(observations) {
		return "alternating action/observation pattern", true
	}
	return "", false
}

// detectorTail keeps the events after the last user message, dropping the
// null placeholders that answer recalls.
func detectorTail(history []events.Event) []events.Event {
	start := 0
	for i := len(history) - 1; i >= 0; i-- {
		if msg, ok := history[i].(*events.MessageAction); ok && msg.Source == events.SourceUser {
			start = i + 1
			break
		}
	}

	var tail []events.Event
	for _, ev := range history[start:] {
		switch ev.(type) {
		case *events.NullAction, *events.NullObservation:
			continue
		}
		tail = append(tail, ev)
	}
	return tail
}

// lastPairs collects up to n trailing actions and observations, newest
// first, wherever they sit in the tail.
func lastPairs(tail []events.Event, n int) (actions, observations []events.Event) {
	for i := len(tail) - 1; i >= 0; i-- {
		switch tail[i].(type) {
		case events.Action:
			if len(actions) < n {
				actions = append(actions, tail[i])
			}
		case events.Observation:
			if len(observations) < n {
				observations = append(observations, tail[i])
			}
		}
		if len(actions) == n && len(observations) == n {
			break
		}
	}
	return actions, observations
}

func repeatedTriple(evs []events.Event) bool {
	if len(evs) < 3 {
		return false
	}
	first := fingerprint(evs[0])
	return fingerprint(evs[1]) == first && fingerprint(evs[2]) == first
}

func repeatedErrors(observations []events.Event) bool {
	if len(observations) < 4 {
		return false
	}
	first, ok := observations[0].(*events.ErrorObservation)
	if !ok {
		return false
	}
	for _, ev := range observations[1:4] {
		errObs, ok := ev.(*events.ErrorObservation)
		if !ok || errObs.Content != first.Content {
			return false
		}
	}
	return true
}

func alternating(evs []events.Event) bool {
	if len(evs) < 4 {
		return false
	}
	a, b := fingerprint(evs[0]), fingerprint(evs[1])
	return a != b && fingerprint(evs[2]) == a && fingerprint(evs[3]) == b
}

// fingerprint is the equality key for loop detection: event kind plus the
// marshaled payload. Envelope fields (id, timestamp, cause) are excluded
// from payload marshaling, so two repeats of the same action compare equal.
// Command outputs compare by command and exit code only, since repeated
// runs embed varying pids and timestamps in their content.
func fingerprint(ev events.Event) string {
	if out, ok := ev.(*events.CmdOutputObservation); ok {
		return fmt.Sprintf("%s\x00%s\x00%d", out.Kind(), out.Command, out.ExitCode)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return string(ev.Kind())
	}
	return string(ev.Kind()) + "\x00" + string(payload)
}
