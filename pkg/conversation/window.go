package conversation

import (
	"log/slog"
	"slices"

	"github.com/DistilledAI/conductor/pkg/events"
)

// Truncation is the outcome of halving a history window after the model
// reported a context overflow.
type Truncation struct {
	// Events is the repaired window.
	Events []events.Event

	// TruncationID is the id of the first kept event; window reloads resume
	// from here. -1 when the window came out empty.
	TruncationID int

	// StartID is the id of the first user message, or -1 when history has
	// none.
	StartID int
}

// TruncateHistory keeps roughly the newer half of history, repairs the cut
// so the window does not open on an unanswered observation, and guarantees
// the first user message survives exactly once.
func TruncateHistory(history []events.Event) Truncation {
	if len(history) == 0 {
		return Truncation{TruncationID: -1, StartID: -1}
	}

	firstUser := FirstUserMessage(history)

	mid := max(1, len(history)/2)
	kept := slices.Clone(history[mid:])

	kept = repairCut(kept, history[:mid])
	kept = dropOrphanObservations(kept)

	truncationID := -1
	if len(kept) > 0 {
		truncationID = kept[0].Meta().ID
	}

	startID := -1
	if firstUser != nil {
		startID = firstUser.Meta().ID
		if !containsID(kept, startID) {
			kept = append([]events.Event{firstUser}, kept...)
		}
		if truncationID < 0 {
			truncationID = startID
		}
	}

	return Truncation{Events: kept, TruncationID: truncationID, StartID: startID}
}

// repairCut fixes the leading edge of the kept window. A leading observation
// brings its action back from the dropped half, or is removed as an orphan.
// Message actions and user actions at the head stay in place; the scan stops
// at the first agent action.
func repairCut(kept, dropped []events.Event) []events.Event {
	i := 0
	for i < len(kept) {
		head := kept[i]
		obs, isObservation := head.(events.Observation)
		switch {
		case isObservation && obs.Meta().Cause > events.NoCause:
			if action := actionByID(dropped, obs.Meta().Cause); action != nil {
				return append([]events.Event{action}, kept...)
			}
			slog.Warn("Found observation without matching action at window head",
				"event_id", obs.Meta().ID, "cause", obs.Meta().Cause)
			kept = slices.Delete(kept, i, i+1)
		case isMessageOrUserAction(head):
			i++
		default:
			return kept
		}
	}
	return kept
}

// dropOrphanObservations removes observations whose cause action is no
// longer inside the window. The cut can strand answers deep in the kept half
// when an action and its observation arrived far apart.
func dropOrphanObservations(kept []events.Event) []events.Event {
	actionIDs := make(map[int]struct{}, len(kept))
	for _, ev := range kept {
		if _, ok := ev.(events.Action); ok {
			actionIDs[ev.Meta().ID] = struct{}{}
		}
	}

	out := kept[:0]
	for _, ev := range kept {
		if obs, ok := ev.(events.Observation); ok {
			if cause := obs.Meta().Cause; cause > events.NoCause {
				if _, present := actionIDs[cause]; !present {
					slog.Warn("Dropping orphan observation from truncated window",
						"event_id", obs.Meta().ID, "cause", cause)
					continue
				}
			}
		}
		out = append(out, ev)
	}
	return out
}

func actionByID(evs []events.Event, id int) events.Action {
	for i := len(evs) - 1; i >= 0; i-- {
		if a, ok := evs[i].(events.Action); ok && a.Meta().ID == id {
			return a
		}
	}
	return nil
}

func isMessageOrUserAction(ev events.Event) bool {
	if _, ok := ev.(*events.MessageAction); ok {
		return true
	}
	if _, ok := ev.(events.Action); ok {
		return ev.Meta().Source == events.SourceUser
	}
	return false
}

func containsID(evs []events.Event, id int) bool {
	for _, ev := range evs {
		if ev.Meta().ID == id {
			return true
		}
	}
	return false
}

// FirstUserMessage returns the earliest user message in evs, or nil.
func FirstUserMessage(evs []events.Event) *events.MessageAction {
	for _, ev := range evs {
		if msg, ok := ev.(*events.MessageAction); ok && msg.Meta().Source == events.SourceUser {
			return msg
		}
	}
	return nil
}

// ReloadWindow re-derives a history window from freshly fetched events,
// honoring a truncation point recorded by TruncateHistory: the first user
// message, then everything from the truncation id onward. A user message
// already inside the tail is not duplicated.
func ReloadWindow(evs []events.Event, truncationID int) []events.Event {
	if truncationID <= 0 {
		return evs
	}
	out := make([]events.Event, 0, len(evs))
	if u0 := FirstUserMessage(evs); u0 != nil && u0.Meta().ID < truncationID {
		out = append(out, u0)
	}
	for _, ev := range evs {
		if ev.Meta().ID >= truncationID {
			out = append(out, ev)
		}
	}
	return out
}
