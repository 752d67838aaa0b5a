// Package session owns conversation lifecycles: it assembles the event
// stream, journal sink, agents and controller for each conversation, tracks
// them in a capacity-capped registry, executes in-process actions through
// the runtime bridge, and mirrors conversation state to the database.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DistilledAI/conductor/pkg/controller"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/plan"
)

// Operation errors.
var (
	ErrEmptyMessage            = errors.New("message content is empty")
	ErrSessionClosed           = errors.New("session is closed")
	ErrNotAwaitingConfirmation = errors.New("session is not awaiting confirmation")
	ErrNotObservation          = errors.New("event is not an observation")
)

// Session is one live conversation: the event stream, the planner controller
// tree driving it, and the bridge answering in-process actions. All stream
// access is safe from any goroutine; the API layer calls straight in.
type Session struct {
	id      string
	created time.Time

	stream *events.EventStream
	ctrl   *controller.Controller
	plans  *plan.Store

	// pool mirrors state to the conversations table; nil in in-memory mode
	// (headless CLI).
	pool *pgxpool.Pool

	cancel    context.CancelFunc
	onExpired func(id string)
	closeOnce sync.Once
	logger    *slog.Logger

	mu           sync.Mutex
	finalThought string
	lastSynced   controller.AgentState
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// Stream returns the conversation's event stream.
func (s *Session) Stream() *events.EventStream { return s.stream }

// View returns a status snapshot. Iteration and spend come from the
// top-level controller; the agent state is the effective one, so a delegate
// waiting on a confirmation shows as AWAITING_USER_CONFIRMATION here.
func (s *Session) View() controller.View {
	view := s.ctrl.View()
	view.AgentState = s.ctrl.EffectiveState()
	return view
}

// Terminal reports whether the top-level controller reached a terminal
// state. Terminal sessions stay resumable until their lifetime expires.
func (s *Session) Terminal() bool { return s.ctrl.View().AgentState.Terminal() }

// ActivePlan returns the active plan, if one exists yet.
func (s *Session) ActivePlan() (*plan.Plan, bool) { return s.plans.Active() }

// Trajectory snapshots every stream event in publication order, ready for
// EncodeTrajectory.
func (s *Session) Trajectory() []events.Event {
	return s.stream.GetEvents(0, -1, false, nil, false)
}

// SendMessage publishes a user message. It is the resume path for
// AWAITING_USER_INPUT, throttled limits, and terminal planner states alike;
// the controller decides what the message means.
func (s *Session) SendMessage(content string, imageURLs []string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	msg := &events.MessageAction{Content: content, ImageURLs: imageURLs}
	if s.stream.Publish(msg, events.SourceUser) < 0 {
		return ErrSessionClosed
	}
	return nil
}

// Confirm resolves the confirmation gate with the user's decision. The
// transition is published on the stream so it reaches whichever controller
// holds the gated action.
func (s *Session) Confirm(accept bool) error {
	if s.ctrl.EffectiveState() != controller.StateAwaitingUserConfirmation {
		return ErrNotAwaitingConfirmation
	}
	next := controller.StateUserConfirmed
	if !accept {
		next = controller.StateUserRejected
	}
	act := &events.ChangeAgentStateAction{AgentState: string(next)}
	if s.stream.Publish(act, events.SourceUser) < 0 {
		return ErrSessionClosed
	}
	return nil
}

// Ingest publishes an observation produced by an external runtime. The
// bridge leaves shell, editor and browser actions unanswered; a runtime that
// executed one reports the result here, cause-linked to the action it
// answers. Stream publication overwrites id, timestamp and source, so a
// runtime cannot forge those.
func (s *Session) Ingest(ev events.Event) error {
	if _, ok := ev.(events.Observation); !ok {
		return ErrNotObservation
	}
	if s.stream.Publish(ev, events.SourceEnvironment) < 0 {
		return ErrSessionClosed
	}
	return nil
}

// Stop broadcasts a STOPPED transition to every controller on the stream
// without tearing the session down; the conversation stays queryable, the
// stream stays open, and a later message can resume the planner.
func (s *Session) Stop() error {
	act := &events.ChangeAgentStateAction{AgentState: string(controller.StateStopped)}
	if s.stream.Publish(act, events.SourceUser) < 0 {
		return ErrSessionClosed
	}
	return nil
}

// Close stops the controller tree, shuts the stream down, and records the
// final state. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.ctrl.Close()
		s.stream.Close()
		s.cancel()
		s.syncState()
	})
}

// onEvent is the session watcher: it mirrors controller state transitions to
// the conversations table and remembers the latest finishing thought.
func (s *Session) onEvent(ev events.Event) {
	switch e := ev.(type) {
	case *events.AgentFinishAction:
		if e.FinalThought != "" {
			s.mu.Lock()
			s.finalThought = e.FinalThought
			s.mu.Unlock()
		}
	case *events.AgentStateChangedObservation:
		// Delegates publish state changes on the same stream; the top-level
		// view is the authoritative session state, so read it instead of the
		// observation payload.
		s.syncState()
	}
}

// syncState writes the current effective state to the conversations row.
// Repeated transitions to the same state write once.
func (s *Session) syncState() {
	if s.pool == nil {
		return
	}
	state := s.ctrl.EffectiveState()

	s.mu.Lock()
	if state == s.lastSynced {
		s.mu.Unlock()
		return
	}
	s.lastSynced = state
	thought := s.finalThought
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET agent_state = $2, status = $3, final_thought = $4, updated_at = now() WHERE id = $1`,
		s.id, string(state), StatusForState(state), thought)
	if err != nil {
		s.logger.Warn("Failed to sync conversation state",
			"agent_state", state, "error", err)
	}
}

// watchLifetime closes the session when its lifetime context expires. A
// cancel (explicit close or manager shutdown) is handled by whoever
// cancelled.
func (s *Session) watchLifetime(ctx context.Context) {
	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}
	s.logger.Info("Session lifetime expired, closing")
	s.Close()
	if s.onExpired != nil {
		s.onExpired(s.id)
	}
}

// StatusForState maps a controller state onto the coarse conversation
// status persisted for listings.
func StatusForState(st controller.AgentState) string {
	switch st {
	case controller.StateFinished:
		return "completed"
	case controller.StateRejected:
		return "rejected"
	case controller.StateError:
		return "error"
	case controller.StateStopped:
		return "stopped"
	default:
		return "active"
	}
}
