package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the single PostgreSQL NOTIFY channel carrying all
// conversation events. Payloads embed the conversation id; listeners route
// locally instead of LISTENing one channel per conversation.
const NotifyChannel = "conductor_events"

// notifyLimit is the safe payload size for pg_notify (hard limit 8000 bytes).
// Larger events are delivered as a truncation envelope; clients refetch the
// full event over REST.
const notifyLimit = 7900

// journalOpTimeout bounds each journal database operation. Appends run on the
// stream's publish path, which must not hang on a stalled connection.
const journalOpTimeout = 5 * time.Second

// Journal persists conversation events to PostgreSQL and broadcasts them via
// NOTIFY in the same transaction, so cross-pod listeners only see committed
// events.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a Journal on the shared connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Sink returns a stream sink that journals events for one conversation.
func (j *Journal) Sink(conversationID string) Sink {
	return &journalSink{journal: j, conversationID: conversationID}
}

type journalSink struct {
	journal        *Journal
	conversationID string
}

func (s *journalSink) Append(ev Event) error {
	return s.journal.Append(s.conversationID, ev)
}

// notifyEnvelope is the JSON shape delivered over NOTIFY and WebSocket.
type notifyEnvelope struct {
	ConversationID string          `json:"conversation_id"`
	EventID        int             `json:"event_id"`
	Kind           Kind            `json:"kind"`
	Event          json.RawMessage `json:"event,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
}

// Append stores one event and notifies listeners atomically.
func (j *Journal) Append(conversationID string, ev Event) error {
	payload, err := Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event for journal: %w", err)
	}

	env := notifyEnvelope{
		ConversationID: conversationID,
		EventID:        ev.Meta().ID,
		Kind:           ev.Kind(),
		Event:          payload,
	}
	notifyPayload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode notify payload: %w", err)
	}
	if len(notifyPayload) > notifyLimit {
		env.Event = nil
		env.Truncated = true
		notifyPayload, err = json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode truncated notify payload: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin journal transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO events (conversation_id, event_id, payload) VALUES ($1, $2, $3)`,
		conversationID, ev.Meta().ID, payload)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	// pg_notify is transactional: the notification fires on COMMIT.
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(notifyPayload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit event transaction: %w", err)
	}
	return nil
}

// GetEvents returns a conversation's journaled events with event_id > sinceID
// in id order. limit <= 0 means no limit. Pass sinceID -1 for all events.
func (j *Journal) GetEvents(ctx context.Context, conversationID string, sinceID, limit int) ([]Event, error) {
	query := `SELECT payload FROM events WHERE conversation_id = $1 AND event_id > $2 ORDER BY event_id`
	args := []any{conversationID, sinceID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		ev, err := Unmarshal(payload)
		if err != nil {
			return nil, fmt.Errorf("decode journal event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal events: %w", err)
	}
	return out, nil
}

// LatestEventID returns the highest journaled event id for a conversation,
// or -1 when none exist.
func (j *Journal) LatestEventID(ctx context.Context, conversationID string) (int, error) {
	var id int
	err := j.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(event_id), -1) FROM events WHERE conversation_id = $1`,
		conversationID).Scan(&id)
	if err != nil {
		return -1, fmt.Errorf("query latest journal event id: %w", err)
	}
	return id, nil
}

// GetCatchupEvents implements the WebSocket catchup query: raw notify
// envelopes for events after sinceID, capped at limit.
func (j *Journal) GetCatchupEvents(ctx context.Context, conversationID string, sinceID, limit int) ([]CatchupEvent, error) {
	query := `SELECT event_id, payload FROM events WHERE conversation_id = $1 AND event_id > $2 ORDER BY event_id`
	args := []any{conversationID, sinceID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catchup events: %w", err)
	}
	defer rows.Close()

	var out []CatchupEvent
	for rows.Next() {
		var ev CatchupEvent
		var payload json.RawMessage
		if err := rows.Scan(&ev.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan catchup event: %w", err)
		}
		env := notifyEnvelope{
			ConversationID: conversationID,
			EventID:        ev.ID,
			Event:          payload,
		}
		ev.Payload, err = json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("encode catchup envelope: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catchup events: %w", err)
	}
	return out, nil
}
