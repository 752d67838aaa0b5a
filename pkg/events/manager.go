package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup
// response. If more events were missed, a catchup.overflow message tells the
// client to do a full REST reload instead.
const catchupLimit = 200

// CatchupEvent is one journaled event returned by the catchup query, already
// wrapped in the notify envelope shape.
type CatchupEvent struct {
	ID      int
	Payload json.RawMessage
}

// CatchupQuerier queries journaled events for catchup. Implemented by Journal.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, conversationID string, sinceID, limit int) ([]CatchupEvent, error)
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action         string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	ConversationID string `json:"conversation_id,omitempty"`
	LastEventID    *int   `json:"last_event_id,omitempty"` // for catchup
}

// ConnectionManager fans conversation events out to WebSocket clients. Each
// process has one instance; the NotifyListener feeds it events received from
// other pods, local streams feed it directly through Broadcast.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	// conversation id → set of connection ids
	subsMu        sync.RWMutex
	subscriptions map[string]map[string]bool

	catchupQuerier CatchupQuerier
	writeTimeout   time.Duration
}

// Connection is a single WebSocket client.
//
// conversations is accessed without a lock: all reads and writes happen on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup).
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	conversations map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager. catchupQuerier may be nil
// (catchup disabled, e.g. when running without a database).
func NewConnectionManager(catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		subscriptions:  make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// HandleConnection manages the lifecycle of one WebSocket connection. Called
// by the HTTP handler after upgrade; blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.New().String(),
		Conn:          conn,
		conversations: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.ID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast sends a notify envelope to every connection subscribed to the
// conversation.
func (m *ConnectionManager) Broadcast(conversationID string, payload []byte) {
	m.subsMu.RLock()
	connIDs, ok := m.subscriptions[conversationID]
	if !ok {
		m.subsMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.subsMu.RUnlock()

	// Snapshot connection pointers, then send without holding any lock:
	// a slow client write (up to writeTimeout) must not stall registration.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.ID, "error", err)
		}
	}
}

// ActiveConnections returns the number of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(conversationID string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subscriptions[conversationID])
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.ConversationID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "conversation_id is required for subscribe"})
			return
		}
		m.subscribe(c, msg.ConversationID)
		m.sendJSON(c, map[string]string{
			"type":            "subscription.confirmed",
			"conversation_id": msg.ConversationID,
		})
		// Auto catch-up so late subscribers see the whole history.
		m.catchup(ctx, c, msg.ConversationID, -1)

	case "unsubscribe":
		if msg.ConversationID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "conversation_id is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.ConversationID)

	case "catchup":
		if msg.ConversationID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "conversation_id is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.catchup(ctx, c, msg.ConversationID, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (m *ConnectionManager) subscribe(c *Connection, conversationID string) {
	m.subsMu.Lock()
	set, ok := m.subscriptions[conversationID]
	if !ok {
		set = make(map[string]bool)
		m.subscriptions[conversationID] = set
	}
	set[c.ID] = true
	m.subsMu.Unlock()

	c.conversations[conversationID] = true
}

func (m *ConnectionManager) unsubscribe(c *Connection, conversationID string) {
	m.subsMu.Lock()
	if set, ok := m.subscriptions[conversationID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(m.subscriptions, conversationID)
		}
	}
	m.subsMu.Unlock()

	delete(c.conversations, conversationID)
}

// catchup sends events with id > sinceID to the client, in order, capped at
// catchupLimit with an overflow signal.
func (m *ConnectionManager) catchup(ctx context.Context, c *Connection, conversationID string, sinceID int) {
	if m.catchupQuerier == nil {
		return
	}

	catchupEvents, err := m.catchupQuerier.GetCatchupEvents(ctx, conversationID, sinceID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "conversation_id", conversationID, "error", err)
		return
	}

	hasMore := len(catchupEvents) > catchupLimit
	if hasMore {
		catchupEvents = catchupEvents[:catchupLimit]
	}

	for _, ev := range catchupEvents {
		if err := m.sendRaw(c, ev.Payload); err != nil {
			slog.Warn("Failed to send catchup event", "connection_id", c.ID, "error", err)
			return
		}
	}

	if hasMore {
		m.sendJSON(c, map[string]any{
			"type":            "catchup.overflow",
			"conversation_id": conversationID,
			"has_more":        true,
		})
	}
}

func (m *ConnectionManager) unregister(c *Connection) {
	for cid := range c.conversations {
		m.unsubscribe(c, cid)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
