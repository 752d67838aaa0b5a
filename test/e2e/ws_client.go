package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSMessage is one frame received over the WebSocket feed: either a control
// message (Type set: connection.established, subscription.confirmed, pong,
// catchup.overflow, error) or an event envelope (Kind set).
type WSMessage struct {
	Type     string // control frame type, if any
	Kind     string // event kind, if the frame is a journal envelope
	Raw      json.RawMessage
	Parsed   map[string]any
	Received time.Time
}

// WSClient connects to the conductor WebSocket endpoint and collects frames.
type WSClient struct {
	conn     *websocket.Conn
	messages []WSMessage
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

// WSConnect dials the feed and starts collecting frames in the background.
func WSConnect(ctx context.Context, wsURL string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe asks for a conversation's event feed. The server confirms and
// then replays the journal so far before switching to live delivery.
func (c *WSClient) Subscribe(conversationID string) error {
	msg := map[string]string{
		"action":          "subscribe",
		"conversation_id": conversationID,
	}
	data, _ := json.Marshal(msg)
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// WaitFor blocks until a frame matching the predicate arrives, or times out.
func (c *WSClient) WaitFor(predicate func(WSMessage) bool, timeout time.Duration) (*WSMessage, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for frame (collected %d)", len(c.Messages()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.messages {
				if predicate(c.messages[i]) {
					msg := c.messages[i]
					c.mu.Unlock()
					return &msg, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForType waits for a control frame of the given type.
func (c *WSClient) WaitForType(frameType string, timeout time.Duration) (*WSMessage, error) {
	return c.WaitFor(func(m WSMessage) bool { return m.Type == frameType }, timeout)
}

// WaitForKind waits for an event envelope of the given kind.
func (c *WSClient) WaitForKind(kind string, timeout time.Duration) (*WSMessage, error) {
	return c.WaitFor(func(m WSMessage) bool { return m.Kind == kind }, timeout)
}

// Messages returns a snapshot of all collected frames.
func (c *WSClient) Messages() []WSMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// MessagesOfKind returns the envelopes of one event kind, in arrival order.
func (c *WSClient) MessagesOfKind(kind string) []WSMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WSMessage
	for _, m := range c.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Close tears the connection down and waits for the read loop to exit.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
	return nil
}

func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}

		msg := WSMessage{
			Raw:      json.RawMessage(data),
			Parsed:   parsed,
			Received: time.Now(),
		}
		if t, ok := parsed["type"].(string); ok {
			msg.Type = t
		}
		if k, ok := parsed["kind"].(string); ok {
			msg.Kind = k
		}

		c.mu.Lock()
		c.messages = append(c.messages, msg)
		c.mu.Unlock()
	}
}
