package events

import (
	"log/slog"
	"sync"
	"time"
)

// SubscriberName groups subscriptions by consumer role.
type SubscriberName string

// Well-known subscriber names.
const (
	SubscriberController SubscriberName = "agent_controller"
	SubscriberServer     SubscriberName = "server"
	SubscriberRuntime    SubscriberName = "runtime"
	SubscriberMain       SubscriberName = "main"
)

// Handler consumes one event. Handlers run on their subscription's dispatch
// goroutine, never under the stream lock, and may call Publish; the new
// event is delivered to every subscription (including the handler's own
// queue) after the current delivery returns.
type Handler func(Event)

// Sink receives every published event right after it is appended to the log.
// Errors are logged and never fail Publish.
type Sink interface {
	Append(ev Event) error
}

// dispatchYield is the pause between deliveries while a subscription has a
// backlog, so other goroutines get scheduled during event bursts.
const dispatchYield = 10 * time.Millisecond

// subscription is a single registered handler with its own FIFO queue and
// dispatch goroutine.
type subscription struct {
	name    SubscriberName
	id      string
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newSubscription(name SubscriberName, id string, h Handler) *subscription {
	sub := &subscription{name: name, id: id, handler: h}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

// enqueue appends an event to the subscription queue. Called with the stream
// lock held so queues across subscriptions fill in publication order.
func (s *subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// stop marks the subscription closed; queued events are dropped.
func (s *subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// loop delivers queued events one at a time until stopped.
func (s *subscription) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.queue = nil
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		backlog := len(s.queue) > 0
		s.mu.Unlock()

		s.handler(ev)

		if backlog {
			time.Sleep(dispatchYield)
		}
	}
}

// EventStream is the append-only ordered event log for one conversation with
// publish/subscribe fan-out. Ids are dense, strictly increasing, and assigned
// atomically by Publish. All subscriptions observe events in publication
// order.
type EventStream struct {
	sid  string
	sink Sink

	mu     sync.Mutex
	events []Event
	nextID int
	subs   map[SubscriberName]map[string]*subscription
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStream creates an event stream for a conversation. sink may be nil
// (no persistence).
func NewStream(sessionID string, sink Sink) *EventStream {
	return &EventStream{
		sid:  sessionID,
		sink: sink,
		subs: make(map[SubscriberName]map[string]*subscription),
	}
}

// SessionID returns the owning conversation id.
func (s *EventStream) SessionID() string { return s.sid }

// Publish assigns the next id, appends the event, and fans it out to all
// subscriptions. Returns the assigned id, or -1 if the stream is closed.
func (s *EventStream) Publish(ev Event, source Source) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Warn("Publish on closed event stream dropped",
			"session_id", s.sid, "kind", ev.Kind())
		return -1
	}

	m := ev.Meta()
	m.ID = s.nextID
	s.nextID++
	m.Timestamp = time.Now().UTC()
	m.Source = source
	s.events = append(s.events, ev)

	// Enqueue under the lock: queues across subscriptions must fill in id
	// order. enqueue never blocks (handlers run on dispatch goroutines).
	for _, byID := range s.subs {
		for _, sub := range byID {
			sub.enqueue(ev)
		}
	}
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.Append(ev); err != nil {
			slog.Warn("Event sink append failed",
				"session_id", s.sid, "event_id", m.ID, "error", err)
		}
	}

	return m.ID
}

// Subscribe registers a handler under (name, id) and starts its dispatcher.
// An existing subscription with the same key is replaced with a warning.
func (s *EventStream) Subscribe(name SubscriberName, id string, h Handler) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		slog.Warn("Subscribe on closed event stream ignored",
			"session_id", s.sid, "subscriber", name, "id", id)
		return
	}
	byID, ok := s.subs[name]
	if !ok {
		byID = make(map[string]*subscription)
		s.subs[name] = byID
	}
	if old, exists := byID[id]; exists {
		slog.Warn("Replacing existing event stream subscription",
			"session_id", s.sid, "subscriber", name, "id", id)
		old.stop()
	}
	sub := newSubscription(name, id, h)
	byID[id] = sub
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sub.loop()
	}()
	s.mu.Unlock()
}

// Unsubscribe removes the handler registered under (name, id). Events already
// queued but not yet delivered are dropped.
func (s *EventStream) Unsubscribe(name SubscriberName, id string) {
	s.mu.Lock()
	var sub *subscription
	if byID, ok := s.subs[name]; ok {
		if sub, ok = byID[id]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(s.subs, name)
			}
		}
	}
	s.mu.Unlock()

	if sub == nil {
		slog.Warn("Unsubscribe for unknown subscription",
			"session_id", s.sid, "subscriber", name, "id", id)
		return
	}
	sub.stop()
}

// GetEvents returns events with startID <= id <= endID in order (reversed
// when reverse is set). endID < 0 means the latest event. Events whose kind
// is in excludeKinds are skipped; excludeHidden additionally skips hidden
// events.
func (s *EventStream) GetEvents(startID, endID int, reverse bool, excludeKinds []Kind, excludeHidden bool) []Event {
	var excluded map[Kind]struct{}
	if len(excludeKinds) > 0 {
		excluded = make(map[Kind]struct{}, len(excludeKinds))
		for _, k := range excludeKinds {
			excluded[k] = struct{}{}
		}
	}

	s.mu.Lock()
	snapshot := s.events
	s.mu.Unlock()

	if endID < 0 || endID >= len(snapshot) {
		endID = len(snapshot) - 1
	}
	if startID < 0 {
		startID = 0
	}

	var out []Event
	for i := startID; i <= endID; i++ {
		ev := snapshot[i]
		if _, skip := excluded[ev.Kind()]; skip {
			continue
		}
		if excludeHidden && ev.Meta().Hidden {
			continue
		}
		out = append(out, ev)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// GetEvent returns the event with the given id.
func (s *EventStream) GetEvent(id int) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.events) {
		return nil, false
	}
	return s.events[id], true
}

// LatestEventID returns the highest assigned id, or -1 when the stream is
// empty.
func (s *EventStream) LatestEventID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID - 1
}

// Close stops all dispatchers and rejects further publishes. Safe to call
// multiple times; blocks until in-flight handlers return.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		var all []*subscription
		for _, byID := range s.subs {
			for _, sub := range byID {
				all = append(all, sub)
			}
		}
		s.subs = make(map[SubscriberName]map[string]*subscription)
		s.mu.Unlock()

		for _, sub := range all {
			sub.stop()
		}
		s.wg.Wait()
	})
}
