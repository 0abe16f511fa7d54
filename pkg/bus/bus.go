package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind names what happened to a session.
type EventKind string

const (
	// EventAutonomousMessage is a companion message appended by the scheduler.
	EventAutonomousMessage EventKind = "autonomous_message"
	// EventReply is a companion reply produced by a conversation turn.
	EventReply EventKind = "reply"
)

type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	MessageID string    `json:"messageId,omitempty"`
	Text      string    `json:"text,omitempty"`
	RuleID    string    `json:"ruleId,omitempty"`
	At        time.Time `json:"at"`
}

// EventHandler reacts to a published event on the subscriber goroutine.
type EventHandler func(Event)

type MessageBus struct {
	events   chan Event
	handlers map[EventKind]EventHandler
	closed   bool
	dropped  atomic.Uint64
	mu       sync.RWMutex
}

const publishTimeout = 100 * time.Millisecond

func NewMessageBus() *MessageBus {
	return &MessageBus{
		events:   make(chan Event, 100),
		handlers: make(map[EventKind]EventHandler),
	}
}

// Publish enqueues ev, waiting at most publishTimeout when the buffer is
// full. Events that cannot be enqueued are counted and dropped.
func (mb *MessageBus) Publish(ev Event) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.events <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.events <- ev:
		case <-timer.C:
			mb.dropped.Add(1)
		}
	}
}

// Subscribe blocks until an event is available, the bus is closed or ctx
// is done.
func (mb *MessageBus) Subscribe(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-mb.events:
		if !ok {
			return Event{}, false
		}
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Dispatch consumes events until ctx is done or the bus closes, handing each
// one to the handler registered for its kind.
func (mb *MessageBus) Dispatch(ctx context.Context) {
	for {
		ev, ok := mb.Subscribe(ctx)
		if !ok {
			return
		}
		if handler, found := mb.GetHandler(ev.Kind); found {
			handler(ev)
		}
	}
}

func (mb *MessageBus) RegisterHandler(kind EventKind, handler EventHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[kind] = handler
}

func (mb *MessageBus) GetHandler(kind EventKind) (EventHandler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.handlers[kind]
	return handler, ok
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.events)
}

func (mb *MessageBus) Dropped() uint64 {
	return mb.dropped.Load()
}
