package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeGoalCompleted EventType = "goal_completed"
	EventTypeSaveFailed    EventType = "save_failed"
	EventTypeSaved         EventType = "saved"
)

// Event represents an event in the system
type Event struct {
	Type    EventType
	Payload any
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously, in subscription order, to a snapshot
// of the listeners taken when Publish is called. Listeners may unsubscribe
// from inside a handler.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
	nextID   uint64

	closed atomic.Bool
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe registers a handler for a specific event type and returns a
// function that removes it again.
func (b *Bus) Subscribe(eventType EventType, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	b.handlers[eventType] = kept
}

// Publish delivers the event to every current subscriber of its type
// before returning. A panicking handler is logged and skipped.
func (b *Bus) Publish(event Event) {
	if b.closed.Load() {
		log.Debug().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}

	b.mu.RLock()
	snapshot := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, s := range snapshot {
		dispatch(s.handler, event)
	}
}

func dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}

// Close stops delivery; later publishes are dropped.
func (b *Bus) Close() {
	b.closed.Store(true)
}
