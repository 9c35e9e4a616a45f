package jukebox

import (
	"sync"
	"time"
)

// SubscriberID identifies one bus subscription.
type SubscriberID int

type subscriber struct {
	fn    func(Event)
	types map[EventType]bool // nil means all types
}

// EventBus delivers jukebox events synchronously to subscribers.
// Subscribers that need to do slow work should hand the event off to
// their own goroutine; Emit runs callbacks inline.
type EventBus struct {
	mu     sync.RWMutex
	nextID SubscriberID
	subs   map[SubscriberID]*subscriber
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[SubscriberID]*subscriber)}
}

// Subscribe registers a callback for all events.
func (b *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return b.SubscribeTypes(fn)
}

// SubscribeTypes registers a callback for the given event types only.
// With no types listed, the callback receives every event.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{fn: fn}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subs[id] = sub
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *EventBus) Unsubscribe(id SubscriberID) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Emit delivers an event to all matching subscribers, filling in the
// timestamp if the caller left it zero.
func (b *EventBus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[ev.Type] {
			continue
		}
		s.fn(ev)
	}
}
