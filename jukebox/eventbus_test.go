package jukebox

import (
	"sync"
	"testing"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := NewEventBus()
	var received []Event

	bus.Subscribe(func(e Event) {
		received = append(received, e)
	})

	bus.Emit(Event{Type: EventLoaded, Payload: SlotEvent{Slot: 1}})
	bus.Emit(Event{Type: EventEjected, Payload: SlotEvent{Slot: 1}})

	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Type != EventLoaded {
		t.Errorf("expected EventLoaded, got %d", received[0].Type)
	}
	if received[1].Type != EventEjected {
		t.Errorf("expected EventEjected, got %d", received[1].Type)
	}
}

func TestSubscribeTypes(t *testing.T) {
	bus := NewEventBus()
	var received []Event

	bus.SubscribeTypes(func(e Event) {
		received = append(received, e)
	}, EventLoaded, EventEjected)

	bus.Emit(Event{Type: EventLoaded, Payload: SlotEvent{Slot: 3}})
	bus.Emit(Event{Type: EventRefreshed}) // should be filtered
	bus.Emit(Event{Type: EventEjected, Payload: SlotEvent{Slot: 4}})

	if len(received) != 2 {
		t.Fatalf("expected 2 filtered events, got %d", len(received))
	}
	if received[0].Payload.(SlotEvent).Slot != 3 {
		t.Errorf("expected slot 3, got %d", received[0].Payload.(SlotEvent).Slot)
	}
	if received[1].Payload.(SlotEvent).Slot != 4 {
		t.Errorf("expected slot 4, got %d", received[1].Payload.(SlotEvent).Slot)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	count := 0

	id := bus.Subscribe(func(e Event) {
		count++
	})

	bus.Emit(Event{Type: EventLoaded})
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}

	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventLoaded})
	if count != 1 {
		t.Fatalf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestUnsubscribeNonExistent(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Unsubscribe(999)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	counts := make(map[string]int)

	bus.Subscribe(func(e Event) {
		mu.Lock()
		counts["a"]++
		mu.Unlock()
	})
	bus.Subscribe(func(e Event) {
		mu.Lock()
		counts["b"]++
		mu.Unlock()
	})

	bus.Emit(Event{Type: EventLoaded})

	mu.Lock()
	defer mu.Unlock()
	if counts["a"] != 1 || counts["b"] != 1 {
		t.Errorf("expected both subscribers called once, got a=%d b=%d", counts["a"], counts["b"])
	}
}

func TestEmitSetsTimestamp(t *testing.T) {
	bus := NewEventBus()
	var received Event

	bus.Subscribe(func(e Event) {
		received = e
	})

	bus.Emit(Event{Type: EventLoaded})

	if received.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestConcurrentEmit(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(Event{Type: EventRefreshed})
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("expected 10 deliveries, got %d", count)
	}
}
