package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"discbot/jukebox"
	"discbot/logging"
)

// sseEvent is an internal event for the API SSE hub.
type sseEvent struct {
	Type string
	Slot int // set when event is slot-specific (for filtering)
	Data interface{}
}

// sseClient represents a connected SSE client.
type sseClient struct {
	id     string
	events chan sseEvent
}

// eventHub manages SSE client connections and broadcasts events.
type eventHub struct {
	clients    map[string]*sseClient
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan sseEvent
	mu         sync.RWMutex
	done       chan struct{}
}

func newEventHub() *eventHub {
	hub := &eventHub{
		clients:    make(map[string]*sseClient),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan sseEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *eventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("api", "client %s buffer full, dropping %s event", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *eventHub) Broadcast(event sseEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("api", "broadcast channel full, dropping %s event", event.Type)
	}
}

func (h *eventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) Stop() {
	close(h.done)
}

// relayEvent forwards a jukebox event into the SSE hub.
func (s *Server) relayEvent(ev jukebox.Event) {
	s.mu.RLock()
	hub := s.hub
	s.mu.RUnlock()
	if hub == nil {
		return
	}

	out := sseEvent{
		Type: ev.Type.String(),
		Data: ev.Payload,
	}
	switch p := ev.Payload.(type) {
	case jukebox.SlotEvent:
		out.Slot = p.Slot
	case jukebox.BatchItemEvent:
		out.Slot = p.Slot
	case jukebox.RecoveryEvent:
		out.Slot = p.Slot
	}
	hub.Broadcast(out)
}

// handleSSE serves the /events SSE endpoint.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	s.mu.RLock()
	hub := s.hub
	s.mu.RUnlock()
	if hub == nil {
		http.Error(w, "server not running", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Parse filters from query params
	var typeFilter map[string]bool
	if types := r.URL.Query().Get("types"); types != "" {
		typeFilter = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			typeFilter[strings.TrimSpace(t)] = true
		}
	}
	slotFilter := 0
	if slot := r.URL.Query().Get("slot"); slot != "" {
		fmt.Sscanf(slot, "%d", &slotFilter)
	}

	clientID := fmt.Sprintf("api-%d", time.Now().UnixNano())
	client := &sseClient{
		id:     clientID,
		events: make(chan sseEvent, 64),
	}

	hub.register <- client

	notify := r.Context().Done()

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", clientID)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-notify:
			hub.unregister <- client
			return

		case event, ok := <-client.events:
			if !ok {
				return
			}
			// Apply type filter
			if typeFilter != nil && !typeFilter[event.Type] {
				continue
			}
			// Apply slot filter (only to slot-specific events)
			if slotFilter != 0 && event.Slot != 0 && event.Slot != slotFilter {
				continue
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
