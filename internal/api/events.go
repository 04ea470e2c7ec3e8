package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/civisync/civisync/internal/domain"
)

// EventHub fans sync progress events out to SSE subscribers. The engine
// emits one event per item state transition; the host UI consumes them
// incrementally rather than waiting for run completion.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan domain.Event]struct{}
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan domain.Event]struct{})}
}

// Broadcast delivers ev to every subscriber. Slow subscribers drop events
// rather than stall the sync run.
func (h *EventHub) Broadcast(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new listener. Call the returned func to detach.
func (h *EventHub) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// handleEvents streams sync progress as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Initial comment so clients know the stream is live.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
