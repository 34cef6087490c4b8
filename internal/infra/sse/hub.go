package sse

import (
	"context"
	"encoding/json"
	"sync"

	"planetq-generation/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.ProgressNotifier = (*Hub)(nil)

// Hub fans task progress events out to subscribed streams. Each task ID is a
// topic; a subscriber is a buffered channel owned by its SSE handler. The hub
// only sends on subscriber channels and never closes them.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan []byte]bool
	log    *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[chan []byte]bool),
		log:    logger,
	}
}

// Publish implements adapter.ProgressNotifier. Slow subscribers are skipped
// rather than blocking reconciliation.
func (h *Hub) Publish(_ context.Context, ev adapter.ProgressEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("task_id", ev.TaskID).Msg("marshal progress event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.topics[ev.TaskID] {
		select {
		case ch <- b:
		default:
			// drop if client not reading
		}
	}
}

// Subscribe registers ch for events about taskID. The caller provides a
// buffered channel and must Unsubscribe when done; the hub never closes ch.
func (h *Hub) Subscribe(ch chan []byte, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[taskID]
	if !ok {
		subs = make(map[chan []byte]bool)
		h.topics[taskID] = subs
	}
	subs[ch] = true
}

func (h *Hub) Unsubscribe(ch chan []byte, taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[taskID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.topics, taskID)
		}
	}
}
