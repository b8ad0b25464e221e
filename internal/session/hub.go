// ABOUTME: In-memory registry of authenticated observers with non-blocking fan-out.
// ABOUTME: Implements confirm.Broadcaster for external confirmation requests.

package session

import (
	"log/slog"
	"sync"

	"github.com/2389/workbridge/internal/confirm"
)

// outboundBufferSize is the queue depth for each observer.
const outboundBufferSize = 64

// Hub tracks authenticated observers.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]chan<- ServerMessage // session id -> outbound queue
	logger    *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[string]chan<- ServerMessage),
		logger:    logger.With("component", "hub"),
	}
}

// Add registers an observer's outbound queue.
func (h *Hub) Add(id string, out chan<- ServerMessage) {
	h.mu.Lock()
	h.observers[id] = out
	n := len(h.observers)
	h.mu.Unlock()
	h.logger.Debug("observer added", "session_id", id, "observers", n)
}

// Remove unregisters an observer. Its queue is not closed.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.observers[id]
	delete(h.observers, id)
	n := len(h.observers)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("observer removed", "session_id", id, "observers", n)
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Publish queues msg for every observer except excludeID and returns how
// many accepted it. Observers whose queues are full miss the message.
func (h *Hub) Publish(msg ServerMessage, excludeID string) int {
	// Copy targets under read lock to avoid holding it during sends
	h.mu.RLock()
	targets := make(map[string]chan<- ServerMessage, len(h.observers))
	for id, ch := range h.observers {
		if excludeID != "" && id == excludeID {
			continue
		}
		targets[id] = ch
	}
	h.mu.RUnlock()

	sent := 0
	for id, ch := range targets {
		select {
		case ch <- msg:
			sent++
		default:
			h.logger.Debug("dropped message for slow observer", "session_id", id, "type", msg.Type)
		}
	}
	return sent
}

// BroadcastConfirm implements confirm.Broadcaster.
func (h *Hub) BroadcastConfirm(req *confirm.Request) int {
	n := h.Publish(ServerMessage{
		Type:    MsgConfirm,
		Content: "[Remote] " + req.Question,
		ConfirmData: &ConfirmData{
			ExternalID: req.ID,
			Question:   req.Question,
			Options:    req.Options,
			Source:     "remote",
		},
	}, "")
	h.logger.Info("external confirmation broadcast", "confirm_id", req.ID, "observers", n)
	return n
}
