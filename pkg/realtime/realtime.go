// Package realtime is a lightweight in-process publish/subscribe hub used
// to fan out newly ingested items to listeners (SSE streams, WebSocket
// sessions). Delivery is best effort: a listener whose buffer is full
// misses the event, so a slow consumer can never backpressure ingestion.
// There is no persistence or replay; clients that need history query the
// timeline.
package realtime

import (
	"sync"
	"time"
)

// ItemEvent is the envelope delivered for each item that enters a channel,
// whether by poll, push, or webmention.
type ItemEvent struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel"`
	UID     string    `json:"uid"`
	URL     string    `json:"url,omitempty"`
	Name    string    `json:"name,omitempty"`
	Created time.Time `json:"created_at"`
}

// NewItemEvent builds the standard "item" event.
func NewItemEvent(channelUID, itemUID, url, name string) ItemEvent {
	return ItemEvent{
		Type:    "item",
		Channel: channelUID,
		UID:     itemUID,
		URL:     url,
		Name:    name,
		Created: time.Now().UTC(),
	}
}

// Hub is a concurrency-safe fan-out dispatcher. Each listener gets its own
// buffered channel.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan ItemEvent
	nextID    uint64
	bufSize   int
}

// NewHub constructs a hub with the given per-listener buffer size
// (default 32).
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan ItemEvent),
		bufSize:   bufSize,
	}
}

// Register adds a listener. Callers must Unregister the returned id to
// release the channel.
func (h *Hub) Register() (uint64, <-chan ItemEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan ItemEvent, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes a listener and closes its channel. Unknown ids are
// ignored, so it is safe to call twice.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Broadcast delivers the event to every listener with room in its buffer.
func (h *Hub) Broadcast(event ItemEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- event:
		default:
			// Drop for slow listener.
		}
	}
}

// Size returns the number of active listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
