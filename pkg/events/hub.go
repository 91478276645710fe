package events

import (
	"log/slog"
	"sync"
	"time"
)

// Hub is the in-process publish/subscribe fanout. Publishing never blocks:
// a subscriber whose buffer is full loses the event (with a warning), so a
// stalled consumer cannot stall the scanner or Sentinel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Event // channel → subscriber id → delivery chan
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int]chan Event),
	}
}

// Subscribe registers a consumer on a channel. The returned cancel func
// removes the subscription and closes the delivery channel.
func (h *Hub) Subscribe(channel string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[int]chan Event)
	}
	h.subs[channel][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.subs[channel]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.subs, channel)
				}
			}
			// Closed under the write lock; Publish sends under the read
			// lock, so a send can never race this close.
			close(ch)
		})
	}
	return ch, cancel
}

// Publish sends an event to every subscriber of the channel. Sends are
// non-blocking, so holding the read lock across them is safe and cheap.
func (h *Hub) Publish(channel, eventType string, payload map[string]any) {
	event := Event{
		Type:      eventType,
		Channel:   channel,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[channel] {
		select {
		case ch <- event:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"channel", channel, "event_type", eventType)
		}
	}
}

// SubscriberCount returns the number of subscribers on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
