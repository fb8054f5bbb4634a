// Package events fans out optimization progress messages to subscribers,
// one stream per optimization ID.
package events

import "sync"

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Hub routes messages by optimization ID. Publishing never blocks: a
// subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string][]chan string
}

// NewHub creates a hub with the given per-subscriber buffer. Non-positive
// values select DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string][]chan string),
	}
}

// Subscribe registers a listener for id. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(id string) (<-chan string, func()) {
	ch := make(chan string, h.buffer)

	h.mu.Lock()
	h.subs[id] = append(h.subs[id], ch)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.remove(id, ch) {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish sends msg to every subscriber of id.
func (h *Hub) Publish(id, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[id] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close drops every subscriber of id and closes their channels. It is used
// when an optimization reaches a terminal state.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[id] {
		close(ch)
	}
	delete(h.subs, id)
}

// Subscribers returns the number of listeners for id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

func (h *Hub) remove(id string, ch chan string) bool {
	list := h.subs[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(h.subs, id)
			} else {
				h.subs[id] = list
			}
			return true
		}
	}
	return false
}
