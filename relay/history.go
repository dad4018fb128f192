package relay

import (
	"sync"

	"chat-relay/domain/event"
)

// History is a fixed-capacity ring of the most recent chat events,
// oldest first. Append drops the oldest entry when full; stored entries
// are never mutated.
type History struct {
	mu   sync.RWMutex
	buf  []event.ChatEvent
	head int
	size int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]event.ChatEvent, capacity)}
}

func (h *History) Append(e event.ChatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[(h.head+h.size)%len(h.buf)] = e
	if h.size < len(h.buf) {
		h.size++
		return
	}
	h.head = (h.head + 1) % len(h.buf)
}

// Recent returns the last min(k, size) entries oldest first. The result
// is a copy; concurrent appends never show through it.
func (h *History) Recent(k int) []event.ChatEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k > h.size {
		k = h.size
	}
	if k <= 0 {
		return nil
	}
	out := make([]event.ChatEvent, 0, k)
	for i := h.size - k; i < h.size; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}
