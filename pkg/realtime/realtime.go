// Package realtime fans index update events out to in-process listeners,
// typically live search sessions that re-run their last request when the
// index they show changes.
//
// Delivery is best effort: a listener whose buffer is full misses the event.
// Nothing is persisted or replayed.
package realtime

import (
	"sync"
	"time"
)

// Event kinds.
const (
	KindUpdated = "updated"
	KindPruned  = "pruned"
)

// IndexEvent reports a change to one search index.
type IndexEvent struct {
	Kind      string    `json:"kind"`
	Index     string    `json:"index"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// NewIndexEvent stamps an event with the current time.
func NewIndexEvent(kind, index string, count int) IndexEvent {
	return IndexEvent{
		Kind:      kind,
		Index:     index,
		Count:     count,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher is the write side of a Hub.
type Publisher interface {
	Publish(IndexEvent)
}

// Hub is an in-memory fan-out dispatcher. Each listener receives events on
// its own buffered channel. It is safe for concurrent use.
type Hub struct {
	mu        sync.RWMutex
	listeners map[uint64]chan IndexEvent
	nextID    uint64
	bufSize   int
}

// NewHub returns a hub with the given per-listener buffer, 32 when bufSize <= 0.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Hub{
		listeners: make(map[uint64]chan IndexEvent),
		bufSize:   bufSize,
	}
}

// Register adds a listener. Callers must Unregister the returned id.
func (h *Hub) Register() (uint64, <-chan IndexEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan IndexEvent, h.bufSize)
	h.listeners[id] = ch
	return id, ch
}

// Unregister removes a listener and closes its channel. Unknown ids are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.listeners[id]; ok {
		delete(h.listeners, id)
		close(ch)
	}
}

// Publish delivers ev to every listener with room in its buffer.
func (h *Hub) Publish(ev IndexEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Size returns the number of registered listeners.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(IndexEvent) {}
