package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscriber receives events for the uploads it is subscribed to. A slow
// subscriber loses events instead of blocking publishers.
type Subscriber struct {
	ch chan Event
}

func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Hub fans events out to in-process subscribers, keyed by upload.
type Hub struct {
	mu      sync.RWMutex
	uploads map[uuid.UUID]map[*Subscriber]struct{}
	subs    map[*Subscriber]map[uuid.UUID]struct{}
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		uploads: make(map[uuid.UUID]map[*Subscriber]struct{}),
		subs:    make(map[*Subscriber]map[uuid.UUID]struct{}),
	}
}

// NewSubscriber registers a subscriber with a buffer of size buf.
func (h *Hub) NewSubscriber(buf int) *Subscriber {
	s := &Subscriber{ch: make(chan Event, buf)}
	h.mu.Lock()
	h.subs[s] = make(map[uuid.UUID]struct{})
	h.mu.Unlock()
	return s
}

func (h *Hub) Subscribe(s *Subscriber, uploadID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids, ok := h.subs[s]
	if !ok {
		return
	}
	ids[uploadID] = struct{}{}
	set, ok := h.uploads[uploadID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.uploads[uploadID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) Unsubscribe(s *Subscriber, uploadID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(s, uploadID)
}

func (h *Hub) unsubscribeLocked(s *Subscriber, uploadID uuid.UUID) {
	if ids, ok := h.subs[s]; ok {
		delete(ids, uploadID)
	}
	if set, ok := h.uploads[uploadID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.uploads, uploadID)
		}
	}
}

// Remove drops every subscription of s and closes its channel.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids, ok := h.subs[s]
	if !ok {
		return
	}
	for id := range ids {
		h.unsubscribeLocked(s, id)
	}
	delete(h.subs, s)
	close(s.ch)
}

func (h *Hub) Publish(_ context.Context, uploadID uuid.UUID, typ EventType, data any) error {
	ev, err := NewEvent(uploadID, typ, data)
	if err != nil {
		return err
	}
	h.Broadcast(ev)
	return nil
}

// Broadcast delivers an already encoded event.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.uploads[ev.UploadID] {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of subscribers for an upload.
func (h *Hub) Subscribers(uploadID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.uploads[uploadID])
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
