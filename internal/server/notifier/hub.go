// Package notifier fans vault change events out to live subscribers.
//
// Publishing never blocks: each subscriber has a small buffer and an event
// that does not fit is dropped for that subscriber only. Subscribers that
// miss events recover by pulling again.
package notifier

import (
	"sync"

	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

// Topic scopes events to one owner's vault.
func Topic(ownerID, vaultID string) string {
	return ownerID + "|" + vaultID
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives events for one topic until Close.
type Subscription struct {
	hub   *Hub
	topic string
	ch    chan models.ChangeEvent
	once  sync.Once
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.ch
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()

		if set, ok := h.subs[s.topic]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.topic)
			}
		}
		close(s.ch)
	})
}

func (h *Hub) Subscribe(topic string) *Subscription {
	s := &Subscription{
		hub:   h,
		topic: topic,
		ch:    make(chan models.ChangeEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber of its topic and reports how many
// received it and how many had a full buffer.
func (h *Hub) Publish(ev models.ChangeEvent) (delivered, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[Topic(ev.OwnerID, ev.VaultID)] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// Subscribers counts open subscriptions across all topics.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
