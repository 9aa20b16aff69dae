package notifications

import (
	"sync"

	"github.com/google/uuid"
)

// Subscriber is one realtime connection. Events arrive on C in the order
// they were broadcast; a full buffer drops the event for this subscriber only.
type Subscriber struct {
	ID string
	C  <-chan Event

	ch chan Event
}

// Hub is the registry of realtime subscribers and the per-event groups they joined
type Hub struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[string]*Subscriber
	groups      map[string]map[string]struct{} // eventID -> subscriber IDs
	memberships map[string]map[string]struct{} // subscriber ID -> eventIDs
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		bufferSize:  bufferSize,
		subscribers: make(map[string]*Subscriber),
		groups:      make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register creates a new subscriber with no group memberships
func (h *Hub) Register() *Subscriber {
	ch := make(chan Event, h.bufferSize)
	sub := &Subscriber{ID: uuid.NewString(), C: ch, ch: ch}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.memberships[sub.ID] = make(map[string]struct{})
	h.mu.Unlock()
	return sub
}

// Unregister removes the subscriber from every group and closes its channel
func (h *Hub) Unregister(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[subscriberID]
	if !ok {
		return
	}
	for eventID := range h.memberships[subscriberID] {
		h.removeFromGroup(eventID, subscriberID)
	}
	delete(h.memberships, subscriberID)
	delete(h.subscribers, subscriberID)
	close(sub.ch)
}

// Join adds the subscriber to an event group. Returns false for unknown subscribers.
func (h *Hub) Join(subscriberID, eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[subscriberID]; !ok {
		return false
	}
	group, ok := h.groups[eventID]
	if !ok {
		group = make(map[string]struct{})
		h.groups[eventID] = group
	}
	group[subscriberID] = struct{}{}
	h.memberships[subscriberID][eventID] = struct{}{}
	return true
}

// Leave removes the subscriber from an event group
func (h *Hub) Leave(subscriberID, eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[subscriberID]; !ok {
		return false
	}
	h.removeFromGroup(eventID, subscriberID)
	delete(h.memberships[subscriberID], eventID)
	return true
}

func (h *Hub) removeFromGroup(eventID, subscriberID string) {
	group, ok := h.groups[eventID]
	if !ok {
		return
	}
	delete(group, subscriberID)
	if len(group) == 0 {
		delete(h.groups, eventID)
	}
}

// Broadcast delivers to every subscriber in the event's group and returns
// how many subscribers dropped it because their buffer was full.
func (h *Hub) Broadcast(eventID string, event Event) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id := range h.groups[eventID] {
		if !h.offer(h.subscribers[id], event) {
			dropped++
		}
	}
	return dropped
}

// BroadcastAll delivers to every registered subscriber
func (h *Hub) BroadcastAll(event Event) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !h.offer(sub, event) {
			dropped++
		}
	}
	return dropped
}

// offer must be called with at least the read lock held, which also
// guarantees the channel is not closed concurrently.
func (h *Hub) offer(sub *Subscriber, event Event) bool {
	if sub == nil {
		return true
	}
	select {
	case sub.ch <- event:
		return true
	default:
		return false
	}
}

// Groups returns the event IDs a subscriber has joined
func (h *Hub) Groups(subscriberID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.memberships[subscriberID]))
	for eventID := range h.memberships[subscriberID] {
		out = append(out, eventID)
	}
	return out
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
