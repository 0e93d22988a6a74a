package chat

import (
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/bookly/realtime/internal/model/chat"
)

// Subscriber is one websocket connection registered with the hub. Payloads
// are queued on Send; a subscriber whose queue is full is dropped.
type Subscriber struct {
	User chat.ID
	Send chan []byte
}

// NewSubscriber creates a subscriber with a queue of the given size.
func NewSubscriber(user chat.ID, queue int) *Subscriber {
	return &Subscriber{User: user, Send: make(chan []byte, queue)}
}

// Hub fans payloads out to conversation rooms and per-user notification
// streams.
type Hub struct {
	mu      sync.Mutex
	rooms   map[chat.ID]map[*Subscriber]struct{}
	inboxes map[chat.ID]map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[chat.ID]map[*Subscriber]struct{}),
		inboxes: make(map[chat.ID]map[*Subscriber]struct{}),
	}
}

// Join adds s to a conversation room.
func (h *Hub) Join(conversationID chat.ID, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.rooms, conversationID, s)
}

// Leave removes s from a conversation room and closes its queue.
func (h *Hub) Leave(conversationID chat.ID, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remove(h.rooms, conversationID, s)
}

// Online returns the distinct users present in a room, sorted.
func (h *Hub) Online(conversationID chat.ID) []chat.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := lo.Uniq(lo.Map(lo.Keys(h.rooms[conversationID]), func(s *Subscriber, _ int) chat.ID {
		return s.User
	}))
	slices.Sort(users)
	return users
}

// Broadcast queues payload for every member of a room.
func (h *Hub) Broadcast(conversationID chat.ID, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	deliver(h.rooms, conversationID, payload)
}

// Subscribe registers s for user notifications.
func (h *Hub) Subscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.inboxes, s.User, s)
}

// Unsubscribe removes s from notifications and closes its queue.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remove(h.inboxes, s.User, s)
}

// Notify queues payload on every notification stream of user.
func (h *Hub) Notify(user chat.ID, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	deliver(h.inboxes, user, payload)
}

func add(groups map[chat.ID]map[*Subscriber]struct{}, key chat.ID, s *Subscriber) {
	if groups[key] == nil {
		groups[key] = make(map[*Subscriber]struct{})
	}
	groups[key][s] = struct{}{}
}

func remove(groups map[chat.ID]map[*Subscriber]struct{}, key chat.ID, s *Subscriber) {
	members, ok := groups[key]
	if !ok {
		return
	}
	if _, ok := members[s]; !ok {
		return
	}
	delete(members, s)
	close(s.Send)
	if len(members) == 0 {
		delete(groups, key)
	}
}

func deliver(groups map[chat.ID]map[*Subscriber]struct{}, key chat.ID, payload []byte) {
	for s := range groups[key] {
		select {
		case s.Send <- payload:
		default:
			remove(groups, key, s)
		}
	}
}
