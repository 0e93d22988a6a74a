// Package timeline builds the ordered message view of one conversation from
// a history snapshot and the live event stream.
// Entries keep arrival order and are unique by message id.
package timeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

// HistoryFetcher loads a conversation's history from the message store.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, conversationID chat.ID) (chat.History, error)
}

// Timeline is append-only apart from deletions. Events applied before the
// history seed are buffered and replayed right after it, in arrival order.
type Timeline struct {
	conversationID chat.ID

	mu           sync.RWMutex
	seeded       bool
	messages     []chat.Message
	participants map[chat.ID]chat.Participant
	pending      []realtime.Event
}

// New returns an unseeded timeline.
func New(conversationID chat.ID) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		participants:   make(map[chat.ID]chat.Participant),
	}
}

// ConversationID returns the owning conversation.
func (t *Timeline) ConversationID() chat.ID { return t.conversationID }

// Load fetches history once and seeds the timeline with it.
func (t *Timeline) Load(ctx context.Context, fetcher HistoryFetcher) error {
	history, err := fetcher.FetchHistory(ctx, t.conversationID)
	if err != nil {
		return fmt.Errorf("load history for %s: %w", t.conversationID, err)
	}
	t.Seed(history)
	return nil
}

// Seed installs the history snapshot and replays buffered events. Seeding
// twice is a no-op.
func (t *Timeline) Seed(history chat.History) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seeded {
		return
	}
	t.seeded = true

	for _, p := range history.Participants {
		t.participants[p.ID] = p
	}
	for _, m := range history.Messages {
		t.appendLocked(m)
	}
	for _, evt := range t.pending {
		t.applyLocked(evt)
	}
	t.pending = nil
}

// Seeded reports whether history has been installed.
func (t *Timeline) Seeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seeded
}

// Apply handles chat_message and message_deleted events and ignores the rest.
// It reports whether the visible timeline changed.
func (t *Timeline) Apply(evt realtime.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seeded {
		switch evt.(type) {
		case realtime.ChatMessage, realtime.MessageDeleted:
			t.pending = append(t.pending, evt)
		}
		return false
	}
	return t.applyLocked(evt)
}

func (t *Timeline) applyLocked(evt realtime.Event) bool {
	switch e := evt.(type) {
	case realtime.ChatMessage:
		return t.appendLocked(t.fromEvent(e))
	case realtime.MessageDeleted:
		return t.removeLocked(e.MessageID)
	default:
		return false
	}
}

func (t *Timeline) fromEvent(e realtime.ChatMessage) chat.Message {
	sender, ok := t.participants[e.User]
	if !ok {
		sender = chat.Participant{ID: e.User}
	}
	return chat.Message{
		ID:             e.ID,
		ConversationID: t.conversationID,
		Sender:         sender,
		Content:        e.Message,
		Timestamp:      e.Timestamp,
	}
}

// Append adds m at the end unless its id is already present.
func (t *Timeline) Append(m chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(m)
}

func (t *Timeline) appendLocked(m chat.Message) bool {
	if t.indexLocked(m.ID) >= 0 {
		return false
	}
	if m.ConversationID == "" {
		m.ConversationID = t.conversationID
	}
	t.messages = append(t.messages, m)
	return true
}

// Remove deletes the message with id. Removing an absent id is a no-op.
func (t *Timeline) Remove(id chat.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *Timeline) removeLocked(id chat.ID) bool {
	i := t.indexLocked(id)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return true
}

func (t *Timeline) indexLocked(id chat.ID) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Contains reports whether a message id is present.
func (t *Timeline) Contains(id chat.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.indexLocked(id) >= 0
}

// Messages returns a copy of the entries in order.
func (t *Timeline) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]chat.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
