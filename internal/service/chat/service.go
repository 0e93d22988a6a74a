// Package chat is the in-memory message store and room hub behind the
// development gateway.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/bookly/realtime/internal/model/chat"
)

var (
	ErrParticipantsRequired = errors.New("at least two participants are required")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotParticipant       = errors.New("sender is not a participant")
	ErrEmptyMessage         = errors.New("message content is empty")
)

// Service keeps conversations and their messages in memory.
type Service struct {
	mu            sync.RWMutex
	order         []chat.ID
	conversations map[chat.ID]chat.Conversation
	messages      map[chat.ID][]chat.Message
	now           func() time.Time
}

// NewService bootstraps an empty store.
func NewService() *Service {
	return &Service{
		conversations: make(map[chat.ID]chat.Conversation),
		messages:      make(map[chat.ID][]chat.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation registers a conversation between distinct participants.
func (s *Service) CreateConversation(_ context.Context, participants []chat.Participant) (chat.Conversation, error) {
	unique := lo.UniqBy(lo.Filter(participants, func(p chat.Participant, _ int) bool {
		return p.ID != ""
	}), func(p chat.Participant) chat.ID {
		return p.ID
	})
	if len(unique) < 2 {
		return chat.Conversation{}, ErrParticipantsRequired
	}

	conv := chat.Conversation{
		ID:           chat.ID(uuid.NewString()),
		Participants: unique,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = make([]chat.Message, 0, 16)
	s.order = append(s.order, conv.ID)
	s.mu.Unlock()

	return conv, nil
}

// GetConversation retrieves a conversation by identifier.
func (s *Service) GetConversation(_ context.Context, id chat.ID) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// ListConversations returns the conversations viewerID participates in, in
// creation order.
func (s *Service) ListConversations(_ context.Context, viewerID chat.ID) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0)
	for _, id := range s.order {
		conv := s.conversations[id]
		if _, ok := conv.Participant(viewerID); ok {
			out = append(out, conv)
		}
	}
	return out, nil
}

// SaveMessage appends a message from senderID and returns the stored record.
func (s *Service) SaveMessage(_ context.Context, conversationID, senderID chat.ID, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Message{}, ErrConversationNotFound
	}
	sender, ok := conv.Participant(senderID)
	if !ok {
		return chat.Message{}, ErrNotParticipant
	}

	message := chat.Message{
		ID:             chat.ID(uuid.NewString()),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Timestamp:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], message)
	return message, nil
}

// DeleteMessage removes a message from a conversation.
func (s *Service) DeleteMessage(_ context.Context, conversationID, messageID chat.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	_, index, found := lo.FindIndexOf(messages, func(m chat.Message) bool {
		return m.ID == messageID
	})
	if !found {
		return ErrMessageNotFound
	}
	s.messages[conversationID] = append(messages[:index], messages[index+1:]...)
	return nil
}

// FetchHistory returns the ordered messages of a conversation together with
// its participants.
func (s *Service) FetchHistory(_ context.Context, conversationID chat.ID) (chat.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.History{}, ErrConversationNotFound
	}

	messages := make([]chat.Message, len(s.messages[conversationID]))
	copy(messages, s.messages[conversationID])
	return chat.History{
		ConversationID: conversationID,
		Participants:   conv.Participants,
		Messages:       messages,
	}, nil
}
