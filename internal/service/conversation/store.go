package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bookly/realtime/internal/model/chat"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUnexpectedStatus = errors.New("unexpected status")
)

//go:generate mockgen -source=store.go -destination=../../mocks/mock_store.go -package=mocks

// Store is the message-store API this package reads from.
type Store interface {
	ListConversations(ctx context.Context, viewerID chat.ID) ([]chat.Conversation, error)
	FetchHistory(ctx context.Context, conversationID chat.ID) (chat.History, error)
}

// HTTPStore talks to the message-store REST API.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a store client rooted at baseURL, e.g.
// "http://localhost:8080/api". A nil client gets a 15s timeout client.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// ListConversations fetches the conversations viewerID participates in.
func (s *HTTPStore) ListConversations(ctx context.Context, viewerID chat.ID) ([]chat.Conversation, error) {
	endpoint := s.baseURL + "/conversations?user=" + url.QueryEscape(string(viewerID))
	var conversations []chat.Conversation
	if err := s.get(ctx, endpoint, &conversations); err != nil {
		return nil, fmt.Errorf("list conversations for %s: %w", viewerID, err)
	}
	return conversations, nil
}

// FetchHistory fetches the ordered history of a conversation.
func (s *HTTPStore) FetchHistory(ctx context.Context, conversationID chat.ID) (chat.History, error) {
	endpoint := s.baseURL + "/conversations/" + url.PathEscape(string(conversationID)) + "/messages"
	var history chat.History
	if err := s.get(ctx, endpoint, &history); err != nil {
		return chat.History{}, fmt.Errorf("fetch history for %s: %w", conversationID, err)
	}
	if history.ConversationID == "" {
		history.ConversationID = conversationID
	}
	return history, nil
}

func (s *HTTPStore) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
