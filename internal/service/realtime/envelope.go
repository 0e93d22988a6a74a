// Package realtime implements the envelope protocol spoken over chat channels
// and the notification transport, plus the websocket connection both ride on.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bookly/realtime/internal/model/chat"
)

// ErrMalformedEnvelope is returned for payloads that are not well-formed JSON,
// carry an unknown type or miss a required field.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// EventType is the envelope discriminator.
type EventType string

const (
	TypeChatMessage    EventType = "chat_message"
	TypeTyping         EventType = "typing"
	TypeOnlineStatus   EventType = "online_status"
	TypeDeleteMessage  EventType = "delete_message"
	TypeMessageDeleted EventType = "message_deleted"
)

// Direction tells Decode which side of the wire produced the payload.
type Direction int

const (
	// Inbound payloads travel gateway -> client.
	Inbound Direction = iota
	// Outbound payloads travel client -> gateway.
	Outbound
)

// Event is one of ChatMessage, OutgoingMessage, Typing, OnlineStatus,
// DeleteMessage or MessageDeleted. The set is closed.
type Event interface {
	Type() EventType
	event()
}

// ChatMessage is the gateway echo of a sent message.
type ChatMessage struct {
	ID        chat.ID
	User      chat.ID
	Message   string
	Timestamp time.Time
}

// OutgoingMessage asks the gateway to post a message on behalf of User.
type OutgoingMessage struct {
	Message string
	User    chat.ID
}

// Typing asserts that User is composing a message addressed to Receiver.
type Typing struct {
	User     chat.ID
	Receiver chat.ID
}

// OnlineStatus is a full snapshot of online participants.
type OnlineStatus struct {
	OnlineUsers []chat.ID
}

// DeleteMessage requests server-side deletion.
type DeleteMessage struct {
	MessageID chat.ID
}

// MessageDeleted reports a deletion.
type MessageDeleted struct {
	MessageID chat.ID
}

func (ChatMessage) Type() EventType     { return TypeChatMessage }
func (OutgoingMessage) Type() EventType { return TypeChatMessage }
func (Typing) Type() EventType          { return TypeTyping }
func (OnlineStatus) Type() EventType    { return TypeOnlineStatus }
func (DeleteMessage) Type() EventType   { return TypeDeleteMessage }
func (MessageDeleted) Type() EventType  { return TypeMessageDeleted }

func (ChatMessage) event()     {}
func (OutgoingMessage) event() {}
func (Typing) event()          {}
func (OnlineStatus) event()    {}
func (DeleteMessage) event()   {}
func (MessageDeleted) event()  {}

type envelope struct {
	Type        EventType         `json:"type"`
	ID          chat.ID           `json:"id,omitempty"`
	User        chat.ID           `json:"user,omitempty"`
	Receiver    chat.ID           `json:"receiver,omitempty"`
	Message     *string           `json:"message,omitempty"`
	Timestamp   json.RawMessage   `json:"timestamp,omitempty"`
	OnlineUsers []json.RawMessage `json:"online_users,omitempty"`
	MessageID   chat.ID           `json:"message_id,omitempty"`
}

// Encode renders an event as its wire envelope.
func Encode(e Event) ([]byte, error) {
	switch evt := e.(type) {
	case ChatMessage:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			ID        chat.ID   `json:"id"`
			User      chat.ID   `json:"user"`
			Message   string    `json:"message"`
			Timestamp time.Time `json:"timestamp"`
		}{evt.Type(), evt.ID, evt.User, evt.Message, evt.Timestamp})
	case OutgoingMessage:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
			User    chat.ID   `json:"user"`
		}{evt.Type(), evt.Message, evt.User})
	case Typing:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			User     chat.ID   `json:"user"`
			Receiver chat.ID   `json:"receiver"`
		}{evt.Type(), evt.User, evt.Receiver})
	case OnlineStatus:
		users := evt.OnlineUsers
		if users == nil {
			users = []chat.ID{}
		}
		return json.Marshal(struct {
			Type        EventType `json:"type"`
			OnlineUsers []chat.ID `json:"online_users"`
		}{evt.Type(), users})
	case DeleteMessage:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			MessageID chat.ID   `json:"message_id"`
		}{evt.Type(), evt.MessageID})
	case MessageDeleted:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			MessageID chat.ID   `json:"message_id"`
		}{evt.Type(), evt.MessageID})
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrMalformedEnvelope, e)
	}
}

// Decode parses a wire envelope produced by the given side.
func Decode(data []byte, dir Direction) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch {
	case env.Type == TypeChatMessage && dir == Inbound:
		if env.ID == "" || env.User == "" {
			return nil, missing(env.Type, "id/user")
		}
		ts, err := parseTimestamp(env.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return ChatMessage{ID: env.ID, User: env.User, Message: deref(env.Message), Timestamp: ts}, nil
	case env.Type == TypeChatMessage:
		if env.User == "" || env.Message == nil {
			return nil, missing(env.Type, "message/user")
		}
		return OutgoingMessage{Message: *env.Message, User: env.User}, nil
	case env.Type == TypeTyping:
		if env.User == "" {
			return nil, missing(env.Type, "user")
		}
		return Typing{User: env.User, Receiver: env.Receiver}, nil
	case env.Type == TypeOnlineStatus && dir == Inbound:
		// An explicit empty list is a valid snapshot; a missing one is not.
		if env.OnlineUsers == nil {
			return nil, missing(env.Type, "online_users")
		}
		users, err := parseOnlineUsers(env.OnlineUsers)
		if err != nil {
			return nil, err
		}
		return OnlineStatus{OnlineUsers: users}, nil
	case env.Type == TypeDeleteMessage && dir == Outbound:
		if env.MessageID == "" {
			return nil, missing(env.Type, "message_id")
		}
		return DeleteMessage{MessageID: env.MessageID}, nil
	case env.Type == TypeMessageDeleted && dir == Inbound:
		if env.MessageID == "" {
			return nil, missing(env.Type, "message_id")
		}
		return MessageDeleted{MessageID: env.MessageID}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformedEnvelope, env.Type)
	}
}

func missing(t EventType, field string) error {
	return fmt.Errorf("%w: %s without %s", ErrMalformedEnvelope, t, field)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseOnlineUsers accepts bare ids as well as identity objects.
func parseOnlineUsers(raw []json.RawMessage) ([]chat.ID, error) {
	users := make([]chat.ID, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '{' {
			var identity struct {
				ID chat.ID `json:"id"`
			}
			if err := json.Unmarshal(item, &identity); err != nil || identity.ID == "" {
				return nil, fmt.Errorf("%w: bad online user %s", ErrMalformedEnvelope, item)
			}
			users = append(users, identity.ID)
			continue
		}
		var id chat.ID
		if err := json.Unmarshal(item, &id); err != nil {
			return nil, fmt.Errorf("%w: bad online user %s", ErrMalformedEnvelope, item)
		}
		users = append(users, id)
	}
	return users, nil
}

// parseTimestamp accepts RFC 3339 strings and unix seconds or milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, s)
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	return time.Unix(int64(n), 0).UTC(), nil
}
