// Package socket serves the chat and notification websocket endpoints of
// the development gateway.
package socket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bookly/realtime/internal/model/chat"
	chatservice "github.com/bookly/realtime/internal/service/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueue      = 64
)

// Handler upgrades chat and notification connections.
type Handler struct {
	chatSvc  *chatservice.Service
	hub      *chatservice.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates the websocket handler.
func New(chatSvc *chatservice.Service, hub *chatservice.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatSvc: chatSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "gateway"),
	}
}

// RegisterRoutes mounts the websocket endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{conversationID}/{userID}/", h.handleChat)
	r.Get("/ws/notifications/{userID}/", h.handleNotifications)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	conversationID := chat.ID(chi.URLParam(r, "conversationID"))
	userID := chat.ID(chi.URLParam(r, "userID"))

	conv, err := h.chatSvc.GetConversation(r.Context(), conversationID)
	if err != nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if _, ok := conv.Participant(userID); !ok {
		msg := websocket.FormatCloseMessage(realtime.ClosePeerNotFound, realtime.CloseReason(realtime.ClosePeerNotFound))
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}

	logger := h.logger.With("conversation", conversationID, "user", userID)
	logger.Info("chat connection open")

	sub := chatservice.NewSubscriber(userID, sendQueue)
	h.hub.Join(conversationID, sub)
	h.broadcastOnline(conversationID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go writePump(ctx, conn, sub)

	defer func() {
		h.hub.Leave(conversationID, sub)
		h.broadcastOnline(conversationID)
		logger.Info("chat connection closed")
	}()

	readPump(conn, logger, func(evt realtime.Event) {
		h.handleEvent(ctx, conv, userID, evt, logger)
	})
}

func (h *Handler) handleEvent(ctx context.Context, conv chat.Conversation, userID chat.ID, evt realtime.Event, logger *slog.Logger) {
	switch e := evt.(type) {
	case realtime.OutgoingMessage:
		message, err := h.chatSvc.SaveMessage(ctx, conv.ID, userID, e.Message)
		if err != nil {
			logger.Warn("message rejected", "error", err)
			return
		}
		echo := realtime.ChatMessage{
			ID:        message.ID,
			User:      userID,
			Message:   message.Content,
			Timestamp: message.Timestamp,
		}
		h.publish(conv.ID, echo)
		for _, p := range conv.Participants {
			if p.ID != userID {
				h.notify(p.ID, echo)
			}
		}
	case realtime.Typing:
		h.publish(conv.ID, realtime.Typing{User: userID, Receiver: e.Receiver})
	case realtime.DeleteMessage:
		if err := h.chatSvc.DeleteMessage(ctx, conv.ID, e.MessageID); err != nil {
			if !errors.Is(err, chatservice.ErrMessageNotFound) {
				logger.Warn("delete failed", "message", e.MessageID, "error", err)
			}
			return
		}
		h.publish(conv.ID, realtime.MessageDeleted{MessageID: e.MessageID})
	default:
		logger.Debug("ignoring event", "type", evt.Type())
	}
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chat.ID(chi.URLParam(r, "userID"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger := h.logger.With("user", userID)
	logger.Info("notification connection open")

	sub := chatservice.NewSubscriber(userID, sendQueue)
	h.hub.Subscribe(sub)
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go writePump(ctx, conn, sub)

	// The notification stream is one-way; inbound frames only keep the
	// connection alive.
	readPump(conn, logger, func(realtime.Event) {})
	logger.Info("notification connection closed")
}

func (h *Handler) broadcastOnline(conversationID chat.ID) {
	h.publish(conversationID, realtime.OnlineStatus{OnlineUsers: h.hub.Online(conversationID)})
}

func (h *Handler) publish(conversationID chat.ID, evt realtime.Event) {
	payload, err := realtime.Encode(evt)
	if err != nil {
		h.logger.Error("encode failed", "type", evt.Type(), "error", err)
		return
	}
	h.hub.Broadcast(conversationID, payload)
}

func (h *Handler) notify(user chat.ID, evt realtime.Event) {
	payload, err := realtime.Encode(evt)
	if err != nil {
		h.logger.Error("encode failed", "type", evt.Type(), "error", err)
		return
	}
	h.hub.Notify(user, payload)
}

// readPump decodes client envelopes until the connection ends. Malformed
// payloads are logged and skipped.
func readPump(conn *websocket.Conn, logger *slog.Logger, handle func(realtime.Event)) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		evt, err := realtime.Decode(data, realtime.Outbound)
		if err != nil {
			logger.Warn("invalid message format", "error", err)
			continue
		}
		handle(evt)
	}
}

// writePump drains the subscriber queue onto the connection and keeps it
// alive with pings. It is the connection's only writer apart from control
// frames.
func writePump(ctx context.Context, conn *websocket.Conn, sub *chatservice.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
