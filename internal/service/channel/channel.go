// Package channel manages the per-conversation realtime channel.
package channel

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (*realtime.Conn, error)
}

// EndpointFunc returns the chat endpoint for a conversation and viewer.
type EndpointFunc func(conversationID, viewerID chat.ID) string

// Channel is one conversation's bidirectional connection, scoped to a viewer.
// It starts in the connecting state; sends made before it opens are dropped.
type Channel struct {
	conversationID chat.ID
	viewerID       chat.ID
	logger         *slog.Logger

	conn      atomic.Pointer[realtime.Conn]
	ctx       context.Context
	cancel    context.CancelFunc
	events    chan realtime.Event
	done      chan struct{}
	closeInfo realtime.CloseInfo
}

func open(dialer Dialer, endpoint string, conversationID, viewerID chat.ID, buffer int, logger *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conversationID: conversationID,
		viewerID:       viewerID,
		logger:         logger.With("conversation", conversationID, "viewer", viewerID),
		ctx:            ctx,
		cancel:         cancel,
		events:         make(chan realtime.Event, buffer),
		done:           make(chan struct{}),
	}
	go c.run(dialer, endpoint)
	return c
}

// ConversationID returns the conversation the channel is scoped to.
func (c *Channel) ConversationID() chat.ID { return c.conversationID }

// ViewerID returns the viewer the channel is scoped to.
func (c *Channel) ViewerID() chat.ID { return c.viewerID }

// Events yields inbound events in arrival order and is closed when the
// channel ends.
func (c *Channel) Events() <-chan realtime.Event { return c.events }

// Done is closed when the channel has ended for any reason.
func (c *Channel) Done() <-chan struct{} { return c.done }

// CloseInfo reports why the channel ended. It blocks until Done.
func (c *Channel) CloseInfo() realtime.CloseInfo {
	<-c.done
	return c.closeInfo
}

// State returns the channel's ready state.
func (c *Channel) State() realtime.State {
	select {
	case <-c.done:
		return realtime.StateClosed
	default:
	}
	if c.ctx.Err() != nil {
		return realtime.StateClosing
	}
	conn := c.conn.Load()
	if conn == nil {
		return realtime.StateConnecting
	}
	return conn.State()
}

// Send transmits e if and only if the channel is open.
func (c *Channel) Send(e realtime.Event) bool {
	conn := c.conn.Load()
	if conn == nil || c.ctx.Err() != nil {
		c.logger.Debug("dropping send before open", "type", e.Type())
		return false
	}
	return conn.Send(e)
}

// SendMessage posts text as the viewer. Blank messages are not sent.
func (c *Channel) SendMessage(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return c.Send(realtime.OutgoingMessage{Message: text, User: c.viewerID})
}

// SendTyping tells receiver that the viewer is composing.
func (c *Channel) SendTyping(receiver chat.ID) bool {
	return c.Send(realtime.Typing{User: c.viewerID, Receiver: receiver})
}

// DeleteMessage requests deletion of a message.
func (c *Channel) DeleteMessage(id chat.ID) bool {
	return c.Send(realtime.DeleteMessage{MessageID: id})
}

// Close tears the channel down and waits until it has ended.
func (c *Channel) Close() error {
	c.cancel()
	var err error
	if conn := c.conn.Load(); conn != nil {
		err = conn.Close()
	}
	<-c.done
	return err
}

func (c *Channel) run(dialer Dialer, endpoint string) {
	defer close(c.done)
	defer close(c.events)

	conn, err := dialer.Dial(c.ctx, endpoint)
	if err != nil {
		if c.ctx.Err() != nil {
			c.closeInfo = realtime.CloseInfo{Code: websocket.CloseNormalClosure, Reason: realtime.CloseReason(websocket.CloseNormalClosure)}
			return
		}
		c.closeInfo = realtime.CloseInfoFromError(err)
		c.logger.Warn("channel connect failed", "error", err)
		return
	}

	c.conn.Store(conn)
	if c.ctx.Err() != nil {
		conn.Close()
		c.closeInfo = conn.CloseInfo()
		return
	}
	c.logger.Info("channel open")

	for evt := range conn.Events() {
		select {
		case c.events <- evt:
		case <-c.ctx.Done():
			conn.Close()
			c.closeInfo = conn.CloseInfo()
			return
		}
	}
	c.closeInfo = conn.CloseInfo()
	c.logger.Info("channel closed", "code", c.closeInfo.Code, "reason", c.closeInfo.Reason)
}
