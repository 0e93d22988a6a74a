// Package messaging is the entry point UI code holds on to: one Client per
// process, initialised on first use for the signed-in viewer and torn down
// on logout.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bookly/realtime/internal/config"
	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/channel"
	"github.com/bookly/realtime/internal/service/conversation"
	"github.com/bookly/realtime/internal/service/presence"
	"github.com/bookly/realtime/internal/service/realtime"
)

var ErrNotSignedIn = errors.New("no signed-in viewer")

// IdentityProvider supplies the signed-in viewer.
type IdentityProvider interface {
	CurrentViewer(ctx context.Context) (chat.Viewer, error)
}

// StaticIdentity always returns the same viewer.
type StaticIdentity chat.Viewer

// CurrentViewer implements IdentityProvider.
func (s StaticIdentity) CurrentViewer(context.Context) (chat.Viewer, error) {
	if s.ID == "" {
		return chat.Viewer{}, ErrNotSignedIn
	}
	return chat.Viewer(s), nil
}

// Client wires the presence transport, the channel manager and the
// conversation registry together for one viewer at a time.
type Client struct {
	identity  IdentityProvider
	transport *presence.Transport
	channels  *channel.Manager
	registry  *conversation.Registry
	logger    *slog.Logger

	mu     sync.Mutex
	viewer chat.Viewer
	ready  bool
}

// New builds a client from configuration. A nil store talks HTTP to
// cfg.APIBaseURL.
func New(cfg config.Config, store conversation.Store, identity IdentityProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = conversation.NewHTTPStore(cfg.APIBaseURL, &http.Client{Timeout: cfg.ConnectTimeout})
	}

	dialer := realtime.NewDialer(cfg.Realtime(), logger)
	transport := presence.New(dialer, cfg.PresenceEndpoint,
		presence.WithLogger(logger),
		presence.WithReconnectBase(cfg.ReconnectBase),
		presence.WithMaxAttempts(cfg.MaxReconnectAttempts),
	)
	channels := channel.NewManager(dialer, cfg.ChatEndpoint, cfg.EventBuffer, logger)
	registry := conversation.NewRegistry(store, channels,
		conversation.WithLogger(logger),
		conversation.WithTypingTTL(cfg.TypingTTL),
		conversation.WithTypingThrottle(cfg.TypingThrottle),
	)

	return &Client{
		identity:  identity,
		transport: transport,
		channels:  channels,
		registry:  registry,
		logger:    logger.With("component", "messaging"),
	}
}

// Init resolves the viewer and connects the notification transport. It is
// idempotent and runs implicitly on first use.
func (c *Client) Init(ctx context.Context) (chat.Viewer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return c.viewer, nil
	}

	viewer, err := c.identity.CurrentViewer(ctx)
	if err != nil {
		return chat.Viewer{}, fmt.Errorf("resolve viewer: %w", err)
	}
	if err := c.transport.Connect(viewer.ID); err != nil {
		return chat.Viewer{}, err
	}
	c.viewer = viewer
	c.ready = true
	c.logger.Info("messaging initialised", "viewer", viewer.ID, "role", viewer.Role)
	return viewer, nil
}

// Viewer returns the initialised viewer.
func (c *Client) Viewer() (chat.Viewer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer, c.ready
}

// Conversations lists the viewer's conversations.
func (c *Client) Conversations(ctx context.Context) ([]conversation.Summary, error) {
	viewer, err := c.Init(ctx)
	if err != nil {
		return nil, err
	}
	return c.registry.List(ctx, viewer)
}

// Open selects a conversation, replacing any previous selection.
func (c *Client) Open(ctx context.Context, conv chat.Conversation) (*conversation.Session, error) {
	viewer, err := c.Init(ctx)
	if err != nil {
		return nil, err
	}
	return c.registry.Select(viewer, conv)
}

// Reopen re-establishes the current selection on a fresh channel.
func (c *Client) Reopen(ctx context.Context) (*conversation.Session, error) {
	viewer, err := c.Init(ctx)
	if err != nil {
		return nil, err
	}
	return c.registry.Reopen(viewer)
}

// CloseConversation deselects the current conversation.
func (c *Client) CloseConversation() error {
	viewer, ok := c.Viewer()
	if !ok {
		return nil
	}
	return c.registry.Deselect(viewer.ID)
}

// Notifications streams cross-conversation events.
func (c *Client) Notifications() <-chan realtime.Event { return c.transport.Events() }

// Failures reports exhausted reconnects of the notification transport.
func (c *Client) Failures() <-chan error { return c.transport.Failures() }

// Diagnostics returns the notification transport state.
func (c *Client) Diagnostics() presence.Diagnostics { return c.transport.Diagnostics() }

// Teardown closes everything; the next use initialises again.
func (c *Client) Teardown() error {
	c.mu.Lock()
	c.ready = false
	c.viewer = chat.Viewer{}
	c.mu.Unlock()

	c.registry.Close()
	c.channels.CloseAll()
	err := c.transport.Close()
	c.logger.Info("messaging torn down")
	return err
}
