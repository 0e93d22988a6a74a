// Package conversation lists a viewer's conversations and drives the
// lifecycle of the one that is currently selected.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/activity"
	"github.com/bookly/realtime/internal/service/channel"
)

var (
	ErrNoCounterpart = errors.New("conversation has no counterpart")
	ErrNotSelected   = errors.New("no conversation selected")
)

// Summary is a list entry as shown to the viewer.
type Summary struct {
	Conversation chat.Conversation
	Counterpart  chat.Participant
	Display      chat.Identity
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithTypingTTL sets how long inbound typing assertions stay visible.
func WithTypingTTL(d time.Duration) Option {
	return func(r *Registry) { r.typingTTL = d }
}

// WithTypingThrottle sets the minimum spacing of outbound typing events.
func WithTypingThrottle(d time.Duration) Option {
	return func(r *Registry) { r.typingThrottle = d }
}

// Registry resolves conversations for a viewer and owns the selected Session
// of each viewer.
type Registry struct {
	store          Store
	channels       *channel.Manager
	logger         *slog.Logger
	typingTTL      time.Duration
	typingThrottle time.Duration

	// opMu serialises Select, Deselect and Close.
	opMu sync.Mutex

	mu       sync.Mutex
	sessions map[chat.ID]*Session
}

// NewRegistry creates a registry backed by store and channels.
func NewRegistry(store Store, channels *channel.Manager, opts ...Option) *Registry {
	r := &Registry{
		store:          store,
		channels:       channels,
		logger:         slog.Default(),
		typingTTL:      activity.DefaultTypingTTL,
		typingThrottle: activity.DefaultThrottleInterval,
		sessions:       make(map[chat.ID]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "conversation")
	return r
}

// ResolveCounterpart returns the first participant that is not the viewer.
func ResolveCounterpart(conv chat.Conversation, viewerID chat.ID) (chat.Participant, bool) {
	return lo.Find(conv.Participants, func(p chat.Participant) bool {
		return p.ID != "" && p.ID != viewerID
	})
}

// List returns the viewer's conversations with their counterpart resolved.
// Records without a participants collection, or without anyone but the
// viewer, are left out rather than reported as errors.
func (r *Registry) List(ctx context.Context, viewer chat.Viewer) ([]Summary, error) {
	conversations, err := r.store.ListConversations(ctx, viewer.ID)
	if err != nil {
		return nil, err
	}

	summaries := lo.FilterMap(conversations, func(conv chat.Conversation, _ int) (Summary, bool) {
		if conv.Participants == nil {
			r.logger.Debug("skipping conversation without participants", "conversation", conv.ID)
			return Summary{}, false
		}
		counterpart, ok := ResolveCounterpart(conv, viewer.ID)
		if !ok {
			r.logger.Debug("skipping conversation without counterpart", "conversation", conv.ID)
			return Summary{}, false
		}
		return Summary{
			Conversation: conv,
			Counterpart:  counterpart,
			Display:      counterpart.Display(viewer.Role),
		}, true
	})
	return summaries, nil
}

// Select opens conv for the viewer: the previous selection is torn down, a
// fresh channel is opened and history is fetched once.
func (r *Registry) Select(viewer chat.Viewer, conv chat.Conversation) (*Session, error) {
	counterpart, ok := ResolveCounterpart(conv, viewer.ID)
	if !ok {
		return nil, ErrNoCounterpart
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	prev := r.sessions[viewer.ID]
	delete(r.sessions, viewer.ID)
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	ch := r.channels.Open(conv.ID, viewer.ID)
	s := newSession(viewer, conv, counterpart, ch, r.store, r.typingTTL, r.typingThrottle, r.logger)

	r.mu.Lock()
	r.sessions[viewer.ID] = s
	r.mu.Unlock()

	r.logger.Info("conversation selected", "viewer", viewer.ID, "conversation", conv.ID)
	return s, nil
}

// Reopen re-establishes the viewer's current selection on a fresh channel.
func (r *Registry) Reopen(viewer chat.Viewer) (*Session, error) {
	current, ok := r.Current(viewer.ID)
	if !ok {
		return nil, ErrNotSelected
	}
	return r.Select(viewer, current.Conversation())
}

// Current returns the viewer's selected session.
func (r *Registry) Current(viewerID chat.ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[viewerID]
	return s, ok
}

// Deselect tears down the viewer's selection, if any.
func (r *Registry) Deselect(viewerID chat.ID) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	s, ok := r.sessions[viewerID]
	delete(r.sessions, viewerID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.Info("conversation deselected", "viewer", viewerID, "conversation", s.Conversation().ID)
	return s.Close()
}

// Close tears down every selection.
func (r *Registry) Close() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	sessions := lo.Values(r.sessions)
	r.sessions = make(map[chat.ID]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
