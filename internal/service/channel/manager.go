package channel

import (
	"log/slog"
	"sync"

	"github.com/bookly/realtime/internal/model/chat"
)

// Manager keeps at most one open channel per conversation and per viewer.
type Manager struct {
	dialer   Dialer
	endpoint EndpointFunc
	buffer   int
	logger   *slog.Logger

	// opMu serialises Open, Close and CloseAll so a replace sequence never
	// interleaves with another one.
	opMu sync.Mutex

	mu             sync.Mutex
	byConversation map[chat.ID]*Channel
	byViewer       map[chat.ID]*Channel
}

// NewManager creates a channel manager. buffer sizes each channel's event
// stream.
func NewManager(dialer Dialer, endpoint EndpointFunc, buffer int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dialer:         dialer,
		endpoint:       endpoint,
		buffer:         buffer,
		logger:         logger.With("component", "channel"),
		byConversation: make(map[chat.ID]*Channel),
		byViewer:       make(map[chat.ID]*Channel),
	}
}

// Open closes any prior channel for the viewer or the conversation and then
// opens a fresh one. It returns immediately; the channel connects in the
// background.
func (m *Manager) Open(conversationID, viewerID chat.ID) *Channel {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	var prior []*Channel
	if old, ok := m.byViewer[viewerID]; ok {
		prior = append(prior, old)
	}
	if old, ok := m.byConversation[conversationID]; ok && old != m.byViewer[viewerID] {
		prior = append(prior, old)
	}
	for _, old := range prior {
		m.forgetLocked(old)
	}
	m.mu.Unlock()

	for _, old := range prior {
		old.Close()
	}

	c := open(m.dialer, m.endpoint(conversationID, viewerID), conversationID, viewerID, m.buffer, m.logger)

	m.mu.Lock()
	m.byConversation[conversationID] = c
	m.byViewer[viewerID] = c
	m.mu.Unlock()

	go func() {
		<-c.Done()
		m.mu.Lock()
		m.forgetLocked(c)
		m.mu.Unlock()
	}()
	return c
}

// Get returns the open channel for a conversation.
func (m *Manager) Get(conversationID chat.ID) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConversation[conversationID]
	return c, ok
}

// Active returns the number of tracked channels.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byConversation)
}

// Close closes the channel for a conversation, if any.
func (m *Manager) Close(conversationID chat.ID) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	c, ok := m.byConversation[conversationID]
	if ok {
		m.forgetLocked(c)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// CloseAll closes every channel.
func (m *Manager) CloseAll() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	channels := make([]*Channel, 0, len(m.byConversation))
	for _, c := range m.byConversation {
		channels = append(channels, c)
	}
	for _, c := range channels {
		m.forgetLocked(c)
	}
	m.mu.Unlock()

	for _, c := range channels {
		c.Close()
	}
}

func (m *Manager) forgetLocked(c *Channel) {
	if m.byConversation[c.conversationID] == c {
		delete(m.byConversation, c.conversationID)
	}
	if m.byViewer[c.viewerID] == c {
		delete(m.byViewer, c.viewerID)
	}
}
