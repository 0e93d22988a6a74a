// Package activity derives "is typing" and "who is online" state for one
// open conversation from its inbound events.
package activity

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

// DefaultTypingTTL is how long a typing assertion stays visible.
const DefaultTypingTTL = 2 * time.Second

// Tracker holds a single typing assertion and the presence set for a viewer.
// The expiry timer belongs to the tracker; Close cancels it, and a callback
// that fires after Close or after being superseded does nothing.
type Tracker struct {
	viewer chat.ID
	ttl    time.Duration

	mu      sync.Mutex
	closed  bool
	typing  chat.ID
	expires time.Time
	timer   *time.Timer
	gen     uint64
	online  map[chat.ID]struct{}
	changes chan struct{}
}

// NewTracker creates a tracker for viewer. A non-positive ttl uses
// DefaultTypingTTL.
func NewTracker(viewer chat.ID, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		viewer:  viewer,
		ttl:     ttl,
		online:  make(map[chat.ID]struct{}),
		changes: make(chan struct{}, 1),
	}
}

// Changes signals, coalesced, that typing or presence state changed.
func (t *Tracker) Changes() <-chan struct{} { return t.changes }

// Apply folds one inbound event into the state and reports whether it changed.
func (t *Tracker) Apply(evt realtime.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}

	switch e := evt.(type) {
	case realtime.Typing:
		if e.Receiver != t.viewer || e.User == t.viewer {
			return false
		}
		t.setTypingLocked(e.User)
		return true
	case realtime.ChatMessage:
		if t.typing == "" || t.typing != e.User {
			return false
		}
		t.clearTypingLocked()
		return true
	case realtime.OnlineStatus:
		t.online = lo.SliceToMap(e.OnlineUsers, func(id chat.ID) (chat.ID, struct{}) {
			return id, struct{}{}
		})
		t.notifyLocked()
		return true
	default:
		return false
	}
}

func (t *Tracker) setTypingLocked(user chat.ID) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.typing = user
	t.expires = time.Now().Add(t.ttl)
	t.timer = time.AfterFunc(t.ttl, func() { t.expire(gen) })
	t.notifyLocked()
}

func (t *Tracker) clearTypingLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	t.typing = ""
	t.expires = time.Time{}
	t.notifyLocked()
}

func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen {
		return
	}
	t.timer = nil
	t.clearTypingLocked()
}

func (t *Tracker) notifyLocked() {
	select {
	case t.changes <- struct{}{}:
	default:
	}
}

// Typing returns the participant currently typing, if any.
func (t *Tracker) Typing() (chat.ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing, t.typing != ""
}

// IsTyping reports whether user is the active typist.
func (t *Tracker) IsTyping(user chat.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return user != "" && t.typing == user
}

// TypingExpires returns when the current assertion lapses.
func (t *Tracker) TypingExpires() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expires
}

// Online returns the presence set, sorted.
func (t *Tracker) Online() []chat.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := lo.Keys(t.online)
	slices.Sort(ids)
	return ids
}

// IsOnline reports whether id is in the presence set.
func (t *Tracker) IsOnline(id chat.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[id]
	return ok
}

// Close cancels the expiry timer and freezes the tracker.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
