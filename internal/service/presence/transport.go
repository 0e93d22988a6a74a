// Package presence maintains the per-user notification connection that runs
// independently of whichever conversation is open.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

var (
	ErrUserRequired       = errors.New("user id is required")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

const (
	DefaultReconnectBase = time.Second
	DefaultMaxAttempts   = 5
)

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (*realtime.Conn, error)
}

// EndpointFunc returns the notification endpoint for a user.
type EndpointFunc func(userID chat.ID) string

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithReconnectBase sets the linear back-off unit.
func WithReconnectBase(d time.Duration) Option {
	return func(t *Transport) { t.reconnectBase = d }
}

// WithMaxAttempts sets how many reconnects are tried before giving up.
func WithMaxAttempts(n int) Option {
	return func(t *Transport) { t.maxAttempts = n }
}

// Diagnostics is the transport-level state recorded on errors.
type Diagnostics struct {
	User        chat.ID
	State       realtime.State
	Endpoint    string
	Subprotocol string
	Attempts    int
	LastError   error
	LastClose   realtime.CloseInfo
}

// Transport owns at most one notification connection per signed-in user.
// A scope starts with Connect and ends with Close, a user switch, or
// exhausted reconnects. Each scope carries a generation number; dial results,
// reconnect timers and forwarders from an older generation are ignored.
type Transport struct {
	dialer        Dialer
	endpoint      EndpointFunc
	logger        *slog.Logger
	reconnectBase time.Duration
	maxAttempts   int

	mu       sync.Mutex
	started  bool
	active   bool
	gen      uint64
	user     chat.ID
	conn     *realtime.Conn
	dialing  bool
	attempts int
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	diag     Diagnostics

	events   chan realtime.Event
	failures chan error
}

// New creates an idle transport. Nothing is dialed until Connect.
func New(dialer Dialer, endpoint EndpointFunc, opts ...Option) *Transport {
	t := &Transport{
		dialer:        dialer,
		endpoint:      endpoint,
		logger:        slog.Default(),
		reconnectBase: DefaultReconnectBase,
		maxAttempts:   DefaultMaxAttempts,
	}
	t.resetStreamsLocked()
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "presence")
	return t
}

// Events streams inbound notifications of the current scope across
// reconnects. Every scope after the first gets a fresh stream, so callers
// fetch it again after Connect for another user or after Close.
func (t *Transport) Events() <-chan realtime.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Failures receives the terminal error of the current scope once reconnects
// are exhausted. Like Events it is replaced when a new scope starts.
func (t *Transport) Failures() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// resetStreamsLocked abandons the previous scope's streams. Anything still
// buffered there stays with the old scope.
func (t *Transport) resetStreamsLocked() {
	t.events = make(chan realtime.Event, 64)
	t.failures = make(chan error, 1)
}

// Connect starts (or reuses) the connection for userID. Establishment runs in
// the background; a live or in-flight connection for the same user is reused.
func (t *Transport) Connect(userID chat.ID) error {
	if userID == "" {
		return ErrUserRequired
	}

	t.mu.Lock()
	var stale *realtime.Conn
	if t.active && t.user != userID {
		stale = t.teardownLocked()
	}

	if !t.active {
		t.active = true
		t.gen++
		t.user = userID
		t.attempts = 0
		t.ctx, t.cancel = context.WithCancel(context.Background())
		t.diag = Diagnostics{User: userID}
		if t.started {
			t.resetStreamsLocked()
		}
		t.started = true
	}

	switch {
	case t.dialing:
	case t.conn != nil && t.conn.State() != realtime.StateClosed:
	default:
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.dialLocked()
	}
	t.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	return nil
}

// Close tears the current scope down and cancels any pending reconnect.
func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return nil
	}
	conn := t.teardownLocked()
	t.mu.Unlock()

	t.logger.Info("transport closed")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// State reports the ready state of the current connection.
func (t *Transport) State() realtime.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Diagnostics returns a snapshot of the recorded transport state.
func (t *Transport) Diagnostics() Diagnostics {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.diag
	d.State = t.stateLocked()
	d.Attempts = t.attempts
	return d
}

func (t *Transport) stateLocked() realtime.State {
	switch {
	case t.dialing:
		return realtime.StateConnecting
	case t.conn != nil:
		return t.conn.State()
	default:
		return realtime.StateClosed
	}
}

func (t *Transport) dialLocked() {
	t.dialing = true
	endpoint := t.endpoint(t.user)
	t.diag.Endpoint = endpoint
	go t.dial(t.ctx, t.gen, endpoint)
}

func (t *Transport) dial(ctx context.Context, gen uint64, endpoint string) {
	conn, err := t.dialer.Dial(ctx, endpoint)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	t.dialing = false

	if err != nil {
		t.diag.LastError = err
		t.logger.Warn("connect failed", "user", t.user, "endpoint", endpoint, "error", err)
		t.handleCloseLocked(realtime.CloseInfoFromError(err))
		t.mu.Unlock()
		return
	}

	t.conn = conn
	t.attempts = 0
	t.diag.Subprotocol = conn.Subprotocol()
	t.logger.Info("transport open", "user", t.user, "endpoint", endpoint)
	events := t.events
	t.mu.Unlock()

	go t.forward(ctx, gen, conn, events)
}

// forward relays conn's events into the stream of the scope that dialed it.
func (t *Transport) forward(ctx context.Context, gen uint64, conn *realtime.Conn, events chan<- realtime.Event) {
	for evt := range conn.Events() {
		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}
	info := conn.CloseInfo()

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.conn != conn {
		return
	}
	if info.Err != nil {
		t.diag.LastError = info.Err
	}
	t.handleCloseLocked(info)
}

func (t *Transport) handleCloseLocked(info realtime.CloseInfo) {
	t.diag.LastClose = info
	t.logger.Info("transport closed by peer", "user", t.user, "code", info.Code, "reason", info.Reason)

	if !realtime.IsRetryable(info) {
		return
	}

	if t.attempts < t.maxAttempts {
		t.attempts++
		delay := time.Duration(t.attempts) * t.reconnectBase
		gen := t.gen
		t.logger.Info("scheduling reconnect", "user", t.user, "attempt", t.attempts, "delay", delay)
		t.timer = time.AfterFunc(delay, func() { t.reconnect(gen) })
		return
	}

	err := fmt.Errorf("%w: user %s after %d attempts, last close %s", ErrReconnectExhausted, t.user, t.attempts, info)
	t.logger.Error("giving up on transport", "user", t.user, "error", err)
	failures := t.failures
	if conn := t.teardownLocked(); conn != nil {
		go conn.Close()
	}
	select {
	case failures <- err:
	default:
		t.logger.Warn("failure not delivered, previous one still pending", "user", t.user)
	}
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.active {
		return
	}
	t.timer = nil
	t.dialLocked()
}

// teardownLocked ends the current scope and hands back the connection so the
// caller can close it without holding the lock.
func (t *Transport) teardownLocked() *realtime.Conn {
	t.active = false
	t.gen++
	t.dialing = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	return conn
}
