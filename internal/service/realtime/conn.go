package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// State mirrors the ready state of a websocket.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Options tune connection establishment and liveness.
type Options struct {
	ConnectTimeout time.Duration // dial + handshake must finish within this
	PingInterval   time.Duration
	ReadTimeout    time.Duration // refreshed on every frame and pong
	WriteTimeout   time.Duration
	EventBuffer    int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		EventBuffer:    64,
	}
}

// Dialer opens client connections.
type Dialer struct {
	ws     *websocket.Dialer
	opts   Options
	logger *slog.Logger
}

// NewDialer builds a Dialer. A nil logger falls back to slog.Default.
func NewDialer(opts Options, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		},
		opts:   opts,
		logger: logger,
	}
}

// Options returns the dialer's options.
func (d *Dialer) Options() Options {
	return d.opts
}

// Dial connects to endpoint. An attempt that does not reach the open state
// within ConnectTimeout is abandoned and reported as a *DialError.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	ws, resp, err := d.ws.DialContext(ctx, endpoint, nil)
	if err != nil {
		dialErr := &DialError{Endpoint: endpoint, Err: err}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			dialErr.Code = ClosePeerNotFound
		}
		return nil, dialErr
	}
	return newConn(ws, endpoint, d.opts, d.logger), nil
}

// Conn is an open client connection. Inbound envelopes are decoded once by a
// single reader goroutine and delivered in arrival order on Events.
type Conn struct {
	ws       *websocket.Conn
	endpoint string
	opts     Options
	logger   *slog.Logger

	state   atomic.Int32
	local   atomic.Bool
	writeMu sync.Mutex

	events    chan Event
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeInfo CloseInfo
}

func newConn(ws *websocket.Conn, endpoint string, opts Options, logger *slog.Logger) *Conn {
	c := &Conn{
		ws:       ws,
		endpoint: endpoint,
		opts:     opts,
		logger:   logger.With("endpoint", endpoint),
		events:   make(chan Event, opts.EventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))

	ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c
}

// Events yields decoded inbound events. It is closed when the connection ends.
func (c *Conn) Events() <-chan Event { return c.events }

// Done is closed once the connection has fully ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

// CloseInfo reports why the connection ended. Valid after Done is closed.
func (c *Conn) CloseInfo() CloseInfo {
	<-c.done
	return c.closeInfo
}

// State returns the current ready state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Endpoint returns the dialed URL.
func (c *Conn) Endpoint() string { return c.endpoint }

// Subprotocol returns the negotiated subprotocol, if any.
func (c *Conn) Subprotocol() string { return c.ws.Subprotocol() }

// Send writes an event if the connection is open. Sends in any other state
// are dropped; nothing is queued or retried.
func (c *Conn) Send(e Event) bool {
	if c.State() != StateOpen {
		c.logger.Debug("dropping send on non-open connection", "type", e.Type(), "state", c.State())
		return false
	}

	data, err := Encode(e)
	if err != nil {
		c.logger.Warn("encode failed", "type", e.Type(), "error", err)
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("write failed", "type", e.Type(), "error", err)
		return false
	}
	return true
}

// Close performs a clean shutdown and waits for the reader to exit.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		<-c.done
		return nil
	}
	c.local.Store(true)

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
	c.writeMu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	c.ws.Close()
	<-c.done

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (c *Conn) readLoop() {
	defer c.finish()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeInfo = c.classify(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		evt, err := Decode(data, Inbound)
		if err != nil {
			c.logger.Warn("discarding inbound payload", "error", err, "size", len(data))
			continue
		}

		select {
		case c.events <- evt:
		case <-c.stop:
			c.closeInfo = newCloseInfo(websocket.CloseNormalClosure, nil)
			return
		}
	}
}

func (c *Conn) classify(err error) CloseInfo {
	if c.local.Load() {
		return newCloseInfo(websocket.CloseNormalClosure, nil)
	}
	return CloseInfoFromError(err)
}

func (c *Conn) finish() {
	c.state.Store(int32(StateClosed))
	c.stopOnce.Do(func() { close(c.stop) })
	c.ws.Close()
	close(c.events)
	close(c.done)
}

func (c *Conn) pingLoop() {
	if c.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
