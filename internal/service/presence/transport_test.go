package presence

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/realtime"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// gateway counts connection attempts and hands each one to handle together
// with its 1-based attempt number.
type gateway struct {
	srv      *httptest.Server
	attempts atomic.Int32
}

func newGateway(t *testing.T, handle func(attempt int, w http.ResponseWriter, r *http.Request)) *gateway {
	t.Helper()
	g := &gateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle(int(g.attempts.Add(1)), w, r)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gateway) endpoint(user chat.ID) string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/notifications/" + string(user) + "/"
}

func reject(w http.ResponseWriter) {
	http.Error(w, "unavailable", http.StatusServiceUnavailable)
}

// hold keeps an accepted connection open until the client goes away.
func hold(w http.ResponseWriter, r *http.Request, first ...string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for _, payload := range first {
		conn.WriteMessage(websocket.TextMessage, []byte(payload))
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWith(w http.ResponseWriter, r *http.Request, code int) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
}

func newTransport(g *gateway, base time.Duration) *Transport {
	opts := realtime.DefaultOptions()
	opts.ConnectTimeout = time.Second
	return New(realtime.NewDialer(opts, nil), g.endpoint, WithReconnectBase(base))
}

func TestTransport_ReusesLiveConnection(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(_ int, w http.ResponseWriter, r *http.Request) { hold(w, r) })
	tr := newTransport(g, time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))
	req.Eventually(func() bool { return tr.State() == realtime.StateOpen }, 2*time.Second, 10*time.Millisecond)

	req.NoError(tr.Connect("u1"))
	req.NoError(tr.Connect("u1"))
	time.Sleep(50 * time.Millisecond)
	req.Equal(int32(1), g.attempts.Load())
}

func TestTransport_RequiresUser(t *testing.T) {
	tr := New(nil, nil)
	require.ErrorIs(t, tr.Connect(""), ErrUserRequired)
}

func TestTransport_ReconnectsAfterAbnormalCloseAndResetsAttempts(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(attempt int, w http.ResponseWriter, r *http.Request) {
		switch attempt {
		case 1:
			closeWith(w, r, websocket.CloseInternalServerErr)
		case 2:
			reject(w)
		default:
			hold(w, r, `{"type":"online_status","online_users":["u2"]}`)
		}
	})
	tr := newTransport(g, 5*time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))

	select {
	case evt := <-tr.Events():
		req.Equal(realtime.OnlineStatus{OnlineUsers: []chat.ID{"u2"}}, evt)
	case <-time.After(3 * time.Second):
		t.Fatal("no event after reconnect")
	}
	req.Equal(int32(3), g.attempts.Load())

	diag := tr.Diagnostics()
	req.Equal(realtime.StateOpen, diag.State)
	req.Equal(0, diag.Attempts)
	req.Equal(g.endpoint("u1"), diag.Endpoint)
	req.Equal(websocket.CloseAbnormalClosure, diag.LastClose.Code)
	req.Error(diag.LastError)
}

func TestTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(_ int, w http.ResponseWriter, _ *http.Request) { reject(w) })
	tr := newTransport(g, time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))

	select {
	case err := <-tr.Failures():
		req.ErrorIs(err, ErrReconnectExhausted)
	case <-time.After(3 * time.Second):
		t.Fatal("terminal failure was not reported")
	}

	// one initial attempt plus five reconnects, then nothing more
	req.Equal(int32(1+DefaultMaxAttempts), g.attempts.Load())
	time.Sleep(100 * time.Millisecond)
	req.Equal(int32(1+DefaultMaxAttempts), g.attempts.Load())
	req.Equal(realtime.StateClosed, tr.State())

	select {
	case err := <-tr.Failures():
		t.Fatalf("failure reported twice: %v", err)
	default:
	}
}

func TestTransport_NormalClosureDoesNotReconnect(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		closeWith(w, r, websocket.CloseNormalClosure)
	})
	tr := newTransport(g, time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))
	req.Eventually(func() bool { return tr.Diagnostics().LastClose.Code == websocket.CloseNormalClosure }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	req.Equal(int32(1), g.attempts.Load())
	req.Equal(realtime.StateClosed, tr.State())
}

func TestTransport_CloseCancelsPendingReconnect(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(_ int, w http.ResponseWriter, _ *http.Request) { reject(w) })
	tr := newTransport(g, 200*time.Millisecond)

	req.NoError(tr.Connect("u1"))
	req.Eventually(func() bool { return tr.Diagnostics().Attempts == 1 }, 2*time.Second, 5*time.Millisecond)

	req.NoError(tr.Close())
	time.Sleep(400 * time.Millisecond)
	req.Equal(int32(1), g.attempts.Load())
}

func TestTransport_SwitchingUserReplacesConnection(t *testing.T) {
	req := require.New(t)
	paths := make(chan string, 4)
	g := newGateway(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		hold(w, r)
	})
	tr := newTransport(g, time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))
	req.Equal("/ws/notifications/u1/", <-paths)
	req.Eventually(func() bool { return tr.State() == realtime.StateOpen }, 2*time.Second, 10*time.Millisecond)

	req.NoError(tr.Connect("u2"))
	req.Equal("/ws/notifications/u2/", <-paths)
	req.Eventually(func() bool { return tr.Diagnostics().User == "u2" && tr.State() == realtime.StateOpen }, 2*time.Second, 10*time.Millisecond)
}

func TestTransport_NewScopeDoesNotSeePreviousUsersEvents(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/u1/") {
			hold(w, r, `{"type":"chat_message","id":"m1","user":"x","message":"secret for u1"}`)
			return
		}
		hold(w, r)
	})
	tr := newTransport(g, time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))
	first := tr.Events()
	req.Eventually(func() bool { return len(first) == 1 }, 2*time.Second, 5*time.Millisecond)

	req.NoError(tr.Close())
	req.NoError(tr.Connect("u2"))
	req.Eventually(func() bool { return tr.State() == realtime.StateOpen }, 2*time.Second, 10*time.Millisecond)

	second := tr.Events()
	req.True(first != second, "a new scope gets its own stream")
	select {
	case evt := <-second:
		t.Fatalf("u2 scope received %#v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransport_UserSwitchDropsBufferedEventsAndFailures(t *testing.T) {
	req := require.New(t)
	g := newGateway(t, func(_ int, w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/u1/") {
			hold(w, r, `{"type":"online_status","online_users":["u1"]}`)
			return
		}
		hold(w, r)
	})
	tr := newTransport(g, time.Millisecond)
	defer tr.Close()

	req.NoError(tr.Connect("u1"))
	req.Eventually(func() bool { return len(tr.Events()) == 1 }, 2*time.Second, 5*time.Millisecond)

	req.NoError(tr.Connect("u2"))
	req.Eventually(func() bool {
		return tr.Diagnostics().User == "u2" && tr.State() == realtime.StateOpen
	}, 2*time.Second, 10*time.Millisecond)
	req.Zero(len(tr.Events()))
	req.Zero(len(tr.Failures()))
}

func TestTransport_StalledHandshakeTimesOutAndReconnects(t *testing.T) {
	req := require.New(t)
	release := make(chan struct{})
	g := newGateway(t, func(attempt int, w http.ResponseWriter, r *http.Request) {
		if attempt == 1 {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		hold(w, r)
	})
	t.Cleanup(func() { close(release) })

	opts := realtime.DefaultOptions()
	opts.ConnectTimeout = 100 * time.Millisecond
	tr := New(realtime.NewDialer(opts, nil), g.endpoint, WithReconnectBase(5*time.Millisecond))
	defer tr.Close()

	req.NoError(tr.Connect("u1"))
	req.Eventually(func() bool { return tr.State() == realtime.StateOpen }, 3*time.Second, 10*time.Millisecond)

	diag := tr.Diagnostics()
	req.Equal(int32(2), g.attempts.Load())
	req.Equal(0, diag.Attempts)
	req.Equal(websocket.CloseAbnormalClosure, diag.LastClose.Code)
	req.ErrorContains(diag.LastError, "timed out")
}
