package conversation

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bookly/realtime/internal/handler"
	"github.com/bookly/realtime/internal/model/chat"
	chatservice "github.com/bookly/realtime/internal/service/chat"
	"github.com/bookly/realtime/internal/service/channel"
	"github.com/bookly/realtime/internal/service/realtime"
	"github.com/bookly/realtime/internal/service/timeline"
)

type gateway struct {
	srv   *httptest.Server
	store *chatservice.Service
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	store := chatservice.NewService()
	srv := httptest.NewServer(handler.NewRouter(store, chatservice.NewHub(), nil))
	t.Cleanup(srv.Close)
	return &gateway{srv: srv, store: store}
}

func (g *gateway) registry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	ws := "ws" + strings.TrimPrefix(g.srv.URL, "http")
	endpoint := func(conversationID, viewerID chat.ID) string {
		return ws + "/ws/chat/" + string(conversationID) + "/" + string(viewerID) + "/"
	}
	dialer := realtime.NewDialer(realtime.DefaultOptions(), nil)
	r := NewRegistry(NewHTTPStore(g.srv.URL+"/api", nil), channel.NewManager(dialer, endpoint, 16, nil), opts...)
	t.Cleanup(r.Close)
	return r
}

func contents(tl *timeline.Timeline) []string {
	var out []string
	for _, m := range tl.Messages() {
		out = append(out, m.Content)
	}
	return out
}

func ready(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Timeline().Seeded() && s.Channel().State() == realtime.StateOpen
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_EndToEnd(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g := newGateway(t)

	conv, err := g.store.CreateConversation(ctx, []chat.Participant{customer, barber})
	req.NoError(err)
	first, err := g.store.SaveMessage(ctx, conv.ID, barber.ID, "welcome")
	req.NoError(err)

	customerSide := g.registry(t, WithTypingTTL(time.Minute), WithTypingThrottle(time.Hour))
	shopSide := g.registry(t)

	summaries, err := customerSide.List(ctx, viewer)
	req.NoError(err)
	req.Len(summaries, 1)
	req.Equal("Cuts", summaries[0].Display.Name)

	mine, err := customerSide.Select(viewer, summaries[0].Conversation)
	req.NoError(err)
	ready(t, mine)
	req.Equal([]string{"welcome"}, contents(mine.Timeline()))
	req.Equal(barber, mine.Timeline().Messages()[0].Sender)

	theirs, err := shopSide.Select(chat.Viewer{ID: barber.ID, Role: chat.RoleShop}, conv)
	req.NoError(err)
	ready(t, theirs)

	req.Eventually(func() bool {
		return mine.Activity().IsOnline(barber.ID) && mine.Activity().IsOnline(customer.ID)
	}, 2*time.Second, 5*time.Millisecond)

	// Sent messages appear only once the gateway echoes them.
	req.True(mine.Send("hello"))
	req.Eventually(func() bool { return mine.Timeline().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return theirs.Timeline().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"welcome", "hello"}, contents(theirs.Timeline()))

	// Typing reaches the counterpart and a message from the typist clears it.
	req.True(theirs.Keystroke())
	req.Eventually(func() bool { return mine.Activity().IsTyping(barber.ID) }, 2*time.Second, 5*time.Millisecond)
	req.True(theirs.Send("see you at 10"))
	req.Eventually(func() bool {
		return mine.Timeline().Len() == 3 && !mine.Activity().IsTyping(barber.ID)
	}, 2*time.Second, 5*time.Millisecond)

	// Deletion is broadcast to both sides.
	req.True(mine.Delete(first.ID))
	req.Eventually(func() bool { return !mine.Timeline().Contains(first.ID) }, 2*time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return !theirs.Timeline().Contains(first.ID) }, 2*time.Second, 5*time.Millisecond)
	req.Equal([]string{"hello", "see you at 10"}, contents(mine.Timeline()))

	history, err := g.store.FetchHistory(ctx, conv.ID)
	req.NoError(err)
	req.Len(history.Messages, 2)

	// Leaving updates the remaining side's presence.
	req.NoError(shopSide.Deselect(barber.ID))
	req.Eventually(func() bool { return !mine.Activity().IsOnline(barber.ID) }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_SwitchingConversationClosesPrevious(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g := newGateway(t)

	c1, err := g.store.CreateConversation(ctx, []chat.Participant{customer, barber})
	req.NoError(err)
	c2, err := g.store.CreateConversation(ctx, []chat.Participant{customer, stylist})
	req.NoError(err)
	_, err = g.store.SaveMessage(ctx, c2.ID, stylist.ID, "hi from c2")
	req.NoError(err)

	r := g.registry(t)
	s1, err := r.Select(viewer, c1)
	req.NoError(err)
	ready(t, s1)

	s2, err := r.Select(viewer, c2)
	req.NoError(err)
	ready(t, s2)

	<-s1.Done()
	req.False(s1.Send("late"))
	req.True(s1.CloseInfo().Normal())
	req.Equal([]string{"hi from c2"}, contents(s2.Timeline()))

	req.True(s2.Send("only here"))
	req.Eventually(func() bool { return s2.Timeline().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	req.Zero(s1.Timeline().Len())

	h1, err := g.store.FetchHistory(ctx, c1.ID)
	req.NoError(err)
	req.Empty(h1.Messages)
}

func TestSession_UnknownViewerIsRejected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	g := newGateway(t)

	conv, err := g.store.CreateConversation(ctx, []chat.Participant{barber, stylist})
	req.NoError(err)

	s, err := g.registry(t).Select(viewer, conv)
	req.NoError(err)

	<-s.Done()
	req.Equal(realtime.ClosePeerNotFound, s.CloseInfo().Code)
	req.True(s.Timeline().Seeded())
}

func TestRegistry_ConcurrentSelectsKeepOneSession(t *testing.T) {
	req := require.New(t)
	g := newGateway(t)

	conv, err := g.store.CreateConversation(context.Background(), []chat.Participant{customer, barber})
	req.NoError(err)
	r := g.registry(t)

	for round := 0; round < 10; round++ {
		var wg sync.WaitGroup
		selected := make([]*Session, 2)
		for i := range selected {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, err := r.Select(viewer, conv)
				if err == nil {
					selected[i] = s
				}
			}(i)
		}
		wg.Wait()

		var live []*Session
		for _, s := range selected {
			req.NotNil(s)
			select {
			case <-s.Done():
			default:
				live = append(live, s)
			}
		}
		req.Len(live, 1, "round %d", round)
		current, ok := r.Current(viewer.ID)
		req.True(ok)
		req.Same(live[0], current)
	}

	r.Close()
	_, ok := r.Current(viewer.ID)
	req.False(ok)
}
