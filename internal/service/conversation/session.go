package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/activity"
	"github.com/bookly/realtime/internal/service/channel"
	"github.com/bookly/realtime/internal/service/realtime"
	"github.com/bookly/realtime/internal/service/timeline"
)

type historyResult struct {
	history chat.History
	err     error
}

// Session is one selected conversation: its channel, timeline and activity
// state. A single loop goroutine applies channel events in arrival order.
type Session struct {
	viewer       chat.Viewer
	conversation chat.Conversation
	counterpart  chat.Participant
	channel      *channel.Channel
	timeline     *timeline.Timeline
	tracker      *activity.Tracker
	throttle     *activity.Throttle
	logger       *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	changes chan struct{}
	done    chan struct{}

	mu         sync.Mutex
	historyErr error
}

func newSession(viewer chat.Viewer, conv chat.Conversation, counterpart chat.Participant, ch *channel.Channel,
	fetcher timeline.HistoryFetcher, typingTTL, throttle time.Duration, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		viewer:       viewer,
		conversation: conv,
		counterpart:  counterpart,
		channel:      ch,
		timeline:     timeline.New(conv.ID),
		tracker:      activity.NewTracker(viewer.ID, typingTTL),
		logger:       logger.With("viewer", viewer.ID, "conversation", conv.ID),
		ctx:          ctx,
		cancel:       cancel,
		changes:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	s.throttle = activity.NewThrottle(throttle, func() bool {
		return s.channel.SendTyping(s.counterpart.ID)
	})

	history := make(chan historyResult, 1)
	go func() {
		h, err := fetcher.FetchHistory(ctx, conv.ID)
		history <- historyResult{history: h, err: err}
	}()
	go s.run(history)
	return s
}

// Conversation returns the selected conversation.
func (s *Session) Conversation() chat.Conversation { return s.conversation }

// Counterpart returns the other participant.
func (s *Session) Counterpart() chat.Participant { return s.counterpart }

// Timeline returns the message view.
func (s *Session) Timeline() *timeline.Timeline { return s.timeline }

// Activity returns typing and presence state.
func (s *Session) Activity() *activity.Tracker { return s.tracker }

// Channel returns the underlying channel.
func (s *Session) Channel() *channel.Channel { return s.channel }

// Changes signals, coalesced, that the timeline changed.
func (s *Session) Changes() <-chan struct{} { return s.changes }

// Done is closed when the session has stopped applying events.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseInfo reports why the channel ended.
func (s *Session) CloseInfo() realtime.CloseInfo { return s.channel.CloseInfo() }

// HistoryErr returns the history fetch error, if any.
func (s *Session) HistoryErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyErr
}

// Send posts a message. It shows up in the timeline once the gateway echoes it.
func (s *Session) Send(text string) bool {
	return s.channel.SendMessage(text)
}

// Keystroke reports composing activity to the counterpart, throttled.
func (s *Session) Keystroke() bool {
	return s.throttle.Keystroke()
}

// Delete requests deletion of a message.
func (s *Session) Delete(id chat.ID) bool {
	return s.channel.DeleteMessage(id)
}

// Close stops the session and its channel.
func (s *Session) Close() error {
	s.cancel()
	err := s.channel.Close()
	<-s.done
	return err
}

func (s *Session) run(history <-chan historyResult) {
	defer close(s.done)
	defer s.tracker.Close()

	events := s.channel.Events()
	for events != nil || history != nil {
		select {
		case <-s.ctx.Done():
			return
		case res := <-history:
			history = nil
			if res.err != nil {
				s.logger.Warn("history fetch failed", "error", res.err)
				s.mu.Lock()
				s.historyErr = res.err
				s.mu.Unlock()
			}
			s.timeline.Seed(res.history)
			s.notify()
		case evt, ok := <-events:
			if !ok {
				events = nil
				info := s.channel.CloseInfo()
				s.logger.Info("session channel ended", "code", info.Code, "reason", info.Reason)
				continue
			}
			if s.timeline.Apply(evt) {
				s.notify()
			}
			s.tracker.Apply(evt)
		}
	}
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
