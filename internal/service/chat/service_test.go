package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bookly/realtime/internal/model/chat"
	chatservice "github.com/bookly/realtime/internal/service/chat"
)

var (
	customer = chat.Participant{ID: "u1", Name: "Ana", Role: chat.RoleCustomer}
	shop     = chat.Participant{ID: "s1", Name: "Ben", Role: chat.RoleShop}
)

func TestServiceCreateAndGetConversation(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, []chat.Participant{customer, shop, customer, {Name: "no id"}})
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}
	if len(conv.Participants) != 2 {
		t.Fatalf("expected 2 distinct participants, got %d", len(conv.Participants))
	}

	got, err := svc.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("unexpected conversation ID: got %s want %s", got.ID, conv.ID)
	}
}

func TestServiceCreateConversationNeedsTwoParticipants(t *testing.T) {
	svc := chatservice.NewService()

	_, err := svc.CreateConversation(context.Background(), []chat.Participant{customer, customer})
	if !errors.Is(err, chatservice.ErrParticipantsRequired) {
		t.Fatalf("expected ErrParticipantsRequired, got %v", err)
	}
}

func TestServiceGetConversationNotFound(t *testing.T) {
	svc := chatservice.NewService()

	if _, err := svc.GetConversation(context.Background(), "missing"); !errors.Is(err, chatservice.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestServiceListConversationsForViewer(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()
	other := chat.Participant{ID: "s2", Name: "Cleo", Role: chat.RoleShop}

	first, _ := svc.CreateConversation(ctx, []chat.Participant{customer, shop})
	svc.CreateConversation(ctx, []chat.Participant{shop, other})
	third, _ := svc.CreateConversation(ctx, []chat.Participant{other, customer})

	list, err := svc.ListConversations(ctx, customer.ID)
	if err != nil {
		t.Fatalf("ListConversations err: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != third.ID {
		t.Fatalf("unexpected conversations: %+v", list)
	}

	none, err := svc.ListConversations(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListConversations err: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected an empty, non-nil list, got %#v", none)
	}
}

func TestServiceMessagesLifecycle(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()
	conv, _ := svc.CreateConversation(ctx, []chat.Participant{customer, shop})

	if _, err := svc.SaveMessage(ctx, conv.ID, customer.ID, "  "); !errors.Is(err, chatservice.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.SaveMessage(ctx, conv.ID, "stranger", "hi"); !errors.Is(err, chatservice.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := svc.SaveMessage(ctx, "missing", customer.ID, "hi"); !errors.Is(err, chatservice.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	first, err := svc.SaveMessage(ctx, conv.ID, customer.ID, "hi")
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if first.ID == "" || first.Timestamp.IsZero() || first.Sender.ID != customer.ID {
		t.Fatalf("message not stamped: %+v", first)
	}
	second, _ := svc.SaveMessage(ctx, conv.ID, shop.ID, "hello")

	if err := svc.DeleteMessage(ctx, conv.ID, first.ID); err != nil {
		t.Fatalf("DeleteMessage err: %v", err)
	}
	if err := svc.DeleteMessage(ctx, conv.ID, first.ID); !errors.Is(err, chatservice.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	history, err := svc.FetchHistory(ctx, conv.ID)
	if err != nil {
		t.Fatalf("FetchHistory err: %v", err)
	}
	if len(history.Messages) != 1 || history.Messages[0].ID != second.ID {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}
	if len(history.Participants) != 2 {
		t.Fatalf("history should carry participants, got %d", len(history.Participants))
	}
}

func TestHubFanOut(t *testing.T) {
	hub := chatservice.NewHub()
	a := chatservice.NewSubscriber("u1", 1)
	b := chatservice.NewSubscriber("s1", 1)
	again := chatservice.NewSubscriber("u1", 1)

	hub.Join("c1", a)
	hub.Join("c1", b)
	hub.Join("c1", again)
	if got := hub.Online("c1"); len(got) != 2 || got[0] != "s1" || got[1] != "u1" {
		t.Fatalf("unexpected online users: %v", got)
	}

	hub.Broadcast("c1", []byte("x"))
	for _, s := range []*chatservice.Subscriber{a, b, again} {
		if got := string(<-s.Send); got != "x" {
			t.Fatalf("unexpected payload %q", got)
		}
	}

	// A full queue drops the subscriber.
	hub.Broadcast("c1", []byte("1"))
	hub.Broadcast("c1", []byte("2"))
	<-a.Send
	if _, ok := <-a.Send; ok {
		t.Fatal("expected the slow subscriber's queue to be closed")
	}
	if got := hub.Online("c1"); len(got) != 0 {
		t.Fatalf("expected empty room, got %v", got)
	}

	hub.Leave("c1", a)
}

func TestHubNotify(t *testing.T) {
	hub := chatservice.NewHub()
	inbox := chatservice.NewSubscriber("s1", 4)
	hub.Subscribe(inbox)

	hub.Notify("s1", []byte("ping"))
	hub.Notify("u1", []byte("not for s1"))
	if got := string(<-inbox.Send); got != "ping" {
		t.Fatalf("unexpected payload %q", got)
	}

	hub.Unsubscribe(inbox)
	if _, ok := <-inbox.Send; ok {
		t.Fatal("expected queue closed after unsubscribe")
	}
}
