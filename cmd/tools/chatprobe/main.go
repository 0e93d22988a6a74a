package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/bookly/realtime/internal/config"
	"github.com/bookly/realtime/internal/model/chat"
	"github.com/bookly/realtime/internal/service/conversation"
	"github.com/bookly/realtime/internal/service/messaging"
	"github.com/bookly/realtime/internal/service/realtime"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] .env not loaded, using system environment: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var user, role string

	root := &cobra.Command{
		Use:          "chatprobe",
		Short:        "Manual client for the realtime messaging gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&user, "user", "", "viewer id")
	root.PersistentFlags().StringVar(&role, "role", string(chat.RoleCustomer), "viewer role: customer, shop or admin")
	_ = root.MarkPersistentFlagRequired("user")

	viewer := func() chat.Viewer {
		return chat.Viewer{ID: chat.ID(user), Role: chat.Role(role)}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations with their counterpart",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd.Context(), viewer(), runList)
			},
		},
		&cobra.Command{
			Use:   "chat <conversation-id>",
			Short: "Open a conversation; stdin lines are sent, /del <id> deletes",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd.Context(), viewer(), func(ctx context.Context, c *messaging.Client) error {
					return runChat(ctx, c, chat.ID(args[0]))
				})
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Print notifications until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd.Context(), viewer(), runWatch)
			},
		},
	)
	return root
}

func withClient(parent context.Context, viewer chat.Viewer, fn func(context.Context, *messaging.Client) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	client := messaging.New(*cfg, nil, messaging.StaticIdentity(viewer), cfg.NewLogger())
	defer client.Teardown()

	return fn(ctx, client)
}

func runList(ctx context.Context, client *messaging.Client) error {
	summaries, err := client.Conversations(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		mark := ""
		if s.Display.Verified {
			mark = " ✓"
		}
		fmt.Printf("%s\t%s%s\n", s.Conversation.ID, s.Display.Name, mark)
	}
	return nil
}

func runChat(ctx context.Context, client *messaging.Client, conversationID chat.ID) error {
	summaries, err := client.Conversations(ctx)
	if err != nil {
		return err
	}
	var target *conversation.Summary
	for i := range summaries {
		if summaries[i].Conversation.ID == conversationID {
			target = &summaries[i]
		}
	}
	if target == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}

	session, err := client.Open(ctx, target.Conversation)
	if err != nil {
		return err
	}
	fmt.Printf("chatting with %s\n", target.Display.Name)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	printed := make(map[chat.ID]struct{})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			fmt.Printf("channel closed: %s\n", session.CloseInfo())
			return nil
		case <-session.Changes():
			added, removed := diffTimeline(printed, session.Timeline().Messages())
			for _, id := range removed {
				fmt.Printf("-- message %s deleted --\n", id)
			}
			for _, m := range added {
				fmt.Printf("[%s] %s: %s\n", m.ID, m.Sender.ID, m.Content)
			}
		case <-session.Activity().Changes():
			if who, ok := session.Activity().Typing(); ok {
				fmt.Printf("%s is typing...\n", who)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if id, found := strings.CutPrefix(line, "/del "); found {
				session.Delete(chat.ID(strings.TrimSpace(id)))
				continue
			}
			session.Keystroke()
			if !session.Send(line) {
				fmt.Println("not sent: channel is not open")
			}
		}
	}
}

// diffTimeline compares the timeline with the ids already shown, returning
// what is new and what disappeared, and updates shown to match.
func diffTimeline(shown map[chat.ID]struct{}, messages []chat.Message) ([]chat.Message, []chat.ID) {
	current := lo.SliceToMap(messages, func(m chat.Message) (chat.ID, struct{}) {
		return m.ID, struct{}{}
	})
	added := lo.Filter(messages, func(m chat.Message, _ int) bool {
		_, ok := shown[m.ID]
		return !ok
	})
	removed := lo.Filter(lo.Keys(shown), func(id chat.ID, _ int) bool {
		_, ok := current[id]
		return !ok
	})
	slices.Sort(removed)

	for _, id := range removed {
		delete(shown, id)
	}
	for _, m := range added {
		shown[m.ID] = struct{}{}
	}
	return added, removed
}

func runWatch(ctx context.Context, client *messaging.Client) error {
	if _, err := client.Init(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-client.Failures():
			return err
		case evt := <-client.Notifications():
			switch e := evt.(type) {
			case realtime.ChatMessage:
				fmt.Printf("new message from %s: %s\n", e.User, e.Message)
			default:
				fmt.Printf("%s event\n", evt.Type())
			}
		}
	}
}
