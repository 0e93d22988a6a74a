package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bookly/realtime/internal/config"
	"github.com/bookly/realtime/internal/handler"
	"github.com/bookly/realtime/internal/model/chat"
	chatService "github.com/bookly/realtime/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	chatSvc := chatService.NewService()
	if err := seed(ctx, chatSvc, logger); err != nil {
		log.Fatalf("failed to seed conversations: %v", err)
	}

	router := handler.NewRouter(chatSvc, chatService.NewHub(), logger)
	startServer(ctx, cfg.Addr(), router, logger)
}

// seed creates a customer/shop conversation so clients have something to open.
func seed(ctx context.Context, chatSvc *chatService.Service, logger *slog.Logger) error {
	verified := true
	conv, err := chatSvc.CreateConversation(ctx, []chat.Participant{
		{ID: "customer-1", Name: "Ada", Role: chat.RoleCustomer},
		{ID: "shop-1", Name: "Grace", Role: chat.RoleShop, ShopName: "Hopper Hair Studio", Verified: &verified},
	})
	if err != nil {
		return err
	}
	logger.Info("seeded conversation", "conversation", conv.ID)
	return nil
}

func startServer(ctx context.Context, addr string, router http.Handler, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("gateway listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
