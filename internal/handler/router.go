package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bookly/realtime/internal/handler/chat"
	"github.com/bookly/realtime/internal/handler/socket"
	middlewarePkg "github.com/bookly/realtime/internal/middleware"
	chatService "github.com/bookly/realtime/internal/service/chat"
)

// NewRouter wires the message-store API and the realtime endpoints.
func NewRouter(chatSvc *chatService.Service, hub *chatService.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc)
	socketHandler := socket.New(chatSvc, hub, logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})
	socketHandler.RegisterRoutes(r)

	return r
}
