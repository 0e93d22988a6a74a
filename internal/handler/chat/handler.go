package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bookly/realtime/internal/model/chat"
	chatService "github.com/bookly/realtime/internal/service/chat"
	"github.com/bookly/realtime/pkg/utils"
)

// Handler serves the message-store REST API.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates the message-store handler.
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes mounts the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.handleListConversations)
	r.Post("/conversations", h.handleCreateConversation)
	r.Get("/conversations/{conversationID}/messages", h.handleHistory)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := chat.ID(r.URL.Query().Get("user"))
	if user == "" {
		utils.RespondError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	conversations, err := h.chatSvc.ListConversations(r.Context(), user)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, conversations)
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Participants []chat.Participant `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.CreateConversation(r.Context(), payload.Participants)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chat.ID(chi.URLParam(r, "conversationID"))

	history, err := h.chatSvc.FetchHistory(r.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		utils.RespondError(w, status, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, history)
}
