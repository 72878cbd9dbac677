package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/devserver/services"
	"github.com/adi-253/dmsync/internal/models"
)

// Notification is a notify request recorded instead of sending an email.
type Notification struct {
	ChatID   string
	FromID   string
	ToID     string
	FrontURL string
}

// ChatHandler contains HTTP handlers for chat operations.
// All handlers follow RESTful conventions and return JSON responses.
type ChatHandler struct {
	chats    *services.ChatService
	messages *services.MessageService
	users    *services.UserService

	mu       sync.Mutex
	notified []Notification
}

func NewChatHandler(chats *services.ChatService, messages *services.MessageService, users *services.UserService) *ChatHandler {
	return &ChatHandler{chats: chats, messages: messages, users: users}
}

// ListChats handles GET /chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chats.ListFor(currentUser(r).ID))
}

// StartChat handles POST /chats/start
// Finds or creates the chat with another user.
func (h *ChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req models.StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
		http.Error(w, "otherUserId is required", http.StatusBadRequest)
		return
	}

	chatID, err := h.chats.Start(currentUser(r).ID, req.OtherUserID)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusOK, models.StartChatResponse{ChatID: chatID})
	}
}

// GetMessages handles GET /chats/{id}/messages
// Query params:
//   - passKey: required when the caller guarded the chat
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	user := currentUser(r)

	if err := h.chats.CheckAccess(chatID, user.ID, r.URL.Query().Get("passKey")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.messages.List(chatID))
}

// SetPassKey handles POST /chats/{id}/passkey
// A null passKey removes the guard.
func (h *ChatHandler) SetPassKey(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	var req models.PassKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.chats.SetPassKey(chatID, currentUser(r).ID, req.PassKey); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
}

// Notify handles POST /chats/{id}/notify
// Email delivery is not part of the devserver; the request is logged and recorded.
func (h *ChatHandler) Notify(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	user := currentUser(r)

	var req models.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FrontURL == "" {
		http.Error(w, "frontUrl is required", http.StatusBadRequest)
		return
	}
	members, err := h.chats.Members(chatID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if members[0] != user.ID && members[1] != user.ID {
		writeServiceError(w, services.ErrNotMember)
		return
	}
	to := members[0]
	if to == user.ID {
		to = members[1]
	}

	n := Notification{ChatID: chatID, FromID: user.ID, ToID: to, FrontURL: req.FrontURL}
	h.mu.Lock()
	h.notified = append(h.notified, n)
	h.mu.Unlock()
	log.Info().Str("chat_id", chatID).Str("to", to).Str("front_url", req.FrontURL).Msg("[Chat] Notification requested")

	writeJSON(w, http.StatusOK, models.OKResponse{OK: true})
}

// Notifications returns the recorded notify requests.
func (h *ChatHandler) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.notified...)
}

// ListUsers handles GET /users
func (h *ChatHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.users.ListExcept(currentUser(r).ID))
}

// writeServiceError maps service errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrNotMember), errors.Is(err, services.ErrPassKeyRequired):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("[HTTP] Failed to write response")
	}
}
