package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator resolves a bearer token to its user.
type Authenticator interface {
	Authenticate(token string) (models.User, bool)
}

// Handler handles WebSocket connections
type Handler struct {
	hub   *Hub
	users Authenticator
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, users Authenticator) *Handler {
	return &Handler{hub: hub, users: users}
}

// ServeWS handles WebSocket upgrade requests at /ws. The bearer token comes
// from the Authorization header or the token query parameter.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	user, ok := h.users.Authenticate(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[WebSocket] Upgrade failed")
		return
	}

	log.Info().Str("user_id", user.ID).Str("name", user.Name).Msg("[WebSocket] New connection")

	client := NewClient(h.hub, conn, user.ID)
	if !h.hub.join(client) {
		_ = conn.Close()
		return
	}

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
