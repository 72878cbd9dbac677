package websocket

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/devserver/services"
	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
)

// Hub maintains the set of active clients, the chat rooms they joined, and
// routes events between them. All state changes happen on the Run goroutine.
type Hub struct {
	// users maps userID to the connections of that user
	users map[string]map[*Client]bool

	// rooms maps chatID to the connections that joined it
	rooms map[string]map[*Client]bool

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// inbound carries decoded envelopes from the read pumps
	inbound chan *Inbound

	// mutex for the read-only queries served outside Run
	mu sync.RWMutex

	chats    *services.ChatService
	messages *services.MessageService

	done chan struct{}
}

// Inbound is one envelope received from a client.
type Inbound struct {
	Client   *Client
	Envelope realtime.Envelope
}

// NewHub creates a new Hub instance
func NewHub(chats *services.ChatService, messages *services.MessageService) *Hub {
	return &Hub{
		users:      make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Inbound, 256),
		chats:      chats,
		messages:   messages,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is done, after closing
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case in := <-h.inbound:
			h.handle(in.Client, in.Envelope)

		case <-ctx.Done():
			h.closeAll()
			return nil
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in *Inbound) {
	select {
	case h.inbound <- in:
	case <-h.done:
	}
}

// registerClient records a connection, sends it the presence snapshot and
// announces the user if this is their first connection.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	conns := h.users[client.UserID]
	first := len(conns) == 0
	if conns == nil {
		conns = make(map[*Client]bool)
		h.users[client.UserID] = conns
	}
	conns[client] = true
	online := h.onlineLocked()
	h.mu.Unlock()

	log.Info().Str("user_id", client.UserID).Int("connections", len(conns)).Msg("[WebSocket] Client connected")

	h.sendTo(client, realtime.EventOnlineUsers, online)
	if first {
		h.broadcastExcept(client.UserID, realtime.EventUserOnline, models.PresenceEvent{UserID: client.UserID})
	}
}

// unregisterClient removes a connection from its user and every room.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	conns, ok := h.users[client.UserID]
	if !ok || !conns[client] {
		h.mu.Unlock()
		return
	}
	delete(conns, client)
	close(client.send)
	last := len(conns) == 0
	if last {
		delete(h.users, client.UserID)
	}
	for chatID, members := range h.rooms {
		delete(members, client)
		// Clean up empty rooms
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	h.mu.Unlock()

	log.Info().Str("user_id", client.UserID).Bool("offline", last).Msg("[WebSocket] Client disconnected")
	if last {
		h.broadcastExcept(client.UserID, realtime.EventUserOffline, models.PresenceEvent{UserID: client.UserID})
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.users {
		for c := range conns {
			close(c.send)
		}
		delete(h.users, userID)
	}
	h.rooms = make(map[string]map[*Client]bool)
}

// handle applies one client envelope.
func (h *Hub) handle(c *Client, env realtime.Envelope) {
	ev := realtime.Event{Kind: env.Type, Payload: env.Payload}
	switch env.Type {
	case realtime.EventJoinChat:
		var ref models.ChatRef
		if !h.decode(c, ev, &ref) || !h.chats.IsMember(ref.ChatID, c.UserID) {
			return
		}
		h.mu.Lock()
		if h.rooms[ref.ChatID] == nil {
			h.rooms[ref.ChatID] = make(map[*Client]bool)
		}
		h.rooms[ref.ChatID][c] = true
		h.mu.Unlock()
		log.Debug().Str("user_id", c.UserID).Str("chat_id", ref.ChatID).Msg("[WebSocket] Joined chat")

	case realtime.EventSendMessage:
		var req models.SendMessageRequest
		if !h.decode(c, ev, &req) || !h.chats.IsMember(req.ChatID, c.UserID) {
			return
		}
		msg, err := h.messages.Send(req.ChatID, c.UserID, req.Content, req.ReplyToID)
		if err != nil {
			log.Warn().Err(err).Str("chat_id", req.ChatID).Msg("[WebSocket] Message rejected")
			return
		}
		h.toMembers(req.ChatID, realtime.EventNewMessage, msg)

	case realtime.EventLikeMessage:
		var req models.LikeMessageRequest
		if !h.decode(c, ev, &req) || !h.chats.IsMember(req.ChatID, c.UserID) {
			return
		}
		msg, err := h.messages.ToggleLike(req.ChatID, req.MessageID, c.UserID)
		if err != nil {
			log.Warn().Err(err).Str("message_id", req.MessageID).Msg("[WebSocket] Like rejected")
			return
		}
		h.toMembers(req.ChatID, realtime.EventMessageLiked, msg)

	case realtime.EventTyping, realtime.EventStopTyping:
		var ref models.ChatRef
		if !h.decode(c, ev, &ref) || !h.chats.IsMember(ref.ChatID, c.UserID) {
			return
		}
		kind := realtime.EventUserTyping
		if env.Type == realtime.EventStopTyping {
			kind = realtime.EventUserStopTyping
		}
		h.toRoomExcept(ref.ChatID, c.UserID, kind, models.TypingEvent{ChatID: ref.ChatID, UserID: c.UserID})

	case realtime.EventMarkRead:
		var ref models.ChatRef
		if !h.decode(c, ev, &ref) || !h.chats.IsMember(ref.ChatID, c.UserID) {
			return
		}
		now := time.Now().UTC()
		h.messages.MarkRead(ref.ChatID, c.UserID, now)
		h.toMembers(ref.ChatID, realtime.EventMessagesRead, models.ReadReceipt{ChatID: ref.ChatID, ReaderID: c.UserID, ReadAt: now})

	default:
		log.Debug().Str("type", string(env.Type)).Msg("[WebSocket] Ignoring unknown event")
	}
}

func (h *Hub) decode(c *Client, ev realtime.Event, v interface{}) bool {
	if err := ev.Decode(v); err != nil {
		log.Warn().Err(err).Str("user_id", c.UserID).Msg("[WebSocket] Bad payload")
		return false
	}
	return true
}

// toMembers sends an event to every connection of both chat participants.
func (h *Hub) toMembers(chatID string, kind realtime.Kind, payload interface{}) {
	members, err := h.chats.Members(chatID)
	if err != nil {
		return
	}
	frame, ok := encode(kind, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	var targets []*Client
	for _, userID := range members {
		for c := range h.users[userID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

// toRoomExcept sends an event to the connections in a chat room, skipping the sender.
func (h *Hub) toRoomExcept(chatID, senderID string, kind realtime.Kind, payload interface{}) {
	frame, ok := encode(kind, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	var targets []*Client
	for c := range h.rooms[chatID] {
		if c.UserID != senderID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

func (h *Hub) broadcastExcept(userID string, kind realtime.Kind, payload interface{}) {
	frame, ok := encode(kind, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	var targets []*Client
	for id, conns := range h.users {
		if id == userID {
			continue
		}
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, frame)
}

func (h *Hub) sendTo(c *Client, kind realtime.Kind, payload interface{}) {
	if frame, ok := encode(kind, payload); ok {
		h.deliver([]*Client{c}, frame)
	}
}

// deliver queues frame on each client. A client whose buffer is full is
// dropped, as a slow reader would otherwise stall the hub.
func (h *Hub) deliver(targets []*Client, frame []byte) {
	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			log.Warn().Str("user_id", c.UserID).Msg("[WebSocket] Send buffer full, dropping client")
			h.unregisterClient(c)
		}
	}
}

func encode(kind realtime.Kind, payload interface{}) ([]byte, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(kind)).Msg("[WebSocket] Encode failed")
		return nil, false
	}
	frame, err := json.Marshal(realtime.Envelope{Type: kind, Payload: raw})
	if err != nil {
		log.Error().Err(err).Str("type", string(kind)).Msg("[WebSocket] Encode failed")
		return nil, false
	}
	return frame, true
}

func (h *Hub) onlineLocked() []string {
	online := make([]string, 0, len(h.users))
	for id := range h.users {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

// OnlineUsers returns the ids of users with at least one connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked()
}

// RoomSize returns the number of connections that joined chatID.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}
