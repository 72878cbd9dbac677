// Package chatlist keeps the conversation list in sync: a REST snapshot of the
// session user's chats, patched by live events, plus per-chat unread counts.
package chatlist

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
)

// API is the subset of the REST client the list needs.
type API interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	StartChat(ctx context.Context, otherUserID string) (string, error)
}

// Bus is the subscribe side of the realtime synchronizer.
type Bus interface {
	Subscribe(kind realtime.Kind, handler realtime.Handler) realtime.Subscription
	Unsubscribe(sub realtime.Subscription)
}

// Entry is one row of the list.
type Entry struct {
	Chat   models.Chat
	Unread int
}

// List is the conversation list state.
type List struct {
	api  API
	bus  Bus
	subs []realtime.Subscription

	mu     sync.Mutex
	chats  []models.Chat
	index  map[string]int
	unread map[string]int
	// counted remembers which message ids already bumped an unread counter
	counted map[string]map[string]struct{}
	opened  map[string]struct{}
	active  string
	gen     uint64
}

// New creates an empty list subscribed to bus. Call Refresh to load it.
func New(api API, bus Bus) *List {
	l := &List{
		api:     api,
		bus:     bus,
		index:   make(map[string]int),
		unread:  make(map[string]int),
		counted: make(map[string]map[string]struct{}),
		opened:  make(map[string]struct{}),
	}
	l.subs = []realtime.Subscription{
		bus.Subscribe(realtime.EventNewMessage, l.onNewMessage),
		bus.Subscribe(realtime.EventMessagesRead, l.onMessagesRead),
	}
	return l
}

// Refresh reloads the chats from the API. A response that arrives after a
// newer Refresh started is discarded.
func (l *List) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	chats, err := l.api.ListChats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[ChatList] Failed to fetch chats")
		return errors.Wrap(err, "list chats")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		log.Debug().Uint64("gen", gen).Msg("[ChatList] Discarding stale chat list")
		return nil
	}
	// a newMessage applied while the request was in flight is newer than the snapshot
	for i := range chats {
		idx, ok := l.index[chats[i].ID]
		if !ok {
			continue
		}
		cached, has := l.chats[idx].LastMessage()
		if !has {
			continue
		}
		if fetched, ok := chats[i].LastMessage(); !ok || fetched.CreatedAt.Before(cached.CreatedAt) {
			chats[i].Messages = []models.Message{cached}
		}
	}
	l.chats = chats
	l.index = make(map[string]int, len(chats))
	for i, c := range chats {
		l.index[c.ID] = i
	}
	return nil
}

func (l *List) onNewMessage(ev realtime.Event) {
	var msg models.Message
	if err := ev.Decode(&msg); err != nil {
		log.Warn().Err(err).Msg("[ChatList] Bad newMessage payload")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.index[msg.ChatID]
	if !ok {
		log.Debug().Str("chat_id", msg.ChatID).Msg("[ChatList] Message for unknown chat, waiting for refresh")
	} else {
		chat := &l.chats[idx]
		last, has := chat.LastMessage()
		if !has || !msg.CreatedAt.Before(last.CreatedAt) {
			chat.Messages = []models.Message{msg}
		}
	}

	if msg.ChatID == l.active {
		return
	}
	if _, seen := l.opened[msg.ChatID]; !seen {
		return
	}
	ids := l.counted[msg.ChatID]
	if ids == nil {
		ids = make(map[string]struct{})
		l.counted[msg.ChatID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		return
	}
	ids[msg.ID] = struct{}{}
	l.unread[msg.ChatID]++
}

func (l *List) onMessagesRead(ev realtime.Event) {
	var rr models.ReadReceipt
	if err := ev.Decode(&rr); err != nil {
		log.Warn().Err(err).Msg("[ChatList] Bad messagesRead payload")
		return
	}
	l.mu.Lock()
	l.clearUnreadLocked(rr.ChatID)
	l.mu.Unlock()
}

func (l *List) clearUnreadLocked(chatID string) {
	delete(l.unread, chatID)
	delete(l.counted, chatID)
}

// SetActive marks chatID as the open conversation: its unread count is
// cleared and unread tracking starts for it.
func (l *List) SetActive(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = chatID
	if chatID == "" {
		return
	}
	l.opened[chatID] = struct{}{}
	l.clearUnreadLocked(chatID)
}

// ClearActive records that no conversation is open.
func (l *List) ClearActive() {
	l.SetActive("")
}

// Active returns the open conversation id, or "".
func (l *List) Active() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Unread returns the unread count of chatID.
func (l *List) Unread(chatID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unread[chatID]
}

// Chat returns the cached chat with id.
func (l *List) Chat(id string) (models.Chat, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.index[id]
	if !ok {
		return models.Chat{}, false
	}
	return l.chats[idx], true
}

// Chats returns the cached chats in API order.
func (l *List) Chats() []models.Chat {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Chat(nil), l.chats...)
}

// Entries returns the chats in API order with their unread counts.
func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.chats))
	for _, c := range l.chats {
		out = append(out, Entry{Chat: c, Unread: l.unread[c.ID]})
	}
	return out
}

// Users lists the other registered users, for starting a chat.
func (l *List) Users(ctx context.Context) ([]models.User, error) {
	users, err := l.api.ListUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("[ChatList] Failed to fetch users")
		return nil, errors.Wrap(err, "list users")
	}
	return users, nil
}

// StartChat opens (or creates) the chat with otherUserID, reloads the list so
// it shows up, and makes it active.
func (l *List) StartChat(ctx context.Context, otherUserID string) (string, error) {
	chatID, err := l.api.StartChat(ctx, otherUserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", otherUserID).Msg("[ChatList] Failed to start chat")
		return "", errors.Wrap(err, "start chat")
	}
	if err := l.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("[ChatList] Refresh after start failed")
	}
	l.SetActive(chatID)
	return chatID, nil
}

// Close drops the event subscriptions.
func (l *List) Close() {
	for _, sub := range l.subs {
		l.bus.Unsubscribe(sub)
	}
	l.subs = nil
}
