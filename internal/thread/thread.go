// Package thread holds the message history of the one chat that is open,
// reconciling the REST snapshot with live events and tracking the pass key
// guard of that chat.
package thread

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/api"
	"github.com/adi-253/dmsync/internal/config"
	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
)

var (
	// ErrNoChat is returned by operations that need an open chat.
	ErrNoChat = errors.New("no chat open")

	// ErrLocked is returned when the server refused the chat history.
	ErrLocked = errors.New("chat is locked")

	// ErrUnknownMessage is returned for a message id not in the open chat.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrEmptyMessage is returned by Send for blank content.
	ErrEmptyMessage = errors.New("message is empty")
)

// API is the subset of the REST client the thread needs.
type API interface {
	GetMessages(ctx context.Context, chatID, passKey string) ([]models.Message, error)
	SetPassKey(ctx context.Context, chatID string, passKey *string) error
	Notify(ctx context.Context, chatID, frontURL string) error
}

// Bus is the part of the realtime synchronizer the thread subscribes to and
// emits on.
type Bus interface {
	Subscribe(kind realtime.Kind, handler realtime.Handler) realtime.Subscription
	Unsubscribe(sub realtime.Subscription)
	JoinChat(chatID string)
	SendMessage(chatID, content, replyToID string)
	LikeMessage(chatID, messageID string)
	MarkRead(chatID string)
}

// Options configures a Thread.
type Options struct {
	// Self returns the session user id. Required for typing, read and like handling.
	Self func() string

	GuardPolicy config.GuardPolicy

	// OptimisticLikes applies a like toggle before the server confirms it
	OptimisticLikes    bool
	LikeConfirmTimeout time.Duration

	// TypingTimeout clears a remote typing indicator that never got a stop event
	TypingTimeout time.Duration
}

// Thread is the state of the open chat.
type Thread struct {
	api    API
	bus    Bus
	opts   Options
	guards *guardCache
	subs   []realtime.Subscription

	mu       sync.Mutex
	chatID   string
	guard    GuardState
	passKey  string
	messages []models.Message
	index    map[string]int
	gen      uint64

	pending map[string]*pendingLike

	typing      bool
	typingTimer *time.Timer
}

// New creates a Thread with no chat open and subscribes it to bus.
func New(client API, bus Bus, opts Options) *Thread {
	if opts.Self == nil {
		opts.Self = func() string { return "" }
	}
	if opts.LikeConfirmTimeout <= 0 {
		opts.LikeConfirmTimeout = 5 * time.Second
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 5 * time.Second
	}
	t := &Thread{
		api:     client,
		bus:     bus,
		opts:    opts,
		guards:  newGuardCache(opts.GuardPolicy),
		index:   make(map[string]int),
		pending: make(map[string]*pendingLike),
	}
	t.subs = []realtime.Subscription{
		bus.Subscribe(realtime.EventNewMessage, t.onNewMessage),
		bus.Subscribe(realtime.EventMessageLiked, t.onMessageLiked),
		bus.Subscribe(realtime.EventMessagesRead, t.onMessagesRead),
		bus.Subscribe(realtime.EventUserTyping, t.onUserTyping),
		bus.Subscribe(realtime.EventUserStopTyping, t.onUserStopTyping),
		bus.Subscribe(realtime.EventConnect, t.onConnect),
	}
	return t
}

// Open switches to chatID: the previous history and guard are dropped, the
// chat room is joined and the history fetched. A remembered pass key is
// tried first. A refused fetch leaves the thread Locked and is not an error.
func (t *Thread) Open(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrNoChat
	}

	t.mu.Lock()
	t.resetLocked()
	t.chatID = chatID
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	log.Info().Str("chat_id", chatID).Msg("[Thread] Opening chat")
	t.bus.JoinChat(chatID)

	err := t.fetch(ctx, gen, chatID, t.guards.get(chatID))
	if errors.Is(err, ErrLocked) {
		return nil
	}
	return err
}

// Reload re-fetches the open chat with the pass key accepted for it, if any.
func (t *Thread) Reload(ctx context.Context) error {
	t.mu.Lock()
	chatID := t.chatID
	key := t.passKey
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if chatID == "" {
		return ErrNoChat
	}
	err := t.fetch(ctx, gen, chatID, key)
	if errors.Is(err, ErrLocked) {
		return nil
	}
	return err
}

// Unlock retries the fetch with guard. It returns ErrLocked when the pass key
// is refused, in which case the thread stays Locked. An Unlocked thread is left
// as is.
func (t *Thread) Unlock(ctx context.Context, guard string) error {
	t.mu.Lock()
	chatID := t.chatID
	if chatID != "" && t.guard == GuardUnlocked {
		t.mu.Unlock()
		return nil
	}
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	if chatID == "" {
		return ErrNoChat
	}
	return t.fetch(ctx, gen, chatID, guard)
}

// fetch loads the history and applies it only if no newer Open, Reload,
// Unlock or Close happened meanwhile.
func (t *Thread) fetch(ctx context.Context, gen uint64, chatID, key string) error {
	msgs, err := t.api.GetMessages(ctx, chatID, key)

	t.mu.Lock()
	if gen != t.gen || chatID != t.chatID {
		t.mu.Unlock()
		log.Debug().Str("chat_id", chatID).Uint64("gen", gen).Msg("[Thread] Discarding stale fetch")
		return nil
	}

	if errors.Is(err, api.ErrForbidden) {
		t.guard = GuardLocked
		t.passKey = ""
		t.setMessagesLocked(nil)
		t.mu.Unlock()
		if key != "" {
			t.guards.forget(chatID)
		}
		log.Info().Str("chat_id", chatID).Bool("with_key", key != "").Msg("[Thread] Chat is locked")
		return ErrLocked
	}
	if err != nil {
		t.mu.Unlock()
		log.Error().Err(err).Str("chat_id", chatID).Msg("[Thread] Failed to fetch messages")
		return errors.Wrapf(err, "fetch messages of chat %s", chatID)
	}

	t.guard = GuardUnlocked
	t.passKey = key
	t.mergeLocked(msgs)
	t.mu.Unlock()

	if key != "" {
		t.guards.remember(chatID, key)
	}
	t.bus.MarkRead(chatID)
	return nil
}

// mergeLocked installs the fetched history, keeping messages that arrived as
// events while the fetch was in flight.
func (t *Thread) mergeLocked(fetched []models.Message) {
	live := t.messages
	t.setMessagesLocked(fetched)
	for _, m := range live {
		t.appendLocked(m)
	}
}

func (t *Thread) setMessagesLocked(msgs []models.Message) {
	t.messages = make([]models.Message, 0, len(msgs))
	t.index = make(map[string]int, len(msgs))
	for _, m := range msgs {
		t.appendLocked(m)
	}
}

// appendLocked adds m unless a message with the same id is present.
func (t *Thread) appendLocked(m models.Message) bool {
	if _, dup := t.index[m.ID]; dup {
		return false
	}
	t.index[m.ID] = len(t.messages)
	t.messages = append(t.messages, m)
	return true
}

// resetLocked drops everything tied to the open chat.
func (t *Thread) resetLocked() {
	t.chatID = ""
	t.guard = GuardUnknown
	t.passKey = ""
	t.messages = nil
	t.index = make(map[string]int)
	for id, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, id)
	}
	t.stopTypingLocked()
}

// Close leaves the open chat. In-flight fetches are discarded.
func (t *Thread) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
	t.gen++
}

// Shutdown closes the thread and drops its event subscriptions.
func (t *Thread) Shutdown() {
	t.Close()
	for _, sub := range t.subs {
		t.bus.Unsubscribe(sub)
	}
	t.subs = nil
}

// ChatID returns the open chat id, or "".
func (t *Thread) ChatID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

// Guard returns the access state of the open chat.
func (t *Thread) Guard() GuardState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.guard
}

// Messages returns a copy of the history in order.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Message(nil), t.messages...)
}

// Message looks up a message of the open chat by id.
func (t *Thread) Message(id string) (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.index[id]
	if !ok {
		return models.Message{}, false
	}
	return t.messages[idx], true
}

// OtherUserTyping reports whether the other participant is typing.
func (t *Thread) OtherUserTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// Send posts content to the open chat, optionally as a reply. The message
// shows up once the server echoes it back.
func (t *Thread) Send(content, replyToID string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	t.mu.Lock()
	chatID := t.chatID
	guard := t.guard
	_, replyKnown := t.index[replyToID]
	t.mu.Unlock()

	if chatID == "" {
		return ErrNoChat
	}
	if guard == GuardLocked {
		return ErrLocked
	}
	if replyToID != "" && !replyKnown {
		return errors.Wrapf(ErrUnknownMessage, "reply to %s", replyToID)
	}
	t.bus.SendMessage(chatID, content, replyToID)
	return nil
}

// SetPassKey sets the session user's pass key on the open chat. An empty key
// removes it.
func (t *Thread) SetPassKey(ctx context.Context, key string) error {
	chatID := t.ChatID()
	if chatID == "" {
		return ErrNoChat
	}

	var body *string
	if key != "" {
		body = &key
	}
	if err := t.api.SetPassKey(ctx, chatID, body); err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("[Thread] Failed to update pass key")
		return errors.Wrap(err, "update pass key")
	}

	t.mu.Lock()
	if t.chatID == chatID {
		t.passKey = key
	}
	t.mu.Unlock()
	t.guards.remember(chatID, key)
	log.Info().Str("chat_id", chatID).Bool("removed", key == "").Msg("[Thread] Pass key updated")
	return nil
}

// Notify asks the server to email the other participant about the open chat.
func (t *Thread) Notify(ctx context.Context, frontURL string) error {
	chatID := t.ChatID()
	if chatID == "" {
		return ErrNoChat
	}
	if err := t.api.Notify(ctx, chatID, frontURL); err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("[Thread] Notify failed")
		return errors.Wrap(err, "notify")
	}
	return nil
}
