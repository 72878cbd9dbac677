package services

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/adi-253/dmsync/internal/models"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrNotMember    = errors.New("not a member of this chat")
	ErrSelfChat     = errors.New("cannot start a chat with yourself")

	// ErrPassKeyRequired is returned when the caller guarded the chat and
	// supplied no or the wrong pass key.
	ErrPassKeyRequired = errors.New("pass key required")
)

type chat struct {
	id        string
	members   [2]string
	createdAt time.Time

	// passKeys holds a bcrypt hash per member that guarded the chat
	passKeys map[string][]byte
}

func (c *chat) other(userID string) string {
	if c.members[0] == userID {
		return c.members[1]
	}
	return c.members[0]
}

func (c *chat) has(userID string) bool {
	return c.members[0] == userID || c.members[1] == userID
}

// ChatService handles all chat-related business logic: two-party chats and
// their per-member pass keys.
type ChatService struct {
	users    *UserService
	messages *MessageService

	mu    sync.RWMutex
	chats map[string]*chat
}

func NewChatService(users *UserService, messages *MessageService) *ChatService {
	return &ChatService{
		users:    users,
		messages: messages,
		chats:    make(map[string]*chat),
	}
}

// Start returns the chat between userID and otherID, creating it if needed.
func (s *ChatService) Start(userID, otherID string) (string, error) {
	if userID == otherID {
		return "", ErrSelfChat
	}
	if _, ok := s.users.Get(otherID); !ok {
		return "", ErrUserNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.has(userID) && c.has(otherID) {
			return c.id, nil
		}
	}

	c := &chat{
		id:        uuid.New().String(),
		members:   [2]string{userID, otherID},
		createdAt: time.Now().UTC(),
		passKeys:  make(map[string][]byte),
	}
	s.chats[c.id] = c
	log.Info().Str("chat_id", c.id).Str("user_id", userID).Str("other_id", otherID).Msg("[Chat] Created chat")
	return c.id, nil
}

// Members returns both participants of a chat.
func (s *ChatService) Members(chatID string) ([2]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return [2]string{}, ErrChatNotFound
	}
	return c.members, nil
}

// IsMember reports whether userID takes part in chatID.
func (s *ChatService) IsMember(chatID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	return ok && c.has(userID)
}

// ListFor returns the chats of userID with their last message, most recently
// active first.
func (s *ChatService) ListFor(userID string) []models.Chat {
	type row struct {
		chat   models.Chat
		active time.Time
	}

	s.mu.RLock()
	var rows []row
	for _, c := range s.chats {
		if !c.has(userID) {
			continue
		}
		_, guarded := c.passKeys[userID]
		r := row{
			chat:   models.Chat{ID: c.id, HasMyPassKey: guarded, Messages: []models.Message{}},
			active: c.createdAt,
		}
		if other, ok := s.users.Get(c.other(userID)); ok {
			r.chat.OtherUser = &other
		}
		rows = append(rows, r)
	}
	s.mu.RUnlock()

	for i := range rows {
		if last, ok := s.messages.Last(rows[i].chat.ID); ok {
			rows[i].chat.Messages = []models.Message{last}
			rows[i].active = last.CreatedAt
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].active.After(rows[j].active) })

	out := make([]models.Chat, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.chat)
	}
	return out
}

// CheckAccess verifies that userID may read chatID with passKey.
func (s *ChatService) CheckAccess(chatID, userID, passKey string) error {
	s.mu.RLock()
	c, ok := s.chats[chatID]
	var hash []byte
	if ok {
		hash = c.passKeys[userID]
	}
	s.mu.RUnlock()

	if !ok {
		return ErrChatNotFound
	}
	if !c.has(userID) {
		return ErrNotMember
	}
	if hash == nil {
		return nil
	}
	if passKey == "" || bcrypt.CompareHashAndPassword(hash, []byte(passKey)) != nil {
		return ErrPassKeyRequired
	}
	return nil
}

// SetPassKey guards chatID for userID. A nil passKey removes the guard.
func (s *ChatService) SetPassKey(chatID, userID string, passKey *string) error {
	var hash []byte
	if passKey != nil {
		if *passKey == "" {
			return errors.New("pass key must not be empty")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(*passKey), bcrypt.DefaultCost)
		if err != nil {
			return errors.Wrap(err, "hash pass key")
		}
		hash = h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if !c.has(userID) {
		return ErrNotMember
	}
	if hash == nil {
		delete(c.passKeys, userID)
	} else {
		c.passKeys[userID] = hash
	}
	return nil
}
