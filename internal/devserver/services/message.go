package services

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/adi-253/dmsync/internal/models"
)

var (
	ErrEmptyContent    = errors.New("content is required")
	ErrMessageNotFound = errors.New("message not found")
)

// MessageService handles message storage and retrieval.
// Uses in-memory storage; everything is lost on restart.
type MessageService struct {
	// messages stores messages per chat: chatID -> []Message
	messages map[string][]models.Message
	mu       sync.RWMutex
}

func NewMessageService() *MessageService {
	return &MessageService{
		messages: make(map[string][]models.Message),
	}
}

// Send appends a message to a chat. A reply to a message that is not in the
// chat is stored as a plain message.
func (s *MessageService) Send(chatID, senderID, content, replyToID string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if replyToID != "" && s.findLocked(chatID, replyToID) < 0 {
		replyToID = ""
	}
	msg := models.Message{
		ID:         uuid.New().String(),
		ChatID:     chatID,
		SenderID:   senderID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		ReplyToID:  replyToID,
		LikedByIDs: []string{},
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	return msg, nil
}

// List returns a copy of all messages of a chat, oldest first.
func (s *MessageService) List(chatID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chatMessages := s.messages[chatID]
	result := make([]models.Message, len(chatMessages))
	copy(result, chatMessages)
	return result
}

// Last returns the newest message of a chat.
func (s *MessageService) Last(chatID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatMessages := s.messages[chatID]
	if len(chatMessages) == 0 {
		return models.Message{}, false
	}
	return chatMessages[len(chatMessages)-1], true
}

// ToggleLike adds or removes userID from the likers of a message.
func (s *MessageService) ToggleLike(chatID, messageID, userID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.findLocked(chatID, messageID)
	if idx < 0 {
		return models.Message{}, ErrMessageNotFound
	}
	updated := s.messages[chatID][idx].WithLikeToggled(userID)
	s.messages[chatID][idx] = updated
	return updated, nil
}

// MarkRead marks every unread message of the chat not sent by readerID as
// read at the given time and returns how many changed.
func (s *MessageService) MarkRead(chatID, readerID string, at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	chatMessages := s.messages[chatID]
	for i := range chatMessages {
		m := &chatMessages[i]
		if m.SenderID == readerID || m.IsRead {
			continue
		}
		readAt := at
		m.IsRead = true
		m.ReadAt = &readAt
		n++
	}
	return n
}

func (s *MessageService) findLocked(chatID, messageID string) int {
	for i, m := range s.messages[chatID] {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}
