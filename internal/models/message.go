package models

import (
	"strings"
	"time"
)

// EncryptedPrefix marks message content that is ciphertext produced by the
// sending client. The server never decrypts it and neither do we.
const EncryptedPrefix = "U2FsdGVkX1"

// Message represents a chat message in a direct conversation.
// Content is opaque to this client and may be ciphertext.
type Message struct {
	// ID is the unique identifier for this message
	ID string `json:"id"`

	// ChatID is the conversation this message belongs to
	ChatID string `json:"chatId"`

	// SenderID is the user id of the author
	SenderID string `json:"senderId"`

	// Content is the message text, possibly encrypted
	Content string `json:"content"`

	// CreatedAt is when the server accepted the message
	CreatedAt time.Time `json:"createdAt"`

	// ReplyToID optionally references another message in the same chat.
	// The client never follows it transitively.
	ReplyToID string `json:"replyToId,omitempty"`

	// LikedByIDs holds the user ids that liked this message
	LikedByIDs []string `json:"likedByIds"`

	// IsRead is set once the recipient has read the message
	IsRead bool `json:"isRead"`

	// ReadAt is when the recipient read the message
	ReadAt *time.Time `json:"readAt,omitempty"`
}

// IsEncrypted reports whether the content carries the ciphertext prefix.
func (m Message) IsEncrypted() bool {
	return strings.HasPrefix(m.Content, EncryptedPrefix)
}

// LikedBy reports whether userID is among the likers.
func (m Message) LikedBy(userID string) bool {
	for _, id := range m.LikedByIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// WithLikeToggled returns a copy of m with userID added to or removed from the likers.
func (m Message) WithLikeToggled(userID string) Message {
	out := m
	out.LikedByIDs = make([]string, 0, len(m.LikedByIDs)+1)
	found := false
	for _, id := range m.LikedByIDs {
		if id == userID {
			found = true
			continue
		}
		out.LikedByIDs = append(out.LikedByIDs, id)
	}
	if !found {
		out.LikedByIDs = append(out.LikedByIDs, userID)
	}
	return out
}

// SendMessageRequest is the payload of the sendMessage event
type SendMessageRequest struct {
	ChatID    string `json:"chatId"`
	Content   string `json:"content"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// LikeMessageRequest is the payload of the likeMessage event
type LikeMessageRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ChatRef is the payload of events that only name a chat
// (joinChat, typing, stopTyping, markRead).
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// TypingEvent is the payload of userTyping / userStopTyping
type TypingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// ReadReceipt is the payload of messagesRead: ReaderID has read the chat up to ReadAt.
type ReadReceipt struct {
	ChatID   string    `json:"chatId"`
	ReaderID string    `json:"readerId"`
	ReadAt   time.Time `json:"readAt"`
}

// PresenceEvent is the payload of userOnline / userOffline
type PresenceEvent struct {
	UserID string `json:"userId"`
}
