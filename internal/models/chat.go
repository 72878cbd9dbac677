package models

// Chat represents a two-party conversation as returned by GET /chats.
type Chat struct {
	// ID is the opaque conversation identifier
	ID string `json:"id"`

	// OtherUser is the participant that is not the session user
	OtherUser *User `json:"otherUser,omitempty"`

	// HasMyPassKey is true when the session user guarded this chat with a pass key
	HasMyPassKey bool `json:"hasMyPassKey"`

	// Messages carries at most the last message of the chat
	Messages []Message `json:"messages"`
}

// LastMessage returns the most recent message, if any.
func (c Chat) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// StartChatRequest is the request body for POST /chats/start
type StartChatRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// StartChatResponse is the response after starting (or finding) a chat
type StartChatResponse struct {
	ChatID string `json:"chatId"`
}

// PassKeyRequest is the request body for POST /chats/{id}/passkey.
// A nil PassKey removes the guard.
type PassKeyRequest struct {
	PassKey *string `json:"passKey"`
}

// NotifyRequest is the request body for POST /chats/{id}/notify
type NotifyRequest struct {
	FrontURL string `json:"frontUrl"`
}
