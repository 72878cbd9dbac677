package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/adi-253/dmsync/internal/chatlist"
	"github.com/adi-253/dmsync/internal/models"
)

const (
	encryptedPlaceholder = "<encrypted message>"
	shortIDLen           = 8
)

func displayName(u models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// preview is the single line shown for message content.
func preview(m models.Message) string {
	if m.IsEncrypted() {
		return encryptedPlaceholder
	}
	return strings.ReplaceAll(m.Content, "\n", " ")
}

// formatChatRow renders one conversation list line.
func formatChatRow(e chatlist.Entry, online func(userID string) bool) string {
	var b strings.Builder
	b.WriteString(e.Chat.ID)
	b.WriteString("  ")

	name := "unknown"
	marker := " "
	if u := e.Chat.OtherUser; u != nil {
		name = displayName(*u)
		if online(u.ID) {
			marker = "*"
		}
	}
	fmt.Fprintf(&b, "%s %s", marker, name)

	if e.Chat.HasMyPassKey {
		b.WriteString(" [locked]")
	}
	if e.Unread > 0 {
		fmt.Fprintf(&b, " (%d)", e.Unread)
	}
	if last, ok := e.Chat.LastMessage(); ok {
		fmt.Fprintf(&b, "  %s", preview(last))
	}
	return b.String()
}

// formatMessage renders a message of the open chat. self is the session user.
func formatMessage(m models.Message, self string, names map[string]string) string {
	sender := names[m.SenderID]
	if sender == "" {
		sender = shortID(m.SenderID)
	}
	if m.SenderID == self {
		sender = "you"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s: %s", shortID(m.ID), m.CreatedAt.Local().Format("15:04"), sender, preview(m))
	if m.ReplyToID != "" {
		fmt.Fprintf(&b, " (re %s)", shortID(m.ReplyToID))
	}
	if n := len(m.LikedByIDs); n > 0 {
		fmt.Fprintf(&b, " +%d", n)
	}
	if m.SenderID == self && m.IsRead {
		b.WriteString(" (read)")
	}
	return b.String()
}

// formatUnreadNotice announces a message that arrived in a chat other than
// the open one.
func formatUnreadNotice(sender, chatID string, unread int) string {
	if sender == "" {
		sender = "someone"
	}
	return fmt.Sprintf("new message from %s in %s (%d unread)", sender, chatID, unread)
}

// resolveMessageID maps a full id or a unique id prefix to a message id.
func resolveMessageID(msgs []models.Message, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("message id required")
	}
	for _, m := range msgs {
		if m.ID == ref {
			return m.ID, nil
		}
	}
	var match string
	for _, m := range msgs {
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return "", errors.Errorf("message id %q is ambiguous", ref)
			}
			match = m.ID
		}
	}
	if match == "" {
		return "", errors.Errorf("no message matches %q", ref)
	}
	return match, nil
}
