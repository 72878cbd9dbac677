package thread

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
)

func (t *Thread) onNewMessage(ev realtime.Event) {
	var msg models.Message
	if err := ev.Decode(&msg); err != nil {
		log.Warn().Err(err).Msg("[Thread] Bad newMessage payload")
		return
	}

	t.mu.Lock()
	if msg.ChatID == "" || msg.ChatID != t.chatID || t.guard == GuardLocked {
		t.mu.Unlock()
		return
	}
	added := t.appendLocked(msg)
	chatID := t.chatID
	fromOther := msg.SenderID != t.opts.Self()
	if added && fromOther {
		// a message means the sender stopped typing
		t.stopTypingLocked()
	}
	t.mu.Unlock()

	if added && fromOther {
		t.bus.MarkRead(chatID)
	}
}

func (t *Thread) onMessageLiked(ev realtime.Event) {
	var msg models.Message
	if err := ev.Decode(&msg); err != nil {
		log.Warn().Err(err).Msg("[Thread] Bad messageLiked payload")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.index[msg.ID]
	if !ok || msg.ChatID != t.chatID {
		return
	}
	t.messages[idx] = msg
	t.confirmLikeLocked(msg.ID)
}

func (t *Thread) onMessagesRead(ev realtime.Event) {
	var rr models.ReadReceipt
	if err := ev.Decode(&rr); err != nil {
		log.Warn().Err(err).Msg("[Thread] Bad messagesRead payload")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rr.ChatID != t.chatID {
		return
	}
	readAt := rr.ReadAt
	if readAt.IsZero() {
		readAt = time.Now()
	}
	for i := range t.messages {
		m := &t.messages[i]
		if m.SenderID == rr.ReaderID || m.IsRead {
			continue
		}
		at := readAt
		m.IsRead = true
		m.ReadAt = &at
	}
}

func (t *Thread) onUserTyping(ev realtime.Event) {
	var te models.TypingEvent
	if err := ev.Decode(&te); err != nil {
		log.Warn().Err(err).Msg("[Thread] Bad userTyping payload")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if te.ChatID != t.chatID || te.UserID == "" || te.UserID == t.opts.Self() {
		return
	}
	t.stopTypingLocked()
	t.typing = true

	var timer *time.Timer
	timer = time.AfterFunc(t.opts.TypingTimeout, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.typingTimer == timer {
			t.typing = false
			t.typingTimer = nil
		}
	})
	t.typingTimer = timer
}

func (t *Thread) onUserStopTyping(ev realtime.Event) {
	var te models.TypingEvent
	if err := ev.Decode(&te); err != nil {
		log.Warn().Err(err).Msg("[Thread] Bad userStopTyping payload")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if te.ChatID != t.chatID || te.UserID == t.opts.Self() {
		return
	}
	t.stopTypingLocked()
}

func (t *Thread) stopTypingLocked() {
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
	t.typing = false
}

// onConnect rejoins the room of the open chat after a (re)connect, since the
// server forgets room membership with the old connection.
func (t *Thread) onConnect(realtime.Event) {
	chatID := t.ChatID()
	if chatID == "" {
		return
	}
	log.Debug().Str("chat_id", chatID).Msg("[Thread] Rejoining chat after connect")
	t.bus.JoinChat(chatID)
}
