package thread

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
)

// pendingLike is an optimistic toggle waiting for its messageLiked event.
type pendingLike struct {
	prev  models.Message
	timer *time.Timer
}

// ToggleLike asks the server to toggle the session user's like on messageID.
// With optimistic likes on, the toggle shows immediately and is rolled back
// if no confirmation arrives within the confirm timeout.
func (t *Thread) ToggleLike(messageID string) error {
	t.mu.Lock()
	chatID := t.chatID
	if chatID == "" {
		t.mu.Unlock()
		return ErrNoChat
	}
	idx, ok := t.index[messageID]
	if !ok {
		t.mu.Unlock()
		return errors.Wrapf(ErrUnknownMessage, "like %s", messageID)
	}
	if self := t.opts.Self(); t.opts.OptimisticLikes && self != "" {
		t.applyOptimisticLocked(idx, self)
	}
	t.mu.Unlock()

	t.bus.LikeMessage(chatID, messageID)
	return nil
}

func (t *Thread) applyOptimisticLocked(idx int, self string) {
	cur := t.messages[idx]
	p, ok := t.pending[cur.ID]
	if ok {
		// toggling again while pending: keep the original snapshot to roll back to
		p.timer.Stop()
	} else {
		p = &pendingLike{prev: cur}
		t.pending[cur.ID] = p
	}
	t.messages[idx] = cur.WithLikeToggled(self)

	id := cur.ID
	p.timer = time.AfterFunc(t.opts.LikeConfirmTimeout, func() { t.rollback(id, p) })
}

func (t *Thread) rollback(messageID string, p *pendingLike) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[messageID] != p {
		return
	}
	delete(t.pending, messageID)
	if idx, ok := t.index[messageID]; ok {
		t.messages[idx] = p.prev
		log.Warn().Str("message_id", messageID).Msg("[Thread] Like not confirmed, rolled back")
	}
}

func (t *Thread) confirmLikeLocked(messageID string) {
	if p, ok := t.pending[messageID]; ok {
		p.timer.Stop()
		delete(t.pending, messageID)
	}
}

// LikePending reports whether an optimistic toggle on messageID awaits confirmation.
func (t *Thread) LikePending(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[messageID]
	return ok
}
