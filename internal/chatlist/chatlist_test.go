package chatlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
	"github.com/adi-253/dmsync/internal/realtime/realtimetest"
)

type fakeAPI struct {
	mu      sync.Mutex
	chats   []models.Chat
	err     error
	gate    chan struct{} // when set, the next ListChats blocks until closed
	started []string
}

func (f *fakeAPI) ListChats(ctx context.Context) ([]models.Chat, error) {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	chats := append([]models.Chat(nil), f.chats...)
	err := f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return chats, err
}

func (f *fakeAPI) ListUsers(ctx context.Context) ([]models.User, error) {
	return []models.User{{ID: "u2", Name: "Bob"}}, nil
}

func (f *fakeAPI) StartChat(ctx context.Context, otherUserID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, otherUserID)
	f.chats = append(f.chats, models.Chat{ID: "new", OtherUser: &models.User{ID: otherUserID}})
	return "new", nil
}

func newList(t *testing.T, chats ...models.Chat) (*List, *realtimetest.Bus, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{chats: chats}
	bus := realtimetest.NewBus()
	l := New(api, bus)
	t.Cleanup(l.Close)
	require.NoError(t, l.Refresh(context.Background()))
	return l, bus, api
}

func msg(id, chatID string) models.Message {
	return models.Message{ID: id, ChatID: chatID, SenderID: "u2", Content: "hi " + id, CreatedAt: time.Now()}
}

func TestUnreadOnlyAfterFirstOpenAndWhileInactive(t *testing.T) {
	l, bus, _ := newList(t, models.Chat{ID: "x"}, models.Chat{ID: "y"})

	// never opened: no unread
	bus.Fire(realtime.EventNewMessage, msg("m1", "x"))
	require.Equal(t, 0, l.Unread("x"))

	// active: stays zero
	l.SetActive("x")
	bus.Fire(realtime.EventNewMessage, msg("m2", "x"))
	bus.Fire(realtime.EventNewMessage, msg("m3", "x"))
	require.Equal(t, 0, l.Unread("x"))

	// opened before and now inactive: exactly one per event
	l.SetActive("y")
	bus.Fire(realtime.EventNewMessage, msg("m4", "x"))
	require.Equal(t, 1, l.Unread("x"))
	bus.Fire(realtime.EventNewMessage, msg("m5", "x"))
	require.Equal(t, 2, l.Unread("x"))

	// redelivery of the same message does not count twice
	bus.Fire(realtime.EventNewMessage, msg("m5", "x"))
	require.Equal(t, 2, l.Unread("x"))

	// becoming active clears it
	l.SetActive("x")
	require.Equal(t, 0, l.Unread("x"))
}

func TestReadReceiptClearsUnread(t *testing.T) {
	l, bus, _ := newList(t, models.Chat{ID: "x"})
	l.SetActive("x")
	l.ClearActive()

	bus.Fire(realtime.EventNewMessage, msg("m1", "x"))
	require.Equal(t, 1, l.Unread("x"))

	bus.Fire(realtime.EventMessagesRead, models.ReadReceipt{ChatID: "x", ReaderID: "u1", ReadAt: time.Now()})
	require.Equal(t, 0, l.Unread("x"))
}

func TestLastMessageFollowsNewestEvent(t *testing.T) {
	l, bus, _ := newList(t, models.Chat{ID: "x"})

	newer := msg("m2", "x")
	older := msg("m1", "x")
	older.CreatedAt = newer.CreatedAt.Add(-time.Minute)

	bus.Fire(realtime.EventNewMessage, newer)
	bus.Fire(realtime.EventNewMessage, older)

	chat, ok := l.Chat("x")
	require.True(t, ok)
	last, ok := chat.LastMessage()
	require.True(t, ok)
	require.Equal(t, "m2", last.ID)

	// unknown chat is ignored
	bus.Fire(realtime.EventNewMessage, msg("m9", "nope"))
	_, ok = l.Chat("nope")
	require.False(t, ok)
}

func TestStaleRefreshIsDiscarded(t *testing.T) {
	l, _, api := newList(t, models.Chat{ID: "old"})

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- l.Refresh(context.Background()) }()

	// let the slow refresh start before the newer one
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.gate == nil
	}, time.Second, 5*time.Millisecond)

	api.mu.Lock()
	api.chats = []models.Chat{{ID: "fresh"}}
	api.mu.Unlock()
	require.NoError(t, l.Refresh(context.Background()))

	close(gate)
	require.NoError(t, <-done)

	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "fresh", entries[0].Chat.ID)
}

func TestRefreshErrorKeepsPreviousList(t *testing.T) {
	l, _, api := newList(t, models.Chat{ID: "x"})
	api.mu.Lock()
	api.err = errors.New("network down")
	api.mu.Unlock()

	require.Error(t, l.Refresh(context.Background()))
	require.Len(t, l.Entries(), 1)
}

func TestStartChatActivates(t *testing.T) {
	l, _, api := newList(t)

	id, err := l.StartChat(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, "new", id)
	require.Equal(t, "new", l.Active())
	require.Equal(t, []string{"u2"}, api.started)

	_, ok := l.Chat("new")
	require.True(t, ok)

	users, err := l.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestRefreshKeepsNewerLiveLastMessage(t *testing.T) {
	old := msg("m1", "x")
	old.CreatedAt = time.Now().Add(-time.Hour)
	l, bus, api := newList(t, models.Chat{ID: "x", Messages: []models.Message{old}})

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- l.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.gate == nil
	}, time.Second, 5*time.Millisecond)

	// delivered while the snapshot is in flight
	bus.Fire(realtime.EventNewMessage, msg("m2", "x"))

	close(gate)
	require.NoError(t, <-done)

	chat, ok := l.Chat("x")
	require.True(t, ok)
	last, ok := chat.LastMessage()
	require.True(t, ok)
	require.Equal(t, "m2", last.ID)
}
