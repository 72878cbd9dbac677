package devserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adi-253/dmsync/internal/api"
	"github.com/adi-253/dmsync/internal/chatlist"
	"github.com/adi-253/dmsync/internal/config"
	"github.com/adi-253/dmsync/internal/devserver"
	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/presence"
	"github.com/adi-253/dmsync/internal/realtime"
	"github.com/adi-253/dmsync/internal/thread"
)

const wait = 2 * time.Second
const tick = 10 * time.Millisecond

func startServer(t *testing.T) (*devserver.Server, string) {
	t.Helper()
	s := devserver.New(devserver.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return s, ts.URL
}

// peer is one signed in client with the full state stack.
type peer struct {
	user     models.User
	token    string
	api      *api.Client
	sync     *realtime.Synchronizer
	list     *chatlist.List
	thread   *thread.Thread
	presence *presence.Set
}

func newPeer(t *testing.T, baseURL, name string) *peer {
	t.Helper()
	ctx := context.Background()

	anon := api.NewClient(baseURL, nil, 5*time.Second)
	resp, err := anon.Register(ctx, models.RegisterRequest{Name: name, Email: name + "@example.com", Password: "pw-" + name})
	require.NoError(t, err)

	p := &peer{user: resp.User, token: resp.Token}
	p.api = api.NewClient(baseURL, api.StaticToken(resp.Token), 5*time.Second)
	p.sync = realtime.New(realtime.Options{
		URL:         config.DeriveSocketURL(baseURL),
		Credentials: api.StaticToken(resp.Token),
	})
	p.presence = presence.New(p.sync)
	p.list = chatlist.New(p.api, p.sync)
	p.thread = p.newThread()
	t.Cleanup(func() {
		p.thread.Shutdown()
		p.list.Close()
		p.presence.Close()
		p.sync.Close()
	})

	p.sync.Connect(ctx)
	require.True(t, p.sync.Connected())
	return p
}

func (p *peer) newThread() *thread.Thread {
	return thread.New(p.api, p.sync, thread.Options{
		Self:        func() string { return p.user.ID },
		GuardPolicy: config.GuardPolicySession,
	})
}

func TestHealth(t *testing.T) {
	_, url := startServer(t)
	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiresToken(t *testing.T) {
	_, url := startServer(t)
	_, err := api.NewClient(url, nil, time.Second).ListChats(context.Background())
	require.ErrorIs(t, err, api.ErrUnauthorized)

	s := realtime.New(realtime.Options{URL: config.DeriveSocketURL(url), Credentials: api.StaticToken("bogus")})
	defer s.Close()
	s.Connect(context.Background())
	require.False(t, s.Connected())
}

func TestTwoClientsEndToEnd(t *testing.T) {
	srv, url := startServer(t)
	ctx := context.Background()

	ann := newPeer(t, url, "ann")
	bob := newPeer(t, url, "bob")

	// presence
	require.Eventually(t, func() bool { return ann.presence.IsOnline(bob.user.ID) }, wait, tick)
	require.Eventually(t, func() bool { return bob.presence.IsOnline(ann.user.ID) }, wait, tick)

	// start chat, visible to both
	users, err := ann.list.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	chatID, err := ann.list.StartChat(ctx, bob.user.ID)
	require.NoError(t, err)
	require.NoError(t, bob.list.Refresh(ctx))
	chat, ok := bob.list.Chat(chatID)
	require.True(t, ok)
	require.Equal(t, ann.user.ID, chat.OtherUser.ID)

	// both open the thread
	require.NoError(t, ann.thread.Open(ctx, chatID))
	require.NoError(t, bob.thread.Open(ctx, chatID))
	bob.list.SetActive(chatID)
	require.Equal(t, thread.GuardUnlocked, ann.thread.Guard())
	require.Eventually(t, func() bool { return srv.Hub.RoomSize(chatID) == 2 }, wait, tick)

	// typing reaches the other side only
	bob.sync.Typing(chatID)
	require.Eventually(t, ann.thread.OtherUserTyping, wait, tick)
	bob.sync.StopTyping(chatID)
	require.Eventually(t, func() bool { return !ann.thread.OtherUserTyping() }, wait, tick)
	require.False(t, bob.thread.OtherUserTyping())

	// message delivery, then bob's markRead turns into a receipt for ann
	require.NoError(t, ann.thread.Send("hello bob", ""))
	require.Eventually(t, func() bool { return len(bob.thread.Messages()) == 1 }, wait, tick)
	require.Eventually(t, func() bool {
		msgs := ann.thread.Messages()
		return len(msgs) == 1 && msgs[0].IsRead
	}, wait, tick)
	msgID := bob.thread.Messages()[0].ID

	// reply and like
	require.NoError(t, bob.thread.Send("hi ann", msgID))
	require.Eventually(t, func() bool { return len(ann.thread.Messages()) == 2 }, wait, tick)
	require.Equal(t, msgID, ann.thread.Messages()[1].ReplyToID)

	require.NoError(t, bob.thread.ToggleLike(msgID))
	require.Eventually(t, func() bool {
		m, ok := ann.thread.Message(msgID)
		return ok && m.LikedBy(bob.user.ID)
	}, wait, tick)

	// unread once bob has left the chat
	bob.thread.Close()
	bob.list.ClearActive()
	require.NoError(t, ann.thread.Send("are you there?", ""))
	require.Eventually(t, func() bool { return bob.list.Unread(chatID) == 1 }, wait, tick)
	require.Eventually(t, func() bool {
		c, _ := bob.list.Chat(chatID)
		last, ok := c.LastMessage()
		return ok && last.Content == "are you there?"
	}, wait, tick)

	// notify is recorded
	require.NoError(t, ann.thread.Notify(ctx, "http://localhost:5173"))
	notes := srv.Notifications()
	require.Len(t, notes, 1)
	require.Equal(t, bob.user.ID, notes[0].ToID)

	// offline
	bob.sync.Disconnect()
	require.Eventually(t, func() bool { return !ann.presence.IsOnline(bob.user.ID) }, wait, tick)
}

func TestPassKeyGuard(t *testing.T) {
	_, url := startServer(t)
	ctx := context.Background()

	ann := newPeer(t, url, "ann")
	bob := newPeer(t, url, "bob")
	chatID, err := ann.list.StartChat(ctx, bob.user.ID)
	require.NoError(t, err)

	require.NoError(t, ann.thread.Open(ctx, chatID))
	require.NoError(t, ann.thread.Send("secret stuff", ""))
	require.Eventually(t, func() bool { return len(ann.thread.Messages()) == 1 }, wait, tick)
	require.NoError(t, ann.thread.SetPassKey(ctx, "1234"))

	require.NoError(t, ann.list.Refresh(ctx))
	chat, _ := ann.list.Chat(chatID)
	require.True(t, chat.HasMyPassKey)

	// a fresh thread has nothing remembered
	fresh := ann.newThread()
	defer fresh.Shutdown()
	require.NoError(t, fresh.Open(ctx, chatID))
	require.Equal(t, thread.GuardLocked, fresh.Guard())
	require.Empty(t, fresh.Messages())

	require.ErrorIs(t, fresh.Unlock(ctx, "0000"), thread.ErrLocked)
	require.Equal(t, thread.GuardLocked, fresh.Guard())

	require.NoError(t, fresh.Unlock(ctx, "1234"))
	require.Equal(t, thread.GuardUnlocked, fresh.Guard())
	require.Len(t, fresh.Messages(), 1)

	// the guard is per user: bob still reads freely
	require.NoError(t, bob.thread.Open(ctx, chatID))
	require.Equal(t, thread.GuardUnlocked, bob.thread.Guard())

	// removing it unlocks again
	require.NoError(t, fresh.SetPassKey(ctx, ""))
	other := ann.newThread()
	defer other.Shutdown()
	require.NoError(t, other.Open(ctx, chatID))
	require.Equal(t, thread.GuardUnlocked, other.Guard())
}
