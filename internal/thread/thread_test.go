package thread

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/adi-253/dmsync/internal/api"
	"github.com/adi-253/dmsync/internal/config"
	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
	"github.com/adi-253/dmsync/internal/realtime/realtimetest"
)

const self = "me"

type fetchCall struct {
	chatID  string
	passKey string
}

// fakeAPI serves chat histories, refusing guarded chats without the right pin.
type fakeAPI struct {
	mu       sync.Mutex
	history  map[string][]models.Message
	pins     map[string]string
	gates    map[string]chan struct{}
	calls    []fetchCall
	passKeys map[string]*string
	notified []string
	err      error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		history:  make(map[string][]models.Message),
		pins:     make(map[string]string),
		gates:    make(map[string]chan struct{}),
		passKeys: make(map[string]*string),
	}
}

func (f *fakeAPI) GetMessages(ctx context.Context, chatID, passKey string) ([]models.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{chatID, passKey})
	gate := f.gates[chatID]
	delete(f.gates, chatID)
	msgs := append([]models.Message(nil), f.history[chatID]...)
	pin := f.pins[chatID]
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if pin != "" && pin != passKey {
		return nil, errors.Wrap(api.ErrForbidden, "GET /chats/messages")
	}
	return msgs, nil
}

func (f *fakeAPI) SetPassKey(ctx context.Context, chatID string, passKey *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passKeys[chatID] = passKey
	return nil
}

func (f *fakeAPI) Notify(ctx context.Context, chatID, frontURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, chatID+" "+frontURL)
	return nil
}

func (f *fakeAPI) fetches() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

func newThread(t *testing.T, fake *fakeAPI, mutate func(*Options)) (*Thread, *realtimetest.Bus) {
	t.Helper()
	bus := realtimetest.NewBus()
	opts := Options{
		Self:               func() string { return self },
		GuardPolicy:        config.GuardPolicySession,
		LikeConfirmTimeout: time.Second,
		TypingTimeout:      time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	th := New(fake, bus, opts)
	t.Cleanup(th.Shutdown)
	return th, bus
}

func message(id, chatID, sender string) models.Message {
	return models.Message{ID: id, ChatID: chatID, SenderID: sender, Content: "text " + id, CreatedAt: time.Now()}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOpenFetchesJoinsAndMarksRead(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other"), message("b", "1", self)}
	th, bus := newThread(t, fake, nil)

	require.NoError(t, th.Open(context.Background(), "1"))
	require.Equal(t, GuardUnlocked, th.Guard())
	require.Equal(t, "1", th.ChatID())
	require.Equal(t, []string{"a", "b"}, ids(th.Messages()))

	join, ok := bus.Last(realtime.EventJoinChat)
	require.True(t, ok)
	require.Equal(t, models.ChatRef{ChatID: "1"}, join.Payload)
	require.Equal(t, 1, bus.Count(realtime.EventMarkRead))
	require.Equal(t, []fetchCall{{"1", ""}}, fake.fetches())
}

func TestDuplicateDeliveryIsDeduplicated(t *testing.T) {
	fake := newFakeAPI()
	th, bus := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))

	bus.Fire(realtime.EventNewMessage, message("A", "1", "other"))
	bus.Fire(realtime.EventNewMessage, message("A", "1", "other"))
	bus.Fire(realtime.EventNewMessage, message("B", "1", "other"))

	require.Len(t, th.Messages(), 2)
	require.Equal(t, []string{"A", "B"}, ids(th.Messages()))
}

func TestNewMessageForOtherChatIsIgnored(t *testing.T) {
	fake := newFakeAPI()
	th, bus := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))
	bus.Reset()

	bus.Fire(realtime.EventNewMessage, message("x", "2", "other"))
	require.Empty(t, th.Messages())
	require.Equal(t, 0, bus.Count(realtime.EventMarkRead))
}

func TestIncomingMessageFromOtherMarksRead(t *testing.T) {
	fake := newFakeAPI()
	th, bus := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))
	bus.Reset()

	bus.Fire(realtime.EventNewMessage, message("mine", "1", self))
	require.Equal(t, 0, bus.Count(realtime.EventMarkRead))

	bus.Fire(realtime.EventNewMessage, message("theirs", "1", "other"))
	require.Equal(t, 1, bus.Count(realtime.EventMarkRead))
	require.Len(t, th.Messages(), 2)
}

func TestSwitchClearsGuardAndMessages(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other")}
	fake.pins["2"] = "0000"
	gate := make(chan struct{})
	th, _ := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))
	require.Equal(t, GuardUnlocked, th.Guard())

	fake.mu.Lock()
	fake.gates["2"] = gate
	fake.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- th.Open(context.Background(), "2") }()

	require.Eventually(t, func() bool { return th.ChatID() == "2" }, time.Second, 5*time.Millisecond)
	require.Equal(t, GuardUnknown, th.Guard())
	require.Empty(t, th.Messages())

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, GuardLocked, th.Guard())
}

func TestLikeForUnknownMessageIsNoop(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other")}
	th, bus := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))

	bus.Fire(realtime.EventMessageLiked, models.Message{ID: "ghost", ChatID: "1", LikedByIDs: []string{"other"}})
	require.Equal(t, []string{"a"}, ids(th.Messages()))

	require.ErrorIs(t, th.ToggleLike("ghost"), ErrUnknownMessage)
	require.Equal(t, 0, bus.Count(realtime.EventLikeMessage))
}

func TestLikeAppliedOnlyOnConfirmation(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other")}
	th, bus := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))

	require.NoError(t, th.ToggleLike("a"))
	emitted, ok := bus.Last(realtime.EventLikeMessage)
	require.True(t, ok)
	require.Equal(t, models.LikeMessageRequest{ChatID: "1", MessageID: "a"}, emitted.Payload)

	m, _ := th.Message("a")
	require.False(t, m.LikedBy(self))
	require.False(t, th.LikePending("a"))

	confirmed := message("a", "1", "other")
	confirmed.LikedByIDs = []string{self}
	bus.Fire(realtime.EventMessageLiked, confirmed)

	m, _ = th.Message("a")
	require.True(t, m.LikedBy(self))
}

func TestOptimisticLikeRollsBackWithoutConfirmation(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other"), message("b", "1", "other")}
	th, bus := newThread(t, fake, func(o *Options) {
		o.OptimisticLikes = true
		o.LikeConfirmTimeout = 50 * time.Millisecond
	})
	require.NoError(t, th.Open(context.Background(), "1"))

	require.NoError(t, th.ToggleLike("a"))
	m, _ := th.Message("a")
	require.True(t, m.LikedBy(self))
	require.True(t, th.LikePending("a"))

	require.Eventually(t, func() bool {
		m, _ := th.Message("a")
		return !m.LikedBy(self) && !th.LikePending("a")
	}, time.Second, 10*time.Millisecond)

	// a confirmed toggle stays
	require.NoError(t, th.ToggleLike("b"))
	confirmed := message("b", "1", "other")
	confirmed.LikedByIDs = []string{self}
	bus.Fire(realtime.EventMessageLiked, confirmed)
	require.False(t, th.LikePending("b"))

	time.Sleep(100 * time.Millisecond)
	m, _ = th.Message("b")
	require.True(t, m.LikedBy(self))
}

func TestUnlockWithPin(t *testing.T) {
	fake := newFakeAPI()
	fake.pins["5"] = "1234"
	fake.history["5"] = []models.Message{message("x", "5", "other"), message("y", "5", self)}
	th, bus := newThread(t, fake, nil)

	require.NoError(t, th.Open(context.Background(), "5"))
	require.Equal(t, GuardLocked, th.Guard())
	require.Empty(t, th.Messages())
	require.Equal(t, 0, bus.Count(realtime.EventMarkRead))

	require.ErrorIs(t, th.Unlock(context.Background(), "9999"), ErrLocked)
	require.Equal(t, GuardLocked, th.Guard())

	require.NoError(t, th.Unlock(context.Background(), "1234"))
	require.Equal(t, GuardUnlocked, th.Guard())
	require.Equal(t, []string{"x", "y"}, ids(th.Messages()))
	require.Equal(t, []fetchCall{{"5", ""}, {"5", "9999"}, {"5", "1234"}}, fake.fetches())

	// later reloads keep using the accepted pin
	require.NoError(t, th.Reload(context.Background()))
	require.Equal(t, GuardUnlocked, th.Guard())
	require.Equal(t, fetchCall{"5", "1234"}, fake.fetches()[3])
}

func TestSessionPolicyRemembersPinAcrossOpens(t *testing.T) {
	fake := newFakeAPI()
	fake.pins["5"] = "1234"
	th, _ := newThread(t, fake, nil)

	require.NoError(t, th.Open(context.Background(), "5"))
	require.NoError(t, th.Unlock(context.Background(), "1234"))
	require.NoError(t, th.Open(context.Background(), "6"))

	require.NoError(t, th.Open(context.Background(), "5"))
	require.Equal(t, GuardUnlocked, th.Guard())
	calls := fake.fetches()
	require.Equal(t, fetchCall{"5", "1234"}, calls[len(calls)-1])
}

func TestNeverPolicyForgetsPinOnSwitch(t *testing.T) {
	fake := newFakeAPI()
	fake.pins["5"] = "1234"
	th, _ := newThread(t, fake, func(o *Options) { o.GuardPolicy = config.GuardPolicyNever })

	require.NoError(t, th.Open(context.Background(), "5"))
	require.NoError(t, th.Unlock(context.Background(), "1234"))
	require.NoError(t, th.Reload(context.Background()))
	require.Equal(t, GuardUnlocked, th.Guard())

	require.NoError(t, th.Open(context.Background(), "6"))
	require.NoError(t, th.Open(context.Background(), "5"))
	require.Equal(t, GuardLocked, th.Guard())
	calls := fake.fetches()
	require.Equal(t, fetchCall{"5", ""}, calls[len(calls)-1])
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("old", "1", "other")}
	fake.history["2"] = []models.Message{message("new", "2", "other")}
	gate := make(chan struct{})
	fake.gates["1"] = gate
	th, _ := newThread(t, fake, nil)

	done := make(chan error, 1)
	go func() { done <- th.Open(context.Background(), "1") }()
	require.Eventually(t, func() bool { return len(fake.fetches()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, th.Open(context.Background(), "2"))
	close(gate)
	require.NoError(t, <-done)

	require.Equal(t, "2", th.ChatID())
	require.Equal(t, []string{"new"}, ids(th.Messages()))
}

func TestMessagesDeliveredDuringFetchAreKept(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other")}
	gate := make(chan struct{})
	fake.gates["1"] = gate
	th, bus := newThread(t, fake, nil)

	done := make(chan error, 1)
	go func() { done <- th.Open(context.Background(), "1") }()
	require.Eventually(t, func() bool { return len(fake.fetches()) == 1 }, time.Second, 5*time.Millisecond)

	bus.Fire(realtime.EventNewMessage, message("a", "1", "other"))
	bus.Fire(realtime.EventNewMessage, message("b", "1", "other"))
	close(gate)
	require.NoError(t, <-done)

	require.Equal(t, []string{"a", "b"}, ids(th.Messages()))
}

func TestFetchErrorIsReturned(t *testing.T) {
	fake := newFakeAPI()
	fake.err = errors.New("connection refused")
	th, _ := newThread(t, fake, nil)

	err := th.Open(context.Background(), "1")
	require.Error(t, err)
	require.Equal(t, GuardUnknown, th.Guard())
}

func TestReadReceiptMarksOwnMessages(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", self), message("b", "1", "other")}
	th, bus := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Fire(realtime.EventMessagesRead, models.ReadReceipt{ChatID: "1", ReaderID: "other", ReadAt: at})

	a, _ := th.Message("a")
	require.True(t, a.IsRead)
	require.NotNil(t, a.ReadAt)
	require.True(t, at.Equal(*a.ReadAt))

	b, _ := th.Message("b")
	require.False(t, b.IsRead)
}

func TestTypingIndicator(t *testing.T) {
	fake := newFakeAPI()
	th, bus := newThread(t, fake, func(o *Options) { o.TypingTimeout = 50 * time.Millisecond })
	require.NoError(t, th.Open(context.Background(), "1"))

	bus.Fire(realtime.EventUserTyping, models.TypingEvent{ChatID: "1", UserID: self})
	require.False(t, th.OtherUserTyping())

	bus.Fire(realtime.EventUserTyping, models.TypingEvent{ChatID: "2", UserID: "other"})
	require.False(t, th.OtherUserTyping())

	bus.Fire(realtime.EventUserTyping, models.TypingEvent{ChatID: "1", UserID: "other"})
	require.True(t, th.OtherUserTyping())
	bus.Fire(realtime.EventUserStopTyping, models.TypingEvent{ChatID: "1", UserID: "other"})
	require.False(t, th.OtherUserTyping())

	// expires without a stop event
	bus.Fire(realtime.EventUserTyping, models.TypingEvent{ChatID: "1", UserID: "other"})
	require.True(t, th.OtherUserTyping())
	require.Eventually(t, func() bool { return !th.OtherUserTyping() }, time.Second, 10*time.Millisecond)
}

func TestSendValidates(t *testing.T) {
	fake := newFakeAPI()
	fake.history["1"] = []models.Message{message("a", "1", "other")}
	th, bus := newThread(t, fake, nil)

	require.ErrorIs(t, th.Send("hi", ""), ErrNoChat)
	require.NoError(t, th.Open(context.Background(), "1"))
	require.ErrorIs(t, th.Send("   ", ""), ErrEmptyMessage)
	require.ErrorIs(t, th.Send("hi", "zzz"), ErrUnknownMessage)

	require.NoError(t, th.Send("hi", "a"))
	sent, ok := bus.Last(realtime.EventSendMessage)
	require.True(t, ok)
	require.Equal(t, models.SendMessageRequest{ChatID: "1", Content: "hi", ReplyToID: "a"}, sent.Payload)
}

func TestSendToLockedChatFails(t *testing.T) {
	fake := newFakeAPI()
	fake.pins["5"] = "1234"
	th, _ := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "5"))
	require.ErrorIs(t, th.Send("hi", ""), ErrLocked)
}

func TestSetPassKeyAndNotify(t *testing.T) {
	fake := newFakeAPI()
	th, _ := newThread(t, fake, nil)
	require.NoError(t, th.Open(context.Background(), "1"))

	require.NoError(t, th.SetPassKey(context.Background(), "4321"))
	require.NotNil(t, fake.passKeys["1"])
	require.Equal(t, "4321", *fake.passKeys["1"])

	require.NoError(t, th.SetPassKey(context.Background(), ""))
	require.Nil(t, fake.passKeys["1"])

	require.NoError(t, th.Notify(context.Background(), "http://front"))
	require.Equal(t, []string{"1 http://front"}, fake.notified)
}

func TestRejoinOnConnect(t *testing.T) {
	fake := newFakeAPI()
	th, bus := newThread(t, fake, nil)

	bus.Fire(realtime.EventConnect, nil)
	require.Equal(t, 0, bus.Count(realtime.EventJoinChat))

	require.NoError(t, th.Open(context.Background(), "1"))
	bus.Reset()
	bus.Fire(realtime.EventConnect, nil)
	require.Equal(t, 1, bus.Count(realtime.EventJoinChat))
}

func TestUnlockOnUnlockedThreadKeepsHistory(t *testing.T) {
	fake := newFakeAPI()
	fake.pins["5"] = "1234"
	fake.history["5"] = []models.Message{message("x", "5", "other")}
	th, _ := newThread(t, fake, nil)

	require.NoError(t, th.Open(context.Background(), "5"))
	require.NoError(t, th.Unlock(context.Background(), "1234"))
	before := len(fake.fetches())

	require.NoError(t, th.Unlock(context.Background(), "9999"))
	require.Equal(t, GuardUnlocked, th.Guard())
	require.Equal(t, []string{"x"}, ids(th.Messages()))
	require.Len(t, fake.fetches(), before)
}
