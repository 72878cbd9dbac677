package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/adi-253/dmsync/internal/chatlist"
	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
	"github.com/adi-253/dmsync/internal/thread"
	"github.com/adi-253/dmsync/internal/typing"
)

var flagPassKey string

var openCmd = &cobra.Command{
	Use:   "open <chatId>",
	Short: "Open a chat and talk in it",
	Long: `Open a chat, print its history and follow it live.

Lines typed are sent as messages. Commands:
  /reply <id> <text>   reply to a message (id or unique prefix)
  /like <id>           toggle your like on a message
  /unlock <pin>        retry a locked chat with a pass key
  /passkey <pin|->     set your pass key on this chat, - removes it
  /notify              email the other user about this chat
  /typing              show the typing indicator to the other user
  /switch <chatId>     open another chat, the current one counts unread
  /chats               list chats with unread counts
  /quit                leave`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.restore(ctx); err != nil {
			return err
		}
		return runOpen(ctx, a, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	}),
}

func init() {
	openCmd.Flags().StringVar(&flagPassKey, "passkey", "", "pass key to try if the chat is locked")
}

// console serializes writes from the dispatch goroutine and the input loop.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) println(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

// openSession holds what the open command needs while a chat is on screen.
// chatID, deb and names are read by printers on the dispatch goroutine.
type openSession struct {
	app  *app
	out  *console
	list *chatlist.List
	th   *thread.Thread
	self string

	mu     sync.Mutex
	chatID string
	deb    *typing.Debouncer
	names  map[string]string
}

func runOpen(ctx context.Context, a *app, chatID string, in io.Reader, w io.Writer) error {
	cfg := a.cfg

	list := chatlist.New(a.api, a.sync)
	defer list.Close()
	if err := list.Refresh(ctx); err != nil {
		return err
	}
	defer list.ClearActive()

	th := thread.New(a.api, a.sync, thread.Options{
		Self:               a.session.UserID,
		GuardPolicy:        cfg.GuardPolicy,
		OptimisticLikes:    cfg.OptimisticLikes,
		LikeConfirmTimeout: cfg.LikeConfirmTimeout,
		TypingTimeout:      cfg.TypingTimeout,
	})
	defer th.Shutdown()

	s := &openSession{
		app:   a,
		out:   &console{w: w},
		list:  list,
		th:    th,
		self:  a.session.UserID(),
		names: map[string]string{},
	}
	if u := a.session.Current(); u != nil {
		s.names[u.ID] = displayName(*u)
	}
	for _, c := range list.Chats() {
		if c.OtherUser != nil {
			s.names[c.OtherUser.ID] = displayName(*c.OtherUser)
		}
	}
	defer func() {
		if deb := s.debouncer(); deb != nil {
			deb.Stop()
		}
	}()

	subs := s.subscribe()
	defer func() {
		for _, sub := range subs {
			a.sync.Unsubscribe(sub)
		}
	}()

	if err := s.switchTo(ctx, chatID, flagPassKey); err != nil {
		return err
	}
	return s.loop(ctx, in)
}

func (s *openSession) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

func (s *openSession) debouncer() *typing.Debouncer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deb
}

func (s *openSession) name(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[userID]
}

func (s *openSession) nameMap() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.names))
	for k, v := range s.names {
		out[k] = v
	}
	return out
}

// switchTo makes chatID the open chat. The chat left behind starts counting
// unread messages.
func (s *openSession) switchTo(ctx context.Context, chatID, passKey string) error {
	s.list.SetActive(chatID)

	s.mu.Lock()
	if s.deb != nil {
		s.deb.Stop()
	}
	s.chatID = chatID
	s.deb = typing.NewDebouncer(s.app.sync, chatID, s.app.cfg.TypingDebounce)
	s.mu.Unlock()

	if err := s.th.Open(ctx, chatID); err != nil {
		return err
	}
	if s.th.Guard() == thread.GuardLocked && passKey != "" {
		if err := s.th.Unlock(ctx, passKey); err != nil && !errors.Is(err, thread.ErrLocked) {
			return err
		}
	}

	title := chatID
	if chat, ok := s.list.Chat(chatID); ok && chat.OtherUser != nil {
		title = displayName(*chat.OtherUser)
	}
	s.out.println("-- %s --", title)
	s.printHistory()
	return nil
}

func (s *openSession) printHistory() {
	if s.th.Guard() == thread.GuardLocked {
		s.out.println("This chat is locked. Use /unlock <pin>.")
		return
	}
	names := s.nameMap()
	for _, m := range s.th.Messages() {
		s.out.println("%s", formatMessage(m, s.self, names))
	}
}

func (s *openSession) printChats() {
	for _, e := range s.list.Entries() {
		s.out.println("%s", formatChatRow(e, s.app.presence.IsOnline))
	}
}

// subscribe installs printers. They are registered after the list and the
// thread, so the state they read is already updated.
func (s *openSession) subscribe() []realtime.Subscription {
	bus := s.app.sync
	return []realtime.Subscription{
		bus.Subscribe(realtime.EventNewMessage, func(ev realtime.Event) {
			var m models.Message
			if err := ev.Decode(&m); err != nil {
				return
			}
			if m.ChatID != s.current() {
				if n := s.list.Unread(m.ChatID); n > 0 {
					s.out.println("%s", formatUnreadNotice(s.name(m.SenderID), m.ChatID, n))
				}
				return
			}
			if s.th.Guard() == thread.GuardLocked {
				return
			}
			s.out.println("%s", formatMessage(m, s.self, s.nameMap()))
		}),
		bus.Subscribe(realtime.EventMessageLiked, func(ev realtime.Event) {
			var m models.Message
			if err := ev.Decode(&m); err != nil || m.ChatID != s.current() {
				return
			}
			s.out.println("liked: %s", formatMessage(m, s.self, s.nameMap()))
		}),
		bus.Subscribe(realtime.EventUserTyping, func(ev realtime.Event) {
			var t models.TypingEvent
			if err := ev.Decode(&t); err != nil || t.ChatID != s.current() || t.UserID == s.self {
				return
			}
			name := s.name(t.UserID)
			if name == "" {
				name = "someone"
			}
			s.out.println("%s is typing...", name)
		}),
		bus.Subscribe(realtime.EventMessagesRead, func(ev realtime.Event) {
			var r models.ReadReceipt
			if err := ev.Decode(&r); err != nil || r.ChatID != s.current() || r.ReaderID == s.self {
				return
			}
			s.out.println("seen at %s", r.ReadAt.Local().Format("15:04"))
		}),
		bus.Subscribe(realtime.EventDisconnect, func(realtime.Event) {
			s.out.println("connection lost")
		}),
	}
}

func (s *openSession) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.handleLine(ctx, strings.TrimSpace(line))
			if err != nil {
				s.out.println("error: %v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (s *openSession) handleLine(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		s.debouncer().Flush()
		return false, s.th.Send(line, "")
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit":
		return true, nil

	case "/reply":
		ref, text, _ := strings.Cut(rest, " ")
		id, err := resolveMessageID(s.th.Messages(), ref)
		if err != nil {
			return false, err
		}
		s.debouncer().Flush()
		return false, s.th.Send(strings.TrimSpace(text), id)

	case "/like":
		id, err := resolveMessageID(s.th.Messages(), rest)
		if err != nil {
			return false, err
		}
		return false, s.th.ToggleLike(id)

	case "/unlock":
		if rest == "" {
			return false, errors.New("usage: /unlock <pin>")
		}
		if err := s.th.Unlock(ctx, rest); err != nil {
			return false, err
		}
		s.printHistory()
		return false, nil

	case "/passkey":
		if rest == "" {
			return false, errors.New("usage: /passkey <pin|->")
		}
		key := rest
		if key == "-" {
			key = ""
		}
		if err := s.th.SetPassKey(ctx, key); err != nil {
			return false, err
		}
		if key == "" {
			s.out.println("pass key removed")
		} else {
			s.out.println("pass key set")
		}
		return false, nil

	case "/notify":
		if err := s.th.Notify(ctx, s.app.cfg.FrontURL); err != nil {
			return false, err
		}
		s.out.println("notification sent")
		return false, nil

	case "/typing":
		s.debouncer().Keystroke()
		return false, nil

	case "/switch":
		if rest == "" {
			return false, errors.New("usage: /switch <chatId>")
		}
		return false, s.switchTo(ctx, rest, "")

	case "/chats":
		s.printChats()
		return false, nil
	}

	log.Debug().Str("command", name).Msg("[CLI] Unknown command")
	return false, errors.Errorf("unknown command %s", name)
}
