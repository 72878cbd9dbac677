// Package realtime owns the single websocket connection of a chat session and
// fans inbound events out to subscribers.
//
// Handlers run on one dispatch goroutine, one at a time and in arrival order,
// so a handler never observes another handler half way through.
package realtime

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/config"
	"github.com/adi-253/dmsync/internal/models"
)

// CredentialSource supplies the bearer token used to authenticate the channel.
type CredentialSource interface {
	Token() string
}

// Options configures a Synchronizer.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:7000/ws
	URL string

	Credentials CredentialSource

	Reconnect config.ReconnectPolicy

	// Dialer overrides the websocket dialer; nil uses a default with a 10s handshake timeout
	Dialer *websocket.Dialer
}

// Synchronizer maintains at most one authenticated realtime connection and a
// publish/subscribe surface over it. Subscriptions live on the embedded
// Registry and survive reconnects.
type Synchronizer struct {
	*Registry

	opts   Options
	dialer *websocket.Dialer

	// lifecycle serializes Connect / Disconnect / reconnect attempts
	lifecycle sync.Mutex

	mu              sync.Mutex
	conn            *conn
	cancelReconnect context.CancelFunc

	queue     chan func()
	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a Synchronizer and starts its dispatch goroutine.
// Call Close to release it.
func New(opts Options) *Synchronizer {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	s := &Synchronizer{
		Registry: NewRegistry(),
		opts:     opts,
		dialer:   dialer,
		queue:    make(chan func(), 256),
		stop:     make(chan struct{}),
	}
	go s.run()
	return s
}

// run is the dispatch loop. Every handler invocation happens here.
func (s *Synchronizer) run() {
	for {
		select {
		case fn := <-s.queue:
			fn()
		case <-s.stop:
			return
		}
	}
}

func (s *Synchronizer) post(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.stop:
	}
}

// Connect opens the connection. It is a no-op when a connection already
// exists, and silently does nothing when no credential is available or the
// dial fails; check Connected afterwards if it matters.
func (s *Synchronizer) Connect(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopReconnect()
	s.connectLocked(ctx)
}

func (s *Synchronizer) connectLocked(ctx context.Context) bool {
	if s.Connected() {
		return true
	}
	select {
	case <-s.stop:
		return false
	default:
	}

	token := ""
	if s.opts.Credentials != nil {
		token = s.opts.Credentials.Token()
	}
	if token == "" {
		log.Debug().Msg("[Realtime] No credential, not connecting")
		return false
	}

	target, err := url.Parse(s.opts.URL)
	if err != nil {
		log.Error().Err(err).Str("url", s.opts.URL).Msg("[Realtime] Invalid socket url")
		return false
	}
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := s.dialer.DialContext(ctx, target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Warn().Err(err).Str("url", s.opts.URL).Msg("[Realtime] Connect failed")
		return false
	}

	c := newConn(ws)
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	go c.writePump()
	go func() {
		c.readPump(func(ev Event) {
			s.post(func() { s.Dispatch(ev) })
		})
		s.handleDrop(c)
	}()

	log.Info().Str("url", s.opts.URL).Msg("[Realtime] Connected")
	s.post(func() { s.Dispatch(Event{Kind: EventConnect}) })
	return true
}

// Disconnect closes the connection if present and cancels any pending
// reconnect. Safe to call repeatedly and with no connection.
func (s *Synchronizer) Disconnect() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopReconnect()

	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.close(true)
	s.post(func() { s.Dispatch(Event{Kind: EventDisconnect}) })
	log.Info().Msg("[Realtime] Disconnected")
}

// handleDrop runs after a connection's read pump exits. Connections already
// released by Disconnect are not current anymore and are ignored.
func (s *Synchronizer) handleDrop(c *conn) {
	var ctx context.Context
	s.mu.Lock()
	current := s.conn == c
	if current {
		s.conn = nil
		// Registering the cancel func under the same lock lets a Disconnect
		// that observes the drop also stop the reconnect.
		if !c.manual.Load() && s.opts.Reconnect.Enabled() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(context.Background())
			if s.cancelReconnect != nil {
				s.cancelReconnect()
			}
			s.cancelReconnect = cancel
		}
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.post(func() { s.Dispatch(Event{Kind: EventDisconnect}) })
	log.Warn().Msg("[Realtime] Connection lost")
	if ctx != nil {
		go s.reconnectLoop(ctx)
	}
}

func (s *Synchronizer) stopReconnect() {
	s.mu.Lock()
	cancel := s.cancelReconnect
	s.cancelReconnect = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Synchronizer) reconnectLoop(ctx context.Context) {
	policy := s.opts.Reconnect
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		delay := policy.Delay(attempt)
		log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("[Realtime] Reconnecting")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.lifecycle.Lock()
		if ctx.Err() != nil {
			s.lifecycle.Unlock()
			return
		}
		ok := s.connectLocked(ctx)
		s.lifecycle.Unlock()
		if ok {
			return
		}
	}
	log.Error().Int("max_retries", policy.MaxRetries).Msg("[Realtime] Giving up reconnecting")
}

// Connected reports whether a live connection exists.
func (s *Synchronizer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Emit sends an event. Without a connection the event is dropped.
func (s *Synchronizer) Emit(kind Kind, payload interface{}) {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		log.Debug().Str("event", string(kind)).Msg("[Realtime] Not connected, dropping event")
		return
	}

	frame, err := encode(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(kind)).Msg("[Realtime] Encode failed")
		return
	}
	if !c.enqueue(frame) {
		log.Warn().Str("event", string(kind)).Msg("[Realtime] Send buffer full or closing, dropping event")
	}
}

// JoinChat subscribes this connection to a chat's room on the server.
func (s *Synchronizer) JoinChat(chatID string) {
	s.Emit(EventJoinChat, models.ChatRef{ChatID: chatID})
}

// SendMessage posts a message; the server echoes it back as newMessage.
func (s *Synchronizer) SendMessage(chatID, content, replyToID string) {
	s.Emit(EventSendMessage, models.SendMessageRequest{ChatID: chatID, Content: content, ReplyToID: replyToID})
}

// LikeMessage asks the server to toggle the session user's like.
func (s *Synchronizer) LikeMessage(chatID, messageID string) {
	s.Emit(EventLikeMessage, models.LikeMessageRequest{ChatID: chatID, MessageID: messageID})
}

func (s *Synchronizer) Typing(chatID string) {
	s.Emit(EventTyping, models.ChatRef{ChatID: chatID})
}

func (s *Synchronizer) StopTyping(chatID string) {
	s.Emit(EventStopTyping, models.ChatRef{ChatID: chatID})
}

func (s *Synchronizer) MarkRead(chatID string) {
	s.Emit(EventMarkRead, models.ChatRef{ChatID: chatID})
}

// Close disconnects and stops the dispatch goroutine. Queued events that were
// not yet dispatched are dropped.
func (s *Synchronizer) Close() {
	s.Disconnect()
	s.closeOnce.Do(func() { close(s.stop) })
}
