// Package realtimetest provides an in-memory stand-in for the realtime
// Synchronizer so state consumers can be driven synchronously in tests.
package realtimetest

import (
	"encoding/json"
	"sync"

	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
)

// Emitted is one outbound event recorded by Bus.
type Emitted struct {
	Kind    realtime.Kind
	Payload interface{}
}

// Bus records emits and lets tests fire inbound events. Fire invokes handlers
// on the caller's goroutine, which makes it behave like one turn of the
// Synchronizer's dispatch loop.
type Bus struct {
	*realtime.Registry

	mu      sync.Mutex
	emitted []Emitted
}

func NewBus() *Bus {
	return &Bus{Registry: realtime.NewRegistry()}
}

// Fire delivers an inbound event with payload encoded as JSON.
func (b *Bus) Fire(kind realtime.Kind, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		raw = data
	}
	b.Dispatch(realtime.Event{Kind: kind, Payload: raw})
}

func (b *Bus) Emit(kind realtime.Kind, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitted = append(b.emitted, Emitted{Kind: kind, Payload: payload})
}

// Emitted returns a copy of every recorded outbound event.
func (b *Bus) Emitted() []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Emitted(nil), b.emitted...)
}

// Count returns how many events of kind were emitted.
func (b *Bus) Count(kind realtime.Kind) int {
	n := 0
	for _, e := range b.Emitted() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent emit of kind.
func (b *Bus) Last(kind realtime.Kind) (Emitted, bool) {
	all := b.Emitted()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == kind {
			return all[i], true
		}
	}
	return Emitted{}, false
}

// Reset forgets recorded emits.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitted = nil
}

func (b *Bus) JoinChat(chatID string) {
	b.Emit(realtime.EventJoinChat, models.ChatRef{ChatID: chatID})
}

func (b *Bus) SendMessage(chatID, content, replyToID string) {
	b.Emit(realtime.EventSendMessage, models.SendMessageRequest{ChatID: chatID, Content: content, ReplyToID: replyToID})
}

func (b *Bus) LikeMessage(chatID, messageID string) {
	b.Emit(realtime.EventLikeMessage, models.LikeMessageRequest{ChatID: chatID, MessageID: messageID})
}

func (b *Bus) Typing(chatID string) {
	b.Emit(realtime.EventTyping, models.ChatRef{ChatID: chatID})
}

func (b *Bus) StopTyping(chatID string) {
	b.Emit(realtime.EventStopTyping, models.ChatRef{ChatID: chatID})
}

func (b *Bus) MarkRead(chatID string) {
	b.Emit(realtime.EventMarkRead, models.ChatRef{ChatID: chatID})
}
