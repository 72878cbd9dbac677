package realtime

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Kind names an event on the realtime channel. Values are the wire names.
type Kind string

// Outbound events.
const (
	EventJoinChat    Kind = "joinChat"
	EventSendMessage Kind = "sendMessage"
	EventLikeMessage Kind = "likeMessage"
	EventTyping      Kind = "typing"
	EventStopTyping  Kind = "stopTyping"
	EventMarkRead    Kind = "markRead"
)

// Inbound events.
const (
	EventNewMessage     Kind = "newMessage"
	EventMessageLiked   Kind = "messageLiked"
	EventUserTyping     Kind = "userTyping"
	EventUserStopTyping Kind = "userStopTyping"
	EventMessagesRead   Kind = "messagesRead"
	EventOnlineUsers    Kind = "onlineUsers"
	EventUserOnline     Kind = "userOnline"
	EventUserOffline    Kind = "userOffline"
)

// Lifecycle events raised locally by the Synchronizer, never sent on the wire.
const (
	EventConnect    Kind = "connect"
	EventDisconnect Kind = "disconnect"
)

// Envelope is the frame format on the websocket, one envelope per text frame.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an inbound envelope as delivered to handlers.
type Event struct {
	Kind    Kind
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return errors.Errorf("event %s has no payload", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", e.Kind)
	}
	return nil
}

// Handler is invoked for every event of the kind it was subscribed to.
type Handler func(Event)

// Subscription identifies one registered handler. It is returned by Subscribe
// and is the only way to remove that exact handler.
type Subscription struct {
	kind Kind
	id   uint64
}

// Kind returns the event kind this subscription listens to.
func (s Subscription) Kind() Kind { return s.kind }

// Valid reports whether s came from Subscribe.
func (s Subscription) Valid() bool { return s.id != 0 }

func encode(kind Kind, payload interface{}) ([]byte, error) {
	env := Envelope{Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", kind)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
