package realtime

import "sync"

type registered struct {
	id uint64
	fn Handler
}

// Registry maps event kinds to their ordered handlers. Every handler is
// identified by the Subscription returned when it was added.
type Registry struct {
	mu       sync.Mutex
	handlers map[Kind][]registered
	nextID   uint64
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind][]registered)}
}

// Subscribe registers handler for every event of kind. Handlers of the same
// kind are all invoked; the returned Subscription removes exactly this one.
func (r *Registry) Subscribe(kind Kind, handler Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[kind] = append(r.handlers[kind], registered{id: r.nextID, fn: handler})
	return Subscription{kind: kind, id: r.nextID}
}

// Unsubscribe removes the handler behind sub. Unknown or already removed
// subscriptions are ignored.
func (r *Registry) Unsubscribe(sub Subscription) {
	if !sub.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[sub.kind]
	for i, h := range list {
		if h.id != sub.id {
			continue
		}
		next := make([]registered, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.kind)
		} else {
			r.handlers[sub.kind] = next
		}
		return
	}
}

// UnsubscribeAll removes every handler for kind.
func (r *Registry) UnsubscribeAll(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// Len returns the number of handlers registered for kind.
func (r *Registry) Len(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[kind])
}

// Dispatch invokes the handlers of ev.Kind in registration order on the
// calling goroutine. Handlers may subscribe or unsubscribe while running;
// the change applies from the next event on.
func (r *Registry) Dispatch(ev Event) {
	r.mu.Lock()
	list := r.handlers[ev.Kind]
	r.mu.Unlock()

	for _, h := range list {
		h.fn(ev)
	}
}

// State is the connection state reported to OnStateChange listeners.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// OnStateChange calls fn on every connect and disconnect. Unsubscribe both
// returned subscriptions to stop listening.
func (r *Registry) OnStateChange(fn func(State)) [2]Subscription {
	return [2]Subscription{
		r.Subscribe(EventConnect, func(Event) { fn(StateConnected) }),
		r.Subscribe(EventDisconnect, func(Event) { fn(StateDisconnected) }),
	}
}
