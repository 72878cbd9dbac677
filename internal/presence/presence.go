// Package presence tracks which users are online, from snapshots and deltas
// pushed on the realtime channel.
package presence

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/adi-253/dmsync/internal/models"
	"github.com/adi-253/dmsync/internal/realtime"
)

// Bus is the part of the synchronizer the presence set needs.
type Bus interface {
	Subscribe(kind realtime.Kind, handler realtime.Handler) realtime.Subscription
	Unsubscribe(sub realtime.Subscription)
}

// Set is the global set of online user ids.
type Set struct {
	bus  Bus
	subs []realtime.Subscription

	mu     sync.RWMutex
	online map[string]struct{}
}

// New creates a Set subscribed to the presence events of bus.
func New(bus Bus) *Set {
	s := &Set{bus: bus, online: make(map[string]struct{})}
	s.subs = []realtime.Subscription{
		bus.Subscribe(realtime.EventOnlineUsers, s.onSnapshot),
		bus.Subscribe(realtime.EventUserOnline, s.onOnline),
		bus.Subscribe(realtime.EventUserOffline, s.onOffline),
	}
	return s
}

func (s *Set) onSnapshot(ev realtime.Event) {
	var ids []string
	if err := ev.Decode(&ids); err != nil {
		log.Warn().Err(err).Msg("[Presence] Bad snapshot")
		return
	}
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.online = next
	s.mu.Unlock()
}

func (s *Set) onOnline(ev realtime.Event) {
	var p models.PresenceEvent
	if err := ev.Decode(&p); err != nil || p.UserID == "" {
		log.Warn().Err(err).Msg("[Presence] Bad online event")
		return
	}
	s.mu.Lock()
	s.online[p.UserID] = struct{}{}
	s.mu.Unlock()
}

func (s *Set) onOffline(ev realtime.Event) {
	var p models.PresenceEvent
	if err := ev.Decode(&p); err != nil || p.UserID == "" {
		log.Warn().Err(err).Msg("[Presence] Bad offline event")
		return
	}
	s.mu.Lock()
	delete(s.online, p.UserID)
	s.mu.Unlock()
}

// IsOnline reports whether userID is currently online.
func (s *Set) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Online returns the online user ids, sorted.
func (s *Set) Online() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close drops the subscriptions. The last known state stays readable.
func (s *Set) Close() {
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil
}
