package thread

import (
	"sync"

	"github.com/adi-253/dmsync/internal/config"
)

// GuardState is the access state of the open chat.
type GuardState int

const (
	// GuardUnknown means the first fetch for the open chat has not completed.
	GuardUnknown GuardState = iota
	// GuardLocked means the server refused the history without a valid pass key.
	GuardLocked
	// GuardUnlocked means the history was fetched.
	GuardUnlocked
)

func (g GuardState) String() string {
	switch g {
	case GuardLocked:
		return "locked"
	case GuardUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// guardCache remembers accepted pass keys per chat id. With GuardPolicyNever
// it never stores anything, so a key only lives as long as one open.
type guardCache struct {
	policy config.GuardPolicy

	mu   sync.Mutex
	keys map[string]string
}

func newGuardCache(policy config.GuardPolicy) *guardCache {
	if policy == "" {
		policy = config.GuardPolicySession
	}
	return &guardCache{policy: policy, keys: make(map[string]string)}
}

func (c *guardCache) get(chatID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[chatID]
}

func (c *guardCache) remember(chatID, key string) {
	if c.policy != config.GuardPolicySession {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		delete(c.keys, chatID)
		return
	}
	c.keys[chatID] = key
}

func (c *guardCache) forget(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, chatID)
}
