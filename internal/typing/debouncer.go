// Package typing turns keystrokes into typing / stopTyping events.
package typing

import (
	"sync"
	"time"
)

// DefaultWindow is the keystroke inactivity window before stopTyping is sent.
const DefaultWindow = 2 * time.Second

// Emitter sends the typing events of a chat.
type Emitter interface {
	Typing(chatID string)
	StopTyping(chatID string)
}

// Debouncer tracks keystrokes in one chat input. At most one stop timer is
// live at a time.
type Debouncer struct {
	emitter Emitter
	chatID  string
	window  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

func NewDebouncer(emitter Emitter, chatID string, window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{emitter: emitter, chatID: chatID, window: window}
}

// Keystroke emits typing and pushes the stopTyping deadline out by one window.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.emitter.Typing(d.chatID)
	if d.timer != nil {
		d.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.timer != timer {
			return
		}
		d.timer = nil
		d.emitter.StopTyping(d.chatID)
	})
	d.timer = timer
}

// Flush cancels a pending stop and emits it now. Called when a message is sent.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return
	}
	d.timer.Stop()
	d.timer = nil
	d.emitter.StopTyping(d.chatID)
}

// Stop cancels a pending stop without emitting it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Active reports whether a stop is pending.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
