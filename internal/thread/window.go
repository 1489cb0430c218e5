package thread

import (
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultWindow is the provider's customer service window
const DefaultWindow = 24 * time.Hour

// WindowState tells whether free-form replies are currently allowed
type WindowState string

const (
	WindowUnknown WindowState = "unknown"
	WindowOpen    WindowState = "open"
	WindowClosed  WindowState = "closed"
)

// Window tracks the conversation window of one contact. The state is computed
// when the contact loads and when its last inbound time changes; it does not
// close on its own while nothing new is observed.
type Window struct {
	length      time.Duration
	now         func() time.Time
	state       WindowState
	lastInbound *time.Time
}

// NewWindow creates a window tracker in the unknown state
func NewWindow(length time.Duration, now func() time.Time) *Window {
	if length <= 0 {
		length = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Window{length: length, now: now, state: WindowUnknown}
}

// IsOpen reports whether a message received at last still allows free-form
// replies at now
func IsOpen(last, now time.Time, length time.Duration) bool {
	return now.Sub(last) < length
}

// Load sets the state from a freshly loaded contact. A contact that never
// wrote in has a closed window.
func (w *Window) Load(lastInbound *time.Time) WindowState {
	w.lastInbound = lastInbound
	w.state = w.compute()
	return w.state
}

// Observe applies a change of the last inbound time. Unset values are ignored.
// It reports whether the state or the expiry moved.
func (w *Window) Observe(lastInbound *time.Time) (WindowState, bool) {
	if lastInbound == nil {
		return w.state, false
	}
	prev := w.state
	moved := w.lastInbound == nil || !w.lastInbound.Equal(*lastInbound)
	w.lastInbound = lastInbound
	w.state = w.compute()
	return w.state, moved || w.state != prev
}

// Reset returns to the unknown state
func (w *Window) Reset() {
	w.state = WindowUnknown
	w.lastInbound = nil
}

// State returns the current state
func (w *Window) State() WindowState {
	return w.state
}

// AllowsFreeForm reports whether non-template messages may be sent
func (w *Window) AllowsFreeForm() bool {
	return w.state == WindowOpen
}

// ExpiresAt returns when the window closes (or closed)
func (w *Window) ExpiresAt() (time.Time, bool) {
	if w.lastInbound == nil {
		return time.Time{}, false
	}
	return w.lastInbound.Add(w.length), true
}

// Remaining describes the time left, e.g. "3 hours left" or "2 days ago"
func (w *Window) Remaining() string {
	exp, ok := w.ExpiresAt()
	if !ok {
		return ""
	}
	return humanize.RelTime(exp, w.now(), "ago", "left")
}

func (w *Window) compute() WindowState {
	if w.lastInbound == nil {
		return WindowClosed
	}
	if IsOpen(*w.lastInbound, w.now(), w.length) {
		return WindowOpen
	}
	return WindowClosed
}
