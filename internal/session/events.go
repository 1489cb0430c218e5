package session

import (
	"time"

	"wainbox/server/internal/models"
	"wainbox/server/internal/thread"
)

// EventType names a view event pushed to the renderer
type EventType string

const (
	EventContactLoaded     EventType = "contact_loaded"
	EventWindowChanged     EventType = "window_changed"
	EventThreadLoaded      EventType = "thread_loaded"
	EventMessagesPrepended EventType = "messages_prepended"
	EventMessageUpserted   EventType = "message_upserted"
	EventMessageRemoved    EventType = "message_removed"
	EventError             EventType = "error"
)

// Error scopes
const (
	ScopeContact = "contact"
	ScopeLoad    = "load"
	ScopePage    = "page"
	ScopeSend    = "send"
)

// Event is one change of the view state
type Event struct {
	Type    EventType `json:"type"`
	ChatID  int64     `json:"chat_id"`
	Payload any       `json:"payload"`
}

// Sink receives the events of a view. It is called from the view's loop and
// must not block for long.
type Sink func(Event)

// WindowInfo describes the conversation window for the chat header
type WindowInfo struct {
	State     thread.WindowState `json:"state"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Remaining string             `json:"remaining,omitempty"`
}

type ContactLoaded struct {
	Contact *models.Contact `json:"contact"`
	Window  WindowInfo      `json:"window"`
}

type ThreadLoaded struct {
	Messages     []thread.Record `json:"messages"`
	UnreadMarker int64           `json:"unread_marker,omitempty"` // First unread inbound message
	Exhausted    bool            `json:"exhausted"`
}

type MessagesPrepended struct {
	Messages  []thread.Record `json:"messages"`
	Anchor    string          `json:"anchor"` // Row to keep in place while rendering
	Exhausted bool            `json:"exhausted"`
}

type MessageUpserted struct {
	Key     string        `json:"key"`
	PrevKey string        `json:"prev_key,omitempty"`
	Message thread.Record `json:"message"`
}

type MessageRemoved struct {
	Key string `json:"key"`
}

type ErrorInfo struct {
	Scope   string `json:"scope"`
	Message string `json:"message"`
}
