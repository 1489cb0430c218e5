package websocket

import (
	"encoding/json"
	"time"

	"wainbox/server/internal/models"
)

// EventType represents different WebSocket event types
type EventType string

const (
	// Connection events
	EventConnect EventType = "connect"

	// Command results
	EventSendAccepted EventType = "send_accepted"

	// Server-wide events
	EventUnreadBadge       EventType = "unread_badge"
	EventBroadcastsChanged EventType = "broadcasts_changed"

	// Error events
	EventError EventType = "error"

	// Conversation view events (contact_loaded, thread_loaded, ...) are
	// forwarded with the view's own event names.
)

// Commands sent by the browser
const (
	CmdOpenChat     EventType = "open_chat"
	CmdLoadOlder    EventType = "load_older"
	CmdSendMessage  EventType = "send_message"
	CmdSendTemplate EventType = "send_template"
	CmdRetry        EventType = "retry"
	CmdCloseChat    EventType = "close_chat"
	CmdSetAuth      EventType = "set_auth"
)

// Error codes
const (
	CodeBadRequest     = "bad_request"
	CodeWindowClosed   = "window_closed"
	CodeNoConversation = "no_conversation"
	CodeUnknownMessage = "unknown_message"
	CodeUnauthorized   = "unauthorized"
	CodeInternal       = "internal"
)

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      EventType `json:"type"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// IncomingMessage represents messages received from clients
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OpenChatPayload selects a conversation. wa_id may be a number or a string.
type OpenChatPayload struct {
	WaID json.Number `json:"wa_id"`
}

type SendMessagePayload struct {
	Text string `json:"text"`
}

type SendTemplatePayload struct {
	Template models.TemplateRequest `json:"template"`
}

type RetryPayload struct {
	TempID string `json:"temp_id"`
}

type SetAuthPayload struct {
	AccessToken string `json:"access_token"`
}

// SendAcceptedPayload acknowledges a send; the row itself arrives as a
// message_upserted event
type SendAcceptedPayload struct {
	TempID string `json:"temp_id,omitempty"`
	WamID  string `json:"wam_id,omitempty"` // Set for sends made outside a view
}

// ErrorPayload represents error event payload
type ErrorPayload struct {
	Code    string    `json:"code"`
	Command EventType `json:"command,omitempty"`
	Message string    `json:"message"`
}
