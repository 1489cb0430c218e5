package models

import "time"

// Payload kinds as stored in the message JSON "type" field
const (
	KindText     = "text"
	KindImage    = "image"
	KindVideo    = "video"
	KindDocument = "document"
	KindTemplate = "template"
)

// Message represents a row of the messages table
type Message struct {
	ID           int64      `json:"id" db:"id"`
	ChatID       int64      `json:"chat_id" db:"chat_id"` // Counterparty wa_id
	WamID        string     `json:"wam_id" db:"wam_id"`   // Provider message id, empty until dispatched
	IsReceived   bool       `json:"is_received" db:"is_received"`
	Message      Payload    `json:"message" db:"message"`
	MediaURL     *string    `json:"media_url" db:"media_url"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	SentAt       *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt  *time.Time `json:"delivered_at" db:"delivered_at"`
	ReadAt       *time.Time `json:"read_at" db:"read_at"`
	ReadByUserAt *time.Time `json:"read_by_user_at" db:"read_by_user_at"`
}

// Payload is the provider message JSON. Exactly one of the body fields is set,
// matching Type.
type Payload struct {
	ID        string        `json:"id"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *TextBody     `json:"text,omitempty"`
	Image     *MediaBody    `json:"image,omitempty"`
	Video     *MediaBody    `json:"video,omitempty"`
	Document  *MediaBody    `json:"document,omitempty"`
	Template  *TemplateBody `json:"template,omitempty"`
}

// TextBody is the body of a text message
type TextBody struct {
	Body string `json:"body"`
}

// MediaBody is the body of an image, video or document message
type MediaBody struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// TemplateBody is the stored form of a sent template message
type TemplateBody struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

// IsInbound reports whether the message was sent by the contact
func (m *Message) IsInbound() bool {
	return m.IsReceived
}

// IsUnread reports whether an inbound message has not been read by an operator yet
func (m *Message) IsUnread() bool {
	return m.IsReceived && m.ReadByUserAt == nil
}
