package models

import "time"

// Contact represents a WhatsApp contact (one conversation per contact)
type Contact struct {
	WaID                  int64      `json:"wa_id" db:"wa_id"`
	ProfileName           *string    `json:"profile_name,omitempty" db:"profile_name"`
	LastMessageAt         *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	LastMessageReceivedAt *time.Time `json:"last_message_received_at,omitempty" db:"last_message_received_at"`
	UnreadCount           int        `json:"unread_count" db:"unread_count"`
	InChat                bool       `json:"in_chat" db:"in_chat"`
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
}

// DisplayName returns the profile name, falling back to the phone number
func (c *Contact) DisplayName() string {
	if c.ProfileName != nil && *c.ProfileName != "" {
		return *c.ProfileName
	}
	return "+" + FormatWaID(c.WaID)
}
