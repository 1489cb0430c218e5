// Package thread holds the in-memory state of one conversation thread: the
// reconciled message list, the history pager, the read-receipt trigger and the
// conversation window. None of the types are safe for concurrent use; a
// conversation view owns them from a single goroutine.
package thread

import (
	"strconv"
	"strings"

	"wainbox/server/internal/models"
)

// Record is a message as shown in a thread
type Record struct {
	models.Message
	TempID  string `json:"temp_id,omitempty"` // Local id of an optimistic record
	Pending bool   `json:"pending"`
	Failed  bool   `json:"failed"`
}

// FromMessages wraps stored messages as confirmed records
func FromMessages(msgs []models.Message) []Record {
	out := make([]Record, len(msgs))
	for i := range msgs {
		out[i] = Record{Message: msgs[i]}
	}
	return out
}

// Key identifies the row in the rendered list. The provider id wins over the
// durable id, which wins over the temporary id.
func (r *Record) Key() string {
	switch {
	case r.WamID != "":
		return "wam:" + r.WamID
	case r.ID != 0:
		return "id:" + strconv.FormatInt(r.ID, 10)
	default:
		return "tmp:" + r.TempID
	}
}

// optimistic reports whether the record was synthesized locally and has not
// learned a provider id yet.
func (r *Record) optimistic() bool {
	return r.TempID != "" && r.WamID == "" && r.ID == 0
}

// fingerprint summarises the visible content of a message. It pairs an
// outbound insert with an optimistic copy whose send call returned no
// provider id.
func fingerprint(p *models.Payload) string {
	var b strings.Builder
	b.WriteString(p.Type)
	b.WriteByte(':')
	switch {
	case p.Text != nil:
		b.WriteString(strings.TrimSpace(p.Text.Body))
	case p.Template != nil:
		b.WriteString(p.Template.Name)
	case p.Image != nil:
		b.WriteString(p.Image.Caption)
	case p.Video != nil:
		b.WriteString(p.Video.Caption)
	case p.Document != nil:
		b.WriteString(p.Document.Filename)
	}
	return b.String()
}

// mergeStatus copies the status fields that are set on src into dst. Delivery
// and read timestamps only ever move from unset to set.
func mergeStatus(dst *models.Message, src *models.Message) {
	if src.SentAt != nil {
		dst.SentAt = src.SentAt
	}
	if src.DeliveredAt != nil {
		dst.DeliveredAt = src.DeliveredAt
	}
	if src.ReadAt != nil {
		dst.ReadAt = src.ReadAt
	}
	if src.ReadByUserAt != nil {
		dst.ReadByUserAt = src.ReadByUserAt
	}
	if src.MediaURL != nil {
		dst.MediaURL = src.MediaURL
	}
}

// fillStatus sets the status fields of dst that are still unset from src
func fillStatus(dst *models.Message, src *models.Message) {
	if dst.SentAt == nil {
		dst.SentAt = src.SentAt
	}
	if dst.DeliveredAt == nil {
		dst.DeliveredAt = src.DeliveredAt
	}
	if dst.ReadAt == nil {
		dst.ReadAt = src.ReadAt
	}
	if dst.ReadByUserAt == nil {
		dst.ReadByUserAt = src.ReadByUserAt
	}
	if dst.MediaURL == nil {
		dst.MediaURL = src.MediaURL
	}
}
