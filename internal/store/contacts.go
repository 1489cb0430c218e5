package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"wainbox/server/internal/models"
)

const contactColumns = `wa_id, profile_name, last_message_at, last_message_received_at,
	unread_count, in_chat, created_at`

// ContactFilter selects one page of the chat list
type ContactFilter struct {
	Active bool      // Window still open
	Since  time.Time // Inbound messages after this keep a window open
	Limit  int
	Offset int
}

// GetContact loads a single contact
func (s *Store) GetContact(ctx context.Context, waID int64) (*models.Contact, error) {
	var c models.Contact
	err := s.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE wa_id = $1`, waID).
		Scan(&c.WaID, &c.ProfileName, &c.LastMessageAt, &c.LastMessageReceivedAt,
			&c.UnreadCount, &c.InChat, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}
	return &c, nil
}

// ListContacts returns a page of the chat list, most recent activity first
func (s *Store) ListContacts(ctx context.Context, f ContactFilter) ([]models.Contact, error) {
	sql, args := contactListQuery(f)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.WaID, &c.ProfileName, &c.LastMessageAt, &c.LastMessageReceivedAt,
			&c.UnreadCount, &c.InChat, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	return contacts, nil
}

// TotalUnread sums the unread counters of all contacts
func (s *Store) TotalUnread(ctx context.Context) (int, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(unread_count), 0) FROM contacts WHERE unread_count > 0
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum unread: %w", err)
	}
	return int(total), nil
}

func contactListQuery(f ContactFilter) (string, []any) {
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where := `last_message_received_at > $1`
	if !f.Active {
		where = `(last_message_received_at IS NULL OR last_message_received_at <= $1)`
	}
	sql := `SELECT ` + contactColumns + ` FROM contacts WHERE ` + where + `
		ORDER BY last_message_at DESC NULLS LAST, wa_id
		LIMIT $2 OFFSET $3`
	return sql, []any{f.Since, f.Limit, f.Offset}
}
