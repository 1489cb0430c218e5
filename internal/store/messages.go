package store

import (
	"context"
	"fmt"
	"time"

	"wainbox/server/internal/models"
)

const messageColumns = `id, chat_id, wam_id, is_received, message, media_url,
	created_at, sent_at, delivered_at, read_at, read_by_user_at`

// FetchMessages returns up to limit messages of a conversation, newest first.
// When before is set only messages created strictly before it are returned.
func (s *Store) FetchMessages(ctx context.Context, chatID int64, before *time.Time, limit int) ([]models.Message, error) {
	if limit < 1 {
		limit = 50
	}

	sql := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id = $1`
	args := []any{chatID}
	if before != nil {
		sql += ` AND created_at < $2`
		args = append(args, *before)
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var wamID *string
		if err := rows.Scan(
			&m.ID, &m.ChatID, &wamID, &m.IsReceived, &m.Message, &m.MediaURL,
			&m.CreatedAt, &m.SentAt, &m.DeliveredAt, &m.ReadAt, &m.ReadByUserAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if wamID != nil {
			m.WamID = *wamID
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return messages, nil
}

// MarkAsRead stamps read_by_user_at on the given inbound messages and lowers
// the contact's unread counter by the number of rows that changed.
func (s *Store) MarkAsRead(ctx context.Context, chatID int64, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		WITH marked AS (
			UPDATE messages SET read_by_user_at = now()
			WHERE chat_id = $1 AND id = ANY($2) AND read_by_user_at IS NULL
			RETURNING id
		)
		UPDATE contacts
		SET unread_count = GREATEST(unread_count - (SELECT count(*) FROM marked), 0)
		WHERE wa_id = $1
	`, chatID, messageIDs)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}
