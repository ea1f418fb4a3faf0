package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/smsdesk/internal/model"
)

const conversationColumns = `
	c.phone, c.last_message_id, c.last_message_at, c.last_message_preview,
	(SELECT COUNT(*) FROM messages m WHERE m.phone = c.phone),
	(SELECT COUNT(*) FROM messages m WHERE m.phone = c.phone AND m.direction = 'inbound' AND m.is_read = 0)`

// ListConversations returns summaries sorted by last message time
// descending, and the total number matching search. search is matched
// against the digits of the phone number.
func (db *DB) ListConversations(offset, limit int, search string) ([]model.Conversation, int, error) {
	if limit <= 0 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}
	pattern := "%"
	if search != "" {
		digits := model.PhoneDigits(search)
		if digits == "" {
			return nil, 0, nil
		}
		pattern = "%" + digits + "%"
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE phone LIKE ?`, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.phone LIKE ?
		ORDER BY c.last_message_at DESC, c.phone ASC
		LIMIT ? OFFSET ?`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var convs []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		convs = append(convs, *c)
	}
	return convs, total, rows.Err()
}

// GetConversation returns a single summary by phone number.
func (db *DB) GetConversation(phone string) (*model.Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationColumns+` FROM conversations c WHERE c.phone = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// DeleteConversation removes the conversation with all its messages and
// attachment rows.
func (db *DB) DeleteConversation(phone string) error {
	res, err := db.Exec(`DELETE FROM conversations WHERE phone = ?`, phone)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(s scanner) (*model.Conversation, error) {
	var c model.Conversation
	var last int64
	if err := s.Scan(&c.Phone, &c.LastMessageID, &last, &c.LastMessagePreview, &c.MessageCount, &c.UnreadCount); err != nil {
		return nil, err
	}
	c.LastMessageAt = fromMillis(last)
	return &c, nil
}

// refreshConversation points the summary at the newest remaining message.
func refreshConversation(tx *sql.Tx, phone string) error {
	var (
		id      string
		body    string
		created int64
		atts    int
	)
	err := tx.QueryRow(`
		SELECT m.id, m.body, m.created_at,
			(SELECT COUNT(*) FROM attachments a WHERE a.message_id = m.id)
		FROM messages m
		WHERE m.phone = ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT 1`, phone).Scan(&id, &body, &created, &atts)
	if errors.Is(err, sql.ErrNoRows) {
		id, body, created, atts = "", "", 0, 0
	} else if err != nil {
		return fmt.Errorf("newest message for %s: %w", phone, err)
	}
	_, err = tx.Exec(`
		UPDATE conversations
		SET last_message_id = ?, last_message_at = ?, last_message_preview = ?, updated_at = ?
		WHERE phone = ?`,
		id, created, model.Preview(body, atts), time.Now().UnixMilli(), phone)
	return err
}
