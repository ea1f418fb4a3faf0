package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/smsdesk/internal/model"
)

// UpsertMessage inserts or updates a message (idempotent on id), replaces
// its attachment rows and moves the conversation summary forward. It
// reports whether the message was new.
func (db *DB) UpsertMessage(m *model.Message) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`INSERT INTO conversations (phone, updated_at) VALUES (?, ?) ON CONFLICT(phone) DO NOTHING`, m.Phone, now); err != nil {
		return false, fmt.Errorf("ensure conversation: %w", err)
	}

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ?`, m.ID).Scan(&exists); err != nil {
		return false, err
	}

	kind := m.Kind
	if kind == "" {
		kind = model.KindSMS
	}
	_, err = tx.Exec(`
		INSERT INTO messages (id, phone, direction, kind, body, is_read, delivery, client_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			delivery = excluded.delivery,
			client_ref = COALESCE(NULLIF(excluded.client_ref, ''), messages.client_ref)`,
		m.ID, m.Phone, m.Direction, kind, m.Body, m.Read, m.Delivery, m.ClientRef, millis(m.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("upsert message %s: %w", m.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM attachments WHERE message_id = ?`, m.ID); err != nil {
		return false, err
	}
	for i, a := range m.Attachments {
		if _, err := tx.Exec(`
			INSERT INTO attachments (id, message_id, position, content_type, filename, url)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				message_id = excluded.message_id,
				position = excluded.position,
				content_type = excluded.content_type,
				filename = excluded.filename,
				url = excluded.url`,
			a.ID, m.ID, i, a.ContentType, a.Filename, a.URL); err != nil {
			return false, fmt.Errorf("insert attachment %s: %w", a.ID, err)
		}
	}

	if err := refreshConversation(tx, m.Phone); err != nil {
		return false, err
	}
	return exists == 0, tx.Commit()
}

// GetMessage returns one message with its attachments.
func (db *DB) GetMessage(id string) (*model.Message, error) {
	rows, err := db.Query(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	msgs, err := db.collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

// ListMessages pages backwards from the newest message of phone: offset 0
// is the most recent page. The page is returned oldest-first along with
// whether older messages remain. A non-empty query filters by body.
func (db *DB) ListMessages(phone string, offset, limit int, query string) ([]model.Message, bool, error) {
	if limit <= 0 {
		limit = 30
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE phone = ?`
	args := []any{phone}
	if query != "" {
		q += ` AND body LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(query)+"%")
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, false, err
	}
	msgs, err := db.collectMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, hasMore, nil
}

// InboundMessageIDs returns the ids of every inbound message of phone.
func (db *DB) InboundMessageIDs(phone string) ([]string, error) {
	rows, err := db.Query(`
		SELECT id FROM messages
		WHERE phone = ? AND direction = 'inbound'
		ORDER BY created_at ASC, rowid ASC`, phone)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetRead sets the read flag on inbound messages of phone. An empty ids
// list targets all of them. It returns the number of rows changed.
func (db *DB) SetRead(phone string, ids []string, read bool) (int64, error) {
	q := `UPDATE messages SET is_read = ? WHERE phone = ? AND direction = 'inbound' AND is_read != ?`
	args := []any{read, phone, read}
	if len(ids) > 0 {
		q += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := db.Exec(q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMessages removes messages of phone by id and refreshes the
// conversation summary. It returns how many were deleted.
func (db *DB) DeleteMessages(phone string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{phone}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.Exec(`DELETE FROM messages WHERE phone = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := refreshConversation(tx, phone); err != nil {
			return 0, err
		}
	}
	return n, tx.Commit()
}

const messageColumns = `id, phone, direction, kind, body, is_read, delivery, client_ref, created_at`

// collectMessages scans message rows and attaches their attachments. It
// closes rows.
func (db *DB) collectMessages(rows *sql.Rows) ([]model.Message, error) {
	var msgs []model.Message
	index := map[string]int{}
	for rows.Next() {
		var m model.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.Phone, &m.Direction, &m.Kind, &m.Body, &m.Read, &m.Delivery, &m.ClientRef, &created); err != nil {
			_ = rows.Close()
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	err := rows.Err()
	_ = rows.Close()
	if err != nil || len(msgs) == 0 {
		return msgs, err
	}

	args := make([]any, 0, len(msgs))
	for _, m := range msgs {
		args = append(args, m.ID)
	}
	arows, err := db.Query(`
		SELECT id, message_id, content_type, filename, url
		FROM attachments
		WHERE message_id IN (`+placeholders(len(args))+`)
		ORDER BY message_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = arows.Close() }()
	for arows.Next() {
		var a model.Attachment
		var msgID string
		if err := arows.Scan(&a.ID, &msgID, &a.ContentType, &a.Filename, &a.URL); err != nil {
			return nil, err
		}
		i := index[msgID]
		msgs[i].Attachments = append(msgs[i].Attachments, a)
	}
	return msgs, arows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
