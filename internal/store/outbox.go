package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueueOutbox adds a message to the send outbox. Queuing the same
// client_msg_id twice is a no-op.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	media, err := json.Marshal(e.Media)
	if err != nil {
		return fmt.Errorf("encode media: %w", err)
	}
	if e.Media == nil {
		media = []byte("[]")
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbox (client_msg_id, phone, body, media, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(client_msg_id) DO NOTHING`,
		e.ClientMsgID, e.Phone, e.Body, string(media), now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSending, "", "")
}

// MarkOutboxSent updates an outbox entry to 'sent' with the gateway message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSent, "", serverMsgID)
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, OutboxFailed, errMsg, "")
}

func (db *DB) setOutboxStatus(clientMsgID, status, errMsg, serverMsgID string) error {
	res, err := db.Exec(`
		UPDATE outbox
		SET status = ?, error_message = ?, server_msg_id = COALESCE(NULLIF(?, ''), server_msg_id), updated_at = ?
		WHERE client_msg_id = ?`,
		status, errMsg, serverMsgID, time.Now().UnixMilli(), clientMsgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStale puts entries left in 'sending' by a crashed daemon back in
// the queue. It returns how many were requeued.
func (db *DB) RequeueStale() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, phone, body, media, status, error_message, server_msg_id, created_at
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetOutbox returns one entry by client message id.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	row := db.QueryRow(`
		SELECT id, client_msg_id, phone, body, media, status, error_message, server_msg_id, created_at
		FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutbox(s scanner) (*OutboxEntry, error) {
	var e OutboxEntry
	var media string
	var created int64
	if err := s.Scan(&e.ID, &e.ClientMsgID, &e.Phone, &e.Body, &media, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(media), &e.Media); err != nil {
		return nil, fmt.Errorf("decode media for %s: %w", e.ClientMsgID, err)
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}
