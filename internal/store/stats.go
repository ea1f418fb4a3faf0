package store

// ConversationCount returns the number of conversations.
func (db *DB) ConversationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}

// MessageCount returns the number of stored messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// QueuedOutboxCount returns how many sends are waiting for the gateway.
func (db *DB) QueuedOutboxCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status IN ('queued', 'sending')`).Scan(&n)
	return n, err
}
