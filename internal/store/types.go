package store

import "time"

// Outbox statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxEntry is a send accepted by the API and waiting for the gateway.
// Media references hosted files by attachment id and URL.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	Phone        string
	Body         string
	Media        []Media
	Status       string
	ErrorMessage string
	ServerMsgID  string
	CreatedAt    time.Time
}

// Media is an attachment staged for an outbound message.
type Media struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

// File is an attachment body hosted by the daemon.
type File struct {
	ID          string
	Path        string
	ContentType string
	Filename    string
	Size        int64
	CreatedAt   time.Time
}
