package model

import (
	"strconv"
	"time"

	"github.com/aquilax/truncate"
)

// Direction tells whether a message was received from or sent to the
// external phone number.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Kind separates text-only messages from multimedia ones.
type Kind string

const (
	KindSMS Kind = "sms"
	KindMMS Kind = "mms"
)

// Delivery is the delivery status of an outbound message.
type Delivery string

const (
	DeliveryNone    Delivery = ""
	DeliveryPending Delivery = "pending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

const previewLen = 100

// Attachment is a file carried by a multimedia message. Placeholder is only
// set on optimistic rows and never leaves the process.
type Attachment struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	URL         string `json:"url,omitempty"`
	Placeholder string `json:"-"`
}

// Message is one row of a conversation timeline. ClientRef is set on durable
// outbound rows to the transient id of the optimistic row they replace.
type Message struct {
	ID          string       `json:"id"`
	Phone       string       `json:"phone"`
	Direction   Direction    `json:"direction"`
	Kind        Kind         `json:"kind"`
	Body        string       `json:"body"`
	CreatedAt   time.Time    `json:"created_at"`
	Read        bool         `json:"read"`
	Delivery    Delivery     `json:"delivery,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ClientRef   string       `json:"client_ref,omitempty"`
}

// IsTransient reports whether the message is a local optimistic echo.
func (m Message) IsTransient() bool {
	return IsTransient(m.ID)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		copy(out.Attachments, m.Attachments)
	}
	return out
}

// Conversation is the summary row shown in the conversation index.
type Conversation struct {
	Phone              string    `json:"phone"`
	MessageCount       int       `json:"message_count"`
	LastMessageID      string    `json:"last_message_id"`
	LastMessageAt      time.Time `json:"last_message_at"`
	LastMessagePreview string    `json:"last_message_preview"`
	UnreadCount        int       `json:"unread_count"`
}

// Preview builds the one-line summary text for a message.
func Preview(body string, attachments int) string {
	if body == "" && attachments > 0 {
		if attachments == 1 {
			return "[1 attachment]"
		}
		return "[" + strconv.Itoa(attachments) + " attachments]"
	}
	if len(body) <= previewLen {
		return body
	}
	return truncate.Truncate(body, previewLen, "...", truncate.PositionEnd)
}
