// Package remote defines the boundary between the console engine and the
// collaborators it does not own: the data store, the messaging gateway and
// the push channel.
package remote

import (
	"context"

	"github.com/matheus3301/smsdesk/internal/model"
)

type ListConversationsRequest struct {
	Offset   int
	PageSize int
	Search   string
}

type ListConversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
	TotalCount    int                  `json:"total_count"`
}

// ListMessagesRequest pages backwards from the newest message: offset 0 is
// the most recent page. Messages within a page are oldest-first.
type ListMessagesRequest struct {
	Conversation string
	Offset       int
	PageSize     int
	Query        string
}

type ListMessagesResponse struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// OutgoingAttachment carries file content for a send. Data is base64 in JSON.
type OutgoingAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// SendRequest carries the transient id of the optimistic row as
// ClientMsgID; the durable row echoes it back as ClientRef.
type SendRequest struct {
	Conversation string               `json:"-"`
	ClientMsgID  string               `json:"client_msg_id"`
	Text         string               `json:"text,omitempty"`
	Attachments  []OutgoingAttachment `json:"attachments,omitempty"`
}

// SendResponse acknowledges acceptance. No durable message id is returned;
// the stored row arrives later through the push channel.
type SendResponse struct {
	ClientMsgID string `json:"client_msg_id"`
}

// MarkRequest targets the listed messages, or every inbound message of the
// conversation when MessageIDs is empty.
type MarkRequest struct {
	Conversation string   `json:"-"`
	MessageIDs   []string `json:"message_ids,omitempty"`
}

type DeleteRequest struct {
	Conversation string   `json:"-"`
	MessageIDs   []string `json:"message_ids"`
}

// DaemonStatus reports smsdeskd health and store counts.
type DaemonStatus struct {
	Profile       string `json:"profile"`
	UptimeMS      int64  `json:"uptime_ms"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	QueuedSends   int    `json:"queued_sends"`
}

// Store is the conversation/message data store.
type Store interface {
	ListConversations(ctx context.Context, req ListConversationsRequest) (*ListConversationsResponse, error)
	ListMessages(ctx context.Context, req ListMessagesRequest) (*ListMessagesResponse, error)
	InboundMessageIDs(ctx context.Context, conversation string) ([]string, error)
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
	MarkRead(ctx context.Context, req MarkRequest) error
	MarkUnread(ctx context.Context, req MarkRequest) error
	DeleteMessages(ctx context.Context, req DeleteRequest) error
	DeleteConversation(ctx context.Context, conversation string) error
}

// Gateway is the phone-number-keyed messaging provider. Only read-state is
// driven from the console; sending goes through the Store.
type Gateway interface {
	MarkRead(ctx context.Context, ids []string) error
	MarkUnread(ctx context.Context, ids []string) error
}

// PushChannel delivers "new message" notifications for one conversation.
// Events carry no payload; receivers re-fetch.
type PushChannel interface {
	Subscribe(ctx context.Context, conversation string) (Subscription, error)
}

type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan struct{}
	Close() error
}
