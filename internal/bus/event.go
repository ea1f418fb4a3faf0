package bus

import "time"

// Event kinds published inside the daemon and the console.
const (
	// KindInbound carries a *model.Message received by the gateway webhook.
	KindInbound = "gateway.inbound"
	// KindInboundBatch carries []*model.Message delivered in one webhook call.
	KindInboundBatch = "gateway.inbound_batch"
	// KindOutboxQueued carries the client message id of a queued send.
	KindOutboxQueued = "outbox.queued"
	// KindNewMessage carries the phone number of a conversation that gained
	// a durable message. It feeds the push channel.
	KindNewMessage = "conversation.new_message"
	// KindConversationDeleted carries the phone number of a removed conversation.
	KindConversationDeleted = "conversation.deleted"
	// KindSendFailed carries an OutboxFailure.
	KindSendFailed = "outbox.send_failed"
	// KindOutboundStatus carries a status.Change for an optimistic row.
	KindOutboundStatus = "outbound.status_changed"
	// KindTimelineChanged and KindIndexChanged tell the console to redraw.
	KindTimelineChanged = "console.timeline_changed"
	KindIndexChanged    = "console.index_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// OutboxFailure is the payload of KindSendFailed.
type OutboxFailure struct {
	ClientMsgID string
	Phone       string
	Err         string
}
