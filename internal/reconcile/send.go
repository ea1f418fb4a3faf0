package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
	"github.com/matheus3301/smsdesk/internal/status"
)

// DraftAttachment is a file staged in the compose area.
type DraftAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Draft is the content of the compose area.
type Draft struct {
	Text        string
	Attachments []DraftAttachment
}

func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && len(d.Attachments) == 0
}

// Composer is the compose area. Take returns its content and clears it;
// Restore puts a draft back after a failed send.
type Composer interface {
	Take() Draft
	Restore(d Draft)
}

// Compose is an in-memory Composer.
type Compose struct {
	mu    sync.Mutex
	draft Draft
}

func (c *Compose) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Text = text
}

func (c *Compose) Attach(a DraftAttachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft.Attachments = append(c.draft.Attachments, a)
}

// Draft returns the current content without clearing it.
func (c *Compose) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Compose) Take() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	c.draft = Draft{}
	return d
}

func (c *Compose) Restore(d Draft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = d
}

// Send submits the compose area to the open conversation. An optimistic
// row is appended and the conversation summary updated before the request
// is issued. On success the row is marked sent and later superseded by the
// durable row; on failure it is removed, the summary restored and the
// draft put back in the compose area. There is no automatic retry.
func (r *Reconciler) Send(ctx context.Context) error {
	phone := r.tl.Phone()
	epoch := r.tl.Epoch()
	if phone == "" {
		return ErrNoConversation
	}
	draft := r.composer.Take()
	if draft.Empty() {
		r.composer.Restore(draft)
		return ErrEmptyDraft
	}

	id := model.NewTransientID()
	machine := status.NewMachine(id, r.bus)
	now := time.Now().UTC()

	msg := model.Message{
		ID:        id,
		Phone:     phone,
		Direction: model.Outbound,
		Kind:      model.KindSMS,
		Body:      draft.Text,
		CreatedAt: now,
		Delivery:  model.DeliveryPending,
	}
	req := remote.SendRequest{Conversation: phone, ClientMsgID: id, Text: draft.Text}
	for _, a := range draft.Attachments {
		handle := r.attach.CreatePlaceholder(a.Filename, a.ContentType, a.Data)
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID:          handle,
			ContentType: a.ContentType,
			Filename:    a.Filename,
			Placeholder: handle,
		})
		req.Attachments = append(req.Attachments, remote.OutgoingAttachment(a))
	}
	if len(msg.Attachments) > 0 {
		msg.Kind = model.KindMMS
	}

	if err := machine.Transition(status.Pending); err != nil {
		return err
	}
	r.tl.Append(epoch, msg)
	prev, hadSummary := r.index.Get(phone)
	r.optimisticSummary(phone, msg)

	_, err := r.store.Send(ctx, req)
	if err != nil {
		_ = machine.Transition(status.Failed)
		r.tl.Remove(id)
		r.attach.ReleaseMessage(msg)
		r.composer.Restore(draft)
		r.rollbackSummary(phone, id, prev, hadSummary)

		r.log.Warn("send failed", zap.String("phone", phone), zap.String("msg_id", id), zap.Error(err))
		r.notify.Alert(fmt.Sprintf("Message to %s was not sent: %v", phone, err))
		return fmt.Errorf("send: %w", err)
	}

	_ = machine.Transition(status.Sent)
	r.attach.ReleaseMessage(msg)
	r.tl.Update(id, func(m *model.Message) {
		m.Delivery = model.DeliverySent
	})
	r.log.Info("message sent", zap.String("phone", phone), zap.String("msg_id", id))
	return nil
}

func (r *Reconciler) optimisticSummary(phone string, msg model.Message) {
	update := func(c *model.Conversation) {
		c.MessageCount++
		c.LastMessageID = msg.ID
		c.LastMessageAt = msg.CreatedAt
		c.LastMessagePreview = model.Preview(msg.Body, len(msg.Attachments))
	}
	if !r.index.Update(phone, update) {
		c := model.Conversation{Phone: phone}
		update(&c)
		r.index.Upsert(c)
	}
}

// rollbackSummary restores the summary captured before an optimistic send,
// unless something newer has replaced the optimistic pointer meanwhile.
func (r *Reconciler) rollbackSummary(phone, id string, prev model.Conversation, had bool) {
	cur, ok := r.index.Get(phone)
	if !ok || cur.LastMessageID != id {
		return
	}
	if !had {
		r.index.Discard(phone)
		return
	}
	r.index.Upsert(prev)
}
