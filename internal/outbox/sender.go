// Package outbox drains queued sends to the SMS gateway. Every queued entry
// ends as a durable outbound row whose ClientRef is the client message id,
// delivered or failed, so consoles can retire their optimistic echo.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/gateway"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/store"
)

// GatewaySender is the part of the gateway client the sender needs.
type GatewaySender interface {
	Send(ctx context.Context, msg gateway.Outbound) (*gateway.Receipt, error)
}

// Ingester stores a durable message and notifies subscribers.
type Ingester interface {
	IngestMessage(msg *model.Message) error
}

// Sender drains the outbox and sends messages via the gateway.
type Sender struct {
	db       *store.DB
	sender   GatewaySender
	ingest   Ingester
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender polling every interval.
func NewSender(db *store.DB, sender GatewaySender, ingest Ingester, b *bus.Bus, interval time.Duration, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sender{
		db:       db,
		sender:   sender,
		ingest:   ingest,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start requeues entries abandoned by a previous run and begins polling.
// A KindOutboxQueued event wakes the loop early.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueStale(); err != nil {
		s.logger.Error("failed to requeue stale outbox entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale outbox entries", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	var wake <-chan bus.Event
	unsub := func() {}
	if s.bus != nil {
		wake, unsub = s.bus.Subscribe(bus.KindOutboxQueued, 16)
	}
	go func() {
		defer close(s.done)
		defer unsub()
		s.loop(ctx, wake)
	}()
}

// Stop stops the sender loop and waits for an in-flight batch to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context, wake <-chan bus.Event) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-wake:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending sends every queued entry once.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, &pending[i])
	}
}

func (s *Sender) process(ctx context.Context, entry *store.OutboxEntry) {
	log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID), zap.String("phone", entry.Phone))
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	out := gateway.Outbound{To: entry.Phone, Body: entry.Body}
	for _, m := range entry.Media {
		out.Media = append(out.Media, gateway.Media{URL: m.URL, ContentType: m.ContentType, Filename: m.Filename})
	}

	receipt, err := s.sender.Send(ctx, out)
	if err != nil {
		log.Error("failed to send message", zap.Error(err))
		if err := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); err != nil {
			log.Error("failed to mark failed", zap.Error(err))
		}
		s.bus.Publish(bus.Event{
			Kind:      bus.KindSendFailed,
			Timestamp: time.Now(),
			Payload:   bus.OutboxFailure{ClientMsgID: entry.ClientMsgID, Phone: entry.Phone, Err: err.Error()},
		})
		// The failed row keeps the attempt visible after the echo is
		// superseded. It gets its own id; the client id only survives as
		// client_ref.
		failed := durableRow(entry, uuid.NewString(), time.Now().UTC(), model.DeliveryFailed)
		if err := s.ingest.IngestMessage(failed); err != nil {
			log.Error("failed to store failed outbound message", zap.Error(err))
		}
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, receipt.ID); err != nil {
		log.Error("failed to mark sent", zap.Error(err))
	}
	if err := s.ingest.IngestMessage(durableRow(entry, receipt.ID, receipt.SentAt, model.DeliverySent)); err != nil {
		log.Error("failed to store outbound message", zap.Error(err))
		return
	}
	log.Info("message sent", zap.String("server_msg_id", receipt.ID))
}

func durableRow(entry *store.OutboxEntry, id string, at time.Time, delivery model.Delivery) *model.Message {
	msg := &model.Message{
		ID:        id,
		Phone:     entry.Phone,
		Direction: model.Outbound,
		Kind:      model.KindSMS,
		Body:      entry.Body,
		CreatedAt: at,
		Read:      true,
		Delivery:  delivery,
		ClientRef: entry.ClientMsgID,
	}
	if len(entry.Media) > 0 {
		msg.Kind = model.KindMMS
		for _, m := range entry.Media {
			msg.Attachments = append(msg.Attachments, model.Attachment{
				ID: m.ID, ContentType: m.ContentType, Filename: m.Filename, URL: m.URL,
			})
		}
	}
	return msg
}
