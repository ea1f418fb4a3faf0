package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/store"
)

// Engine handles idempotent ingestion of messages into the store.
// It subscribes to "gateway." events on the bus and announces every newly
// stored message with a conversation.new_message event.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new ingestion engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound gateway events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("gateway.", 256)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the current event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindInbound:
		msg, ok := evt.Payload.(*model.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindInboundBatch:
		msgs, ok := evt.Payload.([]*model.Message)
		if !ok {
			return
		}
		n, err := e.IngestBatch(msgs)
		if err != nil {
			e.logger.Error("failed to ingest batch", zap.Error(err), zap.Int("count", len(msgs)))
			return
		}
		e.logger.Info("inbound batch ingested", zap.Int("messages", len(msgs)), zap.Int("new", n))
	}
}

// IngestMessage stores a single message (idempotent) and announces it if it
// was not already known.
func (e *Engine) IngestMessage(msg *model.Message) error {
	isNew, err := e.db.UpsertMessage(msg)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if isNew {
		e.bus.Emit(bus.KindNewMessage, msg.Phone)
	}
	return nil
}

// IngestBatch stores msgs and emits one new_message event per conversation
// that gained at least one message. It returns how many messages were new.
func (e *Engine) IngestBatch(msgs []*model.Message) (int, error) {
	touched := map[string]struct{}{}
	var order []string
	count := 0
	for _, m := range msgs {
		isNew, err := e.db.UpsertMessage(m)
		if err != nil {
			return count, fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
		if !isNew {
			continue
		}
		count++
		if _, ok := touched[m.Phone]; !ok {
			touched[m.Phone] = struct{}{}
			order = append(order, m.Phone)
		}
	}
	for _, phone := range order {
		e.bus.Emit(bus.KindNewMessage, phone)
	}
	return count, nil
}
