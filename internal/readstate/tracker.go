// Package readstate mirrors conversation read state to the data store and
// the messaging gateway.
//
// The data store is the source of truth: it is written first with a single
// attempt. The gateway write is best-effort and retried with exponential
// backoff. A failure on either side is logged and never rolled back.
package readstate

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

// Store is the part of remote.Store the tracker writes to.
type Store interface {
	MarkRead(ctx context.Context, req remote.MarkRequest) error
	MarkUnread(ctx context.Context, req remote.MarkRequest) error
	InboundMessageIDs(ctx context.Context, conversation string) ([]string, error)
}

type Options struct {
	// GatewayRetries is the number of retries after the first gateway attempt.
	GatewayRetries int
	RetryInitial   time.Duration
}

// Result reports what was marked and how each target fared.
type Result struct {
	IDs        []string
	StoreErr   error
	GatewayErr error
}

type Tracker struct {
	store   Store
	gateway remote.Gateway
	opts    Options
	log     *zap.Logger
}

// New creates a tracker. gateway may be nil when no provider is configured.
func New(store Store, gateway remote.Gateway, opts Options, log *zap.Logger) *Tracker {
	if opts.GatewayRetries < 0 {
		opts.GatewayRetries = 0
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{store: store, gateway: gateway, opts: opts, log: log}
}

// UnreadInbound returns the ids of loaded inbound messages not yet read.
func UnreadInbound(loaded []model.Message) []string {
	var ids []string
	for _, m := range loaded {
		if m.Direction == model.Inbound && !m.Read && !m.IsTransient() {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// MarkConversationRead marks the unread inbound messages among loaded as
// read. The caller zeroes the local counter whatever the result.
func (t *Tracker) MarkConversationRead(ctx context.Context, phone string, loaded []model.Message) Result {
	res := Result{IDs: UnreadInbound(loaded)}
	if len(res.IDs) == 0 {
		return res
	}

	res.StoreErr = t.store.MarkRead(ctx, remote.MarkRequest{Conversation: phone, MessageIDs: res.IDs})
	if res.StoreErr != nil {
		t.log.Warn("store mark read failed", zap.String("phone", phone), zap.Error(res.StoreErr))
	}
	res.GatewayErr = t.withGateway(ctx, func(g remote.Gateway) error { return g.MarkRead(ctx, res.IDs) })
	if res.GatewayErr != nil {
		t.log.Warn("gateway mark read failed", zap.String("phone", phone), zap.Error(res.GatewayErr))
	}

	t.log.Debug("conversation marked read", zap.String("phone", phone), zap.Int("count", len(res.IDs)))
	return res
}

// MarkConversationUnread marks every inbound message of the conversation
// unread, gateway first and then the store.
func (t *Tracker) MarkConversationUnread(ctx context.Context, phone string) (Result, error) {
	ids, err := t.store.InboundMessageIDs(ctx, phone)
	if err != nil {
		return Result{}, fmt.Errorf("inbound ids for %s: %w", phone, err)
	}
	res := Result{IDs: ids}
	if len(ids) == 0 {
		return res, nil
	}

	res.GatewayErr = t.withGateway(ctx, func(g remote.Gateway) error { return g.MarkUnread(ctx, ids) })
	if res.GatewayErr != nil {
		t.log.Warn("gateway mark unread failed", zap.String("phone", phone), zap.Error(res.GatewayErr))
	}
	res.StoreErr = t.store.MarkUnread(ctx, remote.MarkRequest{Conversation: phone, MessageIDs: ids})
	if res.StoreErr != nil {
		t.log.Warn("store mark unread failed", zap.String("phone", phone), zap.Error(res.StoreErr))
	}
	return res, nil
}

func (t *Tracker) withGateway(ctx context.Context, op func(g remote.Gateway) error) error {
	if t.gateway == nil {
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.opts.RetryInitial
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(t.opts.GatewayRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(t.gateway)
		if err != nil && attempt <= t.opts.GatewayRetries {
			t.log.Debug("gateway write failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, policy)
}
