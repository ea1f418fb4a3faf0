package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

type call struct {
	target string
	op     string
	ids    []string
}

type recorder struct {
	mu       sync.Mutex
	calls    []call
	storeErr error
	gwErrs   []error
	inbound  []string
}

func (r *recorder) record(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) MarkRead(ctx context.Context, req remote.MarkRequest) error {
	r.record(call{"store", "read", req.MessageIDs})
	return r.storeErr
}

func (r *recorder) MarkUnread(ctx context.Context, req remote.MarkRequest) error {
	r.record(call{"store", "unread", req.MessageIDs})
	return r.storeErr
}

func (r *recorder) InboundMessageIDs(ctx context.Context, conversation string) ([]string, error) {
	return r.inbound, nil
}

type gateway struct{ r *recorder }

func (g gateway) next() error {
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	if len(g.r.gwErrs) == 0 {
		return nil
	}
	err := g.r.gwErrs[0]
	g.r.gwErrs = g.r.gwErrs[1:]
	return err
}

func (g gateway) MarkRead(ctx context.Context, ids []string) error {
	g.r.record(call{"gateway", "read", ids})
	return g.next()
}

func (g gateway) MarkUnread(ctx context.Context, ids []string) error {
	g.r.record(call{"gateway", "unread", ids})
	return g.next()
}

func newTracker(r *recorder) *Tracker {
	return New(r, gateway{r}, Options{GatewayRetries: 3, RetryInitial: time.Millisecond}, nil)
}

var loaded = []model.Message{
	{ID: "a", Direction: model.Inbound},
	{ID: "b", Direction: model.Inbound, Read: true},
	{ID: "c", Direction: model.Outbound},
	{ID: model.TransientPrefix + "x", Direction: model.Inbound},
	{ID: "d", Direction: model.Inbound},
}

func TestMarkReadStoreThenGateway(t *testing.T) {
	r := &recorder{}
	res := newTracker(r).MarkConversationRead(context.Background(), "+1", loaded)

	require.Equal(t, []string{"a", "d"}, res.IDs)
	require.NoError(t, res.StoreErr)
	require.NoError(t, res.GatewayErr)
	require.Equal(t, []call{
		{"store", "read", []string{"a", "d"}},
		{"gateway", "read", []string{"a", "d"}},
	}, r.calls)
}

func TestMarkReadNothingUnread(t *testing.T) {
	r := &recorder{}
	res := newTracker(r).MarkConversationRead(context.Background(), "+1", loaded[1:3])
	require.Empty(t, res.IDs)
	require.Empty(t, r.calls)
}

func TestMarkReadGatewayRetried(t *testing.T) {
	r := &recorder{gwErrs: []error{errors.New("1"), errors.New("2")}}
	res := newTracker(r).MarkConversationRead(context.Background(), "+1", loaded)

	require.NoError(t, res.GatewayErr)
	require.Len(t, r.calls, 4)
}

func TestMarkReadFailuresIndependent(t *testing.T) {
	boom := errors.New("boom")
	r := &recorder{storeErr: boom, gwErrs: []error{boom, boom, boom, boom}}
	res := newTracker(r).MarkConversationRead(context.Background(), "+1", loaded)

	require.ErrorIs(t, res.StoreErr, boom)
	require.Error(t, res.GatewayErr)
	// One store attempt plus the initial gateway attempt and three retries.
	require.Len(t, r.calls, 5)
}

func TestMarkUnreadGatewayThenStore(t *testing.T) {
	r := &recorder{inbound: []string{"a", "b", "d"}}
	res, err := newTracker(r).MarkConversationUnread(context.Background(), "+1")
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b", "d"}, res.IDs)
	require.Equal(t, []call{
		{"gateway", "unread", []string{"a", "b", "d"}},
		{"store", "unread", []string{"a", "b", "d"}},
	}, r.calls)
}

func TestNilGatewaySkipped(t *testing.T) {
	r := &recorder{}
	res := New(r, nil, Options{}, nil).MarkConversationRead(context.Background(), "+1", loaded)
	require.NoError(t, res.GatewayErr)
	require.Len(t, r.calls, 1)
}
