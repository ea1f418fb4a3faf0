package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/convindex"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/readstate"
	"github.com/matheus3301/smsdesk/internal/remote"
	"github.com/matheus3301/smsdesk/internal/timeline"
)

const phone = "+15551234567"

type memStore struct {
	mu        sync.Mutex
	msgs      map[string][]model.Message
	convs     []model.Conversation
	sendErr   error
	sendGate  chan struct{}
	listGates map[string]chan struct{}
	deleteErr error
	nextID    int
	marked    map[string]bool
}

func newMemStore() *memStore {
	return &memStore{msgs: map[string][]model.Message{}, marked: map[string]bool{}}
}

func (s *memStore) add(p string, m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Phone = p
	s.msgs[p] = append(s.msgs[p], m)
}

func (s *memStore) ListConversations(ctx context.Context, req remote.ListConversationsRequest) (*remote.ListConversationsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &remote.ListConversationsResponse{Conversations: append([]model.Conversation(nil), s.convs...), TotalCount: len(s.convs)}, nil
}

func (s *memStore) ListMessages(ctx context.Context, req remote.ListMessagesRequest) (*remote.ListMessagesResponse, error) {
	s.mu.Lock()
	gate := s.listGates[req.Conversation]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.msgs[req.Conversation]
	end := len(all) - req.Offset
	if end < 0 {
		end = 0
	}
	start := end - req.PageSize
	if start < 0 {
		start = 0
	}
	page := make([]model.Message, end-start)
	copy(page, all[start:end])
	return &remote.ListMessagesResponse{Messages: page, HasMore: start > 0}, nil
}

func (s *memStore) InboundMessageIDs(ctx context.Context, conversation string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, m := range s.msgs[conversation] {
		if m.Direction == model.Inbound {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *memStore) Send(ctx context.Context, req remote.SendRequest) (*remote.SendResponse, error) {
	s.mu.Lock()
	gate := s.sendGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.nextID++
	s.msgs[req.Conversation] = append(s.msgs[req.Conversation], model.Message{
		ID:        fmt.Sprintf("d%d", s.nextID),
		Phone:     req.Conversation,
		Direction: model.Outbound,
		Body:      req.Text,
		CreatedAt: time.Now().UTC(),
		Delivery:  model.DeliverySent,
		ClientRef: req.ClientMsgID,
	})
	return &remote.SendResponse{ClientMsgID: req.ClientMsgID}, nil
}

func (s *memStore) MarkRead(ctx context.Context, req remote.MarkRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range req.MessageIDs {
		s.marked[id] = true
	}
	return nil
}

func (s *memStore) MarkUnread(ctx context.Context, req remote.MarkRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range req.MessageIDs {
		s.marked[id] = false
	}
	return nil
}

func (s *memStore) DeleteMessages(ctx context.Context, req remote.DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteErr
}

func (s *memStore) DeleteConversation(ctx context.Context, conversation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.msgs, conversation)
	return nil
}

type fakeSub struct {
	ch     chan struct{}
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSub) Events() <-chan struct{} { return s.ch }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakePush struct {
	mu      sync.Mutex
	subs    map[string][]*fakeSub
	gates   map[string]chan struct{}
	waiting map[string]bool
}

func (p *fakePush) Subscribe(ctx context.Context, conversation string) (remote.Subscription, error) {
	p.mu.Lock()
	gate := p.gates[conversation]
	if gate != nil {
		if p.waiting == nil {
			p.waiting = map[string]bool{}
		}
		p.waiting[conversation] = true
	}
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subs == nil {
		p.subs = map[string][]*fakeSub{}
	}
	s := &fakeSub{ch: make(chan struct{}, 8), closed: make(chan struct{})}
	p.subs[conversation] = append(p.subs[conversation], s)
	return s, nil
}

func (p *fakePush) isWaiting(conversation string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting[conversation]
}

func (p *fakePush) sub(conversation string, i int) *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.subs[conversation]) {
		return nil
	}
	return p.subs[conversation][i]
}

func isClosed(s *fakeSub) bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (p *fakePush) fire(conversation string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.subs[conversation] {
		select {
		case <-s.closed:
		case s.ch <- struct{}{}:
		}
	}
}

type notes struct {
	mu      sync.Mutex
	alerts  []string
	indices []string
}

func (n *notes) Alert(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, msg)
}

func (n *notes) Indicate(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.indices = append(n.indices, msg)
}

func (n *notes) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type nopView struct{ n int }

func (v *nopView) Render(msgs []model.Message) int { v.n = len(msgs); return v.n }
func (v *nopView) ScrollOffset() int               { return 0 }
func (v *nopView) ScrollTo(int)                    {}
func (v *nopView) ScrollToEnd()                    {}

type harness struct {
	store   *memStore
	push    *fakePush
	tl      *timeline.Timeline
	index   *convindex.Index
	attach  *attach.Resolver
	compose *Compose
	notes   *notes
	rec     *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		push:    &fakePush{},
		compose: &Compose{},
		notes:   &notes{},
	}
	h.tl = timeline.New(h.store, &nopView{}, nil, 10, nil)
	h.index = convindex.New(h.store, convindex.Options{PageSize: 25}, nil, nil)
	h.attach = attach.NewResolver(t.TempDir(), nil, nil, nil)
	h.rec = New(Deps{
		Store:       h.store,
		Push:        h.push,
		Timeline:    h.tl,
		Index:       h.index,
		Reads:       readstate.New(h.store, nil, readstate.Options{}, nil),
		Attachments: h.attach,
		Composer:    h.compose,
		Notifier:    h.notes,
	}, Options{PushWindow: 4}, nil)
	t.Cleanup(h.rec.Close)
	return h
}

func (h *harness) seed(p string, from, to int, dir model.Direction) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := from; i <= to; i++ {
		h.store.add(p, model.Message{
			ID:        fmt.Sprintf("m%d", i),
			Direction: dir,
			Body:      fmt.Sprintf("body %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func TestOpenMarksReadAndZeroesCounter(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 3, model.Inbound)
	h.index.Upsert(model.Conversation{Phone: phone, MessageCount: 3, UnreadCount: 7})

	require.NoError(t, h.rec.Open(context.Background(), "(555) 123-4567"))

	c, ok := h.index.Get(phone)
	require.True(t, ok)
	require.Zero(t, c.UnreadCount)
	for _, m := range h.tl.Messages() {
		require.True(t, m.Read, m.ID)
		require.True(t, h.store.marked[m.ID], m.ID)
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 2, model.Inbound)
	require.NoError(t, h.rec.Open(context.Background(), phone))
	before, _ := h.index.Get(phone)

	h.store.sendGate = make(chan struct{})
	h.store.sendErr = errors.New("rejected")
	h.compose.SetText("Hello")
	h.compose.Attach(DraftAttachment{Filename: "a.png", ContentType: "image/png", Data: []byte("x")})

	errc := make(chan error, 1)
	go func() { errc <- h.rec.Send(context.Background()) }()

	require.Eventually(t, func() bool { return len(h.tl.Messages()) == 3 }, time.Second, time.Millisecond)
	echo := h.tl.Messages()[2]
	require.True(t, echo.IsTransient())
	require.Equal(t, "Hello", echo.Body)
	require.Equal(t, model.DeliveryPending, echo.Delivery)
	require.Equal(t, 1, h.attach.Live())
	require.Empty(t, h.compose.Draft().Text)
	summary, _ := h.index.Get(phone)
	require.Equal(t, echo.ID, summary.LastMessageID)

	close(h.store.sendGate)
	require.Error(t, <-errc)

	for _, m := range h.tl.Messages() {
		require.NotEqual(t, echo.ID, m.ID)
	}
	require.Len(t, h.tl.Messages(), 2)
	require.Equal(t, "Hello", h.compose.Draft().Text)
	require.Len(t, h.compose.Draft().Attachments, 1)
	require.Zero(t, h.attach.Live())
	require.Equal(t, 1, h.notes.alertCount())
	after, _ := h.index.Get(phone)
	require.Equal(t, before, after)
}

func TestSendSuccessSupersededByPush(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 2, model.Inbound)
	h.index.Upsert(model.Conversation{Phone: phone, MessageCount: 2, LastMessageID: "m2"})
	require.NoError(t, h.rec.Open(context.Background(), phone))

	h.compose.SetText("Hello")
	h.compose.Attach(DraftAttachment{Filename: "a.png", ContentType: "image/png", Data: []byte("x")})
	require.NoError(t, h.rec.Send(context.Background()))

	msgs := h.tl.Messages()
	require.Len(t, msgs, 3)
	require.True(t, msgs[2].IsTransient())
	require.Equal(t, model.DeliverySent, msgs[2].Delivery)
	require.Zero(t, h.attach.Live())

	h.push.fire(phone)
	require.Eventually(t, func() bool {
		msgs := h.tl.Messages()
		return len(msgs) == 3 && msgs[2].ID == "d1"
	}, time.Second, time.Millisecond)

	for _, m := range h.tl.Messages() {
		require.False(t, m.IsTransient())
	}
	summary, _ := h.index.Get(phone)
	require.Equal(t, "d1", summary.LastMessageID)
	require.Equal(t, 3, summary.MessageCount)
}

func TestFailedDeliveryRowCanBeDeleted(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 2, model.Inbound)
	require.NoError(t, h.rec.Open(context.Background(), phone))

	h.compose.SetText("Hello")
	require.NoError(t, h.rec.Send(context.Background()))
	echo := h.tl.Messages()[2]

	// The gateway rejected the send after the store accepted it.
	h.store.mu.Lock()
	rows := h.store.msgs[phone]
	rows[len(rows)-1].ID = "f7c1d2e0-9b44-4c6e-8f55-2a4f0b1e3c9d"
	rows[len(rows)-1].Delivery = model.DeliveryFailed
	h.store.mu.Unlock()

	h.push.fire(phone)
	require.Eventually(t, func() bool {
		for _, m := range h.tl.Messages() {
			if m.ID == echo.ID {
				return false
			}
		}
		return len(h.tl.Messages()) == 3
	}, time.Second, time.Millisecond)

	failed := h.tl.Messages()[2]
	require.Equal(t, model.DeliveryFailed, failed.Delivery)
	require.Equal(t, echo.ID, failed.ClientRef)
	require.True(t, h.rec.ToggleSelect(failed.ID))
	require.NoError(t, h.rec.DeleteSelected(context.Background()))
	require.Equal(t, []string{"m1", "m2"}, idsOf(h.tl.Messages()))
}

func TestSendFailureToNewConversationKeepsIndexTotals(t *testing.T) {
	h := newHarness(t)
	h.store.convs = []model.Conversation{{Phone: "+15550000001"}, {Phone: "+15550000002"}}
	require.NoError(t, h.index.Load(context.Background(), 0, "", false))
	require.NoError(t, h.rec.Open(context.Background(), phone))

	h.store.sendErr = errors.New("rejected")
	h.compose.SetText("Hello")
	require.Error(t, h.rec.Send(context.Background()))

	_, ok := h.index.Get(phone)
	require.False(t, ok)
	snap := h.index.Snapshot()
	require.Len(t, snap.Conversations, 2)
	require.Equal(t, 2, snap.Total)
}

func TestSendEmptyDraft(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 1, model.Inbound)
	require.NoError(t, h.rec.Open(context.Background(), phone))

	h.compose.SetText("   ")
	require.ErrorIs(t, h.rec.Send(context.Background()), ErrEmptyDraft)
	require.Equal(t, "   ", h.compose.Draft().Text)
}

func TestSendWithoutConversation(t *testing.T) {
	h := newHarness(t)
	h.compose.SetText("Hello")
	require.ErrorIs(t, h.rec.Send(context.Background()), ErrNoConversation)
	require.Equal(t, "Hello", h.compose.Draft().Text)
}

func TestPushMergeWindow(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 10, model.Inbound)
	require.NoError(t, h.rec.Open(context.Background(), phone))
	require.Len(t, h.tl.Messages(), 10)

	h.seed(phone, 11, 11, model.Inbound)
	h.push.fire(phone)

	want := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11"}
	require.Eventually(t, func() bool { return len(h.tl.Messages()) == 11 }, time.Second, time.Millisecond)
	require.Equal(t, want, idsOf(h.tl.Messages()))

	summary, _ := h.index.Get(phone)
	require.Equal(t, "m11", summary.LastMessageID)
	require.Equal(t, 1, summary.UnreadCount)
}

func TestSwitchingConversationClosesSubscription(t *testing.T) {
	h := newHarness(t)
	other := "+15557654321"
	h.seed(phone, 1, 2, model.Inbound)
	h.seed(other, 3, 4, model.Inbound)

	require.NoError(t, h.rec.Open(context.Background(), phone))
	require.NoError(t, h.rec.Open(context.Background(), other))

	first := h.push.subs[phone][0]
	select {
	case <-first.closed:
	default:
		t.Fatal("subscription for previous conversation still open")
	}

	h.seed(phone, 5, 5, model.Inbound)
	h.push.fire(phone)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, []string{"m3", "m4"}, idsOf(h.tl.Messages()))
}

func TestOverlappingOpensKeepOneSubscription(t *testing.T) {
	h := newHarness(t)
	other := "+15557654321"
	h.seed(phone, 1, 2, model.Inbound)
	h.seed(other, 3, 4, model.Inbound)

	listGate := make(chan struct{})
	subGate := make(chan struct{})
	h.store.listGates = map[string]chan struct{}{phone: listGate}
	h.push.gates = map[string]chan struct{}{other: subGate}

	errA := make(chan error, 1)
	go func() { errA <- h.rec.Open(context.Background(), phone) }()
	require.Eventually(t, func() bool { return h.push.sub(phone, 0) != nil }, time.Second, time.Millisecond)

	errB := make(chan error, 1)
	go func() { errB <- h.rec.Open(context.Background(), other) }()
	require.Eventually(t, func() bool { return h.push.isWaiting(other) }, time.Second, time.Millisecond)

	// The first open finishes after the second one already cleared the slot.
	close(listGate)
	require.NoError(t, <-errA)
	close(subGate)
	require.NoError(t, <-errB)

	first, second := h.push.sub(phone, 0), h.push.sub(other, 0)
	require.NotNil(t, second)
	require.True(t, isClosed(first), "subscription for previous conversation still open")
	require.False(t, isClosed(second))
	require.Equal(t, []string{"m3", "m4"}, idsOf(h.tl.Messages()))

	h.rec.Close()
	require.True(t, isClosed(second))
}

func TestDeleteFailureLeavesState(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 3, model.Inbound)
	require.NoError(t, h.rec.Open(context.Background(), phone))

	require.True(t, h.rec.ToggleSelect("m2"))
	h.store.deleteErr = errors.New("locked")
	require.Error(t, h.rec.DeleteSelected(context.Background()))

	require.Len(t, h.tl.Messages(), 3)
	require.Equal(t, []string{"m2"}, h.rec.Selected())
	require.Equal(t, 1, h.notes.alertCount())
}

func TestDeleteSelected(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 3, model.Inbound)
	h.index.Upsert(model.Conversation{Phone: phone, MessageCount: 3, LastMessageID: "m3"})
	require.NoError(t, h.rec.Open(context.Background(), phone))

	h.rec.ToggleSelect("m3")
	h.rec.ToggleSelect("m1")
	require.False(t, h.rec.ToggleSelect(model.TransientPrefix+"x"))
	require.NoError(t, h.rec.DeleteSelected(context.Background()))

	require.Equal(t, []string{"m2"}, idsOf(h.tl.Messages()))
	require.Empty(t, h.rec.Selected())
	c, _ := h.index.Get(phone)
	require.Equal(t, 1, c.MessageCount)
	require.Equal(t, "m2", c.LastMessageID)
}

func TestDeleteConversationClosesTimeline(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 2, model.Inbound)
	h.index.Upsert(model.Conversation{Phone: phone, MessageCount: 2})
	require.NoError(t, h.rec.Open(context.Background(), phone))

	require.NoError(t, h.rec.DeleteConversation(context.Background(), phone))
	require.Empty(t, h.tl.Phone())
	_, ok := h.index.Get(phone)
	require.False(t, ok)
}

func TestMarkUnreadSetsCounterToMessageCount(t *testing.T) {
	h := newHarness(t)
	h.seed(phone, 1, 3, model.Inbound)
	h.store.add(phone, model.Message{ID: "out", Direction: model.Outbound})
	h.index.Upsert(model.Conversation{Phone: phone, MessageCount: 4})
	require.NoError(t, h.rec.Open(context.Background(), phone))

	require.NoError(t, h.rec.MarkUnread(context.Background(), phone))
	c, _ := h.index.Get(phone)
	require.Equal(t, 4, c.UnreadCount)
	m, _ := h.tl.Get("m1")
	require.False(t, m.Read)
	require.False(t, h.store.marked["m1"])
}

func TestOpenRejectsInvalidPhone(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.rec.Open(context.Background(), "not a phone"), model.ErrInvalidPhone)
}
