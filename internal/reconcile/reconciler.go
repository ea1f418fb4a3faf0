// Package reconcile coordinates the console: it is the only writer of the
// timeline and of conversation summaries, and it merges fetched pages, push
// notifications and optimistic sends into them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/convindex"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/readstate"
	"github.com/matheus3301/smsdesk/internal/remote"
	"github.com/matheus3301/smsdesk/internal/timeline"
)

var (
	ErrEmptyDraft     = errors.New("nothing to send")
	ErrNoConversation = timeline.ErrNoConversation
)

// Notifier surfaces failures. Alert is for failures the user must
// acknowledge; Indicate is an inline, non-blocking hint.
type Notifier interface {
	Alert(msg string)
	Indicate(msg string)
}

// Options is the console configuration the reconciler runs with.
type Options struct {
	// PushWindow is how many recent messages are fetched per push event.
	PushWindow int
	// Region is used to normalize phone numbers typed without a country code.
	Region string
}

type logNotifier struct{ log *zap.Logger }

func (n logNotifier) Alert(msg string)    { n.log.Warn(msg) }
func (n logNotifier) Indicate(msg string) { n.log.Info(msg) }

type Deps struct {
	Store       remote.Store
	Push        remote.PushChannel
	Timeline    *timeline.Timeline
	Index       *convindex.Index
	Reads       *readstate.Tracker
	Attachments *attach.Resolver
	Composer    Composer
	Notifier    Notifier
	Bus         *bus.Bus
}

type Reconciler struct {
	store    remote.Store
	push     remote.PushChannel
	tl       *timeline.Timeline
	index    *convindex.Index
	reads    *readstate.Tracker
	attach   *attach.Resolver
	composer Composer
	notify   Notifier
	bus      *bus.Bus
	opts     Options
	log      *zap.Logger

	mu       sync.Mutex
	sub      remote.Subscription
	cancel   context.CancelFunc
	done     chan struct{}
	selected map[string]struct{}
}

func New(deps Deps, opts Options, log *zap.Logger) *Reconciler {
	if opts.PushWindow <= 0 {
		opts.PushWindow = 20
	}
	if opts.Region == "" {
		opts.Region = model.DefaultRegion
	}
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = logNotifier{log}
	}
	return &Reconciler{
		store:    deps.Store,
		push:     deps.Push,
		tl:       deps.Timeline,
		index:    deps.Index,
		reads:    deps.Reads,
		attach:   deps.Attachments,
		composer: deps.Composer,
		notify:   deps.Notifier,
		bus:      deps.Bus,
		opts:     opts,
		log:      log,
		selected: make(map[string]struct{}),
	}
}

// Open switches the timeline to phone. The previous push subscription is
// torn down first; the new one is established before the initial page is
// fetched so notifications arriving during the load are not lost.
func (r *Reconciler) Open(ctx context.Context, phone string) error {
	phone, err := model.NormalizePhone(phone, r.opts.Region)
	if err != nil {
		return err
	}

	r.closeSubscription()
	r.mu.Lock()
	r.selected = make(map[string]struct{})
	r.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	var sub remote.Subscription
	if r.push != nil {
		sub, err = r.push.Subscribe(subCtx, phone)
		if err != nil {
			r.log.Warn("push subscribe failed", zap.String("phone", phone), zap.Error(err))
			r.notify.Indicate("live updates unavailable")
			sub = nil
		}
	}

	epoch, err := r.tl.Open(ctx, phone)
	if err != nil {
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		if errors.Is(err, timeline.ErrStale) {
			return err
		}
		r.notify.Indicate("could not load messages")
		return err
	}

	r.markRead(ctx, phone)

	r.mu.Lock()
	if r.tl.Epoch() != epoch {
		r.mu.Unlock()
		cancel()
		if sub != nil {
			_ = sub.Close()
		}
		return timeline.ErrStale
	}
	// An overlapping Open may have installed its subscription after ours
	// cleared the slot; it is superseded now.
	prevSub, prevCancel, prevDone := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	if sub != nil {
		done := make(chan struct{})
		r.sub, r.cancel, r.done = sub, cancel, done
		go r.consume(subCtx, sub, epoch, phone, done)
	} else {
		cancel()
	}
	r.mu.Unlock()
	r.stopSubscription(prevSub, prevCancel, prevDone)

	r.log.Info("conversation opened", zap.String("phone", phone), zap.Uint64("epoch", epoch))
	return nil
}

// Close tears down the push subscription and empties the timeline.
func (r *Reconciler) Close() {
	r.closeSubscription()
	r.mu.Lock()
	r.selected = make(map[string]struct{})
	r.mu.Unlock()
	r.tl.Reset()
}

func (r *Reconciler) closeSubscription() {
	r.mu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()
	r.stopSubscription(sub, cancel, done)
}

func (r *Reconciler) stopSubscription(sub remote.Subscription, cancel context.CancelFunc, done chan struct{}) {
	if sub == nil {
		return
	}
	cancel()
	if err := sub.Close(); err != nil {
		r.log.Debug("push unsubscribe", zap.Error(err))
	}
	<-done
}

func (r *Reconciler) consume(ctx context.Context, sub remote.Subscription, epoch uint64, phone string, done chan struct{}) {
	defer close(done)
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				r.log.Info("push channel closed", zap.String("phone", phone))
				return
			}
			// Collapse a burst into one fetch.
		drain:
			for {
				select {
				case _, ok := <-events:
					if !ok {
						break drain
					}
				default:
					break drain
				}
			}
			if err := r.onPush(ctx, epoch, phone); err != nil && ctx.Err() == nil {
				r.log.Debug("push merge failed", zap.String("phone", phone), zap.Error(err))
			}
		}
	}
}

// onPush fetches the recent window and merges it into the timeline.
func (r *Reconciler) onPush(ctx context.Context, epoch uint64, phone string) error {
	resp, err := r.store.ListMessages(ctx, remote.ListMessagesRequest{
		Conversation: phone,
		Offset:       0,
		PageSize:     r.opts.PushWindow,
	})
	if err != nil {
		r.notify.Indicate("refresh failed")
		return fmt.Errorf("fetch window: %w", err)
	}

	var (
		added      []model.Message
		superseded []model.Message
		merged     []model.Message
	)
	applied := r.tl.Apply(epoch, func(current []model.Message) []model.Message {
		if len(current) > 0 && len(resp.Messages) == r.opts.PushWindow && !overlaps(current, resp.Messages) {
			r.log.Debug("push window shares no message with timeline, older messages may be missing",
				zap.String("phone", phone), zap.Int("window", r.opts.PushWindow))
		}
		known := make(map[string]struct{}, len(current))
		for _, m := range current {
			known[m.ID] = struct{}{}
		}
		for _, m := range resp.Messages {
			if _, ok := known[m.ID]; !ok {
				added = append(added, m)
				known[m.ID] = struct{}{}
			}
		}
		merged, superseded = SupersedeTransients(MergeWindow(current, resp.Messages))
		return merged
	})
	if !applied {
		return timeline.ErrStale
	}

	for _, m := range superseded {
		r.attach.ReleaseMessage(m)
	}
	r.applySummary(phone, merged, added, len(superseded))

	r.log.Debug("push merged",
		zap.String("phone", phone),
		zap.Int("count", len(added)),
		zap.Int("superseded", len(superseded)),
	)
	return nil
}

// applySummary moves the conversation summary forward to the newest durable
// message after a merge. Superseded optimistic rows were already counted
// when they were sent.
func (r *Reconciler) applySummary(phone string, merged, added []model.Message, superseded int) {
	newest, ok := newestDurable(merged)
	if !ok {
		return
	}
	unread := 0
	for _, m := range added {
		if m.Direction == model.Inbound && !m.Read {
			unread++
		}
	}
	update := func(c *model.Conversation) {
		c.MessageCount += len(added) - superseded
		if c.MessageCount < 0 {
			c.MessageCount = 0
		}
		c.UnreadCount += unread
		if !newest.CreatedAt.Before(c.LastMessageAt) || model.IsTransient(c.LastMessageID) {
			c.LastMessageID = newest.ID
			c.LastMessageAt = newest.CreatedAt
			c.LastMessagePreview = model.Preview(newest.Body, len(newest.Attachments))
		}
	}
	if !r.index.Update(phone, update) {
		c := model.Conversation{Phone: phone}
		update(&c)
		r.index.Upsert(c)
	}
}

// markRead marks the loaded unread inbound messages read and zeroes the
// conversation's counter whatever the remote outcome.
func (r *Reconciler) markRead(ctx context.Context, phone string) {
	res := r.reads.MarkConversationRead(ctx, phone, r.tl.Messages())
	for _, id := range res.IDs {
		r.tl.Update(id, func(m *model.Message) { m.Read = true })
	}
	r.index.Update(phone, func(c *model.Conversation) { c.UnreadCount = 0 })
}

// MarkUnread marks every inbound message of phone unread. The counter is
// set to the conversation's message count, not a precise unread count.
func (r *Reconciler) MarkUnread(ctx context.Context, phone string) error {
	res, err := r.reads.MarkConversationUnread(ctx, phone)
	if err != nil {
		r.log.Warn("mark unread skipped", zap.String("phone", phone), zap.Error(err))
		return err
	}
	if r.tl.Phone() == phone {
		for _, id := range res.IDs {
			r.tl.Update(id, func(m *model.Message) { m.Read = false })
		}
	}
	r.index.Update(phone, func(c *model.Conversation) { c.UnreadCount = c.MessageCount })
	return nil
}

// LoadOlder pages the open conversation backwards.
func (r *Reconciler) LoadOlder(ctx context.Context) error {
	_, err := r.tl.LoadOlder(ctx)
	if err != nil && !errors.Is(err, timeline.ErrStale) && !errors.Is(err, timeline.ErrNoConversation) {
		r.notify.Indicate("could not load older messages")
		return err
	}
	return nil
}

// ToggleSelect flips the selection of a durable message and reports
// whether it is now selected.
func (r *Reconciler) ToggleSelect(id string) bool {
	if model.IsTransient(id) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.selected[id]; ok {
		delete(r.selected, id)
		return false
	}
	r.selected[id] = struct{}{}
	return true
}

// Selected returns the selected ids in sorted order.
func (r *Reconciler) Selected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.selected))
	for id := range r.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsSelected reports whether id is in the selection.
func (r *Reconciler) IsSelected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.selected[id]
	return ok
}

// DeleteSelected deletes the selected messages of the open conversation.
func (r *Reconciler) DeleteSelected(ctx context.Context) error {
	return r.DeleteMessages(ctx, r.Selected()...)
}

// DeleteMessages deletes ids remotely and, only on success, removes them
// from the timeline and the selection.
func (r *Reconciler) DeleteMessages(ctx context.Context, ids ...string) error {
	phone := r.tl.Phone()
	if phone == "" {
		return ErrNoConversation
	}
	var durable []string
	for _, id := range ids {
		if !model.IsTransient(id) {
			durable = append(durable, id)
		}
	}
	if len(durable) == 0 {
		return nil
	}

	if err := r.store.DeleteMessages(ctx, remote.DeleteRequest{Conversation: phone, MessageIDs: durable}); err != nil {
		r.log.Warn("delete messages failed", zap.String("phone", phone), zap.Int("count", len(durable)), zap.Error(err))
		r.notify.Alert(fmt.Sprintf("Could not delete messages: %v", err))
		return fmt.Errorf("delete messages: %w", err)
	}

	r.mu.Lock()
	for _, id := range durable {
		delete(r.selected, id)
	}
	r.mu.Unlock()

	removed := r.tl.Remove(durable...)
	gone := make(map[string]struct{}, len(removed))
	for _, m := range removed {
		gone[m.ID] = struct{}{}
	}
	remaining := r.tl.Messages()
	r.index.Update(phone, func(c *model.Conversation) {
		c.MessageCount -= len(removed)
		if c.MessageCount < 0 {
			c.MessageCount = 0
		}
		if _, ok := gone[c.LastMessageID]; ok {
			if last, ok := newestDurable(remaining); ok {
				c.LastMessageID = last.ID
				c.LastMessageAt = last.CreatedAt
				c.LastMessagePreview = model.Preview(last.Body, len(last.Attachments))
			}
		}
	})

	r.log.Info("messages deleted", zap.String("phone", phone), zap.Int("count", len(removed)))
	return nil
}

// DeleteConversation deletes phone remotely and drops it from the index.
// If it is the open conversation the timeline is closed.
func (r *Reconciler) DeleteConversation(ctx context.Context, phone string) error {
	if err := r.store.DeleteConversation(ctx, phone); err != nil {
		r.log.Warn("delete conversation failed", zap.String("phone", phone), zap.Error(err))
		r.notify.Alert(fmt.Sprintf("Could not delete conversation: %v", err))
		return fmt.Errorf("delete conversation: %w", err)
	}
	if r.tl.Phone() == phone {
		r.Close()
	}
	r.index.Remove(phone)
	r.log.Info("conversation deleted", zap.String("phone", phone))
	return nil
}
