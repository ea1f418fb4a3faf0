// Package timeline holds the ordered messages of the open conversation.
// Older pages are prepended, pushed and sent messages are appended, and the
// list is never re-sorted.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

var (
	// ErrStale is returned when a response arrives for a conversation that
	// is no longer open. The response is discarded.
	ErrStale          = errors.New("stale response")
	ErrNoConversation = errors.New("no conversation open")
)

// Fetcher is the part of remote.Store the timeline reads from.
type Fetcher interface {
	ListMessages(ctx context.Context, req remote.ListMessagesRequest) (*remote.ListMessagesResponse, error)
}

// Viewport is the scrollable view that displays the timeline. Render
// redraws the given messages and returns the resulting content height.
// Implementations must not call back into the Timeline.
type Viewport interface {
	Render(msgs []model.Message) int
	ScrollOffset() int
	ScrollTo(offset int)
	ScrollToEnd()
}

// Timeline is safe for concurrent use. Network calls run without holding
// the lock; every response is checked against the epoch it was issued in.
type Timeline struct {
	fetcher  Fetcher
	view     Viewport
	bus      *bus.Bus
	pageSize int
	log      *zap.Logger

	mu       sync.Mutex
	phone    string
	epoch    uint64
	messages []model.Message
	consumed int
	hasMore  bool
	loading  bool
	height   int
}

func New(fetcher Fetcher, view Viewport, b *bus.Bus, pageSize int, log *zap.Logger) *Timeline {
	if log == nil {
		log = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 30
	}
	return &Timeline{
		fetcher:  fetcher,
		view:     view,
		bus:      b,
		pageSize: pageSize,
		log:      log,
	}
}

// Open resets the timeline to phone, loads the newest page and scrolls to
// the bottom. It returns the epoch the conversation was opened in.
func (t *Timeline) Open(ctx context.Context, phone string) (uint64, error) {
	t.mu.Lock()
	t.resetLocked(phone)
	epoch := t.epoch
	t.render()
	t.mu.Unlock()

	resp, err := t.fetcher.ListMessages(ctx, remote.ListMessagesRequest{
		Conversation: phone,
		Offset:       0,
		PageSize:     t.pageSize,
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		return epoch, ErrStale
	}
	if err != nil {
		return epoch, fmt.Errorf("load %s: %w", phone, err)
	}

	t.messages = dedupe(nil, resp.Messages)
	t.consumed = len(resp.Messages)
	t.hasMore = resp.HasMore
	t.render()
	t.view.ScrollToEnd()
	t.changed()

	t.log.Debug("timeline opened",
		zap.String("phone", phone),
		zap.Int("count", len(t.messages)),
		zap.Uint64("epoch", epoch),
	)
	return epoch, nil
}

// Reset closes the current conversation. In-flight responses become stale.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked("")
	t.render()
	t.changed()
}

func (t *Timeline) resetLocked(phone string) {
	t.epoch++
	t.phone = phone
	t.messages = nil
	t.consumed = 0
	t.hasMore = false
	t.loading = false
}

// LoadOlder fetches the page before the oldest loaded message and prepends
// it, keeping the previously visible message in place. It is a no-op while
// another LoadOlder is in flight or when there is nothing older.
func (t *Timeline) LoadOlder(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.phone == "" {
		t.mu.Unlock()
		return 0, ErrNoConversation
	}
	if t.loading || !t.hasMore {
		t.mu.Unlock()
		return 0, nil
	}
	t.loading = true
	epoch := t.epoch
	phone := t.phone
	offset := t.consumed
	t.mu.Unlock()

	resp, err := t.fetcher.ListMessages(ctx, remote.ListMessagesRequest{
		Conversation: phone,
		Offset:       offset,
		PageSize:     t.pageSize,
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		return 0, ErrStale
	}
	t.loading = false
	if err != nil {
		return 0, fmt.Errorf("load older %s: %w", phone, err)
	}

	// Pushes may have landed during the fetch, so the anchor is measured
	// against what is on screen now.
	heightBefore := t.height
	older := dedupe(t.messages, resp.Messages)
	t.messages = append(older, t.messages...)
	t.consumed += len(resp.Messages)
	t.hasMore = resp.HasMore

	scroll := t.view.ScrollOffset()
	t.render()
	t.view.ScrollTo(scroll + t.height - heightBefore)
	t.changed()

	t.log.Debug("older messages loaded",
		zap.String("phone", phone),
		zap.Int("count", len(older)),
		zap.Int("offset", t.consumed),
	)
	return len(older), nil
}

// Append adds locally originated rows at the end.
func (t *Timeline) Append(epoch uint64, msgs ...model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch || t.phone == "" {
		return false
	}
	for _, m := range msgs {
		t.messages = append(t.messages, m.Clone())
	}
	t.render()
	t.view.ScrollToEnd()
	t.changed()
	return true
}

// Apply replaces the message list with fn(current) if epoch is still
// current. The consumed offset advances by the number of durable ids that
// fn introduced, so the next older page stays aligned with the server.
func (t *Timeline) Apply(epoch uint64, fn func(current []model.Message) []model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch || t.phone == "" {
		return false
	}

	known := make(map[string]struct{}, len(t.messages))
	for _, m := range t.messages {
		known[m.ID] = struct{}{}
	}
	current := make([]model.Message, len(t.messages))
	copy(current, t.messages)

	next := fn(current)
	added := 0
	for _, m := range next {
		if _, ok := known[m.ID]; !ok && !m.IsTransient() {
			added++
		}
	}
	t.messages = next
	t.consumed += added
	t.render()
	if added > 0 {
		t.view.ScrollToEnd()
	}
	t.changed()
	return true
}

// Update mutates the message with the given id in place.
func (t *Timeline) Update(id string, fn func(m *model.Message)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		if t.messages[i].ID == id {
			fn(&t.messages[i])
			t.render()
			t.changed()
			return true
		}
	}
	return false
}

// Remove drops the given ids and returns the removed rows.
func (t *Timeline) Remove(ids ...string) []model.Message {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []model.Message
	kept := t.messages[:0]
	for _, m := range t.messages {
		if _, ok := drop[m.ID]; ok {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	t.messages = kept
	if len(removed) > 0 {
		t.render()
		t.changed()
	}
	return removed
}

// Messages returns a copy of the current rows, oldest first.
func (t *Timeline) Messages() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.Clone()
	}
	return out
}

// Get returns the row with the given id.
func (t *Timeline) Get(id string) (model.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

// Phone returns the open conversation, or "" when none is open.
func (t *Timeline) Phone() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phone
}

// Epoch returns the current epoch. It changes on every Open and Reset.
func (t *Timeline) Epoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// HasMore reports whether older messages remain on the server.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Loading reports whether a LoadOlder is in flight.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Consumed returns how many server rows have been paged through.
func (t *Timeline) Consumed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consumed
}

func (t *Timeline) render() {
	t.height = t.view.Render(t.messages)
}

func (t *Timeline) changed() {
	t.bus.Emit(bus.KindTimelineChanged, t.phone)
}

// dedupe returns the messages of page whose id is not in existing, nor
// repeated earlier in page.
func dedupe(existing, page []model.Message) []model.Message {
	seen := make(map[string]struct{}, len(existing)+len(page))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}
	out := make([]model.Message, 0, len(page))
	for _, m := range page {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
