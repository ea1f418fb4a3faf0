// Package convindex keeps the ordered, searchable, paginated list of
// conversation summaries.
package convindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/remote"
)

// ErrStale is returned when a search or reset superseded the request.
var ErrStale = errors.New("stale response")

// Lister is the part of remote.Store the index reads from.
type Lister interface {
	ListConversations(ctx context.Context, req remote.ListConversationsRequest) (*remote.ListConversationsResponse, error)
}

type Options struct {
	PageSize        int
	Debounce        time.Duration
	RefreshInterval time.Duration
}

// Snapshot is a consistent copy of the index state for rendering.
type Snapshot struct {
	Conversations []model.Conversation
	Total         int
	HasMore       bool
	Term          string
	Loading       bool
	Err           error
}

// Index is safe for concurrent use. The debounce timer and the refresh
// poller are owned by the Index and stopped by Stop.
type Index struct {
	lister Lister
	opts   Options
	bus    *bus.Bus
	log    *zap.Logger

	mu       sync.Mutex
	convs    []model.Conversation
	total    int
	consumed int
	hasMore  bool
	term     string
	epoch    uint64
	loading  bool
	err      error

	baseCtx   context.Context
	searchSeq uint64
	timer     *time.Timer
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(lister Lister, opts Options, b *bus.Bus, log *zap.Logger) *Index {
	if opts.PageSize <= 0 {
		opts.PageSize = 25
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{
		lister:  lister,
		opts:    opts,
		bus:     b,
		log:     log,
		baseCtx: context.Background(),
	}
}

// Load fetches one page at offset filtered by term. With appendPage the
// page is merged after the current list skipping known phone numbers;
// otherwise it replaces the list. On failure the list and the has-more flag
// are left alone and the error is kept for display.
func (x *Index) Load(ctx context.Context, offset int, term string, appendPage bool) error {
	x.mu.Lock()
	epoch := x.epoch
	x.mu.Unlock()
	return x.load(ctx, epoch, offset, term, appendPage)
}

func (x *Index) load(ctx context.Context, epoch uint64, offset int, term string, appendPage bool) error {
	resp, err := x.lister.ListConversations(ctx, remote.ListConversationsRequest{
		Offset:   offset,
		PageSize: x.opts.PageSize,
		Search:   term,
	})

	x.mu.Lock()
	if epoch != x.epoch {
		x.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		x.err = err
		x.mu.Unlock()
		x.log.Warn("conversation page failed", zap.Int("offset", offset), zap.Error(err))
		x.changed()
		return fmt.Errorf("list conversations: %w", err)
	}

	if appendPage {
		x.convs = appendUnique(x.convs, resp.Conversations)
	} else {
		x.convs = appendUnique(nil, resp.Conversations)
	}
	x.term = term
	x.total = resp.TotalCount
	x.consumed = offset + len(resp.Conversations)
	x.hasMore = x.consumed < x.total
	x.err = nil
	n := len(x.convs)
	x.mu.Unlock()

	x.log.Debug("conversation page loaded",
		zap.Int("offset", offset),
		zap.Int("count", len(resp.Conversations)),
		zap.Int("total", resp.TotalCount),
		zap.Int("loaded", n),
	)
	x.changed()
	return nil
}

// LoadMore appends the next page. It is a no-op while another LoadMore is
// in flight or when everything has been loaded.
func (x *Index) LoadMore(ctx context.Context) error {
	x.mu.Lock()
	if x.loading || !x.hasMore {
		x.mu.Unlock()
		return nil
	}
	x.loading = true
	epoch, offset, term := x.epoch, x.consumed, x.term
	x.mu.Unlock()

	err := x.load(ctx, epoch, offset, term, true)

	x.mu.Lock()
	if epoch == x.epoch {
		x.loading = false
	}
	x.mu.Unlock()
	return err
}

// Search schedules a reload from offset 0 once input has been quiet for the
// debounce window. A pending schedule is replaced, so a burst of calls
// results in one reload.
func (x *Index) Search(term string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.searchSeq++
	seq := x.searchSeq
	if x.timer != nil {
		x.timer.Stop()
	}
	x.timer = time.AfterFunc(x.opts.Debounce, func() {
		x.runSearch(seq, term)
	})
}

func (x *Index) runSearch(seq uint64, term string) {
	x.mu.Lock()
	if seq != x.searchSeq {
		x.mu.Unlock()
		return
	}
	x.timer = nil
	x.epoch++
	epoch := x.epoch
	x.convs = nil
	x.total = 0
	x.consumed = 0
	x.hasMore = false
	x.loading = false
	x.term = term
	ctx := x.baseCtx
	x.mu.Unlock()

	x.log.Debug("search", zap.String("term", term), zap.Uint64("epoch", epoch))
	_ = x.load(ctx, epoch, 0, term, false)
}

// Refresh merges the first page into the list by phone number. Fields of
// known conversations are overwritten, unknown ones are added, and nothing
// is removed. It is skipped while a search term is active.
func (x *Index) Refresh(ctx context.Context) error {
	x.mu.Lock()
	if x.term != "" {
		x.mu.Unlock()
		return nil
	}
	epoch := x.epoch
	x.mu.Unlock()

	resp, err := x.lister.ListConversations(ctx, remote.ListConversationsRequest{
		Offset:   0,
		PageSize: x.opts.PageSize,
	})

	x.mu.Lock()
	if epoch != x.epoch || x.term != "" {
		x.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		x.mu.Unlock()
		return fmt.Errorf("refresh conversations: %w", err)
	}
	added := 0
	for _, c := range resp.Conversations {
		if x.upsertLocked(c) {
			added++
		}
	}
	x.consumed += added
	if resp.TotalCount > x.total {
		x.total = resp.TotalCount
	}
	x.hasMore = x.consumed < x.total
	sortByRecent(x.convs)
	x.mu.Unlock()

	x.changed()
	return nil
}

// Start runs the background refresh poller until ctx is done or Stop is
// called. It also becomes the context for debounced searches.
func (x *Index) Start(ctx context.Context) {
	x.mu.Lock()
	if x.cancel != nil {
		x.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	x.baseCtx = ctx
	x.cancel = cancel
	x.done = make(chan struct{})
	done := x.done
	x.mu.Unlock()

	go func() {
		defer close(done)
		if x.opts.RefreshInterval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(x.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := x.Refresh(ctx); err != nil && !errors.Is(err, ErrStale) {
					x.log.Debug("background refresh failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop cancels the pending search and the poller and waits for the poller
// to exit.
func (x *Index) Stop() {
	x.mu.Lock()
	x.searchSeq++
	if x.timer != nil {
		x.timer.Stop()
		x.timer = nil
	}
	cancel, done := x.cancel, x.done
	x.cancel, x.done = nil, nil
	x.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Upsert inserts or overwrites a summary and re-sorts the list.
func (x *Index) Upsert(c model.Conversation) {
	x.mu.Lock()
	x.upsertLocked(c)
	sortByRecent(x.convs)
	x.mu.Unlock()
	x.changed()
}

// Update mutates the summary for phone and re-sorts the list.
func (x *Index) Update(phone string, fn func(c *model.Conversation)) bool {
	x.mu.Lock()
	i := x.indexLocked(phone)
	if i < 0 {
		x.mu.Unlock()
		return false
	}
	fn(&x.convs[i])
	sortByRecent(x.convs)
	x.mu.Unlock()
	x.changed()
	return true
}

// Remove drops phone from the list after it was deleted remotely. The
// server total and the page offset shrink with it.
func (x *Index) Remove(phone string) bool {
	return x.drop(phone, true)
}

// Discard drops a summary that only ever existed locally, such as one
// created by an optimistic send that was rolled back. Pagination counters
// are left alone since no fetched page ever counted it.
func (x *Index) Discard(phone string) bool {
	return x.drop(phone, false)
}

func (x *Index) drop(phone string, counted bool) bool {
	x.mu.Lock()
	i := x.indexLocked(phone)
	if i < 0 {
		x.mu.Unlock()
		return false
	}
	x.convs = append(x.convs[:i], x.convs[i+1:]...)
	if counted {
		if x.total > 0 {
			x.total--
		}
		if x.consumed > 0 {
			x.consumed--
		}
	}
	x.mu.Unlock()
	x.changed()
	return true
}

// Get returns the summary for phone.
func (x *Index) Get(phone string) (model.Conversation, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if i := x.indexLocked(phone); i >= 0 {
		return x.convs[i], true
	}
	return model.Conversation{}, false
}

func (x *Index) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]model.Conversation, len(x.convs))
	copy(out, x.convs)
	return Snapshot{
		Conversations: out,
		Total:         x.total,
		HasMore:       x.hasMore,
		Term:          x.term,
		Loading:       x.loading,
		Err:           x.err,
	}
}

func (x *Index) upsertLocked(c model.Conversation) bool {
	if i := x.indexLocked(c.Phone); i >= 0 {
		x.convs[i] = c
		return false
	}
	x.convs = append(x.convs, c)
	return true
}

func (x *Index) indexLocked(phone string) int {
	for i := range x.convs {
		if x.convs[i].Phone == phone {
			return i
		}
	}
	return -1
}

func (x *Index) changed() {
	x.bus.Emit(bus.KindIndexChanged, nil)
}

func appendUnique(dst, page []model.Conversation) []model.Conversation {
	seen := make(map[string]struct{}, len(dst)+len(page))
	for _, c := range dst {
		seen[c.Phone] = struct{}{}
	}
	for _, c := range page {
		if _, ok := seen[c.Phone]; ok {
			continue
		}
		seen[c.Phone] = struct{}{}
		dst = append(dst, c)
	}
	return dst
}

func sortByRecent(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
}
