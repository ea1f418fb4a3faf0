package views

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
)

// ThreadView displays the open conversation. It is the timeline's
// viewport: Render and the scroll methods are called from worker
// goroutines, so the view keeps its own copy of the layout under a mutex
// and hands widget mutations to queue.
type ThreadView struct {
	*tview.TextView
	theme *ui.Theme
	queue func(func())
	now   func() time.Time

	onTop func()

	mu       sync.Mutex
	phone    string
	msgs     []model.Message
	starts   []int
	height   int
	offset   int
	rows     int
	cursor   string
	selected map[string]struct{}
}

// NewThreadView creates the view. queue must run fn on the UI goroutine,
// typically tview.Application.QueueUpdateDraw.
func NewThreadView(theme *ui.Theme, queue func(fn func())) *ThreadView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetScrollable(true).
		SetWrap(false)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)
	tv.SetTitle(" Messages ")

	v := &ThreadView{
		TextView: tv,
		theme:    theme,
		queue:    queue,
		now:      time.Now,
		selected: make(map[string]struct{}),
	}
	tv.SetInputCapture(v.handleKey)
	return v
}

func (v *ThreadView) Name() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phone == "" {
		return "Messages"
	}
	return v.phone
}

func (v *ThreadView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "a", Description: "Attach"},
		{Key: "j/k", Description: "Move"},
		{Key: "Space", Description: "Select"},
		{Key: "D", Description: "Delete sel."},
		{Key: "o", Description: "Download"},
		{Key: "u", Description: "Mark unread"},
		{Key: "s", Description: "Search"},
		{Key: "d", Description: "Details"},
		{Key: "X", Description: "Delete conv."},
		{Key: "Esc", Description: "Back"},
		{Key: "?", Description: "Help"},
	}
}

// SetPhone sets the conversation shown in the title and clears the local
// selection and cursor.
func (v *ThreadView) SetPhone(phone string) {
	v.mu.Lock()
	v.phone = phone
	v.cursor = ""
	v.offset = 0
	v.selected = make(map[string]struct{})
	v.mu.Unlock()

	title := " Messages "
	if phone != "" {
		title = " " + phone + " "
	}
	v.queue(func() { v.SetTitle(title) })
}

// SetOnTop sets the callback that fires when the cursor is moved up past
// the oldest loaded message.
func (v *ThreadView) SetOnTop(fn func()) {
	v.onTop = fn
}

// Render implements timeline.Viewport.
func (v *ThreadView) Render(msgs []model.Message) int {
	v.mu.Lock()
	cp := make([]model.Message, len(msgs))
	copy(cp, msgs)
	v.msgs = cp
	if v.indexLocked(v.cursor) < 0 {
		v.cursor = ""
		if len(cp) > 0 {
			v.cursor = cp[len(cp)-1].ID
		}
	}
	text := v.layoutLocked()
	height := v.height
	v.mu.Unlock()

	v.queue(func() {
		v.SetText(text)
		v.sync()
	})
	return height
}

// Refresh re-renders the last messages, for example after the selection
// changed.
func (v *ThreadView) Refresh() {
	v.mu.Lock()
	text := v.layoutLocked()
	v.mu.Unlock()
	v.queue(func() {
		v.SetText(text)
		v.sync()
	})
}

// ScrollOffset implements timeline.Viewport.
func (v *ThreadView) ScrollOffset() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

// ScrollTo implements timeline.Viewport.
func (v *ThreadView) ScrollTo(offset int) {
	v.mu.Lock()
	v.offset = v.clampLocked(offset)
	v.mu.Unlock()
	v.queue(v.sync)
}

// ScrollToEnd implements timeline.Viewport. The cursor follows to the
// newest message.
func (v *ThreadView) ScrollToEnd() {
	v.mu.Lock()
	if n := len(v.msgs); n > 0 {
		v.cursor = v.msgs[n-1].ID
	}
	v.offset = v.clampLocked(v.height)
	v.mu.Unlock()
	v.queue(v.sync)
}

// Cursor returns the message under the cursor.
func (v *ThreadView) Cursor() (model.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.indexLocked(v.cursor)
	if i < 0 {
		return model.Message{}, false
	}
	return v.msgs[i], true
}

// SetSelected replaces the set of marked messages and redraws.
func (v *ThreadView) SetSelected(ids []string) {
	v.mu.Lock()
	v.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		v.selected[id] = struct{}{}
	}
	v.mu.Unlock()
	v.Refresh()
}

// MoveCursor moves the cursor by delta messages and scrolls it into view.
// Moving up from the oldest message fires the top callback.
func (v *ThreadView) MoveCursor(delta int) {
	v.mu.Lock()
	if len(v.msgs) == 0 {
		v.mu.Unlock()
		return
	}
	i := v.indexLocked(v.cursor)
	if i < 0 {
		i = len(v.msgs) - 1
	}
	atTop := i == 0 && delta < 0
	i = max(0, min(len(v.msgs)-1, i+delta))
	v.cursor = v.msgs[i].ID
	v.revealLocked(i)
	v.mu.Unlock()

	v.queue(v.sync)
	if atTop && v.onTop != nil {
		v.onTop()
	}
}

// JumpTo moves the cursor to id if it is loaded.
func (v *ThreadView) JumpTo(id string) bool {
	v.mu.Lock()
	i := v.indexLocked(id)
	if i >= 0 {
		v.cursor = id
		v.revealLocked(i)
	}
	v.mu.Unlock()
	if i < 0 {
		return false
	}
	v.queue(v.sync)
	return true
}

// Draw records the visible height and picks up scrolling done by the
// widget itself, such as mouse wheel events.
func (v *ThreadView) Draw(screen tcell.Screen) {
	_, _, _, rows := v.GetInnerRect()
	row, _ := v.GetScrollOffset()
	v.mu.Lock()
	v.rows = rows
	v.offset = row
	v.mu.Unlock()
	v.TextView.Draw(screen)
}

func (v *ThreadView) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	switch ev.Key() {
	case tcell.KeyUp:
		v.MoveCursor(-1)
		return nil
	case tcell.KeyDown:
		v.MoveCursor(1)
		return nil
	case tcell.KeyHome:
		v.MoveCursor(-len(v.Messages()))
		return nil
	case tcell.KeyEnd:
		v.MoveCursor(len(v.Messages()))
		return nil
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'k':
			v.MoveCursor(-1)
			return nil
		case 'j':
			v.MoveCursor(1)
			return nil
		case 'g':
			v.MoveCursor(-len(v.Messages()))
			return nil
		case 'G':
			v.MoveCursor(len(v.Messages()))
			return nil
		}
	}
	return ev
}

// Messages returns a copy of the rendered messages.
func (v *ThreadView) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, len(v.msgs))
	copy(out, v.msgs)
	return out
}

// sync pushes the mirrored cursor and offset into the widget. UI
// goroutine only.
func (v *ThreadView) sync() {
	v.mu.Lock()
	offset := v.offset
	region := ""
	if i := v.indexLocked(v.cursor); i >= 0 {
		region = regionID(i)
	}
	v.mu.Unlock()

	if region != "" {
		v.Highlight(region)
	} else {
		v.Highlight()
	}
	v.TextView.ScrollTo(offset, 0)
}

func (v *ThreadView) layoutLocked() string {
	text, starts, height := formatThread(v.msgs, v.selected, v.theme, v.now())
	v.starts = starts
	v.height = height
	v.offset = v.clampLocked(v.offset)
	return text
}

func (v *ThreadView) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range v.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// revealLocked scrolls the fewest rows needed to show message i.
func (v *ThreadView) revealLocked(i int) {
	if i >= len(v.starts) {
		return
	}
	start := v.starts[i]
	end := v.height - 1
	if i+1 < len(v.starts) {
		end = v.starts[i+1] - 1
	}
	switch {
	case start < v.offset:
		v.offset = start
	case v.rows > 0 && end >= v.offset+v.rows:
		v.offset = min(start, end-v.rows+1)
	}
	v.offset = v.clampLocked(v.offset)
}

func (v *ThreadView) clampLocked(offset int) int {
	limit := v.height - v.rows
	if v.rows == 0 {
		limit = v.height - 1
	}
	return max(0, min(offset, limit))
}

func regionID(i int) string {
	return fmt.Sprintf("m%d", i)
}

// formatThread lays out msgs one row per line without wrapping. It
// returns the text, the first row of every message and the total rows.
func formatThread(msgs []model.Message, selected map[string]struct{}, theme *ui.Theme, now time.Time) (string, []int, int) {
	var (
		lines  []string
		starts = make([]int, 0, len(msgs))
	)
	for i, m := range msgs {
		starts = append(starts, len(lines))
		lines = append(lines, fmt.Sprintf(`["%s"]%s[""]`, regionID(i), header(m, selected, theme, now)))
		for _, l := range strings.Split(sanitizeForTerminal(m.Body), "\n") {
			if l == "" && m.Body == "" {
				continue
			}
			lines = append(lines, "  "+tview.Escape(l))
		}
		for _, a := range m.Attachments {
			class := attach.Classify(a.ContentType)
			name := a.Filename
			if name == "" {
				name = a.ID
			}
			line := fmt.Sprintf("  [%s]%s[-] %s", ui.ColorTag(theme.CounterColor), tview.Escape(class.Label()), tview.Escape(singleLine(name)))
			if u := attach.DisplayURL(a); u != "" && class.Inline() {
				line += " " + tview.Escape(u)
			}
			lines = append(lines, line)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n"), starts, len(lines)
}

func header(m model.Message, selected map[string]struct{}, theme *ui.Theme, now time.Time) string {
	mark := "  "
	if _, ok := selected[m.ID]; ok {
		mark = fmt.Sprintf("[%s::b]*[-:-:-] ", ui.ColorTag(theme.SelectedColor))
	}

	ts := formatTimestamp(m.CreatedAt, now)
	if m.Direction == model.Inbound {
		unread := ""
		if !m.Read {
			unread = fmt.Sprintf(" [%s]●[-]", ui.ColorTag(theme.UnreadColor))
		}
		return fmt.Sprintf("%s[%s::b]◀ %s[-:-:-]%s", mark, ui.ColorTag(theme.InboundColor), ts, unread)
	}

	state := ""
	color := theme.OutboundColor
	switch {
	case m.IsTransient() && m.Delivery == model.DeliveryFailed:
		state, color = " failed", theme.FlashErrColor
	case m.IsTransient() && m.Delivery == model.DeliverySent:
		state, color = " sent", theme.PendingColor
	case m.IsTransient():
		state, color = " sending...", theme.PendingColor
	case m.Delivery == model.DeliveryFailed:
		state, color = " not delivered", theme.FlashErrColor
	}
	return fmt.Sprintf("%s[%s::b]▶ %s%s[-:-:-]", mark, ui.ColorTag(color), ts, state)
}

// formatTimestamp shows the time of day for today and the date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	if t.Year() == now.Year() {
		return t.Format("Jan 02 15:04")
	}
	return t.Format("2006-01-02")
}
