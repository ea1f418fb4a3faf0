package views

import (
	"fmt"
	"time"

	"github.com/aquilax/truncate"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/convindex"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
)

const previewWidth = 60

// ConversationList is the conversation index table. UI goroutine only.
type ConversationList struct {
	*tview.Table
	theme *ui.Theme
	now   func() time.Time
	snap  convindex.Snapshot
	onEnd func()
}

func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	cl := &ConversationList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
	table.SetSelectionChangedFunc(func(row, _ int) {
		if cl.onEnd != nil && cl.snap.HasMore && !cl.snap.Loading && row == len(cl.snap.Conversations) {
			cl.onEnd()
		}
	})
	cl.render()
	return cl
}

func (cl *ConversationList) Name() string { return "Conversations" }

func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Search"},
		{Key: ":", Description: "Command"},
		{Key: "n", Description: "New"},
		{Key: "u", Description: "Mark unread"},
		{Key: "d", Description: "Details"},
		{Key: "X", Description: "Delete"},
		{Key: "r", Description: "Refresh"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// SetOnEnd sets the callback fired when the last row is selected and the
// index has more pages.
func (cl *ConversationList) SetOnEnd(fn func()) {
	cl.onEnd = fn
}

// Update renders s, keeping the cursor on the same conversation when it is
// still listed.
func (cl *ConversationList) Update(s convindex.Snapshot) {
	current, hadCurrent := cl.Selected()
	cl.snap = s
	cl.render()

	row := 1
	if hadCurrent {
		for i, c := range s.Conversations {
			if c.Phone == current.Phone {
				row = i + 1
				break
			}
		}
	}
	if len(s.Conversations) > 0 {
		cl.Select(min(row, len(s.Conversations)), 0)
	}
}

// Selected returns the conversation under the cursor.
func (cl *ConversationList) Selected() (model.Conversation, bool) {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(cl.snap.Conversations) {
		return model.Conversation{}, false
	}
	return cl.snap.Conversations[idx], true
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" PHONE", 1},
		{" LAST MESSAGE", 3},
		{" TIME", 0},
		{" MSGS", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	now := cl.now()
	for i, c := range cl.snap.Conversations {
		row := i + 1
		phone := tview.NewTableCell(" " + tview.Escape(c.Phone)).SetExpansion(1).SetTextColor(cl.theme.FgColor)
		if c.UnreadCount > 0 {
			phone.SetText(fmt.Sprintf(" (%d) %s", c.UnreadCount, tview.Escape(c.Phone))).
				SetTextColor(cl.theme.UnreadColor).
				SetAttributes(tcell.AttrBold)
		}
		cl.SetCell(row, 0, phone)
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(preview(c.LastMessagePreview))).SetExpansion(3).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt, now)).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf(" %d", c.MessageCount)).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight))
	}

	cl.SetTitle(cl.title())
}

func (cl *ConversationList) title() string {
	s := cl.snap
	title := fmt.Sprintf(" Conversations (%d/%d)", len(s.Conversations), s.Total)
	if s.Term != "" {
		title += " search: " + tview.Escape(s.Term)
	}
	switch {
	case s.Loading:
		title += " loading..."
	case s.Err != nil:
		title += fmt.Sprintf(" [%s]error[-]", ui.ColorTag(cl.theme.FlashErrColor))
	case s.HasMore:
		title += " more"
	}
	return title + " "
}

func preview(s string) string {
	s = singleLine(s)
	if len(s) <= previewWidth {
		return s
	}
	return truncate.Truncate(s, previewWidth, "...", truncate.PositionEnd)
}
