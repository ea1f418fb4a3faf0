package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
)

// ConversationInfo displays the summary of one conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
	now   func() time.Time
}

func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
		now:      time.Now,
	}
}

func (ci *ConversationInfo) Name() string { return "Details" }

func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders c. selected is the number of marked messages in the open
// thread, if c is open.
func (ci *ConversationInfo) Update(c model.Conversation, selected int) {
	ci.Clear()
	_, _ = fmt.Fprint(ci, ci.format(c, selected))
	ci.SetTitle(fmt.Sprintf(" %s ", tview.Escape(c.Phone)))
}

func (ci *ConversationInfo) format(c model.Conversation, selected int) string {
	fg := ui.ColorTag(ci.theme.FgColor)
	val := ui.ColorTag(ci.theme.CounterColor)
	row := func(k, v string) string {
		return fmt.Sprintf(" [%s::b]%-14s[-:-:-] [%s]%s[-]\n", fg, k+":", val, tview.Escape(v))
	}

	last := formatTimestamp(c.LastMessageAt, ci.now())
	if last == "" {
		last = "-"
	}
	out := "\n" +
		row("Phone", c.Phone) +
		row("Messages", fmt.Sprint(c.MessageCount)) +
		row("Unread", fmt.Sprint(c.UnreadCount)) +
		row("Last activity", last) +
		row("Last message", singleLine(c.LastMessagePreview))
	if selected > 0 {
		out += row("Selected", fmt.Sprint(selected))
	}
	return out
}
