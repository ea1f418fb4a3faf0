package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/tui/keys"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
)

// HelpView lists the registered key bindings and the commands.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	return &HelpView{
		TextView: tv,
		theme:    theme,
	}
}

func (hv *HelpView) Name() string { return "Help" }

func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// Update renders the bindings of every scope in reg.
func (hv *HelpView) Update(reg *keys.Registry) {
	hv.Clear()
	_, _ = fmt.Fprint(hv, hv.format(reg))
	hv.ScrollToBeginning()
}

func (hv *HelpView) format(reg *keys.Registry) string {
	kc := ui.ColorTag(hv.theme.MenuKeyColor)
	var b strings.Builder
	section := func(title string, bindings []keys.Binding) {
		if len(bindings) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", title)
		for _, bd := range bindings {
			fmt.Fprintf(&b, "  [%s]%-8s[-:-:-] %s\n", kc, tview.Escape(bd.Key), tview.Escape(bd.Description))
		}
	}

	section("Global", reg.Bindings(keys.ScopeGlobal))
	section("Conversation list", reg.Bindings(keys.ScopeConversations))
	section("Thread", reg.Bindings(keys.ScopeThread))
	section("Compose", reg.Bindings(keys.ScopeComposer))

	fmt.Fprintf(&b, "\n  [::b]Commands[-:-:-]\n\n")
	for _, c := range []struct{ usage, desc string }{
		{":open <phone>", "Open or start a conversation"},
		{":grep <text>", "Search messages in the open conversation"},
		{":attach <path>", "Attach a file to the draft"},
		{":unread", "Mark the conversation unread"},
		{":delete", "Delete the selected messages"},
		{":refresh", "Reload the conversation list"},
		{":help", "Show this help"},
		{":quit", "Quit"},
	} {
		fmt.Fprintf(&b, "  [%s]%-16s[-:-:-] %s\n", kc, tview.Escape(c.usage), c.desc)
	}
	return b.String()
}
