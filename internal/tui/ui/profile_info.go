package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/remote"
)

// ProfileInfo shows the daemon the console is attached to.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders st. A nil status means the daemon did not answer.
func (p *ProfileInfo) Update(profile string, st *remote.DaemonStatus) {
	p.Clear()
	_, _ = fmt.Fprint(p, p.format(profile, st))
}

func (p *ProfileInfo) format(profile string, st *remote.DaemonStatus) string {
	label := colorName(p.theme.FgColor)
	value := colorName(p.theme.CounterColor)
	row := func(k, v string) string {
		return fmt.Sprintf("[%s::b]%-9s[-:-:-] [%s]%s[-]\n", label, k+":", value, tview.Escape(v))
	}

	out := row("Profile", profile)
	if st == nil {
		return out + row("Daemon", "unreachable")
	}
	out += row("Uptime", (time.Duration(st.UptimeMS) * time.Millisecond).Truncate(time.Second).String())
	out += row("Convs", fmt.Sprint(st.Conversations))
	out += row("Messages", fmt.Sprint(st.Messages))
	out += row("Queued", fmt.Sprint(st.QueuedSends))
	return out
}
