package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Menu lists the key hints of the active page in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
	rows  int
}

func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		rows:     6,
	}
}

// Update renders hints column-major, rows entries per column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, m.format(hints))
}

func (m *Menu) format(hints []MenuHint) string {
	if len(hints) == 0 {
		return ""
	}
	keyColor := colorName(m.theme.MenuKeyColor)
	cols := (len(hints) + m.rows - 1) / m.rows
	var out string
	for r := 0; r < m.rows && r < len(hints); r++ {
		for c := 0; c < cols; c++ {
			i := c*m.rows + r
			if i >= len(hints) {
				break
			}
			h := hints[i]
			out += fmt.Sprintf("[%s::b]%-9s[-:-:-]%-14s", keyColor, "<"+h.Key+">", h.Description)
		}
		out += "\n"
	}
	return out
}
