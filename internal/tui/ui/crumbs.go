package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Crumbs shows the page stack, the active page last.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the trail for the given page titles.
func (c *Crumbs) Update(titles []string) {
	c.Clear()
	_, _ = fmt.Fprint(c, c.format(titles))
}

func (c *Crumbs) format(titles []string) string {
	parts := make([]string, 0, len(titles))
	for i, title := range titles {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(titles)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]",
			colorName(fg), colorName(bg), attr, tview.Escape(title)))
	}
	return strings.Join(parts, " ")
}

// colorName returns a tview color tag for c.
func colorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
