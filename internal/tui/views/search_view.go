package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
)

// SearchView searches the messages of the open conversation.
type SearchView struct {
	*tview.Flex
	theme    *ui.Theme
	now      func() time.Time
	input    *tview.InputField
	results  *tview.Table
	onQuery  func(query string)
	onSelect func(m model.Message)
	onTab    func()
	data     []model.Message
}

func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		theme:   theme,
		now:     time.Now,
		input:   input,
		results: results,
	}
	input.SetDoneFunc(func(key tcell.Key) {
		switch {
		case key == tcell.KeyEnter && sv.onQuery != nil && input.GetText() != "":
			sv.onQuery(input.GetText())
		case key == tcell.KeyTab && sv.onTab != nil:
			sv.onTab()
		}
	})
	results.SetSelectedFunc(func(row, _ int) {
		if m, ok := sv.Selected(); ok && sv.onSelect != nil {
			sv.onSelect(m)
		}
	})
	return sv
}

func (sv *SearchView) Name() string { return "Search" }

func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Jump"},
		{Key: "Tab", Description: "Results"},
		{Key: "Esc", Description: "Back"},
	}
}

func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.onQuery = fn
}

// SetOnTab sets the callback for Tab in the query input.
func (sv *SearchView) SetOnTab(fn func()) {
	sv.onTab = fn
}

func (sv *SearchView) SetOnSelect(fn func(m model.Message)) {
	sv.onSelect = fn
}

// Reset clears the query and the results.
func (sv *SearchView) Reset() {
	sv.input.SetText("")
	sv.Update("", nil)
}

// Update renders the messages matching query, newest first.
func (sv *SearchView) Update(query string, msgs []model.Message) {
	sv.data = msgs
	sv.results.Clear()

	for col, h := range []string{" TIME", " DIR", " MESSAGE"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetBackgroundColor(sv.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold))
	}

	now := sv.now()
	for i, m := range msgs {
		row := i + 1
		dir := "in"
		if m.Direction == model.Outbound {
			dir = "out"
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+formatTimestamp(m.CreatedAt, now)).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+dir).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(preview(m.Body))).SetExpansion(1).SetTextColor(sv.theme.FgColor))
	}

	if query == "" {
		sv.results.SetTitle(" Results ")
	} else {
		sv.results.SetTitle(fmt.Sprintf(" Results for %q (%d) ", tview.Escape(query), len(msgs)))
	}
	if len(msgs) > 0 {
		sv.results.Select(1, 0)
	}
}

// Selected returns the message under the result cursor.
func (sv *SearchView) Selected() (model.Message, bool) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(sv.data) {
		return model.Message{}, false
	}
	return sv.data[idx], true
}

func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
