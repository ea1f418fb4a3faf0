package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what the prompt input is used for.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	// PromptFilter reports every keystroke through the change callback.
	PromptFilter
	// PromptAttach asks for a file path.
	PromptAttach
)

// Prompt is the one-line input shown above the page area.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	onSubmit func(mode PromptMode, text string)
	onChange func(mode PromptMode, text string)
	onCancel func(mode PromptMode)
}

func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{
		InputField: input,
		theme:      theme,
	}

	input.SetChangedFunc(func(text string) {
		if p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := p.GetText()
			if p.onSubmit != nil {
				p.onSubmit(p.mode, text)
			}
		case tcell.KeyEscape:
			if p.onCancel != nil {
				p.onCancel(p.mode)
			}
		}
	})

	return p
}

func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) {
	p.onChange = fn
}

func (p *Prompt) SetOnCancel(fn func(mode PromptMode)) {
	p.onCancel = fn
}

// Activate switches the prompt to mode with initial text.
func (p *Prompt) Activate(mode PromptMode, initial string) {
	p.mode = mode
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Search conversations ")
	case PromptAttach:
		p.SetLabel("file: ")
		p.SetTitle(" Attach ")
	}
	onChange := p.onChange
	p.onChange = nil
	p.SetText(initial)
	p.onChange = onChange
}

func (p *Prompt) Mode() PromptMode {
	return p.mode
}
