package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Pages is a stack of Components on top of tview.Pages.
type Pages struct {
	*tview.Pages
	stack    []Component
	onChange func(top Component, stack []Component)
}

func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
	}
}

// SetOnChange sets a callback that fires after every push or pop.
func (p *Pages) SetOnChange(fn func(top Component, stack []Component)) {
	p.onChange = fn
}

// Push shows c on top of the stack. A component already on the stack is
// moved to the top instead of being added twice.
func (p *Pages) Push(c Component) {
	for i, existing := range p.stack {
		if existing == c {
			p.stack = append(p.stack[:i], p.stack[i+1:]...)
			break
		}
	}
	if len(p.stack) > 0 {
		p.HidePage(pageKey(p.stack[len(p.stack)-1]))
	}
	p.stack = append(p.stack, c)
	key := pageKey(c)
	if !p.HasPage(key) {
		p.AddPage(key, c, true, true)
	}
	p.ShowPage(key)
	p.SendToFront(key)
	p.notify()
}

// Pop removes the top component and returns it. The root page is never
// popped.
func (p *Pages) Pop() Component {
	if len(p.stack) <= 1 {
		return nil
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(pageKey(top))
	p.stack = p.stack[:len(p.stack)-1]
	current := p.stack[len(p.stack)-1]
	p.ShowPage(pageKey(current))
	p.SendToFront(pageKey(current))
	p.notify()
	return top
}

// Top returns the active component, or nil on an empty stack.
func (p *Pages) Top() Component {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// Contains reports whether c is anywhere on the stack.
func (p *Pages) Contains(c Component) bool {
	for _, existing := range p.stack {
		if existing == c {
			return true
		}
	}
	return false
}

// Titles returns the names of the stacked components, root first.
func (p *Pages) Titles() []string {
	out := make([]string, len(p.stack))
	for i, c := range p.stack {
		out[i] = c.Name()
	}
	return out
}

func (p *Pages) Depth() int {
	return len(p.stack)
}

func (p *Pages) notify() {
	if p.onChange != nil {
		stack := make([]Component, len(p.stack))
		copy(stack, p.stack)
		p.onChange(p.Top(), stack)
	}
}

// Names change while a page is shown (the thread title follows the open
// conversation), so pages are keyed by identity.
func pageKey(c Component) string {
	return fmt.Sprintf("%p", c)
}
