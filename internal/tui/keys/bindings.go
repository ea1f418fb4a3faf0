package keys

import "github.com/gdamore/tcell/v2"

// Scopes a binding can be registered in. Global bindings apply when no
// scoped binding matches.
const (
	ScopeGlobal        = "global"
	ScopeConversations = "conversations"
	ScopeThread        = "thread"
	ScopeComposer      = "composer"
)

// Action is one key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether ev triggers the action. Modifiers other than
// those implied by the key are not considered.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Label is the key as shown to the user.
func (a *Action) Label() string {
	if a.Key != tcell.KeyRune {
		if name, ok := tcell.KeyNames[a.Key]; ok {
			return name
		}
		return "?"
	}
	if a.Rune == ' ' {
		return "Space"
	}
	return string(a.Rune)
}

// Binding is the displayable part of an Action.
type Binding struct {
	Key         string
	Description string
}

// Registry holds bindings per scope in registration order.
type Registry struct {
	scopes map[string][]*Action
}

func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string][]*Action)}
}

// Add registers action in scope. A later action for the same key in the
// same scope replaces the earlier one.
func (r *Registry) Add(scope string, action *Action) {
	list := r.scopes[scope]
	for i, existing := range list {
		if existing.Key == action.Key && existing.Rune == action.Rune {
			list[i] = action
			return
		}
	}
	r.scopes[scope] = append(list, action)
}

// Bindings returns the visible bindings of scope.
func (r *Registry) Bindings(scope string) []Binding {
	var out []Binding
	for _, a := range r.scopes[scope] {
		if a.Visible {
			out = append(out, Binding{Key: a.Label(), Description: a.Description})
		}
	}
	return out
}

// HandleEvent runs the first action of scope, then of the global scope,
// that matches ev. It reports whether one ran.
func (r *Registry) HandleEvent(scope string, ev *tcell.EventKey) bool {
	for _, s := range []string{scope, ScopeGlobal} {
		for _, a := range r.scopes[s] {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
