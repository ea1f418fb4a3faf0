package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
)

func runeEvent(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestHandleEventPrefersScope(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.Add(ScopeGlobal, &Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { got = append(got, "global") }})
	r.Add(ScopeThread, &Action{Key: tcell.KeyRune, Rune: 'd', Handler: func() { got = append(got, "thread") }})

	assert.True(t, r.HandleEvent(ScopeThread, runeEvent('d')))
	assert.True(t, r.HandleEvent(ScopeConversations, runeEvent('d')))
	assert.False(t, r.HandleEvent(ScopeThread, runeEvent('z')))
	assert.Equal(t, []string{"thread", "global"}, got)
}

func TestHandleEventSpecialKeys(t *testing.T) {
	r := NewRegistry()
	hit := 0
	r.Add(ScopeComposer, &Action{Key: tcell.KeyEnter, Handler: func() { hit++ }})

	assert.True(t, r.HandleEvent(ScopeComposer, tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone)))
	assert.Equal(t, 1, hit)
}

func TestAddReplacesSameKey(t *testing.T) {
	r := NewRegistry()
	r.Add(ScopeGlobal, &Action{Key: tcell.KeyRune, Rune: 'q', Description: "old", Visible: true, Handler: func() {}})
	r.Add(ScopeGlobal, &Action{Key: tcell.KeyRune, Rune: 'q', Description: "quit", Visible: true, Handler: func() {}})
	r.Add(ScopeGlobal, &Action{Key: tcell.KeyRune, Rune: 'x', Description: "hidden", Handler: func() {}})

	assert.Equal(t, []Binding{{Key: "q", Description: "quit"}}, r.Bindings(ScopeGlobal))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Space", (&Action{Key: tcell.KeyRune, Rune: ' '}).Label())
	assert.Equal(t, "D", (&Action{Key: tcell.KeyRune, Rune: 'D'}).Label())
	assert.Equal(t, "Esc", (&Action{Key: tcell.KeyEscape}).Label())
}
