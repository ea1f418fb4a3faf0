package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel represents the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

const (
	infoTTL = 4 * time.Second
	warnTTL = 8 * time.Second
	errTTL  = 12 * time.Second
)

// FlashMessage is a transient status line entry.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the current flash message. It is written from worker
// goroutines and read from the UI goroutine.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
	watchCh chan FlashMessage
}

func NewFlashModel() *FlashModel {
	return &FlashModel{
		now:     time.Now,
		watchCh: make(chan FlashMessage, 8),
	}
}

func (f *FlashModel) Info(msg string) { f.set(msg, FlashInfo, infoTTL) }

func (f *FlashModel) Warn(msg string) { f.set(msg, FlashWarn, warnTTL) }

func (f *FlashModel) Err(err error) { f.set(err.Error(), FlashErr, errTTL) }

// Clear drops the current message immediately.
func (f *FlashModel) Clear() {
	f.mu.Lock()
	f.current = FlashMessage{}
	f.mu.Unlock()
	f.publish(FlashMessage{})
}

func (f *FlashModel) set(msg string, level FlashLevel, ttl time.Duration) {
	fm := FlashMessage{Text: msg, Level: level, Expires: f.now().Add(ttl)}
	f.mu.Lock()
	f.current = fm
	f.mu.Unlock()
	f.publish(fm)
}

func (f *FlashModel) publish(fm FlashMessage) {
	select {
	case f.watchCh <- fm:
	default:
	}
}

// Current returns the live message, or nil once it expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch returns a channel that receives every new message. Sends never
// block; a slow reader misses intermediate messages.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}

// FlashBar is the one-line status bar at the bottom of the screen.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders msg, or clears the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}

	color := colorName(fb.theme.FlashInfoColor)
	switch msg.Level {
	case FlashWarn:
		color = colorName(fb.theme.FlashWarnColor)
	case FlashErr:
		color = colorName(fb.theme.FlashErrColor)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", color, tview.Escape(msg.Text))
}
