package views

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rivo/tview"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/reconcile"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
)

const maxAttachmentBytes = 5 << 20

var ErrAttachmentTooLarge = errors.New("attachment exceeds 5 MiB")

// Composer is the compose area below the thread. The input field is the
// UI side; the draft it keeps in sync is what the reconciler takes.
type Composer struct {
	*tview.InputField
	theme *ui.Theme
	queue func(func())
	draft reconcile.Compose
}

func NewComposer(theme *ui.Theme, queue func(fn func())) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitleColor(theme.TitleColor)

	c := &Composer{
		InputField: input,
		theme:      theme,
		queue:      queue,
	}
	input.SetChangedFunc(c.draft.SetText)
	c.updateTitle(reconcile.Draft{})
	return c
}

// Take implements reconcile.Composer. The input is cleared on the UI
// goroutine.
func (c *Composer) Take() reconcile.Draft {
	d := c.draft.Take()
	c.queue(func() {
		c.SetText("")
		c.updateTitle(reconcile.Draft{})
	})
	return d
}

// Restore implements reconcile.Composer.
func (c *Composer) Restore(d reconcile.Draft) {
	c.draft.Restore(d)
	c.queue(func() {
		c.SetText(d.Text)
		c.updateTitle(d)
	})
}

// Draft returns the pending content without clearing it.
func (c *Composer) Draft() reconcile.Draft {
	return c.draft.Draft()
}

// Attach reads path and adds it to the draft.
func (c *Composer) Attach(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("attach: %s is a directory", path)
	}
	if info.Size() > maxAttachmentBytes {
		return ErrAttachmentTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}

	c.draft.Attach(reconcile.DraftAttachment{
		Filename:    attach.SanitizeFilename(filepath.Base(path)),
		ContentType: contentType(path, data),
		Data:        data,
	})
	d := c.draft.Draft()
	c.queue(func() { c.updateTitle(d) })
	return nil
}

// Clear drops the draft, attachments included.
func (c *Composer) Clear() {
	c.draft.Take()
	c.queue(func() {
		c.SetText("")
		c.updateTitle(reconcile.Draft{})
	})
}

func (c *Composer) updateTitle(d reconcile.Draft) {
	switch n := len(d.Attachments); n {
	case 0:
		c.SetTitle(" Compose (i) ")
	case 1:
		c.SetTitle(fmt.Sprintf(" Compose: %s ", tview.Escape(d.Attachments[0].Filename)))
	default:
		c.SetTitle(fmt.Sprintf(" Compose: %d attachments ", n))
	}
}

func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
