// Package tui is the smsdesk console: a terminal client for one profile's
// daemon.
package tui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/smsdesk/internal/attach"
	"github.com/matheus3301/smsdesk/internal/bus"
	"github.com/matheus3301/smsdesk/internal/config"
	"github.com/matheus3301/smsdesk/internal/convindex"
	"github.com/matheus3301/smsdesk/internal/model"
	"github.com/matheus3301/smsdesk/internal/profile"
	"github.com/matheus3301/smsdesk/internal/readstate"
	"github.com/matheus3301/smsdesk/internal/reconcile"
	"github.com/matheus3301/smsdesk/internal/remote"
	"github.com/matheus3301/smsdesk/internal/timeline"
	"github.com/matheus3301/smsdesk/internal/tui/client"
	"github.com/matheus3301/smsdesk/internal/tui/keys"
	"github.com/matheus3301/smsdesk/internal/tui/ui"
	"github.com/matheus3301/smsdesk/internal/tui/views"
)

const (
	statusInterval = 10 * time.Second
	searchPageSize = 100
	alertPage      = "alert"
	mainPage       = "main"
	promptHeight   = 3
)

// App is the console shell. Widgets are only touched on the tview event
// goroutine; engine callbacks get there through QueueUpdateDraw.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	profile  string
	cfg      *config.Config
	log      *zap.Logger
	client   *client.Client
	bus      *bus.Bus
	registry *keys.Registry
	flash    *ui.FlashModel

	layout   *tview.Flex
	overlay  *tview.Pages
	pages    *ui.Pages
	prompt   *ui.Prompt
	flashBar *ui.FlashBar
	crumbs   *ui.Crumbs
	menu     *ui.Menu
	info     *ui.ProfileInfo

	list     *views.ConversationList
	thread   *views.ThreadView
	composer *views.Composer
	threadPg *threadPage
	details  *views.ConversationInfo
	search   *views.SearchView
	help     *views.HelpView

	index      *convindex.Index
	timeline   *timeline.Timeline
	attach     *attach.Resolver
	reconciler *reconcile.Reconciler

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// threadPage is the thread and its compose area as one page.
type threadPage struct {
	*tview.Flex
	view *views.ThreadView
}

func (p *threadPage) Name() string         { return p.view.Name() }
func (p *threadPage) Hints() []ui.MenuHint { return p.view.Hints() }

// notifier routes reconciler failures: alerts become a modal the user has
// to dismiss, indications go to the flash bar.
type notifier struct{ a *App }

func (n notifier) Alert(msg string) {
	n.a.queue(func() { n.a.showAlert(msg) })
}

func (n notifier) Indicate(msg string) {
	n.a.flash.Warn(msg)
}

// NewApp builds the console for profileName on top of c.
func NewApp(c *client.Client, cfg *config.Config, profileName string, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		profile:  profileName,
		cfg:      cfg,
		log:      logger,
		client:   c,
		bus:      bus.New(),
		registry: keys.NewRegistry(),
		flash:    ui.NewFlashModel(),
		overlay:  tview.NewPages(),
		pages:    ui.NewPages(),
		prompt:   ui.NewPrompt(theme),
		flashBar: ui.NewFlashBar(theme),
		crumbs:   ui.NewCrumbs(theme),
		menu:     ui.NewMenu(theme),
		info:     ui.NewProfileInfo(theme),
		list:     views.NewConversationList(theme),
		details:  views.NewConversationInfo(theme),
		search:   views.NewSearchView(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.thread = views.NewThreadView(theme, a.queue)
	a.composer = views.NewComposer(theme, a.queue)
	a.threadPg = &threadPage{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(a.thread, 0, 1, true).
			AddItem(a.composer, 3, 0, false),
		view: a.thread,
	}

	downloadDir := cfg.Console.DownloadDir
	if downloadDir == "" {
		downloadDir = profile.DownloadDir(profileName)
	}
	a.attach = attach.NewResolver(downloadDir, &http.Client{Timeout: time.Minute}, nil, logger.Named("attach"))
	a.index = convindex.New(c.Store, convindex.Options{
		PageSize:        cfg.Console.ConversationPageSize,
		Debounce:        cfg.Console.SearchDebounce(),
		RefreshInterval: cfg.Console.RefreshInterval(),
	}, a.bus, logger.Named("index"))
	a.timeline = timeline.New(c.Store, a.thread, a.bus, cfg.Console.MessagePageSize, logger.Named("timeline"))
	a.reconciler = reconcile.New(reconcile.Deps{
		Store:       c.Store,
		Push:        c.Push,
		Timeline:    a.timeline,
		Index:       a.index,
		Reads:       readstate.New(c.Store, c.Gateway, readstate.Options{GatewayRetries: cfg.Console.GatewayRetries}, logger.Named("readstate")),
		Attachments: a.attach,
		Composer:    a.composer,
		Notifier:    notifier{a},
		Bus:         a.bus,
	}, reconcile.Options{
		PushWindow: cfg.Console.PushWindow,
		Region:     cfg.Console.DefaultRegion,
	}, logger.Named("reconcile"))

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

// queue runs fn on the event goroutine and redraws. After the event loop
// exited fn is dropped.
func (a *App) queue(fn func()) {
	if a.stopped.Load() {
		return
	}
	a.app.QueueUpdateDraw(fn)
}

func (a *App) setupBindings() {
	r := a.registry
	rk := func(ch rune, desc string, fn func()) *keys.Action {
		return &keys.Action{Key: tcell.KeyRune, Rune: ch, Description: desc, Visible: true, Handler: fn}
	}

	r.Add(keys.ScopeGlobal, rk(':', "Command", func() { a.showPrompt(ui.PromptCommand, "") }))
	r.Add(keys.ScopeGlobal, rk('?', "Help", a.showHelp))
	r.Add(keys.ScopeGlobal, rk('q', "Quit", a.Stop))
	r.Add(keys.ScopeGlobal, &keys.Action{Key: tcell.KeyEscape, Description: "Back", Visible: true, Handler: a.back})

	r.Add(keys.ScopeConversations, &keys.Action{Key: tcell.KeyEnter, Description: "Open", Visible: true, Handler: func() {
		if c, ok := a.list.Selected(); ok {
			a.openConversation(c.Phone)
		}
	}})
	r.Add(keys.ScopeConversations, rk('/', "Search", func() { a.showPrompt(ui.PromptFilter, a.index.Snapshot().Term) }))
	r.Add(keys.ScopeConversations, rk('n', "New conversation", func() { a.showPrompt(ui.PromptCommand, "open ") }))
	r.Add(keys.ScopeConversations, rk('u', "Mark unread", func() {
		if c, ok := a.list.Selected(); ok {
			a.markUnread(c.Phone)
		}
	}))
	r.Add(keys.ScopeConversations, rk('d', "Details", func() {
		if c, ok := a.list.Selected(); ok {
			a.showDetails(c.Phone)
		}
	}))
	r.Add(keys.ScopeConversations, rk('X', "Delete conversation", func() {
		if c, ok := a.list.Selected(); ok {
			a.confirmDeleteConversation(c.Phone)
		}
	}))
	r.Add(keys.ScopeConversations, rk('r', "Refresh", a.refreshIndex))

	r.Add(keys.ScopeThread, rk('i', "Compose", func() { a.app.SetFocus(a.composer) }))
	r.Add(keys.ScopeThread, rk('a', "Attach file", func() { a.showPrompt(ui.PromptAttach, "") }))
	r.Add(keys.ScopeThread, rk(' ', "Select message", a.toggleSelect))
	r.Add(keys.ScopeThread, rk('D', "Delete selected", a.confirmDeleteSelected))
	r.Add(keys.ScopeThread, rk('o', "Download attachments", a.downloadCursor))
	r.Add(keys.ScopeThread, rk('u', "Mark unread", func() { a.markUnread(a.timeline.Phone()) }))
	r.Add(keys.ScopeThread, rk('s', "Search messages", func() { a.showSearch("") }))
	r.Add(keys.ScopeThread, rk('d', "Details", func() { a.showDetails(a.timeline.Phone()) }))
	r.Add(keys.ScopeThread, rk('X', "Delete conversation", func() { a.confirmDeleteConversation(a.timeline.Phone()) }))

	r.Add(keys.ScopeComposer, &keys.Action{Key: tcell.KeyEnter, Description: "Send", Visible: true, Handler: a.send})
	r.Add(keys.ScopeComposer, &keys.Action{Key: tcell.KeyEscape, Description: "Leave compose", Visible: true, Handler: func() {
		a.app.SetFocus(a.thread)
	}})
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(top ui.Component, _ []ui.Component) {
		a.crumbs.Update(a.pages.Titles())
		if top != nil {
			a.menu.Update(top.Hints())
		}
	})

	a.list.SetOnEnd(func() {
		go func() {
			if err := a.index.LoadMore(a.ctx); err != nil && !errors.Is(err, convindex.ErrStale) {
				a.flash.Err(err)
			}
		}()
	})
	a.thread.SetOnTop(func() {
		go func() { _ = a.reconciler.LoadOlder(a.ctx) }()
	})

	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.index.Search(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(text)
		case ui.PromptAttach:
			a.attachFile(text)
		}
	})
	a.prompt.SetOnCancel(func(mode ui.PromptMode) {
		if mode == ui.PromptFilter {
			a.index.Search("")
		}
		a.hidePrompt()
	})

	a.search.SetOnQuery(a.runSearch)
	a.search.SetOnSelect(func(m model.Message) {
		a.pages.Pop()
		a.app.SetFocus(a.thread)
		if !a.thread.JumpTo(m.ID) {
			a.flash.Info("message is older than the loaded history, scroll up to load it")
		}
	})
	a.search.SetOnTab(func() { a.app.SetFocus(a.search.Results()) })
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 30, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 12, 0, false)

	a.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.overlay.AddPage(mainPage, a.layout, true, true)
	a.pages.Push(a.list)
	a.help.Update(a.registry)
	a.app.SetRoot(a.overlay, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if ev.Key() == tcell.KeyCtrlC {
		a.Stop()
		return nil
	}
	if name, _ := a.overlay.GetFrontPage(); name == alertPage {
		return ev
	}

	switch a.app.GetFocus() {
	case a.prompt:
		return ev
	case a.composer:
		if a.registry.HandleEvent(keys.ScopeComposer, ev) {
			return nil
		}
		return ev
	case a.search.Input():
		if ev.Key() == tcell.KeyEscape {
			a.back()
			return nil
		}
		return ev
	}

	scope := keys.ScopeGlobal
	switch a.pages.Top() {
	case a.list:
		scope = keys.ScopeConversations
	case a.threadPg:
		scope = keys.ScopeThread
	}
	if a.registry.HandleEvent(scope, ev) {
		return nil
	}
	return ev
}

// back pops the current page. Leaving the thread closes the conversation.
func (a *App) back() {
	top := a.pages.Pop()
	if top == nil {
		return
	}
	if top == a.threadPg && !a.pages.Contains(a.threadPg) {
		go a.reconciler.Close()
	}
	a.focusTop()
}

func (a *App) focusTop() {
	switch top := a.pages.Top(); top {
	case a.threadPg:
		a.app.SetFocus(a.thread)
	case a.search:
		a.app.SetFocus(a.search.Input())
	case nil:
	default:
		a.app.SetFocus(top)
	}
}

func (a *App) showPrompt(mode ui.PromptMode, initial string) {
	a.prompt.Activate(mode, initial)
	a.layout.ResizeItem(a.prompt, promptHeight, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.focusTop()
}

func (a *App) showHelp() {
	a.help.Update(a.registry)
	a.pages.Push(a.help)
	a.app.SetFocus(a.help)
}

func (a *App) showAlert(msg string) {
	focus := a.app.GetFocus()
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			a.overlay.RemovePage(alertPage)
			a.app.SetFocus(focus)
		})
	a.overlay.AddPage(alertPage, modal, true, true)
	a.app.SetFocus(modal)
}

func (a *App) confirm(question string, fn func()) {
	focus := a.app.GetFocus()
	modal := tview.NewModal().
		SetText(question).
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(idx int, _ string) {
			a.overlay.RemovePage(alertPage)
			a.app.SetFocus(focus)
			if idx == 0 {
				fn()
			}
		})
	a.overlay.AddPage(alertPage, modal, true, true)
	a.app.SetFocus(modal)
}

// openConversation shows the thread for phone and loads it in the
// background.
func (a *App) openConversation(phone string) {
	normalized, err := model.NormalizePhone(phone, a.cfg.Console.DefaultRegion)
	if err != nil {
		a.flash.Err(err)
		return
	}
	a.thread.SetPhone(normalized)
	a.composer.Clear()
	a.pages.Push(a.threadPg)
	a.app.SetFocus(a.thread)

	go func() {
		if err := a.reconciler.Open(a.ctx, normalized); err != nil && !errors.Is(err, timeline.ErrStale) {
			a.log.Warn("open conversation failed", zap.String("phone", normalized), zap.Error(err))
		}
	}()
}

func (a *App) send() {
	go func() {
		err := a.reconciler.Send(a.ctx)
		switch {
		case err == nil, errors.Is(err, reconcile.ErrEmptyDraft):
		case errors.Is(err, reconcile.ErrNoConversation):
			a.flash.Warn("no conversation open")
		default:
			a.log.Debug("send returned", zap.Error(err))
		}
	}()
}

func (a *App) toggleSelect() {
	m, ok := a.thread.Cursor()
	if !ok {
		return
	}
	if m.IsTransient() {
		a.flash.Info("message is still being sent")
		return
	}
	a.reconciler.ToggleSelect(m.ID)
	a.thread.SetSelected(a.reconciler.Selected())
}

func (a *App) confirmDeleteSelected() {
	ids := a.reconciler.Selected()
	if len(ids) == 0 {
		if m, ok := a.thread.Cursor(); ok && !m.IsTransient() {
			ids = []string{m.ID}
		}
	}
	if len(ids) == 0 {
		return
	}
	a.confirm(fmt.Sprintf("Delete %d message(s)?", len(ids)), func() {
		go func() {
			if err := a.reconciler.DeleteMessages(a.ctx, ids...); err == nil {
				a.thread.SetSelected(a.reconciler.Selected())
				a.flash.Info(fmt.Sprintf("deleted %d message(s)", len(ids)))
			}
		}()
	})
}

func (a *App) confirmDeleteConversation(phone string) {
	if phone == "" {
		return
	}
	a.confirm(fmt.Sprintf("Delete the whole conversation with %s?", phone), func() {
		if a.pages.Top() == a.threadPg && a.timeline.Phone() == phone {
			a.pages.Pop()
			a.focusTop()
		}
		go func() {
			if err := a.reconciler.DeleteConversation(a.ctx, phone); err == nil {
				a.flash.Info("conversation deleted")
			}
		}()
	})
}

func (a *App) markUnread(phone string) {
	if phone == "" {
		return
	}
	go func() {
		if err := a.reconciler.MarkUnread(a.ctx, phone); err != nil {
			a.flash.Err(err)
			return
		}
		a.flash.Info("marked unread")
	}()
}

func (a *App) showDetails(phone string) {
	c, ok := a.index.Get(phone)
	if !ok {
		c = model.Conversation{Phone: phone}
	}
	selected := 0
	if a.timeline.Phone() == phone {
		selected = len(a.reconciler.Selected())
	}
	a.details.Update(c, selected)
	a.pages.Push(a.details)
	a.app.SetFocus(a.details)
}

func (a *App) showSearch(query string) {
	if a.timeline.Phone() == "" {
		return
	}
	a.search.Reset()
	a.search.Input().SetText(query)
	a.pages.Push(a.search)
	a.app.SetFocus(a.search.Input())
	if query != "" {
		a.runSearch(query)
	}
}

func (a *App) runSearch(query string) {
	phone := a.timeline.Phone()
	go func() {
		resp, err := a.client.Store.ListMessages(a.ctx, remote.ListMessagesRequest{
			Conversation: phone,
			PageSize:     searchPageSize,
			Query:        query,
		})
		if err != nil {
			a.flash.Err(fmt.Errorf("search: %w", err))
			return
		}
		a.queue(func() {
			a.search.Update(query, resp.Messages)
			if len(resp.Messages) > 0 {
				a.app.SetFocus(a.search.Results())
			}
		})
	}()
}

func (a *App) downloadCursor() {
	m, ok := a.thread.Cursor()
	if !ok || len(m.Attachments) == 0 {
		a.flash.Info("no attachment under the cursor")
		return
	}
	go func() {
		for _, att := range m.Attachments {
			path, err := a.attach.Download(a.ctx, attach.DisplayURL(att), att.Filename)
			switch {
			case err != nil:
				a.flash.Err(err)
			case path == "":
				a.flash.Info("opened " + att.Filename)
			default:
				a.flash.Info("saved " + path)
			}
		}
	}()
}

func (a *App) attachFile(path string) {
	path = expandHome(strings.TrimSpace(path))
	if path == "" {
		return
	}
	if err := a.composer.Attach(path); err != nil {
		a.flash.Err(err)
		return
	}
	a.flash.Info("attached " + filepath.Base(path))
	a.app.SetFocus(a.composer)
}

func (a *App) refreshIndex() {
	go func() {
		if err := a.index.Refresh(a.ctx); err != nil && !errors.Is(err, convindex.ErrStale) {
			a.flash.Err(err)
		}
	}()
}

func (a *App) runCommand(line string) {
	cmd, err := ParseCommand(line)
	if err != nil {
		a.flash.Err(err)
		return
	}
	switch cmd.Name {
	case "open":
		a.openConversation(cmd.Args)
	case "grep":
		if a.timeline.Phone() == "" {
			a.flash.Warn("open a conversation first")
			return
		}
		a.showSearch(cmd.Args)
	case "attach":
		if a.timeline.Phone() == "" {
			a.flash.Warn("open a conversation first")
			return
		}
		a.attachFile(cmd.Args)
	case "unread":
		phone := a.timeline.Phone()
		if c, ok := a.list.Selected(); ok && a.pages.Top() == a.list {
			phone = c.Phone
		}
		a.markUnread(phone)
	case "delete":
		a.confirmDeleteSelected()
	case "refresh":
		a.refreshIndex()
	case "help":
		a.showHelp()
	case "quit":
		a.Stop()
	}
}

// watch forwards console events and flash messages to the widgets.
func (a *App) watch() {
	events, unsubscribe := a.bus.Subscribe("console.", 64)
	defer unsubscribe()

	status := time.NewTicker(statusInterval)
	defer status.Stop()
	a.refreshStatus()

	for {
		select {
		case <-a.ctx.Done():
			return
		case evt := <-events:
			if evt.Kind == bus.KindIndexChanged {
				snap := a.index.Snapshot()
				a.queue(func() { a.list.Update(snap) })
			}
		case msg := <-a.flash.Watch():
			a.queue(func() { a.flashBar.Update(a.flash.Current()) })
			if !msg.Expires.IsZero() {
				time.AfterFunc(time.Until(msg.Expires)+50*time.Millisecond, func() {
					a.queue(func() { a.flashBar.Update(a.flash.Current()) })
				})
			}
		case <-status.C:
			a.refreshStatus()
		}
	}
}

func (a *App) refreshStatus() {
	ctx, cancel := context.WithTimeout(a.ctx, 3*time.Second)
	defer cancel()
	st, err := a.client.Ping(ctx)
	if err != nil {
		a.log.Debug("status unavailable", zap.Error(err))
		st = nil
	}
	a.queue(func() { a.info.Update(a.profile, st) })
}

// Run loads the first conversation page and blocks until the console
// exits.
func (a *App) Run() error {
	go a.watch()
	a.index.Start(a.ctx)
	go func() {
		if err := a.index.Load(a.ctx, 0, "", false); err != nil {
			a.flash.Err(fmt.Errorf("load conversations: %w", err))
		}
	}()

	err := a.app.Run()
	a.stopped.Store(true)
	a.shutdown()
	return err
}

func (a *App) shutdown() {
	a.cancel()
	a.index.Stop()
	a.reconciler.Close()
	if n := a.attach.ReleaseAll(); n > 0 {
		a.log.Debug("released attachment placeholders", zap.Int("count", n))
	}
}

// Stop exits the event loop; Run then tears the engines down.
func (a *App) Stop() {
	a.app.Stop()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
