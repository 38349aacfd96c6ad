// Package pwengine implements engine.Engine on top of playwright-go.
package pwengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/scenario-suite/internal/engine"
	"github.com/kuitang/scenario-suite/internal/errs"
	"github.com/kuitang/scenario-suite/internal/obs"
	"github.com/kuitang/scenario-suite/internal/scenario"
)

// Options selects and configures the browser.
type Options struct {
	Browser  string // chromium, firefox or webkit
	Headless bool
	SlowMo   time.Duration
}

// Engine owns the Playwright driver and one launched browser.
type Engine struct {
	name    string
	pw      *playwright.Playwright
	browser playwright.Browser

	closeOnce sync.Once
	closeErr  error
}

var _ engine.Engine = (*Engine)(nil)

// Install downloads the driver and the named browsers.
func Install(browsers ...string) error {
	return playwright.Install(&playwright.RunOptions{Browsers: browsers})
}

// Launch starts the Playwright driver and the requested browser. A missing
// driver or browser is reported as errs.Unavailable.
func Launch(opts Options) (*Engine, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Browser))
	if name == "" {
		name = "chromium"
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "start playwright driver", err)
	}

	var bt playwright.BrowserType
	switch name {
	case "chromium":
		bt = pw.Chromium
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown browser %q", opts.Browser))
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	browser, err := bt.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "launch "+name, err)
	}

	obs.Pkg("pwengine").Info("browser_launched",
		"browser", name,
		"version", browser.Version(),
		"headless", opts.Headless,
	)
	return &Engine{name: name, pw: pw, browser: browser}, nil
}

func (e *Engine) Name() string { return e.name }

// NewContext opens an isolated browser context.
func (e *Engine) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var options playwright.BrowserNewContextOptions
	if opts.Viewport != nil {
		options.Viewport = &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
	}
	bctx, err := e.browser.NewContext(options)
	if err != nil {
		return nil, classify(err)
	}
	if opts.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(ms(opts.DefaultTimeout))
	}
	if opts.NavigationTimeout > 0 {
		bctx.SetDefaultNavigationTimeout(ms(opts.NavigationTimeout))
	}
	return &browsingContext{bctx: bctx}, nil
}

// Close shuts the browser and then the driver.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		var problems []error
		if err := e.browser.Close(); err != nil {
			problems = append(problems, fmt.Errorf("close browser: %w", err))
		}
		if err := e.pw.Stop(); err != nil {
			problems = append(problems, fmt.Errorf("stop playwright: %w", err))
		}
		e.closeErr = errors.Join(problems...)
	})
	return e.closeErr
}

type browsingContext struct {
	bctx playwright.BrowserContext

	closeOnce sync.Once
	closeErr  error
}

func (c *browsingContext) NewPage(ctx context.Context) (engine.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.bctx.NewPage()
	if err != nil {
		return nil, classify(err)
	}
	return newPage(p), nil
}

func (c *browsingContext) ExpectPage() engine.PageWaiter {
	w := &pageWaiter{ch: make(chan *page, 1)}
	c.bctx.OnPage(func(p playwright.Page) {
		if !w.fired.CompareAndSwap(false, true) {
			return
		}
		w.ch <- newPage(p)
	})
	return w
}

func (c *browsingContext) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.bctx.Close()
	})
	return c.closeErr
}

type pageWaiter struct {
	ch    chan *page
	fired atomic.Bool
}

func (w *pageWaiter) Wait(ctx context.Context, timeout time.Duration) (engine.Page, error) {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return nil, err
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case p := <-w.ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no new page within %s", engine.ErrTimeout, budget)
	}
}

type page struct {
	p playwright.Page

	mu      sync.Mutex
	console []engine.ConsoleMessage
}

func newPage(p playwright.Page) *page {
	pg := &page{p: p}
	p.OnConsole(func(msg playwright.ConsoleMessage) {
		pg.mu.Lock()
		pg.console = append(pg.console, engine.ConsoleMessage{Type: msg.Type(), Text: msg.Text()})
		pg.mu.Unlock()
	})
	return pg
}

func (pg *page) Goto(ctx context.Context, url string, opts engine.GotoOptions) error {
	budget, err := engine.Budget(ctx, opts.Timeout)
	if err != nil {
		return err
	}
	_, err = pg.p.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil(opts.WaitUntil),
		Timeout:   playwright.Float(ms(budget)),
	})
	return classify(err)
}

func (pg *page) URL() string { return pg.p.URL() }

func (pg *page) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := pg.p.Title()
	return title, classify(err)
}

func (pg *page) Locate(sel scenario.Selector) engine.Locator {
	return &locator{l: pg.build(sel)}
}

func (pg *page) build(sel scenario.Selector) playwright.Locator {
	var l playwright.Locator
	switch sel.Strategy {
	case scenario.ByRole:
		opts := playwright.PageGetByRoleOptions{Exact: playwright.Bool(sel.Exact)}
		if sel.Name != "" {
			opts.Name = sel.Name
		}
		l = pg.p.GetByRole(playwright.AriaRole(sel.Value), opts)
	case scenario.ByText:
		l = pg.p.GetByText(sel.Value, playwright.PageGetByTextOptions{Exact: playwright.Bool(sel.Exact)})
	case scenario.ByPlaceholder:
		l = pg.p.GetByPlaceholder(sel.Value, playwright.PageGetByPlaceholderOptions{Exact: playwright.Bool(sel.Exact)})
	case scenario.ByID:
		l = pg.p.Locator(fmt.Sprintf("[id=%q]", sel.Value))
	case scenario.ByXPath:
		l = pg.p.Locator("xpath=" + sel.Value)
	default:
		l = pg.p.Locator(sel.Value)
	}
	switch sel.Ordinal.Kind {
	case scenario.OrdinalFirst:
		l = l.First()
	case scenario.OrdinalLast:
		l = l.Last()
	case scenario.OrdinalNth:
		l = l.Nth(sel.Ordinal.Index)
	}
	return l
}

func (pg *page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(pg.p.Keyboard().Press(key))
}

func (pg *page) SetViewport(ctx context.Context, vp scenario.Viewport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(pg.p.SetViewportSize(vp.Width, vp.Height))
}

func (pg *page) WaitForLoad(ctx context.Context, state scenario.LoadState, timeout time.Duration) error {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify(pg.p.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   loadState(state),
		Timeout: playwright.Float(ms(budget)),
	}))
}

func (pg *page) ConsoleMessages() []engine.ConsoleMessage {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	out := make([]engine.ConsoleMessage, len(pg.console))
	copy(out, pg.console)
	return out
}

func (pg *page) Screenshot(ctx context.Context) ([]byte, error) {
	budget, err := engine.Budget(ctx, 10*time.Second)
	if err != nil {
		return nil, err
	}
	png, err := pg.p.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  playwright.Float(ms(budget)),
	})
	return png, classify(err)
}

type locator struct {
	l playwright.Locator
}

func (lc *locator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := lc.l.Count()
	return n, classify(err)
}

func (lc *locator) WaitFor(ctx context.Context, state scenario.ElementState, timeout time.Duration) error {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify(lc.l.First().WaitFor(playwright.LocatorWaitForOptions{
		State:   waitState(state),
		Timeout: playwright.Float(ms(budget)),
	}))
}

func (lc *locator) Click(ctx context.Context, timeout time.Duration) error {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify(lc.l.First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(budget)),
	}))
}

func (lc *locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return err
	}
	return classify(lc.l.First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(ms(budget)),
	}))
}

func (lc *locator) Text(ctx context.Context, timeout time.Duration) (string, error) {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return "", err
	}
	text, err := lc.l.First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(ms(budget)),
	})
	return text, classify(err)
}

// classify maps Playwright errors onto the engine sentinels so callers can
// use errors.Is without importing playwright.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", engine.ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", engine.ErrClosed, err)
	default:
		slog.Debug("playwright_error", "error", err)
		return err
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

func waitUntil(state scenario.LoadState) *playwright.WaitUntilState {
	switch state {
	case scenario.LoadCommit:
		return playwright.WaitUntilStateCommit
	case scenario.LoadLoad:
		return playwright.WaitUntilStateLoad
	case scenario.LoadNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

func loadState(state scenario.LoadState) *playwright.LoadState {
	switch state {
	case scenario.LoadDOMContentLoaded:
		return playwright.LoadStateDomcontentloaded
	case scenario.LoadNetworkIdle:
		return playwright.LoadStateNetworkidle
	default:
		return playwright.LoadStateLoad
	}
}

func waitState(state scenario.ElementState) *playwright.WaitForSelectorState {
	switch state {
	case scenario.StateAttached:
		return playwright.WaitForSelectorStateAttached
	case scenario.StateHidden:
		return playwright.WaitForSelectorStateHidden
	case scenario.StateDetached:
		return playwright.WaitForSelectorStateDetached
	default:
		return playwright.WaitForSelectorStateVisible
	}
}
