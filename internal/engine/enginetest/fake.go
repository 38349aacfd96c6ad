// Package enginetest provides a scripted in-memory engine for runner tests.
// A Site maps URLs to page specs; elements are keyed by selector so tests
// describe pages in the same vocabulary scenarios use.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuitang/scenario-suite/internal/engine"
	"github.com/kuitang/scenario-suite/internal/scenario"
)

const pollInterval = 5 * time.Millisecond

// Element is one node on a fake page.
type Element struct {
	Text   string
	Hidden bool
	// AppearAfter keeps the element absent until this long after page load.
	AppearAfter time.Duration
	OnClick     func(a *Actions)
}

// PageSpec describes what a URL serves.
type PageSpec struct {
	Title    string
	Elements map[string][]Element // keyed by scenario.Selector.Key()
	Console  []engine.ConsoleMessage
	// LoadDelay makes Goto take this long.
	LoadDelay time.Duration
	// NeverLoads makes WaitForLoad time out.
	NeverLoads bool
	OnPress    map[string]func(a *Actions)
}

// Site maps absolute URLs to pages.
type Site map[string]PageSpec

// Els is shorthand for building PageSpec.Elements.
func Els(pairs ...any) map[string][]Element {
	out := make(map[string][]Element, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		sel := pairs[i].(scenario.Selector)
		switch v := pairs[i+1].(type) {
		case Element:
			out[sel.Key()] = append(out[sel.Key()], v)
		case []Element:
			out[sel.Key()] = append(out[sel.Key()], v...)
		default:
			panic(fmt.Sprintf("enginetest.Els: unexpected %T", v))
		}
	}
	return out
}

// Engine is a fake engine.Engine. All state is guarded by one mutex.
type Engine struct {
	site Site

	// FailNewContext, when set, is returned by NewContext.
	FailNewContext error

	mu       sync.Mutex
	contexts []*Context
	gotos    []string
	closed   bool
}

var _ engine.Engine = (*Engine)(nil)

func New(site Site) *Engine {
	return &Engine{site: site}
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.FailNewContext != nil {
		return nil, e.FailNewContext
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &Context{eng: e, opts: opts}
	e.contexts = append(e.contexts, c)
	return c, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Contexts returns every context opened so far.
func (e *Engine) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Context(nil), e.contexts...)
}

// Gotos returns every URL passed to Goto, in order.
func (e *Engine) Gotos() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.gotos...)
}

// Context is a fake browsing context.
type Context struct {
	eng     *Engine
	opts    engine.ContextOptions
	pages   []*Page
	waiters []chan *Page
	closed  bool
}

func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	if c.closed {
		return nil, engine.ErrClosed
	}
	return c.newPageLocked(), nil
}

func (c *Context) newPageLocked() *Page {
	p := &Page{c: c, values: map[string]string{}}
	if c.opts.Viewport != nil {
		p.viewport = *c.opts.Viewport
	}
	c.pages = append(c.pages, p)
	return p
}

func (c *Context) ExpectPage() engine.PageWaiter {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	ch := make(chan *Page, 1)
	c.waiters = append(c.waiters, ch)
	return waiter{ch: ch}
}

func (c *Context) Close() error {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	c.closed = true
	for _, p := range c.pages {
		p.closed = true
	}
	return nil
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	return c.closed
}

// Options returns the options the context was opened with.
func (c *Context) Options() engine.ContextOptions {
	return c.opts
}

// Pages returns every page opened in the context.
func (c *Context) Pages() []*Page {
	c.eng.mu.Lock()
	defer c.eng.mu.Unlock()
	return append([]*Page(nil), c.pages...)
}

func (c *Context) openPage(url string) {
	c.eng.mu.Lock()
	if c.closed {
		c.eng.mu.Unlock()
		return
	}
	p := c.newPageLocked()
	p.loadLocked(url)
	waiters := c.waiters
	c.waiters = nil
	c.eng.mu.Unlock()

	for _, w := range waiters {
		select {
		case w <- p:
		default:
		}
	}
}

type waiter struct {
	ch chan *Page
}

func (w waiter) Wait(ctx context.Context, timeout time.Duration) (engine.Page, error) {
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

// Actions lets click and key handlers change the page.
type Actions struct {
	page *Page
}

// Navigate loads url in the same page without delay.
func (a *Actions) Navigate(url string) {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	a.page.loadLocked(url)
}

// OpenPage opens url in a new page of the same context.
func (a *Actions) OpenPage(url string) {
	a.page.c.openPage(url)
}

// OpenPageAfter opens url in a new page once d has passed.
func (a *Actions) OpenPageAfter(url string, d time.Duration) {
	go func() {
		time.Sleep(d)
		a.page.c.openPage(url)
	}()
}

// Add appends an element matched by sel.
func (a *Actions) Add(sel scenario.Selector, el Element) {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	cp := el
	a.page.elements[sel.Key()] = append(a.page.elements[sel.Key()], &cp)
}

// Remove deletes every element matched by sel.
func (a *Actions) Remove(sel scenario.Selector) {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	delete(a.page.elements, sel.Key())
}

// SetText replaces the text of the first element matched by sel.
func (a *Actions) SetText(sel scenario.Selector, text string) {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	if els := a.page.elements[sel.Key()]; len(els) > 0 {
		els[0].Text = text
	}
}

// Text returns the text of the first element matched by sel, or "".
func (a *Actions) Text(sel scenario.Selector) string {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	if els := a.page.elements[sel.Key()]; len(els) > 0 {
		return els[0].Text
	}
	return ""
}

// Log appends a console message.
func (a *Actions) Log(typ, text string) {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	a.page.console = append(a.page.console, engine.ConsoleMessage{Type: typ, Text: text})
}

// Value returns what was last filled into sel.
func (a *Actions) Value(sel scenario.Selector) string {
	a.page.c.eng.mu.Lock()
	defer a.page.c.eng.mu.Unlock()
	return a.page.values[sel.Key()]
}

// Page is a fake tab.
type Page struct {
	c        *Context
	url      string
	spec     PageSpec
	elements map[string][]*Element
	console  []engine.ConsoleMessage
	loadedAt time.Time
	viewport scenario.Viewport
	values   map[string]string
	pressed  []string
	closed   bool
}

func (p *Page) loadLocked(url string) {
	spec := p.c.eng.site[url]
	p.url = url
	p.spec = spec
	p.loadedAt = time.Now()
	p.elements = make(map[string][]*Element, len(spec.Elements))
	for key, els := range spec.Elements {
		for _, el := range els {
			cp := el
			p.elements[key] = append(p.elements[key], &cp)
		}
	}
	p.console = append(p.console, spec.Console...)
}

func (p *Page) Goto(ctx context.Context, url string, opts engine.GotoOptions) error {
	budget, err := engine.Budget(ctx, opts.Timeout)
	if err != nil {
		return err
	}
	eng := p.c.eng
	eng.mu.Lock()
	if p.closed {
		eng.mu.Unlock()
		return engine.ErrClosed
	}
	eng.gotos = append(eng.gotos, url)
	spec, ok := eng.site[url]
	eng.mu.Unlock()
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}

	if spec.LoadDelay > budget && budget < opts.Timeout {
		// Bounded by ctx rather than the navigation timeout.
		<-ctx.Done()
		return ctx.Err()
	}
	if spec.LoadDelay > 0 {
		wait := min(spec.LoadDelay, budget)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if spec.LoadDelay > budget {
			return fmt.Errorf("%w: navigating to %s", engine.ErrTimeout, url)
		}
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if p.closed {
		return engine.ErrClosed
	}
	p.loadLocked(url)
	return nil
}

func (p *Page) URL() string {
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	if p.closed {
		return "", engine.ErrClosed
	}
	return p.spec.Title, nil
}

func (p *Page) Locate(sel scenario.Selector) engine.Locator {
	return &Locator{page: p, sel: sel}
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.c.eng.mu.Lock()
	if p.closed {
		p.c.eng.mu.Unlock()
		return engine.ErrClosed
	}
	p.pressed = append(p.pressed, key)
	handler := p.spec.OnPress[key]
	p.c.eng.mu.Unlock()
	if handler != nil {
		handler(&Actions{page: p})
	}
	return nil
}

func (p *Page) SetViewport(ctx context.Context, vp scenario.Viewport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	p.viewport = vp
	return nil
}

func (p *Page) WaitForLoad(ctx context.Context, state scenario.LoadState, timeout time.Duration) error {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return err
	}
	p.c.eng.mu.Lock()
	never := p.spec.NeverLoads
	p.c.eng.mu.Unlock()
	if !never {
		return nil
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: waiting for %s", engine.ErrTimeout, state)
	}
}

func (p *Page) ConsoleMessages() []engine.ConsoleMessage {
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	return append([]engine.ConsoleMessage(nil), p.console...)
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	if p.closed {
		return nil, engine.ErrClosed
	}
	return []byte("png:" + p.url), nil
}

// Pressed returns the keys sent to the page.
func (p *Page) Pressed() []string {
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	return append([]string(nil), p.pressed...)
}

// Viewport returns the current page size.
func (p *Page) Viewport() scenario.Viewport {
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	return p.viewport
}

// Value returns what was last filled into sel.
func (p *Page) Value(sel scenario.Selector) string {
	p.c.eng.mu.Lock()
	defer p.c.eng.mu.Unlock()
	return p.values[sel.Key()]
}

// Locator is a fake element query.
type Locator struct {
	page *Page
	sel  scenario.Selector
}

// matchesLocked returns the present elements the selector picks.
func (l *Locator) matchesLocked() []*Element {
	var present []*Element
	since := time.Since(l.page.loadedAt)
	for _, el := range l.page.elements[l.sel.Key()] {
		if since >= el.AppearAfter {
			present = append(present, el)
		}
	}
	switch l.sel.Ordinal.Kind {
	case scenario.OrdinalFirst:
		if len(present) > 0 {
			return present[:1]
		}
		return nil
	case scenario.OrdinalLast:
		if len(present) > 0 {
			return present[len(present)-1:]
		}
		return nil
	case scenario.OrdinalNth:
		if i := l.sel.Ordinal.Index; i < len(present) {
			return present[i : i+1]
		}
		return nil
	}
	return present
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.page.c.eng.mu.Lock()
	defer l.page.c.eng.mu.Unlock()
	return len(l.matchesLocked()), nil
}

func (l *Locator) satisfiedLocked(state scenario.ElementState) bool {
	els := l.matchesLocked()
	var first *Element
	if len(els) > 0 {
		first = els[0]
	}
	switch state {
	case scenario.StateAttached:
		return first != nil
	case scenario.StateHidden:
		return first == nil || first.Hidden
	case scenario.StateDetached:
		return first == nil
	default:
		return first != nil && !first.Hidden
	}
}

func (l *Locator) WaitFor(ctx context.Context, state scenario.ElementState, timeout time.Duration) error {
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		l.page.c.eng.mu.Lock()
		closed := l.page.closed
		ok := l.satisfiedLocked(state)
		l.page.c.eng.mu.Unlock()
		switch {
		case closed:
			return engine.ErrClosed
		case ok:
			return nil
		case !time.Now().Before(deadline):
			return fmt.Errorf("%w: waiting for %s to be %s", engine.ErrTimeout, l.sel, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locator) Click(ctx context.Context, timeout time.Duration) error {
	if err := l.WaitFor(ctx, scenario.StateVisible, timeout); err != nil {
		return err
	}
	l.page.c.eng.mu.Lock()
	var handler func(*Actions)
	if els := l.matchesLocked(); len(els) > 0 {
		handler = els[0].OnClick
	}
	l.page.c.eng.mu.Unlock()
	if handler != nil {
		handler(&Actions{page: l.page})
	}
	return nil
}

func (l *Locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	if err := l.WaitFor(ctx, scenario.StateVisible, timeout); err != nil {
		return err
	}
	l.page.c.eng.mu.Lock()
	defer l.page.c.eng.mu.Unlock()
	l.page.values[l.sel.Key()] = value
	return nil
}

func (l *Locator) Text(ctx context.Context, timeout time.Duration) (string, error) {
	if err := l.WaitFor(ctx, scenario.StateAttached, timeout); err != nil {
		return "", err
	}
	l.page.c.eng.mu.Lock()
	defer l.page.c.eng.mu.Unlock()
	els := l.matchesLocked()
	if len(els) == 0 {
		return "", errors.New("element detached")
	}
	return els[0].Text, nil
}
