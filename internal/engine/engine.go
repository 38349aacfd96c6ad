// Package engine is the browser-automation boundary. The runner drives these
// interfaces; pwengine implements them with Playwright and enginetest with a
// scripted in-memory site.
//
// Blocking calls take a context and a timeout. Implementations stop at
// whichever comes first and report an expired timeout with ErrTimeout.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kuitang/scenario-suite/internal/scenario"
)

var (
	// ErrTimeout marks a wait that ran out of time before its condition held.
	ErrTimeout = errors.New("engine: timeout")
	// ErrClosed marks an operation on a page or context that has been closed.
	ErrClosed = errors.New("engine: target closed")
)

// Engine launches isolated browsing contexts on one browser.
type Engine interface {
	Name() string
	NewContext(ctx context.Context, opts ContextOptions) (BrowsingContext, error)
	Close() error
}

// ContextOptions configures a fresh browsing context.
type ContextOptions struct {
	Viewport          *scenario.Viewport
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
}

// BrowsingContext is an isolated session (cookies, storage, pages). Close is
// idempotent and closes every page the context opened.
type BrowsingContext interface {
	NewPage(ctx context.Context) (Page, error)
	// ExpectPage arms a listener for the next page this context opens. Arm it
	// before the action that opens the page so the event cannot be missed.
	ExpectPage() PageWaiter
	Close() error
}

// PageWaiter delivers the page announced after ExpectPage was armed.
type PageWaiter interface {
	Wait(ctx context.Context, timeout time.Duration) (Page, error)
}

// ConsoleMessage is one browser console entry. Type is the severity as the
// browser reports it ("log", "warning", "error", ...).
type ConsoleMessage struct {
	Type string
	Text string
}

// GotoOptions controls a navigation.
type GotoOptions struct {
	WaitUntil scenario.LoadState
	Timeout   time.Duration
}

// Page is one tab. Console messages are captured from the moment the page
// is created.
type Page interface {
	Goto(ctx context.Context, url string, opts GotoOptions) error
	URL() string
	Title(ctx context.Context) (string, error)
	Locate(sel scenario.Selector) Locator
	Press(ctx context.Context, key string) error
	SetViewport(ctx context.Context, vp scenario.Viewport) error
	WaitForLoad(ctx context.Context, state scenario.LoadState, timeout time.Duration) error
	ConsoleMessages() []ConsoleMessage
	Screenshot(ctx context.Context) ([]byte, error)
}

// Locator is a lazily evaluated element query. Wait and action methods act
// on the first match when the selector matches several; callers that need
// uniqueness check Count.
type Locator interface {
	Count(ctx context.Context) (int, error)
	WaitFor(ctx context.Context, state scenario.ElementState, timeout time.Duration) error
	Click(ctx context.Context, timeout time.Duration) error
	Fill(ctx context.Context, value string, timeout time.Duration) error
	Text(ctx context.Context, timeout time.Duration) (string, error)
}

// Budget returns the time left for a call bounded by both ctx and timeout.
// It returns ctx's error when ctx is already done and ErrTimeout when the
// deadline leaves no time.
func Budget(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if rem := time.Until(deadline); rem < timeout || timeout <= 0 {
			timeout = rem
		}
	}
	if timeout <= 0 {
		return 0, ErrTimeout
	}
	return timeout, nil
}

// ErrorMessages returns the text of error-severity messages.
func ErrorMessages(msgs []ConsoleMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.Type == "error" {
			out = append(out, m.Text)
		}
	}
	return out
}
