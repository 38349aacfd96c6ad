package scenario

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// StepKind names the action or assertion a step performs.
type StepKind string

const (
	StepNavigate              StepKind = "navigate"
	StepClick                 StepKind = "click"
	StepFill                  StepKind = "fill"
	StepPress                 StepKind = "press"
	StepSetViewport           StepKind = "set_viewport"
	StepWaitFor               StepKind = "wait_for"
	StepWaitForLoad           StepKind = "wait_for_load"
	StepClickOpensPage        StepKind = "click_opens_page"
	StepExpectTitle           StepKind = "expect_title"
	StepExpectURL             StepKind = "expect_url"
	StepExpectVisible         StepKind = "expect_visible"
	StepExpectHidden          StepKind = "expect_hidden"
	StepExpectText            StepKind = "expect_text"
	StepExpectCount           StepKind = "expect_count"
	StepExpectNoConsoleErrors StepKind = "expect_no_console_errors"
)

// ElementState is the condition a wait_for step waits on.
type ElementState string

const (
	StateVisible  ElementState = "visible"
	StateAttached ElementState = "attached"
	StateHidden   ElementState = "hidden"
	StateDetached ElementState = "detached"
)

// LoadState is a document lifecycle milestone.
type LoadState string

const (
	LoadCommit           LoadState = "commit"
	LoadDOMContentLoaded LoadState = "domcontentloaded"
	LoadLoad             LoadState = "load"
	LoadNetworkIdle      LoadState = "networkidle"
)

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Step is one action or assertion. Only the fields relevant to Kind are set.
type Step struct {
	Kind     StepKind
	URL      string
	Selector Selector
	State    ElementState
	Load     LoadState
	Value    string
	Key      string
	Viewport Viewport
	Match    Match
	Count    int
	// Timeout overrides the runner's default wait for this step.
	Timeout time.Duration
}

// Navigate loads url in the current page and waits for the DOM.
func Navigate(rawURL string) Step {
	return Step{Kind: StepNavigate, URL: rawURL, Load: LoadDOMContentLoaded}
}

func Click(sel Selector) Step {
	return Step{Kind: StepClick, Selector: sel}
}

func Fill(sel Selector, value string) Step {
	return Step{Kind: StepFill, Selector: sel, Value: value}
}

// Press sends a key (e.g. "Enter") to the focused element.
func Press(key string) Step {
	return Step{Kind: StepPress, Key: key}
}

func SetViewport(width, height int) Step {
	return Step{Kind: StepSetViewport, Viewport: Viewport{Width: width, Height: height}}
}

func WaitFor(sel Selector, state ElementState) Step {
	return Step{Kind: StepWaitFor, Selector: sel, State: state}
}

func WaitForLoad(state LoadState) Step {
	return Step{Kind: StepWaitForLoad, Load: state}
}

// ClickOpensPage clicks sel and switches the scenario to the page the click
// opens, once that page has loaded.
func ClickOpensPage(sel Selector) Step {
	return Step{Kind: StepClickOpensPage, Selector: sel}
}

func ExpectTitle(m Match) Step {
	return Step{Kind: StepExpectTitle, Match: m}
}

func ExpectURL(m Match) Step {
	return Step{Kind: StepExpectURL, Match: m}
}

func ExpectVisible(sel Selector) Step {
	return Step{Kind: StepExpectVisible, Selector: sel}
}

// ExpectHidden passes when sel is absent or not visible.
func ExpectHidden(sel Selector) Step {
	return Step{Kind: StepExpectHidden, Selector: sel}
}

// ExpectText compares the element's whitespace-normalized text content.
func ExpectText(sel Selector, m Match) Step {
	return Step{Kind: StepExpectText, Selector: sel, Match: m}
}

func ExpectCount(sel Selector, n int) Step {
	return Step{Kind: StepExpectCount, Selector: sel, Count: n}
}

// ExpectNoConsoleErrors fails if any page opened by the scenario logged a
// console message of severity error.
func ExpectNoConsoleErrors() Step {
	return Step{Kind: StepExpectNoConsoleErrors}
}

// Within returns a copy of the step with its own wait timeout.
func (s Step) Within(d time.Duration) Step {
	s.Timeout = d
	return s
}

// UntilLoad returns a navigate step that waits for the given load state.
func (s Step) UntilLoad(state LoadState) Step {
	s.Load = state
	return s
}

// IsAssertion reports whether the kind checks page state rather than acting on it.
func (k StepKind) IsAssertion() bool {
	switch k {
	case StepExpectTitle, StepExpectURL, StepExpectVisible, StepExpectHidden,
		StepExpectText, StepExpectCount, StepExpectNoConsoleErrors:
		return true
	}
	return false
}

func (s Step) usesSelector() bool {
	switch s.Kind {
	case StepClick, StepFill, StepWaitFor, StepClickOpensPage,
		StepExpectVisible, StepExpectHidden, StepExpectText, StepExpectCount:
		return true
	}
	return false
}

func (s Step) usesMatch() bool {
	switch s.Kind {
	case StepExpectTitle, StepExpectURL, StepExpectText:
		return true
	}
	return false
}

// Describe renders the step for logs and failure reports. Fill values are
// left out; callers redact them separately.
func (s Step) Describe() string {
	switch s.Kind {
	case StepNavigate:
		return "navigate " + s.URL
	case StepFill:
		return "fill " + s.Selector.String()
	case StepPress:
		return "press " + s.Key
	case StepSetViewport:
		return fmt.Sprintf("set_viewport %dx%d", s.Viewport.Width, s.Viewport.Height)
	case StepWaitFor:
		return fmt.Sprintf("wait_for %s %s", s.Selector, s.State)
	case StepWaitForLoad:
		return "wait_for_load " + string(s.Load)
	case StepExpectTitle, StepExpectURL:
		return fmt.Sprintf("%s %s", s.Kind, s.Match)
	case StepExpectText:
		return fmt.Sprintf("expect_text %s %s", s.Selector, s.Match)
	case StepExpectCount:
		return fmt.Sprintf("expect_count %s %d", s.Selector, s.Count)
	case StepExpectNoConsoleErrors:
		return string(s.Kind)
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Selector)
	}
}

// Validate reports authoring mistakes in a single step.
func (s Step) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("%s: negative timeout", s.Kind)
	}
	if s.usesSelector() {
		if err := s.Selector.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Kind, err)
		}
	}
	if s.usesMatch() {
		if err := s.Match.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.Kind, err)
		}
	}
	switch s.Kind {
	case StepNavigate:
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("navigate: %q is not an absolute http(s) URL", s.URL)
		}
		if err := validLoad(s.Load); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
	case StepPress:
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("press: empty key")
		}
	case StepSetViewport:
		if s.Viewport.Width <= 0 || s.Viewport.Height <= 0 {
			return fmt.Errorf("set_viewport: %dx%d is not a positive size", s.Viewport.Width, s.Viewport.Height)
		}
	case StepWaitFor:
		switch s.State {
		case StateVisible, StateAttached, StateHidden, StateDetached:
		default:
			return fmt.Errorf("wait_for: unknown state %q", s.State)
		}
	case StepWaitForLoad:
		if err := validLoad(s.Load); err != nil {
			return fmt.Errorf("wait_for_load: %w", err)
		}
	case StepExpectCount:
		if s.Count < 0 {
			return fmt.Errorf("expect_count: negative count %d", s.Count)
		}
	case StepClick, StepFill, StepClickOpensPage, StepExpectTitle, StepExpectURL,
		StepExpectVisible, StepExpectHidden, StepExpectText, StepExpectNoConsoleErrors:
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

func validLoad(state LoadState) error {
	switch state {
	case LoadCommit, LoadDOMContentLoaded, LoadLoad, LoadNetworkIdle:
		return nil
	}
	return fmt.Errorf("unknown load state %q", state)
}
