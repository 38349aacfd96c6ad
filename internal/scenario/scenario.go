// Package scenario defines browser scenarios: named, ordered lists of steps
// run against one target site in a fresh browsing context.
package scenario

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

// Site groups scenarios by the application they exercise.
type Site string

const (
	SiteDocs  Site = "docs"
	SiteShop  Site = "shop"
	SiteForms Site = "forms"
)

// Scenario is one independent browser session. Steps run in order against
// the page produced by the preceding navigation or click.
type Scenario struct {
	Name        string
	Site        Site
	Description string
	Tags        []string
	// Viewport sets the initial page size; nil keeps the engine default.
	Viewport *Viewport
	// Timeout bounds the whole scenario; zero uses the runner default.
	Timeout time.Duration
	Steps   []Step
}

// HasTag reports whether the scenario carries tag (case-insensitive).
func (s Scenario) HasTag(tag string) bool {
	return slices.ContainsFunc(s.Tags, func(t string) bool {
		return strings.EqualFold(t, tag)
	})
}

// Validate reports authoring mistakes. It never touches a browser.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("scenario has no name")
	}
	if s.Site == "" {
		return fmt.Errorf("scenario %q: no site", s.Name)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("scenario %q: negative timeout", s.Name)
	}
	if s.Viewport != nil && (s.Viewport.Width <= 0 || s.Viewport.Height <= 0) {
		return fmt.Errorf("scenario %q: viewport %dx%d is not a positive size", s.Name, s.Viewport.Width, s.Viewport.Height)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q: no steps", s.Name)
	}
	if s.Steps[0].Kind != StepNavigate {
		return &StepError{Scenario: s.Name, Step: 1, Err: fmt.Errorf("first step must be navigate, got %s", s.Steps[0].Kind)}
	}
	for i, step := range s.Steps {
		if err := step.Validate(); err != nil {
			return &StepError{Scenario: s.Name, Step: i + 1, Err: err}
		}
	}
	return nil
}

// StepError is a validation failure attributable to one step. Step is 1-based.
type StepError struct {
	Scenario string
	Step     int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("scenario %q step %d: %v", e.Scenario, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ValidateAll validates each scenario and rejects duplicate names.
func ValidateAll(scenarios []Scenario) error {
	var problems []error
	seen := make(map[string]bool, len(scenarios))
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			problems = append(problems, err)
		}
		if seen[s.Name] {
			problems = append(problems, fmt.Errorf("duplicate scenario name %q", s.Name))
		}
		seen[s.Name] = true
	}
	return errors.Join(problems...)
}

// Filter keeps scenarios whose name matches the glob pattern (empty matches
// everything) and, when tag is set, that carry the tag. A pattern without
// glob metacharacters matches names containing it, case-insensitively.
func Filter(scenarios []Scenario, pattern, tag string) ([]Scenario, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("bad scenario pattern %q: %w", pattern, err)
		}
	}
	var out []Scenario
	for _, s := range scenarios {
		if tag != "" && !s.HasTag(tag) {
			continue
		}
		if pattern != "" && !nameMatches(pattern, s.Name) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func nameMatches(pattern, name string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
	}
	ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	return ok
}
