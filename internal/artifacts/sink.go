package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/kuitang/scenario-suite/internal/obs"
	"github.com/kuitang/scenario-suite/internal/report"
	"github.com/kuitang/scenario-suite/internal/suite"
)

// Store is the object storage the sink writes to. *Client satisfies it.
type Store interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	PublicURL(key string) string
}

// Sink uploads a screenshot for every failed outcome that carries one, and
// the rendered report plus a JSON summary when the run finishes.
type Sink struct {
	store  Store
	prefix string
}

// NewSink writes objects under prefix/<run id>/. An empty prefix means "runs".
func NewSink(store Store, prefix string) *Sink {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "runs"
	}
	return &Sink{store: store, prefix: prefix}
}

// Key returns the object key for a file belonging to a run.
func (s *Sink) Key(runID, name string) string {
	return path.Join(s.prefix, safeName(runID), name)
}

func (s *Sink) Record(ctx context.Context, o *suite.Outcome) error {
	if o.Passed() || len(o.Screenshot) == 0 {
		return nil
	}
	key := s.Key(o.RunID, safeName(o.Scenario)+".png")
	if err := s.store.PutObject(ctx, key, o.Screenshot, "image/png"); err != nil {
		return err
	}
	o.Artifacts = append(o.Artifacts, s.store.PublicURL(key))
	obs.From(ctx).Info("artifact_uploaded", "key", key, "bytes", len(o.Screenshot))
	return nil
}

func (s *Sink) Finish(ctx context.Context, sum *suite.Summary) error {
	summaryJSON, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := s.store.PutObject(ctx, s.Key(sum.RunID, "summary.json"), summaryJSON, "application/json"); err != nil {
		return err
	}
	if err := s.store.PutObject(ctx, s.Key(sum.RunID, report.MarkdownFile), []byte(report.Markdown(sum)), "text/markdown; charset=utf-8"); err != nil {
		return err
	}
	html, err := report.HTML(sum)
	if err != nil {
		return err
	}
	htmlKey := s.Key(sum.RunID, report.HTMLFile)
	if err := s.store.PutObject(ctx, htmlKey, html, "text/html; charset=utf-8"); err != nil {
		return err
	}
	sum.ReportURL = s.store.PublicURL(htmlKey)
	obs.From(ctx).Info("report_uploaded", "url", sum.ReportURL)
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		return "unnamed"
	}
	return s
}
