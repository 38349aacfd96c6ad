// Package report renders run summaries as Markdown and as a standalone,
// sanitized HTML page.
package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/scenario-suite/internal/suite"
)

const (
	MarkdownFile = "report.md"
	HTMLFile     = "report.html"
)

// Markdown renders the summary as a Markdown document: a headline, a
// results table and a detail section per failure.
func Markdown(sum *suite.Summary) string {
	var b strings.Builder
	passed, failed := sum.Counts()

	fmt.Fprintf(&b, "# Scenario run %s\n\n", sum.RunID)
	fmt.Fprintf(&b, "- Browser: %s\n", sum.Browser)
	fmt.Fprintf(&b, "- Started: %s\n", sum.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", sum.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Result: **%d passed, %d failed**\n\n", passed, failed)

	b.WriteString("| Scenario | Site | Status | Steps | Duration |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, o := range sum.Outcomes {
		status := string(o.Status)
		if o.Flaky {
			status += " (flaky)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d/%d | %s |\n",
			cell(o.Scenario), o.Site, status, o.StepsCompleted, o.StepsTotal, o.Duration.Round(time.Millisecond))
	}

	failures := sum.Failures()
	if len(failures) == 0 {
		return b.String()
	}
	b.WriteString("\n## Failures\n")
	for _, o := range failures {
		fmt.Fprintf(&b, "\n### %s\n\n", o.Scenario)
		fmt.Fprintf(&b, "- Code: `%s`\n", o.Code)
		if o.FailedStep > 0 {
			fmt.Fprintf(&b, "- Step %d: `%s`\n", o.FailedStep, inline(o.FailedStepDesc))
		}
		fmt.Fprintf(&b, "- Reason: %s\n", escape(o.Reason))
		if o.Expected != "" || o.Actual != "" {
			fmt.Fprintf(&b, "- Expected: `%s`\n", inline(o.Expected))
			fmt.Fprintf(&b, "- Actual: `%s`\n", inline(o.Actual))
		}
		if o.FinalURL != "" {
			fmt.Fprintf(&b, "- Final URL: <%s>\n", o.FinalURL)
		}
		if o.PreviousStatus != "" {
			fmt.Fprintf(&b, "- Previous run: %s\n", o.PreviousStatus)
		}
		for _, msg := range o.ConsoleErrors {
			fmt.Fprintf(&b, "- Console: `%s`\n", inline(msg))
		}
		for _, a := range o.Artifacts {
			fmt.Fprintf(&b, "- Artifact: [%s](%s)\n", filepath.Base(a), a)
		}
	}
	return b.String()
}

// Cell and inline code spans cannot carry pipes, backticks or newlines.
func cell(s string) string {
	return strings.ReplaceAll(escape(s), "|", `\|`)
}

func inline(s string) string {
	s = strings.ReplaceAll(s, "`", "'")
	return strings.Join(strings.Fields(s), " ")
}

var mdEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "\n", " ")

func escape(s string) string {
	return mdEscaper.Replace(s)
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.5; max-width: 960px; margin: 0 auto; padding: 2rem 1rem; }
        table { width: 100%; border-collapse: collapse; margin: 1em 0; }
        th, td { border: 1px solid #e0e0e0; padding: 0.4em 0.8em; text-align: left; }
        th { background: #f5f5f5; }
        code { background: #f5f5f5; padding: 0.1em 0.3em; border-radius: 3px; }
        body.failed h1 { color: #b00020; }
    </style>
</head>
<body class="{{.Class}}">
{{.Content}}
</body>
</html>`

var page = template.Must(template.New("report").Parse(pageTemplate))

type pageData struct {
	Title   string
	Class   string
	Content template.HTML
}

// HTML renders the summary's Markdown to a complete HTML document. The
// rendered body passes through bluemonday's UGC policy, since reasons and
// console messages come from third-party pages.
func HTML(sum *suite.Summary) ([]byte, error) {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(Markdown(sum)))
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank})
	body := bluemonday.UGCPolicy().SanitizeBytes(markdown.Render(doc, renderer))

	class := "passed"
	if !sum.OK() {
		class = "failed"
	}
	var buf bytes.Buffer
	err := page.Execute(&buf, pageData{
		Title:   "Scenario run " + sum.RunID,
		Class:   class,
		Content: template.HTML(body),
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

// FileSink writes report.md and report.html into Dir when a run finishes.
type FileSink struct {
	Dir string
}

func (f FileSink) Record(context.Context, *suite.Outcome) error { return nil }

func (f FileSink) Finish(_ context.Context, sum *suite.Summary) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.Dir, MarkdownFile), []byte(Markdown(sum)), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	html, err := HTML(sum)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(f.Dir, HTMLFile), html, 0o644); err != nil {
		return fmt.Errorf("write html report: %w", err)
	}
	return nil
}
