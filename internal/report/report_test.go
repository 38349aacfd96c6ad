package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/scenario-suite/internal/errs"
	"github.com/kuitang/scenario-suite/internal/suite"
)

func sampleSummary() *suite.Summary {
	return &suite.Summary{
		RunID:     "run-1",
		Browser:   "chromium",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:  12 * time.Second,
		Outcomes: []suite.Outcome{
			{Scenario: "shop-valid-login", Site: "shop", Status: suite.StatusPass, StepsCompleted: 5, StepsTotal: 5, Duration: 2 * time.Second},
			{
				Scenario:       "shop-cart-two-items",
				Site:           "shop",
				Status:         suite.StatusFail,
				Code:           errs.AssertionMismatch,
				Reason:         "text of css=.shopping_cart_badge does not match",
				Expected:       "2",
				Actual:         "1",
				FailedStep:     7,
				FailedStepDesc: "expect_text css=.shopping_cart_badge 2",
				StepsCompleted: 6,
				StepsTotal:     7,
				FinalURL:       "https://www.saucedemo.com/inventory.html",
				Flaky:          true,
				PreviousStatus: suite.StatusPass,
				ConsoleErrors:  []string{"<script>alert(1)</script>"},
				Artifacts:      []string{"https://artifacts.example.com/runs/run-1/shop-cart-two-items.png"},
				Duration:       3 * time.Second,
			},
		},
	}
}

func TestMarkdown_Summary(t *testing.T) {
	t.Parallel()
	md := Markdown(sampleSummary())

	assert.Contains(t, md, "# Scenario run run-1")
	assert.Contains(t, md, "**1 passed, 1 failed**")
	assert.Contains(t, md, "| shop-valid-login | shop | pass | 5/5 | 2s |")
	assert.Contains(t, md, "| shop-cart-two-items | shop | fail (flaky) | 6/7 | 3s |")
	assert.Contains(t, md, "- Code: `assertion_mismatch`")
	assert.Contains(t, md, "- Step 7: `expect_text css=.shopping_cart_badge 2`")
	assert.Contains(t, md, "- Expected: `2`")
	assert.Contains(t, md, "- Actual: `1`")
	assert.Contains(t, md, "- Previous run: pass")
	assert.Contains(t, md, "[shop-cart-two-items.png](https://artifacts.example.com/runs/run-1/shop-cart-two-items.png)")
}

func TestMarkdown_AllPassedHasNoFailureSection(t *testing.T) {
	t.Parallel()
	sum := sampleSummary()
	sum.Outcomes = sum.Outcomes[:1]
	assert.NotContains(t, Markdown(sum), "## Failures")
}

func TestMarkdown_EscapesTableCells(t *testing.T) {
	t.Parallel()
	sum := &suite.Summary{RunID: "r", Outcomes: []suite.Outcome{{Scenario: "a|b", Status: suite.StatusPass}}}
	assert.Contains(t, Markdown(sum), `| a\|b |`)
}

func TestHTML_SanitizesPageContent(t *testing.T) {
	t.Parallel()
	out, err := HTML(sampleSummary())
	require.NoError(t, err)
	html := string(out)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, `<body class="failed">`)
	assert.Contains(t, html, "<table>")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, `href="https://artifacts.example.com/runs/run-1/shop-cart-two-items.png"`)
}

func TestFileSink_WritesBothFormats(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "reports")
	sink := FileSink{Dir: dir}

	require.NoError(t, sink.Record(context.Background(), &suite.Outcome{}))
	require.NoError(t, sink.Finish(context.Background(), sampleSummary()))

	md, err := os.ReadFile(filepath.Join(dir, MarkdownFile))
	require.NoError(t, err)
	assert.Contains(t, string(md), "shop-cart-two-items")

	html, err := os.ReadFile(filepath.Join(dir, HTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(html), "Scenario run run-1")
}
