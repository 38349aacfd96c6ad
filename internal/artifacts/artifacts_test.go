package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/scenario-suite/internal/errs"
	"github.com/kuitang/scenario-suite/internal/suite"
)

func TestClient_PutGetList(t *testing.T) {
	c := TestClient(t, "artifacts")
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "runs/r1/a.png", []byte("png-bytes"), "image/png"))
	require.NoError(t, c.PutObject(ctx, "runs/r1/b.png", []byte("more"), "image/png"))
	require.NoError(t, c.PutObject(ctx, "runs/r2/a.png", []byte("other"), "image/png"))

	got, err := c.GetObject(ctx, "runs/r1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(got))

	keys, err := c.ListKeys(ctx, "runs/r1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"runs/r1/a.png", "runs/r1/b.png"}, keys)

	_, err = c.GetObject(ctx, "runs/missing.png")
	assert.True(t, errors.Is(err, ErrObjectNotFound), "err = %v", err)
}

func TestClient_PublicURLServesObject(t *testing.T) {
	c := TestClient(t, "artifacts")
	ctx := context.Background()
	require.NoError(t, c.PutObject(ctx, "runs/r1/report.html", []byte("<h1>ok</h1>"), "text/html"))

	url := c.PublicURL("/runs/r1/report.html")
	assert.True(t, strings.HasSuffix(url, "/artifacts/runs/r1/report.html"), url)

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>ok</h1>", string(body))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "auto"})
	assert.Error(t, err)
}

func failedOutcome() *suite.Outcome {
	return &suite.Outcome{
		RunID:      "run-1",
		Scenario:   "shop-cart-two-items",
		Site:       "shop",
		Status:     suite.StatusFail,
		Code:       errs.AssertionMismatch,
		Reason:     "badge text mismatch",
		Screenshot: []byte("\x89PNG fake"),
	}
}

func TestSink_UploadsFailureScreenshot(t *testing.T) {
	c := TestClient(t, "artifacts")
	sink := NewSink(c, "")
	ctx := context.Background()

	o := failedOutcome()
	require.NoError(t, sink.Record(ctx, o))
	require.Len(t, o.Artifacts, 1)
	assert.Equal(t, c.PublicURL("runs/run-1/shop-cart-two-items.png"), o.Artifacts[0])

	got, err := c.GetObject(ctx, "runs/run-1/shop-cart-two-items.png")
	require.NoError(t, err)
	assert.Equal(t, o.Screenshot, got)
}

func TestSink_SkipsPassesAndMissingScreenshots(t *testing.T) {
	c := TestClient(t, "artifacts")
	sink := NewSink(c, "ci")
	ctx := context.Background()

	pass := &suite.Outcome{RunID: "run-1", Scenario: "a", Status: suite.StatusPass, Screenshot: []byte("x")}
	noShot := failedOutcome()
	noShot.Screenshot = nil
	require.NoError(t, sink.Record(ctx, pass))
	require.NoError(t, sink.Record(ctx, noShot))
	assert.Empty(t, pass.Artifacts)
	assert.Empty(t, noShot.Artifacts)

	keys, err := c.ListKeys(ctx, "ci/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSink_FinishUploadsReport(t *testing.T) {
	c := TestClient(t, "artifacts")
	sink := NewSink(c, "runs")
	ctx := context.Background()

	sum := &suite.Summary{
		RunID:     "run-1",
		Browser:   "chromium",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Outcomes:  []suite.Outcome{*failedOutcome()},
	}
	require.NoError(t, sink.Finish(ctx, sum))
	assert.Equal(t, c.PublicURL("runs/run-1/report.html"), sum.ReportURL)

	keys, err := c.ListKeys(ctx, "runs/run-1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"runs/run-1/summary.json", "runs/run-1/report.md", "runs/run-1/report.html"}, keys)

	raw, err := c.GetObject(ctx, "runs/run-1/summary.json")
	require.NoError(t, err)
	var decoded suite.Summary
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Outcomes, 1)
	assert.Equal(t, "shop-cart-two-items", decoded.Outcomes[0].Scenario)
	assert.Nil(t, decoded.Outcomes[0].Screenshot)
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"shop-valid-login":   "shop-valid-login",
		"docs / has title":   "docs-has-title",
		"../../etc/passwd":   "etc-passwd",
		"":                   "unnamed",
		"Ünïcode name.v2":    "n-code-name.v2",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}
