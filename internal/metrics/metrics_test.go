package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/scenario-suite/internal/errs"
	"github.com/kuitang/scenario-suite/internal/suite"
)

func TestRecord_CountsOutcomes(t *testing.T) {
	m := New("")
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, &suite.Outcome{Scenario: "a", Site: "shop", Browser: "chromium", Status: suite.StatusPass, Duration: time.Second}))
	require.NoError(t, m.Record(ctx, &suite.Outcome{Scenario: "b", Site: "shop", Browser: "chromium", Status: suite.StatusPass, Duration: time.Second}))
	require.NoError(t, m.Record(ctx, &suite.Outcome{
		Scenario: "c", Site: "docs", Browser: "chromium", Status: suite.StatusFail,
		Code: errs.UnexpectedConsoleError, ConsoleErrors: []string{"x", "y"}, Flaky: true,
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("shop", "pass", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("docs", "fail", "unexpected_console_error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsoleErrors.WithLabelValues("docs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flaky.WithLabelValues("c")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastStatus.WithLabelValues("c", "chromium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastStatus.WithLabelValues("a", "chromium")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Duration))
}

func TestFinish_WritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.prom")
	m := New(path)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, &suite.Outcome{Scenario: "a", Site: "forms", Browser: "chromium", Status: suite.StatusFail, Code: errs.ElementNotFound}))
	sum := &suite.Summary{
		StartedAt: time.Unix(1_700_000_000, 0),
		Duration:  30 * time.Second,
		Outcomes:  []suite.Outcome{{Status: suite.StatusFail}, {Status: suite.StatusPass}},
	}
	require.NoError(t, m.Finish(ctx, sum))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunFailures))
	assert.Equal(t, 1_700_000_030.0, testutil.ToFloat64(m.RunTimestamp))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `scenario_outcomes_total{code="element_not_found",site="forms",status="fail"} 1`)
	assert.Contains(t, text, "scenario_run_duration_seconds 30")
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New("")
	require.NoError(t, m.Record(context.Background(), &suite.Outcome{Scenario: "a", Site: "shop", Browser: "chromium", Status: suite.StatusPass}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `scenario_last_passed{browser="chromium",scenario="a"} 1`))
}
