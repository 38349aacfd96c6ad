package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/scenario-suite/internal/catalog"
	"github.com/kuitang/scenario-suite/internal/config"
	"github.com/kuitang/scenario-suite/internal/ratelimit"
)

func TestMountMCPRoute_RegistersStreamableMethods(t *testing.T) {
	mux := http.NewServeMux()
	callCount := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusNoContent)
	})

	mountMCPRoute(mux, "/mcp", handler)

	methods := []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	for _, method := range methods {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected %s /mcp to reach handler with 204, got %d", method, rec.Code)
		}
	}
	if callCount != len(methods) {
		t.Fatalf("expected handler call count %d, got %d", len(methods), callCount)
	}
}

func TestRun_ListDoesNotNeedABrowser(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"-list", "-run", "shop-*"}, &out, io.Discard)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1+len(catalog.Shop()))
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out.String(), "shop-valid-login")
	assert.NotContains(t, out.String(), "docs-has-title")
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"-nope"}},
		{name: "bad pattern", args: []string{"-list", "-run", "["}},
		{name: "no match", args: []string{"-run", "does-not-exist"}},
		{name: "bad browser", args: []string{"-list", "-browser", "lynx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 2, run(context.Background(), tt.args, io.Discard, io.Discard))
		})
	}
}

func TestLoadScenarios_MergesDirectory(t *testing.T) {
	dir := t.TempDir()
	yaml := "scenarios:\n  - name: forms-extra\n    site: forms\n    steps:\n      - navigate: " + catalog.FormsURL + "\n      - expect_title: {exact: Web form}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(yaml), 0o644))

	all, err := loadScenarios(dir)
	require.NoError(t, err)
	assert.Len(t, all, len(catalog.All())+1)
	assert.Equal(t, "forms-extra", all[len(all)-1].Name)
}

func TestLoadScenarios_RejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	yaml := "scenarios:\n  - name: forms-title\n    site: forms\n    steps:\n      - navigate: " + catalog.FormsURL + "\n      - expect_title: {exact: Web form}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.yaml"), []byte(yaml), 0o644))

	_, err := loadScenarios(dir)
	require.Error(t, err)
}

func TestBuildSinks_MockedStack(t *testing.T) {
	t.Setenv("MOCK_EMAIL_OUTBOX_DIR", t.TempDir())
	cfg := &config.Config{
		Browser:           "chromium",
		DefaultTimeout:    time.Second,
		NavigationTimeout: time.Second,
		ScenarioTimeout:   time.Minute,
		Parallelism:       1,
		RateLimit:         ratelimit.DefaultConfig,
		NoEmail:           true,
		NoS3:              true,
		NotifyTo:          []string{"qa@example.com"},
		ReportDir:         t.TempDir(),
		ResultsDBPath:     filepath.Join(t.TempDir(), "runs.db"),
		ResultsDBKey:      bytes.Repeat([]byte{7}, 32),
	}
	require.NoError(t, cfg.Validate())

	set, err := buildSinks(context.Background(), cfg)
	require.NoError(t, err)
	defer set.Close()

	// artifacts, history, report, notify, metrics
	assert.Len(t, set.list, 5)
	assert.NotNil(t, set.history)
	assert.NotNil(t, set.metrics)
}

func TestBuildSinks_MetricsOnlyByDefault(t *testing.T) {
	set, err := buildSinks(context.Background(), &config.Config{})
	require.NoError(t, err)
	defer set.Close()

	assert.Len(t, set.list, 1)
	assert.Nil(t, set.history)
}
