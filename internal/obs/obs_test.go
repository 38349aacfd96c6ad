package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func TestWithCorrelation_MergesFields(t *testing.T) {
	ctx := WithRun(context.Background(), " run-1 ")
	ctx = WithScenario(ctx, "shop-logout", "shop")
	ctx = WithCorrelation(ctx, Correlation{RequestID: "req-1"})

	corr := CorrelationFromContext(ctx)
	if corr.RunID != "run-1" || corr.Scenario != "shop-logout" || corr.Site != "shop" || corr.RequestID != "req-1" {
		t.Fatalf("correlation = %+v", corr)
	}
	if got := RunIDFromContext(context.Background()); got != "unknown" {
		t.Fatalf("RunIDFromContext(empty) = %q", got)
	}
}

func TestFrom_AddsCorrelationAttrs(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithScenario(WithRun(context.Background(), "run-7"), "docs-has-title", "docs")
	From(ctx).Info("scenario_started")
	Pkg("suite").Info("plain")

	lines := decodeLogLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0]["run_id"] != "run-7" || lines[0]["scenario"] != "docs-has-title" || lines[0]["site"] != "docs" {
		t.Fatalf("missing correlation: %v", lines[0])
	}
	if lines[1]["pkg"] != "suite" {
		t.Fatalf("missing pkg: %v", lines[1])
	}
	if _, ok := lines[1]["run_id"]; ok {
		t.Fatalf("unexpected run_id: %v", lines[1])
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "chatty": "INFO"} {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRequestContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set("Mcp-Session-Id", "sess-1")
	ctx := RequestContext(req)

	got := CorrelationFromContext(ctx)
	if got.RequestID != "4bf92f3577b34da6a3ce929d0e0e4736" || got.TraceID != got.RequestID || got.MCPSessionID != "sess-1" {
		t.Fatalf("correlation = %+v", got)
	}
	if sc := trace.SpanContextFromContext(ctx); !sc.IsRemote() || sc.SpanID().String() != "00f067aa0ba902b7" {
		t.Fatalf("remote span context not extracted: %+v", sc)
	}

	got = CorrelationFromContext(RequestContext(httptest.NewRequest(http.MethodGet, "/mcp", nil)))
	if !strings.HasPrefix(got.RequestID, "req-") || got.TraceID != "" {
		t.Fatalf("generated correlation = %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	req.Header.Set("traceparent", "00-00000000000000000000000000000000-00f067aa0ba902b7-01")
	got = CorrelationFromContext(RequestContext(req))
	if got.RequestID != "caller-id" || got.TraceID != "" {
		t.Fatalf("caller request id not kept or zero trace accepted: %+v", got)
	}
}

func TestStatusWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewStatusWriter(rec)
	if w.Wrote() {
		t.Fatal("header reported written before any write")
	}
	w.WriteHeader(http.StatusAccepted)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte("queued"))
	w.Flush()

	if w.Status() != http.StatusAccepted || rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d/%d, want first WriteHeader to win", w.Status(), rec.Code)
	}
	if w.Bytes() != int64(len("queued")) || !rec.Flushed {
		t.Fatalf("bytes = %d flushed = %v", w.Bytes(), rec.Flushed)
	}
	var _ http.Flusher = w
}
