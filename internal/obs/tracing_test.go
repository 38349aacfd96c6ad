package obs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTracing_ExportsSpansAndCorrelates(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracing("scenario-suite-test", "v0", &buf)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "scenario shop-logout", AttrScenario.String("shop-logout"))
	if CorrelationFromContext(ctx).TraceID == "" {
		t.Fatal("span trace id not copied into correlation")
	}
	EndSpan(span, errors.New("element not found"))

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"scenario shop-logout", "suite.scenario.name", "element not found"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestTracerProvider_NilShutdown(t *testing.T) {
	var tp *TracerProvider
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil Shutdown: %v", err)
	}
}
