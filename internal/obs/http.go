package obs

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusWriter records the status and size of a response.
type StatusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
	wrote  bool
}

// NewStatusWriter wraps w. Flush passes through when w supports it.
func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *StatusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.wrote = true
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// Flush is a no-op when the underlying writer cannot flush.
func (w *StatusWriter) Flush() {
	_ = http.NewResponseController(w.ResponseWriter).Flush()
}

func (w *StatusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *StatusWriter) Status() int  { return w.status }
func (w *StatusWriter) Bytes() int64 { return w.bytes }
func (w *StatusWriter) Wrote() bool  { return w.wrote }

// RequestContext returns r's context carrying the caller's W3C trace
// context and the request correlation fields. The request id is the
// X-Request-Id header, else the trace id, else a generated id.
func RequestContext(r *http.Request) context.Context {
	ctx := propagation.TraceContext{}.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if requestID == "" {
		requestID = traceID
	}
	if requestID == "" {
		requestID = newRequestID()
	}
	return WithCorrelation(ctx, Correlation{
		RequestID:    requestID,
		TraceID:      traceID,
		MCPSessionID: strings.TrimSpace(r.Header.Get("Mcp-Session-Id")),
	})
}
