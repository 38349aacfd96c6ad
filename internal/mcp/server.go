// Package mcp exposes the scenario suite as MCP tools over the Streamable
// HTTP transport.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/scenario-suite/internal/obs"
)

// Server wraps the MCP server and its HTTP transport.
type Server struct {
	mcpServer   *mcp.Server
	handler     *Handler
	httpHandler http.Handler
}

// NewServer registers the scenario tools on a new MCP server.
func NewServer(handler *Handler, version string) *Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "scenario-suite",
			Version: version,
		},
		nil,
	)

	mcp.AddTool(mcpServer, listTool(), handler.List)
	mcp.AddTool(mcpServer, runTool(), handler.Run)
	if handler.history != nil {
		mcp.AddTool(mcpServer, historyTool(), handler.History)
	}

	httpHandler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{
			// Plain JSON responses; clients without SSE support can call tools.
			JSONResponse: true,
			// Each request stands alone, so there is no initialize handshake to track.
			Stateless: true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		handler:     handler,
		httpHandler: httpHandler,
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	start := time.Now()
	call := peekCall(r)
	ctx := obs.RequestContext(r)
	if call.Method == "tools/call" && call.Params.Name == ToolScenarioRun {
		// The runner keeps a run id it finds in ctx, so the request log and
		// every scenario log line share it.
		ctx = obs.WithRun(ctx, uuid.NewString())
	}
	r = r.WithContext(ctx)
	w.Header().Set("X-Request-Id", obs.CorrelationFromContext(ctx).RequestID)

	sw := obs.NewStatusWriter(w)
	defer func() {
		if rec := recover(); rec != nil {
			obs.From(ctx).Error("mcp_handler_panic", "panic", fmt.Sprint(rec), "method", r.Method, "path", r.URL.Path)
			if !sw.Wrote() {
				http.Error(sw, "Internal server error", http.StatusInternalServerError)
			}
		} else if !sw.Wrote() {
			obs.From(ctx).Error("mcp_handler_no_response", "method", r.Method, "path", r.URL.Path)
			http.Error(sw, "MCP handler returned without writing response", http.StatusInternalServerError)
		}
		logRequest(ctx, r, call, sw, time.Since(start))
	}()
	s.httpHandler.ServeHTTP(sw, r)
}

// maxPeek bounds how much of a request body is buffered to read its
// JSON-RPC method. Larger bodies are still served, just logged untagged.
const maxPeek = 64 << 10

type rpcCall struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// peekCall reads the JSON-RPC method and tool name from r's body and
// restores the body for the transport.
func peekCall(r *http.Request) rpcCall {
	var call rpcCall
	if r.Method != http.MethodPost || r.Body == nil {
		return call
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxPeek))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	if err != nil || len(head) == maxPeek {
		return call
	}
	_ = json.Unmarshal(head, &call)
	return call
}

type readCloser struct {
	io.Reader
	io.Closer
}

func logRequest(ctx context.Context, r *http.Request, call rpcCall, sw *obs.StatusWriter, dur time.Duration) {
	attrs := []any{
		"method", r.Method,
		"status", sw.Status(),
		"dur_ms", float64(dur.Microseconds()) / 1000.0,
		"resp_bytes", sw.Bytes(),
	}
	if call.Method != "" {
		attrs = append(attrs, "rpc_method", call.Method)
	}
	if call.Params.Name != "" {
		attrs = append(attrs, "tool", call.Params.Name)
	}
	logger := obs.From(ctx).With("pkg", "mcp")
	if call.Method == "tools/call" {
		logger.Info("mcp_request", attrs...)
		return
	}
	logger.Debug("mcp_request", attrs...)
}
