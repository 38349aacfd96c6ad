package mcp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/scenario-suite/internal/obs"
)

func TestServeHTTP_Options(t *testing.T) {
	t.Parallel()
	s := NewServer(NewHandler(testScenarios(), &fakeRunner{}, nil), "test")

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/mcp", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Mcp-Session-Id")
}

func TestServeHTTP_RecoversPanic(t *testing.T) {
	t.Parallel()
	s := &Server{httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestServeHTTP_NoResponseWritten(t *testing.T) {
	t.Parallel()
	s := &Server{httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "without writing response")
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// postRPC sends one JSON-RPC request and decodes the reply, accepting either
// a JSON body or a single SSE data frame.
func postRPC(t *testing.T, url, body string) rpcResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", raw)

	payload := strings.TrimSpace(string(raw))
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		for _, line := range strings.Split(payload, "\n") {
			if strings.HasPrefix(line, "data:") {
				payload = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				break
			}
		}
	}
	var out rpcResponse
	require.NoError(t, json.Unmarshal([]byte(payload), &out), "payload: %s", payload)
	require.Nil(t, out.Error)
	return out
}

func TestServer_ToolsOverHTTP(t *testing.T) {
	t.Parallel()
	s := NewServer(NewHandler(testScenarios(), &fakeRunner{}, &fakeHistory{}), "test")
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	var list struct {
		Tools []struct {
			Name        string          `json:"name"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.InputSchema, "tool %s has no input schema", tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{ToolScenarioHistory, ToolScenarioList, ToolScenarioRun}, names)

	resp = postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"scenario_list","arguments":{"pattern":"shop-*"}}}`)
	var call struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &call))
	require.False(t, call.IsError)
	require.Len(t, call.Content, 1)
	var infos []ScenarioInfo
	require.NoError(t, json.Unmarshal([]byte(call.Content[0].Text), &infos))
	assert.Len(t, infos, 2)
}

func TestServer_HidesHistoryWithoutStore(t *testing.T) {
	t.Parallel()
	s := NewServer(NewHandler(testScenarios(), &fakeRunner{}, nil), "test")
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	assert.NotContains(t, string(resp.Result), ToolScenarioHistory)
}

func TestServer_TagsRunRequestsWithToolAndRunID(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	runner := &fakeRunner{}
	s := NewServer(NewHandler(testScenarios(), runner, nil), "test")
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"scenario_run","arguments":{"pattern":"docs-*"}}}`)

	runner.mu.Lock()
	require.Len(t, runner.runIDs, 1)
	runID := runner.runIDs[0]
	runner.mu.Unlock()
	require.NotEmpty(t, runID, "run id should be assigned before the runner starts")

	var logged map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if json.Unmarshal([]byte(line), &m) == nil && m["msg"] == "mcp_request" {
			logged = m
		}
	}
	require.NotNil(t, logged, "no mcp_request line in %s", buf.String())
	assert.Equal(t, "tools/call", logged["rpc_method"])
	assert.Equal(t, ToolScenarioRun, logged["tool"])
	assert.Equal(t, runID, logged["run_id"])
	assert.NotEmpty(t, logged["request_id"])
	assert.Equal(t, float64(http.StatusOK), logged["status"])
}

func TestPeekCall_RestoresBody(t *testing.T) {
	t.Parallel()
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"scenario_list"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))

	call := peekCall(req)
	assert.Equal(t, "tools/call", call.Method)
	assert.Equal(t, ToolScenarioList, call.Params.Name)
	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rest))

	big := `{"method":"tools/call","pad":"` + strings.Repeat("x", maxPeek) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(big))
	assert.Empty(t, peekCall(req).Method)
	rest, err = io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, len(big), len(rest))
}
