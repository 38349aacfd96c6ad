package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/scenario-suite/internal/db"
	"github.com/kuitang/scenario-suite/internal/obs"
	"github.com/kuitang/scenario-suite/internal/report"
	"github.com/kuitang/scenario-suite/internal/scenario"
	"github.com/kuitang/scenario-suite/internal/suite"
)

// Runner runs a batch of scenarios. *suite.Runner satisfies it.
type Runner interface {
	RunAll(ctx context.Context, scenarios []scenario.Scenario) *suite.Summary
}

// History is the run history the scenario_history tool reads. *db.Store
// satisfies it.
type History interface {
	History(ctx context.Context, q db.HistoryQuery) ([]db.StoredOutcome, error)
	FlakeStats(ctx context.Context, window int) ([]db.FlakeStat, error)
	Runs(ctx context.Context, limit int) ([]db.RunRecord, error)
}

// recentRuns is how many run summaries scenario_history lists.
const recentRuns = 10

// Handler implements the scenario tools.
type Handler struct {
	scenarios []scenario.Scenario
	runner    Runner
	history   History

	// One browser run at a time; concurrent callers get a tool error.
	running sync.Mutex
}

// NewHandler creates a handler. history may be nil, which hides the
// scenario_history tool.
func NewHandler(scenarios []scenario.Scenario, runner Runner, history History) *Handler {
	return &Handler{scenarios: scenarios, runner: runner, history: history}
}

// ScenarioInfo is the scenario_list entry.
type ScenarioInfo struct {
	Name        string   `json:"name"`
	Site        string   `json:"site"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
	Steps       int      `json:"steps"`
}

// RunResult is the scenario_run payload.
type RunResult struct {
	RunID     string          `json:"run_id"`
	Passed    int             `json:"passed"`
	Failed    int             `json:"failed"`
	ReportURL string          `json:"report_url,omitempty"`
	Outcomes  []suite.Outcome `json:"outcomes"`
	Report    string          `json:"report_markdown"`
}

// HistoryResult is the scenario_history payload.
type HistoryResult struct {
	Outcomes []db.StoredOutcome `json:"outcomes"`
	Runs     []db.RunRecord     `json:"runs,omitempty"`
	Flaky    []db.FlakeStat     `json:"flaky,omitempty"`
}

func (h *Handler) List(ctx context.Context, _ *mcp.CallToolRequest, args ListArgs) (*mcp.CallToolResult, any, error) {
	matched, err := scenario.Filter(h.scenarios, args.Pattern, args.Tag)
	if err != nil {
		return newToolResultError(err.Error()), nil, nil
	}
	infos := make([]ScenarioInfo, 0, len(matched))
	for _, sc := range matched {
		infos = append(infos, ScenarioInfo{
			Name:        sc.Name,
			Site:        string(sc.Site),
			Tags:        sc.Tags,
			Description: sc.Description,
			Steps:       len(sc.Steps),
		})
	}
	obs.From(ctx).Debug("mcp_scenario_list", "pattern", args.Pattern, "tag", args.Tag, "matched", len(infos))
	return newToolResultText(marshalToolJSON(infos)), nil, nil
}

func (h *Handler) Run(ctx context.Context, _ *mcp.CallToolRequest, args RunArgs) (*mcp.CallToolResult, any, error) {
	matched, err := scenario.Filter(h.scenarios, args.Pattern, args.Tag)
	if err != nil {
		return newToolResultError(err.Error()), nil, nil
	}
	if len(matched) == 0 {
		return newToolResultError(fmt.Sprintf("no scenario matches pattern %q tag %q; call scenario_list first", args.Pattern, args.Tag)), nil, nil
	}
	if !h.running.TryLock() {
		return newToolResultError("a scenario run is already in progress; retry when it finishes"), nil, nil
	}
	defer h.running.Unlock()

	obs.From(ctx).Info("mcp_scenario_run", "pattern", args.Pattern, "tag", args.Tag, "scenarios", len(matched))
	sum := h.runner.RunAll(ctx, matched)
	passed, failed := sum.Counts()
	return newToolResultText(marshalToolJSON(RunResult{
		RunID:     sum.RunID,
		Passed:    passed,
		Failed:    failed,
		ReportURL: sum.ReportURL,
		Outcomes:  sum.Outcomes,
		Report:    report.Markdown(sum),
	})), nil, nil
}

func (h *Handler) History(ctx context.Context, _ *mcp.CallToolRequest, args HistoryArgs) (*mcp.CallToolResult, any, error) {
	if h.history == nil {
		return newToolResultError("run history is not configured on this server"), nil, nil
	}
	switch suite.Status(args.Status) {
	case "", suite.StatusPass, suite.StatusFail:
	default:
		return newToolResultError(fmt.Sprintf("status must be pass or fail, got %q", args.Status)), nil, nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.history.History(ctx, db.HistoryQuery{
		NamePattern: args.Pattern,
		Status:      suite.Status(args.Status),
		Limit:       limit,
	})
	if err != nil {
		return newToolResultError(fmt.Sprintf("history query failed: %v", err)), nil, nil
	}
	res := HistoryResult{Outcomes: rows}
	res.Runs, err = h.history.Runs(ctx, recentRuns)
	if err != nil {
		return newToolResultError(fmt.Sprintf("runs query failed: %v", err)), nil, nil
	}
	if args.FlakyWindow > 0 {
		res.Flaky, err = h.history.FlakeStats(ctx, args.FlakyWindow)
		if err != nil {
			return newToolResultError(fmt.Sprintf("flake query failed: %v", err)), nil, nil
		}
	}
	if res.Outcomes == nil {
		res.Outcomes = []db.StoredOutcome{}
	}
	return newToolResultText(marshalToolJSON(res)), nil, nil
}

func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func newToolResultError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
