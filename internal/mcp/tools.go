package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Tool names.
const (
	ToolScenarioList    = "scenario_list"
	ToolScenarioRun     = "scenario_run"
	ToolScenarioHistory = "scenario_history"
)

// ListArgs selects scenarios by name and tag.
type ListArgs struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"case-insensitive name glob such as shop-* or a plain substring"`
	Tag     string `json:"tag,omitempty" jsonschema:"only scenarios carrying this tag, e.g. smoke"`
}

// RunArgs selects the scenarios to run. At least one must match.
type RunArgs struct {
	Pattern string `json:"pattern,omitempty" jsonschema:"case-insensitive name glob such as shop-* or a plain substring"`
	Tag     string `json:"tag,omitempty" jsonschema:"only scenarios carrying this tag, e.g. smoke"`
}

// HistoryArgs queries stored outcomes.
type HistoryArgs struct {
	Pattern     string `json:"pattern,omitempty" jsonschema:"Go regular expression over scenario names"`
	Status      string `json:"status,omitempty" jsonschema:"pass or fail"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum rows, default 20"`
	FlakyWindow int    `json:"flaky_window,omitempty" jsonschema:"when set, also report scenarios whose status flipped within this many recent runs"`
}

func listTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolScenarioList,
		Description: "List the browser scenarios this suite can run. Returns each scenario's name, target site (docs, shop or forms), tags, description and step count. Filter with pattern and tag, then pass the same filter to scenario_run.",
	}
}

func runTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolScenarioRun,
		Description: "Run the matching scenarios against the live target sites in a fresh browser context each, and return a summary: one outcome per scenario with status, failure code (navigation_timeout, element_not_found, assertion_mismatch, unexpected_console_error, multi_context_sync_failure, invalid_argument, unavailable, canceled), the failing step, expected and actual values, plus a Markdown report. Only one run executes at a time.",
	}
}

func historyTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        ToolScenarioHistory,
		Description: "Query recorded outcomes from earlier runs, newest first, together with the last 10 run summaries and their report URLs. Optionally report scenarios that flip between pass and fail across recent runs (flaky_window).",
	}
}
