package suite

import (
	"context"
	"time"

	"github.com/kuitang/scenario-suite/internal/errs"
)

// Status is a scenario's terminal state.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Outcome is the result record emitted once per scenario run.
type Outcome struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	Site     string `json:"site"`
	Browser  string `json:"browser"`
	Status   Status `json:"status"`

	Code     errs.Code `json:"code,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
	// FailedStep is 1-based. It is zero when the scenario passed or failed
	// before any step could be attributed (no browser, empty scenario).
	FailedStep     int    `json:"failed_step,omitempty"`
	FailedStepDesc string `json:"failed_step_desc,omitempty"`

	StepsCompleted int      `json:"steps_completed"`
	StepsTotal     int      `json:"steps_total"`
	ConsoleErrors  []string `json:"console_errors,omitempty"`
	FinalURL       string   `json:"final_url,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Flaky is set by run history when the previous recorded status differs.
	Flaky          bool     `json:"flaky,omitempty"`
	PreviousStatus Status   `json:"previous_status,omitempty"`
	Artifacts      []string `json:"artifacts,omitempty"`

	Screenshot []byte `json:"-"`
}

func (o Outcome) Passed() bool { return o.Status == StatusPass }

// Summary collects the outcomes of one RunAll call.
type Summary struct {
	RunID     string
	Browser   string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []Outcome
	// ReportURL is set by the artifact sink when the report is uploaded.
	ReportURL string
}

// Counts returns passed and failed totals.
func (s *Summary) Counts() (passed, failed int) {
	for _, o := range s.Outcomes {
		if o.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// Failures returns the failed outcomes in run order.
func (s *Summary) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if !o.Passed() {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every scenario passed.
func (s *Summary) OK() bool {
	_, failed := s.Counts()
	return failed == 0
}

// Sink receives each outcome as soon as its scenario finishes. Sinks run in
// registration order and may enrich the outcome for later sinks.
type Sink interface {
	Record(ctx context.Context, o *Outcome) error
}

// Finisher is implemented by sinks that also act once a whole run is done.
type Finisher interface {
	Finish(ctx context.Context, s *Summary) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, o *Outcome) error

func (f SinkFunc) Record(ctx context.Context, o *Outcome) error { return f(ctx, o) }
