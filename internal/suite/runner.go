// Package suite runs scenarios against an engine and reports one Outcome per
// scenario.
package suite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kuitang/scenario-suite/internal/engine"
	"github.com/kuitang/scenario-suite/internal/errs"
	"github.com/kuitang/scenario-suite/internal/logutil"
	"github.com/kuitang/scenario-suite/internal/obs"
	"github.com/kuitang/scenario-suite/internal/scenario"
)

// Options is the runner configuration. Zero fields take DefaultOptions values.
type Options struct {
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	ScenarioTimeout   time.Duration
	Parallelism       int
	PollInterval      time.Duration
	// Screenshots captures the current page when a scenario fails.
	Screenshots bool
}

func DefaultOptions() Options {
	return Options{
		DefaultTimeout:    5 * time.Second,
		NavigationTimeout: 30 * time.Second,
		ScenarioTimeout:   2 * time.Minute,
		Parallelism:       4,
		PollInterval:      DefaultPollInterval,
		Screenshots:       true,
	}
}

// Pacer delays navigations, typically per target host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Runner executes scenarios. It is safe for concurrent use; each Run gets
// its own browsing context.
type Runner struct {
	eng   engine.Engine
	opts  Options
	pacer Pacer
	sinks []Sink
	now   func() time.Time
}

// NewRunner builds a runner. pacer may be nil.
func NewRunner(eng engine.Engine, opts Options, pacer Pacer, sinks ...Sink) *Runner {
	def := DefaultOptions()
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.ScenarioTimeout <= 0 {
		opts.ScenarioTimeout = def.ScenarioTimeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = def.Parallelism
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Runner{eng: eng, opts: opts, pacer: pacer, sinks: sinks, now: time.Now}
}

// Run executes one scenario in a fresh browsing context and emits its
// outcome to every sink.
func (r *Runner) Run(ctx context.Context, sc scenario.Scenario) Outcome {
	ctx = ensureRunID(ctx)
	out := r.execute(ctx, sc)
	r.record(ctx, &out)
	return out
}

// RunAll runs scenarios concurrently, at most Parallelism at a time. The
// returned summary lists outcomes in input order; completion order is not
// guaranteed.
func (r *Runner) RunAll(ctx context.Context, scenarios []scenario.Scenario) *Summary {
	ctx = ensureRunID(ctx)
	runID := obs.RunIDFromContext(ctx)
	logger := obs.From(ctx)
	start := r.now()

	logger.Info("run_started", "browser", r.eng.Name(), "scenarios", len(scenarios), "parallelism", r.opts.Parallelism)

	outcomes := make([]Outcome, len(scenarios))
	var g errgroup.Group
	g.SetLimit(r.opts.Parallelism)
	for i, sc := range scenarios {
		g.Go(func() error {
			outcomes[i] = r.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{
		RunID:     runID,
		Browser:   r.eng.Name(),
		StartedAt: start,
		Duration:  r.now().Sub(start),
		Outcomes:  outcomes,
	}

	fctx := context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		f, ok := s.(Finisher)
		if !ok {
			continue
		}
		if err := f.Finish(fctx, summary); err != nil {
			logger.Warn("sink_finish_failed", "sink", fmt.Sprintf("%T", s), "error", err)
		}
	}

	passed, failed := summary.Counts()
	logger.Info("run_finished",
		"passed", passed,
		"failed", failed,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary
}

func ensureRunID(ctx context.Context) context.Context {
	if obs.CorrelationFromContext(ctx).RunID != "" {
		return ctx
	}
	return obs.WithRun(ctx, uuid.NewString())
}

func (r *Runner) record(ctx context.Context, o *Outcome) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range r.sinks {
		if err := s.Record(ctx, o); err != nil {
			obs.From(ctx).Warn("sink_record_failed", "sink", fmt.Sprintf("%T", s), "scenario", o.Scenario, "error", err)
		}
	}
}

func (r *Runner) execute(parent context.Context, sc scenario.Scenario) (out Outcome) {
	start := r.now()
	ctx := obs.WithScenario(parent, sc.Name, string(sc.Site))
	out = Outcome{
		RunID:      obs.RunIDFromContext(ctx),
		Scenario:   sc.Name,
		Site:       string(sc.Site),
		Browser:    r.eng.Name(),
		StepsTotal: len(sc.Steps),
		StartedAt:  start,
	}

	ctx, span := obs.StartSpan(ctx, "scenario "+sc.Name,
		obs.AttrRunID.String(out.RunID),
		obs.AttrScenario.String(sc.Name),
		obs.AttrSite.String(string(sc.Site)),
	)
	logger := obs.From(ctx)
	logger.Info("scenario_started", "steps", len(sc.Steps))

	defer func() {
		out.Duration = r.now().Sub(start)
		span.SetAttributes(obs.AttrStatus.String(string(out.Status)))
		if out.Passed() {
			obs.EndSpan(span, nil)
			logger.Info("scenario_passed", "duration_ms", out.Duration.Milliseconds())
			return
		}
		span.SetAttributes(obs.AttrErrorCode.String(string(out.Code)))
		obs.EndSpan(span, errors.New(out.Reason))
		logger.Warn("scenario_failed",
			"code", out.Code,
			"step", out.FailedStep,
			"step_desc", out.FailedStepDesc,
			"reason", out.Reason,
			"duration_ms", out.Duration.Milliseconds(),
		)
	}()

	if err := sc.Validate(); err != nil {
		step, desc := invalidStep(sc, err)
		out.fail(step, desc, errs.Wrap(errs.InvalidArgument, "invalid scenario", err))
		return out
	}

	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = r.opts.ScenarioTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bc, err := r.eng.NewContext(ctx, engine.ContextOptions{
		Viewport:          sc.Viewport,
		DefaultTimeout:    r.opts.DefaultTimeout,
		NavigationTimeout: r.opts.NavigationTimeout,
	})
	if err != nil {
		out.fail(0, "", abortErr(ctx, timeout, errs.Wrap(errs.Unavailable, "open browsing context", err)))
		return out
	}
	// Closing the context on deadline unblocks every in-flight engine call.
	stop := context.AfterFunc(ctx, func() { _ = bc.Close() })
	defer func() {
		stop()
		if err := bc.Close(); err != nil {
			logger.Warn("context_close_failed", "error", err)
		}
	}()

	page, err := bc.NewPage(ctx)
	if err != nil {
		out.fail(0, "", abortErr(ctx, timeout, errs.Wrap(errs.Unavailable, "open page", err)))
		return out
	}

	x := &execution{r: r, bc: bc, page: page, pages: []engine.Page{page}}
	for i, step := range sc.Steps {
		if err := x.run(ctx, i, step); err != nil {
			out.fail(i+1, step.Describe(), abortErr(ctx, timeout, err))
			if r.opts.Screenshots && ctx.Err() == nil {
				out.Screenshot = x.screenshot(ctx)
			}
			break
		}
		out.StepsCompleted++
	}
	out.ConsoleErrors = x.consoleErrors()
	out.FinalURL = x.page.URL()
	if out.Status == "" {
		out.Status = StatusPass
	}
	return out
}

// invalidStep locates the step a validation error belongs to. It returns
// zero when the problem is with the scenario as a whole.
func invalidStep(sc scenario.Scenario, err error) (int, string) {
	var se *scenario.StepError
	if errors.As(err, &se) && se.Step >= 1 && se.Step <= len(sc.Steps) {
		return se.Step, sc.Steps[se.Step-1].Describe()
	}
	return 0, ""
}

// abortErr reclassifies a step error caused by the scenario deadline or by
// cancellation of the run.
func abortErr(ctx context.Context, timeout time.Duration, err error) error {
	deadline, hasDeadline := ctx.Deadline()
	expired := hasDeadline && !time.Now().Before(deadline)
	switch {
	case ctx.Err() == nil && !expired:
		return err
	case expired || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errs.Wrap(errs.Canceled, fmt.Sprintf("scenario timeout of %s exceeded", timeout), err)
	default:
		return errs.Wrap(errs.Canceled, "run canceled", err)
	}
}

func (o *Outcome) fail(step int, desc string, err error) {
	o.Status = StatusFail
	o.Code = errs.CodeOf(err)
	o.Reason = reasonOf(err)
	o.Expected, o.Actual = errs.ValuesOf(err)
	o.FailedStep = step
	o.FailedStepDesc = desc
}

func reasonOf(err error) string {
	var coded *errs.Error
	if errors.As(err, &coded) && coded.Message != "" && coded.Err != nil {
		return coded.Error() + ": " + coded.Err.Error()
	}
	return err.Error()
}

// execution is the mutable state of one scenario run: the browsing context
// and the page later steps act on.
type execution struct {
	r     *Runner
	bc    engine.BrowsingContext
	page  engine.Page
	pages []engine.Page
}

func (x *execution) waitTimeout(step scenario.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return x.r.opts.DefaultTimeout
}

func (x *execution) navTimeout(step scenario.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return x.r.opts.NavigationTimeout
}

func (x *execution) run(ctx context.Context, i int, step scenario.Step) (err error) {
	ctx, span := obs.StartSpan(ctx, "step "+string(step.Kind),
		obs.AttrStepIndex.Int(i+1),
		obs.AttrStepKind.String(string(step.Kind)),
		obs.AttrStepTarget.String(step.Describe()),
	)
	defer func() { obs.EndSpan(span, err) }()

	logger := obs.From(ctx)
	if step.Kind == scenario.StepFill {
		logger.Debug("step", "index", i+1, "desc", step.Describe(),
			"value", logutil.RedactFillValue(step.Selector.String(), step.Value))
	} else {
		logger.Debug("step", "index", i+1, "desc", step.Describe())
	}

	t := x.waitTimeout(step)
	switch step.Kind {
	case scenario.StepNavigate:
		return x.navigate(ctx, step)

	case scenario.StepClick:
		loc, err := x.resolve(ctx, step.Selector, scenario.StateVisible, t)
		if err != nil {
			return err
		}
		return actionErr("click", step.Selector, t, loc.Click(ctx, t))

	case scenario.StepFill:
		loc, err := x.resolve(ctx, step.Selector, scenario.StateVisible, t)
		if err != nil {
			return err
		}
		return actionErr("fill", step.Selector, t, loc.Fill(ctx, step.Value, t))

	case scenario.StepPress:
		if err := x.page.Press(ctx, step.Key); err != nil {
			return errs.Wrap(errs.Internal, "press "+step.Key, err)
		}
		return nil

	case scenario.StepSetViewport:
		if err := x.page.SetViewport(ctx, step.Viewport); err != nil {
			return errs.Wrap(errs.Internal, step.Describe(), err)
		}
		return nil

	case scenario.StepWaitFor:
		return x.waitFor(ctx, step.Selector, step.State, t)

	case scenario.StepWaitForLoad:
		nt := x.navTimeout(step)
		if err := x.page.WaitForLoad(ctx, step.Load, nt); err != nil {
			if errors.Is(err, engine.ErrTimeout) {
				return errs.Wrap(errs.NavigationTimeout, fmt.Sprintf("page did not reach %s within %s", step.Load, nt), err)
			}
			return err
		}
		return nil

	case scenario.StepClickOpensPage:
		return x.clickOpensPage(ctx, step, t)

	case scenario.StepExpectTitle:
		res, err := WaitUntil(ctx, t, x.r.opts.PollInterval, func(ctx context.Context) (bool, string, error) {
			title, err := x.page.Title(ctx)
			return step.Match.Matches(title), title, err
		})
		if err != nil {
			return mismatch(err, "page title does not match", step.Match.String(), res.Observed)
		}
		return nil

	case scenario.StepExpectURL:
		res, err := WaitUntil(ctx, t, x.r.opts.PollInterval, func(context.Context) (bool, string, error) {
			u := x.page.URL()
			return step.Match.Matches(u), u, nil
		})
		if err != nil {
			return mismatch(err, "page URL does not match", step.Match.String(), res.Observed)
		}
		return nil

	case scenario.StepExpectVisible:
		_, err := x.resolve(ctx, step.Selector, scenario.StateVisible, t)
		return err

	case scenario.StepExpectHidden:
		return x.waitFor(ctx, step.Selector, scenario.StateHidden, t)

	case scenario.StepExpectText:
		loc, err := x.resolve(ctx, step.Selector, scenario.StateAttached, t)
		if err != nil {
			return err
		}
		res, err := WaitUntil(ctx, t, x.r.opts.PollInterval, func(ctx context.Context) (bool, string, error) {
			text, err := loc.Text(ctx, t)
			text = scenario.NormalizeText(text)
			return step.Match.Matches(text), text, err
		})
		if err != nil {
			return mismatch(err, fmt.Sprintf("text of %s does not match", step.Selector), step.Match.String(), res.Observed)
		}
		return nil

	case scenario.StepExpectCount:
		loc := x.page.Locate(step.Selector)
		res, err := WaitUntil(ctx, t, x.r.opts.PollInterval, func(ctx context.Context) (bool, string, error) {
			n, err := loc.Count(ctx)
			return n == step.Count, strconv.Itoa(n), err
		})
		if err != nil {
			return mismatch(err, fmt.Sprintf("count of %s does not match", step.Selector), strconv.Itoa(step.Count), res.Observed)
		}
		return nil

	case scenario.StepExpectNoConsoleErrors:
		if seen := x.consoleErrors(); len(seen) > 0 {
			return &errs.Error{
				Code:     errs.UnexpectedConsoleError,
				Message:  fmt.Sprintf("%d console error(s) captured", len(seen)),
				Expected: "no console errors",
				Actual:   logutil.TruncateForLog(strings.Join(seen, " | "), 1000),
			}
		}
		return nil
	}
	return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown step kind %q", step.Kind))
}

func (x *execution) navigate(ctx context.Context, step scenario.Step) error {
	if x.r.pacer != nil {
		if err := x.r.pacer.Wait(ctx, step.URL); err != nil {
			return errs.Wrap(errs.Canceled, "waiting for navigation slot", err)
		}
	}
	nt := x.navTimeout(step)
	err := x.page.Goto(ctx, step.URL, engine.GotoOptions{WaitUntil: step.Load, Timeout: nt})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrTimeout):
		return errs.Wrap(errs.NavigationTimeout, fmt.Sprintf("%s did not reach %s within %s", step.URL, step.Load, nt), err)
	case ctx.Err() != nil:
		return err
	default:
		return errs.Wrap(errs.Unavailable, "navigate to "+step.URL, err)
	}
}

// resolve waits for sel to reach state and rejects an unqualified selector
// that matches more than one element.
func (x *execution) resolve(ctx context.Context, sel scenario.Selector, state scenario.ElementState, t time.Duration) (engine.Locator, error) {
	loc := x.page.Locate(sel)
	if err := loc.WaitFor(ctx, state, t); err != nil {
		if errors.Is(err, engine.ErrTimeout) {
			return nil, errs.Wrap(errs.ElementNotFound, fmt.Sprintf("no %s element matches %s within %s", state, sel, t), err)
		}
		return nil, err
	}
	if err := unique(ctx, loc, sel); err != nil {
		return nil, err
	}
	return loc, nil
}

// unique rejects an unqualified selector that matches more than one element.
func unique(ctx context.Context, loc engine.Locator, sel scenario.Selector) error {
	if sel.HasOrdinal() {
		return nil
	}
	n, err := loc.Count(ctx)
	if err != nil {
		return err
	}
	if n > 1 {
		return errs.New(errs.InvalidArgument,
			fmt.Sprintf("selector %s matches %d elements; pick one with first, last or nth", sel, n))
	}
	return nil
}

func (x *execution) waitFor(ctx context.Context, sel scenario.Selector, state scenario.ElementState, t time.Duration) error {
	switch state {
	case scenario.StateVisible, scenario.StateAttached:
		_, err := x.resolve(ctx, sel, state, t)
		return err
	}
	// Hidden and detached waits only look at the first match, so a second
	// visible match would otherwise go unnoticed.
	loc := x.page.Locate(sel)
	err := loc.WaitFor(ctx, state, t)
	if err == nil || errors.Is(err, engine.ErrTimeout) {
		if uerr := unique(ctx, loc, sel); errs.CodeOf(uerr) == errs.InvalidArgument {
			return uerr
		}
	}
	if errors.Is(err, engine.ErrTimeout) {
		return &errs.Error{
			Code:     errs.AssertionMismatch,
			Message:  fmt.Sprintf("%s is still present", sel),
			Expected: string(state),
			Actual:   "visible",
			Err:      err,
		}
	}
	return err
}

// clickOpensPage arms the new-page waiter, then clicks and waits for the
// page concurrently. Later steps run on the new page once it has loaded.
func (x *execution) clickOpensPage(ctx context.Context, step scenario.Step, t time.Duration) error {
	loc, err := x.resolve(ctx, step.Selector, scenario.StateVisible, t)
	if err != nil {
		return err
	}

	waiter := x.bc.ExpectPage()
	var opened engine.Page
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := waiter.Wait(gctx, t)
		if err != nil {
			return errs.Wrap(errs.MultiContextSyncFailure,
				fmt.Sprintf("no new page opened by %s within %s", step.Selector, t), err)
		}
		opened = p
		return nil
	})
	g.Go(func() error {
		return actionErr("click", step.Selector, t, loc.Click(gctx, t))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	x.pages = append(x.pages, opened)
	x.page = opened

	nt := x.navTimeout(step)
	if err := opened.WaitForLoad(ctx, scenario.LoadLoad, nt); err != nil {
		return errs.Wrap(errs.MultiContextSyncFailure,
			fmt.Sprintf("new page %s did not finish loading within %s", opened.URL(), nt), err)
	}
	obs.From(ctx).Debug("page_opened", "url", opened.URL())
	return nil
}

func (x *execution) consoleErrors() []string {
	var out []string
	for _, p := range x.pages {
		out = append(out, engine.ErrorMessages(p.ConsoleMessages())...)
	}
	return out
}

func (x *execution) screenshot(ctx context.Context) []byte {
	png, err := x.page.Screenshot(ctx)
	if err != nil {
		obs.From(ctx).Warn("screenshot_failed", "error", err)
		return nil
	}
	return png
}

func actionErr(verb string, sel scenario.Selector, t time.Duration, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrTimeout):
		return errs.Wrap(errs.ElementNotFound, fmt.Sprintf("could not %s %s within %s", verb, sel, t), err)
	default:
		return errs.Wrap(errs.Internal, fmt.Sprintf("%s %s", verb, sel), err)
	}
}

func mismatch(err error, message, expected, actual string) error {
	if !errors.Is(err, engine.ErrTimeout) {
		return err
	}
	return &errs.Error{
		Code:     errs.AssertionMismatch,
		Message:  message,
		Expected: expected,
		Actual:   actual,
		Err:      err,
	}
}
