package suite

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/scenario-suite/internal/engine"
)

// DefaultPollInterval is how often WaitUntil re-evaluates its probe.
const DefaultPollInterval = 100 * time.Millisecond

// Probe reports whether a condition holds and what it observed. A probe
// error is treated as "not yet" and retried until the deadline.
type Probe func(ctx context.Context) (ok bool, observed string, err error)

// WaitResult is the final state of a WaitUntil call.
type WaitResult struct {
	Observed string
	LastErr  error
}

// WaitUntil polls probe every interval until it succeeds, ctx ends, or
// timeout passes. On timeout it returns an error wrapping engine.ErrTimeout;
// the result always carries the last observed value.
func WaitUntil(ctx context.Context, timeout, interval time.Duration, probe Probe) (WaitResult, error) {
	var res WaitResult
	budget, err := engine.Budget(ctx, timeout)
	if err != nil {
		return res, err
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, observed, err := probe(ctx)
		if err == nil {
			res.Observed = observed
			if ok {
				res.LastErr = nil
				return res, nil
			}
		}
		res.LastErr = err

		if !time.Now().Before(deadline) {
			if res.LastErr != nil {
				return res, fmt.Errorf("%w after %s: %v", engine.ErrTimeout, budget, res.LastErr)
			}
			return res, fmt.Errorf("%w after %s", engine.ErrTimeout, budget)
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}
