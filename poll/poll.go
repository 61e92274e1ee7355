// Package poll implements the cooperative wait used by every wait and
// assertion step: re-evaluate a condition until it holds or a deadline passes.
package poll

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// DefaultIntervals is the escalating re-check schedule. The last entry repeats.
var DefaultIntervals = []time.Duration{
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
}

// Condition reports whether the awaited state holds. A non-nil error is
// remembered and reported if the wait times out, but does not stop polling.
type Condition func(ctx context.Context) (bool, error)

// Options tunes a single wait.
type Options struct {
	Op        string          // label used in the TimeoutError
	Timeout   time.Duration   // 0 waits until ctx is done
	Intervals []time.Duration // defaults to DefaultIntervals
}

// Until evaluates cond until it returns true. The condition is always evaluated
// at least once, and once more when the deadline is reached, so a wait never
// fails before Timeout has elapsed. On expiry it returns a *types.TimeoutError.
func Until(ctx context.Context, opts Options, cond Condition) error {
	intervals := opts.Intervals
	if len(intervals) == 0 {
		intervals = DefaultIntervals
	}
	start := time.Now()
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
	}

	limiter := rate.NewLimiter(rate.Every(intervals[0]), 1)
	limiter.Allow() // drain the initial burst so the first re-check is paced
	var lastErr error
	for i := 0; ; i++ {
		ok, err := cond(ctx)
		if ok && err == nil {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		if ctx.Err() != nil {
			return ctxError(ctx, opts.Op, time.Since(start), lastErr)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return &types.TimeoutError{Op: opts.Op, Timeout: opts.Timeout, Err: lastErr}
		}

		next := intervals[min(i, len(intervals)-1)]
		limiter.SetLimit(rate.Every(next))
		delay := limiter.Reserve().Delay()
		if !deadline.IsZero() {
			delay = min(delay, time.Until(deadline))
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctxError(ctx, opts.Op, time.Since(start), lastErr)
			case <-timer.C:
			}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ctxError(ctx context.Context, op string, elapsed time.Duration, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return &types.TimeoutError{Op: op, Timeout: elapsed.Round(time.Millisecond), Err: lastErr}
	}
	return ctx.Err()
}
