// Package retry runs attempt-bounded retries and deadline-bounded polls over wait.Backoff
// with an injectable sleep, so callers can drive them from a fake clock.
package retry

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is a wait.Backoff whose Steps field is the attempt budget.
type Policy struct {
	wait.Backoff
}

// Exponential returns a policy whose delay doubles after every failed attempt.
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{wait.Backoff{Duration: base, Factor: 2, Steps: attempts}}
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{wait.Backoff{Duration: delay, Factor: 1, Steps: attempts}}
}

// WithJitter returns a copy of p whose delays grow by up to fraction of their value.
func (p Policy) WithJitter(fraction float64) Policy {
	p.Jitter = fraction
	return p
}

// WithCap returns a copy of p whose delays never exceed max.
func (p Policy) WithCap(max time.Duration) Policy {
	p.Cap = max
	return p
}

// Budget returns the number of attempts, never less than one.
func (p Policy) Budget() int {
	if p.Steps < 1 {
		return 1
	}
	return p.Steps
}

// Delay returns the wait after the given zero-based failed attempt, without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	b := p.Backoff
	b.Jitter = 0
	if b.Steps < attempt+1 {
		b.Steps = attempt + 1
	}
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.Step()
	}
	return d
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do stops and returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do runs fn until it succeeds, returns a permanent error, or the budget is spent. It sleeps
// for the next backoff step between attempts but never after the last one. The returned int
// is the number of attempts made.
func Do(ctx context.Context, p Policy, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	budget := p.Budget()
	backoff := p.Backoff
	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt, lastErr
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return attempt + 1, perm.err
		}
		lastErr = err
		if attempt == budget-1 {
			break
		}
		if err := sleep(ctx, backoff.Step()); err != nil {
			return attempt + 1, lastErr
		}
	}
	return budget, lastErr
}

// PollUntil checks condition immediately and then every interval until it reports done,
// returns an error, or deadline passes on clk. A passed deadline yields an error for which
// wait.Interrupted is true; a cancelled ctx yields ctx.Err().
func PollUntil(ctx context.Context, clk clock.PassiveClock, sleep SleepFunc, interval time.Duration, deadline time.Time, condition wait.ConditionWithContextFunc) error {
	if sleep == nil {
		sleep = Sleep
	}
	ticks := wait.Backoff{Duration: interval}
	for clk.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := condition(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := sleep(ctx, ticks.Step()); err != nil {
			return err
		}
	}
	return wait.ErrorInterrupted(nil)
}

// Sleep waits for d honouring ctx cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
