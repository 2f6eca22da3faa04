// Package retry wraps a single fallible operation with exponential-delay
// retry. It is the only place outside scheduling where the core waits.
package retry

import (
	"context"
	"time"
)

const (
	// DefaultRetries is the number of retries after the initial attempt.
	DefaultRetries = 3
	// DefaultInitialDelay is the delay before the first retry; it doubles
	// after every failed attempt.
	DefaultInitialDelay = 2 * time.Second
)

// SleepFunc pauses for d, returning early with the context's error if it is
// cancelled first. Tests inject a recording implementation.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Backoff retries an operation a bounded number of times with exponentially
// growing delays. There is no infinite-retry mode.
type Backoff struct {
	Retries      int
	InitialDelay time.Duration
	Sleep        SleepFunc
}

// New creates a Backoff with the given retry budget and initial delay.
// Non-positive values fall back to the defaults.
func New(retries int, initialDelay time.Duration) *Backoff {
	if retries <= 0 {
		retries = DefaultRetries
	}
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	return &Backoff{Retries: retries, InitialDelay: initialDelay}
}

// Do executes op. On failure, while retries remain, it sleeps for the current
// delay, doubles the delay and tries again; once the budget is exhausted the
// last failure is propagated unchanged. Every failure is a retry candidate;
// callers that can classify failures as permanent should not route them
// through Do.
func (b *Backoff) Do(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := b.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := b.InitialDelay
	remaining := b.Retries

	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if remaining <= 0 {
			return err
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= 2
		remaining--
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
