// Package retry runs an operation under a bounded exponential backoff and
// reports how it ended.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 15 * time.Second
	DefaultMaxDelay     = 60 * time.Second
)

// Status tags how Do finished.
type Status int

const (
	// Succeeded means fn returned nil.
	Succeeded Status = iota
	// Exhausted means every attempt failed with a retryable error.
	Exhausted
	// Stopped means fn returned a non-retryable error or ctx ended.
	Stopped
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Policy configures Do. The zero value uses the package defaults and
// treats every error as retryable.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Retryable decides whether an error warrants another attempt.
	Retryable func(error) bool
	// Sleep waits between attempts. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is the tagged result of Do.
type Outcome struct {
	Status   Status
	Attempts int
	// Delays holds every wait performed between attempts.
	Delays []time.Duration
	// Err is the last error returned by fn, or the context error.
	Err error
}

func (o Outcome) OK() bool {
	return o.Status == Succeeded
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the wait before attempt number attempt+1 (attempt is 1-based):
// InitialDelay doubled per prior retry, capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.InitialDelay
	if base == 0 {
		base = DefaultInitialDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	if base < 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends, or the attempt budget is spent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) Outcome {
	maxAttempts := p.attempts()
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var out Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Status = Stopped
			out.Err = err
			return out
		}

		out.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			out.Status = Succeeded
			out.Err = nil
			return out
		}
		out.Err = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			out.Status = Stopped
			return out
		}
		if p.Retryable != nil && !p.Retryable(err) {
			out.Status = Stopped
			return out
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt)
		out.Delays = append(out.Delays, delay)
		if serr := sleep(ctx, delay); serr != nil {
			out.Status = Stopped
			out.Err = serr
			return out
		}
	}

	out.Status = Exhausted
	return out
}

// Sleep waits for d or until ctx is done.
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
