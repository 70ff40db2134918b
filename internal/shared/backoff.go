package shared

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff describes a bounded exponential retry schedule.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Delay returns a full-jitter delay in [0, min(base*2^attempt, max)).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := b.Base << attempt
	if delay <= 0 || (b.Max > 0 && delay > b.Max) {
		delay = b.Max
	}
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned unchanged.
func (b Backoff) Retry(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) || attempt == attempts-1 {
			return err
		}
		if sleepErr := SleepWithContext(ctx, b.Delay(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}
