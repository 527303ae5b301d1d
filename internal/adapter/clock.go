// File: internal/adapter/clock.go
package adapter

import (
	"context"
	"time"
)

// Clock is the time source for every wait in the adapter.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// sleepAtMost sleeps for step, clamped to what is left before deadline.
func sleepAtMost(ctx context.Context, c Clock, step time.Duration, start time.Time, limit time.Duration) error {
	remaining := limit - c.Now().Sub(start)
	if remaining < step {
		step = remaining
	}
	return c.Sleep(ctx, step)
}
