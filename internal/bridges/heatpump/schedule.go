package heatpump

import (
	"context"
	"time"
)

// Clock abstracts wall-clock time for the scheduler.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NextAlignedInstant returns the first instant at or after t, truncated to
// whole seconds, where (unix seconds + offset) is a multiple of period.
//
// With period 10s and offset 5s, 12:00:47.3 aligns to 12:00:55 and
// 12:00:55.0 is returned unchanged.
func NextAlignedInstant(t time.Time, period, offset time.Duration) time.Time {
	p := int64(period / time.Second)
	if p <= 0 {
		return t
	}
	off := int64(offset / time.Second)

	base := t.Truncate(time.Second)
	if base.Before(t) {
		base = base.Add(time.Second)
	}

	secs := base.Unix()
	rem := ((secs+off)%p + p) % p
	if rem == 0 {
		return base
	}
	return base.Add(time.Duration(p-rem) * time.Second)
}

// QuietWindow is the span around each minute boundary during which the
// controller runs its own communication. Requests on a freshly opened line
// should start outside it.
type QuietWindow struct {
	// Lead is how far before the minute boundary the window opens.
	Lead time.Duration

	// Width is the window length.
	Width time.Duration
}

// Delay returns how long to wait from t until the window has passed.
// It is zero when t is outside the window.
func (w QuietWindow) Delay(t time.Time) time.Duration {
	if w.Width <= 0 {
		return 0
	}
	intoMinute := time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
	pos := (intoMinute + w.Lead) % time.Minute
	if pos < w.Width {
		return w.Width - pos
	}
	return 0
}

// Wait blocks until the window has passed, checking ctx every slice.
func (w QuietWindow) Wait(ctx context.Context, clock Clock, slice time.Duration) error {
	now := clock.Now()
	delay := w.Delay(now)
	if delay <= 0 {
		return nil
	}
	return sleepUntil(ctx, clock, now.Add(delay), slice)
}

// sleepUntil waits until target in slices of at most slice, returning
// ctx.Err() as soon as cancellation is observed.
func sleepUntil(ctx context.Context, clock Clock, target time.Time, slice time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := target.Sub(clock.Now())
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(min(remaining, slice)):
		}
	}
}
