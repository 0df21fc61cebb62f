package particle

import (
	"context"
	"time"
)

// Default reconnect delays.
const (
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Backoff produces reconnect delays that double after every failure up to
// a cap, and return to the initial delay after a successful connection.
//
// With the defaults, consecutive failures wait 5s, 10s, 20s, 40s, 60s, 60s...
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff. Non-positive values fall back to the
// defaults and max is raised to initial if smaller.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{initial: initial, max: maxDelay, current: initial}
}

// Next returns the delay to wait now and advances to the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current = min(b.current*2, b.max)
	return d
}

// Peek returns the delay Next would return without advancing.
func (b *Backoff) Peek() time.Duration {
	return b.current
}

// Reset returns to the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Clock is the time source used for backoff waits. Tests substitute a fake
// that records requested delays instead of sleeping.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d unless ctx is cancelled first.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
