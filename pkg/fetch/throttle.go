package fetch

import (
	"context"
	"time"
)

// Throttle is the fixed pre-fetch pause applied by every visit.
// It is not adaptive and keeps no per-host state.
type Throttle struct {
	delay time.Duration
}

// NewThrottle returns a throttle pausing for delay; delay <= 0 disables it.
func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{delay: delay}
}

// Delay returns the configured pause.
func (t *Throttle) Delay() time.Duration {
	if t == nil {
		return 0
	}
	return t.delay
}

// Wait pauses for the configured delay or until ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
