package engine

import (
	"context"
	"time"
)

// Clock supplies the supervisor's notion of time. Tests substitute a fake
// clock so the polling and grace loops can be driven without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	return sleepWithContext(ctx, d)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
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

const (
	DefaultPollInterval = 5 * time.Second
	DefaultGracePeriod  = 30 * time.Second
	DefaultGraceTick    = time.Second
	DefaultHardTimeout  = 60 * time.Second
)

// Timing holds the supervisor's fixed cadences and timeouts.
type Timing struct {
	// PollInterval is the liveness monitor's tick.
	PollInterval time.Duration
	// GracePeriod is granted on operator cancellation. Failure-triggered
	// shutdowns always use a grace period of zero.
	GracePeriod time.Duration
	// GraceTick is how often the grace loop re-checks a service.
	GraceTick time.Duration
	// HardTimeout bounds the wait after an interrupt before escalating to a
	// kill.
	HardTimeout time.Duration
}

// DefaultTiming returns the stock supervisor timings.
func DefaultTiming() Timing {
	return Timing{
		PollInterval: DefaultPollInterval,
		GracePeriod:  DefaultGracePeriod,
		GraceTick:    DefaultGraceTick,
		HardTimeout:  DefaultHardTimeout,
	}
}

func (t Timing) normalize() Timing {
	if t == (Timing{}) {
		return DefaultTiming()
	}
	if t.PollInterval <= 0 {
		t.PollInterval = DefaultPollInterval
	}
	if t.GracePeriod < 0 {
		t.GracePeriod = 0
	}
	if t.GraceTick <= 0 {
		t.GraceTick = DefaultGraceTick
	}
	if t.HardTimeout <= 0 {
		t.HardTimeout = DefaultHardTimeout
	}
	return t
}
