package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// ShutdownCause records why a shutdown sequence started.
type ShutdownCause int

const (
	CauseNone ShutdownCause = iota
	CauseUserCancellation
	CauseServiceFailure
)

func (c ShutdownCause) String() string {
	switch c {
	case CauseUserCancellation:
		return "user_cancellation"
	case CauseServiceFailure:
		return "service_failure"
	default:
		return "none"
	}
}

// Deadline is the instant the shared grace allowance runs out. It is computed
// once per shutdown and handed to every service in turn, so time spent on
// earlier services is time later services do not get.
type Deadline struct {
	at time.Time
}

// NewDeadline returns the deadline grace after start.
func NewDeadline(start time.Time, grace time.Duration) Deadline {
	return Deadline{at: start.Add(grace)}
}

// At returns the deadline instant.
func (d Deadline) At() time.Time {
	return d.at
}

// Reached reports whether now is at or past the deadline.
func (d Deadline) Reached(now time.Time) bool {
	return !now.Before(d.at)
}

// ShutdownContext describes a single shutdown sequence.
type ShutdownContext struct {
	Cause       ShutdownCause
	GracePeriod time.Duration
	Started     time.Time
	Deadline    Deadline
}

// NewShutdownContext captures the start time and derives the grace period
// from the cause: the configured grace for operator cancellation, none for a
// failure.
func NewShutdownContext(cause ShutdownCause, grace time.Duration, now time.Time) ShutdownContext {
	if cause != CauseUserCancellation || grace < 0 {
		grace = 0
	}
	return ShutdownContext{
		Cause:       cause,
		GracePeriod: grace,
		Started:     now,
		Deadline:    NewDeadline(now, grace),
	}
}

// shutdownCoordinator applies the grace-then-kill protocol to each service in
// set order, finishing one before starting the next.
type shutdownCoordinator struct {
	timing Timing
	clock  Clock
	events chan<- Event
}

func newShutdownCoordinator(timing Timing, clock Clock, events chan<- Event) *shutdownCoordinator {
	return &shutdownCoordinator{timing: timing, clock: clock, events: events}
}

// Run never fails: hard-wait timeouts are absorbed by escalating to a kill.
func (c *shutdownCoordinator) Run(sc ShutdownContext, set *ServiceSet) {
	for _, svc := range set.Services() {
		c.stopService(sc.Deadline, svc)
	}
}

func (c *shutdownCoordinator) stopService(deadline Deadline, svc *ServiceRuntime) {
	if svc.State().Terminal() || svc.Handle() == nil {
		return
	}
	handle := svc.Handle()

	if c.awaitGrace(deadline, svc, handle) {
		return
	}

	status, err := handle.Wait(c.timing.HardTimeout)
	if err == nil {
		svc.markExited(status)
		sendEvent(c.events, c.clock, svc.Name(), EventTypeExited, "info", fmt.Sprintf("service exited with %s", status), ReasonGraceExpired, nil)
		return
	}

	if !errors.Is(err, runtime.ErrWaitTimeout) {
		sendEvent(c.events, c.clock, svc.Name(), EventTypeError, "error", "wait for service failed", ReasonHardTimeout, err)
	}
	sendEvent(c.events, c.clock, svc.Name(), EventTypeKilled, "warn",
		fmt.Sprintf("service did not terminate cleanly within %s, killing the process", c.timing.HardTimeout), ReasonHardTimeout, err)
	if err := handle.Kill(); err != nil {
		sendEvent(c.events, c.clock, svc.Name(), EventTypeError, "error", "kill failed", ReasonKillFailed, err)
	}
	svc.advance(StateKilled)
}

// awaitGrace polls the service once per grace tick until it exits or the
// shared deadline passes. It returns true when the service exited on its own;
// otherwise the service has been sent an interrupt.
func (c *shutdownCoordinator) awaitGrace(deadline Deadline, svc *ServiceRuntime, handle runtime.Handle) bool {
	for {
		if status, exited := handle.Poll(); exited {
			svc.markExited(status)
			sendEvent(c.events, c.clock, svc.Name(), EventTypeExited, "info", fmt.Sprintf("service exited with %s", status), ReasonExitedInGrace, nil)
			return true
		}

		if deadline.Reached(c.clock.Now()) {
			sendEvent(c.events, c.clock, svc.Name(), EventTypeInterrupting, "info", "interrupting service", ReasonGraceExpired, nil)
			if err := handle.Interrupt(); err != nil {
				sendEvent(c.events, c.clock, svc.Name(), EventTypeError, "error", "interrupt failed", ReasonInterruptFailed, err)
			}
			svc.advance(StateInterruptRequested)
			return false
		}

		// Shutdown must complete even once the session context is cancelled.
		_ = c.clock.Sleep(context.Background(), c.timing.GraceTick)
	}
}
