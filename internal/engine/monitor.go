package engine

import (
	"context"
	"fmt"
	"time"
)

// livenessMonitor watches the running services at a fixed cadence. It only
// detects and reports; it never stops anything.
type livenessMonitor struct {
	set    *ServiceSet
	clock  Clock
	events chan<- Event
}

func newLivenessMonitor(set *ServiceSet, clock Clock, events chan<- Event) *livenessMonitor {
	return &livenessMonitor{set: set, clock: clock, events: events}
}

// Watch blocks until a running service exits on its own, returning a
// *ServiceFailure, or until ctx is cancelled, returning ctx.Err().
func (m *livenessMonitor) Watch(ctx context.Context, interval time.Duration) error {
	for {
		if err := m.clock.Sleep(ctx, interval); err != nil {
			return err
		}
		if failure := m.check(); failure != nil {
			return failure
		}
	}
}

func (m *livenessMonitor) check() *ServiceFailure {
	for _, svc := range m.set.Services() {
		if svc.State() != StateRunning {
			continue
		}
		status, exited := svc.Handle().Poll()
		if !exited {
			continue
		}
		svc.markExited(status)
		failure := &ServiceFailure{Service: svc.Name(), Status: status}
		sendEvent(m.events, m.clock, svc.Name(), EventTypeFailed, "error", fmt.Sprintf("service shut down unexpectedly with %s", status), ReasonUnexpectedExit, failure)
		return failure
	}
	return nil
}
