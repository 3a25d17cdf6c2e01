package engine

import (
	"time"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// EventType captures high level lifecycle notifications emitted by the
// supervisor session.
type EventType string

const (
	EventTypeStarting     EventType = "starting"
	EventTypeRunning      EventType = "running"
	EventTypeFailed       EventType = "failed"
	EventTypeStopping     EventType = "stopping"
	EventTypeInterrupting EventType = "interrupting"
	EventTypeExited       EventType = "exited"
	EventTypeKilled       EventType = "killed"
	EventTypeStopped      EventType = "stopped"
	EventTypeLog          EventType = "log"
	EventTypeError        EventType = "error"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Service   string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	Reason    string
	// Elapsed is set on EventTypeStopped and holds the duration of the
	// shutdown sequence.
	Elapsed time.Duration
	// Cause is set on EventTypeStopping and EventTypeStopped.
	Cause ShutdownCause
}

const (
	ReasonSpawn            = "spawn"
	ReasonSpawnFailure     = "spawn_failure"
	ReasonUnexpectedExit   = "unexpected_exit"
	ReasonUserCancellation = "user_cancellation"
	ReasonServiceFailure   = "service_failure"
	ReasonExitedInGrace    = "exited_in_grace"
	ReasonGraceExpired     = "grace_expired"
	ReasonInterruptFailed  = "interrupt_failed"
	ReasonHardTimeout      = "hard_timeout"
	ReasonKillFailed       = "kill_failed"
	ReasonReleaseFailed    = "release_failed"
	ReasonLogStream        = "log_stream"
)

func sendEvent(events chan<- Event, clock Clock, service string, t EventType, level, message, reason string, err error) {
	if events == nil {
		return
	}
	if level == "" {
		level = "info"
	}
	events <- Event{
		Timestamp: clock.Now(),
		Service:   service,
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    runtime.LogSourceSystem,
		Err:       err,
		Reason:    reason,
	}
}
