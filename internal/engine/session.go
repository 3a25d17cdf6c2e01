package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/devsup/internal/runtime"
)

const logDrainTimeout = 3 * time.Second

// SessionState is the top-level supervisor state.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionSpawning
	SessionSupervising
	SessionShuttingDown
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionSpawning:
		return "spawning"
	case SessionSupervising:
		return "supervising"
	case SessionShuttingDown:
		return "shutting_down"
	case SessionTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("session(%d)", int(s))
	}
}

// PrepareFunc acquires whatever shared resource the launch commands depend on
// and returns the services to run. release is invoked exactly once when the
// session ends, whatever the outcome.
type PrepareFunc func(ctx context.Context) (services []ServiceDescriptor, release func() error, err error)

// Config controls construction of a Session.
type Config struct {
	Prepare PrepareFunc
	Spawner runtime.Spawner
	Timing  Timing
	// Events receives lifecycle and log notifications. Sends block, so the
	// consumer must keep draining until Run returns.
	Events chan<- Event
	Clock  Clock
}

// ServiceReport summarises one service at the end of a session.
type ServiceReport struct {
	Name   string
	State  ServiceState
	Status runtime.ExitStatus
	Exited bool
}

// Report is the final outcome of a session.
type Report struct {
	Cause            ShutdownCause
	Err              error
	Services         []ServiceReport
	ShutdownDuration time.Duration
}

// Success reports whether the session ended because the operator asked it to.
func (r Report) Success() bool {
	return r.Err == nil && r.Cause == CauseUserCancellation
}

// Session supervises one set of services from spawn to shutdown. A session
// runs once.
type Session struct {
	prepare PrepareFunc
	spawner runtime.Spawner
	timing  Timing
	events  chan<- Event
	clock   Clock

	mu     sync.Mutex
	state  SessionState
	set    *ServiceSet
	report Report

	pumps    sync.WaitGroup
	stopPump chan struct{}
}

// NewSession constructs a session. A zero Timing selects the defaults.
func NewSession(cfg Config) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Session{
		prepare:  cfg.Prepare,
		spawner:  cfg.Spawner,
		timing:   cfg.Timing.normalize(),
		events:   cfg.Events,
		clock:    clock,
		stopPump: make(chan struct{}),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Report returns the outcome recorded when the session terminated.
func (s *Session) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Run spawns the services, supervises them until one fails or ctx is
// cancelled, and then shuts every service down. It returns nil only when the
// shutdown was requested through ctx; otherwise it returns the
// *ServiceSetSpawnError or *ServiceFailure that triggered the shutdown.
func (s *Session) Run(ctx context.Context) error {
	if s.State() != SessionIdle {
		return errors.New("session already started")
	}
	if s.prepare == nil || s.spawner == nil {
		return errors.New("session requires a prepare function and a spawner")
	}

	s.setState(SessionSpawning)
	descs, release, err := s.prepare(ctx)
	if err != nil {
		s.terminate(Report{Cause: CauseServiceFailure, Err: err})
		return fmt.Errorf("prepare services: %w", err)
	}
	defer s.release(release)

	set, err := NewServiceSet(descs)
	if err != nil {
		s.terminate(Report{Cause: CauseServiceFailure, Err: err})
		return err
	}
	set.clock = s.clock
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	defer s.drainLogs()

	spawnErr := set.SpawnAll(s.spawner, s.events)
	s.startLogPumps(set)
	if spawnErr != nil {
		return s.shutdown(CauseServiceFailure, spawnErr)
	}

	s.setState(SessionSupervising)
	monitor := newLivenessMonitor(set, s.clock, s.events)
	watchErr := monitor.Watch(ctx, s.timing.PollInterval)

	var failure *ServiceFailure
	if errors.As(watchErr, &failure) {
		return s.shutdown(CauseServiceFailure, failure)
	}
	return s.shutdown(CauseUserCancellation, nil)
}

func (s *Session) shutdown(cause ShutdownCause, trigger error) error {
	s.setState(SessionShuttingDown)
	sc := NewShutdownContext(cause, s.timing.GracePeriod, s.clock.Now())

	if s.events != nil {
		s.events <- Event{
			Timestamp: sc.Started,
			Type:      EventTypeStopping,
			Message:   "shutting down services",
			Level:     "info",
			Source:    runtime.LogSourceSystem,
			Reason:    cause.String(),
			Err:       trigger,
			Cause:     cause,
		}
	}

	newShutdownCoordinator(s.timing, s.clock, s.events).Run(sc, s.set)
	elapsed := s.clock.Now().Sub(sc.Started)

	if s.events != nil {
		s.events <- Event{
			Timestamp: sc.Started.Add(elapsed),
			Type:      EventTypeStopped,
			Message:   "services shut down",
			Level:     "info",
			Source:    runtime.LogSourceSystem,
			Reason:    cause.String(),
			Elapsed:   elapsed,
			Cause:     cause,
		}
	}

	s.terminate(Report{
		Cause:            cause,
		Err:              trigger,
		Services:         reportServices(s.set),
		ShutdownDuration: elapsed,
	})
	return trigger
}

func (s *Session) terminate(report Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionTerminated
	s.report = report
}

func (s *Session) release(release func() error) {
	if release == nil {
		return
	}
	if err := release(); err != nil {
		sendEvent(s.events, s.clock, "", EventTypeError, "warn", "release launch resources", ReasonReleaseFailed, err)
	}
}

func reportServices(set *ServiceSet) []ServiceReport {
	if set == nil {
		return nil
	}
	out := make([]ServiceReport, 0, set.Len())
	for _, svc := range set.Services() {
		status, exited := svc.ExitStatus()
		out = append(out, ServiceReport{
			Name:   svc.Name(),
			State:  svc.State(),
			Status: status,
			Exited: exited,
		})
	}
	return out
}

// startLogPumps forwards captured output as log events. The pumps never touch
// service state.
func (s *Session) startLogPumps(set *ServiceSet) {
	if s.events == nil {
		return
	}
	for _, svc := range set.Services() {
		handle := svc.Handle()
		if handle == nil {
			continue
		}
		logs := handle.Logs()
		if logs == nil {
			continue
		}
		s.pumps.Add(1)
		go s.pumpLogs(svc.Name(), logs)
	}
}

func (s *Session) pumpLogs(service string, logs <-chan runtime.LogEntry) {
	defer s.pumps.Done()
	for {
		select {
		case <-s.stopPump:
			return
		case entry, ok := <-logs:
			if !ok {
				return
			}
			if entry.Message == "" {
				continue
			}
			select {
			case s.events <- normalizeLog(s.clock, service, entry):
			case <-s.stopPump:
				return
			}
		}
	}
}

// drainLogs gives the pumps a bounded window to forward trailing output and
// guarantees none of them outlives Run.
func (s *Session) drainLogs() {
	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	timer := time.NewTimer(logDrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
	close(s.stopPump)
	<-done
}

func normalizeLog(clock Clock, service string, entry runtime.LogEntry) Event {
	level := entry.Level
	source := entry.Source
	if source == "" {
		source = runtime.LogSourceStdout
	}
	if level == "" {
		if source == runtime.LogSourceStderr {
			level = "warn"
		} else {
			level = "info"
		}
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = clock.Now()
	}
	return Event{
		Timestamp: ts,
		Service:   service,
		Type:      EventTypeLog,
		Message:   entry.Message,
		Level:     level,
		Source:    source,
		Reason:    ReasonLogStream,
	}
}
