package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// ServiceState tracks a service through a single supervision session. States
// only ever advance.
type ServiceState int

const (
	StatePending ServiceState = iota
	StateSpawned
	StateRunning
	StateInterruptRequested
	StateExited
	StateKilled
)

func (s ServiceState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateInterruptRequested:
		return "interrupt_requested"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state is final.
func (s ServiceState) Terminal() bool {
	return s == StateExited || s == StateKilled
}

// ServiceDescriptor names a service and how to launch it.
type ServiceDescriptor struct {
	Name    string
	Command runtime.Command
}

// ServiceRuntime is the mutable per-service record owned by a session.
type ServiceRuntime struct {
	desc   ServiceDescriptor
	handle runtime.Handle
	state  ServiceState
	status runtime.ExitStatus
	exited bool
}

// Name returns the service name.
func (r *ServiceRuntime) Name() string {
	return r.desc.Name
}

// State returns the current lifecycle state.
func (r *ServiceRuntime) State() ServiceState {
	return r.state
}

// Handle returns the live process handle, or nil before spawn and after the
// process has been confirmed gone.
func (r *ServiceRuntime) Handle() runtime.Handle {
	return r.handle
}

// ExitStatus returns the observed exit status. The boolean is false when the
// service was never seen exiting, including after a kill.
func (r *ServiceRuntime) ExitStatus() (runtime.ExitStatus, bool) {
	return r.status, r.exited
}

func (r *ServiceRuntime) advance(next ServiceState) bool {
	if next <= r.state || r.state.Terminal() {
		return false
	}
	r.state = next
	if next.Terminal() {
		r.handle = nil
	}
	return true
}

func (r *ServiceRuntime) markExited(status runtime.ExitStatus) {
	if r.advance(StateExited) {
		r.status = status
		r.exited = true
	}
}

// ServiceSet is the ordered collection of services supervised by a session.
type ServiceSet struct {
	services []*ServiceRuntime
	index    map[string]*ServiceRuntime
	clock    Clock
}

// NewServiceSet validates the descriptors and returns a set in the given
// order with every service pending.
func NewServiceSet(descs []ServiceDescriptor) (*ServiceSet, error) {
	if len(descs) == 0 {
		return nil, errors.New("no services to supervise")
	}
	set := &ServiceSet{
		services: make([]*ServiceRuntime, 0, len(descs)),
		index:    make(map[string]*ServiceRuntime, len(descs)),
		clock:    realClock{},
	}
	for i, desc := range descs {
		name := strings.TrimSpace(desc.Name)
		if name == "" {
			return nil, fmt.Errorf("service %d has no name", i)
		}
		if _, dup := set.index[name]; dup {
			return nil, fmt.Errorf("service %s defined more than once", name)
		}
		desc.Name = name
		if desc.Command.Name == "" {
			desc.Command.Name = name
		}
		rt := &ServiceRuntime{desc: desc}
		set.services = append(set.services, rt)
		set.index[name] = rt
	}
	return set, nil
}

// Services returns the runtimes in supervision order.
func (s *ServiceSet) Services() []*ServiceRuntime {
	return s.services
}

// Lookup returns the runtime for the named service.
func (s *ServiceSet) Lookup(name string) (*ServiceRuntime, bool) {
	rt, ok := s.index[name]
	return rt, ok
}

// Len returns the number of services in the set.
func (s *ServiceSet) Len() int {
	return len(s.services)
}

// SpawnAll starts every service in order. It stops at the first failure and
// returns a *ServiceSetSpawnError; services that already started are left
// running for the caller to shut down.
func (s *ServiceSet) SpawnAll(spawner runtime.Spawner, events chan<- Event) error {
	started := make([]string, 0, len(s.services))
	for _, svc := range s.services {
		if svc.state != StatePending {
			continue
		}
		sendEvent(events, s.clock, svc.Name(), EventTypeStarting, "info", "starting service", ReasonSpawn, nil)
		handle, err := spawner.Spawn(svc.desc.Command)
		if err != nil {
			var spawnErr *runtime.SpawnError
			if !errors.As(err, &spawnErr) {
				err = &runtime.SpawnError{Service: svc.Name(), Argv: svc.desc.Command.Argv(), Err: err}
			}
			sendEvent(events, s.clock, svc.Name(), EventTypeFailed, "error", "start failed", ReasonSpawnFailure, err)
			return &ServiceSetSpawnError{Service: svc.Name(), Started: started, Err: err}
		}
		svc.handle = handle
		svc.advance(StateSpawned)
		svc.advance(StateRunning)
		started = append(started, svc.Name())
		sendEvent(events, s.clock, svc.Name(), EventTypeRunning, "info", fmt.Sprintf("service running (pid %d)", handle.PID()), ReasonSpawn, nil)
	}
	return nil
}
