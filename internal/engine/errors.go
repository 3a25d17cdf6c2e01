package engine

import (
	"fmt"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// ServiceSetSpawnError reports that one service in the set failed to start.
// Started lists the services that were already running at that point.
type ServiceSetSpawnError struct {
	Service string
	Started []string
	Err     error
}

func (e *ServiceSetSpawnError) Error() string {
	return fmt.Sprintf("spawn service %s: %v", e.Service, e.Err)
}

func (e *ServiceSetSpawnError) Unwrap() error {
	return e.Err
}

// ServiceFailure reports that a running service exited without being asked
// to stop.
type ServiceFailure struct {
	Service string
	Status  runtime.ExitStatus
}

func (e *ServiceFailure) Error() string {
	return fmt.Sprintf("service %s exited unexpectedly with %s", e.Service, e.Status)
}
