package runtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrWaitTimeout is returned by Handle.Wait when the process is still running
// once the timeout elapses.
var ErrWaitTimeout = errors.New("timed out waiting for process to exit")

// Command describes how to launch a single service process.
type Command struct {
	// Name identifies the service the process belongs to.
	Name string
	// Path is the executable to run. It is resolved against PATH when it
	// contains no separators.
	Path string
	Args []string
	// Env is the complete environment for the child. A nil slice inherits the
	// supervisor's environment.
	Env []string
	Dir string
}

// Argv returns the full argument vector including the executable.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Path)
	return append(argv, c.Args...)
}

// ExitStatus captures how a process terminated.
type ExitStatus struct {
	Code   int
	Signal string
}

// Success reports whether the process exited with code zero and no signal.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == ""
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Handle is the supervisor's view of one spawned child process.
type Handle interface {
	// Name returns the service name the handle was spawned for.
	Name() string

	// PID returns the operating system process identifier.
	PID() int

	// Poll reports the exit status if the process has already terminated.
	// It never blocks and may be called any number of times.
	Poll() (ExitStatus, bool)

	// Interrupt asks the process to stop cooperatively. It does not wait for
	// the process to exit.
	Interrupt() error

	// Wait blocks until the process exits or the timeout elapses. On timeout
	// it returns ErrWaitTimeout.
	Wait(timeout time.Duration) (ExitStatus, error)

	// Kill terminates the process forcefully without waiting for teardown.
	Kill() error

	// Logs returns the captured output of the process, or nil when output is
	// passed straight through to the supervisor's terminal. The channel is
	// closed once both output streams reach EOF.
	Logs() <-chan LogEntry
}

// Spawner launches service processes.
type Spawner interface {
	Spawn(cmd Command) (Handle, error)
}

// SpawnError reports that a service executable could not be started.
type SpawnError struct {
	Service string
	Argv    []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start service %s (%s): %v", e.Service, strings.Join(e.Argv, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
