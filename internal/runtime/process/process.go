package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/Paintersrp/devsup/internal/runtime"
)

const (
	logBuffer = 256
	// pipeDrainDelay bounds how long the reaper waits for output copying once
	// the child has exited, so grandchildren holding the pipes open cannot
	// hide the exit.
	pipeDrainDelay = 2 * time.Second
)

// Options controls how child processes are launched.
type Options struct {
	// Isolate starts each child in a new process group. Interrupts and kills
	// are then delivered to the whole group, and the children no longer see
	// terminal signals aimed at the supervisor.
	Isolate bool

	// Capture streams stdout and stderr through Handle.Logs instead of
	// passing them through to Stdout and Stderr.
	Capture bool

	Stdout io.Writer
	Stderr io.Writer
}

type spawner struct {
	opts Options
}

// New constructs a spawner that executes services as local processes.
func New(opts Options) runtime.Spawner {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &spawner{opts: opts}
}

func (s *spawner) Spawn(c runtime.Command) (runtime.Handle, error) {
	if c.Path == "" {
		return nil, &runtime.SpawnError{Service: c.Name, Argv: c.Argv(), Err: errors.New("empty command")}
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	configureCmdSysProcAttr(cmd, s.opts.Isolate)

	p := &processHandle{
		name:     c.Name,
		cmd:      cmd,
		isolated: s.opts.Isolate,
		done:     make(chan struct{}),
	}

	var stdout, stderr *lineWriter
	if s.opts.Capture {
		p.logs = make(chan runtime.LogEntry, logBuffer)
		stdout = newLineWriter(p.deliverLog, runtime.LogSourceStdout, "")
		stderr = newLineWriter(p.deliverLog, runtime.LogSourceStderr, "warn")
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	} else {
		cmd.Stdout = s.opts.Stdout
		cmd.Stderr = s.opts.Stderr
	}
	cmd.WaitDelay = pipeDrainDelay

	if err := cmd.Start(); err != nil {
		return nil, &runtime.SpawnError{Service: c.Name, Argv: c.Argv(), Err: err}
	}

	go func() {
		// Exit codes are read from ProcessState; Wait's error adds nothing.
		_ = cmd.Wait()
		if stdout != nil {
			stdout.Close()
			stderr.Close()
		}
		p.finish()
	}()

	return p, nil
}

type processHandle struct {
	name     string
	cmd      *exec.Cmd
	isolated bool

	logs       chan runtime.LogEntry
	logsMu     sync.Mutex
	logsClosed bool
	dropped    int

	done   chan struct{}
	status runtime.ExitStatus
}

func (p *processHandle) Name() string {
	return p.name
}

func (p *processHandle) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *processHandle) Poll() (runtime.ExitStatus, bool) {
	select {
	case <-p.done:
		return p.status, true
	default:
		return runtime.ExitStatus{}, false
	}
}

func (p *processHandle) Wait(timeout time.Duration) (runtime.ExitStatus, error) {
	if status, ok := p.Poll(); ok {
		return status, nil
	}
	if timeout <= 0 {
		return runtime.ExitStatus{}, runtime.ErrWaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return p.status, nil
	case <-timer.C:
		return runtime.ExitStatus{}, runtime.ErrWaitTimeout
	}
}

func (p *processHandle) Logs() <-chan runtime.LogEntry {
	if p.logs == nil {
		return nil
	}
	return p.logs
}

func (p *processHandle) exited() bool {
	_, ok := p.Poll()
	return ok
}

func (p *processHandle) finish() {
	p.status = exitStatus(p.cmd.ProcessState)
	close(p.done)

	if p.logs != nil {
		p.logsMu.Lock()
		if p.dropped > 0 {
			p.flushDroppedLocked()
		}
		close(p.logs)
		p.logsClosed = true
		p.logsMu.Unlock()
	}
}

// deliverLog never blocks: a child writing faster than the supervisor drains
// loses lines rather than stalling on a full pipe.
func (p *processHandle) deliverLog(entry runtime.LogEntry) {
	p.logsMu.Lock()
	defer p.logsMu.Unlock()
	if p.logs == nil || p.logsClosed {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if p.dropped > 0 && !p.flushDroppedLocked() {
		p.dropped++
		return
	}
	select {
	case p.logs <- entry:
	default:
		p.dropped++
	}
}

func (p *processHandle) flushDroppedLocked() bool {
	entry := runtime.LogEntry{
		Timestamp: time.Now(),
		Message:   droppedMessage(p.dropped),
		Source:    runtime.LogSourceSystem,
		Level:     "warn",
	}
	select {
	case p.logs <- entry:
		p.dropped = 0
		return true
	default:
		return false
	}
}
