//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// Interrupt sends SIGINT, the signal a terminal delivers on Ctrl-C.
func (p *processHandle) Interrupt() error {
	return p.signal(unix.SIGINT)
}

func (p *processHandle) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *processHandle) signal(sig syscall.Signal) error {
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	pid := p.cmd.Process.Pid
	if p.isolated {
		pid = -pid
	}
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("send %s to service %s: %w", unix.SignalName(sig), p.name, err)
	}
	return nil
}

func exitStatus(state *os.ProcessState) runtime.ExitStatus {
	if state == nil {
		return runtime.ExitStatus{Code: -1}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return runtime.ExitStatus{Code: -1, Signal: unix.SignalName(ws.Signal())}
	}
	return runtime.ExitStatus{Code: state.ExitCode()}
}
