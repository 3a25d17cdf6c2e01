//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// Interrupt raises CTRL_BREAK_EVENT in the child's console process group.
// CTRL_C_EVENT cannot be targeted at a single group, so break is the closest
// cooperative stop Windows offers.
func (p *processHandle) Interrupt() error {
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.cmd.Process.Pid)); err != nil {
		return fmt.Errorf("send ctrl-break to service %s: %w", p.name, err)
	}
	return nil
}

func (p *processHandle) Kill() error {
	if p.cmd.Process == nil || p.exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill service %s: %w", p.name, err)
	}
	return nil
}

func exitStatus(state *os.ProcessState) runtime.ExitStatus {
	if state == nil {
		return runtime.ExitStatus{Code: -1}
	}
	return runtime.ExitStatus{Code: state.ExitCode()}
}
