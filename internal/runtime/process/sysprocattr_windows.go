//go:build windows

package process

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// Children always get their own process group on Windows: console control
// events can only be addressed to a group, and CTRL_BREAK_EVENT sent to the
// supervisor's group would stop the supervisor as well.
func configureCmdSysProcAttr(cmd *exec.Cmd, _ bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}
