//go:build !windows

package procutil

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup puts cmd in its own process group so a later GroupSignal
// reaches every descendant it spawns, not just the direct child. Preserves
// any existing SysProcAttr fields that were set before this call.
func SetProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
