//go:build !windows

package procutil

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// GroupSignal delivers sig to proc's entire process group (negative pid) so
// it reaches children the supervised process itself spawned, falling back
// to signaling proc alone if the group no longer exists.
func GroupSignal(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return nil
	}
	err := unix.Kill(-proc.Pid, sig)
	if err == unix.ESRCH {
		return proc.Signal(sig)
	}
	return err
}
