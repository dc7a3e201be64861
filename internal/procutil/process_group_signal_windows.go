//go:build windows

package procutil

import (
	"os"
	"syscall"
)

// GroupSignal has no process-group equivalent on Windows; it signals proc
// directly, matching os.Process.Signal's own documented platform behavior.
func GroupSignal(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return nil
	}
	return proc.Kill()
}
