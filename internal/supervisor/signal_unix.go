//go:build !windows

package supervisor

import (
	"os"
	"syscall"

	"agenthub/internal/procutil"
)

// Signals target the whole process group (see procutil.SetProcessGroup),
// so a child that spawns its own subprocesses doesn't leave them behind.

func signalTerm(proc *os.Process) error {
	return procutil.GroupSignal(proc, syscall.SIGTERM)
}

func signalKill(proc *os.Process) error {
	return procutil.GroupSignal(proc, syscall.SIGKILL)
}

func signalInterrupt(proc *os.Process) error {
	return procutil.GroupSignal(proc, syscall.SIGINT)
}
