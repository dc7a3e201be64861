//go:build windows

package supervisor

import "os"

// Windows has no SIGTERM/SIGINT equivalent process.Signal support; Kill is
// the only reliable lever, matching os.Process.Signal's own documented
// behavior on this platform.
func signalTerm(proc *os.Process) error {
	return proc.Kill()
}

func signalKill(proc *os.Process) error {
	return proc.Kill()
}

func signalInterrupt(proc *os.Process) error {
	return proc.Kill()
}
