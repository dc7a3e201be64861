// Package supervisor spawns and manages the lifecycle of child agent
// processes in the two variants the hub understands: PTY sessions (a raw
// byte stream over a pseudo-terminal) and JSON sessions (line-delimited
// structured messages over stdin/stdout/stderr pipes). Both variants
// satisfy registry.Supervisor so the rest of the system never needs to know
// which kind backs a given session id.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// Mode identifies which variant a supervisor is.
const (
	ModePTY  = "pty"
	ModeJSON = "json"
)

const (
	// killGrace is how long Kill waits after SIGTERM before escalating to
	// SIGKILL, per the cooperative-then-forced kill contract.
	killGrace = 500 * time.Millisecond

	// orphanRecoveryGrace mirrors killGrace for the startup sweep: a
	// previous instance's child gets the same grace period before being
	// force-killed, since it cannot be reattached to.
	orphanRecoveryGrace = 500 * time.Millisecond

	// spawnReadyTimeout bounds how long a caller blocks waiting for a
	// newly spawned supervisor's one-shot ready signal.
	spawnReadyTimeout = 10 * time.Second
)

// ExitKind distinguishes a clean process exit from one the supervisor
// itself could not fully characterize.
type ExitKind string

const (
	ExitClean  ExitKind = "clean"
	ExitError  ExitKind = "error"
	ExitKilled ExitKind = "killed"
)

// ExitEvent is emitted exactly once per session when its process
// terminates, by whichever path observed the exit first.
type ExitEvent struct {
	SessionID string
	Kind      ExitKind
	Code      int
	Err       error
}

// OutputEvent is one chunk of PTY output or one decoded/raw JSON line,
// tagged with which it is so callers need not inspect Mode.
type OutputEvent struct {
	SessionID string
	Data      []byte // raw bytes for PTY mode
	Line      []byte // one JSON line for JSON mode (nil for PTY events)
}

// Hooks are the callbacks a supervisor invokes as the process runs. All are
// called from supervisor-owned goroutines and must not block for long; the
// fan-out bus send path they usually feed is itself non-blocking.
type Hooks struct {
	OnOutput    func(OutputEvent)
	OnExit      func(ExitEvent)
	OnForeignID func(sessionID, foreignID string)
}

// RecoverOrphan is run once at service startup for every session row whose
// last known PID is non-null. The previous instance cannot reattach to an
// orphaned child's stdio, so the only sound move is to kill it.
func RecoverOrphan(pid int) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := signalTerm(proc); err != nil {
		slog.Debug("[supervisor] orphan SIGTERM failed, may already be gone", "pid", pid, "error", err)
	}
	time.Sleep(orphanRecoveryGrace)
	if err := signalKill(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("[supervisor] orphan SIGKILL failed", "pid", pid, "error", err)
	}
}

// killProcess implements the shared cooperative-then-forced kill contract:
// SIGTERM, then SIGKILL if the process hasn't exited within killGrace.
func killProcess(proc *os.Process, exited <-chan struct{}) {
	if proc == nil {
		return
	}
	if err := signalTerm(proc); err != nil {
		slog.Debug("[supervisor] SIGTERM failed", "pid", proc.Pid, "error", err)
	}
	select {
	case <-exited:
		return
	case <-time.After(killGrace):
	}
	if err := signalKill(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("[supervisor] SIGKILL failed", "pid", proc.Pid, "error", err)
	}
}

// readyGate is the one-shot "process has started successfully" signal a
// caller blocks on after a synchronous Spawn call hands back control to
// asynchronous goroutines, per the synchronous-spawn-with-async-children
// pattern.
type readyGate struct {
	once sync.Once
	ch   chan struct{}
}

func newReadyGate() *readyGate {
	return &readyGate{ch: make(chan struct{})}
}

func (g *readyGate) signal() {
	g.once.Do(func() { close(g.ch) })
}

// Await blocks until the gate is signaled or spawnReadyTimeout elapses.
func (g *readyGate) Await(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-time.After(spawnReadyTimeout):
		return errors.New("supervisor: spawn readiness timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loginShellArgs wraps command/args so it runs through the user's
// login-interactive shell, inheriting PATH and other environment setup the
// same way an interactive terminal session would.
func loginShellArgs(command string, args []string) (shell string, shellArgs []string) {
	if runtime.GOOS == "windows" {
		full := append([]string{"/C", command}, args...)
		return "cmd.exe", full
	}
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/sh"
	}
	script := command
	for _, a := range args {
		script += " " + shellQuote(a)
	}
	return sh, []string{"-l", "-c", script}
}

func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

// augmentedPath returns os.Getenv("PATH") extended with well-known tool
// directories a login shell on the host usually already has, so a
// non-interactively-spawned child still finds common toolchains.
func augmentedPath() string {
	existing := os.Getenv("PATH")
	extra := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	home, err := os.UserHomeDir()
	if err == nil {
		extra = append(extra, home+"/.local/bin", home+"/go/bin", home+"/.cargo/bin")
	}
	sep := string(os.PathListSeparator)
	result := existing
	for _, dir := range extra {
		if result == "" {
			result = dir
			continue
		}
		result = result + sep + dir
	}
	return result
}

// baseEnv returns the environment a spawned child should inherit: the
// current process environment plus PATH augmentation, TERM, and a UTF-8
// locale, matching what an interactive terminal session would set up.
func baseEnv() []string {
	env := os.Environ()
	env = append(env,
		"PATH="+augmentedPath(),
		"TERM=xterm-256color",
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
	)
	return env
}
