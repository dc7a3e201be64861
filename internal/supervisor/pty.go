package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"agenthub/internal/detector"
	"agenthub/internal/registry"
	"agenthub/internal/terminal"
	"agenthub/internal/workerutil"
)

// PTYConfig configures a PTY-variant spawn.
type PTYConfig struct {
	SessionID string
	Command   string
	Args      []string
	WorkDir   string
	Columns   int
	Rows      int
	Env       []string
	Hooks     Hooks
	ForeignID ForeignIDConfig

	// Install, if set, runs once the supervisor handle exists but strictly
	// before the reader goroutine starts producing output — the caller's
	// chance to record the handle as live and broadcast its running status
	// before any output can reach a subscriber.
	Install func(sup registry.Supervisor) error
}

// ForeignIDConfig turns on the post-spawn foreign-agent-id detection worker
// for agent kinds that own their own conversation identifier.
type ForeignIDConfig struct {
	Enabled      bool
	ProjectsRoot string
}

// PTY supervises one PTY-backed child process.
type PTY struct {
	sessionID string
	term      *terminal.Terminal
	hooks     Hooks
	ready     *readyGate
	exitOnce  sync.Once
	exited    chan struct{}
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// SpawnPTY opens a pseudo-terminal, launches command through the user's
// login-interactive shell, and returns once the process has started. The
// returned *PTY satisfies registry.Supervisor.
func SpawnPTY(ctx context.Context, cfg PTYConfig) (*PTY, error) {
	shell, shellArgs := loginShellArgs(cfg.Command, cfg.Args)

	env := cfg.Env
	if len(env) == 0 {
		env = baseEnv()
	}

	term, err := terminal.Start(terminal.Config{
		Shell:   shell,
		Args:    shellArgs,
		Dir:     cfg.WorkDir,
		Env:     env,
		Columns: cfg.Columns,
		Rows:    cfg.Rows,
	})
	if err != nil {
		return nil, err
	}

	p := &PTY{
		sessionID: cfg.SessionID,
		term:      term,
		hooks:     cfg.Hooks,
		ready:     newReadyGate(),
		exited:    make(chan struct{}),
	}

	if cfg.Install != nil {
		if err := cfg.Install(p); err != nil {
			_ = term.Close()
			return nil, err
		}
	}

	spawnTime := timeNow()
	// MaxRetries: 1 — these are one-shot tasks tied to this PTY's lifetime; a
	// panic mid-read leaves terminal state in an unknown shape, so recovery
	// logs and exits rather than restarting against it.
	workerutil.RunWithPanicRecovery(ctx, "pty-readloop-"+p.sessionID, &p.wg,
		func(context.Context) { p.readLoop() },
		workerutil.RecoveryOptions{MaxRetries: 1})
	p.ready.signal()

	if cfg.ForeignID.Enabled {
		workerutil.RunWithPanicRecovery(ctx, "pty-foreign-id-"+p.sessionID, &p.wg,
			func(ctx context.Context) { p.detectForeignID(ctx, cfg.ForeignID.ProjectsRoot, cfg.WorkDir, spawnTime) },
			workerutil.RecoveryOptions{MaxRetries: 1})
	}

	if err := p.ready.Await(ctx); err != nil {
		p.Kill()
		return nil, err
	}
	return p, nil
}

func (p *PTY) readLoop() {
	p.term.ReadLoop(func(chunk []byte) {
		if p.hooks.OnOutput != nil {
			cp := append([]byte(nil), chunk...)
			p.hooks.OnOutput(OutputEvent{SessionID: p.sessionID, Data: cp})
		}
	})
	p.finish()
}

func (p *PTY) finish() {
	p.exitOnce.Do(func() {
		close(p.exited)
		if p.hooks.OnExit != nil {
			p.hooks.OnExit(ExitEvent{SessionID: p.sessionID, Kind: ExitClean})
		}
	})
}

func (p *PTY) detectForeignID(ctx context.Context, root, workDir string, spawnTime time.Time) {
	id, ok := detector.Detect(ctx, root, workDir, spawnTime)
	if !ok {
		return
	}
	if p.hooks.OnForeignID != nil {
		p.hooks.OnForeignID(p.sessionID, id)
	}
}

// Write sends input bytes into the PTY master.
func (p *PTY) Write(data []byte) error {
	if p.closed.Load() {
		return errors.New("supervisor: pty closed")
	}
	_, err := p.term.Write(data)
	return err
}

// Resize updates the PTY window size.
func (p *PTY) Resize(cols, rows int) error {
	return p.term.Resize(cols, rows)
}

// Interrupt writes a single ETX (0x03) byte into the master, the PTY
// equivalent of sending SIGINT to a foreground process group.
func (p *PTY) Interrupt() error {
	_, err := p.term.Write([]byte{0x03})
	return err
}

// Kill terminates the underlying process and releases the PTY.
func (p *PTY) Kill() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	proc := p.process()
	if proc != nil {
		killProcess(proc, p.exited)
	}
	err := p.term.Close()
	p.finish()
	return err
}

func (p *PTY) process() *os.Process {
	pid := p.term.PID()
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		slog.Debug("[supervisor] pty FindProcess failed", "pid", pid, "error", err)
		return nil
	}
	return proc
}

// Mode reports this is a PTY-variant supervisor.
func (p *PTY) Mode() string { return ModePTY }

// PID returns the child process id, or 0 if unavailable.
func (p *PTY) PID() int { return p.term.PID() }

// timeNow exists as a seam so tests can stub spawn-time comparisons if ever
// needed; production code always uses wall-clock time.
var timeNow = time.Now
