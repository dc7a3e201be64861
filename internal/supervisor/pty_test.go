package supervisor

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnPTYEmitsOutputAndExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-specific shell invocation")
	}

	var mu sync.Mutex
	var output []byte
	exited := make(chan ExitEvent, 1)

	hooks := Hooks{
		OnOutput: func(e OutputEvent) {
			mu.Lock()
			output = append(output, e.Data...)
			mu.Unlock()
		},
		OnExit: func(e ExitEvent) {
			exited <- e
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := SpawnPTY(ctx, PTYConfig{
		SessionID: "s1",
		Command:   "echo",
		Args:      []string{"hello-pty"},
		Columns:   80,
		Rows:      24,
		Hooks:     hooks,
	})
	require.NoError(t, err)
	require.Equal(t, ModePTY, p.Mode())
	require.Greater(t, p.PID(), 0)

	select {
	case e := <-exited:
		require.Equal(t, "s1", e.SessionID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for exit event")
	}

	mu.Lock()
	got := string(output)
	mu.Unlock()
	require.Contains(t, got, "hello-pty")
}

func TestPTYInterruptWritesETXByte(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-specific shell invocation")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := SpawnPTY(ctx, PTYConfig{
		SessionID: "s2",
		Command:   "sleep",
		Args:      []string{"30"},
		Columns:   80,
		Rows:      24,
	})
	require.NoError(t, err)
	defer p.Kill()

	require.NoError(t, p.Interrupt())
}

func TestPTYKillTerminatesLongRunningProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-specific shell invocation")
	}

	exited := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := SpawnPTY(ctx, PTYConfig{
		SessionID: "s3",
		Command:   "sleep",
		Args:      []string{"30"},
		Columns:   80,
		Rows:      24,
		Hooks: Hooks{
			OnExit: func(ExitEvent) { close(exited) },
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.Kill())

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for kill to be observed")
	}
}
