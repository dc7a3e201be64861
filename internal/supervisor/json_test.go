package supervisor

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnJSONReadsStdoutLinesAndTracksProcessing(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-specific shell invocation")
	}

	var mu sync.Mutex
	var lines [][]byte
	var processingStates []bool
	exited := make(chan ExitEvent, 1)

	hooks := ProcessingHooks{
		Hooks: Hooks{
			OnOutput: func(e OutputEvent) {
				mu.Lock()
				lines = append(lines, e.Line)
				mu.Unlock()
			},
			OnExit: func(e ExitEvent) { exited <- e },
		},
		OnProcessing: func(_ string, processing bool) {
			mu.Lock()
			processingStates = append(processingStates, processing)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	script := `echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}'; echo '{"type":"result","result":"done"}'`
	j, err := SpawnJSON(ctx, JSONConfig{
		SessionID: "j1",
		Command:   "sh",
		Args:      []string{"-c", script},
	}, hooks)
	require.NoError(t, err)
	require.Equal(t, ModeJSON, j.Mode())

	select {
	case e := <-exited:
		require.Equal(t, "j1", e.SessionID)
		require.Equal(t, ExitClean, e.Kind)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2)
	require.Equal(t, []bool{true, false}, processingStates)
}

func TestJSONWriteDeliversToChildStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-specific shell invocation")
	}

	var mu sync.Mutex
	var lines [][]byte
	exited := make(chan struct{})

	hooks := ProcessingHooks{
		Hooks: Hooks{
			OnOutput: func(e OutputEvent) {
				mu.Lock()
				lines = append(lines, e.Line)
				mu.Unlock()
			},
			OnExit: func(ExitEvent) { close(exited) },
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := SpawnJSON(ctx, JSONConfig{
		SessionID: "j2",
		Command:   "cat",
	}, hooks)
	require.NoError(t, err)

	require.NoError(t, j.Write([]byte("{\"type\":\"user\"}\n")))
	time.Sleep(100 * time.Millisecond) // let cat echo the line before we tear it down
	require.NoError(t, j.Kill())

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, string(lines[0]), `"type":"user"`)
}

func TestJSONInterruptReturnsErrorWhenNoProcess(t *testing.T) {
	j := &JSON{exited: make(chan struct{})}
	err := j.Interrupt()
	require.Error(t, err)
}

func TestJSONResizeIsNoOp(t *testing.T) {
	j := &JSON{}
	require.NoError(t, j.Resize(80, 24))
}
