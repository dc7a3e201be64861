package detector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProjectDirReplacesSlashesAndStripsLeadingDash(t *testing.T) {
	got := ProjectDir("/root/.claude/projects", "/home/dev/my-app")
	require.Equal(t, filepath.Join("/root/.claude/projects", "-home-dev-my-app"), got)
}

func TestLooksLikeUUIDAcceptsValidUUID(t *testing.T) {
	require.True(t, looksLikeUUID("b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b"))
}

func TestLooksLikeUUIDRejectsWrongLength(t *testing.T) {
	require.False(t, looksLikeUUID("not-a-uuid"))
}

func TestLooksLikeUUIDRejectsWrongDashCount(t *testing.T) {
	id := "b3b7f9a01c2d4e5f8a9b0c1d2e3f4a5b------------------"[:36]
	require.False(t, looksLikeUUID(id))
}

func TestScanOnceFindsNewestMatchingFile(t *testing.T) {
	dir := t.TempDir()
	spawn := time.Now()

	old := "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b.jsonl"
	newer := "c4c8f0b1-2d3e-4f60-9bac-1d2e3f4a5b6c.jsonl"

	writeFileAt(t, dir, old, spawn.Add(10*time.Millisecond))
	writeFileAt(t, dir, newer, spawn.Add(20*time.Millisecond))

	id, ok := scanOnce(dir, spawn)
	require.True(t, ok)
	require.Equal(t, "c4c8f0b1-2d3e-4f60-9bac-1d2e3f4a5b6c", id)
}

func TestScanOnceIgnoresFilesOlderThanSpawnTime(t *testing.T) {
	dir := t.TempDir()
	spawn := time.Now()
	writeFileAt(t, dir, "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b.jsonl", spawn.Add(-time.Hour))

	_, ok := scanOnce(dir, spawn)
	require.False(t, ok)
}

func TestScanOnceIgnoresNonUUIDStems(t *testing.T) {
	dir := t.TempDir()
	spawn := time.Now()
	writeFileAt(t, dir, "scratch.jsonl", spawn.Add(time.Millisecond))

	_, ok := scanOnce(dir, spawn)
	require.False(t, ok)
}

func TestScanOnceIgnoresNonJSONLFiles(t *testing.T) {
	dir := t.TempDir()
	spawn := time.Now()
	writeFileAt(t, dir, "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b.txt", spawn.Add(time.Millisecond))

	_, ok := scanOnce(dir, spawn)
	require.False(t, ok)
}

func TestDetectFindsFileCreatedBeforeWatchStarts(t *testing.T) {
	root := t.TempDir()
	spawn := time.Now()
	dir := ProjectDir(root, "/home/dev/my-app")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeFileAt(t, dir, "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b.jsonl", spawn.Add(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, ok := Detect(ctx, root, "/home/dev/my-app", spawn)
	require.True(t, ok)
	require.Equal(t, "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b", id)
}

func TestDetectReturnsFalseWhenContextCancelledEarly(t *testing.T) {
	root := t.TempDir()
	spawn := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, ok := Detect(ctx, root, "/home/dev/empty-project", spawn)
	require.False(t, ok)
	require.Empty(t, id)
}

func writeFileAt(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}
