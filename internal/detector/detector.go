// Package detector maps a freshly spawned agent to its externally-owned
// foreign session id by watching a known directory for a new record file
// that appears after spawn time. Grounded on the directory-naming and
// newest-match rules of the original jamesbillinger/agent-hub
// detect_claude_session_id scan.
package detector

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// pollBackoff is the increasing-interval polling fallback used when
// fsnotify is unavailable (e.g. on some network mounts), and as the
// re-check cadence alongside the fsnotify watch. Polling stops on first hit
// or once this sequence is exhausted.
var pollBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// ProjectDir computes the directory detector watches for a given working
// directory: the working directory path with '/' replaced by '-' and any
// leading '-' stripped, nested under root.
func ProjectDir(root, workingDir string) string {
	slug := strings.ReplaceAll(workingDir, string(filepath.Separator), "-")
	slug = strings.TrimPrefix(slug, "-")
	return filepath.Join(root, "-"+slug)
}

// Detect watches ProjectDir(root, workingDir) for the first *.jsonl file
// whose name stem is UUID-shaped and whose mtime is strictly after
// spawnTime. It tries fsnotify first and falls back to polling on the same
// backoff schedule if the watch cannot be established (directory missing
// yet, platform limitation). It returns ("", false) if nothing is found
// before the backoff sequence is exhausted or ctx is cancelled — per the
// spec's open question, an external system that changes its naming rules is
// simply "no id detected", not an error.
func Detect(ctx context.Context, root, workingDir string, spawnTime time.Time) (string, bool) {
	dir := ProjectDir(root, workingDir)

	if id, ok := scanOnce(dir, spawnTime); ok {
		return id, true
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if watchErr := watcher.Add(dir); watchErr == nil {
			return watchLoop(ctx, watcher, dir, spawnTime)
		}
		slog.Debug("[detector] fsnotify watch unavailable, falling back to polling", "dir", dir, "error", watchErr)
	} else {
		slog.Debug("[detector] fsnotify unavailable, falling back to polling", "error", err)
	}

	return pollLoop(ctx, dir, spawnTime)
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, dir string, spawnTime time.Time) (string, bool) {
	deadline := time.NewTimer(totalBackoff())
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-deadline.C:
			return "", false
		case event, ok := <-watcher.Events:
			if !ok {
				return "", false
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if id, ok := candidateFromPath(event.Name, spawnTime); ok {
				return id, true
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return "", false
			}
			slog.Debug("[detector] fsnotify error, falling back to polling", "dir", dir, "error", watchErr)
			return pollLoop(ctx, dir, spawnTime)
		}
	}
}

func pollLoop(ctx context.Context, dir string, spawnTime time.Time) (string, bool) {
	for _, interval := range pollBackoff {
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false
		case <-timer.C:
		}
		if id, ok := scanOnce(dir, spawnTime); ok {
			return id, true
		}
	}
	return "", false
}

func totalBackoff() time.Duration {
	var total time.Duration
	for _, d := range pollBackoff {
		total += d
	}
	return total
}

// scanOnce lists dir for the newest .jsonl file with mtime strictly after
// spawnTime and a UUID-shaped stem, mirroring the original implementation's
// "keep newest mtime" tie-break.
func scanOnce(dir string, spawnTime time.Time) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var bestID string
	var bestMTime time.Time
	found := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		stem := strings.TrimSuffix(name, ".jsonl")
		if !looksLikeUUID(stem) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(spawnTime) {
			continue
		}
		if !found || info.ModTime().After(bestMTime) {
			bestID = stem
			bestMTime = info.ModTime()
			found = true
		}
	}
	return bestID, found
}

func candidateFromPath(path string, spawnTime time.Time) (string, bool) {
	name := filepath.Base(path)
	if filepath.Ext(name) != ".jsonl" {
		return "", false
	}
	stem := strings.TrimSuffix(name, ".jsonl")
	if !looksLikeUUID(stem) {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if !info.ModTime().After(spawnTime) {
		return "", false
	}
	return stem, true
}

// looksLikeUUID validates shape only (length 36, dashes in the right
// places), matching the original's "len==36, exactly 4 '-' chars" check
// rather than requiring full RFC-4122 conformance.
func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	if strings.Count(s, "-") != 4 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
