package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndLoadSessionsOrdersBySortOrderThenCreatedDesc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: base, SortOrder: 1}))
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "b", Name: "B", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: base.Add(time.Minute), SortOrder: 0}))
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "c", Name: "C", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: base.Add(2 * time.Minute), SortOrder: 0}))

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{sessions[0].ID, sessions[1].ID, sessions[2].ID})
}

func TestUpsertSessionIsIdempotentUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: now}))
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A-renamed", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: now}))

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "A-renamed", sessions[0].Name)
}

func TestDeleteSessionCascadesScrollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: time.Now()}))
	require.NoError(t, s.SaveScrollback(ctx, "a", []byte("hello scrollback")))

	require.NoError(t, s.DeleteSession(ctx, "a"))

	_, found, err := s.LoadScrollback(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestUpdateSortOrdersIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "b", Name: "B", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: time.Now()}))

	require.NoError(t, s.UpdateSortOrders(ctx, map[string]int{"a": 5, "b": 1}))
	require.NoError(t, s.UpdateSortOrders(ctx, map[string]int{"a": 5, "b": 1}))

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", sessions[0].ID)
	require.Equal(t, "a", sessions[1].ID)
}

func TestUpdateForeignIDPersists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "json-agent", Command: "claude", WorkingDir: "/tmp", CreatedAt: time.Now()}))
	require.NoError(t, s.UpdateForeignID(ctx, "a", "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b"))

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.True(t, sessions[0].ForeignID.Valid)
	require.Equal(t, "b3b7f9a0-1c2d-4e5f-8a9b-0c1d2e3f4a5b", sessions[0].ForeignID.String)
}

func TestUpdateLastPIDClearsWithZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: time.Now()}))
	require.NoError(t, s.UpdateLastPID(ctx, "a", 4242))

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.True(t, sessions[0].LastPID.Valid)
	require.EqualValues(t, 4242, sessions[0].LastPID.Int64)

	require.NoError(t, s.UpdateLastPID(ctx, "a", 0))
	sessions, err = s.LoadSessions(ctx)
	require.NoError(t, err)
	require.False(t, sessions[0].LastPID.Valid)
}

func TestFolderDeleteClearsSessionAssociationNotSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertFolder(ctx, Folder{ID: "f1", Name: "Work", SortOrder: 0}))
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: time.Now(), FolderID: sql.NullString{String: "f1", Valid: true}}))

	require.NoError(t, s.DeleteFolder(ctx, "f1"))

	sessions, err := s.LoadSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.False(t, sessions[0].FolderID.Valid)

	folders, err := s.LoadFolders(ctx)
	require.NoError(t, err)
	require.Empty(t, folders)
}

func TestScrollbackRoundTripsThroughGzip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertSession(ctx, Session{ID: "a", Name: "A", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", CreatedAt: time.Now()}))

	payload := []byte("some terminal output\nwith multiple lines\n")
	require.NoError(t, s.SaveScrollback(ctx, "a", payload))

	got, found, err := s.LoadScrollback(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, payload, got)
}

func TestLoadScrollbackMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.LoadScrollback(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSaveRecentlyClosedEvictsBeyondCap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < recentlyClosedCap+3; i++ {
		err := s.SaveRecentlyClosed(ctx, RecentlyClosed{
			ID: sessionLabel(i), Name: sessionLabel(i), AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp",
			ClosedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	entries, err := s.ListRecentlyClosed(ctx)
	require.NoError(t, err)
	require.Len(t, entries, recentlyClosedCap)
	require.Equal(t, sessionLabel(recentlyClosedCap+2), entries[0].ID)
}

func TestDeleteRecentlyClosedRemovesOneEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRecentlyClosed(ctx, RecentlyClosed{ID: "r1", Name: "R1", AgentKind: "pty-shell", Command: "sh", WorkingDir: "/tmp", ClosedAt: time.Now()}))
	require.NoError(t, s.DeleteRecentlyClosed(ctx, "r1"))

	entries, err := s.ListRecentlyClosed(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPairedDeviceUpsertAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertPairedDevice(ctx, PairedDevice{Token: "tok1", ID: "d1", Name: "Phone", PairedAt: now, LastSeen: now}))
	devices, err := s.LoadPairedDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "Phone", devices[0].Name)

	require.NoError(t, s.DeletePairedDevice(ctx, "tok1"))
	devices, err = s.LoadPairedDevices(ctx)
	require.NoError(t, err)
	require.Empty(t, devices)
}

func sessionLabel(i int) string {
	return "rc-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
