// Package store persists sessions, folders, scrollback, recently-closed
// history, and paired devices to a local SQLite database. Schema creation is
// idempotent and migrations are additive, so opening an older database file
// never loses data.
package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"
)

// recentlyClosedCap bounds how many recently-closed sessions are retained;
// inserting past this cap evicts the oldest entries in the same transaction.
const recentlyClosedCap = 10

// Store wraps the SQLite connection used for all hub persistence.
type Store struct {
	db *sql.DB
}

// Session is one persisted session row.
type Session struct {
	ID         string
	Name       string
	AgentKind  string
	Command    string
	WorkingDir string
	CreatedAt  time.Time
	ForeignID  sql.NullString
	SortOrder  int
	FolderID   sql.NullString
	LastPID    sql.NullInt64
}

// Folder is one persisted session-grouping folder.
type Folder struct {
	ID        string
	Name      string
	SortOrder int
	Collapsed bool
}

// RecentlyClosed is a historical record kept for "undo close".
type RecentlyClosed struct {
	ID         string
	Name       string
	AgentKind  string
	Command    string
	WorkingDir string
	ForeignID  sql.NullString
	ClosedAt   time.Time
}

// PairedDevice is a remote client that completed the pairing flow.
type PairedDevice struct {
	Token    string
	ID       string
	Name     string
	PairedAt time.Time
	LastSeen time.Time
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists, applying additive migrations as needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite connections aren't safe for concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			agent_kind TEXT NOT NULL,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			created_at TEXT NOT NULL,
			foreign_id TEXT,
			sort_order INTEGER NOT NULL DEFAULT 0,
			folder_id TEXT,
			last_pid INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			collapsed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS scrollback (
			session_id TEXT PRIMARY KEY,
			buffer_data BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS recently_closed (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			agent_kind TEXT NOT NULL,
			command TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			foreign_id TEXT,
			closed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS paired_devices (
			token TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			paired_at TEXT NOT NULL,
			last_seen TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// LoadSessions returns every session row ordered by sort order ascending,
// then creation time descending within ties.
func (s *Store) LoadSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, agent_kind, command, working_dir, created_at, foreign_id, sort_order, folder_id, last_pid FROM sessions ORDER BY sort_order ASC, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.AgentKind, &sess.Command, &sess.WorkingDir, &createdAt, &sess.ForeignID, &sess.SortOrder, &sess.FolderID, &sess.LastPID); err != nil {
			return nil, err
		}
		sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse created_at for session %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpsertSession inserts or replaces a session row.
func (s *Store) UpsertSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, name, agent_kind, command, working_dir, created_at, foreign_id, sort_order, folder_id, last_pid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, agent_kind=excluded.agent_kind, command=excluded.command,
			working_dir=excluded.working_dir, foreign_id=excluded.foreign_id, sort_order=excluded.sort_order,
			folder_id=excluded.folder_id, last_pid=excluded.last_pid`,
		sess.ID, sess.Name, sess.AgentKind, sess.Command, sess.WorkingDir,
		sess.CreatedAt.Format(time.RFC3339Nano), sess.ForeignID, sess.SortOrder, sess.FolderID, sess.LastPID)
	return err
}

// DeleteSession removes a session row; scrollback cascades via the foreign
// key, but modernc.org/sqlite does not enforce FKs by default so we delete
// scrollback explicitly in the same transaction.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scrollback WHERE session_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateSortOrders applies a batch of (id, sortOrder) pairs idempotently.
func (s *Store) UpdateSortOrders(ctx context.Context, orders map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE sessions SET sort_order = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, order := range orders {
		if _, err := stmt.ExecContext(ctx, order, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateForeignID records a post-spawn detected foreign agent session id.
func (s *Store) UpdateForeignID(ctx context.Context, sessionID, foreignID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET foreign_id = ? WHERE id = ?`, foreignID, sessionID)
	return err
}

// UpdateLastPID records (or clears, with 0) the session's last known PID.
func (s *Store) UpdateLastPID(ctx context.Context, sessionID string, pid int) error {
	if pid <= 0 {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_pid = NULL WHERE id = ?`, sessionID)
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_pid = ? WHERE id = ?`, pid, sessionID)
	return err
}

// LoadFolders returns every folder ordered by sort order.
func (s *Store) LoadFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, sort_order, collapsed FROM folders ORDER BY sort_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		var collapsed int
		if err := rows.Scan(&f.ID, &f.Name, &f.SortOrder, &collapsed); err != nil {
			return nil, err
		}
		f.Collapsed = collapsed != 0
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// UpsertFolder inserts or replaces a folder row.
func (s *Store) UpsertFolder(ctx context.Context, f Folder) error {
	collapsed := 0
	if f.Collapsed {
		collapsed = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO folders (id, name, sort_order, collapsed) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, sort_order=excluded.sort_order, collapsed=excluded.collapsed`,
		f.ID, f.Name, f.SortOrder, collapsed)
	return err
}

// DeleteFolder removes a folder; sessions referencing it keep their row but
// lose the association, matching the "delete cascades to scrollback only"
// rule for sessions.
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET folder_id = NULL WHERE folder_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveScrollback gzip-compresses and persists a session's terminal buffer.
func (s *Store) SaveScrollback(ctx context.Context, sessionID string, data []byte) error {
	compressed, err := gzipCompress(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO scrollback (session_id, buffer_data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET buffer_data=excluded.buffer_data, updated_at=excluded.updated_at`,
		sessionID, compressed, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// LoadScrollback returns the decompressed buffer for sessionID, or
// (nil, false) if none is stored.
func (s *Store) LoadScrollback(ctx context.Context, sessionID string) ([]byte, bool, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT buffer_data FROM scrollback WHERE session_id = ?`, sessionID).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := gzipDecompress(compressed)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// DeleteScrollback removes a session's stored buffer.
func (s *Store) DeleteScrollback(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scrollback WHERE session_id = ?`, sessionID)
	return err
}

// SaveRecentlyClosed inserts a record and evicts the oldest entries past
// recentlyClosedCap, all within one transaction.
func (s *Store) SaveRecentlyClosed(ctx context.Context, rc RecentlyClosed) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO recently_closed (id, name, agent_kind, command, working_dir, foreign_id, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.Name, rc.AgentKind, rc.Command, rc.WorkingDir, rc.ForeignID, rc.ClosedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM recently_closed WHERE id NOT IN (
		SELECT id FROM recently_closed ORDER BY closed_at DESC LIMIT ?
	)`, recentlyClosedCap)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListRecentlyClosed returns entries newest-first.
func (s *Store) ListRecentlyClosed(ctx context.Context) ([]RecentlyClosed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, agent_kind, command, working_dir, foreign_id, closed_at FROM recently_closed ORDER BY closed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecentlyClosed
	for rows.Next() {
		var rc RecentlyClosed
		var closedAt string
		if err := rows.Scan(&rc.ID, &rc.Name, &rc.AgentKind, &rc.Command, &rc.WorkingDir, &rc.ForeignID, &closedAt); err != nil {
			return nil, err
		}
		rc.ClosedAt, err = time.Parse(time.RFC3339Nano, closedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// DeleteRecentlyClosed removes one entry, e.g. once it has been restored.
func (s *Store) DeleteRecentlyClosed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recently_closed WHERE id = ?`, id)
	return err
}

// UpsertPairedDevice inserts or updates a paired device record.
func (s *Store) UpsertPairedDevice(ctx context.Context, d PairedDevice) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO paired_devices (token, id, name, paired_at, last_seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET last_seen=excluded.last_seen`,
		d.Token, d.ID, d.Name, d.PairedAt.Format(time.RFC3339Nano), d.LastSeen.Format(time.RFC3339Nano))
	return err
}

// DeletePairedDevice revokes a device's token.
func (s *Store) DeletePairedDevice(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM paired_devices WHERE token = ?`, token)
	return err
}

// LoadPairedDevices returns every paired device, used to rehydrate the
// in-memory token table at startup.
func (s *Store) LoadPairedDevices(ctx context.Context) ([]PairedDevice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token, id, name, paired_at, last_seen FROM paired_devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairedDevice
	for rows.Next() {
		var d PairedDevice
		var pairedAt, lastSeen string
		if err := rows.Scan(&d.Token, &d.ID, &d.Name, &pairedAt, &lastSeen); err != nil {
			return nil, err
		}
		d.PairedAt, err = time.Parse(time.RFC3339Nano, pairedAt)
		if err != nil {
			return nil, err
		}
		d.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
