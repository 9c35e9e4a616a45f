// Package state persists what must survive a restart: the dirty marker
// that flags a disc away from its home slot, the operation history, and
// the disc catalog.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPath is the default database location.
const DefaultPath = "/var/lib/discbot/discbot.db"

// Store wraps the SQLite database connection. It implements the
// jukebox's Recorder and the media Catalog.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs the schema migrations.
func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

const migrationV1 = `
-- Dirty marker: the source slot of a disc currently away from home.
-- At most one row.
CREATE TABLE IF NOT EXISTS dirty_marker (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    slot INTEGER NOT NULL,
    marked_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Operation history for auditing and the UI.
CREATE TABLE IF NOT EXISTS op_events (
    id INTEGER PRIMARY KEY,
    kind TEXT NOT NULL,
    slot INTEGER,
    ok INTEGER NOT NULL,
    detail TEXT,
    elapsed_ms INTEGER,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_op_events_time ON op_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_op_events_kind ON op_events(kind);

-- Disc catalog: last known disc per slot.
CREATE TABLE IF NOT EXISTS discs (
    id INTEGER PRIMARY KEY,
    slot INTEGER UNIQUE NOT NULL,
    handle TEXT,
    media_type TEXT,
    size_bytes INTEGER,
    first_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Imaging outcomes, newest wins per slot.
CREATE TABLE IF NOT EXISTS backups (
    id INTEGER PRIMARY KEY,
    slot INTEGER NOT NULL,
    image_path TEXT,
    ok INTEGER NOT NULL,
    size_bytes INTEGER,
    error TEXT,
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_backups_slot ON backups(slot);
CREATE INDEX IF NOT EXISTS idx_backups_time ON backups(timestamp);
`

// OpEvent is one recorded operation outcome.
type OpEvent struct {
	ID        int64
	Kind      string
	Slot      int
	OK        bool
	Detail    string
	Elapsed   time.Duration
	Timestamp time.Time
}

// SetDirty records the source slot of the disc currently in the drive.
func (s *Store) SetDirty(slot int) error {
	_, err := s.conn.Exec(`
		INSERT INTO dirty_marker (id, slot) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET slot = excluded.slot, marked_at = CURRENT_TIMESTAMP
	`, slot)
	if err != nil {
		return fmt.Errorf("failed to set dirty marker: %w", err)
	}
	return nil
}

// ClearDirty removes the marker.
func (s *Store) ClearDirty() error {
	if _, err := s.conn.Exec("DELETE FROM dirty_marker WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to clear dirty marker: %w", err)
	}
	return nil
}

// Dirty returns the marked slot, if any.
func (s *Store) Dirty() (int, bool, error) {
	var slot int
	err := s.conn.QueryRow("SELECT slot FROM dirty_marker WHERE id = 1").Scan(&slot)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read dirty marker: %w", err)
	}
	return slot, true, nil
}

// RecordEvent appends one operation outcome to the history.
func (s *Store) RecordEvent(kind string, slot int, ok bool, detail string, elapsed time.Duration) error {
	_, err := s.conn.Exec(`
		INSERT INTO op_events (kind, slot, ok, detail, elapsed_ms)
		VALUES (?, ?, ?, ?, ?)
	`, kind, slot, boolInt(ok), detail, elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent operation outcomes, newest
// first.
func (s *Store) RecentEvents(limit int) ([]*OpEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(`
		SELECT id, kind, slot, ok, detail, elapsed_ms, timestamp
		FROM op_events
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*OpEvent
	for rows.Next() {
		var ev OpEvent
		var ok int
		var elapsedMS int64
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Slot, &ok, &ev.Detail, &elapsedMS, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.OK = ok != 0
		ev.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
