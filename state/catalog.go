package state

import (
	"fmt"
	"time"

	"discbot/media"
)

// Disc is the catalog's last known disc for a slot.
type Disc struct {
	ID        int64
	Slot      int
	Handle    string
	MediaType string
	SizeBytes uint64
	FirstSeen time.Time
	LastSeen  time.Time
}

// Backup is one recorded imaging outcome.
type Backup struct {
	ID        int64
	Slot      int
	ImagePath string
	OK        bool
	SizeBytes uint64
	Error     string
	Timestamp time.Time
}

// RecordDisc notes a disc seen in a slot. One row is kept per slot; a
// repeat sighting refreshes it.
func (s *Store) RecordDisc(slot int, h media.Handle, t media.Type, sizeBytes uint64) (int64, error) {
	_, err := s.conn.Exec(`
		INSERT INTO discs (slot, handle, media_type, size_bytes) VALUES (?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			handle = excluded.handle,
			media_type = excluded.media_type,
			size_bytes = excluded.size_bytes,
			last_seen = CURRENT_TIMESTAMP
	`, slot, string(h), t.String(), int64(sizeBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to record disc: %w", err)
	}

	var id int64
	if err := s.conn.QueryRow("SELECT id FROM discs WHERE slot = ?", slot).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read disc id: %w", err)
	}
	return id, nil
}

// RecordBackupResult notes the outcome of imaging a slot.
func (s *Store) RecordBackupResult(slot int, imagePath string, ok bool, sizeBytes uint64, cause error) {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	// Catalog writes are advisory; a failure here must not disturb the
	// operation that produced the result.
	s.conn.Exec(`
		INSERT INTO backups (slot, image_path, ok, size_bytes, error)
		VALUES (?, ?, ?, ?, ?)
	`, slot, imagePath, boolInt(ok), int64(sizeBytes), detail)
}

// BackupStatus reports a slot's imaging history from its most recent
// backup row.
func (s *Store) BackupStatus(slot int) (media.BackupState, time.Time) {
	var ok int
	var ts time.Time
	err := s.conn.QueryRow(`
		SELECT ok, timestamp FROM backups
		WHERE slot = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, slot).Scan(&ok, &ts)
	if err != nil {
		return media.BackupNever, time.Time{}
	}
	if ok != 0 {
		return media.BackupSucceeded, ts
	}
	return media.BackupFailed, ts
}

// Discs returns the catalog ordered by slot.
func (s *Store) Discs() ([]*Disc, error) {
	rows, err := s.conn.Query(`
		SELECT id, slot, handle, media_type, size_bytes, first_seen, last_seen
		FROM discs
		ORDER BY slot
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query discs: %w", err)
	}
	defer rows.Close()

	var discs []*Disc
	for rows.Next() {
		var d Disc
		var size int64
		if err := rows.Scan(&d.ID, &d.Slot, &d.Handle, &d.MediaType, &size, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, err
		}
		d.SizeBytes = uint64(size)
		discs = append(discs, &d)
	}
	return discs, rows.Err()
}

// Backups returns a slot's imaging history, newest first.
func (s *Store) Backups(slot int, limit int) ([]*Backup, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.Query(`
		SELECT id, slot, image_path, ok, size_bytes, error, timestamp
		FROM backups
		WHERE slot = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, slot, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	var backups []*Backup
	for rows.Next() {
		var b Backup
		var ok int
		var size int64
		if err := rows.Scan(&b.ID, &b.Slot, &b.ImagePath, &ok, &size, &b.Error, &b.Timestamp); err != nil {
			return nil, err
		}
		b.OK = ok != 0
		b.SizeBytes = uint64(size)
		backups = append(backups, &b)
	}
	return backups, rows.Err()
}

var _ media.Catalog = (*Store)(nil)
