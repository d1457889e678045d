package store

import (
	"database/sql"
	"fmt"
)

// GraphSnapshot is the stored serialized graph state. Payload is the JSON
// encoding of the graph package's snapshot type; the store treats it as
// opaque bytes.
type GraphSnapshot struct {
	Version int
	SavedAt int64
	Payload []byte
}

// SaveGraphSnapshot replaces the stored snapshot. Delete and insert run in
// one transaction so the snapshot is either fully written or not at all.
func (db *DB) SaveGraphSnapshot(s GraphSnapshot) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot save: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM graph_snapshots"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear snapshot: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO graph_snapshots (id, version, saved_at, payload)
		VALUES (1, ?, ?, ?)
	`, s.Version, s.SavedAt, s.Payload); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadGraphSnapshot returns the stored snapshot, or nil if none exists.
func (db *DB) LoadGraphSnapshot() (*GraphSnapshot, error) {
	var s GraphSnapshot
	err := db.QueryRow(`
		SELECT version, saved_at, payload FROM graph_snapshots WHERE id = 1
	`).Scan(&s.Version, &s.SavedAt, &s.Payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &s, nil
}
