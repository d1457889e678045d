package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Context is a bounded episode of related activity. EndedAt is nil while the
// context is open; a closed context is immutable apart from graph edges.
type Context struct {
	ID            string `json:"id"`
	StartedAt     int64  `json:"started_at"` // unix millis
	EndedAt       *int64 `json:"ended_at,omitempty"`
	LastActivity  int64  `json:"last_activity"`
	Summary       string `json:"summary,omitempty"`
	ActivityCount int    `json:"activity_count"`
}

// CreateContext inserts a new open context.
func (db *DB) CreateContext(c *Context) error {
	_, err := db.Exec(`
		INSERT INTO contexts (id, started_at, last_activity, summary, activity_count)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)
	`, c.ID, c.StartedAt, c.LastActivity, c.Summary, c.ActivityCount)
	if err != nil {
		return fmt.Errorf("create context: %w", err)
	}
	return nil
}

// GetContext returns a context by ID, or nil if not found.
func (db *DB) GetContext(id string) (*Context, error) {
	row := db.QueryRow(`
		SELECT id, started_at, ended_at, last_activity, summary, activity_count
		FROM contexts WHERE id = ?
	`, id)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return c, nil
}

// GetContextsByIDs returns contexts for the given IDs, keyed by ID.
func (db *DB) GetContextsByIDs(ids []string) (map[string]Context, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT id, started_at, ended_at, last_activity, summary, activity_count
		FROM contexts WHERE id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get contexts by ids: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Context, len(ids))
	for rows.Next() {
		var c Context
		var endedAt sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&c.ID, &c.StartedAt, &endedAt, &c.LastActivity, &summary, &c.ActivityCount); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		if endedAt.Valid {
			c.EndedAt = &endedAt.Int64
		}
		c.Summary = summary.String
		result[c.ID] = c
	}
	return result, rows.Err()
}

// RecentContexts returns up to limit contexts, most recently started first.
func (db *DB) RecentContexts(limit int) ([]Context, error) {
	rows, err := db.Query(`
		SELECT id, started_at, ended_at, last_activity, summary, activity_count
		FROM contexts ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent contexts: %w", err)
	}
	defer rows.Close()

	var contexts []Context
	for rows.Next() {
		var c Context
		var endedAt sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&c.ID, &c.StartedAt, &endedAt, &c.LastActivity, &summary, &c.ActivityCount); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		if endedAt.Valid {
			c.EndedAt = &endedAt.Int64
		}
		c.Summary = summary.String
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// OpenContext returns the most recently started context that has no end
// timestamp, or nil if none is open.
func (db *DB) OpenContext() (*Context, error) {
	row := db.QueryRow(`
		SELECT id, started_at, ended_at, last_activity, summary, activity_count
		FROM contexts WHERE ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1
	`)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open context: %w", err)
	}
	return c, nil
}

// TouchContext advances a context's last-activity timestamp and bumps its
// member count. The timestamp only moves forward: tolerated out-of-order
// events must not rewind the context's clock.
func (db *DB) TouchContext(id string, lastActivity int64) error {
	_, err := db.Exec(`
		UPDATE contexts
		SET last_activity = MAX(last_activity, ?), activity_count = activity_count + 1
		WHERE id = ?
	`, lastActivity, id)
	if err != nil {
		return fmt.Errorf("touch context: %w", err)
	}
	return nil
}

// CloseContext marks a context ended and records its summary.
func (db *DB) CloseContext(id string, endedAt int64, summary string) error {
	_, err := db.Exec(`
		UPDATE contexts SET ended_at = ?, summary = NULLIF(?, '')
		WHERE id = ?
	`, endedAt, summary, id)
	if err != nil {
		return fmt.Errorf("close context: %w", err)
	}
	return nil
}

// AddContextActivity appends an activity to a context's member list and
// stamps the activity row with the context ID.
func (db *DB) AddContextActivity(contextID string, activityID int64, ordinal int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin add member: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO context_activities (context_id, activity_id, ordinal)
		VALUES (?, ?, ?)
	`, contextID, activityID, ordinal); err != nil {
		tx.Rollback()
		return fmt.Errorf("add context activity: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE activities SET context_id = ? WHERE id = ?
	`, contextID, activityID); err != nil {
		tx.Rollback()
		return fmt.Errorf("stamp activity context: %w", err)
	}
	return tx.Commit()
}

// ClosedContextSummaries returns (id, summary) for closed contexts that have
// a non-empty summary. Used to build the TF-IDF fallback corpus and the
// embed-missing pass.
func (db *DB) ClosedContextSummaries() ([]Context, error) {
	rows, err := db.Query(`
		SELECT id, started_at, ended_at, last_activity, summary, activity_count
		FROM contexts
		WHERE ended_at IS NOT NULL AND summary IS NOT NULL
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("closed context summaries: %w", err)
	}
	defer rows.Close()

	var contexts []Context
	for rows.Next() {
		var c Context
		var endedAt sql.NullInt64
		var summary sql.NullString
		if err := rows.Scan(&c.ID, &c.StartedAt, &endedAt, &c.LastActivity, &summary, &c.ActivityCount); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		if endedAt.Valid {
			c.EndedAt = &endedAt.Int64
		}
		c.Summary = summary.String
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// CountContexts returns the total number of contexts.
func (db *DB) CountContexts() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM contexts").Scan(&count)
	return count, err
}

func scanContext(row *sql.Row) (*Context, error) {
	var c Context
	var endedAt sql.NullInt64
	var summary sql.NullString
	err := row.Scan(&c.ID, &c.StartedAt, &endedAt, &c.LastActivity, &summary, &c.ActivityCount)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Int64
	}
	c.Summary = summary.String
	return &c, nil
}
