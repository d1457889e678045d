package store

import (
	"database/sql"
	"fmt"
)

// Activity is one atomic observed event, already sanitized upstream.
// Immutable once inserted; ContextID is assigned when the ingestion
// coordinator places it in a context.
type Activity struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"ts"` // unix millis
	DurationMS int64  `json:"duration_ms"`
	Kind       string `json:"kind"` // window_focus, file_access, url_visit, ...
	App        string `json:"app,omitempty"`
	Target     string `json:"target,omitempty"` // file path, URL, or window title
	Payload    string `json:"payload,omitempty"`
	ContextID  string `json:"context_id,omitempty"`
}

// InsertActivity stores an activity and assigns its ID.
func (db *DB) InsertActivity(a *Activity) error {
	result, err := db.Exec(`
		INSERT INTO activities (ts, duration_ms, kind, app, target, payload, context_id)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))
	`, a.Timestamp, a.DurationMS, a.Kind, a.App, a.Target, a.Payload, a.ContextID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	a.ID, _ = result.LastInsertId()
	return nil
}

// RecentActivities returns up to limit activities with ts >= since,
// newest first.
func (db *DB) RecentActivities(since int64, limit int) ([]Activity, error) {
	rows, err := db.Query(`
		SELECT id, ts, duration_ms, kind, app, target, payload, context_id
		FROM activities WHERE ts >= ?
		ORDER BY ts DESC, id DESC LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activities: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ActivitiesForContext returns a context's member activities in insertion
// order (chronological occurrence).
func (db *DB) ActivitiesForContext(contextID string) ([]Activity, error) {
	rows, err := db.Query(`
		SELECT a.id, a.ts, a.duration_ms, a.kind, a.app, a.target, a.payload, a.context_id
		FROM activities a
		JOIN context_activities ca ON ca.activity_id = a.id
		WHERE ca.context_id = ?
		ORDER BY ca.ordinal
	`, contextID)
	if err != nil {
		return nil, fmt.Errorf("activities for context: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// CountActivities returns the total number of stored activities.
func (db *DB) CountActivities() (int, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM activities").Scan(&count)
	return count, err
}

func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var activities []Activity
	for rows.Next() {
		var a Activity
		var app, target, payload, contextID sql.NullString
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.DurationMS, &a.Kind,
			&app, &target, &payload, &contextID); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.App = app.String
		a.Target = target.String
		a.Payload = payload.String
		a.ContextID = contextID.String
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
