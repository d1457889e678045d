package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "activities: sanitized event log",
		SQL: `
CREATE TABLE activities (
    id          INTEGER PRIMARY KEY,
    ts          INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    kind        TEXT NOT NULL,
    app         TEXT,
    target      TEXT,
    payload     TEXT,
    context_id  TEXT
);

CREATE INDEX idx_activities_ts      ON activities(ts DESC);
CREATE INDEX idx_activities_app     ON activities(app);
CREATE INDEX idx_activities_context ON activities(context_id);
`,
	},
	{
		Version:     2,
		Description: "contexts: bounded episodes of related activity",
		SQL: `
CREATE TABLE contexts (
    id             TEXT PRIMARY KEY,
    started_at     INTEGER NOT NULL,
    ended_at       INTEGER,
    last_activity  INTEGER NOT NULL,
    summary        TEXT,
    activity_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_contexts_started ON contexts(started_at DESC);
CREATE INDEX idx_contexts_ended   ON contexts(ended_at);
`,
	},
	{
		Version:     3,
		Description: "context_activities: ordered membership",
		SQL: `
CREATE TABLE context_activities (
    context_id  TEXT NOT NULL,
    activity_id INTEGER NOT NULL,
    ordinal     INTEGER NOT NULL,
    PRIMARY KEY (context_id, activity_id),
    FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE,
    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE
);

CREATE INDEX idx_ctx_act_ordinal ON context_activities(context_id, ordinal);
`,
	},
	{
		Version:     4,
		Description: "context_vectors: summary embeddings for similarity",
		SQL: `
CREATE TABLE context_vectors (
    context_id TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (context_id) REFERENCES contexts(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     5,
		Description: "graph_snapshots: versioned temporal graph state",
		SQL: `
CREATE TABLE graph_snapshots (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    version  INTEGER NOT NULL,
    saved_at INTEGER NOT NULL,
    payload  BLOB NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
