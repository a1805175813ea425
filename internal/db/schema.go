package db

import (
	"database/sql"
	"fmt"
)

// SchemaSQL is the complete schema for fresh installs.
// This schema reflects the current state after all migrations.
//
// This is the SINGLE SOURCE OF TRUTH for the database schema. All tests use
// this schema via GetSchemaSQL(). If repository code references a column
// that doesn't exist here, tests fail immediately with "no such column".
//
// When adding new columns or tables:
//  1. Add a migration in migrations.go
//  2. Update SchemaSQL here
//  3. Run `make test` to verify alignment
const SchemaSQL = `
-- Ownership lock (at most one row)
CREATE TABLE IF NOT EXISTS stage_lock (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	token TEXT NOT NULL,
	owner TEXT NOT NULL,
	stage_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);

-- Stages
CREATE TABLE IF NOT EXISTS stages (
	id TEXT PRIMARY KEY,
	directory TEXT NOT NULL,
	phase TEXT NOT NULL CHECK(phase IN ('uncreated', 'created', 'requiring', 'required', 'applying', 'applied', 'destroyed', 'failed')),
	owner TEXT NOT NULL,
	active_hash TEXT NOT NULL DEFAULT '',
	constraints TEXT NOT NULL DEFAULT '[]',
	dev_constraints TEXT NOT NULL DEFAULT '[]',
	apply_started_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- Destroyed stages, looked up by the token that owned them
CREATE TABLE IF NOT EXISTS destroyed_stages (
	stage_id TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	destroyed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_destroyed_stages_token ON destroyed_stages(token);

-- Lifecycle event audit log
CREATE TABLE IF NOT EXISTS stage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	stage_id TEXT NOT NULL DEFAULT '',
	event TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stage_events_stage ON stage_events(stage_id, id);
`

// InitSchema creates the database schema or runs pending migrations.
func InitSchema(db *sql.DB) error {
	// Check if schema_version table exists to determine if this is a fresh install
	var tableCount int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableCount)
	if err != nil {
		return err
	}

	if tableCount > 0 {
		return RunMigrations(db)
	}

	// Fresh install - create the current schema directly and mark every
	// migration as applied
	if _, err := db.Exec(SchemaSQL); err != nil {
		return err
	}
	if err := createVersionTable(db); err != nil {
		return err
	}
	for _, m := range migrations {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaSQL returns the authoritative schema SQL for use by tests.
// Tests should use this instead of hardcoding their own schema to prevent drift.
func GetSchemaSQL() string {
	return SchemaSQL
}
