package db

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migrationV1,
	},
	{
		Version: 2,
		Name:    "add_stage_events_index",
		Up:      migrationV2,
	},
	{
		Version: 3,
		Name:    "add_stage_dev_constraints",
		Up:      migrationV3,
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	if err := createVersionTable(db); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	// Get current schema version
	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// LatestVersion returns the highest known migration version.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

func createVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// migrationV1 creates the lock, stage and destroyed stage tables.
func migrationV1(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS stage_lock (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			token TEXT NOT NULL,
			owner TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS stages (
			id TEXT PRIMARY KEY,
			directory TEXT NOT NULL,
			phase TEXT NOT NULL CHECK(phase IN ('uncreated', 'created', 'requiring', 'required', 'applying', 'applied', 'destroyed', 'failed')),
			owner TEXT NOT NULL,
			active_hash TEXT NOT NULL DEFAULT '',
			constraints TEXT NOT NULL DEFAULT '[]',
			apply_started_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS destroyed_stages (
			stage_id TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			destroyed_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_destroyed_stages_token ON destroyed_stages(token);
		CREATE TABLE IF NOT EXISTS stage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stage_id TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`)
	return err
}

// migrationV2 indexes the event log for per-stage listing.
func migrationV2(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_stage_events_stage ON stage_events(stage_id, id)`)
	return err
}

// migrationV3 records development constraints apart from the others.
func migrationV3(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE stages ADD COLUMN dev_constraints TEXT NOT NULL DEFAULT '[]'`)
	return err
}
