// Package sqlite_test contains integration tests for SQLite repositories.
//
// # Schema Protection
//
// This file is the SINGLE POINT where the database schema is loaded for tests.
// All test setup functions use db.GetSchemaSQL() to ensure tests run against
// the authoritative schema, preventing drift between test and production.
//
// DO NOT hardcode CREATE TABLE statements in test files. Instead, use
// setupTestDB() and the seed* helpers.
package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/stagehand/internal/adapters/sqlite"
	"github.com/example/stagehand/internal/db"
	"github.com/example/stagehand/internal/ports/secondary"
)

// setupTestDB creates an in-memory database with the authoritative schema.
// This is the single shared test database setup function for all repository tests.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	testDB.SetMaxOpenConns(1)

	_, err = testDB.Exec(db.GetSchemaSQL())
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// seedStage inserts a test stage and returns it.
func seedStage(t *testing.T, testDB *sql.DB, id, phase string) *secondary.StageRecord {
	t.Helper()
	if id == "" {
		id = "stage-001"
	}
	if phase == "" {
		phase = "created"
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &secondary.StageRecord{
		ID:        id,
		Directory: "/var/stagehand/stages/" + id,
		Phase:     phase,
		Owner:     "deploy@web-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sqlite.NewStageRepository(testDB).Create(context.Background(), record); err != nil {
		t.Fatalf("failed to seed stage: %v", err)
	}
	return record
}
