package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the name of the state database inside the state directory.
const FileName = "stagehand.db"

// busyTimeoutMillis bounds how long a writer waits for another process
// holding the database lock.
const busyTimeoutMillis = 5000

// Open opens the state database under stateDir, creating the directory and
// schema if needed.
func Open(stateDir string) (*sql.DB, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", Path(stateDir), busyTimeoutMillis)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := InitSchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return conn, nil
}

// Path returns the path to the database file.
func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}
