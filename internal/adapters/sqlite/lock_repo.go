// Package sqlite contains SQLite implementations of repository interfaces.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/example/stagehand/internal/ports/secondary"
)

// LockRepository implements secondary.LockRepository with SQLite. The
// lock is a single row guarded by a CHECK (id = 1) primary key, so the
// INSERT in Acquire is the cross-process claim.
type LockRepository struct {
	db *sql.DB
}

// NewLockRepository creates a new SQLite lock repository.
func NewLockRepository(db *sql.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire creates the lock row. Returns secondary.ErrLockHeld if one exists.
func (r *LockRepository) Acquire(ctx context.Context, lock *secondary.LockRecord) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO stage_lock (id, token, owner, stage_id, created_at) VALUES (1, ?, ?, ?, ?)",
		lock.Token, lock.Owner, lock.StageID, formatTime(lock.CreatedAt),
	)
	if isConstraintError(err) {
		return secondary.ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// Get returns the current lock, or nil when unlocked.
func (r *LockRepository) Get(ctx context.Context) (*secondary.LockRecord, error) {
	var createdAt string
	record := &secondary.LockRecord{}
	err := r.db.QueryRowContext(ctx,
		"SELECT token, owner, stage_id, created_at FROM stage_lock WHERE id = 1",
	).Scan(&record.Token, &record.Owner, &record.StageID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	record.CreatedAt = parseTime(createdAt)
	return record, nil
}

// Release deletes the lock row if token matches.
func (r *LockRepository) Release(ctx context.Context, token string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM stage_lock WHERE id = 1 AND token = ?", token)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return secondary.ErrLockNotOwned
	}
	return nil
}

// ForceRelease deletes the lock row regardless of owner.
func (r *LockRepository) ForceRelease(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM stage_lock WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to force release lock: %w", err)
	}
	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Ensure LockRepository implements the interface
var _ secondary.LockRepository = (*LockRepository)(nil)
