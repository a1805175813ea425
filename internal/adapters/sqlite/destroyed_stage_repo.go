package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/stagehand/internal/ports/secondary"
)

// DestroyedStageRepository implements secondary.DestroyedStageRepository with SQLite.
type DestroyedStageRepository struct {
	db *sql.DB
}

// NewDestroyedStageRepository creates a new SQLite destroyed stage repository.
func NewDestroyedStageRepository(db *sql.DB) *DestroyedStageRepository {
	return &DestroyedStageRepository{db: db}
}

// Record stores a destroyed stage. Recording the same stage twice keeps
// the latest reason.
func (r *DestroyedStageRepository) Record(ctx context.Context, destroyed *secondary.DestroyedStageRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO destroyed_stages (stage_id, token, reason, destroyed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(stage_id) DO UPDATE SET reason = excluded.reason, destroyed_at = excluded.destroyed_at`,
		destroyed.StageID, destroyed.Token, destroyed.Reason, formatTime(destroyed.DestroyedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record destroyed stage: %w", err)
	}
	return nil
}

// GetByToken retrieves the destroyed stage owned by token.
func (r *DestroyedStageRepository) GetByToken(ctx context.Context, token string) (*secondary.DestroyedStageRecord, error) {
	var destroyedAt string
	record := &secondary.DestroyedStageRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT stage_id, token, reason, destroyed_at FROM destroyed_stages
		 WHERE token = ? ORDER BY destroyed_at DESC LIMIT 1`,
		token,
	).Scan(&record.StageID, &record.Token, &record.Reason, &destroyedAt)

	if err == sql.ErrNoRows {
		return nil, secondary.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destroyed stage: %w", err)
	}

	record.DestroyedAt = parseTime(destroyedAt)
	return record, nil
}

// Ensure DestroyedStageRepository implements the interface
var _ secondary.DestroyedStageRepository = (*DestroyedStageRepository)(nil)
