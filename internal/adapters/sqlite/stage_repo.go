package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/example/stagehand/internal/ports/secondary"
)

// StageRepository implements secondary.StageRepository with SQLite.
type StageRepository struct {
	db *sql.DB
}

// NewStageRepository creates a new SQLite stage repository.
func NewStageRepository(db *sql.DB) *StageRepository {
	return &StageRepository{db: db}
}

// Create persists a new stage.
func (r *StageRepository) Create(ctx context.Context, stage *secondary.StageRecord) error {
	constraints, err := encodeConstraints(stage.Constraints)
	if err != nil {
		return err
	}
	devConstraints, err := encodeConstraints(stage.DevConstraints)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO stages (id, directory, phase, owner, active_hash, constraints, dev_constraints, apply_started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stage.ID, stage.Directory, stage.Phase, stage.Owner, stage.ActiveHash, constraints, devConstraints,
		nullableTime(stage), formatTime(stage.CreatedAt), formatTime(stage.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

// GetByID retrieves a stage by its ID.
func (r *StageRepository) GetByID(ctx context.Context, id string) (*secondary.StageRecord, error) {
	var (
		constraints    string
		devConstraints string
		applyStartedAt sql.NullString
		createdAt      string
		updatedAt      string
	)

	record := &secondary.StageRecord{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, directory, phase, owner, active_hash, constraints, dev_constraints, apply_started_at, created_at, updated_at
		 FROM stages WHERE id = ?`,
		id,
	).Scan(&record.ID, &record.Directory, &record.Phase, &record.Owner, &record.ActiveHash,
		&constraints, &devConstraints, &applyStartedAt, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stage %s: %w", id, secondary.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}

	if err := json.Unmarshal([]byte(constraints), &record.Constraints); err != nil {
		return nil, fmt.Errorf("failed to decode stage constraints: %w", err)
	}
	if err := json.Unmarshal([]byte(devConstraints), &record.DevConstraints); err != nil {
		return nil, fmt.Errorf("failed to decode stage dev constraints: %w", err)
	}
	if applyStartedAt.Valid {
		t := parseTime(applyStartedAt.String)
		record.ApplyStartedAt = &t
	}
	record.CreatedAt = parseTime(createdAt)
	record.UpdatedAt = parseTime(updatedAt)

	return record, nil
}

// Update updates an existing stage.
func (r *StageRepository) Update(ctx context.Context, stage *secondary.StageRecord) error {
	constraints, err := encodeConstraints(stage.Constraints)
	if err != nil {
		return err
	}
	devConstraints, err := encodeConstraints(stage.DevConstraints)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE stages SET directory = ?, phase = ?, owner = ?, active_hash = ?, constraints = ?,
		 dev_constraints = ?, apply_started_at = ?, updated_at = ? WHERE id = ?`,
		stage.Directory, stage.Phase, stage.Owner, stage.ActiveHash, constraints, devConstraints,
		nullableTime(stage), formatTime(stage.UpdatedAt), stage.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update stage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("stage %s: %w", stage.ID, secondary.ErrNotFound)
	}
	return nil
}

// Delete removes a stage from persistence.
func (r *StageRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM stages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete stage: %w", err)
	}
	return nil
}

func encodeConstraints(constraints []string) (string, error) {
	if constraints == nil {
		constraints = []string{}
	}
	data, err := json.Marshal(constraints)
	if err != nil {
		return "", fmt.Errorf("failed to encode stage constraints: %w", err)
	}
	return string(data), nil
}

func nullableTime(stage *secondary.StageRecord) sql.NullString {
	if stage.ApplyStartedAt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*stage.ApplyStartedAt), Valid: true}
}

// Ensure StageRepository implements the interface
var _ secondary.StageRepository = (*StageRepository)(nil)
