package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/stagehand/internal/ports/secondary"
)

// EventLogRepository implements secondary.EventLogRepository with SQLite.
type EventLogRepository struct {
	db *sql.DB
}

// NewEventLogRepository creates a new SQLite event log repository.
func NewEventLogRepository(db *sql.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

// Append writes one event row.
func (r *EventLogRepository) Append(ctx context.Context, entry *secondary.EventLogRecord) error {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO stage_events (stage_id, event, severity, message, created_at) VALUES (?, ?, ?, ?, ?)",
		entry.StageID, entry.Event, entry.Severity, entry.Message, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append stage event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListByStage returns the most recent events for a stage, newest first.
func (r *EventLogRepository) ListByStage(ctx context.Context, stageID string, limit int) ([]*secondary.EventLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, stage_id, event, severity, message, created_at FROM stage_events
		 WHERE stage_id = ? ORDER BY id DESC LIMIT ?`,
		stageID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage events: %w", err)
	}
	defer rows.Close()

	var entries []*secondary.EventLogRecord
	for rows.Next() {
		var createdAt string
		record := &secondary.EventLogRecord{}
		if err := rows.Scan(&record.ID, &record.StageID, &record.Event, &record.Severity, &record.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage event: %w", err)
		}
		record.CreatedAt = parseTime(createdAt)
		entries = append(entries, record)
	}

	return entries, rows.Err()
}

// Ensure EventLogRepository implements the interface
var _ secondary.EventLogRepository = (*EventLogRepository)(nil)
