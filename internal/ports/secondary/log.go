package secondary

import (
	"context"
	"time"
)

// EventLogRepository defines the secondary port for the stage event audit log.
type EventLogRepository interface {
	// Append writes one dispatched event.
	Append(ctx context.Context, entry *EventLogRecord) error

	// ListByStage returns the most recent entries for a stage, newest first.
	ListByStage(ctx context.Context, stageID string, limit int) ([]*EventLogRecord, error)
}

// EventLogRecord represents one audit row.
type EventLogRecord struct {
	ID        int64
	StageID   string
	Event     string
	Severity  string
	Message   string
	CreatedAt time.Time
}
