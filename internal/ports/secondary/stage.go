// Package secondary defines the secondary ports (driven adapters) for the application.
// These are the interfaces through which the application drives external systems.
package secondary

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by LockRepository.Acquire when a lock already exists.
var ErrLockHeld = errors.New("ownership lock is already held")

// ErrLockNotOwned is returned by LockRepository.Release when the token does
// not match the lock record.
var ErrLockNotOwned = errors.New("ownership lock is not held by this token")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// LockRepository defines the secondary port for the cross-process ownership lock.
// Acquire and Release must be atomic with respect to other processes.
type LockRepository interface {
	// Acquire creates the lock record. Returns ErrLockHeld if one exists.
	Acquire(ctx context.Context, lock *LockRecord) error

	// Get returns the current lock record, or nil when unlocked.
	Get(ctx context.Context) (*LockRecord, error)

	// Release removes the lock if token matches. Returns ErrLockNotOwned otherwise.
	Release(ctx context.Context, token string) error

	// ForceRelease removes the lock regardless of owner.
	ForceRelease(ctx context.Context) error
}

// LockRecord represents the ownership lock as stored in persistence.
type LockRecord struct {
	Token     string
	Owner     string // Human-readable fingerprint, e.g. user@host
	StageID   string
	CreatedAt time.Time
}

// StageRepository defines the secondary port for stage persistence.
type StageRepository interface {
	// Create persists a new stage.
	Create(ctx context.Context, stage *StageRecord) error

	// GetByID retrieves a stage by its ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*StageRecord, error)

	// Update updates an existing stage.
	Update(ctx context.Context, stage *StageRecord) error

	// Delete removes a stage from persistence.
	Delete(ctx context.Context, id string) error
}

// StageRecord represents a stage as stored in persistence.
type StageRecord struct {
	ID             string
	Directory      string
	Phase          string
	Owner          string
	ActiveHash     string   // Digest of the production lock file at create time
	Constraints    []string // Constraints required so far, in order
	DevConstraints []string // Constraints required as development dependencies
	ApplyStartedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DestroyedStageRepository defines the secondary port for remembering
// destroyed stages so stale tokens get a descriptive error.
type DestroyedStageRepository interface {
	// Record stores a destroyed stage.
	Record(ctx context.Context, destroyed *DestroyedStageRecord) error

	// GetByToken retrieves a destroyed stage by the token that owned it.
	// Returns ErrNotFound if the token never owned a destroyed stage.
	GetByToken(ctx context.Context, token string) (*DestroyedStageRecord, error)
}

// DestroyedStageRecord represents a destroyed stage.
type DestroyedStageRecord struct {
	StageID     string
	Token       string
	Reason      string
	DestroyedAt time.Time
}

// FailureMarker defines the secondary port for the failure marker. The
// marker lives outside the stage and production trees and survives crashes.
type FailureMarker interface {
	// Read returns the marker, or nil when none is set.
	Read(ctx context.Context) (*FailureMarkerRecord, error)

	// Write sets the marker atomically.
	Write(ctx context.Context, marker *FailureMarkerRecord) error

	// Clear removes the marker. Clearing an absent marker is not an error.
	Clear(ctx context.Context) error
}

// FailureMarkerRecord represents the persisted failure marker.
type FailureMarkerRecord struct {
	Message   string    `json:"message"`
	StageID   string    `json:"stage_id"`
	Phase     string    `json:"phase"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
