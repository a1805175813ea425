// Package primary defines the primary ports (driving adapters) for the application.
package primary

import (
	"context"
	"time"

	"github.com/example/stagehand/internal/core/policy"
)

// StageService defines the primary port for staged update operations.
type StageService interface {
	// IsAvailable reports whether a new stage may be created: no lock and
	// no failure marker.
	IsAvailable(ctx context.Context) (bool, error)

	// Create claims ownership and mirrors production into a new stage.
	Create(ctx context.Context, req CreateStageRequest) (*StageResponse, error)

	// Require runs the package manager inside the stage.
	Require(ctx context.Context, req RequireRequest) (*StageResponse, error)

	// Update updates already required packages inside the stage.
	Update(ctx context.Context, req UpdateRequest) (*StageResponse, error)

	// Remove removes packages from the stage.
	Remove(ctx context.Context, req RemoveRequest) (*StageResponse, error)

	// Sync refreshes the stage from production and re-requires the
	// constraints recorded so far.
	Sync(ctx context.Context, req SyncRequest) (*StageResponse, error)

	// Apply promotes the stage into production.
	Apply(ctx context.Context, req ApplyRequest) (*StageResponse, error)

	// PostApply runs post-apply tasks. Safe to retry.
	PostApply(ctx context.Context, req PostApplyRequest) (*StageResponse, error)

	// Destroy removes the stage and releases ownership.
	Destroy(ctx context.Context, req DestroyRequest) error

	// Status reports the current stage, lock and failure marker.
	Status(ctx context.Context) (*StatusResponse, error)

	// RunStatusCheck runs the read-only environment and version checks.
	RunStatusCheck(ctx context.Context) ([]policy.Result, error)

	// ClearFailureMarker removes the failure marker after operator review.
	ClearFailureMarker(ctx context.Context) error
}

// CreateStageRequest contains parameters for creating a stage.
type CreateStageRequest struct {
	Owner string // Fingerprint of the caller, e.g. user@host
}

// RequireRequest contains parameters for requiring packages.
type RequireRequest struct {
	Token       string
	Constraints []string // name:constraint pairs
	Dev         bool
}

// UpdateRequest contains parameters for updating packages.
type UpdateRequest struct {
	Token    string
	Packages []string // Package names
}

// RemoveRequest contains parameters for removing packages.
type RemoveRequest struct {
	Token    string
	Packages []string
}

// SyncRequest contains parameters for re-syncing a stage.
type SyncRequest struct {
	Token string
}

// ApplyRequest contains parameters for applying a stage.
type ApplyRequest struct {
	Token string
}

// PostApplyRequest contains parameters for post-apply tasks.
type PostApplyRequest struct {
	Token string
}

// DestroyRequest contains parameters for destroying a stage.
type DestroyRequest struct {
	Token  string
	Force  bool   // Skip the ownership check and the mid-apply refusal
	Reason string // Recorded so later token holders learn why
}

// StageResponse contains the result of a stage operation.
type StageResponse struct {
	Stage   *Stage
	Token   string // Set by Create
	Results []policy.Result
	Output  string // Package manager output, when one ran
}

// StatusResponse contains a snapshot of the orchestrator state.
type StatusResponse struct {
	Available bool
	Stage     *Stage
	Lock      *Lock
	Marker    *FailureMarker
	Events    []*EventLogEntry
}

// Stage represents a stage entity at the port boundary.
type Stage struct {
	ID             string
	Directory      string
	Phase          string
	Owner          string
	Constraints    []string
	DevConstraints []string
	Packages       map[string]string // Resolved versions, populated after require
	Interrupted    bool              // Left requiring by a run that no longer exists
	ApplyStartedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Lock represents the ownership lock at the port boundary.
type Lock struct {
	Owner     string
	StageID   string
	CreatedAt time.Time
}

// FailureMarker represents the failure marker at the port boundary.
type FailureMarker struct {
	Message   string
	StageID   string
	Phase     string
	Detail    string
	CreatedAt time.Time
}

// EventLogEntry represents one audit log row.
type EventLogEntry struct {
	StageID   string
	Event     string
	Severity  string
	Message   string
	CreatedAt time.Time
}
