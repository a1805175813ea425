package stage

import (
	"fmt"
	"time"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string // Human-readable reason (populated when not allowed)
	Kind    string // Error kind (populated when not allowed)
	Op      Operation
}

// Error returns the guard result as a typed error if not allowed, nil otherwise.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	switch r.Kind {
	case KindOwnership:
		return &OwnershipError{Op: r.Op, Reason: r.Reason}
	default:
		return &PhaseError{Op: r.Op, Reason: r.Reason}
	}
}

func allow() GuardResult {
	return GuardResult{Allowed: true}
}

func denyOwnership(op Operation, format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Kind: KindOwnership, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func denyPhase(op Operation, format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Kind: KindPhase, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// CreateContext provides context for stage creation guards.
type CreateContext struct {
	LockHeld      bool
	LockOwner     string
	LockCreatedAt time.Time
	Now           time.Time
}

// CanCreate evaluates whether a new stage may be created.
// Rule: only one stage may exist. Another owner's stage is never broken
// implicitly; the caller is pointed at the explicit force path.
func CanCreate(ctx CreateContext) GuardResult {
	if !ctx.LockHeld {
		return allow()
	}
	age := ctx.Now.Sub(ctx.LockCreatedAt).Round(time.Second)
	return denyOwnership(OpCreate,
		"Cannot create a new stage because one already exists (owner: %s, created %s ago). "+
			"If it is abandoned, destroy it with: stagehand destroy --force", ctx.LockOwner, age)
}

// ClaimContext provides context for ownership checks on an existing stage.
type ClaimContext struct {
	Op              Operation
	LockHeld        bool
	LockToken       string
	PresentedToken  string
	DestroyedReason string // Set when PresentedToken names a destroyed stage
}

// CanClaim evaluates whether the caller owns the current stage.
// Rule: the presented token must match the lock record exactly.
func CanClaim(ctx ClaimContext) GuardResult {
	if ctx.DestroyedReason != "" {
		return denyOwnership(ctx.Op, "This stage was destroyed: %s", ctx.DestroyedReason)
	}
	if !ctx.LockHeld {
		return denyOwnership(ctx.Op, "Cannot claim the stage because no stage has been created.")
	}
	if ctx.PresentedToken == "" {
		return denyOwnership(ctx.Op, "Cannot claim the stage because no ownership token was presented.")
	}
	if ctx.PresentedToken != ctx.LockToken {
		return denyOwnership(ctx.Op, "Cannot claim the stage because it is not owned by the current session.")
	}
	return allow()
}

// CanRequire evaluates whether packages may be required into the stage.
// Rule: the stage must be created or already required (incremental requires).
func CanRequire(p Phase) GuardResult {
	if p == PhaseCreated || p == PhaseRequired {
		return allow()
	}
	return denyPhase(OpRequire, "Cannot require packages while the stage is %s; it must be created or required.", p)
}

// CanApply evaluates whether the stage may be promoted.
// Rule: packages must have been required first.
func CanApply(p Phase) GuardResult {
	if p == PhaseRequired {
		return allow()
	}
	return denyPhase(OpApply, "Cannot apply the stage while it is %s; require packages first.", p)
}

// CanPostApply evaluates whether post-apply hooks may run.
// Rule: only after a successful apply. Retrying is allowed.
func CanPostApply(p Phase) GuardResult {
	if p == PhaseApplied {
		return allow()
	}
	return denyPhase(OpPostApply, "Cannot run post-apply tasks while the stage is %s; apply it first.", p)
}

// DestroyContext provides context for stage destruction guards.
type DestroyContext struct {
	Phase          Phase
	ApplyStartedAt *time.Time
	Force          bool
	Now            time.Time
}

// CanDestroy evaluates whether the stage may be destroyed.
// Rule: any phase, except while apply is copying from the stage directory.
// Force overrides; the caller must have confirmed apply is not running.
func CanDestroy(ctx DestroyContext) GuardResult {
	if ctx.Force {
		return allow()
	}
	if IsApplying(ctx.Phase, ctx.ApplyStartedAt, ctx.Now) {
		return denyPhase(OpDestroy, "Cannot destroy the stage directory while it is being applied to the active directory.")
	}
	return allow()
}
