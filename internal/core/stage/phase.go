// Package stage contains the pure business logic for the staged update
// lifecycle. This is part of the Functional Core - no I/O, only pure functions.
package stage

import (
	"path/filepath"
	"time"
)

// Phase is the persisted lifecycle position of a stage.
type Phase string

const (
	PhaseUncreated Phase = "uncreated"
	PhaseCreated   Phase = "created"
	PhaseRequiring Phase = "requiring"
	PhaseRequired  Phase = "required"
	PhaseApplying  Phase = "applying"
	PhaseApplied   Phase = "applied"
	PhaseDestroyed Phase = "destroyed"
	// PhaseFailed is absorbing: apply was interrupted and the failure
	// marker is still set.
	PhaseFailed Phase = "failed"
)

// Operation names a public stage operation. It is the "phase" tag of
// every structured failure payload.
type Operation string

const (
	OpCreate    Operation = "create"
	OpRequire   Operation = "require"
	OpApply     Operation = "apply"
	OpPostApply Operation = "post_apply"
	OpDestroy   Operation = "destroy"
	OpStatus    Operation = "status"
)

// ApplyWindow is how long after apply starts a stage is still treated as
// mid-apply when deciding whether it may be destroyed.
const ApplyWindow = time.Hour

// transitions lists the phases each phase may move to.
var transitions = map[Phase][]Phase{
	PhaseUncreated: {PhaseCreated},
	PhaseCreated:   {PhaseRequiring, PhaseDestroyed},
	PhaseRequiring: {PhaseRequired, PhaseCreated, PhaseDestroyed},
	PhaseRequired:  {PhaseRequiring, PhaseApplying, PhaseDestroyed},
	PhaseApplying:  {PhaseApplied, PhaseFailed, PhaseDestroyed},
	PhaseApplied:   {PhaseDestroyed},
	PhaseFailed:    {},
	PhaseDestroyed: {},
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(p Phase) bool {
	return len(transitions[p]) == 0
}

// ResolvePhase returns the phase a status query should report. A stage
// found mid-apply while the failure marker is set has failed.
func ResolvePhase(current Phase, markerPresent bool) Phase {
	if current == PhaseApplying && markerPresent {
		return PhaseFailed
	}
	return current
}

// IsApplying reports whether apply is in flight: the stage says so and
// the apply started within ApplyWindow of now.
func IsApplying(p Phase, applyStartedAt *time.Time, now time.Time) bool {
	if p != PhaseApplying || applyStartedAt == nil {
		return false
	}
	return now.Sub(*applyStartedAt) < ApplyWindow
}

// RequireInterrupted reports whether a stage left in requiring has
// outlived the package manager run that put it there. Runs are killed
// after timeout, so past it nothing is still working on the stage.
func RequireInterrupted(p Phase, updatedAt time.Time, timeout time.Duration, now time.Time) bool {
	if p != PhaseRequiring || timeout <= 0 {
		return false
	}
	return now.Sub(updatedAt) > timeout
}

// RecoveredPhase is where an interrupted require returns to: required if
// an earlier require already succeeded, created otherwise.
func RecoveredPhase(hasConstraints bool) Phase {
	if hasConstraints {
		return PhaseRequired
	}
	return PhaseCreated
}

// Directory returns the stage directory for a stage ID under root.
func Directory(root, stageID string) string {
	return filepath.Join(root, stageID)
}
