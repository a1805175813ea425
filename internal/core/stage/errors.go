package stage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/stagehand/internal/core/policy"
)

// Error kinds. These are the machine-readable tags of failure payloads.
const (
	KindOwnership         = "ownership"
	KindFailureMarker     = "failure_marker"
	KindValidation        = "validation"
	KindExternalOperation = "external_operation"
	KindApplyInterrupted  = "apply_interrupted"
	KindPhase             = "phase"
	KindInternal          = "internal"
)

// KindedError is implemented by every typed stage error.
type KindedError interface {
	error
	Kind() string
	Operation() Operation
}

// OwnershipError reports a missing or wrong ownership token. Always
// recoverable: retry with the right token or force after confirmation.
type OwnershipError struct {
	Op     Operation
	Reason string
}

func (e *OwnershipError) Error() string        { return e.Reason }
func (e *OwnershipError) Kind() string         { return KindOwnership }
func (e *OwnershipError) Operation() Operation { return e.Op }

// FailureMarkerError reports that a previous apply never completed.
type FailureMarkerError struct {
	Op        Operation
	Message   string
	StageID   string
	CreatedAt time.Time
}

func (e *FailureMarkerError) Error() string {
	return fmt.Sprintf("A previous update did not complete and production may be in an inconsistent state. "+
		"Restore from backup or verify the site, then clear the failure marker. Failure: %s", e.Message)
}
func (e *FailureMarkerError) Kind() string         { return KindFailureMarker }
func (e *FailureMarkerError) Operation() Operation { return e.Op }

// ValidationError reports that findings with error severity block an
// operation. Never destructive.
type ValidationError struct {
	Op      Operation
	Event   string
	Results []policy.Result
}

func (e *ValidationError) Error() string {
	errs := policy.FilterBySeverity(e.Results, policy.SeverityError)
	parts := make([]string, 0, len(errs))
	for _, r := range errs {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%s blocked by validation: %s", e.Op, strings.Join(parts, "; "))
}
func (e *ValidationError) Kind() string         { return KindValidation }
func (e *ValidationError) Operation() Operation { return e.Op }

// ExternalOperationError reports a failed package manager invocation.
// The stage is kept for diagnosis.
type ExternalOperationError struct {
	Op          Operation
	Command     string
	Constraints []string
	ExitCode    int
	Output      string
	Err         error
}

func (e *ExternalOperationError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Command, e.ExitCode)
	if len(e.Constraints) > 0 {
		msg += " for " + strings.Join(e.Constraints, ", ")
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}
func (e *ExternalOperationError) Kind() string         { return KindExternalOperation }
func (e *ExternalOperationError) Operation() Operation { return e.Op }
func (e *ExternalOperationError) Unwrap() error        { return e.Err }

// ApplyInterruptedError is fatal: promotion failed after the failure
// marker was written. The marker stays set and nothing is retried.
type ApplyInterruptedError struct {
	StageID string
	Err     error
}

func (e *ApplyInterruptedError) Error() string {
	return fmt.Sprintf("apply of stage %s was interrupted; production may be partially updated: %v", e.StageID, e.Err)
}
func (e *ApplyInterruptedError) Kind() string         { return KindApplyInterrupted }
func (e *ApplyInterruptedError) Operation() Operation { return OpApply }
func (e *ApplyInterruptedError) Unwrap() error        { return e.Err }

// PhaseError reports an operation called in the wrong lifecycle phase.
type PhaseError struct {
	Op      Operation
	Current Phase
	Reason  string
}

func (e *PhaseError) Error() string        { return e.Reason }
func (e *PhaseError) Kind() string         { return KindPhase }
func (e *PhaseError) Operation() Operation { return e.Op }

// KindOf returns the kind and operation of err, or KindInternal with the
// fallback operation when err is not a typed stage error.
func KindOf(err error, fallback Operation) (string, Operation) {
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.Kind(), kinded.Operation()
	}
	return KindInternal, fallback
}

// IsFatal reports whether err must terminate the process without cleanup.
func IsFatal(err error) bool {
	var interrupted *ApplyInterruptedError
	return errors.As(err, &interrupted)
}
