// Package event defines the lifecycle events a stage emits and helpers
// for deciding what their subscriber results mean.
package event

import (
	"time"

	"github.com/example/stagehand/internal/core/policy"
)

// Kind names a lifecycle event.
type Kind string

const (
	PreCreate   Kind = "pre_create"
	PostCreate  Kind = "post_create"
	PreRequire  Kind = "pre_require"
	PostRequire Kind = "post_require"
	PreApply    Kind = "pre_apply"
	PostApply   Kind = "post_apply"
	PreDestroy  Kind = "pre_destroy"
	PostDestroy Kind = "post_destroy"
	StatusCheck Kind = "status_check"
)

// All lists every event kind in lifecycle order.
var All = []Kind{PreCreate, PostCreate, PreRequire, PostRequire, PreApply, PostApply, PreDestroy, PostDestroy, StatusCheck}

// IsPre reports whether subscribers may veto the operation that emits k.
// Status checks are read-only, but their error findings are reported the
// same way.
func (k Kind) IsPre() bool {
	switch k {
	case PreCreate, PreRequire, PreApply, PreDestroy, StatusCheck:
		return true
	}
	return false
}

// Event is the payload handed to subscribers.
type Event struct {
	Kind        Kind              `json:"event"`
	StageID     string            `json:"stage_id,omitempty"`
	StageDir    string            `json:"stage_dir,omitempty"`
	ActiveDir   string            `json:"active_dir"`
	Constraints []string          `json:"constraints,omitempty"`
	Packages    map[string]string `json:"packages,omitempty"` // Resolved name -> version after require
	Outcome     string            `json:"outcome,omitempty"`  // Package manager output after require
	Err         string            `json:"error,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Vetoes reports whether results emitted for k block the operation.
func Vetoes(k Kind, results []policy.Result) bool {
	return k.IsPre() && policy.HasErrors(results)
}
