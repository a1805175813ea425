package secondary

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
)

// CommandRunner runs an external program and captures its output.
type CommandRunner interface {
	// Run executes name in dir. A non-zero exit is reported through both
	// exitCode and err.
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)

	// LookPath resolves an executable name.
	LookPath(name string) (string, error)
}

// PackageManager defines the secondary port for the external package manager.
type PackageManager interface {
	// Require adds or changes constraints in dir and resolves dependencies.
	Require(ctx context.Context, dir string, constraints []string, dev bool) (*PackageOutcome, error)

	// Update updates the named packages in dir.
	Update(ctx context.Context, dir string, packages []string) (*PackageOutcome, error)

	// Remove removes the named packages from dir.
	Remove(ctx context.Context, dir string, packages []string) (*PackageOutcome, error)

	// Inspect lists the locked packages in dir.
	Inspect(ctx context.Context, dir string) ([]InstalledPackage, error)

	// Available returns an error when the executable cannot be resolved.
	Available(ctx context.Context) error
}

// PackageOutcome is the captured result of a package manager invocation.
type PackageOutcome struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns the combined diagnostic output.
func (o PackageOutcome) Output() string {
	return strings.TrimSpace(strings.TrimSpace(o.Stdout) + "\n" + strings.TrimSpace(o.Stderr))
}

// InstalledPackage is a name/version pair from the lock file.
type InstalledPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CommandError is returned by a PackageManager when the program exits
// non-zero or cannot be started.
type CommandError struct {
	Outcome PackageOutcome
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with %d: %s", e.Outcome.Command, e.Outcome.ExitCode, e.Outcome.Output())
}

func (e *CommandError) Unwrap() error { return e.Err }

// ReleaseSource defines the secondary port for release metadata.
type ReleaseSource interface {
	// Releases returns the published releases of project.
	Releases(ctx context.Context, project string) ([]policy.Release, error)
}

// EventSubscriber receives lifecycle events. Results with error severity
// returned for a pre event veto the operation.
type EventSubscriber interface {
	Name() string
	OnEvent(ctx context.Context, evt event.Event) []policy.Result
}

// Metrics records operation outcomes.
type Metrics interface {
	ObserveOperation(op, outcome string, durationSeconds float64)
	IncEvent(kind, severity string)
	SetPhase(phase string)
}
