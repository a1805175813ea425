// Package composer drives the Composer package manager as a subprocess.
package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/stagehand/internal/ports/secondary"
)

// DefaultBinary is the executable used when none is configured.
const DefaultBinary = "composer"

// Manager implements secondary.PackageManager by running Composer.
type Manager struct {
	runner  secondary.CommandRunner
	binary  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewManager creates a Composer-backed package manager. A zero timeout
// leaves the deadline to the caller's context.
func NewManager(runner secondary.CommandRunner, binary string, timeout time.Duration, logger zerolog.Logger) *Manager {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Manager{runner: runner, binary: binary, timeout: timeout, logger: logger}
}

// Require adds constraints (name:constraint) and resolves the result.
func (m *Manager) Require(ctx context.Context, dir string, constraints []string, dev bool) (*secondary.PackageOutcome, error) {
	if len(constraints) == 0 {
		return nil, fmt.Errorf("no constraints to require")
	}
	args := []string{"require", "--no-interaction", "--no-progress", "--with-all-dependencies"}
	if dev {
		args = append(args, "--dev")
	}
	args = append(args, constraints...)
	return m.run(ctx, dir, args)
}

// Update updates the named packages and their dependencies.
func (m *Manager) Update(ctx context.Context, dir string, packages []string) (*secondary.PackageOutcome, error) {
	args := append([]string{"update", "--no-interaction", "--no-progress", "--with-all-dependencies"}, packages...)
	return m.run(ctx, dir, args)
}

// Remove removes the named packages.
func (m *Manager) Remove(ctx context.Context, dir string, packages []string) (*secondary.PackageOutcome, error) {
	if len(packages) == 0 {
		return nil, fmt.Errorf("no packages to remove")
	}
	args := append([]string{"remove", "--no-interaction", "--no-progress"}, packages...)
	return m.run(ctx, dir, args)
}

// showOutput is the subset of `show --locked --format=json` we read.
type showOutput struct {
	Locked []secondary.InstalledPackage `json:"locked"`
}

// Inspect lists the packages in the lock file as name/version pairs.
func (m *Manager) Inspect(ctx context.Context, dir string) ([]secondary.InstalledPackage, error) {
	outcome, err := m.run(ctx, dir, []string{"show", "--locked", "--format=json", "--no-interaction"})
	if err != nil {
		return nil, err
	}

	var parsed showOutput
	if err := json.Unmarshal([]byte(outcome.Stdout), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s output: %w", outcome.Command, err)
	}
	return parsed.Locked, nil
}

// Available returns an error when the Composer executable cannot be found.
func (m *Manager) Available(ctx context.Context) error {
	if _, err := m.runner.LookPath(m.binary); err != nil {
		return fmt.Errorf("%s executable not found: %w", m.binary, err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, dir string, args []string) (*secondary.PackageOutcome, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args = append(args, "--working-dir="+dir)
	command := m.binary + " " + strings.Join(args, " ")
	m.logger.Debug().Str("dir", dir).Str("command", command).Msg("running package manager")

	started := time.Now()
	stdout, stderr, exitCode, err := m.runner.Run(ctx, dir, m.binary, args...)
	outcome := &secondary.PackageOutcome{
		Command:  command,
		ExitCode: exitCode,
		Stdout:   string(stdout),
		Stderr:   string(stderr),
	}

	m.logger.Debug().
		Int("exit_code", exitCode).
		Dur("elapsed", time.Since(started)).
		Msg("package manager finished")

	if err != nil || exitCode != 0 {
		if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
			err = ctxErr
		}
		return outcome, &secondary.CommandError{Outcome: *outcome, Err: err}
	}
	return outcome, nil
}

// Ensure Manager implements the interface
var _ secondary.PackageManager = (*Manager)(nil)
