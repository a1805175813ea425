package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/ports/secondary"
)

// Names of the environment validators. These are the Rule values of the
// results they produce.
const (
	ValidatorPackageManager = "package_manager_available"
	ValidatorDiskSpace      = "disk_space"
	ValidatorLockFile       = "active_lock_file_unchanged"
	ValidatorVersionPolicy  = "version_policy"
	ValidatorPendingStage   = "pending_stage"
)

func handles(k event.Kind, kinds ...event.Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// PackageManagerValidator reports an error when the package manager
// executable cannot be resolved.
type PackageManagerValidator struct {
	packages secondary.PackageManager
}

// NewPackageManagerValidator creates a PackageManagerValidator.
func NewPackageManagerValidator(packages secondary.PackageManager) *PackageManagerValidator {
	return &PackageManagerValidator{packages: packages}
}

func (v *PackageManagerValidator) Name() string { return ValidatorPackageManager }

func (v *PackageManagerValidator) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	if !handles(evt.Kind, event.StatusCheck, event.PreCreate) {
		return nil
	}
	if err := v.packages.Available(ctx); err != nil {
		return []policy.Result{policy.Errorf(ValidatorPackageManager, "The package manager is not available: %v", err)}
	}
	return nil
}

// DiskSpaceValidator reports an error when the filesystems holding the
// production tree or the stage root are short on space.
type DiskSpaceValidator struct {
	workspace secondary.WorkspaceAdapter
	stageRoot string
	minBytes  uint64
}

// NewDiskSpaceValidator creates a DiskSpaceValidator.
func NewDiskSpaceValidator(workspace secondary.WorkspaceAdapter, stageRoot string, minBytes uint64) *DiskSpaceValidator {
	return &DiskSpaceValidator{workspace: workspace, stageRoot: stageRoot, minBytes: minBytes}
}

func (v *DiskSpaceValidator) Name() string { return ValidatorDiskSpace }

func (v *DiskSpaceValidator) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	if !handles(evt.Kind, event.StatusCheck, event.PreCreate) || v.minBytes == 0 {
		return nil
	}

	var messages []string
	for _, p := range []string{evt.ActiveDir, v.stageRoot} {
		if p == "" {
			continue
		}
		dir := v.existingAncestor(ctx, p)
		free, err := v.workspace.FreeSpace(ctx, dir)
		if err != nil {
			messages = append(messages, fmt.Sprintf("Free disk space on %s could not be determined: %v", dir, err))
			continue
		}
		if free < v.minBytes {
			messages = append(messages, fmt.Sprintf("%s has %d MB free; at least %d MB is required.", dir, free>>20, v.minBytes>>20))
		}
	}
	if len(messages) == 0 {
		return nil
	}
	return []policy.Result{policy.NewError(ValidatorDiskSpace, "There is not enough disk space to perform an update.", messages...)}
}

// existingAncestor returns the nearest existing directory at or above p.
// The stage root is created lazily, so it may not exist yet.
func (v *DiskSpaceValidator) existingAncestor(ctx context.Context, p string) string {
	for {
		if ok, err := v.workspace.DirectoryExists(ctx, p); err == nil && ok {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// LockFileValidator reports an error when the production lock file
// changed after the stage was created, which means someone updated
// production outside the stage.
type LockFileValidator struct {
	workspace secondary.WorkspaceAdapter
	stages    secondary.StageRepository
	lockFile  string
}

// NewLockFileValidator creates a LockFileValidator.
func NewLockFileValidator(workspace secondary.WorkspaceAdapter, stages secondary.StageRepository, lockFile string) *LockFileValidator {
	return &LockFileValidator{workspace: workspace, stages: stages, lockFile: lockFile}
}

func (v *LockFileValidator) Name() string { return ValidatorLockFile }

func (v *LockFileValidator) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	if !handles(evt.Kind, event.PreRequire, event.PreApply) || evt.StageID == "" {
		return nil
	}
	record, err := v.stages.GetByID(ctx, evt.StageID)
	if err != nil {
		return []policy.Result{policy.Errorf(ValidatorLockFile, "The stage record could not be read: %v", err)}
	}
	current, err := lockFileHash(ctx, v.workspace, v.lockFile)
	if err != nil {
		return []policy.Result{policy.Errorf(ValidatorLockFile, "The active lock file could not be read: %v", err)}
	}
	if current != record.ActiveHash {
		return []policy.Result{policy.Errorf(ValidatorLockFile,
			"The active lock file %s has changed since the stage was created. Destroy the stage and start over.", filepath.Base(v.lockFile))}
	}
	return nil
}

// lockFileHash returns the digest of path, or "" when it does not exist.
func lockFileHash(ctx context.Context, workspace secondary.WorkspaceAdapter, path string) (string, error) {
	hash, err := workspace.HashFile(ctx, path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return hash, err
}

// VersionPolicyValidator runs the version policy engine for the core
// package. Status checks evaluate the recommended next release; pre-apply
// evaluates the version resolved in the stage.
type VersionPolicyValidator struct {
	engine      *policy.Engine
	releases    secondary.ReleaseSource
	packages    secondary.PackageManager
	project     string
	corePackage string
	config      policy.Config
}

// NewVersionPolicyValidator creates a VersionPolicyValidator. With a nil
// release source it reports nothing.
func NewVersionPolicyValidator(engine *policy.Engine, releases secondary.ReleaseSource, packages secondary.PackageManager, project, corePackage string, config policy.Config) *VersionPolicyValidator {
	return &VersionPolicyValidator{
		engine:      engine,
		releases:    releases,
		packages:    packages,
		project:     project,
		corePackage: corePackage,
		config:      config,
	}
}

func (v *VersionPolicyValidator) Name() string { return ValidatorVersionPolicy }

func (v *VersionPolicyValidator) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	if v.releases == nil || !handles(evt.Kind, event.StatusCheck, event.PreApply) {
		return nil
	}

	installed, err := v.coreVersion(ctx, evt.ActiveDir)
	if err != nil {
		return []policy.Result{policy.Errorf(ValidatorVersionPolicy, "The installed version of %s could not be determined: %v", v.corePackage, err)}
	}
	if installed == "" {
		return nil
	}

	var target string
	if evt.Kind == event.PreApply {
		target = evt.Packages[v.corePackage]
		if target == "" {
			if target, err = v.coreVersion(ctx, evt.StageDir); err != nil {
				return []policy.Result{policy.Errorf(ValidatorVersionPolicy, "The staged version of %s could not be determined: %v", v.corePackage, err)}
			}
		}
		if target == "" || target == installed {
			return nil
		}
	}

	releases, err := v.releases.Releases(ctx, v.project)
	if err != nil {
		return []policy.Result{policy.Errorf(ValidatorVersionPolicy, "Release information for %s is unavailable: %v", v.project, err)}
	}
	if evt.Kind == event.StatusCheck {
		if next, ok := policy.NextRelease(installed, releases, v.config); ok {
			target = next.Version
		}
	}

	return v.engine.Evaluate(policy.Input{
		Installed: installed,
		Target:    target,
		Releases:  releases,
		Config:    v.config,
	})
}

func (v *VersionPolicyValidator) coreVersion(ctx context.Context, dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	installed, err := v.packages.Inspect(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, p := range installed {
		if p.Name == v.corePackage {
			return p.Version, nil
		}
	}
	return "", nil
}

// PendingStageValidator warns during status checks that a stage exists,
// so operators notice abandoned stages.
type PendingStageValidator struct {
	locks secondary.LockRepository
	now   func() time.Time
}

// NewPendingStageValidator creates a PendingStageValidator.
func NewPendingStageValidator(locks secondary.LockRepository, now func() time.Time) *PendingStageValidator {
	return &PendingStageValidator{locks: locks, now: now}
}

func (v *PendingStageValidator) Name() string { return ValidatorPendingStage }

func (v *PendingStageValidator) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	if evt.Kind != event.StatusCheck {
		return nil
	}
	lock, err := v.locks.Get(ctx)
	if err != nil {
		return []policy.Result{policy.Errorf(ValidatorPendingStage, "The ownership lock could not be read: %v", err)}
	}
	if lock == nil {
		return nil
	}
	age := v.now().Sub(lock.CreatedAt).Round(time.Second)
	return []policy.Result{policy.NewWarning(ValidatorPendingStage, "",
		fmt.Sprintf("An update stage %s owned by %s has existed for %s.", lock.StageID, lock.Owner, age))}
}

var (
	_ secondary.EventSubscriber = (*PackageManagerValidator)(nil)
	_ secondary.EventSubscriber = (*DiskSpaceValidator)(nil)
	_ secondary.EventSubscriber = (*LockFileValidator)(nil)
	_ secondary.EventSubscriber = (*VersionPolicyValidator)(nil)
	_ secondary.EventSubscriber = (*PendingStageValidator)(nil)
)
