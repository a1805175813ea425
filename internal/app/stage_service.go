package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/core/promotion"
	"github.com/example/stagehand/internal/core/stage"
	"github.com/example/stagehand/internal/ports/primary"
	"github.com/example/stagehand/internal/ports/secondary"
)

// Hook is a command run in the production tree by PostApply.
type Hook struct {
	Name    string
	Command []string
}

// StageConfig holds the paths and policies a StageServiceImpl works with.
type StageConfig struct {
	ProjectRoot string
	StageRoot   string
	LockFile    string // Absolute path of the production lock file
	Exclude     []string
	PostApply   []Hook

	// RequireTimeout bounds one package manager run. A stage requiring
	// for longer was interrupted.
	RequireTimeout time.Duration
}

const defaultRequireTimeout = 10 * time.Minute

// StageDeps holds the collaborators of a StageServiceImpl.
type StageDeps struct {
	Locks      secondary.LockRepository
	Stages     secondary.StageRepository
	Destroyed  secondary.DestroyedStageRepository
	Marker     secondary.FailureMarker
	Workspace  secondary.WorkspaceAdapter
	Packages   secondary.PackageManager
	Runner     secondary.CommandRunner
	EventLog   secondary.EventLogRepository
	Executor   EffectExecutor
	Dispatcher *EventDispatcher
	Metrics    secondary.Metrics
	Logger     zerolog.Logger
	Now        func() time.Time // Defaults to time.Now
	NewID      func() string    // Defaults to uuid.NewString
}

// StageServiceImpl implements the StageService interface.
type StageServiceImpl struct {
	StageDeps
	config StageConfig
}

// NewStageService creates a new StageService with injected dependencies.
func NewStageService(deps StageDeps, config StageConfig) *StageServiceImpl {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = NewEventDispatcher(deps.EventLog, deps.Metrics, deps.Logger)
	}
	if config.RequireTimeout <= 0 {
		config.RequireTimeout = defaultRequireTimeout
	}
	return &StageServiceImpl{StageDeps: deps, config: config}
}

// IsAvailable reports whether a new stage may be created.
func (s *StageServiceImpl) IsAvailable(ctx context.Context) (bool, error) {
	lock, err := s.Locks.Get(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read ownership lock: %w", err)
	}
	marker, err := s.Marker.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read failure marker: %w", err)
	}
	return lock == nil && marker == nil, nil
}

// Create claims ownership and mirrors production into a new stage.
func (s *StageServiceImpl) Create(ctx context.Context, req primary.CreateStageRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpCreate, s.Now(), &err)

	if err := s.assertNoMarker(ctx, stage.OpCreate); err != nil {
		return nil, err
	}
	if err := s.guardCreate(ctx); err != nil {
		return nil, err
	}

	owner := req.Owner
	if owner == "" {
		owner = "unknown"
	}
	id := s.NewID()
	dir := stage.Directory(s.config.StageRoot, id)

	if _, err := s.Dispatcher.Veto(ctx, stage.OpCreate, s.newEvent(event.PreCreate, id, dir)); err != nil {
		return nil, err
	}

	now := s.Now()
	lock := &secondary.LockRecord{Token: s.NewID(), Owner: owner, StageID: id, CreatedAt: now}
	if err := s.Locks.Acquire(ctx, lock); err != nil {
		if errors.Is(err, secondary.ErrLockHeld) {
			// Another process won the race between the guard and acquire.
			if gerr := s.guardCreate(ctx); gerr != nil {
				return nil, gerr
			}
		}
		return nil, fmt.Errorf("failed to acquire ownership lock: %w", err)
	}

	record, err := s.materialize(ctx, lock, dir)
	if err != nil {
		s.abandon(ctx, lock, dir)
		return nil, err
	}

	s.Logger.Info().Str("stage_id", id).Str("owner", owner).Str("dir", dir).Msg("stage created")
	results := s.Dispatcher.Dispatch(ctx, s.newEvent(event.PostCreate, id, dir))
	s.setPhase(stage.PhaseCreated)

	return &primary.StageResponse{Stage: toStage(record, nil), Token: lock.Token, Results: results}, nil
}

func (s *StageServiceImpl) guardCreate(ctx context.Context) error {
	lock, err := s.Locks.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ownership lock: %w", err)
	}
	guardCtx := stage.CreateContext{Now: s.Now()}
	if lock != nil {
		guardCtx.LockHeld = true
		guardCtx.LockOwner = lock.Owner
		guardCtx.LockCreatedAt = lock.CreatedAt
	}
	return stage.CanCreate(guardCtx).Error()
}

// materialize mirrors production into dir and records the stage.
func (s *StageServiceImpl) materialize(ctx context.Context, lock *secondary.LockRecord, dir string) (*secondary.StageRecord, error) {
	activeHash, err := lockFileHash(ctx, s.Workspace, s.config.LockFile)
	if err != nil {
		return nil, fmt.Errorf("failed to hash active lock file: %w", err)
	}
	if err := s.mirror(ctx, s.config.ProjectRoot, dir); err != nil {
		return nil, fmt.Errorf("failed to copy the active directory into the stage: %w", err)
	}

	record := &secondary.StageRecord{
		ID:             lock.StageID,
		Directory:      dir,
		Phase:          string(stage.PhaseCreated),
		Owner:          lock.Owner,
		ActiveHash:     activeHash,
		Constraints:    []string{},
		DevConstraints: []string{},
		CreatedAt:      lock.CreatedAt,
		UpdatedAt:      lock.CreatedAt,
	}
	if err := s.Stages.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record stage: %w", err)
	}
	return record, nil
}

// abandon undoes a partially created stage. Errors are logged: the
// caller already has the error that matters.
func (s *StageServiceImpl) abandon(ctx context.Context, lock *secondary.LockRecord, dir string) {
	if err := s.Workspace.RemoveDirectory(ctx, dir); err != nil {
		s.Logger.Warn().Err(err).Str("dir", dir).Msg("failed to remove partial stage")
	}
	if err := s.Locks.Release(ctx, lock.Token); err != nil {
		s.Logger.Warn().Err(err).Str("stage_id", lock.StageID).Msg("failed to release ownership lock")
	}
}

// Require runs the package manager inside the stage.
func (s *StageServiceImpl) Require(ctx context.Context, req primary.RequireRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpRequire, s.Now(), &err)

	record, err := s.claimForPackages(ctx, req.Token, req.Constraints)
	if err != nil {
		return nil, err
	}
	return s.runPackages(ctx, record, packageRun{action: actionRequire, packages: req.Constraints, dev: req.Dev})
}

// Update updates packages already in the stage. The recorded constraints
// are unchanged.
func (s *StageServiceImpl) Update(ctx context.Context, req primary.UpdateRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpRequire, s.Now(), &err)

	record, err := s.claimForPackages(ctx, req.Token, req.Packages)
	if err != nil {
		return nil, err
	}
	return s.runPackages(ctx, record, packageRun{action: actionUpdate, packages: req.Packages})
}

// Remove removes packages from the stage and forgets their constraints.
func (s *StageServiceImpl) Remove(ctx context.Context, req primary.RemoveRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpRequire, s.Now(), &err)

	record, err := s.claimForPackages(ctx, req.Token, req.Packages)
	if err != nil {
		return nil, err
	}
	return s.runPackages(ctx, record, packageRun{action: actionRemove, packages: req.Packages})
}

// claimForPackages runs the checks shared by every package manager
// operation and returns the owned stage.
func (s *StageServiceImpl) claimForPackages(ctx context.Context, token string, packages []string) (*secondary.StageRecord, error) {
	if err := s.assertNoMarker(ctx, stage.OpRequire); err != nil {
		return nil, err
	}
	_, record, err := s.claim(ctx, stage.OpRequire, token)
	if err != nil {
		return nil, err
	}
	if err := s.recoverRequiring(ctx, record); err != nil {
		return nil, err
	}
	if err := stage.CanRequire(stage.Phase(record.Phase)).Error(); err != nil {
		return nil, err
	}
	if len(packages) == 0 {
		return nil, &stage.ValidationError{
			Op:      stage.OpRequire,
			Results: []policy.Result{policy.Errorf("constraints", "No packages were given.")},
		}
	}
	return record, nil
}

// recoverRequiring moves a stage whose package manager run died back to
// the phase it had before the run.
func (s *StageServiceImpl) recoverRequiring(ctx context.Context, record *secondary.StageRecord) error {
	if !stage.RequireInterrupted(stage.Phase(record.Phase), record.UpdatedAt, s.config.RequireTimeout, s.Now()) {
		return nil
	}
	to := stage.RecoveredPhase(len(record.Constraints)+len(record.DevConstraints) > 0)
	s.Logger.Warn().
		Str("stage_id", record.ID).
		Time("since", record.UpdatedAt).
		Str("phase", string(to)).
		Msg("package manager run was interrupted; recovering stage")
	return s.transition(ctx, record, to)
}

type packageAction int

const (
	actionRequire packageAction = iota
	actionUpdate
	actionRemove
)

// packageRun is one package manager invocation inside a stage.
type packageRun struct {
	action   packageAction
	packages []string // Constraints for require, names otherwise
	dev      bool
}

// runPackages invokes the package manager between the pre- and
// post-require events. A failed run restores the previous phase.
func (s *StageServiceImpl) runPackages(ctx context.Context, record *secondary.StageRecord, run packageRun) (*primary.StageResponse, error) {
	pre := s.newEvent(event.PreRequire, record.ID, record.Directory)
	pre.Constraints = run.packages
	if _, err := s.Dispatcher.Veto(ctx, stage.OpRequire, pre); err != nil {
		return nil, err
	}

	prior := stage.Phase(record.Phase)
	if err := s.transition(ctx, record, stage.PhaseRequiring); err != nil {
		return nil, err
	}

	var outcome *secondary.PackageOutcome
	var runErr error
	switch run.action {
	case actionUpdate:
		outcome, runErr = s.Packages.Update(ctx, record.Directory, run.packages)
	case actionRemove:
		outcome, runErr = s.Packages.Remove(ctx, record.Directory, run.packages)
	default:
		outcome, runErr = s.Packages.Require(ctx, record.Directory, run.packages, run.dev)
	}
	if runErr != nil {
		if err := s.transition(ctx, record, prior); err != nil {
			s.Logger.Warn().Err(err).Str("stage_id", record.ID).Msg("failed to restore stage phase")
		}
		return nil, externalError(stage.OpRequire, run.packages, outcome, runErr)
	}

	switch {
	case run.action == actionRemove:
		record.Constraints = dropPackages(record.Constraints, run.packages)
		record.DevConstraints = dropPackages(record.DevConstraints, run.packages)
	case run.action == actionRequire && run.dev:
		record.DevConstraints = mergeConstraints(record.DevConstraints, run.packages)
		record.Constraints = dropPackages(record.Constraints, run.packages)
	case run.action == actionRequire:
		record.Constraints = mergeConstraints(record.Constraints, run.packages)
		record.DevConstraints = dropPackages(record.DevConstraints, run.packages)
	}
	if err := s.transition(ctx, record, stage.PhaseRequired); err != nil {
		return nil, err
	}

	packages := s.inspect(ctx, record.Directory)
	post := s.newEvent(event.PostRequire, record.ID, record.Directory)
	post.Constraints = run.packages
	post.Packages = packages
	if outcome != nil {
		post.Outcome = outcome.Output()
	}
	results := s.Dispatcher.Dispatch(ctx, post)

	s.Logger.Info().
		Str("stage_id", record.ID).
		Str("action", run.action.String()).
		Strs("packages", run.packages).
		Bool("dev", run.dev).
		Msg("package manager finished")
	return &primary.StageResponse{Stage: toStage(record, packages), Results: results, Output: post.Outcome}, nil
}

func (a packageAction) String() string {
	switch a {
	case actionUpdate:
		return "update"
	case actionRemove:
		return "remove"
	default:
		return "require"
	}
}

// Sync refreshes the stage from production and re-requires the
// constraints recorded so far, development ones as development
// dependencies.
func (s *StageServiceImpl) Sync(ctx context.Context, req primary.SyncRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpRequire, s.Now(), &err)

	if err := s.assertNoMarker(ctx, stage.OpRequire); err != nil {
		return nil, err
	}
	_, record, err := s.claim(ctx, stage.OpRequire, req.Token)
	if err != nil {
		return nil, err
	}
	if err := s.recoverRequiring(ctx, record); err != nil {
		return nil, err
	}
	if err := stage.CanRequire(stage.Phase(record.Phase)).Error(); err != nil {
		return nil, err
	}

	if err := s.mirror(ctx, s.config.ProjectRoot, record.Directory); err != nil {
		return nil, fmt.Errorf("failed to re-sync the stage: %w", err)
	}
	activeHash, err := lockFileHash(ctx, s.Workspace, s.config.LockFile)
	if err != nil {
		return nil, fmt.Errorf("failed to hash active lock file: %w", err)
	}
	record.ActiveHash = activeHash
	record.UpdatedAt = s.Now()
	if err := s.Stages.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update stage: %w", err)
	}

	runs := []packageRun{
		{action: actionRequire, packages: record.Constraints},
		{action: actionRequire, packages: record.DevConstraints, dev: true},
	}
	var results []policy.Result
	var output []string
	for _, run := range runs {
		if len(run.packages) == 0 {
			continue
		}
		r, err := s.runPackages(ctx, record, run)
		if err != nil {
			return nil, err
		}
		resp = r
		results = append(results, r.Results...)
		if r.Output != "" {
			output = append(output, r.Output)
		}
	}
	if resp == nil {
		return &primary.StageResponse{Stage: toStage(record, nil)}, nil
	}
	resp.Results = results
	resp.Output = strings.Join(output, "\n")
	return resp, nil
}

// Apply promotes the stage into production. Once the failure marker is
// written, any error leaves the marker set and is returned as an
// ApplyInterruptedError.
func (s *StageServiceImpl) Apply(ctx context.Context, req primary.ApplyRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpApply, s.Now(), &err)

	if err := s.assertNoMarker(ctx, stage.OpApply); err != nil {
		return nil, err
	}
	_, record, err := s.claim(ctx, stage.OpApply, req.Token)
	if err != nil {
		return nil, err
	}
	if err := stage.CanApply(stage.Phase(record.Phase)).Error(); err != nil {
		return nil, err
	}

	pre := s.newEvent(event.PreApply, record.ID, record.Directory)
	pre.Constraints = record.Constraints
	if _, err := s.Dispatcher.Veto(ctx, stage.OpApply, pre); err != nil {
		return nil, err
	}

	startedAt := s.Now()
	marker := &secondary.FailureMarkerRecord{
		Message:   fmt.Sprintf("Applying stage %s started at %s and did not complete.", record.ID, startedAt.UTC().Format(time.RFC3339)),
		StageID:   record.ID,
		Phase:     string(stage.PhaseApplying),
		CreatedAt: startedAt,
	}
	if err := s.Marker.Write(ctx, marker); err != nil {
		return nil, fmt.Errorf("failed to write failure marker: %w", err)
	}

	if err := s.promote(ctx, record, startedAt); err != nil {
		s.Logger.Error().Err(err).Str("stage_id", record.ID).Msg("apply interrupted; failure marker left in place")
		return nil, &stage.ApplyInterruptedError{StageID: record.ID, Err: err}
	}

	if err := s.transition(ctx, record, stage.PhaseApplied); err != nil {
		return nil, err
	}

	s.Logger.Info().Str("stage_id", record.ID).Msg("stage applied")
	results := s.Dispatcher.Dispatch(ctx, s.newEvent(event.PostApply, record.ID, record.Directory))
	return &primary.StageResponse{Stage: toStage(record, nil), Results: results}, nil
}

// promote is the section guarded by the failure marker.
func (s *StageServiceImpl) promote(ctx context.Context, record *secondary.StageRecord, startedAt time.Time) error {
	record.ApplyStartedAt = &startedAt
	if err := s.transition(ctx, record, stage.PhaseApplying); err != nil {
		return err
	}
	if err := s.mirror(ctx, record.Directory, s.config.ProjectRoot); err != nil {
		return fmt.Errorf("failed to copy the stage into the active directory: %w", err)
	}
	if err := s.Marker.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear failure marker: %w", err)
	}
	return nil
}

// PostApply runs the configured post-apply hooks in the production tree.
func (s *StageServiceImpl) PostApply(ctx context.Context, req primary.PostApplyRequest) (resp *primary.StageResponse, err error) {
	defer s.observe(stage.OpPostApply, s.Now(), &err)

	if err := s.assertNoMarker(ctx, stage.OpPostApply); err != nil {
		return nil, err
	}
	_, record, err := s.claim(ctx, stage.OpPostApply, req.Token)
	if err != nil {
		return nil, err
	}
	if err := stage.CanPostApply(stage.Phase(record.Phase)).Error(); err != nil {
		return nil, err
	}

	var output []string
	for _, hook := range s.config.PostApply {
		if len(hook.Command) == 0 {
			continue
		}
		stdout, stderr, code, runErr := s.Runner.Run(ctx, s.config.ProjectRoot, hook.Command[0], hook.Command[1:]...)
		outcome := &secondary.PackageOutcome{
			Command:  strings.Join(hook.Command, " "),
			ExitCode: code,
			Stdout:   string(stdout),
			Stderr:   string(stderr),
		}
		if runErr != nil {
			return nil, externalError(stage.OpPostApply, nil, outcome, runErr)
		}
		if out := outcome.Output(); out != "" {
			output = append(output, out)
		}
		s.Logger.Info().Str("hook", hook.Name).Str("stage_id", record.ID).Msg("post-apply hook finished")
	}

	return &primary.StageResponse{Stage: toStage(record, nil), Output: strings.Join(output, "\n")}, nil
}

// Destroy removes the stage and releases ownership.
func (s *StageServiceImpl) Destroy(ctx context.Context, req primary.DestroyRequest) (err error) {
	defer s.observe(stage.OpDestroy, s.Now(), &err)

	if err := s.assertNoMarker(ctx, stage.OpDestroy); err != nil {
		return err
	}

	var lock *secondary.LockRecord
	if req.Force {
		if lock, err = s.Locks.Get(ctx); err != nil {
			return fmt.Errorf("failed to read ownership lock: %w", err)
		}
		if lock == nil {
			return stage.CanClaim(stage.ClaimContext{Op: stage.OpDestroy}).Error()
		}
	} else if lock, _, err = s.claim(ctx, stage.OpDestroy, req.Token); err != nil {
		return err
	}

	record, err := s.Stages.GetByID(ctx, lock.StageID)
	if err != nil && !errors.Is(err, secondary.ErrNotFound) {
		return fmt.Errorf("failed to read stage: %w", err)
	}
	dir := stage.Directory(s.config.StageRoot, lock.StageID)
	guardCtx := stage.DestroyContext{Phase: stage.PhaseCreated, Force: req.Force, Now: s.Now()}
	if record != nil {
		dir = record.Directory
		guardCtx.Phase = stage.Phase(record.Phase)
		guardCtx.ApplyStartedAt = record.ApplyStartedAt
	}
	if err := stage.CanDestroy(guardCtx).Error(); err != nil {
		return err
	}

	if !req.Force {
		if _, err := s.Dispatcher.Veto(ctx, stage.OpDestroy, s.newEvent(event.PreDestroy, lock.StageID, dir)); err != nil {
			return err
		}
	}

	if err := s.Workspace.RemoveDirectory(ctx, dir); err != nil {
		return fmt.Errorf("failed to remove stage directory: %w", err)
	}

	reason := req.Reason
	if reason == "" {
		reason = "destroyed by its owner"
		if req.Force {
			reason = "forcibly destroyed"
		}
	}
	destroyed := &secondary.DestroyedStageRecord{StageID: lock.StageID, Token: lock.Token, Reason: reason, DestroyedAt: s.Now()}
	if err := s.Destroyed.Record(ctx, destroyed); err != nil {
		return fmt.Errorf("failed to record destroyed stage: %w", err)
	}
	if record != nil {
		if err := s.Stages.Delete(ctx, record.ID); err != nil {
			return fmt.Errorf("failed to delete stage: %w", err)
		}
	}

	if req.Force {
		err = s.Locks.ForceRelease(ctx)
	} else {
		err = s.Locks.Release(ctx, lock.Token)
	}
	if err != nil {
		return fmt.Errorf("failed to release ownership lock: %w", err)
	}

	s.Logger.Info().Str("stage_id", lock.StageID).Bool("force", req.Force).Str("reason", reason).Msg("stage destroyed")
	s.Dispatcher.Dispatch(ctx, s.newEvent(event.PostDestroy, lock.StageID, dir))
	s.setPhase(stage.PhaseUncreated)
	return nil
}

// Status reports the current stage, lock and failure marker. It never
// fails because of the marker; the marker is part of the report.
func (s *StageServiceImpl) Status(ctx context.Context) (*primary.StatusResponse, error) {
	lock, err := s.Locks.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ownership lock: %w", err)
	}
	marker, err := s.Marker.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read failure marker: %w", err)
	}

	resp := &primary.StatusResponse{Available: lock == nil && marker == nil}
	phase := stage.PhaseUncreated
	if marker != nil {
		resp.Marker = &primary.FailureMarker{
			Message:   marker.Message,
			StageID:   marker.StageID,
			Phase:     marker.Phase,
			Detail:    marker.Detail,
			CreatedAt: marker.CreatedAt,
		}
	}
	if lock != nil {
		resp.Lock = &primary.Lock{Owner: lock.Owner, StageID: lock.StageID, CreatedAt: lock.CreatedAt}

		record, err := s.Stages.GetByID(ctx, lock.StageID)
		switch {
		case err == nil:
			phase = stage.ResolvePhase(stage.Phase(record.Phase), marker != nil)
			record.Phase = string(phase)
			resp.Stage = toStage(record, nil)
			resp.Stage.Interrupted = stage.RequireInterrupted(phase, record.UpdatedAt, s.config.RequireTimeout, s.Now())
		case !errors.Is(err, secondary.ErrNotFound):
			return nil, fmt.Errorf("failed to read stage: %w", err)
		}

		if s.EventLog != nil {
			entries, err := s.EventLog.ListByStage(ctx, lock.StageID, 20)
			if err != nil {
				return nil, fmt.Errorf("failed to read event log: %w", err)
			}
			for _, e := range entries {
				resp.Events = append(resp.Events, &primary.EventLogEntry{
					StageID:   e.StageID,
					Event:     e.Event,
					Severity:  e.Severity,
					Message:   e.Message,
					CreatedAt: e.CreatedAt,
				})
			}
		}
	}
	s.setPhase(phase)
	return resp, nil
}

// RunStatusCheck runs the read-only environment and version checks.
func (s *StageServiceImpl) RunStatusCheck(ctx context.Context) (results []policy.Result, err error) {
	defer s.observe(stage.OpStatus, s.Now(), &err)

	if err := s.assertNoMarker(ctx, stage.OpStatus); err != nil {
		return nil, err
	}
	var stageID, dir string
	lock, err := s.Locks.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ownership lock: %w", err)
	}
	if lock != nil {
		stageID = lock.StageID
		dir = stage.Directory(s.config.StageRoot, lock.StageID)
	}
	return s.Dispatcher.Dispatch(ctx, s.newEvent(event.StatusCheck, stageID, dir)), nil
}

// ClearFailureMarker removes the failure marker after operator review. A
// stage left mid-apply is marked failed so it can only be destroyed.
func (s *StageServiceImpl) ClearFailureMarker(ctx context.Context) error {
	marker, err := s.Marker.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read failure marker: %w", err)
	}
	if marker == nil {
		return nil
	}

	if marker.StageID != "" {
		record, err := s.Stages.GetByID(ctx, marker.StageID)
		switch {
		case err == nil && stage.Phase(record.Phase) == stage.PhaseApplying:
			if err := s.transition(ctx, record, stage.PhaseFailed); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, secondary.ErrNotFound):
			return fmt.Errorf("failed to read stage: %w", err)
		}
	}

	if err := s.Marker.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear failure marker: %w", err)
	}
	s.Logger.Warn().Str("stage_id", marker.StageID).Str("message", marker.Message).Msg("failure marker cleared by operator")
	return nil
}

// assertNoMarker fails every operation while the failure marker is set.
func (s *StageServiceImpl) assertNoMarker(ctx context.Context, op stage.Operation) error {
	marker, err := s.Marker.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read failure marker: %w", err)
	}
	if marker == nil {
		return nil
	}
	return &stage.FailureMarkerError{Op: op, Message: marker.Message, StageID: marker.StageID, CreatedAt: marker.CreatedAt}
}

// claim checks that token owns the current stage and returns it.
func (s *StageServiceImpl) claim(ctx context.Context, op stage.Operation, token string) (*secondary.LockRecord, *secondary.StageRecord, error) {
	lock, err := s.Locks.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read ownership lock: %w", err)
	}

	guardCtx := stage.ClaimContext{Op: op, PresentedToken: token}
	if lock != nil {
		guardCtx.LockHeld = true
		guardCtx.LockToken = lock.Token
	}
	if token != "" && (lock == nil || lock.Token != token) {
		destroyed, err := s.Destroyed.GetByToken(ctx, token)
		switch {
		case err == nil:
			guardCtx.DestroyedReason = destroyed.Reason
		case !errors.Is(err, secondary.ErrNotFound):
			return nil, nil, fmt.Errorf("failed to read destroyed stages: %w", err)
		}
	}
	if err := stage.CanClaim(guardCtx).Error(); err != nil {
		return nil, nil, err
	}

	record, err := s.Stages.GetByID(ctx, lock.StageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read stage %s: %w", lock.StageID, err)
	}
	return lock, record, nil
}

// transition persists a phase change after checking it is legal.
func (s *StageServiceImpl) transition(ctx context.Context, record *secondary.StageRecord, to stage.Phase) error {
	from := stage.Phase(record.Phase)
	if from != to && !stage.CanTransition(from, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	record.Phase = string(to)
	record.UpdatedAt = s.Now()
	if err := s.Stages.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to update stage phase: %w", err)
	}
	s.setPhase(to)
	return nil
}

// mirror makes the tree at to match the tree at from outside the
// excluded paths.
func (s *StageServiceImpl) mirror(ctx context.Context, from, to string) error {
	if err := s.Workspace.CreateDirectory(ctx, to); err != nil {
		return err
	}
	source, err := s.Workspace.Scan(ctx, from, s.config.Exclude)
	if err != nil {
		return err
	}
	target, err := s.Workspace.Scan(ctx, to, s.config.Exclude)
	if err != nil {
		return err
	}

	plan := promotion.GenerateSyncPlan(promotion.SyncInput{
		SourceRoot: from,
		TargetRoot: to,
		Source:     source,
		Target:     target,
		Exclude:    s.config.Exclude,
	})
	s.Logger.Debug().
		Str("from", from).
		Str("to", to).
		Int("copies", len(plan.Copies)).
		Int("removals", len(plan.Removals)).
		Msg("sync plan")
	for _, rel := range plan.Conflicts {
		s.Logger.Warn().Str("path", rel).Str("to", to).Msg("type change skipped: excluded paths live below")
	}
	return s.Executor.Execute(ctx, plan.Effects())
}

// inspect returns the resolved packages in dir. Failures are logged and
// yield nil; the caller already succeeded.
func (s *StageServiceImpl) inspect(ctx context.Context, dir string) map[string]string {
	installed, err := s.Packages.Inspect(ctx, dir)
	if err != nil {
		s.Logger.Warn().Err(err).Str("dir", dir).Msg("failed to inspect staged packages")
		return nil
	}
	packages := make(map[string]string, len(installed))
	for _, p := range installed {
		packages[p.Name] = p.Version
	}
	return packages
}

func (s *StageServiceImpl) newEvent(kind event.Kind, stageID, dir string) event.Event {
	return event.Event{
		Kind:       kind,
		StageID:    stageID,
		StageDir:   dir,
		ActiveDir:  s.config.ProjectRoot,
		OccurredAt: s.Now(),
	}
}

func (s *StageServiceImpl) observe(op stage.Operation, started time.Time, err *error) {
	if s.Metrics == nil {
		return
	}
	outcome := "success"
	if *err != nil {
		outcome, _ = stage.KindOf(*err, op)
	}
	s.Metrics.ObserveOperation(string(op), outcome, s.Now().Sub(started).Seconds())
}

func (s *StageServiceImpl) setPhase(p stage.Phase) {
	if s.Metrics != nil {
		s.Metrics.SetPhase(string(p))
	}
}

// externalError maps a failed package manager or hook invocation.
func externalError(op stage.Operation, constraints []string, outcome *secondary.PackageOutcome, err error) error {
	var cmdErr *secondary.CommandError
	if errors.As(err, &cmdErr) {
		o := cmdErr.Outcome
		outcome = &o
	}
	ext := &stage.ExternalOperationError{Op: op, Constraints: constraints, ExitCode: -1, Err: err}
	if outcome != nil {
		ext.Command = outcome.Command
		ext.ExitCode = outcome.ExitCode
		ext.Output = outcome.Output()
	}
	if ext.Command == "" {
		ext.Command = "package manager"
	}
	if ext.Output == "" {
		ext.Output = err.Error()
	}
	return ext
}

// dropPackages returns constraints without the entries naming any of
// packages.
func dropPackages(constraints, packages []string) []string {
	kept := make([]string, 0, len(constraints))
	for _, c := range constraints {
		name := constraintPackage(c)
		found := false
		for _, p := range packages {
			if constraintPackage(p) == name {
				found = true
				break
			}
		}
		if !found {
			kept = append(kept, c)
		}
	}
	return kept
}

// mergeConstraints replaces constraints on the same package and appends
// new ones, keeping first-seen order.
func mergeConstraints(existing, added []string) []string {
	merged := append([]string{}, existing...)
	for _, c := range added {
		replaced := false
		for i, e := range merged {
			if constraintPackage(e) == constraintPackage(c) {
				merged[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, c)
		}
	}
	return merged
}

func constraintPackage(c string) string {
	if i := strings.IndexAny(c, ": ="); i >= 0 {
		return strings.ToLower(c[:i])
	}
	return strings.ToLower(c)
}

func toStage(record *secondary.StageRecord, packages map[string]string) *primary.Stage {
	return &primary.Stage{
		ID:             record.ID,
		Directory:      record.Directory,
		Phase:          record.Phase,
		Owner:          record.Owner,
		Constraints:    record.Constraints,
		DevConstraints: record.DevConstraints,
		Packages:       packages,
		ApplyStartedAt: record.ApplyStartedAt,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

var _ primary.StageService = (*StageServiceImpl)(nil)
