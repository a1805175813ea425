package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/example/stagehand/internal/core/effects"
	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/ports/secondary"
)

// ============================================================================
// Mock LockRepository
// ============================================================================

var _ secondary.LockRepository = (*mockLockRepository)(nil)

type mockLockRepository struct {
	mu   sync.Mutex
	lock *secondary.LockRecord
}

func newMockLockRepository() *mockLockRepository {
	return &mockLockRepository{}
}

func (m *mockLockRepository) Acquire(ctx context.Context, lock *secondary.LockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil {
		return secondary.ErrLockHeld
	}
	copied := *lock
	m.lock = &copied
	return nil
}

func (m *mockLockRepository) Get(ctx context.Context) (*secondary.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil {
		return nil, nil
	}
	copied := *m.lock
	return &copied, nil
}

func (m *mockLockRepository) Release(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil || m.lock.Token != token {
		return secondary.ErrLockNotOwned
	}
	m.lock = nil
	return nil
}

func (m *mockLockRepository) ForceRelease(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lock = nil
	return nil
}

// ============================================================================
// Mock StageRepository
// ============================================================================

var _ secondary.StageRepository = (*mockStageRepository)(nil)

type mockStageRepository struct {
	stages map[string]*secondary.StageRecord
}

func newMockStageRepository() *mockStageRepository {
	return &mockStageRepository{stages: make(map[string]*secondary.StageRecord)}
}

func (m *mockStageRepository) Create(ctx context.Context, stage *secondary.StageRecord) error {
	if _, ok := m.stages[stage.ID]; ok {
		return fmt.Errorf("stage %s already exists", stage.ID)
	}
	copied := *stage
	m.stages[stage.ID] = &copied
	return nil
}

func (m *mockStageRepository) GetByID(ctx context.Context, id string) (*secondary.StageRecord, error) {
	stage, ok := m.stages[id]
	if !ok {
		return nil, fmt.Errorf("stage %s: %w", id, secondary.ErrNotFound)
	}
	copied := *stage
	return &copied, nil
}

func (m *mockStageRepository) Update(ctx context.Context, stage *secondary.StageRecord) error {
	if _, ok := m.stages[stage.ID]; !ok {
		return fmt.Errorf("stage %s: %w", stage.ID, secondary.ErrNotFound)
	}
	copied := *stage
	m.stages[stage.ID] = &copied
	return nil
}

func (m *mockStageRepository) Delete(ctx context.Context, id string) error {
	delete(m.stages, id)
	return nil
}

// ============================================================================
// Mock DestroyedStageRepository
// ============================================================================

var _ secondary.DestroyedStageRepository = (*mockDestroyedStageRepository)(nil)

type mockDestroyedStageRepository struct {
	byToken map[string]*secondary.DestroyedStageRecord
}

func newMockDestroyedStageRepository() *mockDestroyedStageRepository {
	return &mockDestroyedStageRepository{byToken: make(map[string]*secondary.DestroyedStageRecord)}
}

func (m *mockDestroyedStageRepository) Record(ctx context.Context, destroyed *secondary.DestroyedStageRecord) error {
	copied := *destroyed
	m.byToken[destroyed.Token] = &copied
	return nil
}

func (m *mockDestroyedStageRepository) GetByToken(ctx context.Context, token string) (*secondary.DestroyedStageRecord, error) {
	d, ok := m.byToken[token]
	if !ok {
		return nil, secondary.ErrNotFound
	}
	return d, nil
}

// ============================================================================
// Mock EventLogRepository
// ============================================================================

var _ secondary.EventLogRepository = (*mockEventLogRepository)(nil)

type mockEventLogRepository struct {
	entries []*secondary.EventLogRecord
}

func (m *mockEventLogRepository) Append(ctx context.Context, entry *secondary.EventLogRecord) error {
	copied := *entry
	copied.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, &copied)
	return nil
}

func (m *mockEventLogRepository) ListByStage(ctx context.Context, stageID string, limit int) ([]*secondary.EventLogRecord, error) {
	var out []*secondary.EventLogRecord
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].StageID == stageID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockEventLogRepository) kinds() []string {
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

// ============================================================================
// Fake PackageManager
// ============================================================================

var _ secondary.PackageManager = (*fakePackageManager)(nil)

// fakePackageManager stores resolved versions in a tiny lock file inside
// the directory it operates on, so promotion carries them into production.
type fakePackageManager struct {
	available  error
	requireErr error
	calls      []packageCall
}

// packageCall records one package manager invocation.
type packageCall struct {
	action   string
	packages []string
	dev      bool
}

func (f *fakePackageManager) callsOf(action string) []packageCall {
	var out []packageCall
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

type fakeLock struct {
	Packages []secondary.InstalledPackage `json:"packages"`
}

func writeFakeLock(dir string, packages map[string]string) error {
	lock := fakeLock{}
	for name, version := range packages {
		lock.Packages = append(lock.Packages, secondary.InstalledPackage{Name: name, Version: version})
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "composer.lock"), data, 0644)
}

func (f *fakePackageManager) Require(ctx context.Context, dir string, constraints []string, dev bool) (*secondary.PackageOutcome, error) {
	f.calls = append(f.calls, packageCall{action: "require", packages: constraints, dev: dev})
	if f.requireErr != nil {
		return nil, f.requireErr
	}
	packages, err := f.installed(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, c := range constraints {
		name, version, _ := strings.Cut(c, ":")
		packages[name] = version
	}
	if err := writeFakeLock(dir, packages); err != nil {
		return nil, err
	}
	return &secondary.PackageOutcome{Command: "composer require " + strings.Join(constraints, " "), Stdout: "Lock file operations: 1 update"}, nil
}

func (f *fakePackageManager) Update(ctx context.Context, dir string, packages []string) (*secondary.PackageOutcome, error) {
	f.calls = append(f.calls, packageCall{action: "update", packages: packages})
	if f.requireErr != nil {
		return nil, f.requireErr
	}
	return &secondary.PackageOutcome{Command: "composer update " + strings.Join(packages, " "), Stdout: "Nothing to modify in lock file"}, nil
}

func (f *fakePackageManager) Remove(ctx context.Context, dir string, packages []string) (*secondary.PackageOutcome, error) {
	f.calls = append(f.calls, packageCall{action: "remove", packages: packages})
	if f.requireErr != nil {
		return nil, f.requireErr
	}
	installed, err := f.installed(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, name := range packages {
		delete(installed, name)
	}
	if err := writeFakeLock(dir, installed); err != nil {
		return nil, err
	}
	return &secondary.PackageOutcome{Command: "composer remove " + strings.Join(packages, " "), Stdout: "Lock file operations: 0 installs, 0 updates, 1 removal"}, nil
}

func (f *fakePackageManager) installed(ctx context.Context, dir string) (map[string]string, error) {
	list, err := f.Inspect(ctx, dir)
	if err != nil {
		return nil, err
	}
	packages := make(map[string]string)
	for _, p := range list {
		packages[p.Name] = p.Version
	}
	return packages, nil
}

func (f *fakePackageManager) Inspect(ctx context.Context, dir string) ([]secondary.InstalledPackage, error) {
	data, err := os.ReadFile(filepath.Join(dir, "composer.lock"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lock fakeLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	return lock.Packages, nil
}

func (f *fakePackageManager) Available(ctx context.Context) error {
	return f.available
}

// ============================================================================
// Other fakes
// ============================================================================

var _ secondary.ReleaseSource = (*fakeReleaseSource)(nil)

type fakeReleaseSource struct {
	releases []policy.Release
	err      error
}

func (f *fakeReleaseSource) Releases(ctx context.Context, project string) ([]policy.Release, error) {
	return f.releases, f.err
}

var _ secondary.CommandRunner = (*fakeRunner)(nil)

type fakeRunner struct {
	calls    []string
	exitCode int
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, int, error) {
	f.calls = append(f.calls, dir+":"+strings.Join(append([]string{name}, args...), " "))
	if f.err != nil {
		return nil, []byte("hook failed"), f.exitCode, f.err
	}
	return []byte("done"), nil, 0, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

// vetoSubscriber returns an error result for one event kind.
type vetoSubscriber struct {
	kind event.Kind
	seen []event.Kind
}

func (v *vetoSubscriber) Name() string { return "veto" }

func (v *vetoSubscriber) OnEvent(ctx context.Context, evt event.Event) []policy.Result {
	v.seen = append(v.seen, evt.Kind)
	if evt.Kind == v.kind {
		return []policy.Result{policy.Errorf("veto", "%s refused by test subscriber", evt.Kind)}
	}
	return nil
}

// crashExecutor fails on the first file effect under root, simulating a
// process dying part way through promotion.
type crashExecutor struct {
	inner EffectExecutor
	root  string
}

func (c *crashExecutor) Execute(ctx context.Context, effs []effects.Effect) error {
	for _, eff := range effs {
		if fe, ok := eff.(effects.FileEffect); ok && strings.HasPrefix(fe.Path, c.root) {
			return errors.New("simulated crash during promotion")
		}
		if err := c.inner.Execute(ctx, []effects.Effect{eff}); err != nil {
			return err
		}
	}
	return nil
}

type recordingMetrics struct {
	operations []string
	phase      string
}

func (r *recordingMetrics) ObserveOperation(op, outcome string, durationSeconds float64) {
	r.operations = append(r.operations, op+":"+outcome)
}

func (r *recordingMetrics) IncEvent(kind, severity string) {}

func (r *recordingMetrics) SetPhase(phase string) { r.phase = phase }
