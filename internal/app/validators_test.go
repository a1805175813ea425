package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/example/stagehand/internal/core/event"
	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/core/promotion"
	"github.com/example/stagehand/internal/ports/secondary"
)

type stubWorkspace struct {
	free     uint64
	freeErr  error
	existing map[string]bool
	hashes   map[string]string
	checked  []string
}

func (s *stubWorkspace) Scan(ctx context.Context, root string, exclude []string) (promotion.Manifest, error) {
	return promotion.Manifest{}, nil
}

func (s *stubWorkspace) HashFile(ctx context.Context, path string) (string, error) {
	if h, ok := s.hashes[path]; ok {
		return h, nil
	}
	return "", &pathError{path}
}

func (s *stubWorkspace) CreateDirectory(ctx context.Context, path string) error { return nil }
func (s *stubWorkspace) RemoveDirectory(ctx context.Context, path string) error { return nil }

func (s *stubWorkspace) DirectoryExists(ctx context.Context, path string) (bool, error) {
	return s.existing[path], nil
}

func (s *stubWorkspace) FreeSpace(ctx context.Context, path string) (uint64, error) {
	s.checked = append(s.checked, path)
	return s.free, s.freeErr
}

type pathError struct{ path string }

func (e *pathError) Error() string { return e.path + ": no such file or directory" }
func (e *pathError) Unwrap() error { return os.ErrNotExist }

func TestPackageManagerValidator(t *testing.T) {
	ctx := context.Background()
	pm := &fakePackageManager{available: errors.New(`exec: "composer": executable file not found in $PATH`)}
	v := NewPackageManagerValidator(pm)

	if got := v.OnEvent(ctx, event.Event{Kind: event.PreApply}); got != nil {
		t.Errorf("pre_apply results = %+v, want none", got)
	}
	got := v.OnEvent(ctx, event.Event{Kind: event.StatusCheck})
	if len(got) != 1 || got[0].Severity != policy.SeverityError || !strings.Contains(got[0].Messages[0], "not available") {
		t.Errorf("status_check results = %+v", got)
	}
}

func TestDiskSpaceValidator(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		free      uint64
		freeErr   error
		wantError bool
	}{
		{name: "enough space", free: 2 << 30},
		{name: "too little space", free: 10 << 20, wantError: true},
		{name: "statfs fails", freeErr: errors.New("permission denied"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := &stubWorkspace{free: tt.free, freeErr: tt.freeErr, existing: map[string]bool{"/srv/app": true, "/var": true}}
			v := NewDiskSpaceValidator(ws, "/var/lib/stagehand/stages", 1024<<20)

			got := v.OnEvent(ctx, event.Event{Kind: event.PreCreate, ActiveDir: "/srv/app"})
			if policy.HasErrors(got) != tt.wantError {
				t.Errorf("OnEvent() = %+v, wantError %v", got, tt.wantError)
			}
			if len(ws.checked) != 2 || ws.checked[1] != "/var" {
				t.Errorf("checked paths = %v, want the active dir and the nearest existing stage root ancestor", ws.checked)
			}
		})
	}
}

func TestLockFileValidator(t *testing.T) {
	ctx := context.Background()
	stages := newMockStageRepository()
	_ = stages.Create(ctx, &secondary.StageRecord{ID: "s1", ActiveHash: "abc"})
	_ = stages.Create(ctx, &secondary.StageRecord{ID: "s2", ActiveHash: ""})

	tests := []struct {
		name      string
		hashes    map[string]string
		stageID   string
		kind      event.Kind
		wantError bool
	}{
		{name: "unchanged", hashes: map[string]string{"/srv/app/composer.lock": "abc"}, stageID: "s1", kind: event.PreApply},
		{name: "changed", hashes: map[string]string{"/srv/app/composer.lock": "def"}, stageID: "s1", kind: event.PreRequire, wantError: true},
		{name: "absent then and now", hashes: map[string]string{}, stageID: "s2", kind: event.PreApply},
		{name: "appeared", hashes: map[string]string{"/srv/app/composer.lock": "new"}, stageID: "s2", kind: event.PreApply, wantError: true},
		{name: "ignores other events", hashes: map[string]string{"/srv/app/composer.lock": "def"}, stageID: "s1", kind: event.StatusCheck},
		{name: "unknown stage", hashes: map[string]string{}, stageID: "missing", kind: event.PreApply, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewLockFileValidator(&stubWorkspace{hashes: tt.hashes}, stages, "/srv/app/composer.lock")
			got := v.OnEvent(ctx, event.Event{Kind: tt.kind, StageID: tt.stageID})
			if policy.HasErrors(got) != tt.wantError {
				t.Errorf("OnEvent() = %+v, wantError %v", got, tt.wantError)
			}
		})
	}
}

func TestVersionPolicyValidator(t *testing.T) {
	ctx := context.Background()
	active := t.TempDir()
	staged := t.TempDir()
	if err := writeFakeLock(active, map[string]string{"drupal/core": "9.8.0"}); err != nil {
		t.Fatal(err)
	}

	releases := &fakeReleaseSource{releases: []policy.Release{
		{Version: "9.8.0", Status: policy.ReleaseStatusPublished},
		{Version: "9.8.1", Status: policy.ReleaseStatusPublished},
		{Version: "9.9.0", Status: policy.ReleaseStatusPublished},
	}}
	cron := policy.Config{Trigger: policy.TriggerCron, UnattendedLevel: policy.LevelSecurity}
	v := NewVersionPolicyValidator(policy.NewDefaultEngine(), releases, &fakePackageManager{}, "drupal", "drupal/core", cron)

	tests := []struct {
		name     string
		evt      event.Event
		wantRule string
	}{
		{
			name:     "cron target must be a security release",
			evt:      event.Event{Kind: event.PreApply, ActiveDir: active, StageDir: staged, Packages: map[string]string{"drupal/core": "9.8.1"}},
			wantRule: policy.RuleTargetSecurityRelease,
		},
		{
			name:     "cron never crosses minor versions",
			evt:      event.Event{Kind: event.PreApply, ActiveDir: active, StageDir: staged, Packages: map[string]string{"drupal/core": "9.9.0"}},
			wantRule: policy.RuleForbidMinorUpdates,
		},
		{
			name: "unchanged core is not evaluated",
			evt:  event.Event{Kind: event.PreApply, ActiveDir: active, StageDir: staged, Packages: map[string]string{"drupal/core": "9.8.0"}},
		},
		{
			name: "status check without security release has nothing to recommend",
			evt:  event.Event{Kind: event.StatusCheck, ActiveDir: active},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.OnEvent(ctx, tt.evt)
			if tt.wantRule == "" {
				if policy.HasErrors(got) {
					t.Errorf("OnEvent() = %+v, want no errors", got)
				}
				return
			}
			found := false
			for _, r := range got {
				if r.Rule == tt.wantRule {
					found = true
				}
			}
			if !found {
				t.Errorf("OnEvent() = %+v, want a %s finding", got, tt.wantRule)
			}
		})
	}

	failing := NewVersionPolicyValidator(policy.NewDefaultEngine(), &fakeReleaseSource{err: errors.New("feed offline")}, &fakePackageManager{}, "drupal", "drupal/core", cron)
	got := failing.OnEvent(ctx, event.Event{Kind: event.StatusCheck, ActiveDir: active})
	if !policy.HasErrors(got) {
		t.Errorf("unavailable release feed should be an error, got %+v", got)
	}
}

func TestPendingStageValidator(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	locks := newMockLockRepository()
	v := NewPendingStageValidator(locks, func() time.Time { return now })

	if got := v.OnEvent(ctx, event.Event{Kind: event.StatusCheck}); got != nil {
		t.Errorf("no stage: OnEvent() = %+v", got)
	}

	_ = locks.Acquire(ctx, &secondary.LockRecord{Token: "t", Owner: "cron@web-1", StageID: "s1", CreatedAt: now.Add(-2 * time.Hour)})
	got := v.OnEvent(ctx, event.Event{Kind: event.StatusCheck})
	if len(got) != 1 || got[0].Severity != policy.SeverityWarning || !strings.Contains(got[0].Messages[0], "2h0m0s") {
		t.Errorf("pending stage: OnEvent() = %+v", got)
	}
}
