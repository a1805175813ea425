package promotion

import (
	"testing"

	"github.com/example/stagehand/internal/core/effects"
)

func TestGenerateSyncPlan_MirrorIntoEmptyTarget(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/srv/app",
		TargetRoot: "/var/stage/s1",
		Source: Manifest{
			"vendor":              {IsDir: true, Mode: 0o755},
			"vendor/autoload.php": {Hash: "h1", Mode: 0o644},
			"web":                 {IsDir: true, Mode: 0o755},
			"web/index.php":       {Hash: "h2", Mode: 0o644},
			"current":             {LinkTarget: "web"},
		},
		Target: Manifest{},
	}

	plan := GenerateSyncPlan(input)

	if len(plan.Dirs) != 2 {
		t.Errorf("Dirs count = %d, want 2", len(plan.Dirs))
	}
	if len(plan.Copies) != 2 {
		t.Fatalf("Copies count = %d, want 2", len(plan.Copies))
	}
	if plan.Copies[0].Source != "/srv/app/vendor/autoload.php" {
		t.Errorf("first copy source = %q", plan.Copies[0].Source)
	}
	if plan.Copies[0].Path != "/var/stage/s1/vendor/autoload.php" {
		t.Errorf("first copy path = %q", plan.Copies[0].Path)
	}
	if len(plan.Links) != 1 || plan.Links[0].LinkTarget != "web" {
		t.Errorf("Links = %+v, want one link to web", plan.Links)
	}
	if len(plan.Removals) != 0 {
		t.Errorf("Removals count = %d, want 0", len(plan.Removals))
	}
	if len(plan.Effects()) != plan.Len() {
		t.Errorf("Effects() length = %d, want %d", len(plan.Effects()), plan.Len())
	}
}

func TestGenerateSyncPlan_OnlyChangedEntries(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source: Manifest{
			"composer.lock": {Hash: "new", Mode: 0o644},
			"index.php":     {Hash: "same", Mode: 0o644},
			"run.sh":        {Hash: "same", Mode: 0o755},
		},
		Target: Manifest{
			"composer.lock": {Hash: "old", Mode: 0o644},
			"index.php":     {Hash: "same", Mode: 0o644},
			"run.sh":        {Hash: "same", Mode: 0o644},
		},
	}

	plan := GenerateSyncPlan(input)

	if len(plan.Copies) != 2 {
		t.Fatalf("Copies count = %d, want 2 (content change + mode change)", len(plan.Copies))
	}
	if plan.Copies[0].Path != "/prod/composer.lock" || plan.Copies[1].Path != "/prod/run.sh" {
		t.Errorf("Copies = %+v", plan.Copies)
	}
}

func TestGenerateSyncPlan_RemovalsDeepestFirst(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source:     Manifest{"keep.txt": {Hash: "k"}},
		Target: Manifest{
			"keep.txt":             {Hash: "k"},
			"modules":              {IsDir: true},
			"modules/old":          {IsDir: true},
			"modules/old/old.info": {Hash: "x"},
		},
	}

	plan := GenerateSyncPlan(input)

	want := []string{"/prod/modules/old/old.info", "/prod/modules/old", "/prod/modules"}
	if len(plan.Removals) != len(want) {
		t.Fatalf("Removals count = %d, want %d", len(plan.Removals), len(want))
	}
	for i, w := range want {
		if plan.Removals[i].Path != w {
			t.Errorf("Removals[%d] = %q, want %q", i, plan.Removals[i].Path, w)
		}
		if plan.Removals[i].Operation != effects.FileRemove {
			t.Errorf("Removals[%d] operation = %q", i, plan.Removals[i].Operation)
		}
	}
}

func TestGenerateSyncPlan_ExclusionsAreUntouched(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source: Manifest{
			"sites/default/settings.php": {Hash: "stage"},
			"index.php":                  {Hash: "a"},
		},
		Target: Manifest{
			"sites/default/settings.php":    {Hash: "prod"},
			"sites/default/files":           {IsDir: true},
			"sites/default/files/image.png": {Hash: "img"},
			"index.php":                     {Hash: "a"},
			"debug.log":                     {Hash: "log"},
		},
		Exclude: []string{"sites/default/files", "sites/*/settings.php", "*.log"},
	}

	plan := GenerateSyncPlan(input)

	if !plan.Empty() {
		t.Errorf("plan should be empty, got %+v", plan.Effects())
	}
}

func TestGenerateSyncPlan_TypeChange(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source:     Manifest{"lib": {IsDir: true, Mode: 0o755}},
		Target:     Manifest{"lib": {Hash: "file", Mode: 0o644}},
	}

	plan := GenerateSyncPlan(input)

	if len(plan.Replaced) != 1 || plan.Replaced[0].Path != "/prod/lib" {
		t.Fatalf("Replaced = %+v, want /prod/lib", plan.Replaced)
	}
	if len(plan.Dirs) != 1 {
		t.Errorf("Dirs count = %d, want 1", len(plan.Dirs))
	}
	if _, ok := plan.Effects()[0].(effects.FileEffect); !ok {
		t.Fatal("expected file effects")
	}
	if plan.Effects()[0].(effects.FileEffect).Operation != effects.FileRemove {
		t.Error("type change removal must run before creation")
	}
}

func TestIsExcluded(t *testing.T) {
	tests := []struct {
		rel      string
		patterns []string
		want     bool
	}{
		{"sites/default/files", []string{"sites/default/files"}, true},
		{"sites/default/files/a/b.png", []string{"sites/default/files/"}, true},
		{"sites/default/filesystem.php", []string{"sites/default/files"}, false},
		{"sites/example/settings.php", []string{"sites/*/settings.php"}, true},
		{"deep/dir/error.log", []string{"*.log"}, true},
		{"index.php", []string{"*.log", ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			if got := IsExcluded(tt.rel, tt.patterns); got != tt.want {
				t.Errorf("IsExcluded(%q, %v) = %v, want %v", tt.rel, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestGenerateSyncPlan_KeepsParentsOfExcludedPaths(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source:     Manifest{"index.php": {Hash: "a"}},
		Target: Manifest{
			"index.php":               {Hash: "a"},
			"conf":                    {IsDir: true},
			"conf/old.php":            {Hash: "o"},
			"conf/settings.local.php": {Excluded: true},
		},
		Exclude: []string{"conf/settings.local.php"},
	}

	plan := GenerateSyncPlan(input)

	if len(plan.Removals) != 1 || plan.Removals[0].Path != "/prod/conf/old.php" {
		t.Fatalf("Removals = %+v, want only /prod/conf/old.php", plan.Removals)
	}
}

func TestGenerateSyncPlan_TypeChangeOverExcludedPath(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source:     Manifest{"conf": {Hash: "now-a-file"}},
		Target: Manifest{
			"conf":              {IsDir: true},
			"conf/settings.php": {Excluded: true},
		},
		Exclude: []string{"conf/settings.php"},
	}

	plan := GenerateSyncPlan(input)

	if !plan.Empty() {
		t.Errorf("plan should leave conf alone, got %+v", plan.Effects())
	}
	if len(plan.Conflicts) != 1 || plan.Conflicts[0] != "conf" {
		t.Errorf("Conflicts = %v, want [conf]", plan.Conflicts)
	}
}

func TestGenerateSyncPlan_TypeChangeClearsChildrenFirst(t *testing.T) {
	input := SyncInput{
		SourceRoot: "/stage",
		TargetRoot: "/prod",
		Source:     Manifest{"lib": {LinkTarget: "vendor/lib"}},
		Target: Manifest{
			"lib":         {IsDir: true},
			"lib/a":       {IsDir: true},
			"lib/a/b.php": {Hash: "b"},
		},
	}

	plan := GenerateSyncPlan(input)

	want := []string{"/prod/lib/a/b.php", "/prod/lib/a", "/prod/lib"}
	if len(plan.Replaced) != len(want) {
		t.Fatalf("Replaced = %+v, want %v", plan.Replaced, want)
	}
	for i, w := range want {
		if plan.Replaced[i].Path != w {
			t.Errorf("Replaced[%d] = %q, want %q", i, plan.Replaced[i].Path, w)
		}
	}
	if len(plan.Removals) != 0 {
		t.Errorf("children of a replaced directory must not be removed twice: %+v", plan.Removals)
	}
	if len(plan.Links) != 1 {
		t.Errorf("Links count = %d, want 1", len(plan.Links))
	}
}
