package policy

import (
	"reflect"
	"strings"
	"testing"
)

func rulesOf(results []Result) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Rule
	}
	return names
}

func TestEngine_Evaluate(t *testing.T) {
	engine := NewDefaultEngine()

	tests := []struct {
		name      string
		in        Input
		wantRules []string
	}{
		{
			name:      "patch update to listed release is clean",
			in:        Input{Installed: "9.8.0", Target: "9.8.1", Releases: testReleases, Config: interactive()},
			wantRules: []string{},
		},
		{
			name:      "major mismatch supersedes installable finding",
			in:        Input{Installed: "9.8.0", Target: "8.8.0", Releases: testReleases, Config: interactive()},
			wantRules: []string{RuleMajorVersionMatch, RuleForbidDowngrade},
		},
		{
			name:      "dev snapshot supersedes everything",
			in:        Input{Installed: "9.8.0-dev", Target: "9.8.7", Releases: testReleases, Config: cron(LevelSecurity)},
			wantRules: []string{RuleForbidDevSnapshot},
		},
		{
			name:      "downgrade within branch",
			in:        Input{Installed: "9.8.2", Target: "9.8.0", Releases: testReleases, Config: interactive()},
			wantRules: []string{RuleForbidDowngrade},
		},
		{
			name:      "cron security level requires a security release",
			in:        Input{Installed: "9.8.0", Target: "9.8.2", Releases: testReleases, Config: cron(LevelSecurity)},
			wantRules: []string{RuleTargetSecurityRelease},
		},
		{
			name:      "unparseable installed version is reported once",
			in:        Input{Installed: "banana", Target: "9.8.1", Releases: testReleases, Config: interactive()},
			wantRules: []string{RuleInvalidVersion},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rulesOf(engine.Evaluate(tt.in))
			if len(got) == 0 && len(tt.wantRules) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.wantRules) {
				t.Errorf("rules = %v, want %v", got, tt.wantRules)
			}
		})
	}
}

func TestEngine_SupersessionOnlyWhenSupersederErrors(t *testing.T) {
	engine := NewDefaultEngine()

	// 9.8.7 is not listed but the major version matches, so the
	// installable finding must surface on its own.
	results := engine.Evaluate(Input{Installed: "9.8.0", Target: "9.8.7", Releases: testReleases, Config: interactive()})
	if got := rulesOf(results); !reflect.DeepEqual(got, []string{RuleTargetVersionInstallable}) {
		t.Fatalf("rules = %v, want [%s]", got, RuleTargetVersionInstallable)
	}
}

func TestEngine_SupersessionIsConfigurable(t *testing.T) {
	in := Input{Installed: "9.8.0", Target: "8.8.0", Releases: testReleases, Config: interactive()}

	withoutPolicy := NewEngine(DefaultRules(), nil).Evaluate(in)
	found := false
	for _, r := range withoutPolicy {
		if r.Rule == RuleTargetVersionInstallable {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected installable finding without supersession, got %v", rulesOf(withoutPolicy))
	}

	custom := NewEngine(DefaultRules(), Supersession{RuleForbidDowngrade: {RuleMajorVersionMatch}})
	for _, r := range custom.Evaluate(in) {
		if r.Rule == RuleMajorVersionMatch {
			t.Errorf("major version finding should be suppressed by custom policy")
		}
	}
}

func TestEngine_Idempotent(t *testing.T) {
	engine := NewDefaultEngine()
	in := Input{Installed: "9.8.0", Target: "10.0.0", Releases: testReleases, Config: cron(LevelSecurity)}

	first := engine.Evaluate(in)
	second := engine.Evaluate(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Evaluate not idempotent:\n first  %v\n second %v", first, second)
	}
}

func TestEngine_Aggregate(t *testing.T) {
	engine := NewEngine([]Rule{
		RuleFunc{RuleName: "warn", Fn: func(Input) Result { return NewWarning("", "", "careful") }},
		RuleFunc{RuleName: "fine", Fn: func(Input) Result { return OK() }},
	}, nil)

	severity, results := engine.Aggregate(Input{Installed: "1.0.0"})
	if severity != SeverityWarning {
		t.Errorf("severity = %v, want warning", severity)
	}
	if len(results) != 1 || results[0].Rule != "warn" {
		t.Errorf("results = %v, want one result attributed to warn", results)
	}
}

func TestMaxSeverity(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    Severity
	}{
		{name: "empty is ok", want: SeverityOK},
		{name: "warning dominates ok", results: []Result{OK(), NewWarning("a", "", "w")}, want: SeverityWarning},
		{name: "error dominates warning", results: []Result{NewWarning("a", "", "w"), Errorf("b", "e")}, want: SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxSeverity(tt.results); got != tt.want {
				t.Errorf("MaxSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRelease(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "interactive picks next patch", cfg: interactive(), want: "9.8.1"},
		{name: "cron security picks security release", cfg: cron(LevelSecurity), want: "9.8.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextRelease("9.8.0", testReleases, tt.cfg)
			if !ok {
				t.Fatal("expected a release")
			}
			if got.Version != tt.want {
				t.Errorf("NextRelease = %s, want %s", got.Version, tt.want)
			}
		})
	}

	if _, ok := NextRelease("10.0.0", testReleases, interactive()); ok {
		t.Error("expected no release newer than 10.0.0")
	}
}

func TestResult_String(t *testing.T) {
	res := NewError("r", "Two problems", "first.", "second.")
	if got := res.String(); !strings.HasPrefix(got, "[error] Two problems: first.") {
		t.Errorf("String() = %q", got)
	}
}
