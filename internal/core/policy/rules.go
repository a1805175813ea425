package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Rule names. These are the keys used by supersession policy.
const (
	RuleInvalidVersion           = "invalid_version"
	RuleForbidDevSnapshot        = "forbid_dev_snapshot"
	RuleStableReleaseRequired    = "stable_release_required"
	RuleForbidMinorUpdates       = "forbid_minor_updates"
	RuleMajorVersionMatch        = "major_version_match"
	RuleForbidDowngrade          = "forbid_downgrade"
	RuleTargetVersionInstallable = "target_version_installable"
	RuleTargetSecurityRelease    = "target_security_release"
	RuleSupportedBranchInstalled = "supported_branch_installed"
)

// Input is everything a rule may inspect. Target is empty when the
// version being updated to is not known yet (status checks).
type Input struct {
	Installed string
	Target    string
	Releases  []Release
	Config    Config
}

// Rule is a pure check over version and release metadata.
type Rule interface {
	Name() string
	Evaluate(in Input) Result
}

// RuleFunc adapts a plain function into a Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(in Input) Result
}

func (r RuleFunc) Name() string             { return r.RuleName }
func (r RuleFunc) Evaluate(in Input) Result { return r.Fn(in) }

// ForbidDevSnapshot refuses any update away from a dev snapshot.
type ForbidDevSnapshot struct{}

func (ForbidDevSnapshot) Name() string { return RuleForbidDevSnapshot }

func (ForbidDevSnapshot) Evaluate(in Input) Result {
	if !IsDevSnapshot(in.Installed) {
		return OK()
	}
	return Errorf(RuleForbidDevSnapshot,
		"Cannot update from the installed version, %s, because updates from a dev version to any other version are not supported.",
		in.Installed)
}

// StableReleaseRequired refuses cron updates from or to pre-release versions.
type StableReleaseRequired struct{}

func (StableReleaseRequired) Name() string { return RuleStableReleaseRequired }

func (StableReleaseRequired) Evaluate(in Input) Result {
	if !in.Config.Unattended() {
		return OK()
	}
	var messages []string
	if !IsStable(in.Installed) {
		messages = append(messages, fmt.Sprintf(
			"Cannot update during cron from the installed version, %s, because it is not a stable version.", in.Installed))
	}
	if in.Target != "" && !IsStable(in.Target) {
		messages = append(messages, fmt.Sprintf(
			"Cannot update during cron to %s because it is not a stable version.", in.Target))
	}
	switch len(messages) {
	case 0:
		return OK()
	case 1:
		return NewError(RuleStableReleaseRequired, "", messages...)
	default:
		return NewError(RuleStableReleaseRequired, "Pre-release versions cannot be updated during cron", messages...)
	}
}

// ForbidMinorUpdates refuses updates that cross a minor (or major) version
// boundary. Always active during cron; active interactively unless minor
// updates are allowed by configuration.
type ForbidMinorUpdates struct{}

func (ForbidMinorUpdates) Name() string { return RuleForbidMinorUpdates }

func (ForbidMinorUpdates) Evaluate(in Input) Result {
	if in.Target == "" || in.Config.MinorUpdatesAllowed() {
		return OK()
	}
	installed, target, ok := parsePair(in)
	if !ok {
		return OK()
	}
	if installed.Major() == target.Major() && installed.Minor() == target.Minor() {
		return OK()
	}
	if in.Config.Unattended() {
		return Errorf(RuleForbidMinorUpdates,
			"Cannot update from %s to %s because updates from one minor version to another are not supported during cron.",
			in.Installed, in.Target)
	}
	return Errorf(RuleForbidMinorUpdates,
		"Cannot update from %s to %s because updates from one minor version to another are not allowed by the current configuration.",
		in.Installed, in.Target)
}

// MajorVersionMatch refuses updates across major versions in either direction.
type MajorVersionMatch struct{}

func (MajorVersionMatch) Name() string { return RuleMajorVersionMatch }

func (MajorVersionMatch) Evaluate(in Input) Result {
	if in.Target == "" {
		return OK()
	}
	installed, target, ok := parsePair(in)
	if !ok || installed.Major() == target.Major() {
		return OK()
	}
	return Errorf(RuleMajorVersionMatch,
		"Cannot update from %s to %s because updates from one major version to another are not supported.",
		in.Installed, in.Target)
}

// ForbidDowngrade refuses a known target lower than the installed version.
type ForbidDowngrade struct{}

func (ForbidDowngrade) Name() string { return RuleForbidDowngrade }

func (ForbidDowngrade) Evaluate(in Input) Result {
	if in.Target == "" {
		return OK()
	}
	installed, target, ok := parsePair(in)
	if !ok || !target.LessThan(installed) {
		return OK()
	}
	return Errorf(RuleForbidDowngrade,
		"Update version %s is lower than %s, downgrading is not supported.",
		in.Target, in.Installed)
}

// TargetVersionInstallable requires the target to be one of the available
// releases, matched exactly.
type TargetVersionInstallable struct{}

func (TargetVersionInstallable) Name() string { return RuleTargetVersionInstallable }

func (TargetVersionInstallable) Evaluate(in Input) Result {
	if in.Target == "" {
		return OK()
	}
	if r, ok := FindRelease(in.Releases, in.Target); ok && r.Status != ReleaseStatusUnpublished {
		return OK()
	}
	return Errorf(RuleTargetVersionInstallable,
		"Cannot update from %s to %s because %s is not an installable release.",
		in.Installed, in.Target, in.Target)
}

// TargetSecurityRelease requires cron updates at the security level to
// target a release flagged as a security release.
type TargetSecurityRelease struct{}

func (TargetSecurityRelease) Name() string { return RuleTargetSecurityRelease }

func (TargetSecurityRelease) Evaluate(in Input) Result {
	if in.Target == "" || !in.Config.Unattended() || in.Config.UnattendedLevel != LevelSecurity {
		return OK()
	}
	if r, ok := FindRelease(in.Releases, in.Target); ok && r.IsSecurityRelease {
		return OK()
	}
	return Errorf(RuleTargetSecurityRelease,
		"Cannot update during cron from %s to %s because %s is not a security release.",
		in.Installed, in.Target, in.Target)
}

// SupportedBranchInstalled checks, when no target is known yet, that the
// installed version's branch still receives releases. Cron cannot proceed
// from an unsupported branch; interactively it is only a warning.
type SupportedBranchInstalled struct{}

func (SupportedBranchInstalled) Name() string { return RuleSupportedBranchInstalled }

func (SupportedBranchInstalled) Evaluate(in Input) Result {
	if in.Target != "" || len(in.Releases) == 0 {
		return OK()
	}
	installed, err := ParseVersion(in.Installed)
	if err != nil {
		return OK()
	}
	branch := Branch(installed)
	for _, r := range in.Releases {
		v, err := ParseVersion(r.Version)
		if err != nil {
			continue
		}
		if Branch(v) == branch && r.Status != ReleaseStatusUnpublished {
			return OK()
		}
	}
	msg := fmt.Sprintf("The installed version, %s, is not in a supported minor version.", in.Installed)
	if in.Config.Unattended() {
		return NewError(RuleSupportedBranchInstalled, "",
			msg+" Automatic updates will not run until it is updated to a supported minor version.")
	}
	return NewWarning(RuleSupportedBranchInstalled, "", msg)
}

// parsePair parses installed and target. ok is false when either fails;
// unparseable input is reported once by the engine, not by each rule.
func parsePair(in Input) (installed, target *semver.Version, ok bool) {
	installed, err := ParseVersion(in.Installed)
	if err != nil {
		return nil, nil, false
	}
	target, err = ParseVersion(in.Target)
	if err != nil {
		return nil, nil, false
	}
	return installed, target, true
}
