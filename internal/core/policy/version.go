package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// wildcardSegment matches branch-style segments such as "9.8.x".
var wildcardSegment = regexp.MustCompile(`\.(x|\*)(\b|-|$)`)

// ParseVersion parses a package version string. Branch snapshots such as
// "9.8.x-dev" are normalized to "9.8.0-dev" so they can still be compared.
func ParseVersion(raw string) (*semver.Version, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty version")
	}
	normalized := wildcardSegment.ReplaceAllString(trimmed, ".0$2")
	v, err := semver.NewVersion(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return v, nil
}

// IsDevSnapshot reports whether the version is a development snapshot.
func IsDevSnapshot(raw string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(raw)), "-dev")
}

// IsStable reports whether the version has no pre-release qualifier
// (alpha, beta, rc, dev, or any other suffix).
func IsStable(raw string) bool {
	if IsDevSnapshot(raw) {
		return false
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return false
	}
	return v.Prerelease() == ""
}

// Branch returns the "major.minor." prefix identifying the version's branch.
func Branch(v *semver.Version) string {
	return fmt.Sprintf("%d.%d.", v.Major(), v.Minor())
}
