package policy

// Release status values reported by release metadata feeds.
const (
	ReleaseStatusPublished   = "published"
	ReleaseStatusUnpublished = "unpublished"
	ReleaseStatusInsecure    = "insecure"
)

// Release is an available upstream version of a package.
type Release struct {
	Version           string `json:"version"`
	Status            string `json:"status"`
	IsSecurityRelease bool   `json:"security"`
	ReleaseURL        string `json:"release_url,omitempty"`
}

// FindRelease returns the release whose version string exactly matches.
func FindRelease(releases []Release, version string) (Release, bool) {
	for _, r := range releases {
		if r.Version == version {
			return r, true
		}
	}
	return Release{}, false
}

// NextRelease returns the lowest published release newer than installed
// that the given config would allow to be installed. Returns false when
// nothing qualifies or installed cannot be parsed.
func NextRelease(installed string, releases []Release, cfg Config) (Release, bool) {
	current, err := ParseVersion(installed)
	if err != nil {
		return Release{}, false
	}

	var (
		best  Release
		found bool
	)
	for _, r := range releases {
		if r.Status != "" && r.Status != ReleaseStatusPublished {
			continue
		}
		v, err := ParseVersion(r.Version)
		if err != nil || !v.GreaterThan(current) {
			continue
		}
		if v.Major() != current.Major() {
			continue
		}
		if v.Minor() != current.Minor() && !cfg.MinorUpdatesAllowed() {
			continue
		}
		if cfg.Unattended() && cfg.UnattendedLevel == LevelSecurity && !r.IsSecurityRelease {
			continue
		}
		if cfg.Unattended() && !IsStable(r.Version) {
			continue
		}
		if !found {
			best, found = r, true
			continue
		}
		bv, _ := ParseVersion(best.Version)
		if v.LessThan(bv) {
			best = r
		}
	}
	return best, found
}
