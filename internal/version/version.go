// Package version identifies the running stagehand binary.
//
// Release builds stamp Version, Commit and Date with
//
//	-ldflags "-X github.com/example/stagehand/internal/version.Version=1.4.0 ..."
//
// Plain `go build` and `go install` binaries fall back to the VCS data the
// toolchain embeds.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Info describes a build.
type Info struct {
	Version  string
	Commit   string
	Date     string
	Modified bool // Built from a tree with uncommitted changes
}

// Get returns the stamped build information, filling gaps from the
// embedded build info.
func Get() Info {
	return resolve(Info{Version: Version, Commit: Commit, Date: Date}, debug.ReadBuildInfo)
}

func resolve(info Info, read func() (*debug.BuildInfo, bool)) Info {
	if bi, ok := read(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = strings.TrimPrefix(bi.Main.Version, "v")
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	return info
}

// String renders info as "stagehand 1.4.0 (0123456, 2026-03-01)".
func (i Info) String() string {
	var details []string
	if i.Commit != "" {
		commit := i.Commit
		if len(commit) > 7 {
			commit = commit[:7]
		}
		if i.Modified {
			commit += "-dirty"
		}
		details = append(details, commit)
	}
	if i.Date != "" {
		details = append(details, i.Date)
	}
	if len(details) == 0 {
		return "stagehand " + i.Version
	}
	return fmt.Sprintf("stagehand %s (%s)", i.Version, strings.Join(details, ", "))
}

// String is Get().String().
func String() string {
	return Get().String()
}
