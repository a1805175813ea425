package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	embedded := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v1.3.2"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "fedcba9876543210"},
				{Key: "vcs.time", Value: "2026-02-01T09:00:00Z"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true
	}
	missing := func() (*debug.BuildInfo, bool) { return nil, false }
	devel := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	}

	tests := []struct {
		name    string
		stamped Info
		read    func() (*debug.BuildInfo, bool)
		want    string
	}{
		{
			name:    "ldflags win",
			stamped: Info{Version: "1.4.0", Commit: "0123456789abcdef", Date: "2026-03-01"},
			read:    embedded,
			want:    "stagehand 1.4.0 (0123456-dirty, 2026-03-01)",
		},
		{
			name: "embedded vcs data",
			read: embedded,
			want: "stagehand 1.3.2 (fedcba9-dirty, 2026-02-01T09:00:00Z)",
		},
		{
			name: "local build",
			read: devel,
			want: "stagehand dev",
		},
		{
			name:    "no build info",
			stamped: Info{Commit: "abc"},
			read:    missing,
			want:    "stagehand dev (abc)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolve(tt.stamped, tt.read).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	if got := String(); !strings.HasPrefix(got, "stagehand ") {
		t.Errorf("String() = %q", got)
	}
}
