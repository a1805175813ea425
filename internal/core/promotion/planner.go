// Package promotion plans how one directory tree is brought in line with
// another. The same plan drives mirroring production into a stage,
// re-syncing an existing stage, and promoting a stage into production.
package promotion

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/stagehand/internal/core/effects"
)

// Entry describes one path in a tree. Paths are slash separated and
// relative to the tree root.
type Entry struct {
	Hash       string // Content digest; empty for directories and symlinks
	Mode       uint32 // Permission bits
	IsDir      bool
	LinkTarget string // Non-empty for symlinks
	Excluded   bool   // Present but matched by an exclusion; contents unknown
}

// IsSymlink reports whether the entry is a symbolic link.
func (e Entry) IsSymlink() bool { return e.LinkTarget != "" }

func (e Entry) kind() int {
	switch {
	case e.IsDir:
		return 1
	case e.IsSymlink():
		return 2
	default:
		return 0
	}
}

// Manifest maps relative paths to entries.
type Manifest map[string]Entry

// SyncInput contains pre-fetched manifests for both trees.
type SyncInput struct {
	SourceRoot string
	TargetRoot string
	Source     Manifest
	Target     Manifest
	Exclude    []string
}

// SyncPlan represents the planned effects for making TargetRoot match
// SourceRoot outside the excluded paths.
type SyncPlan struct {
	SourceRoot string
	TargetRoot string
	Replaced   []effects.FileEffect // Target entries whose type changed
	Dirs       []effects.FileEffect
	Copies     []effects.FileEffect
	Links      []effects.FileEffect
	Removals   []effects.FileEffect // Deepest first
	Conflicts  []string             // Type changes skipped because excluded paths live below
}

// Effects returns all effects as a flat slice for execution.
func (p SyncPlan) Effects() []effects.Effect {
	result := make([]effects.Effect, 0, p.Len())
	for _, group := range [][]effects.FileEffect{p.Replaced, p.Dirs, p.Copies, p.Links, p.Removals} {
		for _, e := range group {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of planned operations.
func (p SyncPlan) Len() int {
	return len(p.Replaced) + len(p.Dirs) + len(p.Copies) + len(p.Links) + len(p.Removals)
}

// Empty reports whether the trees already match.
func (p SyncPlan) Empty() bool { return p.Len() == 0 }

// GenerateSyncPlan creates a plan that makes the target tree match the
// source tree. Excluded paths are neither copied nor removed, and neither
// is any target directory holding an excluded path. Every removal names a
// single file, link or emptied directory; children come before parents.
// This is a pure function - all input data must be pre-fetched.
func GenerateSyncPlan(input SyncInput) SyncPlan {
	plan := SyncPlan{SourceRoot: input.SourceRoot, TargetRoot: input.TargetRoot}
	protected := protectedDirs(input.Target, input.Exclude)
	cleared := map[string]bool{}

	for _, rel := range sortedPaths(input.Source) {
		src := input.Source[rel]
		if src.Excluded || IsExcluded(rel, input.Exclude) {
			continue
		}
		dst, exists := input.Target[rel]
		destPath := join(input.TargetRoot, rel)

		if exists && dst.kind() != src.kind() {
			if protected[rel] {
				plan.Conflicts = append(plan.Conflicts, rel)
				continue
			}
			doomed := []string{rel}
			if dst.IsDir {
				doomed = append(doomed, descendants(input.Target, rel)...)
			}
			for _, r := range deepestFirst(doomed) {
				cleared[r] = true
				plan.Replaced = append(plan.Replaced, effects.FileEffect{Operation: effects.FileRemove, Path: join(input.TargetRoot, r)})
			}
			exists = false
		}

		switch {
		case src.IsDir:
			if !exists || dst.Mode != src.Mode {
				plan.Dirs = append(plan.Dirs, effects.FileEffect{Operation: effects.FileMkdir, Path: destPath, Mode: src.Mode})
			}
		case src.IsSymlink():
			if !exists || dst.LinkTarget != src.LinkTarget {
				plan.Links = append(plan.Links, effects.FileEffect{Operation: effects.FileSymlink, Path: destPath, LinkTarget: src.LinkTarget})
			}
		default:
			if !exists || dst.Hash != src.Hash || dst.Mode != src.Mode {
				plan.Copies = append(plan.Copies, effects.FileEffect{
					Operation: effects.FileCopy,
					Path:      destPath,
					Source:    join(input.SourceRoot, rel),
					Mode:      src.Mode,
				})
			}
		}
	}

	var removed []string
	for rel, dst := range input.Target {
		if _, ok := input.Source[rel]; ok || cleared[rel] || protected[rel] {
			continue
		}
		if dst.Excluded || IsExcluded(rel, input.Exclude) {
			continue
		}
		removed = append(removed, rel)
	}
	for _, rel := range deepestFirst(removed) {
		plan.Removals = append(plan.Removals, effects.FileEffect{Operation: effects.FileRemove, Path: join(input.TargetRoot, rel)})
	}

	return plan
}

// IsExcluded reports whether rel matches an exclusion pattern. A pattern
// matches the path itself, anything below it, or any path (or base name)
// it glob-matches.
func IsExcluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := path.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

// protectedDirs returns every ancestor directory of an excluded target
// entry. Removing one of them would take the excluded path with it.
func protectedDirs(target Manifest, exclude []string) map[string]bool {
	protected := map[string]bool{}
	for rel, e := range target {
		if !e.Excluded && !IsExcluded(rel, exclude) {
			continue
		}
		for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
			protected[dir] = true
		}
	}
	return protected
}

func descendants(m Manifest, dir string) []string {
	var out []string
	for rel := range m {
		if strings.HasPrefix(rel, dir+"/") {
			out = append(out, rel)
		}
	}
	return out
}

func deepestFirst(paths []string) []string {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di > dj
		}
		return paths[i] > paths[j]
	})
	return paths
}

func sortedPaths(m Manifest) []string {
	paths := make([]string, 0, len(m))
	for rel := range m {
		paths = append(paths, rel)
	}
	// Lexical order places every directory before its children.
	sort.Strings(paths)
	return paths
}

func join(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}
