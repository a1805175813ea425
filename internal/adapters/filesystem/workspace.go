// Package filesystem contains filesystem-based adapter implementations.
package filesystem

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"

	"github.com/example/stagehand/internal/core/promotion"
	"github.com/example/stagehand/internal/ports/secondary"
)

// WorkspaceAdapter implements secondary.WorkspaceAdapter for local trees.
type WorkspaceAdapter struct{}

// NewWorkspaceAdapter creates a new filesystem workspace adapter.
func NewWorkspaceAdapter() *WorkspaceAdapter {
	return &WorkspaceAdapter{}
}

// Scan walks root and returns a manifest of every entry. Excluded paths
// appear only as Excluded markers and excluded directories are not
// descended into. Regular files are hashed
// with BLAKE3 so unchanged files can be skipped on re-sync.
func (a *WorkspaceAdapter) Scan(ctx context.Context, root string, exclude []string) (promotion.Manifest, error) {
	manifest := promotion.Manifest{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if promotion.IsExcluded(rel, exclude) {
			manifest[rel] = promotion.Entry{Excluded: true}
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := promotion.Entry{Mode: uint32(info.Mode().Perm())}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry.LinkTarget = target
			entry.Mode = 0
		case d.IsDir():
			entry.IsDir = true
		case info.Mode().IsRegular():
			hash, err := hashFile(path)
			if err != nil {
				return err
			}
			entry.Hash = hash
		default:
			// Sockets, devices and pipes are not part of a codebase.
			return nil
		}

		manifest[rel] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	return manifest, nil
}

// HashFile returns the hex BLAKE3 digest of the file at path.
func (a *WorkspaceAdapter) HashFile(ctx context.Context, path string) (string, error) {
	hash, err := hashFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hash, nil
}

// CreateDirectory creates a directory and all parents.
func (a *WorkspaceAdapter) CreateDirectory(ctx context.Context, path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// RemoveDirectory removes a directory and all its contents.
func (a *WorkspaceAdapter) RemoveDirectory(ctx context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	return nil
}

// DirectoryExists checks if a directory exists.
func (a *WorkspaceAdapter) DirectoryExists(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func (a *WorkspaceAdapter) FreeSpace(ctx context.Context, path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem for %s: %w", path, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Ensure WorkspaceAdapter implements the interface
var _ secondary.WorkspaceAdapter = (*WorkspaceAdapter)(nil)
