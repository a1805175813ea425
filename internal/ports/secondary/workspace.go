package secondary

import (
	"context"

	"github.com/example/stagehand/internal/core/promotion"
)

// WorkspaceAdapter defines the secondary port for operations on the
// production and stage directory trees.
type WorkspaceAdapter interface {
	// Scan walks root and returns a manifest of every path. Paths matching
	// exclude are reported as Excluded entries without their contents.
	Scan(ctx context.Context, root string, exclude []string) (promotion.Manifest, error)

	// HashFile returns the content digest of a single file.
	HashFile(ctx context.Context, path string) (string, error)

	// Directory operations
	CreateDirectory(ctx context.Context, path string) error
	RemoveDirectory(ctx context.Context, path string) error
	DirectoryExists(ctx context.Context, path string) (bool, error)

	// FreeSpace returns the bytes available to unprivileged users on the
	// filesystem holding path.
	FreeSpace(ctx context.Context, path string) (uint64, error)
}
