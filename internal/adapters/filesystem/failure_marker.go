package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/stagehand/internal/ports/secondary"
)

// MarkerFileName is the name of the failure marker inside the state directory.
const MarkerFileName = "failure_marker.json"

// FailureMarker implements secondary.FailureMarker as a JSON file. Writes
// go to a temporary file that is synced and renamed into place, so a crash
// leaves either no marker or a complete one.
type FailureMarker struct {
	path string
}

// NewFailureMarker creates a failure marker stored in stateDir.
func NewFailureMarker(stateDir string) *FailureMarker {
	return &FailureMarker{path: filepath.Join(stateDir, MarkerFileName)}
}

// Path returns the marker file path.
func (m *FailureMarker) Path() string { return m.path }

// Read returns the marker, or nil when none is set.
func (m *FailureMarker) Read(ctx context.Context) (*secondary.FailureMarkerRecord, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read failure marker: %w", err)
	}

	record := &secondary.FailureMarkerRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		// A marker that exists but cannot be decoded still blocks.
		return &secondary.FailureMarkerRecord{Message: "unreadable failure marker: " + err.Error()}, nil
	}
	return record, nil
}

// Write sets the marker atomically.
func (m *FailureMarker) Write(ctx context.Context, marker *secondary.FailureMarkerRecord) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode failure marker: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".failure_marker-*")
	if err != nil {
		return fmt.Errorf("failed to create marker temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write failure marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync failure marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close failure marker: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return fmt.Errorf("failed to place failure marker: %w", err)
	}
	return syncDir(dir)
}

// Clear removes the marker.
func (m *FailureMarker) Clear(ctx context.Context) error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear failure marker: %w", err)
	}
	return syncDir(filepath.Dir(m.path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", dir, err)
	}
	return nil
}

// Ensure FailureMarker implements the interface
var _ secondary.FailureMarker = (*FailureMarker)(nil)
