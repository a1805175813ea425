// Package app contains the application layer - service implementations and effect execution.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/example/stagehand/internal/core/effects"
)

// EffectExecutor interprets and executes effects.
// This is the "Imperative Shell" - the only place tree I/O happens.
type EffectExecutor interface {
	Execute(ctx context.Context, effs []effects.Effect) error
}

// DefaultEffectExecutor implements EffectExecutor with real I/O.
type DefaultEffectExecutor struct {
	logger zerolog.Logger
}

// NewEffectExecutor creates a new DefaultEffectExecutor.
func NewEffectExecutor(logger zerolog.Logger) *DefaultEffectExecutor {
	return &DefaultEffectExecutor{logger: logger}
}

// Execute processes a slice of effects, executing each in sequence. It
// stops at the first failure or when ctx is cancelled.
func (e *DefaultEffectExecutor) Execute(ctx context.Context, effs []effects.Effect) error {
	for _, eff := range effs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.executeOne(ctx, eff); err != nil {
			return fmt.Errorf("failed to execute %s effect: %w", eff.EffectType(), err)
		}
	}
	return nil
}

func (e *DefaultEffectExecutor) executeOne(ctx context.Context, eff effects.Effect) error {
	switch typed := eff.(type) {
	case effects.FileEffect:
		return e.executeFile(typed)
	case effects.CompositeEffect:
		return e.Execute(ctx, typed.Effects)
	case effects.NoEffect:
		return nil
	case effects.LogEffect:
		evt := e.logger.Info()
		if lvl, err := zerolog.ParseLevel(typed.Level); err == nil && lvl != zerolog.NoLevel {
			evt = e.logger.WithLevel(lvl)
		}
		evt.Fields(typed.Fields).Msg(typed.Message)
		return nil
	default:
		return fmt.Errorf("unknown effect type: %T", eff)
	}
}

func (e *DefaultEffectExecutor) executeFile(eff effects.FileEffect) error {
	switch eff.Operation {
	case effects.FileMkdir:
		mode := fileMode(eff.Mode, 0755)
		if err := os.MkdirAll(eff.Path, mode); err != nil {
			return err
		}
		return os.Chmod(eff.Path, mode)
	case effects.FileCopy:
		return copyFile(eff.Source, eff.Path, fileMode(eff.Mode, 0644))
	case effects.FileSymlink:
		if err := os.Remove(eff.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return os.Symlink(eff.LinkTarget, eff.Path)
	case effects.FileRemove:
		// Only the named path; directories must already be emptied.
		if err := os.Remove(eff.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	case effects.FileWrite:
		return os.WriteFile(eff.Path, eff.Content, fileMode(eff.Mode, 0644))
	default:
		return fmt.Errorf("unknown file operation: %s", eff.Operation)
	}
}

func fileMode(mode uint32, fallback os.FileMode) os.FileMode {
	if mode == 0 {
		return fallback
	}
	return os.FileMode(mode).Perm()
}

// copyFile writes src to a temporary sibling of dst and renames it into
// place, so readers of dst see either the old or the new content.
func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".stagehand-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		return fmt.Errorf("cannot replace directory %s with a file", dst)
	}
	return os.Rename(tmpName, dst)
}
