package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/stagehand/internal/core/effects"
)

func TestEffectExecutor_FileOperations(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "run.sh"), "#!/bin/sh")
	writeFile(t, filepath.Join(dst, "old/stale.txt"), "stale")
	writeFile(t, filepath.Join(dst, "current"), "was a file")

	exec := NewEffectExecutor(zerolog.Nop())
	err := exec.Execute(ctx, []effects.Effect{
		effects.FileEffect{Operation: effects.FileMkdir, Path: filepath.Join(dst, "bin"), Mode: 0o750},
		effects.FileEffect{Operation: effects.FileCopy, Source: filepath.Join(src, "run.sh"), Path: filepath.Join(dst, "bin/run.sh"), Mode: 0o755},
		effects.FileEffect{Operation: effects.FileSymlink, Path: filepath.Join(dst, "current"), LinkTarget: "bin"},
		effects.FileEffect{Operation: effects.FileRemove, Path: filepath.Join(dst, "old/stale.txt")},
		effects.FileEffect{Operation: effects.FileRemove, Path: filepath.Join(dst, "old")},
		effects.FileEffect{Operation: effects.FileRemove, Path: filepath.Join(dst, "never-existed")},
		effects.CompositeEffect{Effects: []effects.Effect{
			effects.FileEffect{Operation: effects.FileWrite, Path: filepath.Join(dst, "VERSION"), Content: []byte("9.8.1")},
			effects.LogEffect{Level: "debug", Message: "wrote version"},
		}},
		effects.NoEffect{},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dst, "bin/run.sh"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("copied mode = %o, want 755", info.Mode().Perm())
	}
	if dirInfo, _ := os.Stat(filepath.Join(dst, "bin")); dirInfo.Mode().Perm() != 0o750 {
		t.Errorf("dir mode = %o, want 750", dirInfo.Mode().Perm())
	}
	if target, err := os.Readlink(filepath.Join(dst, "current")); err != nil || target != "bin" {
		t.Errorf("symlink = %q, %v", target, err)
	}
	if _, err := os.Stat(filepath.Join(dst, "old")); !os.IsNotExist(err) {
		t.Error("removed directory still exists")
	}
	if got := readFile(t, filepath.Join(dst, "VERSION")); got != "9.8.1" {
		t.Errorf("VERSION = %q", got)
	}
}

func TestEffectExecutor_StopsOnError(t *testing.T) {
	dst := t.TempDir()
	exec := NewEffectExecutor(zerolog.Nop())

	err := exec.Execute(context.Background(), []effects.Effect{
		effects.FileEffect{Operation: effects.FileCopy, Source: filepath.Join(dst, "missing"), Path: filepath.Join(dst, "a")},
		effects.FileEffect{Operation: effects.FileWrite, Path: filepath.Join(dst, "b"), Content: []byte("x")},
	})
	if err == nil {
		t.Fatal("expected error for missing copy source")
	}
	if _, err := os.Stat(filepath.Join(dst, "b")); !os.IsNotExist(err) {
		t.Error("effects after a failure must not run")
	}
}

func TestEffectExecutor_UnknownOperation(t *testing.T) {
	exec := NewEffectExecutor(zerolog.Nop())
	err := exec.Execute(context.Background(), []effects.Effect{effects.FileEffect{Operation: "chown", Path: "/tmp/x"}})
	if err == nil {
		t.Fatal("expected error for unknown file operation")
	}
}

func TestEffectExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := t.TempDir()
	exec := NewEffectExecutor(zerolog.Nop())
	err := exec.Execute(ctx, []effects.Effect{effects.FileEffect{Operation: effects.FileWrite, Path: filepath.Join(dst, "a"), Content: []byte("x")}})
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestEffectExecutor_RemoveLeavesDirectoryContents(t *testing.T) {
	dst := t.TempDir()
	writeFile(t, filepath.Join(dst, "conf/settings.local.php"), "keep")
	exec := NewEffectExecutor(zerolog.Nop())

	err := exec.Execute(context.Background(), []effects.Effect{
		effects.FileEffect{Operation: effects.FileRemove, Path: filepath.Join(dst, "conf")},
	})
	if err == nil {
		t.Fatal("removing a non-empty directory should fail")
	}
	if got := readFile(t, filepath.Join(dst, "conf/settings.local.php")); got != "keep" {
		t.Errorf("settings.local.php = %q, want keep", got)
	}
}
