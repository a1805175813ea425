package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/stagehand/internal/adapters/sqlite"
	"github.com/example/stagehand/internal/ports/secondary"
)

func TestLockRepository_AcquireGetRelease(t *testing.T) {
	repo := sqlite.NewLockRepository(setupTestDB(t))
	ctx := context.Background()

	lock, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if lock != nil {
		t.Fatalf("expected no lock, got %+v", lock)
	}

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = repo.Acquire(ctx, &secondary.LockRecord{Token: "tok-1", Owner: "deploy@web-1", StageID: "s1", CreatedAt: created})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	lock, err = repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if lock == nil || lock.Token != "tok-1" || lock.StageID != "s1" {
		t.Fatalf("Get = %+v, want tok-1/s1", lock)
	}
	if !lock.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", lock.CreatedAt, created)
	}

	if err := repo.Release(ctx, "tok-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if lock, _ := repo.Get(ctx); lock != nil {
		t.Errorf("lock still present after release: %+v", lock)
	}
}

func TestLockRepository_SecondAcquireFails(t *testing.T) {
	repo := sqlite.NewLockRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Acquire(ctx, &secondary.LockRecord{Token: "a", Owner: "o", StageID: "s1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	err := repo.Acquire(ctx, &secondary.LockRecord{Token: "b", Owner: "o", StageID: "s2", CreatedAt: time.Now()})
	if !errors.Is(err, secondary.ErrLockHeld) {
		t.Fatalf("second Acquire error = %v, want ErrLockHeld", err)
	}

	lock, _ := repo.Get(ctx)
	if lock.Token != "a" {
		t.Errorf("lock token = %q, want the first claimant's", lock.Token)
	}
}

func TestLockRepository_ReleaseWrongToken(t *testing.T) {
	repo := sqlite.NewLockRepository(setupTestDB(t))
	ctx := context.Background()

	_ = repo.Acquire(ctx, &secondary.LockRecord{Token: "a", Owner: "o", StageID: "s1", CreatedAt: time.Now()})

	if err := repo.Release(ctx, "b"); !errors.Is(err, secondary.ErrLockNotOwned) {
		t.Fatalf("Release error = %v, want ErrLockNotOwned", err)
	}
	if err := repo.ForceRelease(ctx); err != nil {
		t.Fatalf("ForceRelease failed: %v", err)
	}
	if lock, _ := repo.Get(ctx); lock != nil {
		t.Errorf("lock still present after force release")
	}
}
