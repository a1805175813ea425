// Package redislock implements the ownership lock on Redis so hosts that
// share a codebase over the network also share one lock.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/stagehand/internal/ports/secondary"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	defaultPrefix   = "stagehand"
)

// acquireScript creates the lock hash only when no lock exists.
const acquireScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'owner', ARGV[2], 'stage_id', ARGV[3], 'created_at', ARGV[4])
return 1
`

// releaseScript deletes the lock only when the token matches.
const releaseScript = `
if redis.call('HGET', KEYS[1], 'token') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// LockStore implements secondary.LockRepository with Redis.
type LockStore struct {
	client *redis.Client
	key    string
}

// NewLockStore constructs a Redis-backed lock store. prefix namespaces the
// key so several projects may share one Redis.
func NewLockStore(url, prefix string) (*LockStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &LockStore{client: client, key: lockKey(prefix)}, nil
}

// Close shuts down the Redis client.
func (s *LockStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Acquire creates the lock. Returns secondary.ErrLockHeld if one exists.
func (s *LockStore) Acquire(ctx context.Context, lock *secondary.LockRecord) error {
	res, err := s.client.Eval(ctx, acquireScript, []string{s.key},
		lock.Token,
		lock.Owner,
		lock.StageID,
		lock.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if res == 0 {
		return secondary.ErrLockHeld
	}
	return nil
}

// Get returns the current lock, or nil when unlocked.
func (s *LockStore) Get(ctx context.Context) (*secondary.LockRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	created, _ := time.Parse(time.RFC3339Nano, fields["created_at"])
	return &secondary.LockRecord{
		Token:     fields["token"],
		Owner:     fields["owner"],
		StageID:   fields["stage_id"],
		CreatedAt: created,
	}, nil
}

// Release deletes the lock if token matches.
func (s *LockStore) Release(ctx context.Context, token string) error {
	res, err := s.client.Eval(ctx, releaseScript, []string{s.key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if res == 0 {
		return secondary.ErrLockNotOwned
	}
	return nil
}

// ForceRelease deletes the lock regardless of owner.
func (s *LockStore) ForceRelease(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	return nil
}

func lockKey(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return prefix + ":lock"
}

var _ secondary.LockRepository = (*LockStore)(nil)
