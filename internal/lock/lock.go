// Package lock provides Redis-backed distributed mutual exclusion for
// per-record audit processing.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/resync/internal/errs"
)

const lockPrefix = "audit_lock"

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Handle represents an acquired lock. The caller releases it via Release.
type Handle struct {
	Key   string
	Token string
}

// RedisLock implements Resync's distributed audit lock (spec §4.8).
type RedisLock struct {
	client        *redis.Client
	releaseSHA    string
	releaseSHAMu  chanMutex
	log           *slog.Logger
}

func NewRedisLock(client *redis.Client, log *slog.Logger) *RedisLock {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLock{client: client, log: log, releaseSHAMu: newChanMutex()}
}

// chanMutex is a minimal channel-based mutex to avoid pulling in sync just
// for one guarded string field alongside the rest of this file's style.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

func (c chanMutex) lock()   { <-c }
func (c chanMutex) unlock() { c <- struct{}{} }

// EnsureScriptLoaded loads the release Lua script once, caching its SHA.
// Safe to call repeatedly; subsequent calls are no-ops once loaded.
func (l *RedisLock) EnsureScriptLoaded(ctx context.Context) error {
	l.releaseSHAMu.lock()
	defer l.releaseSHAMu.unlock()
	if l.releaseSHA != "" {
		return nil
	}
	sha, err := l.client.ScriptLoad(ctx, releaseScript).Result()
	if err != nil {
		return errs.NewStorageError(errs.StorageConnection, "lock.RedisLock.EnsureScriptLoaded", err)
	}
	l.releaseSHA = sha
	return nil
}

func lockKey(recordID string) (string, error) {
	if strings.TrimSpace(recordID) == "" {
		return "", errs.NewValidationError("record_id", "must be a non-empty string")
	}
	return lockPrefix + ":" + recordID, nil
}

// Acquire issues SET lock_key token NX PX ttl. Failure (key already held)
// returns LockUnavailable immediately; callers do not busy-wait.
func (l *RedisLock) Acquire(ctx context.Context, recordID string, ttl time.Duration) (*Handle, error) {
	key, err := lockKey(recordID)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errs.NewStorageError(errs.StorageConnection, "lock.RedisLock.Acquire", err)
	}
	if !ok {
		return nil, errs.NewLockUnavailable(key)
	}
	return &Handle{Key: key, Token: token}, nil
}

// Release performs the compare-and-delete Lua script by SHA, falling back
// to EVAL with the literal script on NOSCRIPT.
func (l *RedisLock) Release(ctx context.Context, h *Handle) error {
	if h == nil || h.Token == "" {
		return nil
	}

	if err := l.EnsureScriptLoaded(ctx); err != nil {
		l.log.Warn("release script not loaded, falling back to eval", "error", err)
	}

	var result int64
	var err error
	if l.releaseSHA != "" {
		result, err = l.client.EvalSha(ctx, l.releaseSHA, []string{h.Key}, h.Token).Int64()
		if err != nil && isNoScript(err) {
			result, err = l.client.Eval(ctx, releaseScript, []string{h.Key}, h.Token).Int64()
		}
	} else {
		result, err = l.client.Eval(ctx, releaseScript, []string{h.Key}, h.Token).Int64()
	}
	if err != nil {
		return errs.NewStorageError(errs.StorageConnection, "lock.RedisLock.Release", err)
	}
	if result != 1 {
		l.log.Debug("lock release was a no-op: not owned or already expired", "key", h.Key)
	}
	return nil
}

func isNoScript(err error) bool {
	return strings.Contains(err.Error(), "NOSCRIPT")
}

// ForceRelease is an administrative unconditional delete, logged as a warning.
func (l *RedisLock) ForceRelease(ctx context.Context, recordID string) (bool, error) {
	key, err := lockKey(recordID)
	if err != nil {
		return false, err
	}
	n, err := l.client.Del(ctx, key).Result()
	if err != nil {
		return false, errs.NewStorageError(errs.StorageConnection, "lock.RedisLock.ForceRelease", err)
	}
	if n > 0 {
		l.log.Warn("forcefully released audit lock", "record_id", recordID)
	}
	return n > 0, nil
}

// IsLocked reports whether a lock for recordID currently exists.
func (l *RedisLock) IsLocked(ctx context.Context, recordID string) (bool, error) {
	key, err := lockKey(recordID)
	if err != nil {
		return false, err
	}
	n, err := l.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errs.NewStorageError(errs.StorageConnection, "lock.RedisLock.IsLocked", err)
	}
	return n == 1, nil
}

// CleanupExpiredLocks scans lock keys and deletes those whose remaining TTL
// is at or below maxAge. Used at startup and on a periodic ticker.
func (l *RedisLock) CleanupExpiredLocks(ctx context.Context, maxAge time.Duration) (int, error) {
	var cleaned int
	iter := l.client.Scan(ctx, 0, lockPrefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			return cleaned, errs.NewStorageError(errs.StorageQuery, "lock.RedisLock.CleanupExpiredLocks", err)
		}
		if ttl <= maxAge {
			if err := l.client.Del(ctx, key).Err(); err != nil {
				return cleaned, errs.NewStorageError(errs.StorageConnection, "lock.RedisLock.CleanupExpiredLocks", err)
			}
			cleaned++
		}
	}
	if err := iter.Err(); err != nil {
		return cleaned, errs.NewStorageError(errs.StorageQuery, "lock.RedisLock.CleanupExpiredLocks", err)
	}
	if cleaned > 0 {
		l.log.Info("cleaned up expired audit locks", "count", cleaned)
	}
	return cleaned, nil
}

// WithLock acquires the lock for recordID, runs fn, and releases it
// regardless of fn's outcome (errors.Join preserves both on failure).
func (l *RedisLock) WithLock(ctx context.Context, recordID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	h, err := l.Acquire(ctx, recordID, ttl)
	if err != nil {
		return err
	}
	fnErr := fn(ctx)
	relErr := l.Release(ctx, h)
	return errors.Join(fnErr, relErr)
}
