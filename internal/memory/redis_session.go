package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

const sessionKeyPrefix = "conversation:session:"

// RedisSessionBackend persists ConversationSessions in Redis, keyed by
// session ID with a TTL refreshed on every Put so idle sessions expire
// server-side even if ExpireIdle is never called.
type RedisSessionBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionBackend(client *redis.Client, ttl time.Duration) *RedisSessionBackend {
	return &RedisSessionBackend{client: client, ttl: ttl}
}

var _ SessionBackend = (*RedisSessionBackend)(nil)

func (b *RedisSessionBackend) Get(ctx context.Context, sessionID string) (*model.ConversationSession, bool, error) {
	raw, err := b.client.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.NewStorageError(errs.StorageConnection, "memory.RedisSessionBackend.Get", err)
	}
	var session model.ConversationSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, false, errs.NewDataParsingError("memory.RedisSessionBackend.Get", err)
	}
	return &session, true, nil
}

func (b *RedisSessionBackend) Put(ctx context.Context, session *model.ConversationSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return errs.NewDataParsingError("memory.RedisSessionBackend.Put", err)
	}
	if err := b.client.Set(ctx, sessionKeyPrefix+session.SessionID, raw, b.ttl).Err(); err != nil {
		return errs.NewStorageError(errs.StorageConnection, "memory.RedisSessionBackend.Put", err)
	}
	return nil
}

func (b *RedisSessionBackend) Delete(ctx context.Context, sessionID string) error {
	if err := b.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return errs.NewStorageError(errs.StorageConnection, "memory.RedisSessionBackend.Delete", err)
	}
	return nil
}

// ScanExpired finds sessions whose LastActive exceeds idleTTL. Redis's own
// key TTL (refreshed on Put) handles hard expiry; this scan additionally
// surfaces sessions idle past the application-level threshold for
// ConversationMemory.ExpireIdle to clean up referenced_entities state.
func (b *RedisSessionBackend) ScanExpired(ctx context.Context, idleTTL time.Duration) ([]string, error) {
	var expired []string
	iter := b.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var session model.ConversationSession
		if err := json.Unmarshal(raw, &session); err != nil {
			continue
		}
		if time.Since(session.LastActive) > idleTTL {
			expired = append(expired, session.SessionID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errs.NewStorageError(errs.StorageConnection, "memory.RedisSessionBackend.ScanExpired", err)
	}
	return expired, nil
}
