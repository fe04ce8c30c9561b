package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/resync/internal/model"
)

func newTestRedisBackend(t *testing.T) *RedisSessionBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisSessionBackend(client, time.Hour)
}

func TestRedisSessionBackend_GetMissingReturnsNotFound(t *testing.T) {
	b := newTestRedisBackend(t)
	_, ok, err := b.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing session")
	}
}

func TestRedisSessionBackend_PutThenGetRoundTrips(t *testing.T) {
	b := newTestRedisBackend(t)
	session := &model.ConversationSession{SessionID: "sess-1", LastActive: time.Now(), TurnCount: 2}

	if err := b.Put(context.Background(), session); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok, err := b.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok || got.TurnCount != 2 {
		t.Errorf("got = %+v, want TurnCount=2", got)
	}
}

func TestRedisSessionBackend_DeleteRemovesSession(t *testing.T) {
	b := newTestRedisBackend(t)
	session := &model.ConversationSession{SessionID: "sess-2", LastActive: time.Now()}
	if err := b.Put(context.Background(), session); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := b.Delete(context.Background(), "sess-2"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	_, ok, err := b.Get(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if ok {
		t.Fatal("expected session to be gone after Delete")
	}
}

func TestRedisSessionBackend_ScanExpiredFindsIdleSessions(t *testing.T) {
	b := newTestRedisBackend(t)
	fresh := &model.ConversationSession{SessionID: "fresh", LastActive: time.Now()}
	stale := &model.ConversationSession{SessionID: "stale", LastActive: time.Now().Add(-2 * time.Hour)}
	if err := b.Put(context.Background(), fresh); err != nil {
		t.Fatalf("Put fresh returned error: %v", err)
	}
	if err := b.Put(context.Background(), stale); err != nil {
		t.Fatalf("Put stale returned error: %v", err)
	}

	expired, err := b.ScanExpired(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ScanExpired returned error: %v", err)
	}
	if len(expired) != 1 || expired[0] != "stale" {
		t.Errorf("expired = %v, want [stale]", expired)
	}
}
