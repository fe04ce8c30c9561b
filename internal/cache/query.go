// Package cache provides in-memory query result caching for the hybrid
// retrieval pipeline.
package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/connexus-ai/resync/internal/retrieval"
)

// QueryCache caches retrieval results by (userID, query, filters).
// Thread-safe via sync.RWMutex. Entries auto-expire after TTL.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stopCh  chan struct{}
}

type cacheEntry struct {
	chunks    []retrieval.ScoredChunk
	createdAt time.Time
	expiresAt time.Time
}

// New creates a QueryCache with the given TTL and starts background cleanup.
func New(ttl time.Duration) *QueryCache {
	c := &QueryCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns cached retrieval results if present and not expired.
func (c *QueryCache) Get(userID, query string, filters map[string]string) ([]retrieval.ScoredChunk, bool) {
	key := cacheKey(userID, query, filters)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	slog.Info("[CACHE] hit",
		"user_id", userID,
		"query_hash", key[strings.LastIndex(key, ":")+1:],
		"age_ms", time.Since(entry.createdAt).Milliseconds(),
	)
	return entry.chunks, true
}

// Set stores retrieval results in the cache.
func (c *QueryCache) Set(userID, query string, filters map[string]string, chunks []retrieval.ScoredChunk) {
	key := cacheKey(userID, query, filters)
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		chunks:    chunks,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	slog.Info("[CACHE] set",
		"user_id", userID,
		"query_hash", key[strings.LastIndex(key, ":")+1:],
		"ttl_s", int(c.ttl.Seconds()),
		"total_entries", c.Len(),
	)
}

// InvalidateUser removes all cached entries for a user.
// Call this when documents are uploaded, deleted, or re-indexed.
func (c *QueryCache) InvalidateUser(userID string) {
	prefix := "qc:" + userID + ":"
	c.mu.Lock()
	count := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			count++
		}
	}
	c.mu.Unlock()

	if count > 0 {
		slog.Info("[CACHE] invalidated user",
			"user_id", userID,
			"entries_removed", count,
		)
	}
}

// Len returns the number of entries in the cache.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *QueryCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *QueryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			before := len(c.entries)
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			after := len(c.entries)
			c.mu.Unlock()
			if before != after {
				slog.Info("[CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}

// cacheKey builds a deterministic key: "qc:{userID}:{filtersHash}:{sha256(query)}"
// Filters are sorted by key before hashing so identical filter sets in
// different map iteration orders always collide.
func cacheKey(userID, query string, filters map[string]string) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("qc:%s:%s:%x", userID, filtersDigest(filters), h[:8])
}

func filtersDigest(filters map[string]string) string {
	if len(filters) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
		b.WriteByte(';')
	}
	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h[:4])
}
