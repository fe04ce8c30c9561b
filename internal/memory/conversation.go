// Package memory implements Resync's session-scoped conversation memory
// and cross-session long-term memory.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

// SessionBackend is the capability set ConversationMemory persists through:
// {get, put, delete, scan_expired}. The core ships an in-memory backend for
// tests/dev and a Redis-backed backend with an identical interface.
type SessionBackend interface {
	Get(ctx context.Context, sessionID string) (*model.ConversationSession, bool, error)
	Put(ctx context.Context, session *model.ConversationSession) error
	Delete(ctx context.Context, sessionID string) error
	ScanExpired(ctx context.Context, idleTTL time.Duration) ([]string, error)
}

// InMemorySessionBackend is a process-local backend for tests and dev.
type InMemorySessionBackend struct {
	mu       sync.Mutex
	sessions map[string]*model.ConversationSession
}

func NewInMemorySessionBackend() *InMemorySessionBackend {
	return &InMemorySessionBackend{sessions: make(map[string]*model.ConversationSession)}
}

func (b *InMemorySessionBackend) Get(_ context.Context, sessionID string) (*model.ConversationSession, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (b *InMemorySessionBackend) Put(_ context.Context, session *model.ConversationSession) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *session
	b.sessions[session.SessionID] = &cp
	return nil
}

func (b *InMemorySessionBackend) Delete(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
	return nil
}

func (b *InMemorySessionBackend) ScanExpired(_ context.Context, idleTTL time.Duration) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []string
	cutoff := time.Now().Add(-idleTTL)
	for id, s := range b.sessions {
		if s.LastActive.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

var (
	jobPattern        = regexp.MustCompile(`(?i)\b(AWSBH\d+|EQQ\w*\d+)\b`)
	errorCodePattern  = regexp.MustCompile(`(?i)\b(RC\s*=?\s*\d+|ABEND\s*[A-Z0-9]*)\b`)
	workstationPattern = regexp.MustCompile(`(?i)\bWS[A-Z0-9]{2,}\b`)
)

func extractEntities(text string) model.ReferencedEntities {
	return model.ReferencedEntities{
		Jobs:         dedupe(jobPattern.FindAllString(text, -1)),
		ErrorCodes:   dedupe(errorCodePattern.FindAllString(text, -1)),
		Workstations: dedupe(workstationPattern.FindAllString(text, -1)),
	}
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

// mergeMostRecentFirst prepends fresh entities (deduplicated) ahead of
// previously seen ones, so index 0 is always the most recently mentioned.
func mergeMostRecentFirst(existing, fresh []string) []string {
	if len(fresh) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(fresh))
	merged := make([]string, 0, len(existing)+len(fresh))
	for _, f := range fresh {
		if !seen[f] {
			seen[f] = true
			merged = append(merged, f)
		}
	}
	for _, e := range existing {
		if !seen[e] {
			seen[e] = true
			merged = append(merged, e)
		}
	}
	return merged
}

// pronounLexicon maps a pronoun/demonstrative to the entity kind it refers to.
var pronounLexicon = map[string]string{
	"it":      "job",
	"that":    "job",
	"this":    "job",
	"them":    "job",
	"there":   "workstation",
	"that one": "job",
}

var wordBoundaryCache = map[string]*regexp.Regexp{}

func wordRegexp(word string) *regexp.Regexp {
	if re, ok := wordBoundaryCache[word]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	wordBoundaryCache[word] = re
	return re
}

// ConversationMemory manages session-scoped short-term memory (spec §4.10).
type ConversationMemory struct {
	backend SessionBackend
	idleTTL time.Duration
}

func NewConversationMemory(backend SessionBackend, idleTTL time.Duration) *ConversationMemory {
	if backend == nil {
		backend = NewInMemorySessionBackend()
	}
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &ConversationMemory{backend: backend, idleTTL: idleTTL}
}

// GetOrCreate returns the session for sessionID, creating one if absent.
func (c *ConversationMemory) GetOrCreate(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	session, ok, err := c.backend.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("memory.ConversationMemory.GetOrCreate: %w", err)
	}
	if ok {
		return session, nil
	}
	session = &model.ConversationSession{SessionID: sessionID, LastActive: time.Now()}
	if err := c.backend.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("memory.ConversationMemory.GetOrCreate: %w", err)
	}
	return session, nil
}

// AddTurn appends a user/assistant message pair, updates turn bookkeeping,
// and merges newly mentioned entities (most-recent-first).
func (c *ConversationMemory) AddTurn(ctx context.Context, sessionID, userMsg, assistantMsg string, metadata map[string]string) error {
	session, err := c.GetOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	session.Messages = append(session.Messages,
		model.Message{Role: model.RoleUser, Content: userMsg, Timestamp: now, Metadata: metadata},
		model.Message{Role: model.RoleAssistant, Content: assistantMsg, Timestamp: now, Metadata: metadata},
	)
	session.TurnCount++
	session.LastActive = now

	fresh := extractEntities(userMsg + "\n" + assistantMsg)
	session.ReferencedEntities.Jobs = mergeMostRecentFirst(session.ReferencedEntities.Jobs, fresh.Jobs)
	session.ReferencedEntities.ErrorCodes = mergeMostRecentFirst(session.ReferencedEntities.ErrorCodes, fresh.ErrorCodes)
	session.ReferencedEntities.Workstations = mergeMostRecentFirst(session.ReferencedEntities.Workstations, fresh.Workstations)

	if err := c.backend.Put(ctx, session); err != nil {
		return fmt.Errorf("memory.ConversationMemory.AddTurn: %w", err)
	}
	return nil
}

// ResolveReference rewrites pronouns/demonstratives in newMessage by
// substituting the most recently referenced entity of compatible kind.
// Returns the message unchanged if no compatible entity exists.
func (c *ConversationMemory) ResolveReference(ctx context.Context, sessionID, newMessage string) (string, error) {
	session, ok, err := c.backend.Get(ctx, sessionID)
	if err != nil {
		return newMessage, fmt.Errorf("memory.ConversationMemory.ResolveReference: %w", err)
	}
	if !ok {
		return newMessage, nil
	}

	words := strings.Fields(newMessage)
	result := newMessage
	for _, w := range words {
		stripped := strings.ToLower(strings.Trim(w, ".,!?"))
		kind, isPronoun := pronounLexicon[stripped]
		if !isPronoun {
			continue
		}
		var replacement string
		switch kind {
		case "job":
			if len(session.ReferencedEntities.Jobs) > 0 {
				replacement = session.ReferencedEntities.Jobs[0]
			}
		case "workstation":
			if len(session.ReferencedEntities.Workstations) > 0 {
				replacement = session.ReferencedEntities.Workstations[0]
			}
		}
		if replacement == "" {
			continue
		}
		result = wordRegexp(stripped).ReplaceAllString(result, replacement)
	}
	return result, nil
}

// GetContextForPrompt returns the last maxMessages formatted as
// "User: ... / Assistant: ..." lines for inclusion in LLM prompts.
func (c *ConversationMemory) GetContextForPrompt(ctx context.Context, sessionID string, maxMessages int) (string, error) {
	session, ok, err := c.backend.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("memory.ConversationMemory.GetContextForPrompt: %w", err)
	}
	if !ok || len(session.Messages) == 0 {
		return "", nil
	}

	msgs := session.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}

	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			b.WriteString("User: ")
		case model.RoleAssistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Clear removes a session immediately.
func (c *ConversationMemory) Clear(ctx context.Context, sessionID string) error {
	if err := c.backend.Delete(ctx, sessionID); err != nil {
		return errs.NewStorageError(errs.StorageConnection, "memory.ConversationMemory.Clear", err)
	}
	return nil
}

// ExpireIdle deletes sessions that have been idle longer than the
// configured TTL. Intended for a periodic background sweep.
func (c *ConversationMemory) ExpireIdle(ctx context.Context) (int, error) {
	expired, err := c.backend.ScanExpired(ctx, c.idleTTL)
	if err != nil {
		return 0, fmt.Errorf("memory.ConversationMemory.ExpireIdle: %w", err)
	}
	for _, id := range expired {
		if err := c.backend.Delete(ctx, id); err != nil {
			return 0, fmt.Errorf("memory.ConversationMemory.ExpireIdle: %w", err)
		}
	}
	return len(expired), nil
}
