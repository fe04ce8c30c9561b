package model

import "time"

// MessageRole distinguishes conversation turn speakers.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single turn in a ConversationSession.
type Message struct {
	Role      MessageRole
	Content   string
	Timestamp time.Time
	Metadata  map[string]string
}

// ReferencedEntities tracks entities mentioned in a session, most-recent-first.
type ReferencedEntities struct {
	Jobs         []string
	Workstations []string
	ErrorCodes   []string
}

// ConversationSession is session-scoped short-term memory.
type ConversationSession struct {
	SessionID          string
	Messages           []Message
	TurnCount           int
	ReferencedEntities ReferencedEntities
	LastActive          time.Time
}

// MemoryCategory is the closed category set for a LongTermMemory variant.
type MemoryCategory string

const (
	CategoryPreference MemoryCategory = "preference"
	CategoryFact       MemoryCategory = "fact"
	CategoryContext    MemoryCategory = "context"
	CategoryWorkflow   MemoryCategory = "workflow"
	CategoryHabit      MemoryCategory = "habit"
	CategoryRule       MemoryCategory = "rule"
)

// VerificationStatus tracks user confirmation of a long-term memory entry.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationConfirmed  VerificationStatus = "confirmed"
	VerificationRejected   VerificationStatus = "rejected"
)

// Provenance records the origin of a long-term memory entry.
type Provenance struct {
	SourceSession      string
	ExtractedAt        time.Time
	ExtractorModel     string
	SourceTurns        []int
	VerificationStatus VerificationStatus
}

// MemoryKind distinguishes the two LongTermMemory variants.
type MemoryKind string

const (
	MemoryDeclarative MemoryKind = "declarative"
	MemoryProcedural  MemoryKind = "procedural"
)

// LongTermMemoryEntry is a tagged variant: Declarative entries carry Content,
// Procedural entries carry Pattern+Trigger. Common header fields apply to both.
type LongTermMemoryEntry struct {
	MemoryID   string
	UserID     string
	Kind       MemoryKind
	Category   MemoryCategory
	Content    string // declarative
	Pattern    string // procedural
	Trigger    string // procedural
	Confidence float64
	Embedding  []float32
	ContentHash string
	Provenance Provenance
}
