package model

import "time"

// AuditStatus is the lifecycle state of a MemoryRecord awaiting review.
type AuditStatus string

const (
	AuditStatusPending  AuditStatus = "pending"
	AuditStatusApproved AuditStatus = "approved"
	AuditStatusRejected AuditStatus = "rejected"
)

// MemoryRecord is a candidate AI response quarantined for human review.
type MemoryRecord struct {
	MemoryID          string      `json:"memory_id"`
	UserQuery         string      `json:"user_query"`
	AgentResponse     string      `json:"agent_response"`
	IAAuditReason     string      `json:"ia_audit_reason"`
	IAAuditConfidence float64     `json:"ia_audit_confidence"`
	Status            AuditStatus `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	ReviewedAt        *time.Time  `json:"reviewed_at,omitempty"`
}

// QueueMetrics summarizes AuditQueue occupancy by status.
type QueueMetrics struct {
	Total    int
	Pending  int
	Approved int
	Rejected int
}
