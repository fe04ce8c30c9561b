// Package audit manages the lifecycle of memory records awaiting human
// review, backed by Redis (spec §4.9).
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/resync/internal/errs"
	"github.com/connexus-ai/resync/internal/model"
)

const (
	queueKey  = "audit:queue"
	statusKey = "audit:status"
	dataKey   = "audit:data"
)

// AuditQueue is a Redis-backed FIFO queue of memory records pending review.
type AuditQueue struct {
	client *redis.Client
	log    *slog.Logger
}

func NewAuditQueue(client *redis.Client, log *slog.Logger) *AuditQueue {
	if log == nil {
		log = slog.Default()
	}
	return &AuditQueue{client: client, log: log}
}

type storedRecord struct {
	MemoryID           string     `json:"memory_id"`
	UserQuery          string     `json:"user_query"`
	AgentResponse      string     `json:"agent_response"`
	IAAuditReason      string     `json:"ia_audit_reason"`
	IAAuditConfidence  float64    `json:"ia_audit_confidence"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
}

func toStored(r model.MemoryRecord) storedRecord {
	return storedRecord{
		MemoryID:          r.MemoryID,
		UserQuery:         r.UserQuery,
		AgentResponse:     r.AgentResponse,
		IAAuditReason:     r.IAAuditReason,
		IAAuditConfidence: r.IAAuditConfidence,
		Status:            string(r.Status),
		CreatedAt:         r.CreatedAt,
		ReviewedAt:        r.ReviewedAt,
	}
}

func fromStored(s storedRecord) model.MemoryRecord {
	return model.MemoryRecord{
		MemoryID:          s.MemoryID,
		UserQuery:         s.UserQuery,
		AgentResponse:     s.AgentResponse,
		IAAuditReason:     s.IAAuditReason,
		IAAuditConfidence: s.IAAuditConfidence,
		Status:            model.AuditStatus(s.Status),
		CreatedAt:         s.CreatedAt,
		ReviewedAt:        s.ReviewedAt,
	}
}

// Add rejects duplicates (status already present); otherwise atomically
// left-pushes the id, sets status=pending, and stores the full record.
func (q *AuditQueue) Add(ctx context.Context, record model.MemoryRecord) (bool, error) {
	exists, err := q.client.HExists(ctx, statusKey, record.MemoryID).Result()
	if err != nil {
		return false, errs.NewStorageError(errs.StorageConnection, "audit.AuditQueue.Add", err)
	}
	if exists {
		q.log.Warn("memory already exists in audit queue", "memory_id", record.MemoryID)
		return false, nil
	}

	record.Status = model.AuditStatusPending
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(toStored(record))
	if err != nil {
		return false, errs.NewDataParsingError("audit.AuditQueue.Add: marshal record", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, queueKey, record.MemoryID)
		pipe.HSet(ctx, statusKey, record.MemoryID, string(model.AuditStatusPending))
		pipe.HSet(ctx, dataKey, record.MemoryID, payload)
		return nil
	})
	if err != nil {
		return false, errs.NewAuditError("audit.AuditQueue.Add", err)
	}
	return true, nil
}

// GetPending reads the first limit queued ids and returns data for those
// still in pending status. Malformed entries are skipped with a warning.
func (q *AuditQueue) GetPending(ctx context.Context, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := q.client.LRange(ctx, queueKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.GetPending", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var out []model.MemoryRecord
	for _, id := range ids {
		status, err := q.client.HGet(ctx, statusKey, id).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.GetPending", err)
		}
		if status != string(model.AuditStatusPending) {
			continue
		}

		raw, err := q.client.HGet(ctx, dataKey, id).Result()
		if err == redis.Nil {
			q.log.Warn("audit queue entry missing data, skipping", "memory_id", id)
			continue
		}
		if err != nil {
			return nil, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.GetPending", err)
		}

		var stored storedRecord
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			q.log.Warn("audit queue entry malformed, skipping", "memory_id", id, "error", err)
			continue
		}
		out = append(out, fromStored(stored))
	}
	return out, nil
}

// UpdateStatus requires the record to already exist; sets status and
// stamps reviewed_at. newStatus must be approved or rejected.
func (q *AuditQueue) UpdateStatus(ctx context.Context, memoryID string, newStatus model.AuditStatus) (bool, error) {
	if newStatus != model.AuditStatusApproved && newStatus != model.AuditStatusRejected {
		return false, errs.NewValidationError("status", "must be approved or rejected")
	}

	exists, err := q.client.HExists(ctx, statusKey, memoryID).Result()
	if err != nil {
		return false, errs.NewStorageError(errs.StorageConnection, "audit.AuditQueue.UpdateStatus", err)
	}
	if !exists {
		q.log.Warn("memory not found in audit queue", "memory_id", memoryID)
		return false, nil
	}

	raw, err := q.client.HGet(ctx, dataKey, memoryID).Result()
	var updatedPayload []byte
	if err == nil {
		var stored storedRecord
		if jsonErr := json.Unmarshal([]byte(raw), &stored); jsonErr == nil {
			stored.Status = string(newStatus)
			now := time.Now()
			stored.ReviewedAt = &now
			updatedPayload, _ = json.Marshal(stored)
		} else {
			q.log.Warn("failed to decode audit data during status update, status will update without data rewrite", "memory_id", memoryID, "error", jsonErr)
		}
	} else if err != redis.Nil {
		return false, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.UpdateStatus", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, statusKey, memoryID, string(newStatus))
		if updatedPayload != nil {
			pipe.HSet(ctx, dataKey, memoryID, updatedPayload)
		}
		return nil
	})
	if err != nil {
		return false, errs.NewAuditError("audit.AuditQueue.UpdateStatus", err)
	}
	return true, nil
}

// IsApproved reports whether memoryID's status is approved.
func (q *AuditQueue) IsApproved(ctx context.Context, memoryID string) (bool, error) {
	status, err := q.client.HGet(ctx, statusKey, memoryID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.IsApproved", err)
	}
	return status == string(model.AuditStatusApproved), nil
}

// Delete removes a record from all three structures.
func (q *AuditQueue) Delete(ctx context.Context, memoryID string) (bool, error) {
	exists, err := q.client.HExists(ctx, statusKey, memoryID).Result()
	if err != nil {
		return false, errs.NewStorageError(errs.StorageConnection, "audit.AuditQueue.Delete", err)
	}
	if !exists {
		return false, nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, queueKey, 0, memoryID)
		pipe.HDel(ctx, statusKey, memoryID)
		pipe.HDel(ctx, dataKey, memoryID)
		return nil
	})
	if err != nil {
		return false, errs.NewAuditError("audit.AuditQueue.Delete", err)
	}
	return true, nil
}

// QueueLength returns the number of items currently in the FIFO list.
func (q *AuditQueue) QueueLength(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.QueueLength", err)
	}
	return n, nil
}

// Metrics returns total/pending/approved/rejected counts across all tracked records.
func (q *AuditQueue) Metrics(ctx context.Context) (model.QueueMetrics, error) {
	ids, err := q.client.HKeys(ctx, statusKey).Result()
	if err != nil {
		return model.QueueMetrics{}, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.Metrics", err)
	}
	metrics := model.QueueMetrics{Total: len(ids)}
	for _, id := range ids {
		status, err := q.client.HGet(ctx, statusKey, id).Result()
		if err != nil {
			continue
		}
		switch model.AuditStatus(status) {
		case model.AuditStatusPending:
			metrics.Pending++
		case model.AuditStatusApproved:
			metrics.Approved++
		case model.AuditStatusRejected:
			metrics.Rejected++
		}
	}
	return metrics, nil
}

// CleanupProcessed removes approved/rejected records reviewed more than
// maxAge ago, preventing unbounded growth of the status/data hashes.
func (q *AuditQueue) CleanupProcessed(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.HKeys(ctx, statusKey).Result()
	if err != nil {
		return 0, errs.NewStorageError(errs.StorageQuery, "audit.AuditQueue.CleanupProcessed", err)
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	for _, id := range ids {
		status, err := q.client.HGet(ctx, statusKey, id).Result()
		if err != nil {
			continue
		}
		if status != string(model.AuditStatusApproved) && status != string(model.AuditStatusRejected) {
			continue
		}

		raw, err := q.client.HGet(ctx, dataKey, id).Result()
		if err != nil {
			continue
		}
		var stored storedRecord
		if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.ReviewedAt == nil {
			continue
		}
		if stored.ReviewedAt.Before(cutoff) {
			if deleted, err := q.Delete(ctx, id); err == nil && deleted {
				cleaned++
			}
		}
	}
	if cleaned > 0 {
		q.log.Info("cleaned up old processed audit records", "count", cleaned)
	}
	return cleaned, nil
}
