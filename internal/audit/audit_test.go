package audit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/resync/internal/model"
)

func newTestQueue(t *testing.T) *AuditQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewAuditQueue(client, nil)
}

func sampleRecord(id string) model.MemoryRecord {
	return model.MemoryRecord{
		MemoryID:          id,
		UserQuery:         "why did JOBA fail",
		AgentResponse:     "JOBA failed with RC=8",
		IAAuditReason:     "low confidence",
		IAAuditConfidence: 0.4,
	}
}

func TestAdd_NewRecordSucceeds(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	added, err := q.Add(ctx, sampleRecord("m1"))
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if !added {
		t.Fatal("expected Add() to report true for new record")
	}

	n, err := q.QueueLength(ctx)
	if err != nil {
		t.Fatalf("QueueLength() error: %v", err)
	}
	if n != 1 {
		t.Errorf("QueueLength() = %d, want 1", n)
	}
}

func TestAdd_DuplicateRejected(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("first Add() error: %v", err)
	}
	added, err := q.Add(ctx, sampleRecord("m1"))
	if err != nil {
		t.Fatalf("second Add() error: %v", err)
	}
	if added {
		t.Error("expected duplicate Add() to report false")
	}
}

func TestGetPending_ReturnsOnlyPendingRecords(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := q.Add(ctx, sampleRecord("m2")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if _, err := q.UpdateStatus(ctx, "m2", model.AuditStatusApproved); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	pending, err := q.GetPending(ctx, 50)
	if err != nil {
		t.Fatalf("GetPending() error: %v", err)
	}
	if len(pending) != 1 || pending[0].MemoryID != "m1" {
		t.Errorf("GetPending() = %+v, want only m1", pending)
	}
}

func TestUpdateStatus_UnknownRecordReturnsFalse(t *testing.T) {
	q := newTestQueue(t)
	ok, err := q.UpdateStatus(context.Background(), "ghost", model.AuditStatusApproved)
	if err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if ok {
		t.Error("expected UpdateStatus() to report false for unknown record")
	}
}

func TestUpdateStatus_RejectsInvalidTargetStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if _, err := q.Add(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	_, err := q.UpdateStatus(ctx, "m1", model.AuditStatusPending)
	if err == nil {
		t.Error("expected validation error setting status back to pending")
	}
}

func TestIsApproved_ReflectsStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if _, err := q.Add(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	approved, err := q.IsApproved(ctx, "m1")
	if err != nil {
		t.Fatalf("IsApproved() error: %v", err)
	}
	if approved {
		t.Error("expected not approved before review")
	}

	if _, err := q.UpdateStatus(ctx, "m1", model.AuditStatusApproved); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	approved, err = q.IsApproved(ctx, "m1")
	if err != nil {
		t.Fatalf("IsApproved() error: %v", err)
	}
	if !approved {
		t.Error("expected approved after review")
	}
}

func TestDelete_RemovesFromAllStructures(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	if _, err := q.Add(ctx, sampleRecord("m1")); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	deleted, err := q.Delete(ctx, "m1")
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if !deleted {
		t.Fatal("expected Delete() to report true")
	}

	n, _ := q.QueueLength(ctx)
	if n != 0 {
		t.Errorf("QueueLength() = %d, want 0 after delete", n)
	}
	approved, _ := q.IsApproved(ctx, "m1")
	if approved {
		t.Error("expected deleted record to no longer report approved")
	}
}

func TestMetrics_CountsByStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := q.Add(ctx, sampleRecord(id)); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}
	if _, err := q.UpdateStatus(ctx, "m2", model.AuditStatusApproved); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if _, err := q.UpdateStatus(ctx, "m3", model.AuditStatusRejected); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	metrics, err := q.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics() error: %v", err)
	}
	if metrics.Total != 3 || metrics.Pending != 1 || metrics.Approved != 1 || metrics.Rejected != 1 {
		t.Errorf("Metrics() = %+v, want total=3 pending=1 approved=1 rejected=1", metrics)
	}
}
