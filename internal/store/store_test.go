package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/remedian/remedian/internal/approval"
	"github.com/remedian/remedian/internal/playbook"
	"github.com/remedian/remedian/internal/policy"
	"github.com/remedian/remedian/internal/provider"
	"github.com/remedian/remedian/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAuditRoundTrip(t *testing.T) {
	s := openTestStore(t)

	recs := []policy.AuditRecord{
		{Actor: "cli", Tool: "health_check", Profile: "ops", Origin: "s1", OriginKind: "session", Outcome: "ALLOW", Reason: "allowed", Ts: time.Now()},
		{Actor: "cli", Tool: "exec", Profile: "ops", Origin: "s1", OriginKind: "session", Outcome: "DENY", Layer: "global", Reason: "denied_by_global", Ts: time.Now()},
	}
	for _, r := range recs {
		if err := s.InsertAuditRecord(r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.RecentAuditEntries(10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	// Newest first.
	if got[0].Tool != "exec" || got[0].Outcome != "DENY" || got[0].Layer != "global" {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
}

func TestApprovalLifecycle(t *testing.T) {
	s := openTestStore(t)

	req := &approval.Request{
		ID:          "req-1",
		Tool:        "service_restart",
		Arguments:   map[string]any{"unit": "api"},
		Origin:      "s1",
		OriginKind:  approval.OriginSession,
		Status:      approval.StatusPending,
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
	if err := s.InsertApproval(req); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ids, err := s.PendingApprovalIDs()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(ids) != 1 || ids[0] != "req-1" {
		t.Fatalf("unexpected pending ids: %v", ids)
	}

	if err := s.UpdateApprovalStatus("req-1", approval.StatusApproved, "oncall", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Second resolution must fail: the row is no longer pending.
	if err := s.UpdateApprovalStatus("req-1", approval.StatusDenied, "other", "late"); err == nil {
		t.Fatal("expected error resolving a settled approval")
	}

	ids, _ = s.PendingApprovalIDs()
	if len(ids) != 0 {
		t.Fatalf("expected no pending ids, got %v", ids)
	}
}

func TestExpireApproval(t *testing.T) {
	s := openTestStore(t)
	req := &approval.Request{
		ID:          "req-stale",
		Tool:        "exec",
		Status:      approval.StatusPending,
		RequestedAt: time.Now(),
		ExpiresAt:   time.Now(),
	}
	if err := s.InsertApproval(req); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.ExpireApproval("req-stale"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	ids, _ := s.PendingApprovalIDs()
	if len(ids) != 0 {
		t.Fatal("expired approval still pending")
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := &playbook.ExecutionRecord{
		ExecutionID: "x1",
		PlaybookID:  "restart-api",
		IncidentID:  "inc-1",
		DryRun:      false,
		Status:      playbook.StatusRunning,
		StartedAt:   time.Now(),
	}
	if err := s.InsertExecution(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec.Status = playbook.StatusSuccess
	rec.StepIndex = 2
	rec.StepsJSON = `[{"index":0,"name":"probe","status":"executed"}]`
	rec.FinishedAt = time.Now()
	if err := s.UpdateExecution(rec); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetExecution("x1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != playbook.StatusSuccess || got.StepIndex != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.PlaybookID != "restart-api" || got.IncidentID != "inc-1" {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if got.StepsJSON == "" {
		t.Fatal("step log lost")
	}
}

func TestArchiveSession(t *testing.T) {
	s := openTestStore(t)

	sess := session.New("s1", "ops")
	sess.Append(provider.Message{Role: "user", Content: "check things"})
	sess.Append(provider.Message{Role: "assistant", Content: "all good"})
	sess.Iterations = 2
	sess.SetStatus(session.StatusCompleted)

	if err := s.ArchiveSession(sess); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// Re-archiving the same session replaces, not duplicates.
	if err := s.ArchiveSession(sess); err != nil {
		t.Fatalf("re-archive: %v", err)
	}
}

func TestInsertLearningSequence(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertLearningSequence("s1", "session", true,
		`[{"tool":"health_check","outcome":"ok"}]`, time.Now(), time.Now())
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}
