// Package store provides the durable sqlite-backed record store for
// audit entries, approvals, playbook executions, and archived sessions.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/remedian/remedian/internal/approval"
	"github.com/remedian/remedian/internal/playbook"
	"github.com/remedian/remedian/internal/policy"
	"github.com/remedian/remedian/internal/session"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Audit trail
// ---------------------------------------------------------------------------

// InsertAuditRecord appends one policy decision to the audit log.
func (s *Store) InsertAuditRecord(rec policy.AuditRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_log (actor, tool, profile, origin, origin_kind, trace_id, outcome, layer, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Actor, rec.Tool, rec.Profile, rec.Origin, rec.OriginKind, rec.TraceID,
		rec.Outcome, rec.Layer, rec.Reason, rec.Ts)
	return err
}

// AuditEntry is one row read back from the audit log.
type AuditEntry struct {
	Actor   string
	Tool    string
	Origin  string
	Outcome string
	Layer   string
	Reason  string
	Ts      time.Time
}

// RecentAuditEntries returns the newest audit entries, newest first.
func (s *Store) RecentAuditEntries(limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT actor, tool, origin, outcome, layer, reason, ts
		FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.Actor, &e.Tool, &e.Origin, &e.Outcome, &e.Layer, &e.Reason, &e.Ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

// InsertApproval persists a new approval request.
func (s *Store) InsertApproval(req *approval.Request) error {
	argsJSON, _ := json.Marshal(req.Arguments)
	_, err := s.db.Exec(`
		INSERT INTO approvals (approval_id, tool, arguments, origin, origin_kind, reason, status, requested_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Tool, string(argsJSON), req.Origin, req.OriginKind, req.Reason,
		req.Status, req.RequestedAt, req.ExpiresAt)
	return err
}

// UpdateApprovalStatus records the single resolution of a request.
func (s *Store) UpdateApprovalStatus(id, status, responder, reason string) error {
	res, err := s.db.Exec(`
		UPDATE approvals SET status = ?, responder = ?, response_reason = ?, responded_at = ?
		WHERE approval_id = ? AND status = 'pending'`,
		status, responder, reason, time.Now(), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("approval %s not pending", id)
	}
	return nil
}

// PendingApprovalIDs returns ids of approvals persisted as pending, used
// to sweep leftovers from a previous process on startup.
func (s *Store) PendingApprovalIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT approval_id FROM approvals WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ExpireApproval marks a persisted pending approval as expired.
func (s *Store) ExpireApproval(id string) error {
	return s.UpdateApprovalStatus(id, approval.StatusExpired, "", "stale at startup")
}

// ---------------------------------------------------------------------------
// Playbook executions
// ---------------------------------------------------------------------------

// InsertExecution creates the execution row at trigger time.
func (s *Store) InsertExecution(rec *playbook.ExecutionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO playbook_executions (execution_id, playbook_id, incident_id, dry_run, status, step_index, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.PlaybookID, rec.IncidentID, rec.DryRun, rec.Status, rec.StepIndex, rec.StartedAt)
	return err
}

// UpdateExecution persists progress: current step index, status, step log.
func (s *Store) UpdateExecution(rec *playbook.ExecutionRecord) error {
	var finished any
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt
	}
	_, err := s.db.Exec(`
		UPDATE playbook_executions
		SET status = ?, step_index = ?, steps_json = ?, error_text = ?, finished_at = ?
		WHERE execution_id = ?`,
		rec.Status, rec.StepIndex, rec.StepsJSON, rec.Error, finished, rec.ExecutionID)
	return err
}

// GetExecution reads one execution row.
func (s *Store) GetExecution(executionID string) (*playbook.ExecutionRecord, error) {
	row := s.db.QueryRow(`
		SELECT execution_id, playbook_id, COALESCE(incident_id,''), dry_run, status, step_index,
		       COALESCE(steps_json,''), COALESCE(error_text,''), COALESCE(started_at, created_at),
		       COALESCE(finished_at, '0001-01-01T00:00:00Z')
		FROM playbook_executions WHERE execution_id = ?`, executionID)

	var rec playbook.ExecutionRecord
	if err := row.Scan(&rec.ExecutionID, &rec.PlaybookID, &rec.IncidentID, &rec.DryRun,
		&rec.Status, &rec.StepIndex, &rec.StepsJSON, &rec.Error, &rec.StartedAt, &rec.FinishedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// ArchiveSession persists a terminal session.
func (s *Store) ArchiveSession(sess *session.Session) error {
	historyJSON, _ := json.Marshal(sess.Messages())
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (session_id, profile, status, iterations, error_text, history_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Profile, sess.GetStatus(), sess.Iterations, sess.Error, string(historyJSON), sess.CreatedAt)
	return err
}

// ---------------------------------------------------------------------------
// Learning sequences
// ---------------------------------------------------------------------------

// InsertLearningSequence persists one finished tool sequence.
func (s *Store) InsertLearningSequence(origin, originKind string, success bool, entriesJSON string, startedAt, finishedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO learning_sequences (origin, origin_kind, success, entries_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		origin, originKind, success, entriesJSON, startedAt, finishedAt)
	return err
}
