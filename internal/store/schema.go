package store

// Schema is the full database schema, applied idempotently on open.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor TEXT,
	tool TEXT NOT NULL,
	profile TEXT,
	origin TEXT,
	origin_kind TEXT,
	trace_id TEXT,
	outcome TEXT NOT NULL,
	layer TEXT,
	reason TEXT,
	ts DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_origin ON audit_log(origin);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id TEXT PRIMARY KEY,
	tool TEXT NOT NULL,
	arguments TEXT,
	origin TEXT,
	origin_kind TEXT,
	reason TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	responder TEXT,
	response_reason TEXT,
	requested_at DATETIME NOT NULL,
	responded_at DATETIME,
	expires_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
CREATE INDEX IF NOT EXISTS idx_approvals_origin ON approvals(origin);

CREATE TABLE IF NOT EXISTS playbook_executions (
	execution_id TEXT PRIMARY KEY,
	playbook_id TEXT NOT NULL,
	incident_id TEXT,
	dry_run BOOLEAN NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'PENDING',
	step_index INTEGER NOT NULL DEFAULT 0,
	steps_json TEXT,
	error_text TEXT,
	started_at DATETIME,
	finished_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_executions_playbook ON playbook_executions(playbook_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON playbook_executions(status);

CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	profile TEXT,
	status TEXT NOT NULL,
	iterations INTEGER NOT NULL DEFAULT 0,
	error_text TEXT,
	history_json TEXT,
	created_at DATETIME,
	archived_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS learning_sequences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	origin TEXT NOT NULL,
	origin_kind TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	entries_json TEXT NOT NULL,
	started_at DATETIME,
	finished_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_learning_origin ON learning_sequences(origin);
`
