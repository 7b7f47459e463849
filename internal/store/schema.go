package store

import "context"

// The session-uniqueness and one-mark-per-student guarantees live in
// these indexes; concurrent writers race in the database, not in process
// memory, so they hold across multiple service instances.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS lectures (
		id TEXT PRIMARY KEY,
		course TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		teacher_id TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'scheduled',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS lecture_sessions (
		id TEXT PRIMARY KEY,
		lecture_id TEXT NOT NULL REFERENCES lectures(id),
		classroom_code TEXT NOT NULL,
		qr_token TEXT NOT NULL,
		code_generated_at TIMESTAMPTZ NOT NULL,
		qr_generated_at TIMESTAMPTZ NOT NULL,
		window_minutes INT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		ended_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS lecture_sessions_one_active
		ON lecture_sessions (lecture_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		lecture_id TEXT NOT NULL REFERENCES lectures(id),
		student_id TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		marked_at TIMESTAMPTZ NOT NULL,
		correction_reason TEXT,
		corrected_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (lecture_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS suspicious_flags (
		id TEXT PRIMARY KEY,
		lecture_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates tables and indexes if missing. Statements are
// idempotent so every instance can run this at startup.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
