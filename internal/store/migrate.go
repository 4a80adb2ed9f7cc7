package store

import "context"

// Migrate creates the schema when missing. Statements are dialect-specific;
// the partial unique index on sessions is the §5-style backstop that keeps the
// single-active-session invariant even if two API replicas race.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if d.Driver == "sqlite" {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		face_template BYTEA,
		face_enrolled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		staff_id UUID NOT NULL,
		class_name TEXT NOT NULL,
		subject TEXT,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		late_threshold_minutes INTEGER NOT NULL DEFAULT 15,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_active ON sessions(active) WHERE active`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		date TEXT NOT NULL,
		time_in TIMESTAMPTZ NOT NULL,
		time_out TIMESTAMPTZ,
		status TEXT NOT NULL,
		confidence DOUBLE PRECISION,
		geo_location TEXT,
		device_info TEXT,
		method TEXT NOT NULL,
		session_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_user_date ON attendance_records(user_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance_records(session_id)`,
	`CREATE TABLE IF NOT EXISTS fraud_alerts (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		alert_type TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_by UUID,
		resolved_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_alerts_user ON fraud_alerts(user_id)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		face_template BLOB,
		face_enrolled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL,
		class_name TEXT NOT NULL,
		subject TEXT,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		active BOOLEAN NOT NULL DEFAULT 1,
		late_threshold_minutes INTEGER NOT NULL DEFAULT 15,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_single_active ON sessions(active) WHERE active`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		time_in TIMESTAMP NOT NULL,
		time_out TIMESTAMP,
		status TEXT NOT NULL,
		confidence REAL,
		geo_location TEXT,
		device_info TEXT,
		method TEXT NOT NULL,
		session_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_user_date ON attendance_records(user_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance_records(session_id)`,
	`CREATE TABLE IF NOT EXISTS fraud_alerts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT 0,
		resolved_by TEXT,
		resolved_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fraud_alerts_user ON fraud_alerts(user_id)`,
}
