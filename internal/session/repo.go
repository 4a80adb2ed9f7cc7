package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"faceattend/internal/errs"
	"faceattend/internal/store"
)

// Repository persists sessions.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, staff_id, class_name, subject, start_time, end_time, active, late_threshold_minutes, created_at`

// Active returns the active session, or nil when none exists.
func (r *Repository) Active(ctx context.Context) (*Session, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+sessionColumns+` FROM sessions WHERE active = $1`), true)
	s, err := scanSession(row)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	return s, err
}

// Get returns a session by id.
func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`), id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	var subject sql.NullString
	var end sql.NullTime
	err := row.Scan(&s.ID, &s.StaffID, &s.ClassName, &subject, &s.StartTime, &end,
		&s.Active, &s.LateThresholdMinutes, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "session not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "session query failed", err)
	}
	s.Subject = subject.String
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	return &s, nil
}

// Insert writes a new session row.
func (r *Repository) Insert(ctx context.Context, s *Session) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (id, staff_id, class_name, subject, start_time, active, late_threshold_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), s.ID, s.StaffID, s.ClassName, s.Subject, s.StartTime, s.Active, s.LateThresholdMinutes, s.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "session insert failed", err)
	}
	return nil
}

// Close sets the end time and clears the active flag.
func (r *Repository) Close(ctx context.Context, id string, end time.Time) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET active = $1, end_time = $2 WHERE id = $3
	`), false, end, id)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "session close failed", err)
	}
	return nil
}

// StatusCounts tallies attendance rows for the session by status.
func (r *Repository) StatusCounts(ctx context.Context, sessionID string) (present, late, total int, err error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT status, COUNT(*) FROM attendance_records WHERE session_id = $1 GROUP BY status
	`), sessionID)
	if err != nil {
		return 0, 0, 0, errs.Wrap(errs.KindSystem, "summary query failed", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, errs.Wrap(errs.KindSystem, "summary scan failed", err)
		}
		total += n
		switch status {
		case "present":
			present = n
		case "late":
			late = n
		}
	}
	return present, late, total, rows.Err()
}
