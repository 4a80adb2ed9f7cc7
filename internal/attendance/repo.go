package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/errs"
	"faceattend/internal/store"
)

// Repository persists attendance records.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, user_id, date, time_in, time_out, status, confidence, geo_location, device_info, method, session_id, created_at`

// Insert writes a new record.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO attendance_records (id, user_id, date, time_in, status, confidence, geo_location, device_info, method, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`), rec.ID, rec.UserID, rec.Date, rec.TimeIn, rec.Status, rec.Confidence,
		rec.Geo, rec.DeviceInfo, rec.Method, rec.SessionID, rec.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "attendance insert failed", err)
	}
	return nil
}

// RecentFaceMark returns the user's face-marked record for the given day with
// time_in at or after the cutoff, or nil when there is none. This is the
// cooldown probe.
func (r *Repository) RecentFaceMark(ctx context.Context, userID, date string, cutoff time.Time) (*Record, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = $1 AND date = $2 AND method = $3 AND time_in >= $4
		ORDER BY time_in DESC LIMIT 1
	`), userID, date, MethodFace, cutoff)
	rec, err := scanRecord(row)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	return rec, err
}

// FindByUserDate returns the user's record for a day, or nil.
func (r *Repository) FindByUserDate(ctx context.Context, userID, date string) (*Record, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = $1 AND date = $2
		ORDER BY time_in ASC LIMIT 1
	`), userID, date)
	rec, err := scanRecord(row)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	return rec, err
}

// FindByUserSession returns the user's record for a session, or nil.
func (r *Repository) FindByUserSession(ctx context.Context, userID, sessionID string) (*Record, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = $1 AND session_id = $2
		ORDER BY time_in ASC LIMIT 1
	`), userID, sessionID)
	rec, err := scanRecord(row)
	if errs.Is(err, errs.KindNotFound) {
		return nil, nil
	}
	return rec, err
}

// UpdateStatus replaces a record's status and method (administrative override).
func (r *Repository) UpdateStatus(ctx context.Context, recordID, status, method string) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE attendance_records SET status = $1, method = $2 WHERE id = $3
	`), status, method, recordID)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "attendance update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "attendance record not found")
	}
	return nil
}

// Get returns a record by id.
func (r *Repository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`), id)
	return scanRecord(row)
}

// ListByUser returns a user's records inside the date range, newest first.
// Empty bounds are open.
func (r *Repository) ListByUser(ctx context.Context, userID, from, to string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE user_id = $1`
	args := []any{userID}
	if from != "" {
		args = append(args, from)
		query += ` AND date >= $` + itoa(len(args))
	}
	if to != "" {
		args = append(args, to)
		query += ` AND date <= $` + itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY date DESC, time_in DESC LIMIT $` + itoa(len(args))

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "attendance query failed", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// StatusesSince returns the user's statuses from the cutoff onward, oldest
// first. Feeds the pattern detector.
func (r *Repository) StatusesSince(ctx context.Context, userID string, since time.Time) ([]string, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT status FROM attendance_records
		WHERE user_id = $1 AND date >= $2
		ORDER BY date ASC, time_in ASC
	`), userID, since.Format(DateLayout))
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "status history query failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errs.Wrap(errs.KindSystem, "status scan failed", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Tally counts the user's records in [from, to] and how many of them count
// as attended (present or late).
func (r *Repository) Tally(ctx context.Context, userID, from, to string) (total, attended int, err error) {
	err = r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status IN ('present', 'late') THEN 1 ELSE 0 END), 0)
		FROM attendance_records
		WHERE user_id = $1 AND date >= $2 AND date <= $3
	`), userID, from, to).Scan(&total, &attended)
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindSystem, "attendance tally failed", err)
	}
	return total, attended, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	rec, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "attendance record not found")
	}
	return rec, err
}

func scanRecordRows(rows *sql.Rows) (*Record, error) {
	return scanRow(rows)
}

func scanRow(s rowScanner) (*Record, error) {
	var rec Record
	var geo, device sql.NullString
	err := s.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.TimeIn, &rec.TimeOut,
		&rec.Status, &rec.Confidence, &geo, &device, &rec.Method, &rec.SessionID, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindSystem, "attendance scan failed", err)
	}
	rec.Geo = geo.String
	rec.DeviceInfo = device.String
	return &rec, nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
