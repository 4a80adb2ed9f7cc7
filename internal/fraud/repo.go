package fraud

import (
	"context"
	"fmt"
	"time"

	"faceattend/internal/errs"
	"faceattend/internal/store"
)

// Repository persists fraud alerts.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new alert row.
func (r *Repository) Insert(ctx context.Context, a *Alert) error {
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO fraud_alerts (id, user_id, alert_type, description, severity, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`), a.ID, a.UserID, a.Type, a.Description, a.Severity, a.Resolved, a.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "fraud alert insert failed", err)
	}
	return nil
}

// List returns alerts newest first, optionally including resolved ones.
func (r *Repository) List(ctx context.Context, limit int, includeResolved bool) ([]Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, user_id, alert_type, description, severity, resolved, resolved_by, resolved_at, created_at
		FROM fraud_alerts`
	args := []any{}
	if !includeResolved {
		query += ` WHERE resolved = $1`
		args = append(args, false)
	}
	query += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "fraud alert query failed", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var resolvedBy *string
		var resolvedAt *time.Time
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Description, &a.Severity,
			&a.Resolved, &resolvedBy, &resolvedAt, &a.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.KindSystem, "fraud alert scan failed", err)
		}
		a.ResolvedBy = resolvedBy
		a.ResolvedAt = resolvedAt
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByUserSince reports how many alerts of a type the user accumulated
// since the given time.
func (r *Repository) CountByUserSince(ctx context.Context, userID, alertType string, since time.Time) (int, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM fraud_alerts
		WHERE user_id = $1 AND alert_type = $2 AND created_at >= $3
	`), userID, alertType, since).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.KindSystem, "fraud alert count failed", err)
	}
	return n, nil
}

// Resolve marks an alert handled by an administrator.
func (r *Repository) Resolve(ctx context.Context, alertID, adminID string, at time.Time) error {
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE fraud_alerts SET resolved = $1, resolved_by = $2, resolved_at = $3
		WHERE id = $4 AND resolved = $5
	`), true, adminID, at, alertID, false)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "fraud alert resolve failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "alert not found or already resolved")
	}
	return nil
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
