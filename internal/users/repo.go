package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/errs"
	"faceattend/internal/store"
)

// Repository persists users and their encrypted templates.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if !u.IsActive {
		u.IsActive = true
	}
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO users (id, name, email, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "user insert failed", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, role, is_active, face_template, face_enrolled_at, created_at, updated_at`

// Get returns a user by id.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE id = $1`), id)
	return scanUser(row)
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE email = $1`), email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var template []byte
	var enrolledAt sql.NullTime
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive,
		&template, &enrolledAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "user query failed", err)
	}
	u.FaceTemplate = template
	if enrolledAt.Valid {
		t := enrolledAt.Time
		u.FaceEnrolledAt = &t
	}
	return &u, nil
}

// SaveTemplate stores a freshly encrypted template blob, replacing any prior
// enrollment for the user.
func (r *Repository) SaveTemplate(ctx context.Context, userID string, blob []byte) error {
	now := time.Now().UTC()
	res, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET face_template = $1, face_enrolled_at = $2, updated_at = $3 WHERE id = $4
	`), blob, now, now, userID)
	if err != nil {
		return errs.Wrap(errs.KindSystem, "template save failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "user not found")
	}
	return nil
}

// EnrolledTemplate pairs a user id with their encrypted template blob.
type EnrolledTemplate struct {
	UserID string
	Blob   []byte
}

// ListEnrolled returns the encrypted templates of every active enrolled user,
// ordered by user id so identification scans are deterministic.
func (r *Repository) ListEnrolled(ctx context.Context) ([]EnrolledTemplate, error) {
	rows, err := r.db.Client.QueryContext(ctx, r.db.Rebind(`
		SELECT id, face_template FROM users
		WHERE face_template IS NOT NULL AND is_active = $1
		ORDER BY id
	`), true)
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "enrolled templates query failed", err)
	}
	defer rows.Close()

	var out []EnrolledTemplate
	for rows.Next() {
		var t EnrolledTemplate
		if err := rows.Scan(&t.UserID, &t.Blob); err != nil {
			return nil, errs.Wrap(errs.KindSystem, "enrolled template scan failed", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountActive returns the number of active users, used for the stop-session
// absent count.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.Client.QueryRowContext(ctx, r.db.Rebind(
		`SELECT COUNT(*) FROM users WHERE is_active = $1 AND role = $2`), true, RoleStudent).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(errs.KindSystem, "user count failed", err)
	}
	return n, nil
}
