package users

import "time"

// Roles recognised by the platform.
const (
	RoleStudent = "student"
	RoleStaff   = "staff"
	RoleAdmin   = "admin"
)

// User is an enrolled individual. FaceTemplate holds the encrypted descriptor
// blob and is nil until the user enrolls a face.
type User struct {
	ID             string     `json:"user_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	FaceTemplate   []byte     `json:"-"`
	FaceEnrolledAt *time.Time `json:"face_enrolled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Enrolled reports whether the user has a biometric template on file.
func (u *User) Enrolled() bool {
	return len(u.FaceTemplate) > 0
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleStudent || role == RoleStaff || role == RoleAdmin
}
