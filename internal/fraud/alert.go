// Package fraud derives alerts from duplicate attempts, failed matches, and
// longitudinal attendance-pattern anomalies. Alerts are a side effect of the
// failure paths, never themselves errors.
package fraud

import "time"

// Alert types.
const (
	TypeDuplicate      = "duplicate"
	TypeMismatch       = "mismatch"
	TypeUnusualPattern = "unusual_pattern"
)

// Severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is a flagged anomalous event requiring human review.
type Alert struct {
	ID          string     `json:"alert_id"`
	UserID      string     `json:"user_id"`
	Type        string     `json:"alert_type"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	Resolved    bool       `json:"resolved"`
	ResolvedBy  *string    `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
