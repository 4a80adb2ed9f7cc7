// Package session owns the attendance-session lifecycle. The system-wide
// invariant is that at most one session is active at any instant; Start and
// Stop are the only transitions.
package session

import "time"

// Session is a bounded window during which attendance can be marked.
// Immutable once closed.
type Session struct {
	ID                   string     `json:"session_id"`
	StaffID              string     `json:"staff_id"`
	ClassName            string     `json:"class_name"`
	Subject              string     `json:"subject,omitempty"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	Active               bool       `json:"active"`
	LateThresholdMinutes int        `json:"late_threshold_minutes"`
	CreatedAt            time.Time  `json:"created_at"`
}

// LateThreshold returns the threshold as a duration.
func (s *Session) LateThreshold() time.Duration {
	return time.Duration(s.LateThresholdMinutes) * time.Minute
}

// Summary reports per-status counts for a closed session. Absent is the
// active roster size minus everyone who marked.
type Summary struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}
