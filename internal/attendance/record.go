package attendance

import "time"

// Statuses.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

// Marking methods.
const (
	MethodFace   = "face"
	MethodManual = "manual"
)

// DateLayout is the canonical day key used for cooldown and override lookups.
const DateLayout = "2006-01-02"

// Record is one attendance mark. Immutable after creation except for the
// administrative override, which replaces status and method.
type Record struct {
	ID         string     `json:"attendance_id"`
	UserID     string     `json:"user_id"`
	Date       string     `json:"date"`
	TimeIn     time.Time  `json:"time_in"`
	TimeOut    *time.Time `json:"time_out,omitempty"`
	Status     string     `json:"status"`
	Confidence *float64   `json:"confidence,omitempty"`
	Geo        string     `json:"geo_location,omitempty"`
	DeviceInfo string     `json:"device_info,omitempty"`
	Method     string     `json:"method"`
	SessionID  *string    `json:"session_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ValidStatus reports whether s is a known attendance status.
func ValidStatus(s string) bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}
