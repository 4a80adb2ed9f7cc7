package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	patternLookbackDays = 30
	patternWindow       = 10
	patternMinRecords   = 10
	patternOldMax       = 0.5

	escalateWindow = 24 * time.Hour
	escalateAfter  = 3
)

// AlertSink persists alerts and reports recent per-user volume.
type AlertSink interface {
	Insert(ctx context.Context, alert *Alert) error
	CountByUserSince(ctx context.Context, userID, alertType string, since time.Time) (int, error)
}

// History exposes a user's attendance statuses over a lookback window,
// ordered oldest first.
type History interface {
	StatusesSince(ctx context.Context, userID string, since time.Time) ([]string, error)
}

// Counter receives one increment per raised alert, labeled by type.
type Counter interface {
	AlertRaised(alertType string)
}

// Detector raises and records fraud alerts.
type Detector struct {
	sink    AlertSink
	history History
	ring    *Ring
	counter Counter
	clock   func() time.Time
	logger  *slog.Logger
}

// NewDetector wires a detector. ring, counter and logger may be nil.
func NewDetector(sink AlertSink, history History, ring *Ring, counter Counter, clock func() time.Time, logger *slog.Logger) *Detector {
	if clock == nil {
		clock = time.Now
	}
	return &Detector{sink: sink, history: history, ring: ring, counter: counter, clock: clock, logger: logger}
}

// Raise persists a new alert and mirrors it into the recent ring. A user who
// accumulated several alerts of the same type over the last day is escalated
// to high severity.
func (d *Detector) Raise(ctx context.Context, userID, alertType, description, severity string) (*Alert, error) {
	if severity != SeverityHigh && severity != SeverityCritical {
		since := d.clock().UTC().Add(-escalateWindow)
		n, err := d.sink.CountByUserSince(ctx, userID, alertType, since)
		if err != nil {
			if d.logger != nil {
				d.logger.Error("alert count failed", "user_id", userID, "err", err)
			}
		} else if n >= escalateAfter {
			severity = SeverityHigh
		}
	}

	alert := &Alert{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        alertType,
		Description: description,
		Severity:    severity,
		CreatedAt:   d.clock().UTC(),
	}
	if err := d.sink.Insert(ctx, alert); err != nil {
		return nil, err
	}
	if d.ring != nil {
		d.ring.Add(*alert)
	}
	if d.counter != nil {
		d.counter.AlertRaised(alertType)
	}
	if d.logger != nil {
		d.logger.Warn("fraud alert raised",
			"user_id", userID, "type", alertType, "severity", severity, "description", description)
	}
	return alert, nil
}

// Recent returns the newest alerts from the in-memory ring, oldest first, so
// dashboards can poll without a database round trip.
func (d *Detector) Recent(limit int) []Alert {
	if d.ring == nil {
		return nil
	}
	return d.ring.Recent(limit)
}

// CheckPattern inspects the user's last 30 days of records for a suspicious
// jump: poor attendance (present-or-late ratio below 0.5 over the preceding
// ten records) followed by a perfect recent ten. Fewer than ten records in
// the window means not enough data and no alert. This is a heuristic, not a
// statistical test.
func (d *Detector) CheckPattern(ctx context.Context, userID string) (*Alert, error) {
	since := d.clock().UTC().AddDate(0, 0, -patternLookbackDays)
	statuses, err := d.history.StatusesSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(statuses) < patternMinRecords {
		return nil, nil
	}

	recent := statuses[len(statuses)-patternWindow:]
	if len(statuses) < 2*patternWindow {
		return nil, nil
	}
	older := statuses[len(statuses)-2*patternWindow : len(statuses)-patternWindow]

	oldRatio := attendedRatio(older)
	newRatio := attendedRatio(recent)
	if oldRatio < patternOldMax && newRatio == 1.0 {
		desc := fmt.Sprintf("sudden change in attendance pattern: %.0f%% to %.0f%%", oldRatio*100, newRatio*100)
		return d.Raise(ctx, userID, TypeUnusualPattern, desc, SeverityMedium)
	}
	return nil, nil
}

func attendedRatio(statuses []string) float64 {
	if len(statuses) == 0 {
		return 0
	}
	var attended int
	for _, s := range statuses {
		if s == "present" || s == "late" {
			attended++
		}
	}
	return float64(attended) / float64(len(statuses))
}
