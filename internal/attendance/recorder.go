package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"faceattend/internal/errs"
	"faceattend/internal/face"
	"faceattend/internal/fraud"
	"faceattend/internal/session"
	"faceattend/internal/store"
	"faceattend/internal/users"
)

// Records is the persistence surface the recorder needs.
type Records interface {
	Insert(ctx context.Context, rec *Record) error
	RecentFaceMark(ctx context.Context, userID, date string, cutoff time.Time) (*Record, error)
	FindByUserDate(ctx context.Context, userID, date string) (*Record, error)
	FindByUserSession(ctx context.Context, userID, sessionID string) (*Record, error)
	UpdateStatus(ctx context.Context, recordID, status, method string) error
	Tally(ctx context.Context, userID, from, to string) (total, attended int, err error)
}

// Sessions reads the active session slot.
type Sessions interface {
	Active(ctx context.Context) (*session.Session, error)
}

// Directory resolves users.
type Directory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// AlertRaiser records fraud alerts on violation paths.
type AlertRaiser interface {
	Raise(ctx context.Context, userID, alertType, description, severity string) (*fraud.Alert, error)
}

// Extractor produces a descriptor from a live image.
type Extractor interface {
	Extract(image []byte) (*face.Capture, error)
}

// Verifier runs the 1:1 dual-threshold comparison.
type Verifier interface {
	Verify(live, stored face.Descriptor) (bool, float64)
}

// Cipher decrypts stored templates.
type Cipher interface {
	Decrypt(blob []byte) (face.Descriptor, error)
}

// Notifier receives successful marks, fire-and-forget.
type Notifier interface {
	AttendanceMarked(ctx context.Context, rec *Record)
}

// Observer counts marks for monitoring.
type Observer interface {
	Marked(status string)
}

// Recorder turns match results into attendance records while guarding against
// duplicates, session-boundary races, and mismatches.
type Recorder struct {
	records   Records
	sessions  Sessions
	directory Directory
	alerts    AlertRaiser
	extractor Extractor
	verifier  Verifier
	cipher    Cipher
	notifier  Notifier
	observer  Observer
	locks     store.Locker
	cooldown  time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

// RecorderOpts collects the recorder's collaborators.
type RecorderOpts struct {
	Records   Records
	Sessions  Sessions
	Directory Directory
	Alerts    AlertRaiser
	Extractor Extractor
	Verifier  Verifier
	Cipher    Cipher
	Notifier  Notifier
	Observer  Observer
	Locks     store.Locker
	Cooldown  time.Duration
	Clock     func() time.Time
	Logger    *slog.Logger
}

// NewRecorder wires a recorder. Notifier, Observer and Logger may be nil;
// Clock defaults to time.Now and Cooldown to one hour.
func NewRecorder(opts RecorderOpts) *Recorder {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Hour
	}
	if opts.Locks == nil {
		opts.Locks = store.NewKeyedMutex()
	}
	return &Recorder{
		records:   opts.Records,
		sessions:  opts.Sessions,
		directory: opts.Directory,
		alerts:    opts.Alerts,
		extractor: opts.Extractor,
		verifier:  opts.Verifier,
		cipher:    opts.Cipher,
		notifier:  opts.Notifier,
		observer:  opts.Observer,
		locks:     opts.Locks,
		cooldown:  opts.Cooldown,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Mark verifies the live image against the user's template and persists an
// attendance record for the active session. Violations raise fraud alerts as
// a side effect; the caller still receives the original typed error.
func (r *Recorder) Mark(ctx context.Context, userID string, image []byte, geo, device string) (*Record, error) {
	user, err := r.directory.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Enrolled() {
		return nil, errs.E(errs.KindValidation, "no face template enrolled, register your face first")
	}

	sess, err := r.sessions.Active(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errs.E(errs.KindConflict, "no active attendance session")
	}

	// The cooldown check and the insert must be atomic per user; everything
	// from here to the insert runs under the user's lock.
	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "user lock failed", err)
	}
	defer unlock()

	now := r.clock().UTC()
	date := now.Format(DateLayout)
	recent, err := r.records.RecentFaceMark(ctx, userID, date, now.Add(-r.cooldown))
	if err != nil {
		return nil, err
	}
	if recent != nil {
		r.raiseAlert(ctx, userID, fraud.TypeDuplicate,
			"duplicate attendance attempt within cooldown period", fraud.SeverityMedium)
		return nil, errs.E(errs.KindConflict, "attendance already marked within the cooldown window")
	}

	capture, err := r.extractor.Extract(image)
	if err != nil {
		return nil, err
	}
	stored, err := r.cipher.Decrypt(user.FaceTemplate)
	if err != nil {
		return nil, err
	}

	isMatch, confidence := r.verifier.Verify(capture.Descriptor, stored)
	if !isMatch {
		r.raiseAlert(ctx, userID, fraud.TypeMismatch,
			"face mismatch detected, confidence "+formatConfidence(confidence), fraud.SeverityHigh)
		return nil, errs.Ef(errs.KindAuthentication,
			"face verification failed, confidence %s", formatConfidence(confidence))
	}

	// Strict greater-than: a mark exactly at the threshold is present.
	status := StatusPresent
	if now.Sub(sess.StartTime) > sess.LateThreshold() {
		status = StatusLate
	}

	rec := &Record{
		UserID:     userID,
		Date:       date,
		TimeIn:     now,
		Status:     status,
		Confidence: &confidence,
		Geo:        geo,
		DeviceInfo: device,
		Method:     MethodFace,
		SessionID:  &sess.ID,
		CreatedAt:  now,
	}
	if err := r.records.Insert(ctx, rec); err != nil {
		return nil, err
	}

	if r.observer != nil {
		r.observer.Marked(status)
	}
	if r.notifier != nil {
		r.notifier.AttendanceMarked(ctx, rec)
	}
	if r.logger != nil {
		r.logger.Info("attendance marked",
			"user_id", userID, "status", status, "confidence", confidence, "session_id", sess.ID)
	}
	return rec, nil
}

// Override manually sets a user's attendance (administrative action). When a
// record already exists for the same session, or the same day when no session
// is given, its status and method are replaced; otherwise a fresh manual
// record is inserted with no confidence.
func (r *Recorder) Override(ctx context.Context, adminID, userID, status string, date *time.Time, sessionID *string) (*Record, error) {
	if !ValidStatus(status) {
		return nil, errs.Ef(errs.KindValidation, "invalid status %q", status)
	}
	if _, err := r.directory.Get(ctx, userID); err != nil {
		return nil, err
	}

	now := r.clock().UTC()
	day := now
	if date != nil {
		day = date.UTC()
	}
	dayKey := day.Format(DateLayout)

	unlock, err := r.locks.Lock(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "user lock failed", err)
	}
	defer unlock()

	var existing *Record
	if sessionID != nil {
		existing, err = r.records.FindByUserSession(ctx, userID, *sessionID)
	} else {
		existing, err = r.records.FindByUserDate(ctx, userID, dayKey)
	}
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := r.records.UpdateStatus(ctx, existing.ID, status, MethodManual); err != nil {
			return nil, err
		}
		existing.Status = status
		existing.Method = MethodManual
		if r.logger != nil {
			r.logger.Info("attendance overridden",
				"admin_id", adminID, "user_id", userID, "status", status, "record_id", existing.ID)
		}
		return existing, nil
	}

	rec := &Record{
		UserID:    userID,
		Date:      dayKey,
		TimeIn:    time.Date(day.Year(), day.Month(), day.Day(), now.Hour(), now.Minute(), now.Second(), 0, time.UTC),
		Status:    status,
		Method:    MethodManual,
		SessionID: sessionID,
		CreatedAt: now,
	}
	if err := r.records.Insert(ctx, rec); err != nil {
		return nil, err
	}
	if r.observer != nil {
		r.observer.Marked(status)
	}
	if r.logger != nil {
		r.logger.Info("attendance manually marked",
			"admin_id", adminID, "user_id", userID, "status", status, "record_id", rec.ID)
	}
	return rec, nil
}

// TodayStatus reports the user's status for today, absent when unmarked.
func (r *Recorder) TodayStatus(ctx context.Context, userID string) (*Record, string, error) {
	rec, err := r.records.FindByUserDate(ctx, userID, r.clock().UTC().Format(DateLayout))
	if err != nil {
		return nil, "", err
	}
	if rec == nil {
		return nil, StatusAbsent, nil
	}
	return rec, rec.Status, nil
}

// Percentage computes the user's present-or-late share over a date range,
// in [0,100]. Zero records yields zero.
func (r *Recorder) Percentage(ctx context.Context, userID, from, to string) (float64, error) {
	total, attended, err := r.records.Tally(ctx, userID, from, to)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(attended) / float64(total) * 100, nil
}

func (r *Recorder) raiseAlert(ctx context.Context, userID, alertType, description, severity string) {
	if r.alerts == nil {
		return
	}
	if _, err := r.alerts.Raise(ctx, userID, alertType, description, severity); err != nil && r.logger != nil {
		// Alert persistence failure must not mask the primary violation.
		r.logger.Error("fraud alert persist failed", "user_id", userID, "type", alertType, "err", err)
	}
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.2f", c)
}
