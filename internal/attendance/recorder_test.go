package attendance

import (
	"context"
	"strings"
	"testing"
	"time"

	"faceattend/internal/errs"
	"faceattend/internal/face"
	"faceattend/internal/fraud"
	"faceattend/internal/session"
	"faceattend/internal/users"
)

type fakeRecords struct {
	records []*Record
}

func (f *fakeRecords) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = "rec-" + itoa(len(f.records)+1)
	}
	copied := *rec
	f.records = append(f.records, &copied)
	return nil
}

func (f *fakeRecords) RecentFaceMark(ctx context.Context, userID, date string, cutoff time.Time) (*Record, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.UserID == userID && r.Date == date && r.Method == MethodFace && !r.TimeIn.Before(cutoff) {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) FindByUserDate(ctx context.Context, userID, date string) (*Record, error) {
	for _, r := range f.records {
		if r.UserID == userID && r.Date == date {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) FindByUserSession(ctx context.Context, userID, sessionID string) (*Record, error) {
	for _, r := range f.records {
		if r.UserID == userID && r.SessionID != nil && *r.SessionID == sessionID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) UpdateStatus(ctx context.Context, recordID, status, method string) error {
	for _, r := range f.records {
		if r.ID == recordID {
			r.Status = status
			r.Method = method
			return nil
		}
	}
	return errs.E(errs.KindNotFound, "attendance record not found")
}

func (f *fakeRecords) Tally(ctx context.Context, userID, from, to string) (int, int, error) {
	var total, attended int
	for _, r := range f.records {
		if r.UserID != userID || r.Date < from || r.Date > to {
			continue
		}
		total++
		if r.Status == StatusPresent || r.Status == StatusLate {
			attended++
		}
	}
	return total, attended, nil
}

type fakeSessions struct {
	active *session.Session
}

func (f *fakeSessions) Active(ctx context.Context) (*session.Session, error) {
	if f.active == nil {
		return nil, nil
	}
	copied := *f.active
	return &copied, nil
}

type fakeDirectory map[string]*users.User

func (f fakeDirectory) Get(ctx context.Context, id string) (*users.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "user not found")
	}
	copied := *u
	return &copied, nil
}

type fakeAlerts struct {
	raised []fraud.Alert
}

func (f *fakeAlerts) Raise(ctx context.Context, userID, alertType, description, severity string) (*fraud.Alert, error) {
	a := fraud.Alert{UserID: userID, Type: alertType, Description: description, Severity: severity}
	f.raised = append(f.raised, a)
	return &a, nil
}

type fakeExtractor struct {
	capture *face.Capture
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(image []byte) (*face.Capture, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.capture, nil
}

type fakeVerifier struct {
	match      bool
	confidence float64
}

func (f fakeVerifier) Verify(live, stored face.Descriptor) (bool, float64) {
	return f.match, f.confidence
}

type fakeCipher struct{}

func (fakeCipher) Decrypt(blob []byte) (face.Descriptor, error) {
	return make(face.Descriptor, face.Dim), nil
}

type harness struct {
	records   *fakeRecords
	sessions  *fakeSessions
	directory fakeDirectory
	alerts    *fakeAlerts
	extractor *fakeExtractor
	verifier  *fakeVerifier
	now       time.Time
	recorder  *Recorder
}

func enrolledUser(id string) *users.User {
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return &users.User{
		ID: id, Name: "Ada", Email: id + "@example.org", Role: users.RoleStudent,
		IsActive: true, FaceTemplate: []byte{1, 2, 3}, FaceEnrolledAt: &at,
	}
}

func newHarness() *harness {
	h := &harness{
		records:   &fakeRecords{},
		sessions:  &fakeSessions{},
		directory: fakeDirectory{"u1": enrolledUser("u1")},
		alerts:    &fakeAlerts{},
		extractor: &fakeExtractor{capture: &face.Capture{Descriptor: make(face.Descriptor, face.Dim), Quality: 80}},
		verifier:  &fakeVerifier{match: true, confidence: 0.92},
		now:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	h.sessions.active = &session.Session{
		ID: "sess-1", StaffID: "staff-1", ClassName: "CS101",
		StartTime: h.now, Active: true, LateThresholdMinutes: 15,
	}
	h.recorder = NewRecorder(RecorderOpts{
		Records:   h.records,
		Sessions:  h.sessions,
		Directory: h.directory,
		Alerts:    h.alerts,
		Extractor: h.extractor,
		Verifier:  h.verifier,
		Cipher:    fakeCipher{},
		Cooldown:  time.Hour,
		Clock:     func() time.Time { return h.now },
	})
	return h
}

func TestMarkPresent(t *testing.T) {
	h := newHarness()
	h.now = h.sessions.active.StartTime.Add(5 * time.Minute)

	rec, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "1.0,2.0", "kiosk")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.Status != StatusPresent {
		t.Fatalf("status = %q, want present", rec.Status)
	}
	if rec.Method != MethodFace {
		t.Fatalf("method = %q, want face", rec.Method)
	}
	if rec.Confidence == nil || *rec.Confidence != 0.92 {
		t.Fatalf("confidence = %v, want 0.92", rec.Confidence)
	}
	if rec.SessionID == nil || *rec.SessionID != "sess-1" {
		t.Fatalf("session id = %v, want sess-1", rec.SessionID)
	}
	if len(h.alerts.raised) != 0 {
		t.Fatalf("unexpected alerts: %+v", h.alerts.raised)
	}
}

func TestMarkExactlyAtThresholdIsPresent(t *testing.T) {
	h := newHarness()
	h.now = h.sessions.active.StartTime.Add(15 * time.Minute)

	rec, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", "")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.Status != StatusPresent {
		t.Fatalf("status = %q, marks exactly at the threshold are present", rec.Status)
	}
}

func TestMarkPastThresholdIsLate(t *testing.T) {
	h := newHarness()
	h.now = h.sessions.active.StartTime.Add(15*time.Minute + time.Second)

	rec, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", "")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.Status != StatusLate {
		t.Fatalf("status = %q, want late past the threshold", rec.Status)
	}
}

func TestMarkCooldownConflict(t *testing.T) {
	h := newHarness()
	if _, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", ""); err != nil {
		t.Fatalf("first mark: %v", err)
	}

	h.now = h.now.Add(30 * time.Minute)
	_, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", "")
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("want conflict, got %v", err)
	}
	if len(h.alerts.raised) != 1 {
		t.Fatalf("want exactly one duplicate alert, got %d", len(h.alerts.raised))
	}
	a := h.alerts.raised[0]
	if a.Type != fraud.TypeDuplicate || a.Severity != fraud.SeverityMedium {
		t.Fatalf("alert = %+v", a)
	}
	if len(h.records.records) != 1 {
		t.Fatalf("duplicate attempt must not insert, have %d records", len(h.records.records))
	}
}

func TestMarkAllowedAfterCooldown(t *testing.T) {
	h := newHarness()
	if _, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", ""); err != nil {
		t.Fatalf("first mark: %v", err)
	}

	h.now = h.now.Add(61 * time.Minute)
	if _, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", ""); err != nil {
		t.Fatalf("mark after cooldown: %v", err)
	}
}

func TestMarkMismatchRaisesAlert(t *testing.T) {
	h := newHarness()
	h.verifier.match = false
	h.verifier.confidence = 0.31

	_, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", "")
	if errs.KindOf(err) != errs.KindAuthentication {
		t.Fatalf("want authentication error, got %v", err)
	}
	if !strings.Contains(err.Error(), "0.31") {
		t.Fatalf("error must carry the confidence: %v", err)
	}
	if len(h.alerts.raised) != 1 {
		t.Fatalf("want one mismatch alert, got %d", len(h.alerts.raised))
	}
	a := h.alerts.raised[0]
	if a.Type != fraud.TypeMismatch || a.Severity != fraud.SeverityHigh {
		t.Fatalf("alert = %+v", a)
	}
	if len(h.records.records) != 0 {
		t.Fatal("mismatch must not insert a record")
	}
}

func TestMarkNoActiveSession(t *testing.T) {
	h := newHarness()
	h.sessions.active = nil

	_, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", "")
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("want conflict, got %v", err)
	}
	if h.extractor.calls != 0 {
		t.Fatal("extraction must not run without an active session")
	}
}

func TestMarkUnenrolledUser(t *testing.T) {
	h := newHarness()
	u := enrolledUser("u2")
	u.FaceTemplate = nil
	u.FaceEnrolledAt = nil
	h.directory["u2"] = u

	_, err := h.recorder.Mark(context.Background(), "u2", []byte("img"), "", "")
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestMarkUnknownUser(t *testing.T) {
	h := newHarness()
	_, err := h.recorder.Mark(context.Background(), "ghost", []byte("img"), "", "")
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestMarkExtractionErrorPropagates(t *testing.T) {
	h := newHarness()
	h.extractor.err = errs.E(errs.KindValidation, "no face detected in image")

	_, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", "")
	if err == nil || !strings.Contains(err.Error(), "no face detected") {
		t.Fatalf("want extraction error verbatim, got %v", err)
	}
}

func TestOverrideInsertsManualRecord(t *testing.T) {
	h := newHarness()
	rec, err := h.recorder.Override(context.Background(), "admin-1", "u1", StatusPresent, nil, nil)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if rec.Method != MethodManual {
		t.Fatalf("method = %q, want manual", rec.Method)
	}
	if rec.Confidence != nil {
		t.Fatal("manual records carry no confidence")
	}
	if rec.Date != h.now.Format(DateLayout) {
		t.Fatalf("date = %q, want today", rec.Date)
	}
}

func TestOverrideUpdatesExistingByDate(t *testing.T) {
	h := newHarness()
	if _, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", ""); err != nil {
		t.Fatalf("mark: %v", err)
	}

	rec, err := h.recorder.Override(context.Background(), "admin-1", "u1", StatusAbsent, nil, nil)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if rec.Status != StatusAbsent || rec.Method != MethodManual {
		t.Fatalf("record = %+v", rec)
	}
	if len(h.records.records) != 1 {
		t.Fatalf("override of an existing day must update in place, have %d records", len(h.records.records))
	}
	if h.records.records[0].Status != StatusAbsent {
		t.Fatalf("stored status = %q", h.records.records[0].Status)
	}
}

func TestOverrideUpdatesExistingBySession(t *testing.T) {
	h := newHarness()
	if _, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", ""); err != nil {
		t.Fatalf("mark: %v", err)
	}

	sessID := "sess-1"
	rec, err := h.recorder.Override(context.Background(), "admin-1", "u1", StatusLate, nil, &sessID)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if rec.Status != StatusLate {
		t.Fatalf("status = %q, want late", rec.Status)
	}
	if len(h.records.records) != 1 {
		t.Fatalf("have %d records, want 1", len(h.records.records))
	}
}

func TestOverridePastDate(t *testing.T) {
	h := newHarness()
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	rec, err := h.recorder.Override(context.Background(), "admin-1", "u1", StatusPresent, &day, nil)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if rec.Date != "2026-02-10" {
		t.Fatalf("date = %q, want 2026-02-10", rec.Date)
	}
}

func TestOverrideInvalidStatus(t *testing.T) {
	h := newHarness()
	_, err := h.recorder.Override(context.Background(), "admin-1", "u1", "vanished", nil, nil)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("want validation error, got %v", err)
	}
}

func TestTodayStatus(t *testing.T) {
	h := newHarness()
	if _, status, err := h.recorder.TodayStatus(context.Background(), "u1"); err != nil || status != StatusAbsent {
		t.Fatalf("unmarked user: status %q err %v, want absent", status, err)
	}

	if _, err := h.recorder.Mark(context.Background(), "u1", []byte("img"), "", ""); err != nil {
		t.Fatalf("mark: %v", err)
	}
	rec, status, err := h.recorder.TodayStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if rec == nil || status != StatusPresent {
		t.Fatalf("status = %q, want present with record", status)
	}
}

func TestPercentage(t *testing.T) {
	h := newHarness()
	insert := func(date, status string) {
		_ = h.records.Insert(context.Background(), &Record{UserID: "u1", Date: date, Status: status, Method: MethodManual})
	}
	insert("2026-03-01", StatusPresent)
	insert("2026-03-02", StatusLate)
	insert("2026-03-03", StatusAbsent)
	insert("2026-03-04", StatusAbsent)

	pct, err := h.recorder.Percentage(context.Background(), "u1", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("percentage: %v", err)
	}
	if pct != 50 {
		t.Fatalf("percentage = %v, want 50", pct)
	}
}

func TestPercentageNoRecords(t *testing.T) {
	h := newHarness()
	pct, err := h.recorder.Percentage(context.Background(), "u1", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("percentage: %v", err)
	}
	if pct != 0 {
		t.Fatalf("percentage = %v, want 0", pct)
	}
}
