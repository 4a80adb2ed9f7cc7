package session

import (
	"context"
	"testing"
	"time"

	"faceattend/internal/errs"
)

type fakeRepo struct {
	sessions map[string]*Session
	active   string
	present  int
	late     int
	total    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*Session)}
}

func (f *fakeRepo) Active(ctx context.Context) (*Session, error) {
	if f.active == "" {
		return nil, nil
	}
	s := *f.sessions[f.active]
	return &s, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "session not found")
	}
	copied := *s
	return &copied, nil
}

func (f *fakeRepo) Insert(ctx context.Context, s *Session) error {
	f.sessions[s.ID] = s
	f.active = s.ID
	return nil
}

func (f *fakeRepo) Close(ctx context.Context, id string, end time.Time) error {
	s := f.sessions[id]
	s.Active = false
	s.EndTime = &end
	f.active = ""
	return nil
}

func (f *fakeRepo) StatusCounts(ctx context.Context, sessionID string) (int, int, int, error) {
	return f.present, f.late, f.total, nil
}

type fakeRoster int

func (f fakeRoster) CountActive(ctx context.Context) (int, error) { return int(f), nil }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStartSession(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, 0, fixedClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)), nil)

	s, err := m.Start(context.Background(), "staff-1", "CS101", "algorithms", 20*time.Minute)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.Active {
		t.Fatal("new session must be active")
	}
	if s.LateThresholdMinutes != 20 {
		t.Fatalf("late threshold = %d, want 20", s.LateThresholdMinutes)
	}
}

func TestStartSecondSessionConflicts(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, 0, nil, nil)

	if _, err := m.Start(context.Background(), "staff-1", "CS101", "", 0); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := m.Start(context.Background(), "staff-2", "CS102", "", 0)
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestStartValidation(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, 0, nil, nil)
	if _, err := m.Start(context.Background(), "", "CS101", "", 0); errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("want validation error for empty staff id, got %v", err)
	}
	if _, err := m.Start(context.Background(), "staff-1", "", "", 0); errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("want validation error for empty class, got %v", err)
	}
}

func TestStartDefaultsLateThreshold(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, 0, nil, nil)
	s, err := m.Start(context.Background(), "staff-1", "CS101", "", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.LateThresholdMinutes != 15 {
		t.Fatalf("late threshold = %d, want default 15", s.LateThresholdMinutes)
	}
}

func TestStartUsesConfiguredDefault(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, 25*time.Minute, nil, nil)
	s, err := m.Start(context.Background(), "staff-1", "CS101", "", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.LateThresholdMinutes != 25 {
		t.Fatalf("late threshold = %d, want configured 25", s.LateThresholdMinutes)
	}

	// An explicit per-session threshold still wins.
	if _, err := m.Stop(context.Background(), s.ID, "staff-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	s2, err := m.Start(context.Background(), "staff-1", "CS101", "", 40*time.Minute)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s2.LateThresholdMinutes != 40 {
		t.Fatalf("late threshold = %d, want explicit 40", s2.LateThresholdMinutes)
	}
}

func TestStopByNonOwner(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, 0, nil, nil)
	s, err := m.Start(context.Background(), "staff-1", "CS101", "", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = m.Stop(context.Background(), s.ID, "staff-2")
	if errs.KindOf(err) != errs.KindAuthorization {
		t.Fatalf("want authorization error, got %v", err)
	}
	if active, _ := m.Active(context.Background()); active == nil {
		t.Fatal("session must stay active after denied stop")
	}
}

func TestStopAlreadyStopped(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, 0, nil, nil)
	s, err := m.Start(context.Background(), "staff-1", "CS101", "", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Stop(context.Background(), s.ID, "staff-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	_, err = m.Stop(context.Background(), s.ID, "staff-1")
	if errs.KindOf(err) != errs.KindConflict {
		t.Fatalf("want conflict for second stop, got %v", err)
	}
}

func TestStopSummaryCounts(t *testing.T) {
	repo := newFakeRepo()
	repo.present, repo.late, repo.total = 12, 3, 15
	m := NewManager(repo, fakeRoster(20), 0, nil, nil)

	s, err := m.Start(context.Background(), "staff-1", "CS101", "", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	summary, err := m.Stop(context.Background(), s.ID, "staff-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if summary.Present != 12 || summary.Late != 3 || summary.Total != 15 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Absent != 5 {
		t.Fatalf("absent = %d, want enrolled minus marked = 5", summary.Absent)
	}
}

func TestStopUnknownSession(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, 0, nil, nil)
	_, err := m.Stop(context.Background(), "missing", "staff-1")
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestStartAllowedAfterStop(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, 0, nil, nil)
	s, err := m.Start(context.Background(), "staff-1", "CS101", "", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Stop(context.Background(), s.ID, "staff-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := m.Start(context.Background(), "staff-1", "CS102", "", 0); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}
