package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/errs"
)

// Repo is the persistence surface the manager needs.
type Repo interface {
	Active(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Insert(ctx context.Context, s *Session) error
	Close(ctx context.Context, id string, end time.Time) error
	StatusCounts(ctx context.Context, sessionID string) (present, late, total int, err error)
}

// Roster reports how many users could have attended, for the absent count.
type Roster interface {
	CountActive(ctx context.Context) (int, error)
}

// Manager enforces the single-active-session invariant. The mutex makes the
// check-then-insert in Start atomic within this process; the partial unique
// index on sessions(active) is the cross-replica backstop.
type Manager struct {
	repo        Repo
	roster      Roster
	lateDefault time.Duration
	clock       func() time.Time
	logger      *slog.Logger

	mu sync.Mutex
}

// NewManager builds a manager. lateDefault applies when Start gets no
// threshold; zero falls back to 15 minutes. clock may be nil for time.Now.
func NewManager(repo Repo, roster Roster, lateDefault time.Duration, clock func() time.Time, logger *slog.Logger) *Manager {
	if lateDefault <= 0 {
		lateDefault = 15 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{repo: repo, roster: roster, lateDefault: lateDefault, clock: clock, logger: logger}
}

// Start opens a new session owned by staffID. Fails with a conflict when a
// session is already active.
func (m *Manager) Start(ctx context.Context, staffID, className, subject string, lateThreshold time.Duration) (*Session, error) {
	if staffID == "" || className == "" {
		return nil, errs.E(errs.KindValidation, "staff id and class name are required")
	}
	if lateThreshold <= 0 {
		lateThreshold = m.lateDefault
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if active, err := m.repo.Active(ctx); err != nil {
		return nil, err
	} else if active != nil {
		return nil, errs.E(errs.KindConflict, "an attendance session is already active")
	}

	now := m.clock().UTC()
	s := &Session{
		ID:                   uuid.NewString(),
		StaffID:              staffID,
		ClassName:            className,
		Subject:              subject,
		StartTime:            now,
		Active:               true,
		LateThresholdMinutes: int(lateThreshold / time.Minute),
		CreatedAt:            now,
	}
	if err := m.repo.Insert(ctx, s); err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info("session started", "session_id", s.ID, "staff_id", staffID, "class", className)
	}
	return s, nil
}

// Stop closes the session and returns its attendance summary. Only the owning
// staff member may stop a session, and a closed session stays closed.
func (m *Manager) Stop(ctx context.Context, sessionID, requesterID string) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.StaffID != requesterID {
		return nil, errs.E(errs.KindAuthorization, "not authorized to stop this session")
	}
	if !s.Active {
		return nil, errs.E(errs.KindConflict, "session is already stopped")
	}

	if err := m.repo.Close(ctx, sessionID, m.clock().UTC()); err != nil {
		return nil, err
	}

	present, late, total, err := m.repo.StatusCounts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Total: total, Present: present, Late: late}
	if m.roster != nil {
		if enrolled, err := m.roster.CountActive(ctx); err == nil && enrolled > total {
			summary.Absent = enrolled - total
		}
	}
	if m.logger != nil {
		m.logger.Info("session stopped", "session_id", sessionID,
			"present", summary.Present, "late", summary.Late, "absent", summary.Absent)
	}
	return summary, nil
}

// Active returns the currently active session, or nil when there is none.
// Pure read, no transition.
func (m *Manager) Active(ctx context.Context) (*Session, error) {
	return m.repo.Active(ctx)
}
