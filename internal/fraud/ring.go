package fraud

import "sync"

// Ring is a bounded in-memory buffer of recent alerts, so the dashboard can
// poll without touching the database.
type Ring struct {
	mu    sync.RWMutex
	buf   []Alert
	limit int
}

// NewRing builds a ring holding at most limit alerts.
func NewRing(limit int) *Ring {
	if limit <= 0 {
		limit = 1000
	}
	return &Ring{limit: limit}
}

// Add appends an alert, evicting the oldest when full.
func (r *Ring) Add(alert Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, alert)
		return
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = alert
}

// Recent returns up to limit of the newest alerts, oldest first.
func (r *Ring) Recent(limit int) []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	out := make([]Alert, limit)
	copy(out, r.buf[len(r.buf)-limit:])
	return out
}
