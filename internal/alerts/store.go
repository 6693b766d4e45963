package alerts

import (
	"sync"
	"time"

	"vitalguard/internal/model"
)

// Store is the bounded in-memory alert history. Alerts at critical
// severity or above persist until acknowledged; eviction skips them while
// any lower-severity alert remains to evict.
type Store struct {
	mu    sync.RWMutex
	buf   []model.HealthAlert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.HealthAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	idx := s.evictIndex()
	copy(s.buf[idx:], s.buf[idx+1:])
	s.buf[len(s.buf)-1] = alert
}

// evictIndex picks the oldest alert that is either below critical severity
// or already acknowledged; if none qualifies the oldest overall goes.
func (s *Store) evictIndex() int {
	for i, a := range s.buf {
		if a.Severity == model.SeverityInfo || a.Severity == model.SeverityWarning || !a.AcknowledgedAt.IsZero() {
			return i
		}
	}
	return 0
}

func (s *Store) Acknowledge(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.buf {
		if s.buf[i].ID == id {
			s.buf[i].AcknowledgedAt = now
			return true
		}
	}
	return false
}

func (s *Store) List(limit int) []model.HealthAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.HealthAlert, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Unacknowledged() []model.HealthAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.HealthAlert, 0)
	for _, a := range s.buf {
		if a.AcknowledgedAt.IsZero() {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
