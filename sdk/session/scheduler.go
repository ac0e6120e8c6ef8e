package session

import (
	"sync"
	"time"
)

// refreshScheduler arms at most one pending proactive refresh. Re-arming
// replaces the previous timer rather than stacking a second one.
type refreshScheduler struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Arm schedules fn after d, cancelling any previously armed timer first.
// A non-positive d fires immediately.
func (s *refreshScheduler) Arm(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if d < 0 {
		d = 0
	}
	s.timer = time.AfterFunc(d, fn)
}

// Cancel stops the pending timer, if any. An already fired timer is a
// no-op.
func (s *refreshScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
