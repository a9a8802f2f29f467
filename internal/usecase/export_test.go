package usecase

import "time"

// SetClock overrides the tracker's wall clock. Call before Start.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeNow = now
}
