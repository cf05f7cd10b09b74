package valve

import "time"

// SetClock replaces the wake-up throttle clock.
func (s *Session) SetClock(now func() time.Time) {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	s.now = now
}
