package connection

import "time"

// timer enters a "ringing" state once its duration has elapsed since the
// last reset. Pure elapsed-time checks, no goroutines, so the polling
// loop stays cooperative.
type timer struct {
	duration time.Duration
	target   time.Time
}

func newTimer(d time.Duration, now time.Time) timer {
	return timer{duration: d, target: now.Add(d)}
}

// newRingingTimer returns a timer that is already ringing.
func newRingingTimer(d time.Duration, now time.Time) timer {
	return timer{duration: d, target: now}
}

func (t *timer) reset(now time.Time) {
	t.target = now.Add(t.duration)
}

func (t *timer) ringing(now time.Time) bool {
	return !now.Before(t.target)
}

// tryReset reports whether the timer was ringing, resetting it if so.
func (t *timer) tryReset(now time.Time) bool {
	if !t.ringing(now) {
		return false
	}
	t.reset(now)
	return true
}
