package call

import "time"

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	// Stop cancels the callback. It reports whether the timer was still pending.
	Stop() bool
}

// Scheduler runs callbacks on the session's single scheduling context.
// Components never mutate their state from foreign goroutines; timers and
// network completions funnel back through the scheduler, so a stale timer can
// never fire into a newer state once its handle has been stopped.
type Scheduler interface {
	// AfterFunc runs fn on the scheduling context once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Post runs fn on the scheduling context as soon as possible.
	Post(fn func())
}

// stopTimer stops and clears a timer handle in place. Safe on nil handles.
func stopTimer(t *Timer) {
	if t == nil || *t == nil {
		return
	}
	(*t).Stop()
	*t = nil
}
