package wordimpact

import "time"

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped the
	// timer before it fired.
	Stop() bool
}

// Scheduler runs callbacks after a delay. All timers of the realtime layer
// (reconnect, liveness, debounce) go through one Scheduler so a test can
// account for every pending timer.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler is the wall-clock scheduler.
var SystemScheduler Scheduler = realScheduler{}
