// Package clock abstracts timers so that debounce and polling behavior can
// be driven deterministically in tests.
//
// Production code takes a Clock (usually Real()). Tests use Fake(), whose
// time only moves when Advance is called. AfterFunc callbacks registered on
// a fake clock run synchronously inside Advance, in deadline order.
package clock

import "time"

// Clock is the subset of the time package used by the editor runtime.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer can cancel
	// the call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable pending call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer; false means it already fired or was stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stopFunc: timer.Stop}
}
