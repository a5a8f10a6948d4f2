// Package rto provides the single retransmission timer used by the sender.
package rto

import "time"

// Timer is a restartable one-shot countdown. It is not safe for concurrent use;
// it is owned by the loop that polls it.
type Timer struct {
	// Now returns the current time. Replaced in tests.
	Now func() time.Time

	duration time.Duration
	deadline time.Time
	running  bool
}

// New creates a stopped Timer that expires d after each Start.
func New(d time.Duration) *Timer {
	return &Timer{Now: time.Now, duration: d}
}

// Duration returns the countdown length.
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Start (re)arms the timer. A pending expiry that was never observed is discarded.
func (t *Timer) Start() {
	t.deadline = t.Now().Add(t.duration)
	t.running = true
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.running = false
}

// Running reports whether the timer is armed and has not been observed expired.
func (t *Timer) Running() bool {
	return t.running
}

// Deadline returns the time at which an armed timer expires.
func (t *Timer) Deadline() (time.Time, bool) {
	return t.deadline, t.running
}

// Expired reports whether the armed countdown has elapsed. A true result
// disarms the timer, so each arming reports expiry at most once.
func (t *Timer) Expired() bool {
	if !t.running || t.Now().Before(t.deadline) {
		return false
	}
	t.running = false
	return true
}
