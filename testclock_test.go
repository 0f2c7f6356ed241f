package iceconn

import "time"

// fakeClock is a deterministic Clock double for tests, grounded on
// internal/server/server_test.go's listenUDP/do style of small free
// helpers rather than a mocking framework: Advance fires due timers
// synchronously, in the order they were scheduled, so retransmission and
// timeout tests never depend on wall-clock sleeps.
type fakeClock struct {
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	fireAt  time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{fireAt: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the clock forward by d, firing every non-stopped timer due
// at or before the new time, in scheduling order. A callback that
// schedules another timer via AfterFunc only fires on a later Advance,
// the same one-pass-per-call behavior a real clock has.
func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	due := append([]*fakeTimer(nil), c.pending...)
	for _, t := range due {
		if t.stopped || t.fireAt.After(c.now) {
			continue
		}
		t.stopped = true
		t.f()
	}
}
