package iceconn

import (
	"testing"
	"time"
)

func TestWriteStateTrackerInitUntilConnectTimeout(t *testing.T) {
	created := time.Unix(0, 0)
	w := NewWriteStateTracker(created, WriteStateTimeouts{})
	state := w.Evaluate(created.Add(5*time.Second), 2, time.Time{})
	if state != WriteInit {
		t.Errorf("state = %s, want %s before ConnectFailures/ConnectTimeout are both met", state, WriteInit)
	}
}

func TestWriteStateTrackerConnectTimeout(t *testing.T) {
	created := time.Unix(0, 0)
	timeouts := DefaultWriteStateTimeouts()
	w := NewWriteStateTracker(created, timeouts)
	now := created.Add(timeouts.ConnectTimeout)
	state := w.Evaluate(now, timeouts.ConnectFailures, time.Time{})
	if state != WriteTimeout {
		t.Errorf("state = %s, want %s once ConnectFailures and ConnectTimeout are both met with no response ever received", state, WriteTimeout)
	}
}

func TestWriteStateTrackerUnreliable(t *testing.T) {
	created := time.Unix(0, 0)
	timeouts := DefaultWriteStateTimeouts()
	w := NewWriteStateTracker(created, timeouts)
	lastResponse := created.Add(time.Second)
	now := lastResponse.Add(timeouts.UnwritableTimeout)
	state := w.Evaluate(now, 1, lastResponse)
	if state != WriteUnreliable {
		t.Errorf("state = %s, want %s once UnwritableTimeout has elapsed since the last response", state, WriteUnreliable)
	}
}

func TestWriteStateTrackerWritable(t *testing.T) {
	created := time.Unix(0, 0)
	w := NewWriteStateTracker(created, WriteStateTimeouts{})
	lastResponse := created.Add(time.Second)
	state := w.Evaluate(lastResponse.Add(time.Millisecond), 0, lastResponse)
	if state != WriteWritable {
		t.Errorf("state = %s, want %s right after a response with no outstanding pings", state, WriteWritable)
	}
}

// TestWriteStateTrackerTimeoutDominatesUnreliable checks that when both
// the WRITE_TIMEOUT and WRITE_UNRELIABLE conditions hold simultaneously,
// WRITE_TIMEOUT wins.
func TestWriteStateTrackerTimeoutDominatesUnreliable(t *testing.T) {
	created := time.Unix(0, 0)
	timeouts := DefaultWriteStateTimeouts()
	w := NewWriteStateTracker(created, timeouts)
	lastResponse := created.Add(time.Second)
	now := lastResponse.Add(timeouts.InactiveTimeout)
	if now.Sub(lastResponse) < timeouts.UnwritableTimeout {
		t.Fatal("test setup invariant broken: InactiveTimeout should exceed UnwritableTimeout")
	}
	state := w.Evaluate(now, timeouts.TimeoutFailures, lastResponse)
	if state != WriteTimeout {
		t.Errorf("state = %s, want %s: both thresholds are met, WRITE_TIMEOUT must dominate", state, WriteTimeout)
	}
}

func TestWriteStateTimeoutsApplyDefaults(t *testing.T) {
	var tm WriteStateTimeouts
	tm.applyDefaults()
	d := DefaultWriteStateTimeouts()
	if tm != d {
		t.Errorf("applyDefaults() = %+v, want defaults %+v", tm, d)
	}
}
