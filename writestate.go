package iceconn

import "time"

// WriteState is the writability classification of a Connection, RFC 5245
// Section 5.7.4 style but specific to this package.
type WriteState byte

// Write states, in the order Evaluate checks them.
const (
	// WriteWritable means a ping response was received recently.
	WriteWritable WriteState = iota
	// WriteUnreliable means a few ping failures have accrued.
	WriteUnreliable
	// WriteInit means no ping response has ever been received.
	WriteInit
	// WriteTimeout means a large number of ping failures have accrued.
	WriteTimeout
)

func (s WriteState) String() string {
	switch s {
	case WriteWritable:
		return "STATE_WRITABLE"
	case WriteUnreliable:
		return "STATE_WRITE_UNRELIABLE"
	case WriteInit:
		return "STATE_WRITE_INIT"
	case WriteTimeout:
		return "STATE_WRITE_TIMEOUT"
	default:
		return "STATE_WRITE_UNKNOWN"
	}
}

// WriteStateTimeouts configures the thresholds WriteStateTracker evaluates.
// Zero values are replaced by DefaultWriteStateTimeouts.
type WriteStateTimeouts struct {
	// ConnectFailures is CONNECTION_WRITE_CONNECT_FAILURES, default 5.
	ConnectFailures int
	// ConnectTimeout is CONNECTION_WRITE_CONNECT_TIMEOUT, default 15s.
	ConnectTimeout time.Duration
	// TimeoutFailures is CONNECTION_WRITE_TIMEOUT_FAILURES, default 20.
	TimeoutFailures int
	// InactiveTimeout default 30s.
	InactiveTimeout time.Duration
	// UnwritableTimeout default 10s.
	UnwritableTimeout time.Duration
	// UnwritableMinChecks default 6.
	UnwritableMinChecks int
}

// DefaultWriteStateTimeouts returns the default write-state thresholds.
func DefaultWriteStateTimeouts() WriteStateTimeouts {
	return WriteStateTimeouts{
		ConnectFailures:     5,
		ConnectTimeout:      15 * time.Second,
		TimeoutFailures:     20,
		InactiveTimeout:     30 * time.Second,
		UnwritableTimeout:   10 * time.Second,
		UnwritableMinChecks: 6,
	}
}

func (t *WriteStateTimeouts) applyDefaults() {
	d := DefaultWriteStateTimeouts()
	if t.ConnectFailures == 0 {
		t.ConnectFailures = d.ConnectFailures
	}
	if t.ConnectTimeout == 0 {
		t.ConnectTimeout = d.ConnectTimeout
	}
	if t.TimeoutFailures == 0 {
		t.TimeoutFailures = d.TimeoutFailures
	}
	if t.InactiveTimeout == 0 {
		t.InactiveTimeout = d.InactiveTimeout
	}
	if t.UnwritableTimeout == 0 {
		t.UnwritableTimeout = d.UnwritableTimeout
	}
	if t.UnwritableMinChecks == 0 {
		t.UnwritableMinChecks = d.UnwritableMinChecks
	}
}

// WriteStateTracker derives WriteState from recent ping outcomes.
type WriteStateTracker struct {
	timeouts WriteStateTimeouts
	created  time.Time
	state    WriteState
}

// NewWriteStateTracker returns a tracker starting in WriteInit at
// createdAt, using timeouts (zero fields fall back to defaults).
func NewWriteStateTracker(createdAt time.Time, timeouts WriteStateTimeouts) *WriteStateTracker {
	timeouts.applyDefaults()
	return &WriteStateTracker{
		timeouts: timeouts,
		created:  createdAt,
		state:    WriteInit,
	}
}

// SetTimeouts replaces the tracker's timeout configuration.
func (w *WriteStateTracker) SetTimeouts(timeouts WriteStateTimeouts) {
	timeouts.applyDefaults()
	w.timeouts = timeouts
}

// State returns the last computed write state.
func (w *WriteStateTracker) State() WriteState { return w.state }

// Timeouts returns the tracker's current threshold configuration.
func (w *WriteStateTracker) Timeouts() WriteStateTimeouts { return w.timeouts }

// Evaluate recomputes the write state and returns the new state.
// pingsOutstanding is pings_since_last_response.len();
// lastResponse is the zero time if no response has ever been received.
func (w *WriteStateTracker) Evaluate(now time.Time, pingsOutstanding int, lastResponse time.Time) WriteState {
	t := w.timeouts
	var next WriteState
	switch {
	case lastResponse.IsZero():
		if pingsOutstanding >= t.ConnectFailures && now.Sub(w.created) >= t.ConnectTimeout {
			next = WriteTimeout
		} else {
			next = WriteInit
		}
	case now.Sub(lastResponse) >= t.InactiveTimeout && pingsOutstanding >= t.TimeoutFailures:
		// WRITE_TIMEOUT dominates WRITE_UNRELIABLE when both conditions
		// hold.
		next = WriteTimeout
	case now.Sub(lastResponse) >= t.UnwritableTimeout || pingsOutstanding >= t.UnwritableMinChecks:
		next = WriteUnreliable
	default:
		next = WriteWritable
	}
	w.state = next
	return next
}
