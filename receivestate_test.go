package iceconn

import (
	"testing"
	"time"
)

func TestReceiveStateTrackerStartsNotReceiving(t *testing.T) {
	r := NewReceiveStateTracker(time.Unix(0, 0), 0)
	if r.Receiving() {
		t.Error("expected Receiving() == false before any packet")
	}
}

func TestReceiveStateTrackerOnReceived(t *testing.T) {
	created := time.Unix(0, 0)
	r := NewReceiveStateTracker(created, DefaultReceivingTimeout)
	now := created.Add(time.Second)
	if changed := r.OnReceived(now); !changed {
		t.Error("expected first packet to flip receiving to true")
	}
	if !r.Receiving() {
		t.Error("expected Receiving() == true right after a packet")
	}
	if r.UnchangedSince() != now {
		t.Errorf("UnchangedSince() = %s, want %s", r.UnchangedSince(), now)
	}
}

func TestReceiveStateTrackerTimesOut(t *testing.T) {
	created := time.Unix(0, 0)
	r := NewReceiveStateTracker(created, time.Second)
	r.OnReceived(created.Add(time.Millisecond))
	later := created.Add(2 * time.Second)
	if changed := r.Evaluate(later); !changed {
		t.Error("expected receiving to flip to false once the timeout elapses")
	}
	if r.Receiving() {
		t.Error("expected Receiving() == false after the timeout")
	}
}

func TestReceiveStateTrackerEvaluateNoChangeReportsFalse(t *testing.T) {
	created := time.Unix(0, 0)
	r := NewReceiveStateTracker(created, time.Second)
	r.OnReceived(created.Add(time.Millisecond))
	if changed := r.Evaluate(created.Add(2 * time.Millisecond)); changed {
		t.Error("expected no transition while still within the timeout")
	}
}
