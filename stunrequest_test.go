package iceconn

import (
	"testing"
	"time"

	"github.com/gortc/stun"
)

func newTestRequest(t testing.TB) *stun.Message {
	t.Helper()
	return stun.MustBuild(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
}

func TestStunRequestManagerSendAndSuccess(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	var sent []*stun.Message
	var gotSuccess *ConnectionRequest
	m := NewStunRequestManager(StunRequestManagerOptions{
		Clock: clock,
		Send: func(msg *stun.Message) error {
			sent = append(sent, msg)
			return nil
		},
		Callbacks: RequestCallbacks{
			Success: func(req *ConnectionRequest, resp *stun.Message, now time.Time) {
				gotSuccess = req
			},
		},
	})
	req := newTestRequest(t)
	_, err := m.Send(req, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected 1 initial send, got %d", len(sent))
	}
	if m.Outstanding() != 1 {
		t.Fatalf("Outstanding() = %d, want 1", m.Outstanding())
	}

	resp := stun.MustBuild(req, stun.BindingSuccess)
	if !m.HandleSTUN(clock.Now(), resp) {
		t.Fatal("expected HandleSTUN to match the outstanding transaction")
	}
	if gotSuccess == nil {
		t.Fatal("expected Success callback to fire")
	}
	if m.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0 after a matched response", m.Outstanding())
	}
}

func TestStunRequestManagerUnmatchedResponseIgnored(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	m := NewStunRequestManager(StunRequestManagerOptions{
		Clock: clock,
		Send:  func(msg *stun.Message) error { return nil },
	})
	resp := stun.MustBuild(stun.TransactionID, stun.BindingSuccess)
	if m.HandleSTUN(clock.Now(), resp) {
		t.Error("expected no match for a transaction id that was never sent")
	}
}

func TestStunRequestManagerRetransmitsAndTimesOut(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	attempts := 0
	timedOut := false
	m := NewStunRequestManager(StunRequestManagerOptions{
		Clock:       clock,
		RTOFloor:    100 * time.Millisecond,
		RTOMax:      time.Second,
		MaxAttempts: 3,
		Send: func(msg *stun.Message) error {
			attempts++
			return nil
		},
		Callbacks: RequestCallbacks{
			Timeout: func(req *ConnectionRequest, now time.Time) {
				timedOut = true
			},
		},
	})
	req := newTestRequest(t)
	if _, err := m.Send(req, 0, 0); err != nil {
		t.Fatal(err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 after the initial send", attempts)
	}

	// RTO doubles each retransmit: 100ms, 200ms.
	clock.Advance(100 * time.Millisecond)
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 after the first retransmit", attempts)
	}
	if timedOut {
		t.Fatal("should not time out before MaxAttempts is reached")
	}

	clock.Advance(200 * time.Millisecond)
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (MaxAttempts)", attempts)
	}
	if !timedOut {
		t.Fatal("expected Timeout callback once MaxAttempts is reached with no response")
	}
	if m.Outstanding() != 0 {
		t.Errorf("Outstanding() = %d, want 0 after timeout", m.Outstanding())
	}
}

func TestStunRequestManagerCancelAll(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	timedOut := false
	m := NewStunRequestManager(StunRequestManagerOptions{
		Clock: clock,
		Send:  func(msg *stun.Message) error { return nil },
		Callbacks: RequestCallbacks{
			Timeout: func(req *ConnectionRequest, now time.Time) { timedOut = true },
		},
	})
	if _, err := m.Send(newTestRequest(t), 0, 0); err != nil {
		t.Fatal(err)
	}
	m.CancelAll()
	if m.Outstanding() != 0 {
		t.Fatalf("Outstanding() = %d, want 0 after CancelAll", m.Outstanding())
	}
	clock.Advance(time.Hour)
	if timedOut {
		t.Error("CancelAll must not invoke the Timeout callback for cancelled transactions")
	}
}

func TestStunRequestManagerInitialRTOUsesRTT(t *testing.T) {
	m := NewStunRequestManager(StunRequestManagerOptions{
		RTOFloor: 500 * time.Millisecond,
	})
	if got := m.initialRTO(400 * time.Millisecond); got != 800*time.Millisecond {
		t.Errorf("initialRTO(400ms) = %s, want 800ms (2*rtt exceeds the floor)", got)
	}
	if got := m.initialRTO(10 * time.Millisecond); got != 500*time.Millisecond {
		t.Errorf("initialRTO(10ms) = %s, want the 500ms floor", got)
	}
}
