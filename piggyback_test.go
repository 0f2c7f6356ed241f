package iceconn

import (
	"testing"

	"github.com/gortc/stun"
)

func TestConsumeInboundDeltaAckGating(t *testing.T) {
	var gotDelta []byte
	h := &piggybackHooks{
		deltaConsumer: func(delta []byte) uint64 {
			gotDelta = append([]byte(nil), delta...)
			return 42
		},
	}

	build := func() *stun.Message {
		m := stun.New()
		m.Type = stun.BindingRequest
		m.WriteHeader()
		if err := GoogDelta([]byte("delta-payload")).AddTo(m); err != nil {
			t.Fatalf("AddTo() error = %v", err)
		}
		return m
	}

	if ack := h.consumeInbound(build(), true, false); ack != nil {
		t.Fatalf("consumeInbound() with ackEnabled=false returned %v, want nil", ack)
	}
	if gotDelta != nil {
		t.Fatal("deltaConsumer must not run when ackEnabled is false")
	}

	ack := h.consumeInbound(build(), true, true)
	if ack == nil || *ack != 42 {
		t.Fatalf("consumeInbound() = %v, want ack 42", ack)
	}
	if string(gotDelta) != "delta-payload" {
		t.Errorf("deltaConsumer saw %q, want %q", gotDelta, "delta-payload")
	}

	// A response carrying the same GOOG_DELTA must not trigger the
	// DeltaConsumer even with ackEnabled, since isRequest is false.
	gotDelta = nil
	if ack := h.consumeInbound(build(), false, true); ack != nil {
		t.Fatalf("consumeInbound() on a non-request returned %v, want nil", ack)
	}
	if gotDelta != nil {
		t.Fatal("deltaConsumer must not run for a non-request message")
	}
}

func TestConsumeInboundDeltaAck(t *testing.T) {
	var gotAck uint64
	var sawAck bool
	h := &piggybackHooks{
		deltaAckConsumer: func(ack uint64) {
			gotAck = ack
			sawAck = true
		},
	}

	m := stun.New()
	m.Type = stun.BindingSuccess
	m.WriteHeader()
	if err := GoogDeltaAck(7).AddTo(m); err != nil {
		t.Fatalf("AddTo() error = %v", err)
	}

	h.consumeInbound(m, false, false)
	if !sawAck || gotAck != 7 {
		t.Fatalf("deltaAckConsumer saw (%v, %v), want (true, 7)", sawAck, gotAck)
	}
}
