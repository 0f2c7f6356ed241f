package iceconn

import (
	"net"
	"testing"
)

func TestAddrEqual(t *testing.T) {
	a := Addr{IP: net.ParseIP("10.0.0.1"), Port: 1000, Proto: ProtoUDP}
	b := Addr{IP: net.ParseIP("10.0.0.1"), Port: 1000, Proto: ProtoUDP}
	c := Addr{IP: net.ParseIP("10.0.0.2"), Port: 1000, Proto: ProtoUDP}
	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestPriorityOf(t *testing.T) {
	// RFC 8445 Section 5.1.2.1 worked example: host candidate, highest
	// local preference, component 1.
	got := PriorityOf(TypePreference(CandidateHost), 65535, 1)
	want := uint32(126)<<24 | uint32(65535)<<8 | 255
	if got != want {
		t.Errorf("PriorityOf() = %d, want %d", got, want)
	}
}

func TestPairPriority(t *testing.T) {
	cases := []struct {
		controlling, controlled uint32
	}{
		{100, 200},
		{200, 100},
		{50, 50},
	}
	for _, tc := range cases {
		g, d := uint64(tc.controlling), uint64(tc.controlled)
		lo, hi := g, d
		if d < g {
			lo, hi = d, g
		}
		want := (uint64(1)<<32)*lo + 2*hi
		if g > d {
			want++
		}
		if got := PairPriority(tc.controlling, tc.controlled); got != want {
			t.Errorf("PairPriority(%d, %d) = %d, want %d", tc.controlling, tc.controlled, got, want)
		}
	}
	// Swapping roles over the same pair must not collide on priority.
	a := PairPriority(100, 200)
	b := PairPriority(200, 100)
	if a == b {
		t.Error("controlling/controlled swap should change pair priority")
	}
}

func TestCandidateEqualExceptType(t *testing.T) {
	host := Candidate{Addr: Addr{IP: net.ParseIP("10.0.0.1"), Port: 1, Proto: ProtoUDP}, Type: CandidateHost, ComponentID: 1}
	prflx := Candidate{Addr: Addr{IP: net.ParseIP("10.0.0.1"), Port: 1, Proto: ProtoUDP}, Type: CandidatePeerReflexive, ComponentID: 1}
	if !host.EqualExceptType(prflx) {
		t.Error("expected candidates to match modulo type")
	}
	other := Candidate{Addr: Addr{IP: net.ParseIP("10.0.0.9"), Port: 1, Proto: ProtoUDP}, Type: CandidateHost, ComponentID: 1}
	if host.EqualExceptType(other) {
		t.Error("expected candidates with different addresses not to match")
	}
}

func TestPeerReflexivePriority(t *testing.T) {
	c := Candidate{Priority: PriorityOf(TypePreference(CandidateHost), 65535, 1), ComponentID: 1}
	want := PriorityOf(TypePreference(CandidatePeerReflexive), 65535, 1)
	if got := c.PeerReflexivePriority(); got != want {
		t.Errorf("PeerReflexivePriority() = %d, want %d", got, want)
	}
}
