package iceconn

import (
	"fmt"
	"net"
)

// CandidateType is the ICE candidate type, RFC 8445 Section 5.1.1.
type CandidateType byte

// Candidate types in descending type-preference order.
const (
	CandidateHost CandidateType = iota
	CandidatePeerReflexive
	CandidateServerReflexive
	CandidateRelay
)

func (t CandidateType) String() string {
	switch t {
	case CandidateHost:
		return "host"
	case CandidatePeerReflexive:
		return "prflx"
	case CandidateServerReflexive:
		return "srflx"
	case CandidateRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// typePreferences are the recommended type preference values from
// RFC 8445 Section 5.1.2.1, mirrored from gortc/ice's candidate/type
// preference table.
var typePreferences = map[CandidateType]int{
	CandidateHost:             126,
	CandidatePeerReflexive:    110,
	CandidateServerReflexive:  100,
	CandidateRelay:            0,
}

// TypePreference returns the recommended type preference for t.
func TypePreference(t CandidateType) int { return typePreferences[t] }

// Proto is the transport protocol carrying a candidate.
type Proto byte

// Supported transport protocols.
const (
	ProtoUDP Proto = iota
	ProtoTCP
)

func (p Proto) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Addr is a transport address: an IP, a port and the protocol it is
// reachable on.
type Addr struct {
	IP    net.IP
	Port  int
	Proto Proto
}

// Equal reports whether a and b describe the same transport address.
func (a Addr) Equal(b Addr) bool {
	if a.Proto != b.Proto || a.Port != b.Port {
		return false
	}
	return a.IP.Equal(b.IP)
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d/%s", a.IP, a.Port, a.Proto)
}

func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}

// Candidate describes one end of a candidate pair: its address, type,
// priority and the short-term ICE credentials and generation it was
// advertised with.
type Candidate struct {
	Addr        Addr
	Base        Addr
	Related     Addr
	Type        CandidateType
	Priority    uint32
	Foundation  string
	ComponentID int
	Generation  uint32
	Ufrag       string
	Password    string
	NetworkCost uint16
	// URL is the server URL (e.g. a STUN/TURN URL) this candidate was
	// learned from, if any.
	URL string
}

// Equal reports whether c and b describe the same candidate, ignoring
// Related/Base/URL bookkeeping fields.
func (c Candidate) Equal(b Candidate) bool {
	if c.Type != b.Type || c.ComponentID != b.ComponentID {
		return false
	}
	if c.Priority != b.Priority {
		return false
	}
	return c.Addr.Equal(b.Addr)
}

// EqualExceptType reports whether c and b are the same candidate modulo
// their Type, used to detect a peer-reflexive candidate that turned out to
// be equivalent to one already known under a different type
// (MaybeUpdatePeerReflexiveCandidate / MaybeUpdateLocalCandidate).
func (c Candidate) EqualExceptType(b Candidate) bool {
	if c.ComponentID != b.ComponentID {
		return false
	}
	return c.Addr.Equal(b.Addr)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s/%d", c.Addr, c.Type, c.Priority)
}

// PriorityOf computes the ICE candidate priority per RFC 8445 Section
// 5.1.2.1: priority = 2^24*type_pref + 2^8*local_pref + (256 - component).
func PriorityOf(typePref, localPref, componentID int) uint32 {
	return uint32((1<<24)*typePref + (1<<8)*localPref + (256 - componentID))
}

// PeerReflexivePriority computes the priority a connectivity-check request
// advertises for the peer-reflexive candidate it may cause the remote side
// to learn, per RFC 5245 Section 4.1.2.1: the local candidate's priority
// with its type preference swapped for that of a peer-reflexive candidate.
func (c Candidate) PeerReflexivePriority() uint32 {
	localPref := (int(c.Priority) >> 8) & 0xFFFF
	return PriorityOf(TypePreference(CandidatePeerReflexive), localPref, c.ComponentID)
}

// PairPriority computes the ICE candidate pair priority, RFC 8445 Section
// 6.1.2.3: 2^32*MIN(G,D) + 2*MAX(G,D) + (G>D?1:0), where G is the
// controlling agent's priority and D is the controlled agent's.
func PairPriority(controlling, controlled uint32) uint64 {
	g, d := uint64(controlling), uint64(controlled)
	lo, hi := g, d
	if d < g {
		lo, hi = d, g
	}
	v := (uint64(1)<<32)*lo + 2*hi
	if g > d {
		v++
	}
	return v
}
