package iceconn

// NominationTracker holds the three nomination-related counters a
// Connection needs: the controlling agent's intent (Nomination), what it
// has confirmed the remote peer answered (AckedNomination), and what the
// controlled agent has observed the remote peer request
// (RemoteNomination).
//
// Both AckedNomination and RemoteNomination only move forward:
// `acked_nomination <= nomination` holds monotonically, and
// `remote_nomination` is monotonically non-decreasing until Reset.
type NominationTracker struct {
	nomination       uint32
	ackedNomination  uint32
	remoteNomination uint32
}

// SetNomination sets the controlling agent's nomination intent. It is the
// caller's responsibility (Connection.set_nomination) to only ever
// increase this value within one controlling session.
func (n *NominationTracker) SetNomination(value uint32) { n.nomination = value }

// Nomination returns the controlling agent's current nomination intent.
func (n *NominationTracker) Nomination() uint32 { return n.nomination }

// AckNomination records that a ping carrying NOMINATION=value received a
// response. Returns true the first time value becomes the new
// AckedNomination, i.e. when the caller should publish "nominated".
func (n *NominationTracker) AckNomination(value uint32) (nominatedNow bool) {
	if value == 0 || value <= n.ackedNomination {
		return false
	}
	wasNominated := n.ackedNomination > 0
	n.ackedNomination = value
	return !wasNominated
}

// AckedNomination returns the highest nomination value the remote peer
// has acknowledged.
func (n *NominationTracker) AckedNomination() uint32 { return n.ackedNomination }

// ObserveRemoteNomination records that an inbound USE-CANDIDATE request
// carried NOMINATION=value (or, absent that attribute, the implicit value
// 1). Returns true the first time remote nomination becomes set, i.e.
// when the caller should publish "nominated".
func (n *NominationTracker) ObserveRemoteNomination(value uint32) (nominatedNow bool) {
	if value == 0 {
		value = 1
	}
	wasNominated := n.remoteNomination > 0
	if value > n.remoteNomination {
		n.remoteNomination = value
	}
	return !wasNominated && n.remoteNomination > 0
}

// RemoteNomination returns the highest nomination value observed from the
// remote peer's USE-CANDIDATE requests.
func (n *NominationTracker) RemoteNomination() uint32 { return n.remoteNomination }

// Nominated reports whether this pair has been nominated from either
// role's perspective: the controlling agent got an acknowledged
// nomination, or the controlled agent observed one from the remote peer.
func (n *NominationTracker) Nominated() bool {
	return n.ackedNomination > 0 || n.remoteNomination > 0
}

// Reset clears AckedNomination and RemoteNomination for a pair being
// recycled onto a fresh candidate pairing. Nomination (the controlling
// intent) is left untouched, since that reflects what this side still
// intends to send rather than what the peer has answered so far.
func (n *NominationTracker) Reset() {
	n.ackedNomination = 0
	n.remoteNomination = 0
}
