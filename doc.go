// Package iceconn implements the per-connection state machine of an ICE
// (RFC 5245 / RFC 8445) connectivity-check engine: the STUN binding checks
// between a local and a remote candidate, writability and receiving status
// derived from check outcomes, nomination by a controlling agent, and
// lifecycle events published to a surrounding transport channel.
//
// Candidate gathering, SDP, DTLS/SRTP and the owning transport channel that
// selects among connections are out of scope; see the package-level
// Connection and ConnectionRequest types for the boundary of this package.
package iceconn
