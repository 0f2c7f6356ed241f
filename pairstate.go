package iceconn

// PairState is the ICE candidate pair state, RFC 5245 Section 5.7.4.
type PairState byte

// Pair states.
const (
	// StateWaiting means a check has not been sent for this pair, but
	// the pair is not frozen.
	StateWaiting PairState = iota
	// StateInProgress means a check has been sent and a transaction is
	// in progress.
	StateInProgress
	// StateSucceeded means a check produced a successful result.
	StateSucceeded
	// StateFailed means a response was never received, or a failure
	// response was received, and no more checks will be sent.
	StateFailed
)

func (s PairState) String() string {
	switch s {
	case StateWaiting:
		return "Waiting"
	case StateInProgress:
		return "In-Progress"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
