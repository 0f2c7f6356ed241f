package iceconn

import (
	"time"

	"github.com/gortc/stun"
	"go.uber.org/zap"
)

// TransactionIDSize is the size in bytes of a STUN transaction id, RFC
// 5389 Section 6.
const TransactionIDSize = 12

// TransactionID is the 96-bit STUN transaction id gortc/stun uses to match
// requests to responses. Its underlying type is identical to
// stun.Message.TransactionID's (an unnamed [12]byte array), so values
// assign directly between the two without conversion.
type TransactionID [TransactionIDSize]byte

// Default retransmission parameters, RFC 5389 Section 7.2.1.
const (
	// DefaultRTOFloor is the minimum initial RTO: max(500ms, 2*RTT).
	DefaultRTOFloor = 500 * time.Millisecond
	// DefaultRTOMax caps the retransmit interval.
	DefaultRTOMax = 8000 * time.Millisecond
	// DefaultMaxAttempts is Rc, the total number of transmissions
	// (the initial send plus retransmits) before a transaction times out.
	DefaultMaxAttempts = 7
)

// RequestCallbacks are invoked by StunRequestManager as transactions
// resolve. All three are optional; a nil callback is simply not called.
type RequestCallbacks struct {
	// Success is invoked once, when a success response matches a
	// request's transaction id.
	Success func(req *ConnectionRequest, resp *stun.Message, now time.Time)
	// ErrorResponse is invoked once, when an error response matches.
	ErrorResponse func(req *ConnectionRequest, resp *stun.Message, now time.Time)
	// Timeout is invoked once, when retransmissions are exhausted with
	// no response.
	Timeout func(req *ConnectionRequest, now time.Time)
}

// SendFunc transmits a built STUN message; it is the Connection's
// Send/transport hook. Returning a non-nil error does not stop
// retransmission -- a send error is treated as unwritable feedback, not a
// reason to abandon the transaction early.
type SendFunc func(msg *stun.Message) error

// ConnectionRequest is one STUN transaction owned by a
// StunRequestManager: a Binding or GOOG_PING request, its retransmission
// state, and the nomination value it carried.
type ConnectionRequest struct {
	ID         TransactionID
	Msg        *stun.Message
	Nomination uint32

	manager   *StunRequestManager
	createdAt time.Time
	attempts  int
	interval  time.Duration
	timer     Timer
}

// Attempts returns how many times this request has been transmitted,
// including the initial send.
func (r *ConnectionRequest) Attempts() int { return r.attempts }

// CreatedAt returns when the request was first sent.
func (r *ConnectionRequest) CreatedAt() time.Time { return r.createdAt }

// StunRequestManager owns the in-flight STUN transactions of one
// Connection, scheduling RFC 5389 Section 7.2.1 retransmits and matching
// responses by transaction id. Like Connection
// itself, it is touched only on the owning network sequence and is not
// safe for concurrent use.
type StunRequestManager struct {
	log       *zap.Logger
	clock     Clock
	send      SendFunc
	callbacks RequestCallbacks

	rtoFloor    time.Duration
	rtoMax      time.Duration
	maxAttempts int

	requests map[TransactionID]*ConnectionRequest
}

// StunRequestManagerOptions configures a StunRequestManager. Zero values
// fall back to the RFC 5389 Section 7.2.1 defaults.
type StunRequestManagerOptions struct {
	Log         *zap.Logger
	Clock       Clock
	Send        SendFunc
	Callbacks   RequestCallbacks
	RTOFloor    time.Duration
	RTOMax      time.Duration
	MaxAttempts int
}

// NewStunRequestManager returns a StunRequestManager ready to send
// requests.
func NewStunRequestManager(o StunRequestManagerOptions) *StunRequestManager {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	if o.RTOFloor == 0 {
		o.RTOFloor = DefaultRTOFloor
	}
	if o.RTOMax == 0 {
		o.RTOMax = DefaultRTOMax
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return &StunRequestManager{
		log:         o.Log,
		clock:       o.Clock,
		send:        o.Send,
		callbacks:   o.Callbacks,
		rtoFloor:    o.RTOFloor,
		rtoMax:      o.RTOMax,
		maxAttempts: o.MaxAttempts,
		requests:    make(map[TransactionID]*ConnectionRequest),
	}
}

// initialRTO computes the first retransmit interval: max(RTOFloor, 2*rtt).
func (m *StunRequestManager) initialRTO(rtt time.Duration) time.Duration {
	if d := 2 * rtt; d > m.rtoFloor {
		return d
	}
	return m.rtoFloor
}

// Send transmits msg and begins tracking it as an in-flight transaction.
// rtt is the connection's current RTT estimate (zero if none yet),
// feeding the initial retransmit interval.
func (m *StunRequestManager) Send(msg *stun.Message, nomination uint32, rtt time.Duration) (*ConnectionRequest, error) {
	req := &ConnectionRequest{
		ID:         msg.TransactionID,
		Msg:        msg,
		Nomination: nomination,
		manager:    m,
		createdAt:  m.clock.Now(),
		interval:   m.initialRTO(rtt),
	}
	m.requests[req.ID] = req
	if err := m.transmit(req); err != nil {
		m.log.Debug("initial send failed", zap.Error(err))
	}
	req.timer = m.clock.AfterFunc(req.interval, func() { m.onTimer(req) })
	return req, nil
}

func (m *StunRequestManager) transmit(req *ConnectionRequest) error {
	req.attempts++
	return m.send(req.Msg)
}

func (m *StunRequestManager) onTimer(req *ConnectionRequest) {
	if _, ok := m.requests[req.ID]; !ok {
		// Already resolved or cancelled between the timer firing and
		// this callback running on the network sequence.
		return
	}
	if req.attempts >= m.maxAttempts {
		delete(m.requests, req.ID)
		now := m.clock.Now()
		m.log.Debug("transaction timed out",
			zap.Binary("id", req.ID[:]), zap.Int("attempts", req.attempts))
		if m.callbacks.Timeout != nil {
			m.callbacks.Timeout(req, now)
		}
		return
	}
	if err := m.transmit(req); err != nil {
		m.log.Debug("retransmit failed", zap.Error(err))
	}
	req.interval *= 2
	if req.interval > m.rtoMax {
		req.interval = m.rtoMax
	}
	req.timer = m.clock.AfterFunc(req.interval, func() { m.onTimer(req) })
}

// HandleSTUN matches msg against an in-flight transaction by transaction
// id and dispatches the Success or ErrorResponse callback. It reports
// whether msg was consumed; an unmatched response (wrong transaction id,
// or a request/indication rather than a response) is left untouched for
// the caller to handle as an inbound request: out-of-transaction
// responses are silently ignored.
func (m *StunRequestManager) HandleSTUN(now time.Time, msg *stun.Message) bool {
	if msg.Type.Class != stun.ClassSuccessResponse && msg.Type.Class != stun.ClassErrorResponse {
		return false
	}
	req, ok := m.requests[msg.TransactionID]
	if !ok {
		return false
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	delete(m.requests, req.ID)
	switch msg.Type.Class {
	case stun.ClassSuccessResponse:
		if m.callbacks.Success != nil {
			m.callbacks.Success(req, msg, now)
		}
	case stun.ClassErrorResponse:
		if m.callbacks.ErrorResponse != nil {
			m.callbacks.ErrorResponse(req, msg, now)
		}
	}
	return true
}

// CancelAll drops every in-flight transaction without invoking any
// callback, used by Connection.Shutdown/ForgetLearnedState.
func (m *StunRequestManager) CancelAll() {
	for id, req := range m.requests {
		if req.timer != nil {
			req.timer.Stop()
		}
		delete(m.requests, id)
	}
}

// Outstanding returns the number of in-flight transactions.
func (m *StunRequestManager) Outstanding() int { return len(m.requests) }
