package iceconn

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gortc/stun"
)

// CodeRoleConflict is STUN error code 487, RFC 5245 Section 7.2.1.1: an
// inbound connectivity check asserted a role this side believes it also
// holds, and the controlling/controlled tiebreaker did not resolve it.
const CodeRoleConflict stun.ErrorCode = 487

// CodeUnauthorized is STUN error code 401, RFC 5389 Section 15.6: returned
// when an inbound request's USERNAME or MESSAGE-INTEGRITY fails to verify.
const CodeUnauthorized stun.ErrorCode = 401

// buildBindingAttrs returns every attribute a connectivity-check request
// carries besides its STUN header, transaction id and trailing integrity
// / fingerprint. It is shared between BuildPingRequest and the
// canonical-body fingerprint used for GOOG_PING elision, so the two never
// drift apart.
func (c *Connection) buildBindingAttrs(nomination uint32) []stun.Setter {
	setters := []stun.Setter{
		Username(c.remote.Ufrag, c.local.Ufrag),
		Priority(c.local.PeerReflexivePriority()),
	}
	if c.controlling {
		setters = append(setters, AttrControlling(c.tieBreaker))
		if c.useCandidateAttr {
			setters = append(setters, UseCandidate{})
		}
		if c.fieldTrials.SupportsReNomination && nomination > 0 {
			setters = append(setters, Nomination(nomination))
		}
	} else {
		setters = append(setters, AttrControlled(c.tieBreaker))
	}
	return setters
}

// canonicalBindingBody builds a throwaway Binding request carrying attrs
// and a zero transaction id, returning its attribute body -- everything
// after the 20-byte STUN header. Two pings with identical intent (same
// priority, role, nomination and piggyback payloads) produce the same
// body regardless of transaction id, which is what lets GOOG_PING elide
// sending the transaction-id-bearing Binding request at all.
func (c *Connection) canonicalBindingBody(attrs []stun.Setter) ([]byte, error) {
	m := stun.New()
	m.Type = stun.BindingRequest
	m.WriteHeader()
	for _, s := range attrs {
		if err := s.AddTo(m); err != nil {
			return nil, errors.Wrap(err, "add attribute")
		}
	}
	if err := c.piggyback.fillOutbound(m); err != nil {
		return nil, errors.Wrap(err, "piggyback filler")
	}
	return append([]byte(nil), m.Raw[20:]...), nil
}

// BuildPingRequest builds the next connectivity-check request for this
// pair: a full STUN Binding request, or -- when the peer has previously
// advertised GOOG_PING support and the attribute set is byte-identical to
// the last Binding request sent -- the compact GOOG_PING equivalent.
func (c *Connection) BuildPingRequest(now time.Time) (*stun.Message, uint32, error) {
	nomination := uint32(0)
	if c.controlling {
		nomination = c.nomination.Nomination()
	}
	attrs := c.buildBindingAttrs(nomination)

	body, err := c.canonicalBindingBody(attrs)
	if err != nil {
		return nil, 0, err
	}
	useGoogPing := c.googPing.supportsGoogPing() && c.googPing.matchesCached(body)
	if !useGoogPing {
		c.googPing.recordBindingBody(body)
	}

	m := stun.New()
	m.TransactionID = stun.NewTransactionID()
	if useGoogPing {
		m.Type = GoogPingRequest
	} else {
		m.Type = stun.BindingRequest
	}
	m.WriteHeader()
	for _, s := range attrs {
		if err := s.AddTo(m); err != nil {
			return nil, 0, errors.Wrap(err, "add attribute")
		}
	}
	if err := c.piggyback.fillOutbound(m); err != nil {
		return nil, 0, errors.Wrap(err, "piggyback filler")
	}
	if useGoogPing {
		if err := NewMessageIntegrity32(c.remote.Password).AddTo(m); err != nil {
			return nil, 0, errors.Wrap(err, "message integrity 32")
		}
	} else {
		if err := stun.NewShortTermIntegrity(c.remote.Password).AddTo(m); err != nil {
			return nil, 0, errors.Wrap(err, "message integrity")
		}
		if err := stun.Fingerprint.AddTo(m); err != nil {
			return nil, 0, errors.Wrap(err, "fingerprint")
		}
	}
	return m, nomination, nil
}

// Ping sends the next connectivity-check request on this pair and records
// it in the ping history.
func (c *Connection) Ping(now time.Time) error {
	if c.pendingDeleteLocked() {
		return ErrPendingDelete
	}
	msg, nomination, err := c.BuildPingRequest(now)
	if err != nil {
		return err
	}
	if _, err := c.requests.Send(msg, nomination, c.rtt.value); err != nil {
		return err
	}
	c.pingHistory.Add(SentPing{ID: msg.TransactionID, SentTime: now, Nomination: nomination})
	c.lastPingSent = now
	c.numPingsSent++
	c.setState(StateInProgress)
	return nil
}

// onPingSuccess is StunRequestManager's Success callback: a Binding or
// GOOG_PING success response matched an outstanding request.
func (c *Connection) onPingSuccess(req *ConnectionRequest, resp *stun.Message, now time.Time) {
	c.pingHistory.ClearUpTo(req.ID)
	c.lastPingResponseReceived = now
	receivingChanged := c.receiveState.OnReceived(now)

	rtt := now.Sub(req.CreatedAt())
	c.rtt.addSample(rtt)
	c.rttEstimate.AddSample(now, rtt)
	c.totalRTT += rtt

	var mapped stun.XORMappedAddress
	if err := mapped.GetFrom(resp); err == nil {
		addr := Addr{IP: mapped.IP, Port: mapped.Port, Proto: c.local.Addr.Proto}
		if !c.local.Addr.Equal(addr) {
			upgraded := c.local
			upgraded.Type = CandidatePeerReflexive
			upgraded.Addr = addr
			upgraded.Base = c.local.Addr
			upgraded.Priority = c.local.PeerReflexivePriority()
			c.MaybeUpdateLocalCandidate(addr, upgraded)
		}
	}

	if req.Nomination > 0 {
		if c.nomination.AckNomination(req.Nomination) {
			c.events.fireNominated(c)
		}
	}

	c.setState(StateSucceeded)
	writeChanged := c.evaluateWriteState(now)
	if receivingChanged || writeChanged {
		c.fireStateChange()
	}
}

// onPingError is StunRequestManager's ErrorResponse callback. A 487 (Role
// Conflict) response is the one error worth distinguishing; every other
// error response is treated like a timeout for write-state purposes.
func (c *Connection) onPingError(req *ConnectionRequest, resp *stun.Message, now time.Time) {
	c.pingHistory.ClearUpTo(req.ID)

	var code stun.ErrorCodeAttribute
	if err := code.GetFrom(resp); err == nil && code.Code == CodeRoleConflict {
		c.handleRoleConflict(&RoleConflictError{LocalTieBreaker: c.tieBreaker})
		return
	}
	if c.evaluateWriteState(now) {
		c.fireStateChange()
	}
}

// onPingTimeout is StunRequestManager's Timeout callback: every
// retransmission in RFC 5389 Section 7.2.1's schedule went unanswered.
func (c *Connection) onPingTimeout(req *ConnectionRequest, now time.Time) {
	c.pingHistory.ClearUpTo(req.ID)
	if c.evaluateWriteState(now) {
		c.fireStateChange()
	}
}

// evaluateWriteState re-runs WriteStateTracker.Evaluate and reports
// whether the resulting state actually differs from before, the same
// gating UpdateState applies to its own write-state re-evaluation.
func (c *Connection) evaluateWriteState(now time.Time) (changed bool) {
	before := c.writeState.State()
	c.writeState.Evaluate(now, c.pingHistory.Len(), c.lastPingResponseReceived)
	return before != c.writeState.State()
}

// handleRoleConflict implements RFC 5245 Section 7.2.1.1. This package
// does not decide which side switches role -- that decision also depends
// on state (allocated candidates, existing checks) Connection does not
// own, so it is handed to the registered callback and otherwise left
// unresolved.
func (c *Connection) handleRoleConflict(rc *RoleConflictError) {
	if c.roleConflict == nil {
		c.log.Warn("ice role conflict could not be resolved, no handler registered",
			zap.Uint64("local_tie_breaker", rc.LocalTieBreaker))
		return
	}
	c.roleConflict(rc)
}

// HandleStunBindingOrGoogPingRequest answers an inbound connectivity
// check: it validates the USERNAME/MESSAGE-INTEGRITY, detects a role
// conflict before anything else (RFC 5245 Section 7.2.1.1), records
// nomination intent, updates the receiving state, and sends the matching
// success response.
func (c *Connection) HandleStunBindingOrGoogPingRequest(now time.Time, req *stun.Message) error {
	if err := c.verifyRequest(req); err != nil {
		c.log.Warn("rejecting stun request", zap.Error(err))
		if sendErr := c.sendAuthFailureResponse(req); sendErr != nil {
			return errors.Wrap(sendErr, "send auth failure response")
		}
		return err
	}

	if rc := c.checkRoleConflictInbound(req); rc != nil {
		c.handleRoleConflict(rc)
		return c.sendRoleConflictResponse(req)
	}

	c.lastPingReceived = now
	receivingChanged := c.receiveState.OnReceived(now)
	id := TransactionID(req.TransactionID)
	c.lastPingIDReceived = &id

	var useCandidate UseCandidate
	if useCandidate.IsSet(req) {
		var nomination Nomination
		_ = nomination.GetFrom(req) // absent NOMINATION defaults to implicit value 1.
		if c.nomination.ObserveRemoteNomination(uint32(nomination)) {
			c.events.fireNominated(c)
		}
	}

	deltaAck := c.piggyback.consumeInbound(req, true, c.fieldTrials.PiggybackAcks)

	resp, err := c.buildBindingResponse(req, deltaAck)
	if err != nil {
		return errors.Wrap(err, "build binding response")
	}
	if receivingChanged {
		c.fireStateChange()
	}
	return c.sendSTUN(resp)
}

// verifyRequest checks an inbound request's USERNAME and integrity. Per
// RFC 8445 Section 7.2.2, the requester signs with the password it
// learned for the candidate it is checking -- this side's own
// (local) password -- so that is the key used to verify here, not
// c.remote.Password (which is the key this side signs its own outbound
// requests with, using the peer's password).
func (c *Connection) verifyRequest(req *stun.Message) error {
	var username stun.Username
	if err := username.GetFrom(req); err != nil {
		return errors.Wrap(err, "missing username")
	}
	want := c.local.Ufrag + ":" + c.remote.Ufrag
	if username.String() != want {
		return ErrAuthFailed
	}
	if req.Type == GoogPingRequest {
		return NewMessageIntegrity32(c.local.Password).Check(req)
	}
	integrity := stun.NewShortTermIntegrity(c.local.Password)
	return integrity.Check(req)
}

// checkRoleConflictInbound returns a non-nil RoleConflictError if req
// asserts the same role this side currently holds.
func (c *Connection) checkRoleConflictInbound(req *stun.Message) *RoleConflictError {
	var (
		controlling AttrControlling
		controlled  AttrControlled
	)
	switch {
	case controlling.GetFrom(req) == nil:
		if !c.controlling {
			return nil
		}
	case controlled.GetFrom(req) == nil:
		if c.controlling {
			return nil
		}
	default:
		return nil
	}
	return &RoleConflictError{LocalTieBreaker: c.tieBreaker}
}

func (c *Connection) sendRoleConflictResponse(req *stun.Message) error {
	resp := stun.New()
	errAttr := &stun.ErrorCodeAttribute{Code: CodeRoleConflict, Reason: []byte("Role Conflict")}
	if err := resp.Build(req, stun.NewType(stun.MethodBinding, stun.ClassErrorResponse),
		errAttr, stun.Fingerprint); err != nil {
		return errors.Wrap(err, "build role conflict response")
	}
	return c.sendSTUN(resp)
}

// sendAuthFailureResponse answers a request that failed verifyRequest with
// a STUN 401 error response instead of dropping it, so the peer can fail
// the check fast rather than retransmit into a black hole.
func (c *Connection) sendAuthFailureResponse(req *stun.Message) error {
	resp := stun.New()
	errAttr := &stun.ErrorCodeAttribute{Code: CodeUnauthorized, Reason: []byte("Unauthorized")}
	if err := resp.Build(req, stun.NewType(req.Type.Method, stun.ClassErrorResponse),
		errAttr, stun.Fingerprint); err != nil {
		return errors.Wrap(err, "build auth failure response")
	}
	return c.sendSTUN(resp)
}

// buildBindingResponse answers req with a matching success response. When
// deltaAck is non-nil, it is attached as GOOG_DELTA_ACK ahead of the
// integrity attribute so the acknowledgement itself is covered by the
// signature.
func (c *Connection) buildBindingResponse(req *stun.Message, deltaAck *uint64) (*stun.Message, error) {
	resp := stun.New()
	typ := stun.NewType(stun.MethodBinding, stun.ClassSuccessResponse)
	if req.Type == GoogPingRequest {
		typ = GoogPingResponse
	}
	mapped := &stun.XORMappedAddress{IP: c.remote.Addr.IP, Port: c.remote.Addr.Port}
	setters := []stun.Setter{req, typ, mapped}
	if deltaAck != nil {
		setters = append(setters, GoogDeltaAck(*deltaAck))
	}
	if req.Type == GoogPingRequest {
		setters = append(setters, NewMessageIntegrity32(c.remote.Password))
	} else {
		setters = append(setters, stun.NewShortTermIntegrity(c.remote.Password), stun.Fingerprint)
	}
	if err := resp.Build(setters...); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateState re-evaluates the receiving and write states from elapsed
// time alone, called periodically by the owning transport channel on its
// own timer rather than in response to any one packet.
func (c *Connection) UpdateState(now time.Time) {
	if c.pendingDeleteLocked() {
		return
	}
	receivingChanged := c.receiveState.Evaluate(now)
	before := c.writeState.State()
	c.evaluateWriteState(now)
	if receivingChanged || before != c.writeState.State() {
		c.fireStateChange()
	}
}

// SetGoogPingRemoteSupport records whether the remote peer has advertised
// GOOG_PING support, learned out-of-band (e.g. from a GOOG_MISC_INFO
// payload) or from a successful GOOG_PING round-trip.
func (c *Connection) SetGoogPingRemoteSupport(v bool) { c.googPing.setRemoteSupport(v) }

// ---------------------------------------------------------------------
// Piggyback / extension hook registration.
// ---------------------------------------------------------------------

func (c *Connection) SetDTLSPiggyback(filler PiggybackFiller, consumer PiggybackConsumer) {
	c.piggyback.dtlsFiller = filler
	c.piggyback.dtlsConsumer = consumer
}

func (c *Connection) SetDeltaHooks(consumer DeltaConsumer, ackConsumer DeltaAckConsumer) {
	c.piggyback.deltaConsumer = consumer
	c.piggyback.deltaAckConsumer = ackConsumer
}

func (c *Connection) SetNetworkInfoHooks(provider NetworkInfoProvider, observer NetworkInfoObserver) {
	c.piggyback.networkInfoProvider = provider
	c.piggyback.networkInfoObserver = observer
}

func (c *Connection) SetMiscInfoHooks(provider NetworkInfoProvider, observer NetworkInfoObserver) {
	c.piggyback.miscInfoProvider = provider
	c.piggyback.miscInfoObserver = observer
}
