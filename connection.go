package iceconn

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gortc/stun"
)

// PortSender is the capability a Connection needs from its owning Port:
// sending raw bytes to the remote candidate's address, and being told to
// finish destroying the connection. The owning Port is modeled as a weak
// handle that may be invalidated while a Connection operation is
// pending; Go has no weak pointers, so that is modeled here as the
// handle simply being released (set to nil) by Shutdown, and every
// method that needs it checking first -- the same shape
// `pending_delete() const { return !port_; }` uses in WebRTC's
// p2p::Connection.
type PortSender interface {
	SendTo(data []byte, addr Addr) (int, error)
	DestroyConnection(c *Connection)
}

// rateTrackerBucketSize and rateTrackerBucketCount give every Connection's
// send/receive RateTracker a 10-second sliding window, matching
// rtc_base/rate_tracker.h's default bucket layout.
const (
	rateTrackerBucketSize  = time.Second
	rateTrackerBucketCount = 10
)

// ConnectionOptions configures a new Connection.
type ConnectionOptions struct {
	ID          uint32
	Local       Candidate
	Remote      Candidate
	Controlling bool
	TieBreaker  uint64
	Generation  int

	Port  PortSender
	Now   time.Time
	Clock Clock
	Log   *zap.Logger

	FieldTrials IceFieldTrials
	Timeouts    ConnectionTimeouts
}

// Connection represents one directed candidate pair and the STUN
// connectivity checks run on it. It is touched only
// on the owning network sequence and is not safe for concurrent use --
// callers that receive external calls from other goroutines must
// serialize them onto one before calling into a Connection.
type Connection struct {
	id          uint32
	local       Candidate
	remote      Candidate
	controlling bool
	tieBreaker  uint64
	generation  int
	networkCost uint16

	port  PortSender
	clock Clock
	log   *zap.Logger

	fieldTrials IceFieldTrials

	writeState   *WriteStateTracker
	receiveState *ReceiveStateTracker
	nomination   NominationTracker
	pingHistory  *PingHistory
	requests     *StunRequestManager
	googPing     googPingCache
	piggyback    piggybackHooks
	events       eventPublisher

	rtt         simpleRTT
	rttEstimate *RttEstimator
	totalRTT    time.Duration

	sendRate           *RateTracker
	recvRate           *RateTracker
	totalBytesSent     int64
	totalBytesReceived int64

	connected bool
	pruned    bool
	selected  bool
	failed    bool
	state     PairState

	useCandidateAttr bool

	lastPingSent             time.Time
	lastPingReceived         time.Time
	lastDataReceived         time.Time
	lastPingResponseReceived time.Time
	lastSendData             time.Time
	lastPingIDReceived       *TransactionID

	numPingsSent int

	shutdown atomic.Bool

	roleConflict func(*RoleConflictError)
}

// NewConnection constructs a Connection. UDP candidates start connected;
// callers modeling TCP should set opts via UpdateLocalIceParameters /
// their own handshake gate before relying on Connected().
func NewConnection(opts ConnectionOptions) *Connection {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Now.IsZero() {
		opts.Now = opts.Clock.Now()
	}
	opts.Timeouts.applyDefaults()

	c := &Connection{
		id:               opts.ID,
		local:            opts.Local,
		remote:           opts.Remote,
		controlling:      opts.Controlling,
		tieBreaker:       opts.TieBreaker,
		generation:       opts.Generation,
		port:             opts.Port,
		clock:            opts.Clock,
		log:              opts.Log,
		fieldTrials:      opts.FieldTrials,
		writeState:       NewWriteStateTracker(opts.Now, opts.Timeouts.WriteState),
		receiveState:     NewReceiveStateTracker(opts.Now, opts.Timeouts.ReceivingTimeout),
		pingHistory:      NewPingHistory(opts.Timeouts.MaxPingsInHistory),
		rttEstimate:      NewRttEstimator(opts.Timeouts.RTTHalfLife),
		sendRate:         NewRateTracker(rateTrackerBucketSize, rateTrackerBucketCount),
		recvRate:         NewRateTracker(rateTrackerBucketSize, rateTrackerBucketCount),
		connected:        opts.Local.Addr.Proto == ProtoUDP,
		useCandidateAttr: true,
		state:            StateWaiting,
	}
	c.requests = NewStunRequestManager(StunRequestManagerOptions{
		Log:         opts.Log.Named("requests"),
		Clock:       opts.Clock,
		Send:        c.sendSTUN,
		RTOFloor:    opts.Timeouts.RTOFloor,
		RTOMax:      opts.Timeouts.RTOMax,
		MaxAttempts: opts.Timeouts.MaxAttempts,
		Callbacks: RequestCallbacks{
			Success:       c.onPingSuccess,
			ErrorResponse: c.onPingError,
			Timeout:       c.onPingTimeout,
		},
	})
	return c
}

// ---------------------------------------------------------------------
// Queries.
// ---------------------------------------------------------------------

func (c *Connection) ID() uint32                  { return c.id }
func (c *Connection) LocalCandidate() Candidate   { return c.local }
func (c *Connection) RemoteCandidate() Candidate  { return c.remote }
func (c *Connection) Generation() int             { return c.generation }
func (c *Connection) Controlling() bool           { return c.controlling }

// Priority returns the candidate pair priority, RFC 8445 Section 6.1.2.3.
func (c *Connection) Priority() uint64 {
	if c.controlling {
		return PairPriority(c.local.Priority, c.remote.Priority)
	}
	return PairPriority(c.remote.Priority, c.local.Priority)
}

func (c *Connection) WriteState() WriteState { return c.writeState.State() }
func (c *Connection) Writable() bool         { return c.writeState.State() == WriteWritable }
func (c *Connection) Receiving() bool        { return c.receiveState.Receiving() }
func (c *Connection) Connected() bool        { return c.connected }

// Weak reports whether this pair is currently considered a poor choice to
// keep around: not writable, or not receiving.
func (c *Connection) Weak() bool { return !c.Writable() || !c.Receiving() }

// Active reports whether pings are still being sent on this pair.
func (c *Connection) Active() bool { return !c.pruned && !c.pendingDeleteLocked() }

// PendingDelete reports whether Shutdown has released the owning port;
// once true, no further outbound sends are permitted.
func (c *Connection) PendingDelete() bool { return c.pendingDeleteLocked() }

func (c *Connection) pendingDeleteLocked() bool { return c.port == nil }

// Dead reports whether this pair can be safely destroyed: it has been
// pruned or timed out, and is no longer receiving.
func (c *Connection) Dead(now time.Time) bool {
	if c.pendingDeleteLocked() {
		return true
	}
	if c.state == StateFailed {
		return true
	}
	return c.pruned && !c.Receiving()
}

func (c *Connection) State() PairState { return c.state }
func (c *Connection) RTT() time.Duration { return c.rtt.value }
func (c *Connection) RTTSamples() int    { return c.rtt.samples }
func (c *Connection) TotalRoundTripTime() time.Duration { return c.totalRTT }
func (c *Connection) CurrentRoundTripTime() time.Duration {
	if c.rtt.samples == 0 {
		return 0
	}
	return c.rtt.value
}
func (c *Connection) Nominated() bool { return c.nomination.Nominated() }
func (c *Connection) Selected() bool  { return c.selected }
func (c *Connection) SetSelected(v bool) { c.selected = v }
func (c *Connection) Pruned() bool    { return c.pruned }
func (c *Connection) NumPingsSent() int { return c.numPingsSent }
func (c *Connection) LastPingSent() time.Time             { return c.lastPingSent }
func (c *Connection) LastPingReceived() time.Time         { return c.lastPingReceived }
func (c *Connection) LastDataReceived() time.Time         { return c.lastDataReceived }
func (c *Connection) LastPingResponseReceived() time.Time { return c.lastPingResponseReceived }
func (c *Connection) LastSendData() time.Time             { return c.lastSendData }
func (c *Connection) ReceivingUnchangedSince() time.Time  { return c.receiveState.UnchangedSince() }
func (c *Connection) LastPingIDReceived() *TransactionID  { return c.lastPingIDReceived }
func (c *Connection) UseCandidateAttr() bool               { return c.useCandidateAttr }
func (c *Connection) RemoteNomination() uint32             { return c.nomination.RemoteNomination() }
func (c *Connection) GetRttEstimate() *RttEstimator        { return c.rttEstimate }

// Stats is a point-in-time snapshot of the fields a transport channel
// typically wants for logging or pair selection, bundled into one struct
// instead of N accessors`).
type ConnectionStats struct {
	ID                       uint32
	WriteState               WriteState
	Receiving                bool
	Nominated                bool
	Connected                bool
	RTT                      time.Duration
	RTTSamples               int
	TotalRoundTripTime       time.Duration
	NumPingsSent             int
	LastPingSent             time.Time
	LastPingResponseReceived time.Time
	TotalBytesSent           int64
	TotalBytesReceived       int64
	SendRateBytesPerSecond   float64
	RecvRateBytesPerSecond   float64
}

// Stats returns a snapshot of this connection's observable state, as of
// now.
func (c *Connection) Stats(now time.Time) ConnectionStats {
	return ConnectionStats{
		ID:                       c.id,
		WriteState:               c.writeState.State(),
		Receiving:                c.receiveState.Receiving(),
		Nominated:                c.nomination.Nominated(),
		Connected:                c.connected,
		RTT:                      c.rtt.value,
		RTTSamples:               c.rtt.samples,
		TotalRoundTripTime:       c.totalRTT,
		NumPingsSent:             c.numPingsSent,
		LastPingSent:             c.lastPingSent,
		LastPingResponseReceived: c.lastPingResponseReceived,
		TotalBytesSent:           c.totalBytesSent,
		TotalBytesReceived:       c.totalBytesReceived,
		SendRateBytesPerSecond:   c.sendRate.Rate(now),
		RecvRateBytesPerSecond:   c.recvRate.Rate(now),
	}
}

// ---------------------------------------------------------------------
// Commands.
// ---------------------------------------------------------------------

// SetIceFieldTrials replaces the experimental-flag set.
func (c *Connection) SetIceFieldTrials(t IceFieldTrials) { c.fieldTrials = t }

// SetReceivingTimeout replaces the receiving timeout.
func (c *Connection) SetReceivingTimeout(d time.Duration) { c.receiveState.SetTimeout(d) }

// SetUnwritableTimeout, SetUnwritableMinChecks, SetInactiveTimeout adjust
// WriteStateTracker's thresholds in place.
func (c *Connection) SetUnwritableTimeout(d time.Duration) {
	t := c.writeState.Timeouts()
	t.UnwritableTimeout = d
	c.writeState.SetTimeouts(t)
}

func (c *Connection) SetUnwritableMinChecks(n int) {
	t := c.writeState.Timeouts()
	t.UnwritableMinChecks = n
	c.writeState.SetTimeouts(t)
}

func (c *Connection) SetInactiveTimeout(d time.Duration) {
	t := c.writeState.Timeouts()
	t.InactiveTimeout = d
	c.writeState.SetTimeouts(t)
}

// SetUseCandidateAttr enables or disables sending USE-CANDIDATE, forced
// false by a caller dealing with an ice-lite peer until this pair becomes
// the best one.
func (c *Connection) SetUseCandidateAttr(v bool) { c.useCandidateAttr = v }

// SetNomination sets the controlling agent's nomination intent.
func (c *Connection) SetNomination(value uint32) { c.nomination.SetNomination(value) }

// SetRoleConflictHandler registers a callback invoked when an inbound
// request signals a role conflict this agent cannot resolve by switching
// role.
func (c *Connection) SetRoleConflictHandler(f func(*RoleConflictError)) { c.roleConflict = f }

// SetLocalCandidateNetworkCost updates the local candidate's network cost,
// called by the owning Port when it changes.
func (c *Connection) SetLocalCandidateNetworkCost(cost uint16) {
	c.networkCost = cost
	c.local.NetworkCost = cost
}

// ComputeNetworkCost returns this pair's network cost, the max of both
// candidates' costs (the pair is only as good as its worse side).
func (c *Connection) ComputeNetworkCost() uint16 {
	if c.local.NetworkCost > c.remote.NetworkCost {
		return c.local.NetworkCost
	}
	return c.remote.NetworkCost
}

// UpdateLocalIceParameters updates the local candidate's ufrag/password
// (e.g. after an ICE restart negotiates new ones).
func (c *Connection) UpdateLocalIceParameters(ufrag, password string) {
	c.local.Ufrag = ufrag
	c.local.Password = password
}

// MaybeSetRemoteIceParametersAndGeneration updates the remote candidate's
// ufrag/password/generation if ufrag matches and they are not already
// set, leaving an already-learned password or generation untouched.
func (c *Connection) MaybeSetRemoteIceParametersAndGeneration(ufrag, password string, generation int) {
	if c.remote.Ufrag != ufrag {
		return
	}
	if c.remote.Password == "" {
		c.remote.Password = password
	}
	c.generation = generation
}

// MaybeUpdatePeerReflexiveCandidate upgrades the remote candidate to
// candidate if it is currently believed peer-reflexive and candidate is
// equivalent to it modulo type.
func (c *Connection) MaybeUpdatePeerReflexiveCandidate(candidate Candidate) {
	if c.remote.Type != CandidatePeerReflexive {
		return
	}
	if !c.remote.EqualExceptType(candidate) {
		return
	}
	c.remote = candidate
	c.fireStateChange()
}

// MaybeUpdateLocalCandidate upgrades the local candidate if a response's
// XOR-MAPPED-ADDRESS revealed a new reflexive address. upgraded is the candidate the caller (usually the owning
// transport channel, which controls candidate allocation) has decided to
// install; Connection only decides whether an update is warranted and
// applies it.
func (c *Connection) MaybeUpdateLocalCandidate(mappedAddr Addr, upgraded Candidate) bool {
	if c.local.Addr.Equal(mappedAddr) {
		return false
	}
	c.local = upgraded
	c.fireStateChange()
	return true
}

// Prune stops scheduling pings on this pair without closing it; inbound
// packets are still accepted.
func (c *Connection) Prune() { c.pruned = true }

// FailAndPrune prunes the pair and marks it StateFailed.
func (c *Connection) FailAndPrune() {
	c.pruned = true
	c.failed = true
	c.setState(StateFailed)
}

// ForgetLearnedState resets write/receive state and cancels in-flight
// requests without touching Connected, RemoteCandidate or emitting a
// state-change event.
func (c *Connection) ForgetLearnedState() {
	c.requests.CancelAll()
	c.writeState.Evaluate(c.clock.Now(), 0, time.Time{})
	c.receiveState = NewReceiveStateTracker(c.clock.Now(), c.receiveState.timeout)
	c.rtt = simpleRTT{}
	c.rttEstimate = NewRttEstimator(c.rttEstimate.halfLife)
	c.pingHistory.Clear()
	c.lastPingResponseReceived = time.Time{}
}

// Destroy asks the owning Port to finalize this connection's deallocation
// after Shutdown publishes SignalDestroyed. When it returns, the
// connection must not be used again.
func (c *Connection) Destroy() {
	port := c.port
	if !c.Shutdown() {
		return
	}
	if port != nil {
		port.DestroyConnection(c)
	}
}

// Shutdown is idempotent: the first call cancels in-flight requests,
// releases the owning port handle, publishes SignalDestroyed and returns
// true; every subsequent call returns false. Once it returns true, PendingDelete reports
// true and every other Connection operation that touches the network
// becomes a no-op.
func (c *Connection) Shutdown() bool {
	if !c.shutdown.CompareAndSwap(false, true) {
		return false
	}
	c.requests.CancelAll()
	c.port = nil
	c.events.fireDestroyed(c)
	return true
}

// ---------------------------------------------------------------------
// Event subscription.
// ---------------------------------------------------------------------

func (c *Connection) SubscribeStateChange(f StateChangeFunc) { c.events.onStateChange(f) }
func (c *Connection) SubscribeNominated(f NominatedFunc)     { c.events.onNominated(f) }
func (c *Connection) SubscribeReadyToSend(f ReadyToSendFunc) { c.events.onReadyToSend(f) }
func (c *Connection) SubscribeDestroyed(f DestroyedFunc)     { c.events.onDestroyed(f) }

func (c *Connection) fireStateChange() { c.events.fireStateChange(c) }

func (c *Connection) setState(s PairState) {
	if c.state == s {
		return
	}
	c.state = s
	c.fireStateChange()
}

// ---------------------------------------------------------------------
// Data plane.
// ---------------------------------------------------------------------

// OnReadyToSend notifies observers the underlying socket can accept
// writes again.
func (c *Connection) OnReadyToSend() { c.events.fireReadyToSend(c) }

// Send transmits application data on this pair. It fails with
// ErrPendingDelete once Shutdown has run.
func (c *Connection) Send(now time.Time, data []byte) (int, error) {
	if c.pendingDeleteLocked() {
		return 0, ErrPendingDelete
	}
	c.lastSendData = now
	n, err := c.port.SendTo(data, c.remote.Addr)
	if err != nil {
		return n, errors.Wrap(err, "send")
	}
	c.sendRate.Update(int64(n), now)
	c.totalBytesSent += int64(n)
	return n, nil
}

func (c *Connection) sendSTUN(m *stun.Message) error {
	if c.pendingDeleteLocked() {
		return ErrPendingDelete
	}
	n, err := c.port.SendTo(m.Raw, c.remote.Addr)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	c.sendRate.Update(int64(n), now)
	c.totalBytesSent += int64(n)
	return nil
}

// OnReadPacket demultiplexes an inbound packet: if it is a STUN message
// matching an in-flight transaction, it resolves that transaction; if it
// is a STUN binding/GOOG_PING request, it is answered; otherwise it is
// application data.
func (c *Connection) OnReadPacket(now time.Time, data []byte) error {
	if c.pendingDeleteLocked() {
		return nil
	}
	c.recvRate.Update(int64(len(data)), now)
	c.totalBytesReceived += int64(len(data))

	if !stun.IsMessage(data) {
		c.lastDataReceived = now
		if c.receiveState.OnReceived(now) {
			c.fireStateChange()
		}
		return nil
	}
	m := stun.New()
	if _, err := m.Write(data); err != nil {
		return errors.Wrap(err, "parse stun message")
	}
	if c.requests.HandleSTUN(now, m) {
		c.piggyback.consumeInbound(m, false, false)
		return nil
	}
	switch m.Type.Class {
	case stun.ClassRequest:
		return c.HandleStunBindingOrGoogPingRequest(now, m)
	default:
		// Unmatched response/indication: silently ignored.
		return nil
	}
}
